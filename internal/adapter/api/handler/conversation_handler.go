package handler

import (
	"github.com/labstack/echo/v4"

	"tradeup/internal/domain/entity"
	"tradeup/internal/usecase"
	"tradeup/pkg/errors"
	"tradeup/pkg/response"
	"tradeup/pkg/utils"
)

type ConversationHandler struct {
	conversations  *usecase.ConversationStore
	productUseCase *usecase.ProductUseCase
}

func NewConversationHandler(conversations *usecase.ConversationStore, productUseCase *usecase.ProductUseCase) *ConversationHandler {
	return &ConversationHandler{
		conversations:  conversations,
		productUseCase: productUseCase,
	}
}

type createConversationRequest struct {
	ProductID string `json:"product_id" validate:"required"`
}

type reportRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// CreateConversation opens (or returns) the caller's conversation with the
// seller of a product.
func (h *ConversationHandler) CreateConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	product, err := h.productUseCase.GetProduct(c.Request().Context(), req.ProductID)
	if err != nil {
		return response.Error(c, err)
	}
	if product.SellerID == userID {
		return response.Error(c, errors.BadRequest("You cannot start a conversation about your own product", nil))
	}

	conversation, err := h.conversations.CreateOrGet(c.Request().Context(), usecase.CreateConversationInput{
		ProductID:    product.ID,
		BuyerID:      userID,
		SellerID:     product.SellerID,
		ProductTitle: product.Title,
		ProductImage: product.ImageURL,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, conversation)
}

// GetUserConversations lists the caller's conversations, newest activity
// first.
func (h *ConversationHandler) GetUserConversations(c echo.Context) error {
	userID := c.Get("uid").(string)
	params := utils.GetPaginationParams(c)

	// one extra row tells whether another page exists
	conversations, err := h.conversations.ListForUser(c.Request().Context(), userID, params.Offset+params.PageSize+1)
	if err != nil {
		return response.Error(c, err)
	}

	total := int64(len(conversations))
	page := []*entity.Conversation{}
	if params.Offset < len(conversations) {
		end := params.Offset + params.PageSize
		if end > len(conversations) {
			end = len(conversations)
		}
		page = conversations[params.Offset:end]
	}

	return response.SuccessPaginated(c, page, total, params.PageSize, params.Offset)
}

func (h *ConversationHandler) GetConversation(c echo.Context) error {
	userID := c.Get("uid").(string)

	conversation, err := h.conversations.Get(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}

func (h *ConversationHandler) DeleteConversation(c echo.Context) error {
	userID := c.Get("uid").(string)

	if err := h.conversations.Delete(c.Request().Context(), c.Param("id"), userID); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"message": "Conversation deleted"})
}

func (h *ConversationHandler) ReportConversation(c echo.Context) error {
	var req reportRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	if err := h.conversations.Report(c.Request().Context(), c.Param("id"), userID, req.Reason); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"message": "Conversation reported"})
}
