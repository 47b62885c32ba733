package handler

import (
	"github.com/labstack/echo/v4"

	"tradeup/internal/domain/entity"
	"tradeup/internal/usecase"
	"tradeup/pkg/response"
)

type OfferHandler struct {
	offerEngine    *usecase.OfferEngine
	conversations  *usecase.ConversationStore
	productUseCase *usecase.ProductUseCase
}

func NewOfferHandler(
	offerEngine *usecase.OfferEngine,
	conversations *usecase.ConversationStore,
	productUseCase *usecase.ProductUseCase,
) *OfferHandler {
	return &OfferHandler{
		offerEngine:    offerEngine,
		conversations:  conversations,
		productUseCase: productUseCase,
	}
}

type createOfferRequest struct {
	OfferID        string `json:"offer_id,omitempty"`
	ConversationID string `json:"conversation_id" validate:"required"`
	OfferPrice     int64  `json:"offer_price" validate:"required,gt=0"`
	Note           string `json:"note,omitempty" validate:"max=500"`
}

type respondOfferRequest struct {
	Decision     string `json:"decision" validate:"required,oneof=ACCEPTED DECLINED COUNTERED REJECTED"`
	CounterPrice int64  `json:"counter_price,omitempty" validate:"omitempty,gt=0"`
	CounterNote  string `json:"counter_note,omitempty" validate:"max=500"`
}

// CreateOffer makes a price offer on the conversation's product to the
// other participant. The listing price caps the offer.
func (h *OfferHandler) CreateOffer(c echo.Context) error {
	var req createOfferRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)
	ctx := c.Request().Context()

	conversation, err := h.conversations.Get(ctx, req.ConversationID, userID)
	if err != nil {
		return response.Error(c, err)
	}

	product, err := h.productUseCase.GetProduct(ctx, conversation.ProductID)
	if err != nil {
		return response.Error(c, err)
	}

	offer, err := h.offerEngine.CreateOffer(ctx, usecase.CreateOfferInput{
		OfferID:        req.OfferID,
		ConversationID: conversation.ID,
		ProductID:      product.ID,
		ProductTitle:   product.Title,
		SenderID:       userID,
		ReceiverID:     conversation.Counterpart(userID),
		OriginalPrice:  product.Price,
		OfferPrice:     req.OfferPrice,
		Note:           req.Note,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, offer)
}

func (h *OfferHandler) RespondToOffer(c echo.Context) error {
	var req respondOfferRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	result, err := h.offerEngine.Respond(c.Request().Context(), usecase.RespondInput{
		OfferID:      c.Param("id"),
		Decision:     entity.OfferStatus(req.Decision),
		CounterPrice: req.CounterPrice,
		CounterNote:  req.CounterNote,
		ResponderID:  userID,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, result)
}

// ListOffers returns the caller's offers, newest first. role=sent|received
// picks one side and product_id narrows to one listing.
func (h *OfferHandler) ListOffers(c echo.Context) error {
	userID := c.Get("uid").(string)

	offers, err := h.offerEngine.List(c.Request().Context(), userID,
		usecase.OfferRole(c.QueryParam("role")), c.QueryParam("product_id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, offers)
}

func (h *OfferHandler) GetOffer(c echo.Context) error {
	userID := c.Get("uid").(string)

	offer, err := h.offerEngine.Get(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, offer)
}

// GetOfferChain returns the negotiation the offer belongs to, oldest first.
func (h *OfferHandler) GetOfferChain(c echo.Context) error {
	userID := c.Get("uid").(string)
	ctx := c.Request().Context()

	if _, err := h.offerEngine.Get(ctx, c.Param("id"), userID); err != nil {
		return response.Error(c, err)
	}

	chain, err := h.offerEngine.Chain(ctx, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, chain)
}
