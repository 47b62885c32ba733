package handler

import (
	"strings"

	"github.com/labstack/echo/v4"

	"tradeup/internal/domain/entity"
	"tradeup/internal/usecase"
	"tradeup/pkg/errors"
	"tradeup/pkg/response"
)

const maxImageSize = 10 << 20

type MessageHandler struct {
	conversations *usecase.ConversationStore
	sync          *usecase.MessageSynchronizer
	lifecycle     *usecase.MessageLifecycleManager
}

func NewMessageHandler(
	conversations *usecase.ConversationStore,
	sync *usecase.MessageSynchronizer,
	lifecycle *usecase.MessageLifecycleManager,
) *MessageHandler {
	return &MessageHandler{
		conversations: conversations,
		sync:          sync,
		lifecycle:     lifecycle,
	}
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type deleteMessagesRequest struct {
	MessageIDs []string `json:"message_ids" validate:"required,min=1,max=100,dive,required"`
	Scope      string   `json:"scope" validate:"required,oneof=me everyone"`
}

// counterpart resolves the other participant of the conversation for the
// caller.
func (h *MessageHandler) counterpart(c echo.Context, conversationID, userID string) (string, error) {
	conversation, err := h.conversations.Get(c.Request().Context(), conversationID, userID)
	if err != nil {
		return "", err
	}
	return conversation.Counterpart(userID), nil
}

func (h *MessageHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)
	conversationID := c.Param("id")

	receiverID, err := h.counterpart(c, conversationID, userID)
	if err != nil {
		return response.Error(c, err)
	}

	message, err := h.sync.Send(c.Request().Context(), usecase.SendMessageInput{
		ConversationID: conversationID,
		SenderID:       userID,
		ReceiverID:     receiverID,
		Content:        req.Content,
		Type:           entity.MessageTypeText,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// SendImage accepts a multipart upload in the "image" field with an
// optional "caption".
func (h *MessageHandler) SendImage(c echo.Context) error {
	userID := c.Get("uid").(string)
	conversationID := c.Param("id")

	file, err := c.FormFile("image")
	if err != nil {
		return response.Error(c, errors.BadRequest("image file is required", err))
	}
	if file.Size > maxImageSize {
		return response.Error(c, errors.BadRequest("image must be at most 10MB", nil))
	}
	contentType := file.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return response.Error(c, errors.BadRequest("only image uploads are allowed", nil))
	}

	src, err := file.Open()
	if err != nil {
		return response.Error(c, errors.Internal("failed to read upload", err))
	}
	defer src.Close()

	receiverID, err := h.counterpart(c, conversationID, userID)
	if err != nil {
		return response.Error(c, err)
	}

	message, err := h.sync.SendImage(c.Request().Context(), usecase.SendImageInput{
		ConversationID: conversationID,
		SenderID:       userID,
		ReceiverID:     receiverID,
		File:           src,
		ContentType:    contentType,
		FileName:       file.Filename,
		Caption:        c.FormValue("caption"),
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// GetMessages returns the caller's ordered view of the conversation.
func (h *MessageHandler) GetMessages(c echo.Context) error {
	userID := c.Get("uid").(string)

	timeline, err := h.sync.History(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, timeline)
}

func (h *MessageHandler) MarkAsRead(c echo.Context) error {
	userID := c.Get("uid").(string)

	count, err := h.sync.MarkRead(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]int{"marked": count})
}

// DeleteMessage deletes one message for the caller (scope=me, the default)
// or for both participants (scope=everyone).
func (h *MessageHandler) DeleteMessage(c echo.Context) error {
	userID := c.Get("uid").(string)
	messageID := c.Param("id")

	var err error
	switch c.QueryParam("scope") {
	case "", "me":
		err = h.lifecycle.DeleteForMe(c.Request().Context(), messageID, userID)
	case "everyone":
		err = h.lifecycle.DeleteForEveryone(c.Request().Context(), messageID, userID)
	default:
		err = errors.BadRequest("scope must be one of: me everyone", nil)
	}
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"message": "Message deleted"})
}

func (h *MessageHandler) DeleteMessages(c echo.Context) error {
	var req deleteMessagesRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	result, err := h.lifecycle.DeleteMany(c.Request().Context(), req.MessageIDs, userID, req.Scope == "everyone")
	if err != nil {
		return response.ErrorWithDetails(c, err, result)
	}

	return response.Success(c, result)
}

func (h *MessageHandler) ReportMessage(c echo.Context) error {
	var req reportRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	if err := h.lifecycle.Report(c.Request().Context(), c.Param("id"), userID, req.Reason); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"message": "Message reported"})
}
