package handler

import (
	"github.com/labstack/echo/v4"

	"tradeup/internal/usecase"
	"tradeup/pkg/response"
)

type BlockHandler struct {
	guard *usecase.BlockingGuard
}

func NewBlockHandler(guard *usecase.BlockingGuard) *BlockHandler {
	return &BlockHandler{guard: guard}
}

type blockRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
}

// BlockUser blocks :userId for the caller. An optional conversation_id in
// the body also flags that conversation.
func (h *BlockHandler) BlockUser(c echo.Context) error {
	var req blockRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	if err := h.guard.Block(c.Request().Context(), userID, c.Param("userId"), req.ConversationID); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"message": "User blocked"})
}

// UnblockUser lifts the caller's block on :userId. The conversation_id query
// parameter clears the blocked flag on that conversation too.
func (h *BlockHandler) UnblockUser(c echo.Context) error {
	userID := c.Get("uid").(string)

	if err := h.guard.Unblock(c.Request().Context(), userID, c.Param("userId"), c.QueryParam("conversation_id")); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"message": "User unblocked"})
}

func (h *BlockHandler) GetBlockedUsers(c echo.Context) error {
	userID := c.Get("uid").(string)

	blocks, err := h.guard.ListBlocked(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, blocks)
}
