package handler

import (
	ws "tradeup/internal/infrastructure/websocket"
	"tradeup/internal/usecase"
)

var (
	conversationHandler *ConversationHandler
	messageHandler      *MessageHandler
	offerHandler        *OfferHandler
	blockHandler        *BlockHandler
	webSocketHandler    *WebSocketHandler
	healthHandler       *HealthHandler
)

// UseCases groups what the HTTP layer drives.
type UseCases struct {
	Conversations *usecase.ConversationStore
	Messages      *usecase.MessageSynchronizer
	Lifecycle     *usecase.MessageLifecycleManager
	Offers        *usecase.OfferEngine
	Blocks        *usecase.BlockingGuard
	Products      *usecase.ProductUseCase
}

func Setup(uc UseCases, wsManager *ws.Manager, allowedOrigins []string, healthChecks map[string]Pinger) {
	conversationHandler = NewConversationHandler(uc.Conversations, uc.Products)
	messageHandler = NewMessageHandler(uc.Conversations, uc.Messages, uc.Lifecycle)
	offerHandler = NewOfferHandler(uc.Offers, uc.Conversations, uc.Products)
	blockHandler = NewBlockHandler(uc.Blocks)
	webSocketHandler = NewWebSocketHandler(wsManager, allowedOrigins)
	healthHandler = NewHealthHandler(healthChecks)
}

func GetConversationHandler() *ConversationHandler {
	return conversationHandler
}

func GetMessageHandler() *MessageHandler {
	return messageHandler
}

func GetOfferHandler() *OfferHandler {
	return offerHandler
}

func GetBlockHandler() *BlockHandler {
	return blockHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return webSocketHandler
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}
