package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeup/internal/adapter/api"
	"tradeup/internal/adapter/api/handler"
	"tradeup/internal/adapter/api/middleware"
	"tradeup/internal/adapter/api/router"
	memstore "tradeup/internal/adapter/repository"
	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/service"
	"tradeup/internal/infrastructure/ratelimit"
	ws "tradeup/internal/infrastructure/websocket"
	"tradeup/internal/usecase"
)

// tokens maps bearer tokens straight to uids.
type tokens map[string]string

func (t tokens) VerifyToken(ctx context.Context, token string) (string, error) {
	if uid, ok := t[token]; ok {
		return uid, nil
	}
	return "", stderrors.New("invalid token")
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

type server struct {
	e     *echo.Echo
	store *memstore.MemoryStore
}

func newServer(t *testing.T) *server {
	t.Helper()
	store := memstore.NewMemoryStore()
	store.PutProduct(&entity.Product{ID: "p1", SellerID: "seller", Title: "Film camera", Price: 500000, Status: entity.ProductStatusActive})
	store.PutUser(&entity.User{ID: "buyer", FullName: "Bao"})
	store.PutUser(&entity.User{ID: "seller", FullName: "Sang"})

	conversationRepo := memstore.NewMemoryConversationRepository(store)
	messageRepo := memstore.NewMemoryMessageRepository(store)
	hiddenRepo := memstore.NewMemoryHiddenMessageRepository(store)
	timeout := time.Second

	conversations := usecase.NewConversationStore(conversationRepo, messageRepo, nil, nil, timeout)
	guard := usecase.NewBlockingGuard(memstore.NewMemoryBlockRepository(store), conversationRepo, timeout)
	sync := usecase.NewMessageSynchronizer(messageRepo, hiddenRepo, conversations, guard, nil, nil, timeout)
	lifecycle := usecase.NewMessageLifecycleManager(messageRepo, hiddenRepo, nil, nil, time.Hour, timeout)
	products := usecase.NewProductUseCase(memstore.NewMemoryProductRepository(store), timeout)
	limiter := ratelimit.NewRateLimiterWithPolicies(map[string]ratelimit.Policy{
		ratelimit.ActionCreateChat:  {Every: time.Hour, Burst: 3},
		ratelimit.ActionSendMessage: {Every: time.Second, Burst: 100},
		ratelimit.ActionCreateOffer: {Every: time.Second, Burst: 100},
	}, time.Hour)
	wsManager := ws.NewManager(sync, nil, limiter)
	offers := usecase.NewOfferEngine(
		memstore.NewMemoryOfferRepository(store),
		memstore.NewMemoryUserRepository(store),
		sync, guard, usecase.FanOutDispatcher{wsManager},
		[]service.AcceptanceHandler{products}, nil, timeout, 0,
	)

	handler.Setup(handler.UseCases{
		Conversations: conversations,
		Messages:      sync,
		Lifecycle:     lifecycle,
		Offers:        offers,
		Blocks:        guard,
		Products:      products,
	}, wsManager, nil, map[string]handler.Pinger{
		"store": handler.PingFunc(func(ctx context.Context) error { return nil }),
	})

	e := echo.New()
	e.Validator = api.NewValidator()
	auth := middleware.NewAuthMiddleware(tokens{"buyer-token": "buyer", "seller-token": "seller", "eve-token": "eve"})
	router.Setup(e, auth, limiter, prometheus.NewRegistry())

	return &server{e: e, store: store}
}

func (s *server) do(t *testing.T, method, path, user string, body interface{}) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+user+"-token")
	}
	return s.serve(t, req)
}

func (s *server) serve(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func (s *server) openConversation(t *testing.T) string {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/v1/conversations", "buyer", map[string]string{"product_id": "p1"})
	require.Equal(t, http.StatusCreated, code)
	var conv entity.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &conv))
	return conv.ID
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	s := newServer(t)

	code, env := s.do(t, http.MethodGet, "/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	code, _ = s.do(t, http.MethodGet, "/v1/conversations", "mallory", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestCreateConversationIsIdempotent(t *testing.T) {
	s := newServer(t)

	first := s.openConversation(t)
	second := s.openConversation(t)
	assert.Equal(t, first, second)

	code, env := s.do(t, http.MethodGet, "/v1/conversations/"+first, "seller", nil)
	require.Equal(t, http.StatusOK, code)
	conv := decode[entity.Conversation](t, env.Data)
	assert.Equal(t, "buyer", conv.BuyerID)
	assert.Equal(t, "seller", conv.SellerID)
	assert.Equal(t, "Film camera", conv.ProductTitle)
}

func TestSellerCannotOpenConversationOnOwnProduct(t *testing.T) {
	s := newServer(t)

	code, env := s.do(t, http.MethodPost, "/v1/conversations", "seller", map[string]string{"product_id": "p1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "BAD_REQUEST", env.Error.Code)
}

func TestCreateConversationValidatesBody(t *testing.T) {
	s := newServer(t)

	code, env := s.do(t, http.MethodPost, "/v1/conversations", "buyer", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestCreateConversationIsRateLimited(t *testing.T) {
	s := newServer(t)

	for i := 0; i < 3; i++ {
		s.openConversation(t)
	}
	code, env := s.do(t, http.MethodPost, "/v1/conversations", "buyer", map[string]string{"product_id": "p1"})
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "TOO_MANY_REQUESTS", env.Error.Code)
}

func TestOutsiderCannotReadConversation(t *testing.T) {
	s := newServer(t)
	id := s.openConversation(t)

	code, env := s.do(t, http.MethodGet, "/v1/conversations/"+id, "eve", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	code, _ = s.do(t, http.MethodGet, "/v1/conversations/"+id+"/messages", "eve", nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestSendMessageAndReadTimeline(t *testing.T) {
	s := newServer(t)
	id := s.openConversation(t)

	code, env := s.do(t, http.MethodPost, "/v1/conversations/"+id+"/messages", "buyer", map[string]string{"content": "Is it still available?"})
	require.Equal(t, http.StatusCreated, code)
	sent := decode[entity.Message](t, env.Data)
	assert.Equal(t, "seller", sent.ReceiverID)

	code, env = s.do(t, http.MethodGet, "/v1/conversations/"+id+"/messages", "seller", nil)
	require.Equal(t, http.StatusOK, code)
	timeline := decode[usecase.Timeline](t, env.Data)
	require.Len(t, timeline.Messages, 1)
	assert.Equal(t, "Is it still available?", timeline.Messages[0].Content)

	code, env = s.do(t, http.MethodPut, "/v1/conversations/"+id+"/read", "seller", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]int{"marked": 1}, decode[map[string]int](t, env.Data))

	code, env = s.do(t, http.MethodGet, "/v1/conversations", "seller", nil)
	require.Equal(t, http.StatusOK, code)
	page := decode[struct {
		Items []entity.Conversation `json:"items"`
		Total int64                 `json:"total"`
	}](t, env.Data)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Is it still available?", page.Items[0].LastMessage)
}

func TestSendImageRequiresImageUpload(t *testing.T) {
	s := newServer(t)
	id := s.openConversation(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("caption", "front"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/conversations/"+id+"/images", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set(echo.HeaderAuthorization, "Bearer buyer-token")
	code, env := s.serve(t, req)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "BAD_REQUEST", env.Error.Code)
}

func TestBlockedUserCannotSend(t *testing.T) {
	s := newServer(t)
	id := s.openConversation(t)

	code, _ := s.do(t, http.MethodPost, "/v1/blocks/seller", "buyer", map[string]string{"conversation_id": id})
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(t, http.MethodPost, "/v1/conversations/"+id+"/messages", "seller", map[string]string{"content": "hello?"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "BLOCKED", env.Error.Code)

	code, env = s.do(t, http.MethodGet, "/v1/blocks", "buyer", nil)
	require.Equal(t, http.StatusOK, code)
	blocks := decode[[]entity.BlockRelation](t, env.Data)
	require.Len(t, blocks, 1)
	assert.Equal(t, "seller", blocks[0].BlockedUserID)

	code, _ = s.do(t, http.MethodDelete, "/v1/blocks/seller?conversation_id="+id, "buyer", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodPost, "/v1/conversations/"+id+"/messages", "seller", map[string]string{"content": "hello?"})
	assert.Equal(t, http.StatusCreated, code)
}

func TestBlockCannotFlagForeignConversation(t *testing.T) {
	s := newServer(t)
	id := s.openConversation(t)

	code, env := s.do(t, http.MethodPost, "/v1/blocks/buyer", "eve", map[string]string{"conversation_id": id})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	_, env = s.do(t, http.MethodGet, "/v1/conversations/"+id, "buyer", nil)
	assert.Empty(t, decode[entity.Conversation](t, env.Data).BlockedUsers)
}

func TestOfferNegotiation(t *testing.T) {
	s := newServer(t)
	id := s.openConversation(t)

	code, env := s.do(t, http.MethodPost, "/v1/offers", "buyer", map[string]interface{}{"conversation_id": id, "offer_price": 600000})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_PRICE", env.Error.Code)

	code, env = s.do(t, http.MethodPost, "/v1/offers", "buyer", map[string]interface{}{"conversation_id": id, "offer_price": 450000, "note": "cash today"})
	require.Equal(t, http.StatusCreated, code)
	offer := decode[entity.Offer](t, env.Data)
	assert.Equal(t, "seller", offer.ReceiverID)
	assert.Equal(t, int64(500000), offer.OriginalPrice)
	assert.Equal(t, entity.OfferStatusPending, offer.Status)

	code, env = s.do(t, http.MethodPost, "/v1/offers/"+offer.ID+"/respond", "buyer", map[string]interface{}{"decision": "ACCEPTED"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	code, env = s.do(t, http.MethodPost, "/v1/offers/"+offer.ID+"/respond", "seller", map[string]interface{}{"decision": "COUNTERED", "counter_price": 480000})
	require.Equal(t, http.StatusOK, code)
	result := decode[usecase.RespondResult](t, env.Data)
	require.NotNil(t, result.Counter)
	assert.Equal(t, entity.OfferStatusCountered, result.Offer.Status)
	assert.Equal(t, "buyer", result.Counter.ReceiverID)

	code, env = s.do(t, http.MethodPost, "/v1/offers/"+result.Counter.ID+"/respond", "buyer", map[string]interface{}{"decision": "ACCEPTED"})
	require.Equal(t, http.StatusOK, code)
	accepted := decode[usecase.RespondResult](t, env.Data)
	assert.Equal(t, entity.OfferStatusAccepted, accepted.Offer.Status)

	code, env = s.do(t, http.MethodGet, "/v1/offers/"+result.Counter.ID+"/chain", "seller", nil)
	require.Equal(t, http.StatusOK, code)
	chain := decode[[]entity.Offer](t, env.Data)
	require.Len(t, chain, 2)
	assert.Equal(t, offer.ID, chain[0].ID)

	code, _ = s.do(t, http.MethodGet, "/v1/offers/"+offer.ID+"/chain", "eve", nil)
	assert.Equal(t, http.StatusForbidden, code)

	product, err := memstore.NewMemoryProductRepository(s.store).GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, product.Available())
}

func TestListOffersAndPendingConflict(t *testing.T) {
	s := newServer(t)
	id := s.openConversation(t)

	code, env := s.do(t, http.MethodPost, "/v1/offers", "buyer", map[string]interface{}{"conversation_id": id, "offer_price": 450000})
	require.Equal(t, http.StatusCreated, code)
	offer := decode[entity.Offer](t, env.Data)

	code, env = s.do(t, http.MethodPost, "/v1/offers", "buyer", map[string]interface{}{"conversation_id": id, "offer_price": 460000})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	code, env = s.do(t, http.MethodGet, "/v1/offers?role=sent", "buyer", nil)
	require.Equal(t, http.StatusOK, code)
	sent := decode[[]entity.Offer](t, env.Data)
	require.Len(t, sent, 1)
	assert.Equal(t, offer.ID, sent[0].ID)

	code, env = s.do(t, http.MethodGet, "/v1/offers?role=received&product_id=p1", "seller", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]entity.Offer](t, env.Data), 1)

	code, env = s.do(t, http.MethodGet, "/v1/offers?role=received", "buyer", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[[]entity.Offer](t, env.Data))

	code, _ = s.do(t, http.MethodGet, "/v1/offers?role=sideways", "buyer", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestOfferRequiresPositivePrice(t *testing.T) {
	s := newServer(t)
	id := s.openConversation(t)

	code, env := s.do(t, http.MethodPost, "/v1/offers", "buyer", map[string]interface{}{"conversation_id": id})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestDeleteMessagesReportsPartialFailure(t *testing.T) {
	s := newServer(t)
	id := s.openConversation(t)

	_, env := s.do(t, http.MethodPost, "/v1/conversations/"+id+"/messages", "buyer", map[string]string{"content": "typo"})
	sent := decode[entity.Message](t, env.Data)

	code, env := s.do(t, http.MethodPost, "/v1/messages/delete", "buyer", map[string]interface{}{
		"message_ids": []string{sent.ID, "missing"},
		"scope":       "everyone",
	})
	assert.Equal(t, http.StatusMultiStatus, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "PARTIAL_FAILURE", env.Error.Code)
	details := decode[usecase.BulkResult](t, env.Error.Details)
	assert.Equal(t, []string{sent.ID}, details.Succeeded)
	require.Len(t, details.Failed, 1)
	assert.Equal(t, "missing", details.Failed[0].MessageID)
	assert.Equal(t, "NOT_FOUND", details.Failed[0].Code)
}

func TestDeleteMessageScopes(t *testing.T) {
	s := newServer(t)
	id := s.openConversation(t)

	_, env := s.do(t, http.MethodPost, "/v1/conversations/"+id+"/messages", "buyer", map[string]string{"content": "hi"})
	sent := decode[entity.Message](t, env.Data)

	code, _ := s.do(t, http.MethodDelete, "/v1/messages/"+sent.ID+"?scope=sideways", "buyer", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodDelete, "/v1/messages/"+sent.ID+"?scope=me", "seller", nil)
	require.Equal(t, http.StatusOK, code)

	_, env = s.do(t, http.MethodGet, "/v1/conversations/"+id+"/messages", "seller", nil)
	hidden := decode[usecase.Timeline](t, env.Data).Messages
	require.Len(t, hidden, 1)
	assert.True(t, hidden[0].IsDeleted)
	assert.Equal(t, entity.DeletedPlaceholder, hidden[0].Content)

	_, env = s.do(t, http.MethodGet, "/v1/conversations/"+id+"/messages", "buyer", nil)
	visible := decode[usecase.Timeline](t, env.Data).Messages
	require.Len(t, visible, 1)
	assert.Equal(t, "hi", visible[0].Content)
}

func TestReportMessageAndConversation(t *testing.T) {
	s := newServer(t)
	id := s.openConversation(t)
	_, env := s.do(t, http.MethodPost, "/v1/conversations/"+id+"/messages", "buyer", map[string]string{"content": "spam"})
	sent := decode[entity.Message](t, env.Data)

	code, _ := s.do(t, http.MethodPost, "/v1/messages/"+sent.ID+"/report", "seller", map[string]string{"reason": "spam"})
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodPost, "/v1/messages/"+sent.ID+"/report", "eve", map[string]string{"reason": "spam"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodPost, "/v1/conversations/"+id+"/report", "seller", map[string]string{"reason": "scam"})
	assert.Equal(t, http.StatusOK, code)

	_, env = s.do(t, http.MethodGet, "/v1/conversations/"+id, "buyer", nil)
	assert.True(t, decode[entity.Conversation](t, env.Data).IsReported)
}

func TestDeleteConversation(t *testing.T) {
	s := newServer(t)
	id := s.openConversation(t)
	s.do(t, http.MethodPost, "/v1/conversations/"+id+"/messages", "buyer", map[string]string{"content": "bye"})

	code, _ := s.do(t, http.MethodDelete, "/v1/conversations/"+id, "eve", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodDelete, "/v1/conversations/"+id, "seller", nil)
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(t, http.MethodGet, "/v1/conversations/"+id, "buyer", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/dependencies", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"ok"`)

	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDependencyFailureReportsUnavailable(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Pinger{
		"redis": handler.PingFunc(func(ctx context.Context) error { return stderrors.New("connection refused") }),
	})
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/dependencies", nil), rec)

	require.NoError(t, h.CheckDependencies(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "connection refused"))
}
