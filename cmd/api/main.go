package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	fbapp "firebase.google.com/go/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"tradeup/internal/adapter/api"
	"tradeup/internal/adapter/api/handler"
	apimiddleware "tradeup/internal/adapter/api/middleware"
	"tradeup/internal/adapter/api/router"
	"tradeup/internal/adapter/repository"
	domainrepo "tradeup/internal/domain/repository"
	"tradeup/internal/domain/service"
	"tradeup/internal/infrastructure/firebase"
	"tradeup/internal/infrastructure/kafka"
	"tradeup/internal/infrastructure/metrics"
	"tradeup/internal/infrastructure/ratelimit"
	"tradeup/internal/infrastructure/storage"
	"tradeup/internal/infrastructure/websocket"
	"tradeup/internal/usecase"
	"tradeup/pkg/config"
	"tradeup/pkg/logger"
)

type repositories struct {
	conversations domainrepo.ConversationRepository
	messages      domainrepo.MessageRepository
	offers        domainrepo.OfferRepository
	blocks        domainrepo.BlockRepository
	hidden        domainrepo.HiddenMessageRepository
	watermarks    domainrepo.WatermarkRepository
	products      domainrepo.ProductRepository
	users         domainrepo.UserRepository
	notifications domainrepo.NotificationLogRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Configure(cfg.Environment)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []option.ClientOption
	switch {
	case cfg.ServiceAccountJSON != "":
		logger.Info("Using Firebase service account from environment variable")
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	case cfg.ServiceAccountPath != "":
		if _, err := os.Stat(cfg.ServiceAccountPath); err != nil {
			log.Fatalf("Service account file does not exist: %s", cfg.ServiceAccountPath)
		}
		logger.Info("Using Firebase service account from file: %s", cfg.ServiceAccountPath)
		opts = append(opts, option.WithCredentialsFile(cfg.ServiceAccountPath))
	default:
		logger.Info("Using application default credentials")
	}

	firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opts...)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase: %v", err)
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase Auth: %v", err)
	}

	healthChecks := map[string]handler.Pinger{}

	var repos repositories
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("Using in-memory store; data is lost on restart")
		repos = memoryRepositories(repository.NewMemoryStore())
	default:
		firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opts...)
		if err != nil {
			log.Fatalf("Failed to create Firestore client: %v", err)
		}
		defer firestoreClient.Close()
		repos = firestoreRepositories(firestoreClient)
		healthChecks["firestore"] = handler.PingFunc(func(ctx context.Context) error {
			_, err := firestoreClient.Collections(ctx).Next()
			if err == iterator.Done {
				return nil
			}
			return err
		})
	}

	if cfg.WatermarkStore == "redis" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		repos.watermarks = repository.NewRedisWatermarkRepository(redisClient, "tradeup")
		healthChecks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	var media service.MediaStorage
	if cfg.StorageBucket != "" {
		storageClient, err := storage.NewCloudStorageClient(ctx, cfg.StorageBucket, opts...)
		if err != nil {
			log.Fatalf("Failed to initialize Cloud Storage: %v", err)
		}
		defer storageClient.Close()
		media = storageClient
	} else {
		logger.Warn("STORAGE_BUCKET not set; image messages are disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	limiter := ratelimit.NewRateLimiter()
	limiter.StartCleanupRoutine(ctx, 10*time.Minute)

	conversationStore := usecase.NewConversationStore(repos.conversations, repos.messages, media, m, cfg.RemoteTimeout)
	guard := usecase.NewBlockingGuard(repos.blocks, repos.conversations, cfg.RemoteTimeout)
	synchronizer := usecase.NewMessageSynchronizer(repos.messages, repos.hidden, conversationStore, guard, media, m, cfg.RemoteTimeout)
	lifecycle := usecase.NewMessageLifecycleManager(repos.messages, repos.hidden, media, m, cfg.DeletionWindow, cfg.RemoteTimeout)
	productUseCase := usecase.NewProductUseCase(repos.products, cfg.RemoteTimeout)

	wsManager := websocket.NewManager(synchronizer, nil, limiter)

	dispatcher := usecase.FanOutDispatcher{wsManager}
	if cfg.PushEnabled {
		messagingClient, err := firebaseApp.Messaging(ctx)
		if err != nil {
			log.Fatalf("Failed to initialize Firebase Messaging: %v", err)
		}
		dispatcher = append(dispatcher, firebase.NewPushDispatcher(messagingClient, repos.users, repos.notifications, cfg.RemoteTimeout))
	}

	relay := usecase.NewNotificationRelay(repos.messages, repos.watermarks, repos.users, dispatcher, m, cfg.NoveltyMaxAge, cfg.RemoteTimeout)
	defer relay.Close()
	wsManager.SetPresence(relay)

	hooks := []service.AcceptanceHandler{productUseCase}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewOfferEventPublisher(cfg.KafkaBrokers, cfg.KafkaOfferTopic, repos.conversations)
		defer publisher.Close()
		hooks = append(hooks, publisher)
	}

	offerEngine := usecase.NewOfferEngine(repos.offers, repos.users, synchronizer, guard, dispatcher, hooks, m, cfg.RemoteTimeout, cfg.OfferTTL)
	offerEngine.StartExpiryJob(ctx, cfg.OfferSweepInterval)

	wsManager.Start(ctx)

	handler.Setup(handler.UseCases{
		Conversations: conversationStore,
		Messages:      synchronizer,
		Lifecycle:     lifecycle,
		Offers:        offerEngine,
		Blocks:        guard,
		Products:      productUseCase,
	}, wsManager, cfg.AllowedOrigins, healthChecks)

	authMiddleware := apimiddleware.NewAuthMiddleware(firebase.NewFirebaseAuthClient(authClient))

	e := echo.New()
	e.HideBanner = true
	e.Validator = api.NewValidator()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowOrigins(cfg.AllowedOrigins),
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
	}))

	router.Setup(e, authMiddleware, limiter, registry)

	go func() {
		logger.Info("Server starting on port %s", cfg.ServerPort)
		if err := e.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown: %v", err)
	}
	select {
	case <-wsManager.Done():
	case <-shutdownCtx.Done():
	}
}

func firestoreRepositories(client *firestore.Client) repositories {
	return repositories{
		conversations: repository.NewFirestoreConversationRepository(client),
		messages:      repository.NewFirestoreMessageRepository(client),
		offers:        repository.NewFirestoreOfferRepository(client),
		blocks:        repository.NewFirestoreBlockRepository(client),
		hidden:        repository.NewFirestoreHiddenMessageRepository(client),
		watermarks:    repository.NewFirestoreWatermarkRepository(client),
		products:      repository.NewFirestoreProductRepository(client),
		users:         repository.NewFirestoreUserRepository(client),
		notifications: repository.NewFirestoreNotificationLogRepository(client),
	}
}

func memoryRepositories(store *repository.MemoryStore) repositories {
	return repositories{
		conversations: repository.NewMemoryConversationRepository(store),
		messages:      repository.NewMemoryMessageRepository(store),
		offers:        repository.NewMemoryOfferRepository(store),
		blocks:        repository.NewMemoryBlockRepository(store),
		hidden:        repository.NewMemoryHiddenMessageRepository(store),
		watermarks:    repository.NewMemoryWatermarkRepository(store),
		products:      repository.NewMemoryProductRepository(store),
		users:         repository.NewMemoryUserRepository(store),
		notifications: repository.NewMemoryNotificationLogRepository(store),
	}
}

func allowOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
