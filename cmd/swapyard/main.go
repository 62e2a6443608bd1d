package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appchat "swapyard/internal/app/chat"
	authsvc "swapyard/internal/app/services/auth"
	domainauth "swapyard/internal/domain/auth"
	domainchat "swapyard/internal/domain/chat"
	domainlistings "swapyard/internal/domain/listings"
	domainuser "swapyard/internal/domain/user"
	"swapyard/internal/infra/broker/kafka"
	"swapyard/internal/infra/config"
	mongodb "swapyard/internal/infra/db/mongo"
	ginserver "swapyard/internal/infra/http/gin"
	"swapyard/internal/infra/obs"
	infraoutbox "swapyard/internal/infra/outbox"
	"swapyard/internal/infra/security"
	"swapyard/internal/infra/storage/memory"
	"swapyard/internal/infra/storage/s3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env, getenv("LOG_LEVEL", "info"))

	cfg, err := config.Load()
	if err != nil {
		logger.Warn("using fallback configuration", "error", err)
		cfg.Env = env
		cfg.HTTPAddr = getenv("HTTP_ADDR", ":8080")
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.close(logger)

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger},
		obs.HealthHandlers{Ready: app.ready}, app.handlers)

	app.startWorkers(ctx, logger)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "storage", app.storageMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type application struct {
	handlers    ginserver.Handlers
	storageMode string

	cfg      config.Config
	mongo    *mongodb.Client
	producer *kafka.Producer
	consumer *kafka.Consumer
	worker   *infraoutbox.Worker
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{cfg: cfg, storageMode: "memory"}

	var (
		chatStore    domainchat.Store
		listingsRepo domainlistings.Repository
		usersRepo    domainuser.Repository
		sessions     domainauth.SessionStore
		outboxStore  infraoutbox.Store
	)

	if cfg.MongoURI != "" {
		client, err := mongodb.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		app.mongo = client
		app.storageMode = "mongo"

		mongoOutbox := infraoutbox.NewMongoStore(client.DB)
		outboxStore = mongoOutbox
		chatStore = mongodb.NewConversationStore(client.DB, mongoOutbox, logger)
		listingsRepo = mongodb.NewListingRepository(client.DB)
		usersRepo = mongodb.NewUserRepository(client.DB)
		sessions = mongodb.NewSessionStore(client.DB)
	} else {
		logger.Info("MONGO_URI not set, running on in-memory storage")
		memOutbox := memory.NewOutbox()
		outboxStore = memOutbox
		chatStore = memory.NewConversationStore(memOutbox)
		listingsRepo = memory.NewListingRepository()
		usersRepo = memory.NewUserRepository()
		sessions = memory.NewSessionStore()
	}

	var media s3.MediaStore = s3.NoopStore{}
	if cfg.S3Endpoint != "" {
		client, err := s3.NewClient(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey,
			cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PublicEndpoint, logger)
		if err != nil {
			logger.Warn("object storage unavailable, media disabled", "error", err)
		} else {
			media = client
		}
	}

	authService := &authsvc.Service{
		Users:      usersRepo,
		Sessions:   sessions,
		Passwords:  security.BcryptHasher{},
		Tokens:     security.RandomTokenGenerator{},
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	}
	chatService := &appchat.Service{
		Store:    chatStore,
		Listings: listingsRepo,
		Users:    usersRepo,
		Logger:   logger,
	}
	cascader := &appchat.Cascader{
		Store:    chatStore,
		Listings: listingsRepo,
		Users:    usersRepo,
		Sessions: sessions,
		Media:    media,
		Logger:   logger,
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			return nil, err
		}
		app.producer = producer
		app.worker = &infraoutbox.Worker{
			Store:       outboxStore,
			Producer:    producer,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Source:      "app://swapyard",
			Backoff:     cfg.RetryBackoff,
		}

		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, nil,
			&kafka.AccountEventHandler{Cascader: cascader, Logger: logger}, logger)
		if err != nil {
			return nil, err
		}
		app.consumer = consumer
	} else {
		logger.Info("KAFKA_BROKERS not set, event publishing disabled")
	}

	app.handlers = ginserver.Handlers{
		Auth: ginserver.AuthHandler{
			Service:  authService,
			Cascader: cascader,
			Logger:   logger,
		},
		Listing: ginserver.ListingHandler{
			Listings: listingsRepo,
			Media:    media,
			Logger:   logger,
		},
		Chat: ginserver.ChatHandler{
			Chat:     chatService,
			Listings: listingsRepo,
			Logger:   logger,
		},
		AuthMiddleware: ginserver.AuthMiddleware{Service: authService, Logger: logger}.Handle,
	}
	return app, nil
}

func (a *application) startWorkers(ctx context.Context, logger *slog.Logger) {
	if a.worker != nil {
		go func() {
			if err := a.worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", "error", err)
			}
		}()
	}
	if a.consumer != nil {
		topics := []string{a.cfg.AccountEventsTopic}
		go func() {
			if err := a.consumer.Run(ctx, topics); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("kafka consumer stopped", "error", err)
			}
		}()
	}
}

func (a *application) ready() error {
	if a.mongo == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.mongo.Ping(ctx)
}

func (a *application) close(logger *slog.Logger) {
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			logger.Warn("kafka consumer close failed", "error", err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			logger.Warn("kafka producer close failed", "error", err)
		}
	}
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.mongo.Close(ctx); err != nil {
			logger.Warn("mongo disconnect failed", "error", err)
		}
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
