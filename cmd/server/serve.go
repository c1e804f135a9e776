package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echolink/internal/api"
	"github.com/lalith-99/echolink/internal/config"
	"github.com/lalith-99/echolink/internal/db"
	"github.com/lalith-99/echolink/internal/notify"
	"github.com/lalith-99/echolink/internal/observ"
	"github.com/lalith-99/echolink/internal/presence"
	"github.com/lalith-99/echolink/internal/push"
	"github.com/lalith-99/echolink/internal/realtime"
	"github.com/lalith-99/echolink/internal/relay"
	"github.com/lalith-99/echolink/internal/repository"
	"github.com/lalith-99/echolink/internal/repository/memory"
	"github.com/lalith-99/echolink/internal/repository/postgres"
	"github.com/lalith-99/echolink/internal/signaling"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	debug bool
}

type stores struct {
	users         repository.UserRepository
	messages      repository.MessageRepository
	notifications repository.NotificationRepository
	health        api.HealthChecker
	close         func()
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.debug {
		cfg.LogLevel = "debug"
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb, err = openRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	// Presence and delivery.
	hub := realtime.NewHub(cfg.NodeID, observ.Component(logger, "realtime"))
	var presenceStore presence.Store = presence.NewMemoryStore()
	if cfg.PresenceBackend == config.PresenceRedis {
		presenceStore = presence.NewRedisStore(rdb, "")
		bridge := realtime.NewRedisBridge(rdb, hub.NodeID(), observ.Component(logger, "bridge"))
		hub.SetBridge(bridge)
		go func() {
			if err := bridge.Run(ctx, hub, nil); err != nil {
				logger.Error("bridge stopped", zap.Error(err))
			}
		}()
	}
	registry := presence.NewRegistry(presenceStore, hub, observ.Component(logger, "presence"))
	router := presence.NewRouter(registry, hub, observ.Component(logger, "router"))

	// Core services.
	relayer := relay.New(st.messages, router, observ.Component(logger, "relay"))
	signaler := signaling.New(router, observ.Component(logger, "signaling"))
	fanout := notify.New(st.notifications, st.users, router, observ.Component(logger, "notify"))

	var sender push.Sender = push.NewLogSender(observ.Component(logger, "push"))
	if cfg.PushBackend == config.PushRedis {
		sender = push.NewQueueSender(rdb, "")
	}
	offline := push.NewDispatcher(sender, observ.Component(logger, "push"))

	dispatcher := realtime.NewDispatcher(registry, relayer, signaler, fanout, offline, observ.Component(logger, "dispatch"))
	sockets := realtime.NewServer(hub, dispatcher, nil, observ.Component(logger, "ws"))

	// HTTP.
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := api.NewRouter(cfg.JWTSecret, api.Handlers{
		Auth:          api.NewAuthHandler(st.users, cfg.JWTSecret, cfg.TokenTTL, logger),
		Users:         api.NewUserHandler(st.users, logger),
		Messages:      api.NewMessageHandler(relayer, offline, logger),
		Notifications: api.NewNotificationHandler(fanout, offline, logger),
		Presence:      api.NewPresenceHandler(registry, logger),
		Sockets:       api.NewSocketHandler(sockets),
		Health:        st.health,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting EchoLink",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("node_id", hub.NodeID()),
		zap.String("store", cfg.StoreBackend),
		zap.String("presence", cfg.PresenceBackend),
		zap.String("push", cfg.PushBackend),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// http.Server.Shutdown leaves hijacked sockets alone. Drop them here
	// and let their presence unregister before Redis closes.
	if err := sockets.Shutdown(shutdownCtx); err != nil {
		logger.Warn("socket shutdown", zap.Error(err))
	}
	// Requests that finished above may still have device pushes in flight.
	if err := offline.Wait(shutdownCtx); err != nil {
		logger.Warn("push drain", zap.Error(err))
	}
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.StoreBackend == config.StoreMemory {
		logger.Warn("using in-memory storage; data is lost on restart")
		return &stores{
			users:         memory.NewUserStore(),
			messages:      memory.NewMessageStore(),
			notifications: memory.NewNotificationStore(),
			close:         func() {},
		}, nil
	}

	database, err := db.New(ctx, cfg.DatabaseURL, observ.Component(logger, "db"))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}

	pool := database.Pool()
	return &stores{
		users:         postgres.NewUserStore(pool),
		messages:      postgres.NewMessageStore(pool),
		notifications: postgres.NewNotificationStore(pool),
		health:        database,
		close:         database.Close,
	}, nil
}

func openRedis(ctx context.Context, url string, logger *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connection established", zap.String("addr", opts.Addr))
	return client, nil
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.StoreBackend != config.StorePostgres {
		return fmt.Errorf("migrate needs STORE_BACKEND=%s, got %q", config.StorePostgres, cfg.StoreBackend)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	return database.Migrate(ctx)
}
