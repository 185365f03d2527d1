package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"im-service/internal/auth"
	"im-service/internal/config"
	"im-service/internal/db"
	"im-service/internal/delivery"
	"im-service/internal/handlers"
	"im-service/internal/logger"
	"im-service/internal/middleware"
	"im-service/internal/observability"
	"im-service/internal/presence"
	"im-service/internal/rabbitmq"
	"im-service/internal/repositories"
	"im-service/internal/telemetry"
	"im-service/internal/ws"
)

type stores struct {
	users         repositories.UserRepository
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	close         func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config failed", "err", err)
		os.Exit(1)
	}

	env := logger.ParseEnv(cfg.Logging.Env)
	logger.Init(logger.Config{
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Env:       env,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Debug:     cfg.Logging.Debug,
		AddSource: cfg.Logging.AddSource,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.Endpoint)
	if err != nil {
		slog.Error("init tracing failed", "err", err)
		os.Exit(1)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	observability.SetPublisher(publisher)
	slog.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "reason", rabbitmq.PublisherNoopReason(publisher))
	audit := telemetry.NewAuditEmitter(publisher, "audit.log", cfg.Logging.Service, string(env))

	st, err := openStores(ctx, cfg.DB)
	if err != nil {
		slog.Error("open store failed", "driver", cfg.DB.Driver, "err", err)
		os.Exit(1)
	}

	validator := auth.NewJWTValidator(cfg.Auth.JWTSecret)
	registry := presence.NewRegistry()
	hub := ws.NewHub()
	coordinator := presence.NewCoordinator(registry, st.users, hub)
	router := delivery.NewRouter(st.conversations, st.messages, st.users, registry, hub)
	tracker := delivery.NewTracker(st.conversations, st.messages, registry, hub)

	socket := ws.NewHandler(hub, coordinator, router, tracker, st.conversations, validator, ws.Options{
		SendBuffer:      cfg.WS.SendBuffer,
		PingInterval:    cfg.WS.PingInterval,
		MaxMessageBytes: cfg.WS.MaxMessageBytes,
		EventsPerSecond: cfg.WS.EventsPerSecond,
		Burst:           cfg.WS.Burst,
	})
	conversationHandler := handlers.NewConversationHandler(st.conversations, st.messages, router, audit)
	messageHandler := handlers.NewMessageHandler(router, tracker, audit)
	userHandler := handlers.NewUserHandler(st.users)

	if env == logger.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), otelgin.Middleware(cfg.Logging.Service), observability.HTTPMetricsMiddleware())

	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws", socket.Handle)

	api := engine.Group("/", middleware.AuthMiddleware(validator))
	api.GET("/conversation/messages/:id", conversationHandler.GetMessages)
	api.POST("/conversation/messages", messageHandler.PostMessage)
	api.GET("/conversation/get-or-create", conversationHandler.GetOrCreate)
	api.POST("/conversation/group", conversationHandler.CreateGroup)
	api.POST("/conversation/update-group-image", conversationHandler.UpdateGroupImage)
	api.GET("/conversation/list", conversationHandler.List)
	api.GET("/conversation/:conversationId", conversationHandler.Get)
	api.POST("/messages/delete", messageHandler.DeleteMessage)
	api.GET("/users/online", handlers.OnlineUsers(registry))
	api.GET("/users/offline-status", userHandler.OfflineStatus)
	api.GET("/users/:id/status", userHandler.Status)
	handlers.RegisterDebugRoutes(engine, audit, registry, cfg.DebugRoutes)

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: engine}
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTP.Addr, "driver", cfg.DB.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown failed", "err", err)
	}
	if err := publisher.Close(); err != nil {
		slog.Warn("publisher close failed", "err", err)
	}
	if err := st.close(); err != nil {
		slog.Warn("store close failed", "err", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracer shutdown failed", "err", err)
	}
}

func openStores(ctx context.Context, cfg config.DB) (stores, error) {
	if cfg.Driver == config.DriverMemory {
		mem := repositories.NewMemoryStore()
		return stores{users: mem, conversations: mem, messages: mem, close: func() error { return nil }}, nil
	}

	database, err := db.Connect(ctx, cfg.DSN)
	if err != nil {
		return stores{}, err
	}
	return stores{
		users:         repositories.NewUserRepo(database),
		conversations: repositories.NewConversationRepo(database),
		messages:      repositories.NewMessageRepo(database),
		close:         database.Close,
	}, nil
}
