package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"carelink/internal/adapter/api"
	"carelink/internal/adapter/api/handler"
	apimiddleware "carelink/internal/adapter/api/middleware"
	"carelink/internal/adapter/api/router"
	"carelink/internal/domain/service"
	"carelink/internal/infrastructure/metrics"
	"carelink/internal/infrastructure/presence"
	"carelink/internal/infrastructure/ratelimit"
	"carelink/internal/infrastructure/websocket"
	"carelink/internal/usecase"
	"carelink/pkg/config"
	"carelink/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.SetEnvironment(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	backends, err := newBackends(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize backends: %v", err)
	}
	defer backends.Close()

	stores, err := newStores(cfg, backends)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}

	resolver, devIssuer, err := newIdentityResolver(cfg, backends, stores.directory)
	if err != nil {
		log.Fatalf("Failed to initialize identity resolver: %v", err)
	}

	var uploader service.BlobUploader
	if backends.storage != nil {
		uploader = backends.storage
	}

	hub := websocket.NewHub()
	hub.Start(ctx)

	rateLimiter := ratelimit.NewRateLimiter(cfg.SendRatePerMinute)
	rateLimiter.StartCleanupRoutine(ctx.Done())

	messageUseCase := usecase.NewMessageUseCase(stores.conversations, stores.messages, uploader, hub, rateLimiter, cfg.MaxAttachmentSize)
	conversationUseCase := usecase.NewConversationUseCase(stores.conversations, stores.directory, hub, messageUseCase, rateLimiter)
	readStateUseCase := usecase.NewReadStateUseCase(stores.conversations, stores.messages, stores.markers, hub)
	presenceUseCase := usecase.NewPresenceUseCase(presence.NewTypingRegistry(cfg.TypingExpiry), hub, rateLimiter)
	go presenceUseCase.RunSweeper(ctx)

	events := websocket.NewEventHandler(hub, conversationUseCase, messageUseCase, readStateUseCase, presenceUseCase)

	handler.Setup(conversationUseCase, messageUseCase, readStateUseCase)
	handler.SetupHealthHandler(stores.ping, hub.SessionCount)
	if devIssuer != nil {
		handler.SetupDevTokenHandler(devIssuer, stores.directory)
	}

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(resolver)
	wsHandler := handler.NewWebSocketHandler(events, authMiddleware, cfg.AllowedOrigins)

	router.Setup(e, authMiddleware, rateLimiter)
	router.SetupWebSocketRouter(e, wsHandler)
	router.SetupAdminRouter(e, authMiddleware, handler.NewAdminHandler(hub))
	router.SetupDevRouter(e, cfg.Environment)

	go func() {
		logger.Info("Starting server on port %s (store=%s, identity=%s)", cfg.ServerPort, cfg.StoreDriver, cfg.IdentityProvider)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
	}

	select {
	case <-hub.Done():
	case <-shutdownCtx.Done():
		logger.Warn("Realtime hub did not stop in time")
	}
}
