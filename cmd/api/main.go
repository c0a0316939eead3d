// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chatloop/messaging-core/internal/config"
	"github.com/chatloop/messaging-core/internal/handler"
	"github.com/chatloop/messaging-core/internal/middleware"
	natsclient "github.com/chatloop/messaging-core/internal/nats"
	"github.com/chatloop/messaging-core/internal/service"
	"github.com/chatloop/messaging-core/pkg/logger"
	"github.com/chatloop/messaging-core/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messaging-core", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure JetStream stream exists
	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}

	// Initialize services
	locks := service.NewLocks()
	members := service.NewMemberStore()
	registry := service.NewConversationRegistry(members, locks, streamManager, log)
	messages := service.NewMessageLog(registry, members, locks, streamManager, log)
	unread := service.NewUnreadTracker(members, messages, locks)
	favorites := service.NewFavoritesIndex(members)
	admin := service.NewGroupAdmin(registry, members, messages, locks, streamManager, log, cfg.MaxGroupMembers)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	conversationHandler := handler.NewConversationHandler(registry, members, unread, favorites, log)
	messageHandler := handler.NewMessageHandler(messages, members, unread, log, cfg.MessagePageSize, cfg.MessagePageSizeMax)
	groupHandler := handler.NewGroupHandler(admin, registry, log)
	favoritesHandler := handler.NewFavoritesHandler(favorites, log)
	eventsHandler := handler.NewEventsHandler(messages, members, streamManager, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/unread", messageHandler.TotalUnread)
		r.Get("/favorites", favoritesHandler.List)

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/direct", conversationHandler.CreateDirect)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Get("/members", conversationHandler.Members)

				// Messages and read state
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
				r.Post("/read", messageHandler.MarkRead)
				r.Get("/unread", messageHandler.Unread)

				// Favorites
				r.Post("/favorite", favoritesHandler.Toggle)

				// Live events
				r.Get("/events", eventsHandler.Stream)
			})
		})

		// Group administration
		r.Route("/groups", func(r chi.Router) {
			r.Post("/", groupHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Put("/name", groupHandler.Rename)
				r.Put("/avatar", groupHandler.SetAvatar)
				r.Post("/members", groupHandler.AddMember)
				r.Delete("/members/{userID}", groupHandler.RemoveMember)
				r.Post("/leave", groupHandler.Leave)
				r.Delete("/", groupHandler.Delete)
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
