package main

import (
	"context"
	"errors"
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

	"github.com/mindcare-platform/chat-relay/internal/config"
	"github.com/mindcare-platform/chat-relay/internal/gateway"
	"github.com/mindcare-platform/chat-relay/internal/handler"
	"github.com/mindcare-platform/chat-relay/internal/middleware"
	"github.com/mindcare-platform/chat-relay/internal/nats"
	"github.com/mindcare-platform/chat-relay/internal/relay"
	"github.com/mindcare-platform/chat-relay/internal/responder"
	"github.com/mindcare-platform/chat-relay/internal/store"
	"github.com/mindcare-platform/chat-relay/pkg/logger"
	"github.com/mindcare-platform/chat-relay/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting chat relay", zap.String("port", cfg.ServerPort))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-relay", cfg.TracingEndpoint)
		if err != nil {
			log.Error("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tracing.Shutdown(shutdownCtx, tp); err != nil {
					log.Error("failed to shut down tracer", zap.Error(err))
				}
			}()
		}
	}

	storeClient := store.New(cfg.StoreBaseURL, cfg.StoreToken, cfg.StoreTimeout, log)
	hub := gateway.NewHub(log)

	var natsClient *nats.Client
	if cfg.NATSURL != "" {
		natsClient, err = nats.Connect(cfg, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		bridge := nats.NewBridge(natsClient, log)
		if err := bridge.Start(hub.DeliverLocal); err != nil {
			log.Fatal("failed to start broadcast bridge", zap.Error(err))
		}
		defer bridge.Stop()
		hub.SetBridge(bridge)
	}

	responderClient := buildResponder(cfg, log)
	log.Info("responder configured", zap.String("provider", responderClient.Name()))

	engine := relay.NewEngine(storeClient, responderClient, hub, log)
	wsServer := gateway.NewServer(cfg, hub, engine, log)

	healthHandler := handler.NewHealthHandler(storeClient, natsClient)
	sessionHandler := handler.NewSessionHandler(storeClient, hub, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", wsServer.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/sessions/{sessionID}/history", sessionHandler.History)
		r.Post("/sessions/{sessionID}/close", sessionHandler.Close)
		r.With(middleware.RequireStaff).Get("/sessions/active", sessionHandler.Active)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// buildResponder picks the bot backend: the webhook pipeline when configured,
// then a direct LLM provider, and finally the fallback-only webhook client so
// chatbot sessions always get a reply.
func buildResponder(cfg *config.Config, log *logger.Logger) responder.Client {
	if cfg.ResponderWebhookURL != "" {
		return responder.NewWebhookClient(cfg.ResponderWebhookURL, cfg.ResponderAPIKey, cfg.ResponderTimeout, log)
	}
	if cfg.AnthropicAPIKey != "" {
		if c, err := responder.NewAnthropicClient(cfg.AnthropicAPIKey); err == nil {
			return c
		}
	}
	if cfg.OpenAIAPIKey != "" {
		if c, err := responder.NewOpenAIClient(cfg.OpenAIAPIKey); err == nil {
			return c
		}
	}
	log.Warn("no responder configured, serving fallback replies only")
	return responder.NewWebhookClient("", "", cfg.ResponderTimeout, log)
}
