// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zapcrm/zapcrm/internal/config"
	"github.com/zapcrm/zapcrm/internal/crypto"
	"github.com/zapcrm/zapcrm/internal/handler"
	"github.com/zapcrm/zapcrm/internal/middleware"
	natsclient "github.com/zapcrm/zapcrm/internal/nats"
	"github.com/zapcrm/zapcrm/internal/notify"
	"github.com/zapcrm/zapcrm/internal/provider"
	"github.com/zapcrm/zapcrm/internal/realtime"
	"github.com/zapcrm/zapcrm/internal/service"
	"github.com/zapcrm/zapcrm/internal/store"
	"github.com/zapcrm/zapcrm/internal/worker"
	"github.com/zapcrm/zapcrm/pkg/logger"
	"github.com/zapcrm/zapcrm/pkg/metrics"
	"github.com/zapcrm/zapcrm/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "zapcrm: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.FromEnv(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting API server", zap.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "zapcrm", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(context.Background(), tp) }()
		}
	}

	// Persistence
	db, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	st := store.New(db)
	defer func() { _ = st.Close() }()

	credentialKey := cfg.CredentialKey
	if credentialKey == "" {
		log.Warn("CREDENTIAL_KEY not set, using an insecure development key")
		credentialKey = "development-credential-key"
	}
	cipher, err := crypto.NewCipher(credentialKey)
	if err != nil {
		return err
	}

	// Queue
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		return err
	}
	defer natsClient.Close()

	if err := natsclient.EnsureStreams(ctx, natsClient.JetStream()); err != nil {
		return fmt.Errorf("failed to ensure streams: %w", err)
	}
	queue := natsclient.NewQueue(natsClient.JetStream())

	// Realtime
	hub := realtime.NewHub(uuid.NewString(), realtime.DefaultBufferSize, log)
	switch cfg.RealtimeRelay {
	case "nats":
		hub.SetRelay(natsclient.NewRelay(natsClient.Conn()))
	case "valkey":
		relay, err := realtime.NewValkeyRelay(realtime.ValkeyConfig{
			Address:  cfg.ValkeyAddr,
			Password: cfg.ValkeyPassword,
			DB:       cfg.ValkeyDB,
		})
		if err != nil {
			return err
		}
		defer relay.Close()
		hub.SetRelay(relay)
	}
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go func() {
		if err := hub.Run(hubCtx); err != nil {
			log.Error("realtime relay stopped", zap.Error(err))
		}
	}()

	// Services
	graph := provider.NewClient(provider.Config{
		GraphURL:   cfg.MetaGraphURL,
		APIVersion: cfg.MetaAPIVersion,
		Timeout:    cfg.ProviderTimeout,
	})
	sender := service.NewSender(st, graph, cipher, hub, cfg.PendingToken, log)
	processor := service.NewProcessor(st, sender, hub, service.ProcessorConfig{
		ReplyDelay:   cfg.BotReplyDelay,
		ReplyTimeout: cfg.ProviderTimeout + cfg.BotReplyDelay,
	}, log)
	contacts := service.NewContactService(st, notify.New(cfg.NotifyTimeout), log)
	settings := service.NewSettingsService(st, cipher)

	// Workers
	var (
		pool     *worker.Pool
		consumer *natsclient.Consumer
	)
	if cfg.WorkerEnabled {
		pool = worker.New(cfg.WorkerConcurrency, cfg.WorkerQueueSize, log)
		pool.OnPanic = func(key string, recovered any) {
			metrics.JobPanics.Inc()
		}
		// Jobs outlive the signal context so in-flight work can finish.
		pool.Start(context.Background())

		consumer = natsclient.NewConsumer(natsClient.JetStream(), pool, processor.Process, natsclient.ConsumerConfig{
			AckWait:        cfg.QueueAckWait,
			MaxDeliver:     cfg.QueueMaxDeliver,
			MaxAckPending:  cfg.QueueMaxAckPending,
			BackoffInitial: cfg.QueueBackoffInitial,
			BackoffMax:     cfg.QueueBackoffMax,
			JobTimeout:     cfg.JobTimeout,
		}, log)
		if err := consumer.Start(ctx); err != nil {
			return err
		}
	} else {
		log.Info("workers disabled, this replica only receives webhooks")
	}

	// Handlers
	healthHandler := handler.NewHealthHandler(natsClient, st)
	if pool != nil {
		healthHandler.WithWorkers(pool)
	}
	webhookHandler := handler.NewWebhookHandler(queue, cfg.MetaVerifyToken, cfg.QueueEnqueueTimeout, log)
	messageHandler := handler.NewMessageHandler(sender, log)
	contactHandler := handler.NewContactHandler(contacts, log)
	settingsHandler := handler.NewSettingsHandler(settings, log)
	realtimeHandler := handler.NewRealtimeHandler(hub)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Handle("/metrics", promhttp.Handler())

	// Provider callbacks
	r.Route("/v1/meta/webhook", func(r chi.Router) {
		r.Use(middleware.WebhookRateLimit(cfg.WebhookRateLimit, time.Minute))
		r.Get("/", webhookHandler.Verify)
		r.Post("/", webhookHandler.Receive)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))

		// Long-lived sessions are not rate limited per request.
		r.Get("/realtime/ws", realtimeHandler.Websocket)
		r.Get("/realtime/sse", realtimeHandler.SSE)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

			r.Post("/messages", messageHandler.Send)

			r.Route("/contacts", func(r chi.Router) {
				r.Get("/", contactHandler.List)
				r.Get("/{id}/messages", contactHandler.Thread)
				r.Put("/{id}/status", contactHandler.UpdateStatus)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope(middleware.AdminScope))
				r.Put("/connections", settingsHandler.RegisterConnection)
				r.Put("/tenant", settingsHandler.UpdateTenant)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	server.RegisterOnShutdown(hub.Close)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error("server error", zap.Error(err))
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	// Stop intake, finish dispatched jobs, then wait for detached replies.
	if consumer != nil {
		consumer.Stop()
	}
	if pool != nil {
		pool.Stop()
	}
	processor.Wait()
	stopHub()

	log.Info("server stopped")
	return nil
}
