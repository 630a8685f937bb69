// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/bissquit/mention-relay/internal/config"
	"github.com/bissquit/mention-relay/internal/dialogue"
	"github.com/bissquit/mention-relay/internal/directory"
	"github.com/bissquit/mention-relay/internal/discord"
	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/bissquit/mention-relay/internal/notifications"
	"github.com/bissquit/mention-relay/internal/notifications/telegram"
	"github.com/bissquit/mention-relay/internal/pkg/ctxlog"
	"github.com/bissquit/mention-relay/internal/pkg/httputil"
	"github.com/bissquit/mention-relay/internal/pkg/metrics"
	"github.com/bissquit/mention-relay/internal/pkg/postgres"
	"github.com/bissquit/mention-relay/internal/subscriptions"
	"github.com/bissquit/mention-relay/internal/subscriptions/file"
	"github.com/bissquit/mention-relay/internal/subscriptions/gcs"
	subscriptionspostgres "github.com/bissquit/mention-relay/internal/subscriptions/postgres"
	"github.com/bissquit/mention-relay/internal/verification"
	"github.com/bissquit/mention-relay/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/api/option"
)

// App represents the application instance.
type App struct {
	config *config.Config
	logger *slog.Logger

	db        *pgxpool.Pool
	gcsClient *storage.Client
	fileStore *file.Store
	store     subscriptions.Store

	registry *subscriptions.Registry
	reloader *subscriptions.Reloader
	gateway  *discord.Gateway
	poller   *telegram.Poller

	server        *http.Server
	metricsServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new application instance and loads the subscription store.
// Nothing connects to Discord or Telegram until Run.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.init(); err != nil {
		app.closeResources()
		cancel()
		return nil, err
	}
	return app, nil
}

func (a *App) init() error {
	cfg := a.config

	store, err := a.openStore()
	if err != nil {
		return fmt.Errorf("open subscription store: %w", err)
	}
	a.store = store

	a.registry = subscriptions.NewRegistry(store, subscriptions.RegistryConfig{
		DefaultGuildID: cfg.Discord.DefaultGuildID,
		RefreshGrace:   cfg.Subscriptions.RefreshGrace,
	})

	// Reload, not Refresh: the working copy is still empty and must not be flushed over the store.
	loadCtx, loadCancel := context.WithTimeout(a.ctx, 30*time.Second)
	defer loadCancel()
	if err := a.registry.Reload(loadCtx); err != nil {
		return fmt.Errorf("initial subscription load: %w", err)
	}
	slog.Info("subscriptions loaded",
		"backend", cfg.Subscriptions.Backend,
		"records", a.registry.Snapshot().Len(),
	)

	if cfg.Subscriptions.ReloadInterval > 0 {
		a.reloader, err = subscriptions.NewReloader(a.registry, cfg.Subscriptions.ReloadInterval)
		if err != nil {
			return fmt.Errorf("create reloader: %w", err)
		}
	}

	tg, err := telegram.NewClient(telegram.Config{
		Enabled:     cfg.Telegram.Enabled,
		BotToken:    cfg.Telegram.BotToken,
		APIURL:      cfg.Telegram.APIURL,
		RateLimit:   cfg.Telegram.RateLimit,
		PollTimeout: cfg.Telegram.PollTimeout,
	})
	if err != nil {
		return fmt.Errorf("create telegram client: %w", err)
	}
	if !cfg.Telegram.Enabled {
		slog.Warn("telegram is disabled: notifications and dialogue replies will not be sent")
	}

	var dir directory.Directory
	if cfg.Discord.Enabled {
		a.gateway, err = discord.NewGateway(discord.Config{
			Token:                 cfg.Discord.Token,
			ConnectAttempts:       cfg.Discord.ConnectAttempts,
			ChannelDenySubstrings: cfg.Discord.ChannelDenySubstrings,
			HandlerTimeout:        cfg.Discord.HandlerTimeout,
		})
		if err != nil {
			return fmt.Errorf("create discord gateway: %w", err)
		}
		dir = a.gateway.Directory()
	} else {
		slog.Warn("discord is disabled: no events are routed and directory lookups find nothing")
		dir = directory.NewStatic(nil)
	}

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return fmt.Errorf("create notification renderer: %w", err)
	}
	notifier := notifications.NewNotifier(
		notifications.NotifierConfig{
			SendTimeout:    cfg.Delivery.SendTimeout,
			MaxConcurrency: cfg.Delivery.MaxConcurrency,
		},
		a.registry,
		notifications.NewMatcher(cfg.Discord.AlwaysNotifyChannelIDs),
		renderer,
		tg,
	)
	if a.gateway != nil {
		a.gateway.OnMessage(func(ctx context.Context, event domain.MessageEvent) {
			notifier.HandleEvent(ctx, event)
		})
	}

	var (
		issuer              dialogue.LinkIssuer
		verificationHandler *verification.Handler
	)
	if cfg.Verification.Enabled {
		if cfg.Server.APIToken == "" {
			return errors.New("verification requires server.api_token")
		}
		service, err := verification.NewService(verification.Config{
			BaseURL:   cfg.Verification.BaseURL,
			SecretKey: cfg.Verification.SecretKey,
			TokenTTL:  cfg.Verification.TokenTTL,
		}, a.registry, tg)
		if err != nil {
			return fmt.Errorf("create verification service: %w", err)
		}
		issuer = service
		verificationHandler = verification.NewHandler(service)
	}

	machine := dialogue.NewMachine(dialogue.Config{
		RoleExemptPrefixes: cfg.Discord.RoleExemptPrefixes,
	}, a.registry, dir, issuer)

	if cfg.Telegram.Enabled {
		a.poller = telegram.NewPoller(tg, a.dialogueHandler(machine, tg))
	}

	a.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           a.setupRouter(verificationHandler),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	a.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return nil
}

func (a *App) openStore() (subscriptions.Store, error) {
	cfg := a.config.Subscriptions

	switch cfg.Backend {
	case "file":
		a.fileStore = file.NewStore(cfg.FilePath)
		return a.fileStore, nil

	case "postgres":
		connectCtx, connectCancel := context.WithTimeout(a.ctx, cfg.Postgres.ConnectTimeout)
		defer connectCancel()

		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             cfg.Postgres.URL,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnectAttempts: cfg.Postgres.ConnectAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.db = db

		if err := subscriptionspostgres.Migrate(cfg.Postgres.URL); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}

		go metrics.CollectDBPoolMetrics(a.ctx, db, 15*time.Second)
		return subscriptionspostgres.NewStore(db), nil

	case "gcs":
		var opts []option.ClientOption
		if cfg.GCS.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GCS.CredentialsFile))
		}
		client, err := storage.NewClient(a.ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.gcsClient = client
		return gcs.NewStore(client, gcs.Config{
			Bucket:   cfg.GCS.Bucket,
			Object:   cfg.GCS.Object,
			Attempts: cfg.GCS.Attempts,
		}), nil

	case "memory":
		slog.Warn("using in-memory subscription store: data is lost on restart")
		return subscriptions.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown subscription backend %q", cfg.Backend)
	}
}

// dialogueHandler feeds Telegram messages to the dialogue and sends its reply
// back to the same chat.
func (a *App) dialogueHandler(machine *dialogue.Machine, client *telegram.Client) telegram.UpdateHandler {
	return func(ctx context.Context, update telegram.Update) {
		if timeout := a.config.Telegram.HandlerTimeout; timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		chatID := update.Message.ChatID()
		ctx = ctxlog.With(ctx, "chat_id", chatID, "update_id", update.UpdateID)

		reply := machine.Handle(ctx, chatID, update.Message.Text)
		if reply.Text == "" {
			return
		}

		err := client.SendMessage(ctx, telegram.OutgoingMessage{
			ChatID:         chatID,
			Text:           reply.Text,
			Keyboard:       reply.Keyboard,
			RemoveKeyboard: reply.RemoveKeyboard,
		})
		if err != nil {
			ctxlog.FromContext(ctx).Error("failed to send dialogue reply", "error", err)
		}
	}
}

// Run connects to Discord and Telegram, starts background jobs and serves
// HTTP until Shutdown.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	if a.reloader != nil {
		a.reloader.Start()
	}

	if a.fileStore != nil && a.config.Subscriptions.WatchFile {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			err := a.fileStore.Watch(a.ctx, func(ctx context.Context) {
				if err := a.registry.Reload(ctx); err != nil {
					slog.Error("reload after file change failed", "error", err)
				}
			})
			if err != nil {
				slog.Error("subscription file watcher stopped", "error", err)
			}
		}()
	}

	if a.gateway != nil {
		if err := a.gateway.Open(a.ctx); err != nil {
			return fmt.Errorf("connect to discord: %w", err)
		}
	}

	if a.poller != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.poller.Run(a.ctx); err != nil {
				slog.Error("telegram poller exited", "error", err)
			}
		}()
	}

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown stops accepting events, lets in-flight dialogue turns finish and
// shuts down both servers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	var errs []error

	if a.gateway != nil {
		if err := a.gateway.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close discord gateway: %w", err))
		}
	}
	if a.reloader != nil {
		a.reloader.Stop()
	}

	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for background jobs: %w", ctx.Err()))
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	a.closeResources()

	return errors.Join(errs...)
}

func (a *App) closeResources() {
	if a.db != nil {
		a.db.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			slog.Warn("failed to close storage client", "error", err)
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Registry returns the subscription registry.
func (a *App) Registry() *subscriptions.Registry {
	return a.registry
}

func (a *App) setupRouter(verificationHandler *verification.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.BearerTokenMiddleware(a.config.Server.APIToken))

		if verificationHandler != nil {
			verificationHandler.RegisterRoutes(r)
		}
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if !a.registry.Snapshot().Loaded() {
		httputil.Text(w, http.StatusServiceUnavailable, "Subscriptions not loaded")
		return
	}

	if p, ok := a.store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Subscription store unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
