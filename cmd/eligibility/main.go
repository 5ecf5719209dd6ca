package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfhttp "github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/http"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/litellm"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/modelfile"
	cfnats "github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/nats"
	cfotel "github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/otel"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/stages"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/ws"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/config"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/logger"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/middleware"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/messagequeue"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/resilience"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/secrets"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/service"
)

// masterKeyEnv names the LiteLLM master key in the environment.
const masterKeyEnv = "ELIGIBILITY_LITELLM_MASTER_KEY"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"version", version,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			log.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	var queue *cfnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := queue.Drain(); err != nil {
				log.Warn("nats drain", "error", err)
			}
		}()
	}

	store, err := openStorage(ctx, cfg, queue, metrics, log)
	if err != nil {
		return err
	}
	defer store.close()
	if queue != nil {
		store.checks["nats"] = func(context.Context) error {
			if !queue.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		}
	}

	// --- Models ---

	modelDir := "."
	if cfg.Models.File != "" {
		modelDir = filepath.Dir(cfg.Models.File)
	}
	resolver, err := service.NewModelResolver(modelfile.NewLoader(modelDir), cfg.Models.Chains,
		service.WithLoadTimeout(cfg.Models.LoadTimeout),
		service.WithResolverLogger(log.With("component", "models")),
		service.WithDefaultRules(cfg.Models.Rules),
		service.WithFallbackHook(metrics.RecordFallback),
	)
	if err != nil {
		return fmt.Errorf("models: %w", err)
	}
	watcher := service.NewModelWatcher(cfg.Models.File, cfg.Models.Chains, resolver, log.With("component", "models"))
	if cfg.Models.File != "" {
		if err := watcher.ReloadNow(); err != nil {
			return fmt.Errorf("models file: %w", err)
		}
		if cfg.Models.Watch {
			go func() {
				if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("model watcher stopped", "error", err)
				}
			}()
		}
	}

	// --- Services ---

	hub := ws.NewHub(cfg.Server.CORSOrigin, log.With("component", "ws"))
	defer hub.Close()

	traceOpts := []service.TraceOption{
		service.WithTraceBuffer(cfg.Trace.BufferSize),
		service.WithTraceWriteTimeout(cfg.Trace.WriteTimeout),
		service.WithTraceLogger(log.With("component", "trace")),
	}
	if queue != nil {
		traceOpts = append(traceOpts, service.WithTracePublisher(queue))
	}
	exporter, err := service.NewTraceExporter(cfg.Trace.Dir, traceOpts...)
	if err != nil {
		return fmt.Errorf("trace exporter: %w", err)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), cfg.Trace.WriteTimeout)
		defer cancel()
		if err := exporter.Close(cctx); err != nil {
			log.Warn("trace exporter close", "error", err)
		}
	}()

	var llm stages.Completer
	if cfg.LiteLLM.URL != "" {
		vault, err := secrets.NewVault(secrets.WithDefaults(
			secrets.EnvLoader(masterKeyEnv),
			map[string]string{masterKeyEnv: cfg.LiteLLM.MasterKey},
		))
		if err != nil {
			return fmt.Errorf("secrets: %w", err)
		}
		go reloadOnHangup(ctx, vault, log)

		client := litellm.NewClient(cfg.LiteLLM.URL, "", cfg.LiteLLM.Timeout)
		client.SetKeySource(vault.Source(masterKeyEnv))
		client.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout,
			resilience.WithName("litellm"),
			resilience.WithLogger(log),
		))
		store.checks["litellm"] = func(ctx context.Context) error {
			_, err := client.Health(ctx)
			return err
		}
		llm = client
		log.Info("explanations use litellm",
			"url", cfg.LiteLLM.URL,
			"model", cfg.LiteLLM.Model,
			"key", vault.Redacted(masterKeyEnv),
		)
	}

	deps := service.Deps{
		Store:       store.cache,
		Workers:     stages.Workers(cfg.Stages, resolver, llm, cfg.LiteLLM.Model, log.With("component", "stages")),
		Router:      service.NewConfidenceRouter(cfg.Router, nil),
		Trace:       exporter,
		Broadcaster: hub,
		Metrics:     metrics,
		Logger:      log.With("component", "orchestrator"),
	}
	if queue != nil {
		deps.Publisher = queue
	}
	orch, err := service.NewOrchestrator(deps, cfg.Pipeline)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.DrainTimeout)
		defer cancel()
		if err := orch.Close(dctx); err != nil {
			log.Warn("orchestrator drain incomplete", "error", err, "in_flight", orch.InFlight())
		}
	}()

	if queue != nil {
		cancelSubmit, err := queue.Subscribe(ctx, messagequeue.SubjectApplicationSubmit, orch.HandleSubmitMessage)
		if err != nil {
			return fmt.Errorf("submit subscriber: %w", err)
		}
		defer cancelSubmit()

		cancelReload, err := queue.Subscribe(ctx, messagequeue.SubjectModelReload, watcher.HandleReloadMessage)
		if err != nil {
			return fmt.Errorf("reload subscriber: %w", err)
		}
		defer cancelReload()
	}

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Applications: orch,
		Models:       resolver,
		Checks:       store.checks,
		Version:      version,
	}

	limiter := middleware.NewRateLimiterFromConfig(cfg.Rate)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(log.With("component", "http")))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(cfg.Server.CORSOrigin))
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))

	// WebSocket endpoint (no request timeout)
	r.Get("/ws", hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(limiter.Handler)
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
		cfhttp.MountRoutes(r, handlers)
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down server")
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// reloadOnHangup reloads secrets on SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, vault *secrets.Vault, log *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := vault.Reload(); err != nil {
				log.Error("secret reload failed", "error", err)
				continue
			}
			log.Info("secrets reloaded")
		}
	}
}
