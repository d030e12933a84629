// Propensity analysis engine: fans one company query out to four
// concurrent research tasks, joins them, scores advertiser propensity,
// and serves the result over HTTP, SSE, and WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/signalworks/propensity/internal/analysis"
	"github.com/signalworks/propensity/internal/auth"
	"github.com/signalworks/propensity/internal/config"
	"github.com/signalworks/propensity/internal/db"
	"github.com/signalworks/propensity/internal/health"
	"github.com/signalworks/propensity/internal/httpapi"
	"github.com/signalworks/propensity/internal/llm"
	"github.com/signalworks/propensity/internal/policy"
	"github.com/signalworks/propensity/internal/research"
	"github.com/signalworks/propensity/internal/session"
	"github.com/signalworks/propensity/internal/streaming"
	"github.com/signalworks/propensity/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to propensity.yaml (default config/propensity.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Configuration first: the log level comes from it.
	cfgMgr, err := config.NewManager(configPath, zap.NewNop())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgMgr.Get()

	logLevel := zap.NewAtomicLevelAt(parseLogLevel(cfg.Logging.Level))
	zcfg := zap.NewProductionConfig()
	zcfg.Level = logLevel
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting propensity analysis engine",
		zap.String("service", cfg.Service.Name),
		zap.Int("port", cfg.Service.Port),
		zap.Duration("run_timeout", cfg.Engine.Timeout),
	)

	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		// Tracing is best-effort; the service runs without it.
		logger.Warn("tracing initialization failed", zap.Error(err))
	}

	// Conversation store (Redis).
	sessions, err := session.NewManager(cfg.Redis.Addr, logger)
	if err != nil {
		return fmt.Errorf("connect conversation store: %w", err)
	}
	defer sessions.Close()

	// History store (Postgres); optional, enabled by configuring a host.
	var historyDB *db.Client
	if cfg.Postgres.Host != "" {
		historyDB, err = db.NewClient(&db.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect history store: %w", err)
		}
		defer historyDB.Close()
	} else {
		logger.Info("history store disabled: no postgres host configured")
	}

	// Event streaming, with the optional Redis Streams mirror.
	streams := streaming.NewManager(cfg.Streaming.RingCapacity)
	if cfg.Streaming.MirrorEnabled {
		addr := cfg.Streaming.MirrorAddr
		if addr == "" {
			addr = cfg.Redis.Addr
		}
		mirror := streaming.NewRedisMirror(redis.NewClient(&redis.Options{Addr: addr}), logger)
		streams.SetMirror(mirror)
		defer mirror.Close()
	}

	// Collaborators: completion provider and web-grounded research agent.
	completion, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("initialize llm client: %w", err)
	}
	searchClient := research.NewSearchClient(cfg.Research, logger)
	agent := research.NewAgent(searchClient, completion, logger)

	// The engine and its run supervisor.
	engine := analysis.NewEngine(completion, agent, streams, logger)
	runner := analysis.NewRunner(engine, analysis.RunnerConfig{
		Timeout:       cfg.Engine.Timeout,
		MaxConcurrent: cfg.Engine.MaxConcurrent,
		RatePerSecond: cfg.Engine.RatePerSecond,
		RateBurst:     cfg.Engine.RateBurst,
	}, logger)
	runner.SetConversationStore(sessions)
	if historyDB != nil {
		runner.SetRecorder(db.NewRecorder(historyDB, logger))
	}

	// Submission gate.
	gate, err := policy.NewEngine(cfg.Policy, logger)
	if err != nil {
		return fmt.Errorf("initialize policy engine: %w", err)
	}

	// Hot reload: log level, run timeout, and policy bundle.
	cfgMgr.OnChange(func(old, updated *config.Config) {
		if old.Logging.Level != updated.Logging.Level {
			logLevel.SetLevel(parseLogLevel(updated.Logging.Level))
			logger.Info("log level updated", zap.String("level", updated.Logging.Level))
		}
		if old.Engine.Timeout != updated.Engine.Timeout {
			runner.SetTimeout(updated.Engine.Timeout)
			logger.Info("run timeout updated", zap.Duration("timeout", updated.Engine.Timeout))
		}
		if gate.Enabled() {
			if err := gate.LoadPolicies(); err != nil {
				logger.Error("policy reload failed", zap.Error(err))
			}
		}
	})
	if err := cfgMgr.Watch(); err != nil {
		logger.Warn("config hot reload unavailable", zap.Error(err))
	}
	defer cfgMgr.Close()

	// Health checks: the conversation store gates readiness, the rest
	// only degrade reported health.
	healthMgr := health.NewManager(cfg.Health.CheckInterval, logger)
	healthMgr.Register(health.NewRedisChecker(sessions.RedisWrapper()), true)
	if historyDB != nil {
		healthMgr.Register(health.NewPostgresChecker(historyDB.Wrapper()), false)
	}
	healthMgr.Register(health.NewCheckFunc("llm", func(context.Context) error {
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("no llm api key configured")
		}
		return nil
	}), false)
	if cfg.Health.Enabled {
		healthMgr.Start()
		defer healthMgr.Stop()
	}

	// Metrics and health on the admin port, unauthenticated.
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	health.NewHTTPHandler(healthMgr, logger).RegisterRoutes(adminMux)
	adminSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.MetricsPort),
		Handler: adminMux,
	}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server failed", zap.Error(err))
		}
	}()

	// API surface behind auth; health stays reachable without credentials
	// so probes work with auth enabled.
	api := httpapi.NewServer(runner, sessions, streams, gate, logger)
	apiMux := http.NewServeMux()
	api.Register(apiMux)

	keys := auth.NewKeyStore(cfg.Auth.APIKeys, logger)
	jwtMgr := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	authMw := auth.NewMiddleware(keys, jwtMgr, cfg.Auth.SkipAuth)

	rootMux := http.NewServeMux()
	health.NewHTTPHandler(healthMgr, logger).RegisterRoutes(rootMux)
	rootMux.Handle("/", authMw.HTTP(apiMux))

	apiSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:           rootMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("api server listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", zap.Error(err))
		}
	}()

	// Wait for a shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting requests, then let in-flight runs finish or cancel.
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", zap.Error(err))
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown", zap.Error(err))
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Warn("runner shutdown", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
