package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/redis/go-redis/v9"
	"github.com/ucp-labs/pipetrack/internal/analytics"
	"github.com/ucp-labs/pipetrack/internal/api"
	"github.com/ucp-labs/pipetrack/internal/config"
	"github.com/ucp-labs/pipetrack/internal/demo"
	"github.com/ucp-labs/pipetrack/internal/idempotency"
	"github.com/ucp-labs/pipetrack/internal/pipeline"
	"github.com/ucp-labs/pipetrack/internal/tracker"
	"github.com/ucp-labs/pipetrack/internal/velocity"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "path to pipetrack.yaml (optional)")
	demoFlag := flag.Bool("demo", false, "emit synthetic checkout sessions")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *demoFlag {
		cfg.Demo.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := mustBuildLogger(cfg.Log.Level)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting pipetrack server",
		zap.String("http_port", cfg.Server.Port),
		zap.Bool("demo", cfg.Demo.Enabled),
	)

	registry := pipeline.NewRegistry()

	// Redis client is shared by the event log, idempotency, and velocity
	// backends when an address is configured.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("failed to ping redis", zap.Error(err))
		}
		defer func() { _ = rdb.Close() }()
		logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	// Event log backend: Redis, then Postgres, then in-memory fallback.
	var eventLog tracker.EventLog
	switch {
	case rdb != nil:
		eventLog = tracker.NewRedisLog(rdb)
		logger.Info("using redis event log")
	case cfg.Postgres.DSN != "":
		db, err := sql.Open("pgx", cfg.Postgres.DSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pgLog := tracker.NewPostgresLog(db)
		if err := pgLog.Migrate(context.Background()); err != nil {
			logger.Fatal("postgres migration failed", zap.Error(err))
		}
		eventLog = pgLog
		logger.Info("using postgres event log")
	default:
		eventLog = tracker.NewMemoryLog()
		logger.Info("no redis or postgres configured, using in-memory event log")
	}

	var idempStore idempotency.Store
	var velocityStore velocity.Store
	if rdb != nil {
		idempStore = idempotency.NewRedisStore(rdb, cfg.Idempotency.TTL)
		velocityStore = velocity.NewRedisStore(rdb, cfg.Velocity.Window)
	} else {
		idempStore = idempotency.NewMemoryStore()
		velocityStore = velocity.NewMemoryStore()
	}

	// Analytics sink: ClickHouse or LogWriter fallback
	var writer analytics.Writer
	if cfg.ClickHouse.DSN != "" {
		chWriter, err := analytics.NewClickHouseWriter(cfg.ClickHouse.DSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = analytics.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = analytics.NewLogWriter(logger)
		logger.Info("no clickhouse DSN set, using log writer")
	}
	defer writer.Close()

	var reader *analytics.Reader
	if cfg.ClickHouse.DSN != "" {
		reader, err = analytics.NewReader(cfg.ClickHouse.DSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
			reader = nil
		} else {
			defer func() { _ = reader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	tr := tracker.New(eventLog, registry)

	deps := &api.Dependencies{
		Tracker:     tr,
		Idempotency: idempStore,
		Velocity:    velocityStore,
		Writer:      writer,
		Reader:      reader,
		Logger:      logger,
	}
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	demoCtx, demoCancel := context.WithCancel(context.Background())
	defer demoCancel()
	if cfg.Demo.Enabled {
		gen := demo.NewGenerator(tr, idempStore, registry, cfg.Demo.Interval, logger)
		go gen.Run(demoCtx)
		logger.Info("demo generator enabled", zap.Duration("interval", cfg.Demo.Interval))
	}

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	demoCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("pipetrack server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
