package main

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"funds-ledger/internal/config"
	"funds-ledger/internal/httpapi"
	"funds-ledger/internal/ledger"
	"funds-ledger/internal/metrics"
	"funds-ledger/internal/store"
	"funds-ledger/internal/store/memstore"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development() {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Encoding = "json"
	zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zcfg.DisableStacktrace = true
	if cfg.LogLevel != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

func openPostgres(ctx context.Context, cfg config.Config, log *zap.Logger) (*pgxpool.Pool, error) {
	log.Info("parsing DB config")
	pcfg, err := pgxpool.ParseConfig(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	pcfg.MaxConns = int32(cfg.DBMaxConns)
	pcfg.MinConns = 1
	pcfg.HealthCheckPeriod = 10 * time.Second
	pcfg.MaxConnLifetime = 30 * time.Minute
	pcfg.MaxConnIdleTime = 5 * time.Minute

	log.Info("connecting to DB", zap.Int("max_conns", cfg.DBMaxConns))
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if cfg.DBMigrate {
		log.Info("running migrations")
		if err := store.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("migrations complete")
	} else {
		log.Info("migrations disabled")
	}
	return pool, nil
}

func main() {
	start := time.Now()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	log, err := newLogger(cfg)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer log.Sync()

	log.Info("startup begin", zap.String("addr", cfg.HTTPAddr), zap.String("storage", cfg.Storage))

	startCtx, startCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer startCancel()

	var storage ledger.Storage
	switch cfg.Storage {
	case config.StorageMemory:
		log.Warn("using in-memory storage; balances are lost on exit")
		storage = memstore.New()
	default:
		pool, err := openPostgres(startCtx, cfg, log)
		if err != nil {
			log.Fatal("db startup failed", zap.Error(err))
		}
		defer pool.Close()
		pg := store.New(pool)
		if seq, head, err := pg.ChainHead(startCtx); err != nil {
			log.Warn("audit chain head unavailable", zap.Error(err))
		} else {
			log.Info("audit chain head", zap.Int64("seq", seq), zap.String("hash", hex.EncodeToString(head[:])))
		}
		storage = pg
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs, err := metrics.NewEngine(reg)
	if err != nil {
		log.Fatal("metrics registration failed", zap.Error(err))
	}

	eng := ledger.NewEngine(storage,
		ledger.WithLogger(log.Named("ledger")),
		ledger.WithObserver(obs),
		ledger.WithMaxRetries(cfg.ConflictRetries),
		ledger.WithReceiverOverdraftGuard(cfg.OverdraftGuard),
	)

	h := httpapi.NewHandlers(eng, log.Named("http"), cfg.RequestTimeout, cfg.SignupBalance)
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.Router(h, httpapi.RouterConfig{
			JWTSecret:      []byte(cfg.JWTSecret),
			MaxInflight:    cfg.HTTPMaxInflight,
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
			Gatherer:       reg,
			Logger:         log.Named("access"),
		}),

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Info("ready",
			zap.Duration("startup", time.Since(start).Truncate(time.Millisecond)),
			zap.String("addr", cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", zap.Error(err))
		}
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
		// In-flight units either commit or roll back; no new requests are accepted.
		shutCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Error("graceful shutdown failed", zap.Error(err))
		}
	}
	log.Info("server exited")
}
