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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"barpos/backend/internal/cache"
	"barpos/backend/internal/config"
	"barpos/backend/internal/domain"
	"barpos/backend/internal/feed"
	"barpos/backend/internal/httpapi"
	"barpos/backend/internal/logging"
	"barpos/backend/internal/metrics"
	"barpos/backend/internal/payment"
	"barpos/backend/internal/service"
	"barpos/backend/internal/store"
	"barpos/backend/internal/store/memory"
	pgstore "barpos/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(startCtx); err != nil {
			logger.Fatal("postgres migration failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository ready", zap.String("kind", "postgres"))
	} else {
		repo = memory.NewSeeded(logger)
		logger.Info("repository ready", zap.String("kind", "memory"))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	hub := feed.NewHub(logger)
	var publisher feed.Publisher = hub
	reports := cache.ReportCache(cache.NoopReportCache{})

	if cfg.RedisAddr != "" {
		bridge := feed.NewRedisBridge(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, hub, logger)
		if err := bridge.Ping(startCtx); err != nil {
			logger.Warn("redis unavailable, events stay local", zap.Error(err))
			_ = bridge.Close()
		} else {
			publisher = bridge
			closers = append(closers, bridge.Close)
			go bridge.Run(rootCtx)
			logger.Info("event feed bridged through redis", zap.String("addr", cfg.RedisAddr))
		}

		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(startCtx); err != nil {
			logger.Warn("redis unavailable, report cache disabled", zap.Error(err))
			_ = redisCache.Close()
		} else {
			reports = redisCache
			closers = append(closers, redisCache.Close)
		}
	}

	var gateway payment.Gateway = payment.StaticGateway{}
	if cfg.Mpesa.Enabled() {
		gateway = payment.NewMpesaClient(payment.MpesaConfig{
			BaseURL:        cfg.Mpesa.BaseURL,
			ConsumerKey:    cfg.Mpesa.ConsumerKey,
			ConsumerSecret: cfg.Mpesa.ConsumerSecret,
			ShortCode:      cfg.Mpesa.ShortCode,
			Passkey:        cfg.Mpesa.Passkey,
			CallbackURL:    cfg.Mpesa.CallbackURL,
		}, logger.Named("mpesa"))
		logger.Info("payment gateway ready", zap.String("kind", "mpesa"), zap.String("base_url", cfg.Mpesa.BaseURL))
	} else {
		logger.Warn("mpesa credentials missing, using the static gateway; confirm payments through the callback or reconciliation")
	}

	svc := service.New(repo, service.Options{
		Settings:          cfg.Business,
		LowStockThreshold: cfg.LowStockThreshold,
		PaymentTimeout:    time.Duration(cfg.PaymentTimeoutSeconds) * time.Second,
		ReportCacheTTL:    time.Duration(cfg.ReportCacheSeconds) * time.Second,
		Gateway:           gateway,
		Feed:              publisher,
		Cache:             reports,
		Metrics:           m,
		Logger:            logger.Named("service"),
	})
	if err := svc.BootstrapAdmin(startCtx, cfg.AdminPIN); err != nil {
		logger.Fatal("bootstrap admin account", zap.Error(err))
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, svc)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		CallbackToken: cfg.Mpesa.CallbackToken,
		Feed:          hub,
		Metrics:       m,
		Logger:        logger.Named("http"),
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go expirePayments(rootCtx, svc, logger, 15*time.Second)

	go func() {
		logger.Info("bar POS backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// expirePayments moves intents whose callback never arrived to UNCONFIRMED
// so an admin can reconcile them.
func expirePayments(ctx context.Context, svc *service.Service, logger *zap.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.ExpireStalePayments(ctx)
			if err != nil {
				logger.Warn("payment expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("payment intents marked unconfirmed", zap.Int("count", n))
			}
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AdminPIN == "" {
		return fmt.Errorf("ADMIN_PIN must be set")
	}
	if err := domain.CheckPIN(cfg.AdminPIN); err != nil {
		return fmt.Errorf("ADMIN_PIN is too weak: %w", err)
	}
	return nil
}
