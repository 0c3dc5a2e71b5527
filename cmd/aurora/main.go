package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aurora-erp/aurora-sync/internal/app"
	"github.com/aurora-erp/aurora-sync/internal/billing"
	"github.com/aurora-erp/aurora-sync/internal/custmatch"
	"github.com/aurora-erp/aurora-sync/internal/observability"
	"github.com/aurora-erp/aurora-sync/internal/platform/cache"
	"github.com/aurora-erp/aurora-sync/internal/platform/db"
	"github.com/aurora-erp/aurora-sync/internal/platform/events"
	"github.com/aurora-erp/aurora-sync/internal/smartbill"
	"github.com/aurora-erp/aurora-sync/internal/stock"
	"github.com/aurora-erp/aurora-sync/internal/syncmon"
	"github.com/aurora-erp/aurora-sync/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	remote := smartbill.New(smartbill.Config{
		BaseURL:     cfg.SmartBillBaseURL,
		Username:    cfg.SmartBillUsername,
		Token:       cfg.SmartBillToken,
		CompanyVAT:  cfg.SmartBillCompanyVAT,
		Timeout:     cfg.SmartBillTimeout,
		MaxAttempts: cfg.SmartBillMaxAttempts,
		BaseDelay:   cfg.SmartBillBaseDelay,
		CallsPerMin: cfg.SmartBillCallsPerMin,
		Logger:      logger,
	})

	publisher := events.NewRedisPublisher(redisClient, cfg.EventChannel)

	billingRepo := billing.NewRepository(dbpool)
	orderRepo := billing.NewOrderRepository(dbpool)
	quoteRepo := billing.NewQuoteRepository(dbpool)
	billingService := billing.NewService(billingRepo, remote, orderRepo, billing.ServiceConfig{
		Quotes:          quoteRepo,
		Events:          publisher,
		StatusBatchSize: cfg.StatusSyncBatchSize,
		StatusCallDelay: cfg.StatusSyncCallDelay,
	}, logger)
	billingHandler := billing.NewHandler(logger, billingService)

	linkRepo := custmatch.NewLinkRepository(dbpool)
	customerRepo := custmatch.NewCustomerRepository(dbpool)
	customerService := custmatch.NewService(linkRepo, customerRepo, remote, publisher, logger)
	customerHandler := custmatch.NewHandler(logger, customerService, linkRepo)

	stockRepo := stock.NewRepository(dbpool)
	catalogRepo := stock.NewCatalogRepository(dbpool)
	stockCache := stock.NewCache(redisClient, cfg.StockCacheTTL)
	stockService := stock.NewService(remote, stockRepo, catalogRepo, stockCache, publisher, logger)
	stockHandler := stock.NewHandler(logger, stockService)

	monitorRepo := syncmon.NewRepository(dbpool)
	monitorService := syncmon.NewService(monitorRepo, logger)
	monitorHandler := syncmon.NewHandler(logger, monitorService)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		BillingHandler:  billingHandler,
		CustomerHandler: customerHandler,
		StockHandler:    stockHandler,
		MonitorHandler:  monitorHandler,
		JobHandler:      jobHandler,
		Pool:            dbpool,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
