package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aurora-erp/aurora-sync/internal/app"
	"github.com/aurora-erp/aurora-sync/internal/billing"
	"github.com/aurora-erp/aurora-sync/internal/custmatch"
	jobmetrics "github.com/aurora-erp/aurora-sync/internal/jobs"
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
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	billingService := billing.NewService(
		billing.NewRepository(pool), remote, billing.NewOrderRepository(pool),
		billing.ServiceConfig{
			Quotes:          billing.NewQuoteRepository(pool),
			Events:          publisher,
			StatusBatchSize: cfg.StatusSyncBatchSize,
			StatusCallDelay: cfg.StatusSyncCallDelay,
		}, logger)

	customerService := custmatch.NewService(
		custmatch.NewLinkRepository(pool),
		custmatch.NewCustomerRepository(pool),
		remote, publisher, logger)

	stockService := stock.NewService(remote,
		stock.NewRepository(pool), stock.NewCatalogRepository(pool),
		stock.NewCache(redisClient, cfg.StockCacheTTL), publisher, logger)

	monitorService := syncmon.NewService(syncmon.NewRepository(pool), logger)

	engines := &jobs.Engines{
		Billing:              billingService,
		Stock:                stockService,
		Customers:            customerService,
		Monitor:              monitorService,
		Metrics:              jobmetrics.NewMetrics(nil),
		Logger:               logger,
		CustomerLookbackDays: cfg.CustomerLookbackDays,
		PriceLookbackDays:    cfg.PriceLookbackDays,
	}

	now := time.Now().UTC()
	stockTask, err := jobs.NewStockSyncTask(now, syncmon.TriggerScheduled)
	if err != nil {
		logger.Error("build stock sync task", slog.Any("error", err))
		os.Exit(1)
	}
	statusTask, err := jobs.NewInvoiceStatusTask(now, syncmon.TriggerScheduled)
	if err != nil {
		logger.Error("build status sync task", slog.Any("error", err))
		os.Exit(1)
	}
	customerTask, err := jobs.NewCustomerSyncTask(now, syncmon.TriggerScheduled, cfg.CustomerLookbackDays)
	if err != nil {
		logger.Error("build customer sync task", slog.Any("error", err))
		os.Exit(1)
	}
	priceTask, err := jobs.NewPriceExtractTask(now, syncmon.TriggerScheduled, cfg.PriceLookbackDays, string(stock.StrategyLatest))
	if err != nil {
		logger.Error("build price extract task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers:  engines.Handlers(),
		Cron: []jobs.CronRegistration{
			{Spec: cfg.StockSyncCron, Task: stockTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.StatusSyncCron, Task: statusTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.CustomerSyncCron, Task: customerTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.PriceExtractCron, Task: priceTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
