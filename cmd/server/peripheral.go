package main

import (
	"hcen_sync/internal/auth"
	"hcen_sync/internal/cache"
	"hcen_sync/internal/client"
	"hcen_sync/internal/handlers"
	"hcen_sync/internal/kafka"
	"hcen_sync/internal/metrics"
	"hcen_sync/internal/repository"
	"hcen_sync/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type peripheral struct {
	docs      *service.DocumentService
	access    *service.AccessRequestService
	scheduler *service.RetryScheduler
	confirm   *service.ConfirmationService
	tokens    *auth.TokenService
	closers   []func() error
}

func (p *peripheral) close(l *zap.Logger) {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			l.Warn("close failed", zap.Error(err))
		}
	}
}

// buildPeripheral собирает зависимости клиники. pool закрывает вызывающий.
func buildPeripheral(a *app, db repository.DB, redisCache *cache.RedisCache) (*peripheral, error) {
	cfg := a.cfg

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers)
	if err != nil {
		return nil, err
	}

	documents := repository.NewDocumentRepository(db)
	pending := repository.NewPendingRepository(db)
	requests := repository.NewAccessRequestRepository(db)

	tokens := auth.NewTokenService(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	central := client.NewCentralClient(cfg.Central.BaseURL, cfg.Central.Timeout, tokens, a.logger)

	syncProducer := service.NewSyncProducer(pending, producer, cfg.Kafka.DocumentSyncTopic, a.logger)

	return &peripheral{
		docs:   service.NewDocumentService(documents, pending, syncProducer, a.logger),
		access: service.NewAccessRequestService(requests, documents, central, central, cfg.Access.RequestWindow, a.logger),
		scheduler: service.NewRetryScheduler(pending, documents, syncProducer, redisCache, service.RetrySchedulerConfig{
			MaxAttempts:   cfg.Retry.MaxAttempts,
			BatchSize:     cfg.Retry.BatchSize,
			Interval:      cfg.Retry.Interval,
			RetentionDays: cfg.Retry.RetentionDays,
			CleanupEvery:  cfg.Retry.CleanupEvery,
			LockTTL:       cfg.Retry.LockTTL,
		}, a.logger),
		confirm: service.NewConfirmationService(documents, pending, a.logger),
		tokens:  tokens,
		closers: []func() error{producer.Close},
	}, nil
}

func newPeripheralCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "peripheral",
		Short: "Узел клиники: документы, журнал синхронизации, запросы доступа",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg := a.cfg
			metrics.Register()

			pool, err := repository.NewPool(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			redisCache := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			defer redisCache.Close()

			p, err := buildPeripheral(a, pool, redisCache)
			if err != nil {
				return err
			}
			defer p.close(a.logger)

			consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.PeripheralGroupID, cfg.Kafka.ConfirmationTopic, p.confirm, a.logger)
			if err != nil {
				return err
			}
			defer consumer.Close()

			metrics.StartDBCollectors(ctx, pool, cfg.DB.CollectInterval, a.logger)
			cache.StartRedisSizeCollector(ctx, redisCache.RawClient(), 0, a.logger)

			r := handlers.NewRouter()
			handlers.RegisterPeripheralRoutes(r,
				handlers.NewPeripheralHandler(p.docs, p.access, p.scheduler, a.logger),
				auth.Middleware(p.tokens, a.logger),
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return consumer.Start(gctx) })
			g.Go(func() error { return p.scheduler.Start(gctx) })
			serve(gctx, g, a, r)

			a.logger.Info("peripheral started", zap.String("port", cfg.HTTP.Port))
			return g.Wait()
		},
	}
}

// force-sync - разовый sweep журнала, например из cron.
func newForceSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "force-sync",
		Short: "Однократно переотправить PENDING/ERROR записи журнала",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			pool, err := repository.NewPool(ctx, a.cfg.DB.DSN, a.cfg.DB.MaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			redisCache := cache.NewRedisCache(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
			defer redisCache.Close()

			p, err := buildPeripheral(a, pool, redisCache)
			if err != nil {
				return err
			}
			defer p.close(a.logger)

			n, err := p.scheduler.RunOnce(ctx)
			if err != nil {
				return err
			}
			a.logger.Info("force sync finished", zap.Int("retried", n))
			return nil
		},
	}
}
