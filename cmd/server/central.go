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

func newCentralCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "central",
		Short: "Центральный узел HCEN: регистрация документов, уведомления, политики доступа",
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

			producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers)
			if err != nil {
				return err
			}
			defer producer.Close()

			clinicURLs, err := cfg.Central.ClinicURLs()
			if err != nil {
				return err
			}

			histories := repository.NewHistoryRepository(pool)
			policies := repository.NewPolicyRepository(pool)

			tokens := auth.NewTokenService(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
			clinics := client.NewClinicClient(clinicURLs, cfg.Central.Timeout, tokens, a.logger)

			registration := service.NewRegistrationService(histories, redisCache, producer, cfg.Kafka.ConfirmationTopic, cfg.Redis.RegisteredTTL, a.logger)
			decisions := service.NewDecisionService(policies, clinics, cfg.Access.DefaultGrantDays, a.logger)
			notifications := service.NewNotificationService(redisCache, cfg.Redis.InboxSize, a.logger)

			consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.CentralGroupID, cfg.Kafka.DocumentSyncTopic, registration, a.logger)
			if err != nil {
				return err
			}
			defer consumer.Close()

			cache.StartRedisSizeCollector(ctx, redisCache.RawClient(), 0, a.logger)

			r := handlers.NewRouter()
			handlers.RegisterCentralRoutes(r,
				handlers.NewCentralHandler(decisions, notifications, a.logger),
				auth.Middleware(tokens, a.logger),
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return consumer.Start(gctx) })
			serve(gctx, g, a, r)

			a.logger.Info("central started",
				zap.String("port", cfg.HTTP.Port),
				zap.Int("clinics", len(clinicURLs)),
			)
			return g.Wait()
		},
	}
}
