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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/erp-admin/config"
	"github.com/jwalitptl/erp-admin/internal/alert"
	"github.com/jwalitptl/erp-admin/internal/auth"
	"github.com/jwalitptl/erp-admin/internal/cache"
	"github.com/jwalitptl/erp-admin/internal/handler/health"
	lookuphandler "github.com/jwalitptl/erp-admin/internal/handler/lookup"
	notificationhandler "github.com/jwalitptl/erp-admin/internal/handler/notification"
	promhandler "github.com/jwalitptl/erp-admin/internal/handler/prometheus"
	"github.com/jwalitptl/erp-admin/internal/lookup"
	"github.com/jwalitptl/erp-admin/internal/middleware"
	"github.com/jwalitptl/erp-admin/internal/model"
	"github.com/jwalitptl/erp-admin/internal/notification"
	"github.com/jwalitptl/erp-admin/internal/outbox"
	"github.com/jwalitptl/erp-admin/internal/realtime"
	"github.com/jwalitptl/erp-admin/internal/repository/postgres"
	"github.com/jwalitptl/erp-admin/internal/router"
	"github.com/jwalitptl/erp-admin/internal/scheduler"
	"github.com/jwalitptl/erp-admin/pkg/email"
	"github.com/jwalitptl/erp-admin/pkg/event"
	"github.com/jwalitptl/erp-admin/pkg/logger"
	"github.com/jwalitptl/erp-admin/pkg/messaging"
	"github.com/jwalitptl/erp-admin/pkg/messaging/redis"
	"github.com/jwalitptl/erp-admin/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.NewLogger(nil).Fatal(err, "Failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := logger.NewLogger(&logger.Config{
		Level:      level,
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.Log.JSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal(err, "Worker exited")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry, "erp")

	// Database
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(postgres.DSN(cfg.Database)); err != nil {
			return err
		}
		log.Info("database migrations applied")
	}
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	base := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(base)
	notificationRepo := postgres.NewNotificationRepository(base)
	lookupRepo := postgres.NewLookupRepository(base)

	// Events
	events := event.NewRegistry()
	model.RegisterEvents(events)
	bus := event.NewBus()
	uow := outbox.NewUnitOfWork(db, outbox.NewCapturer(outboxRepo, events))

	store := cache.NewStore(10*time.Minute, time.Hour)
	cache.RegisterHandlers(bus, store, log)

	notifications := notification.NewService(notificationRepo, db, log)
	notification.RegisterHandlers(bus, notifications)

	lookups := lookup.NewService(lookupRepo, uow, store, bus, log)
	lookup.RegisterHandlers(bus, lookup.NewHandler(lookupRepo, uow, bus, log))

	// Delivery
	tokens := auth.NewValidator(cfg.JWT.Secret)
	hub := realtime.NewHub(tokens, realtime.HubOptions{WriteTimeout: cfg.Server.WriteTimeout}, log, m)

	var sink notification.Sink = hub
	if cfg.Delivery.Mode != "local" {
		broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), log)
		if err != nil {
			return err
		}
		defer broker.Close()
		adapter := messaging.NewBrokerAdapter(broker, log)
		brokerSink := realtime.NewBrokerSink(adapter, cfg.Redis.Channel)

		switch cfg.Delivery.Mode {
		case "redis":
			// every process, this one included, receives through the relay
			sink = brokerSink
			if err := realtime.NewRelay(adapter, cfg.Redis.Channel, hub, log).Start(ctx); err != nil {
				return err
			}
		case "both":
			sink = realtime.NewFanout(hub, brokerSink)
		}
	}
	sink = realtime.NewRateLimited(sink, cfg.Delivery.RatePerSecond, cfg.Delivery.Burst)

	alerter := deadLetterAlerter(cfg, log)

	// Jobs
	jobs := cfg.BackgroundJobs
	outboxDispatcher := outbox.NewDispatcher(outboxRepo, events, bus, alerter, outbox.Config{
		BatchSize:        jobs.MessageOutbox.BatchSize,
		MaxRetryAttempts: jobs.MessageOutbox.MaxRetryAttempts,
		LockTimeout:      jobs.MessageOutbox.LockTimeout,
		RetryBaseDelay:   jobs.MessageOutbox.RetryBaseDelay,
	}, log.WithFields(map[string]interface{}{"job": scheduler.JobOutboxMessageProcessor}), m)
	notificationDispatcher := notification.NewDispatcher(notificationRepo, sink, alerter, notification.Config{
		BatchSize:   jobs.NotificationProcess.BatchSize,
		MaxRetries:  jobs.NotificationProcess.MaxRetries,
		BackoffUnit: jobs.NotificationProcess.BackoffUnit,
	}, log.WithFields(map[string]interface{}{"job": scheduler.JobNotificationProcess}), m)
	cleaner := outbox.NewCleaner(outboxRepo, jobs.OutboxCleanup.Retention, log)

	sched := scheduler.New(log, m)
	for _, j := range []struct {
		id       string
		schedule string
		fn       scheduler.JobFunc
	}{
		{scheduler.JobOutboxMessageProcessor, jobs.MessageOutbox.Schedule, outboxDispatcher.ProcessOutboxMessages},
		{scheduler.JobNotificationProcess, jobs.NotificationProcess.Schedule, notificationDispatcher.ProcessNotifications},
		{scheduler.JobOutboxCleanup, jobs.OutboxCleanup.Schedule, cleaner.Cleanup},
	} {
		if err := sched.Register(j.id, j.schedule, j.fn); err != nil {
			return err
		}
	}

	// HTTP
	metricsHandler := promhandler.New(registry)
	r := router.NewRouter(middleware.NewAuthMiddleware(tokens), log, router.Config{
		Middleware: []gin.HandlerFunc{metricsHandler.Middleware()},
		Public:     []router.Handler{health.NewHandler(db), metricsHandler, hub},
		Protected: []router.Handler{
			notificationhandler.NewHandler(notifications),
			lookuphandler.NewHandler(lookups),
		},
	})
	r.Setup()

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     r.Engine(),
		ReadTimeout: cfg.Server.ReadTimeout,
		// hub connections are long lived; server.write_timeout bounds each hub write instead
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sched.Start()

	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
	case err := <-serveErr:
		log.Error(err, "http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn(err, "scheduler did not stop cleanly")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(err, "http server did not stop cleanly")
	}
	return nil
}

func deadLetterAlerter(cfg *config.Config, log *logger.Logger) alert.Alerter {
	alerters := alert.Multi{alert.NewLogAlerter(log)}
	if cfg.Alerts.Enabled {
		sender := email.NewSMTPSender(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.Alerts.EmailFrom,
		})
		alerters = append(alerters, alert.NewEmailAlerter(sender, cfg.Alerts.EmailTo))
	}
	return alerters
}
