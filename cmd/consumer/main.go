package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dinnerconnect/notifier/internal/api"
	"github.com/dinnerconnect/notifier/internal/config"
	"github.com/dinnerconnect/notifier/internal/email"
	"github.com/dinnerconnect/notifier/internal/logging"
	"github.com/dinnerconnect/notifier/internal/metrics"
	"github.com/dinnerconnect/notifier/internal/queue"
	"github.com/dinnerconnect/notifier/internal/ratelimiter"
	"github.com/dinnerconnect/notifier/internal/worker"
)

func main() {
	boot, _ := zap.NewProduction()

	// ---- configuration ----
	cfg, err := config.Load()
	if err == nil {
		err = cfg.RequireSMTP()
	}
	if err != nil {
		boot.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		boot.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- queue ----
	q, err := queue.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open queue", zap.Error(err))
	}
	defer func() {
		if err := q.Close(); err != nil {
			logger.Error("queue close error", zap.Error(err))
		}
	}()

	// ---- email ----
	mailer, err := email.NewSMTPMailer(email.SMTPConfig{
		Host:     cfg.SMTPServer,
		Port:     cfg.SMTPPort,
		Username: cfg.EmailSender,
		Password: cfg.EmailPassword,
		TLS:      cfg.SMTPTLS,
		Timeout:  cfg.SMTPTimeout,
	})
	if err != nil {
		logger.Fatal("failed to configure SMTP", zap.Error(err))
	}
	sender := email.NewSender(mailer, cfg.EmailSender)

	// ---- consumer ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	onReceived, onDispatched, onFailed, onDeleted := m.ConsumerHooks()

	consumer := worker.NewConsumer(q, sender, ratelimiter.New(cfg.SendRatePerType), worker.Options{
		BatchSize:  cfg.BatchSize,
		WaitTime:   cfg.WaitTime,
		ErrorPause: cfg.ErrorPause,
		AckPolicy:  worker.AckPolicy(cfg.AckPolicy),
	}, logger, worker.MetricHooks{
		OnReceived:   onReceived,
		OnDispatched: onDispatched,
		OnFailed:     onFailed,
		OnDeleted:    onDeleted,
	})

	// ---- ops HTTP server ----
	srv := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      api.NewOpsRouter(q, reg, m, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		consumer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("ops server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("consumer exited with error", zap.Error(err))
	}
	logger.Info("consumer stopped cleanly")
}
