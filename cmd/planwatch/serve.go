package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/planwatch/internal/alerting"
	"github.com/alexanderramin/planwatch/internal/calendar"
	"github.com/alexanderramin/planwatch/internal/config"
	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/escalation"
	"github.com/alexanderramin/planwatch/internal/httpapi"
	"github.com/alexanderramin/planwatch/internal/impact"
	"github.com/alexanderramin/planwatch/internal/merge"
	"github.com/alexanderramin/planwatch/internal/metrics"
	"github.com/alexanderramin/planwatch/internal/notify"
	"github.com/alexanderramin/planwatch/internal/recalc"
	"github.com/alexanderramin/planwatch/internal/repository"
	"github.com/alexanderramin/planwatch/internal/scheduler"
	"github.com/alexanderramin/planwatch/internal/token"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when configured, the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	uow := db.NewSQLiteUnitOfWork(database)
	reg := metrics.NewRegistry()
	resources := repository.NewSQLiteResourceRepo(database)
	resolver := escalation.NewResolver(resources,
		repository.NewSQLiteSettingsRepo(database), cfg.OpsEscalationEmail)
	tokens := token.NewService([]byte(cfg.JWTSecret),
		repository.NewSQLiteResponseTokenRepo(database))
	cal := calendar.New(repository.NewSQLiteHolidayRepo(database))

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.ChatWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.ChatWebhookURL)
	}

	orch := alerting.NewOrchestrator(alerting.Config{
		Conn:     database,
		UoW:      uow,
		Calendar: cal,
		Resolver: resolver,
		Tokens:   tokens,
		Analyzer: impact.NewAnalyzer(repository.NewSQLiteWorkItemRepo(database),
			repository.NewSQLiteDependencyRepo(database), resources),
		Notifier:        notifier,
		Metrics:         reg,
		Logger:          logger,
		FrontendBaseURL: cfg.FrontendBaseURL,
	})

	server := httpapi.NewServer(httpapi.Config{
		Conn:        database,
		UoW:         uow,
		Merger:      merge.NewEngine(database, uow, logger),
		Recalc:      recalc.NewEngine(database, uow, logger),
		Orch:        orch,
		Tokens:      tokens,
		Resolver:    resolver,
		Metrics:     reg,
		Logger:      logger,
		MaxUploadMB: cfg.MaxUploadMB,
		CORSOrigins: cfg.CORSOrigins,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.EnableScheduler && cfg.RunScheduler {
		monitor := scheduler.NewMonitor(cfg.JobFailureAlertThreshold, time.Hour,
			notifier, cfg.OpsEscalationEmail, logger)
		sched := scheduler.New(scheduler.Config{
			Timezone: cfg.Timezone(),
			Monitor:  monitor,
			Metrics:  reg,
			Logger:   logger,
		})
		sched.WireAlerting(orch, cal, cfg.DefaultCountry, cfg.AlertBatchSize)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	} else {
		logger.Info("scheduler disabled on this instance",
			"enable_scheduler", cfg.EnableScheduler, "run_scheduler", cfg.RunScheduler)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
