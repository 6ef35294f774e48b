package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antoniostano/donna/internal/automation"
	"github.com/antoniostano/donna/internal/calendar"
	"github.com/antoniostano/donna/internal/classify"
	"github.com/antoniostano/donna/internal/config"
	"github.com/antoniostano/donna/internal/events"
	"github.com/antoniostano/donna/internal/httpapi"
	"github.com/antoniostano/donna/internal/idempotency"
	"github.com/antoniostano/donna/internal/observability"
	"github.com/antoniostano/donna/internal/pipeline"
	"github.com/antoniostano/donna/internal/watcher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := idempotency.NewStore(ctx, cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		log.Fatalf("idempotency store init failed: %v", err)
	}
	defer store.Close()

	client, err := calendar.New(ctx, calendar.Config{
		Mode:         cfg.CalendarProvider,
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleSecret,
		CalendarID:   cfg.GoogleCalendarID,
		TokenFile:    cfg.GoogleTokenFile,
	})
	if err != nil {
		log.Fatalf("calendar client init failed: %v", err)
	}

	classifier, err := classify.New(classify.Config{
		Mode:    cfg.ClassifierMode,
		HTTPURL: cfg.ClassifierHTTPURL,
	})
	if err != nil {
		log.Fatalf("classifier init failed: %v", err)
	}

	runner, err := automation.New(automation.Config{
		Mode:    cfg.AutomationMode,
		HTTPURL: cfg.AutomationHTTPURL,
		Timeout: cfg.AutomationTimeout,
	})
	if err != nil {
		log.Fatalf("automation runner init failed: %v", err)
	}

	feed := pipeline.NewFeed()
	planner := pipeline.NewPlanner(classifier, store, feed, metrics)
	birthday := pipeline.NewBirthday(classifier, runner, store, feed, metrics)
	orchestrator := pipeline.NewOrchestrator(planner, birthday, store, feed, metrics, cfg.SettleDelay)

	w := watcher.New(client, cfg.PollInterval, metrics)
	w.SetLookahead(time.Duration(cfg.LookaheadDays) * 24 * time.Hour)
	w.SetOnNew(func(ctx context.Context, fresh []events.Event) {
		// Orchestrate over the full snapshot, not just the fresh events, so
		// an event stuck between stages gets picked up on the next tick too.
		current, err := w.Snapshot(ctx)
		if err != nil {
			log.Printf("snapshot after detection failed, using fresh events only: %v", err)
			current = fresh
		}
		orchestrator.Orchestrate(ctx, current)
	})

	api := httpapi.New(cfg, w, orchestrator, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	w.Start(runCtx)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	w.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
