package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-process/cron"
	"github.com/goliatone/go-process/job"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServeCmd runs the job executor until interrupted. When history.schedule
// is set, history cleanup runs on that cron expression. CleanupAfter adds a
// single cleanup shortly after startup.
type ServeCmd struct {
	MetricsAddr     string        `help:"Serve Prometheus metrics on this address, e.g. :9090."`
	ShutdownTimeout time.Duration `default:"30s" help:"How long to wait for running jobs on shutdown."`
	CleanupAfter    time.Duration `help:"Run one history cleanup this long after startup."`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return c.serve(ctx, g)
}

func (c *ServeCmd) serve(ctx context.Context, g *Globals) (err error) {
	reg := prometheus.NewRegistry()
	g.execOps = append(g.execOps, job.WithMetrics(job.NewPrometheusMetrics(reg)))
	s, err := g.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.engine.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	logger := s.logger.WithContext(ctx)

	scheduler := cron.NewScheduler(cron.WithLogger(s.logger), cron.WithErrorHandler(func(err error) {
		logger.Error("history cleanup failed: %v", err)
	}))
	if _, err := c.scheduleCleanup(ctx, scheduler, s); err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	for name, next := range scheduler.Entries() {
		logger.Info("%s next run at %s", name, next.Format(time.RFC3339))
	}

	var server *http.Server
	if c.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server = &http.Server{Addr: c.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed: %v", err)
			}
		}()
		logger.Info("metrics listening on %s", c.MetricsAddr)
	}

	runErr := s.engine.Executor().Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("cron scheduler stop: %v", err)
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown: %v", err)
		}
	}
	return runErr
}

// scheduleCleanup registers the recurring cleanup from the configuration and
// the one-off cleanup requested by CleanupAfter.
func (c *ServeCmd) scheduleCleanup(ctx context.Context, scheduler *cron.Scheduler, s *session) ([]cron.Handle, error) {
	logger := s.logger.WithContext(ctx)
	retention := s.cfg.History.Retention
	cleanup := func(ctx context.Context) error {
		report, err := s.engine.CleanupHistory(ctx, retention)
		if err != nil {
			return err
		}
		logger.Info("history cleanup removed %d instances and %d batches", report.Instances, report.Batches)
		return nil
	}

	var handles []cron.Handle
	if expr := s.cfg.History.Schedule; expr != "" {
		h, err := scheduler.ScheduleCron(cron.Schedule{Name: "history-cleanup", Expression: expr, MaxRetries: 1}, cleanup)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
		logger.Info("history cleanup scheduled at %q keeping %s", expr, retention)
	}
	if c.CleanupAfter > 0 {
		h, err := scheduler.ScheduleAfter(c.CleanupAfter, cron.Schedule{Name: "history-cleanup-once", MaxRetries: 1}, cleanup)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}
