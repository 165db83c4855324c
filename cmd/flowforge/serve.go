package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/flowforge/internal/engine"
	"github.com/rendis/flowforge/internal/metrics"
	"github.com/rendis/flowforge/internal/scheduler"
	"github.com/rendis/flowforge/internal/streaming"
	"github.com/rendis/flowforge/pkg/mcp"
)

func newServeCmd(c *cli) *cobra.Command {
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools over stdio",
		Long: `Serve exposes run, compile, validate, save, get, logs and diagram as MCP tools
over stdio and runs the cron schedules of saved workflows. When metrics_addr
is set it also serves Prometheus metrics at /metrics and live run events as
Server-Sent Events at /events and /runs/{id}/events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), c.app, !noScheduler)
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run cron schedules")
	return cmd
}

func runServe(ctx context.Context, a *app, withScheduler bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log := a.logger

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New(nil)
	hub := streaming.NewMemoryHub()
	pub := streaming.NewPublisher(hub, log)
	ex, err := a.executor(st, engine.Observers{m, pub})
	if err != nil {
		return err
	}
	m.Attach(ex.FSM())
	pub.Attach(ex.FSM())

	var exporter *metrics.Exporter
	if a.cfg.MetricsAddr != "" {
		exporter = metrics.NewExporter(a.cfg.MetricsAddr, m)
		events := streaming.Handler(hub, log)
		exporter.Handle("/events", events)
		exporter.Handle("/runs/", events)
		go func() {
			if err := exporter.Start(); err != nil {
				log.Error("metrics exporter stopped", slog.String("error", err.Error()))
			}
		}()
		log.Info("metrics exporter listening", slog.String("addr", a.cfg.MetricsAddr))
	}

	sched := scheduler.NewScheduler(st, ex, a.cfg.interval(), log)
	if withScheduler {
		if err := sched.RecoverMissed(ctx); err != nil {
			log.Warn("missed job recovery failed", slog.String("error", err.Error()))
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	srv := mcp.NewFlowServer(mcp.FlowServerDeps{
		Executor:  ex,
		Compiler:  a.compiler(false),
		Store:     st,
		Validator: a.validator,
		Scheduler: sched,
		Metrics:   m,
		Events:    hub,
		Logger:    log,
	})
	log.Info("flowforge serving MCP on stdio", slog.String("db", a.cfg.DBPath))
	serveErr := srv.Serve(ctx)

	if withScheduler {
		_ = sched.Stop()
	}
	if exporter != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics exporter shutdown", slog.String("error", err.Error()))
		}
	}
	if errors.Is(serveErr, context.Canceled) {
		return nil
	}
	return serveErr
}
