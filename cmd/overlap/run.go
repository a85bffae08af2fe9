package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/storm-overlap-engine/internal/adapter/csvtable"
	httpadapter "github.com/couchcryptid/storm-overlap-engine/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/storm-overlap-engine/internal/adapter/kafka"
	"github.com/couchcryptid/storm-overlap-engine/internal/adapter/sqlite"
	"github.com/couchcryptid/storm-overlap-engine/internal/config"
	"github.com/couchcryptid/storm-overlap-engine/internal/geo"
	"github.com/couchcryptid/storm-overlap-engine/internal/grid"
	"github.com/couchcryptid/storm-overlap-engine/internal/ingest"
	"github.com/couchcryptid/storm-overlap-engine/internal/observability"
	"github.com/couchcryptid/storm-overlap-engine/internal/overlap"
	"github.com/couchcryptid/storm-overlap-engine/internal/pipeline"
)

type runFlags struct {
	inputs inputFlags
	out    string
	sqlite string
	serve  bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate overlaps, classify tracks and write the result tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			f.inputs.apply(cfg)
			override(&cfg.OutputDir, f.out)
			override(&cfg.SQLitePath, f.sqlite)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runOnce(cmd.Context(), cfg, f.serve)
		},
	}
	f.inputs.register(cmd)
	cmd.Flags().StringVar(&f.out, "out", "", "output directory for the CSV tables (OUTPUT_DIR)")
	cmd.Flags().StringVar(&f.sqlite, "sqlite", "", "also archive the run in this SQLite file (SQLITE_PATH)")
	cmd.Flags().BoolVar(&f.serve, "serve", false, "keep the HTTP server up after the run until interrupted")
	return cmd
}

func runOnce(parent context.Context, cfg *config.Config, serve bool) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in, err := ingest.NewLoader(cfg, logger, metrics).Load(ctx)
	if err != nil {
		return err
	}

	eval, err := overlap.NewEvaluator(overlap.Config{
		Metric:    geo.New(cfg.MetricMode),
		RadiusDeg: cfg.RadiusDeg,
		Aligner:   cfg.Aligner(),
		Required:  cfg.Required,
		Variant:   cfg.Variant,
		Grid:      grid.Options{Bounds: cfg.Bounds, Mask: in.Mask},
		CacheSize: cfg.CacheSize,
	}, in.Sources)
	if err != nil {
		return fmt.Errorf("configure evaluator: %w", err)
	}

	sinks, err := buildSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks(logger, sinks)

	p := pipeline.New(eval, sinks, logger, metrics, pipeline.Options{
		Workers:      cfg.Workers,
		SustainHours: cfg.SustainHours,
		ExportCells:  cfg.ExportCells,
	})

	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer shutdownServer(cfg, logger, srv)
	}

	if _, err := p.Run(ctx, in.Tracks); err != nil {
		return err
	}

	if serve && srv != nil {
		logger.Info("run complete, serving until interrupted", "addr", cfg.HTTPAddr)
		<-ctx.Done()
		logger.Info("shutting down")
	}
	return nil
}

func buildSinks(cfg *config.Config, logger *slog.Logger) ([]pipeline.Sink, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	sinks := []pipeline.Sink{csvtable.NewWriter(cfg.OutputDir, csvtable.Files{
		Overlap:    cfg.OverlapFile,
		Persistent: cfg.PersistentFile,
		Transient:  cfg.TransientFile,
		Cells:      cfg.CellsFile,
	}, cfg.ExportCells)}

	if cfg.SQLitePath != "" {
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, store)
		logger.Info("sqlite archive enabled", "path", cfg.SQLitePath)
	}
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, kafkaadapter.NewWriter(cfg, logger))
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	return sinks, nil
}

func closeSinks(logger *slog.Logger, sinks []pipeline.Sink) {
	for _, s := range sinks {
		c, ok := s.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			logger.Error("sink close error", "sink", s.Name(), "error", err)
		}
	}
}

func shutdownServer(cfg *config.Config, logger *slog.Logger, srv *httpadapter.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
