package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/andresuchdata/tripdata-ingest/internal/api"
	"github.com/andresuchdata/tripdata-ingest/internal/config"
	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/andresuchdata/tripdata-ingest/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func runCommand(c *cli.Context) error {
	comp, err := buildComponents(c.Context, c)
	if err != nil {
		return err
	}
	defer comp.Close()

	results, runErr := comp.service.Run(c.Context, c.StringSlice("partition")...)
	if errors.Is(runErr, config.ErrUnknownPartition) {
		return cli.Exit(runErr.Error(), 2)
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("failed to print results: %w", err)
	}

	if runErr != nil {
		return cli.Exit(fmt.Sprintf("pipeline run failed: %v", runErr), 1)
	}
	return nil
}

func listCommand(c *cli.Context) error {
	cfg := config.Load()
	parts, err := loadPartitions(c, cfg)
	if err != nil {
		return err
	}
	selected, err := parts.Select(c.String("partition"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	part := selected[0]
	assets, err := newLister(cfg).ListAssets(c.Context, part.ReleaseURL)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", part.Name, err)
	}
	for _, a := range assets {
		fmt.Fprintln(c.App.Writer, a.URL)
	}
	logger.Log.Info().Str("partition", part.Name).Int("assets", len(assets)).Msg("listed assets")
	return nil
}

func registerCommand(c *cli.Context) error {
	comp, err := buildComponents(c.Context, c)
	if err != nil {
		return err
	}
	defer comp.Close()

	if err := comp.service.Register(c.Context, c.StringSlice("partition")...); err != nil {
		if errors.Is(err, config.ErrUnknownPartition) {
			return cli.Exit(err.Error(), 2)
		}
		return cli.Exit(fmt.Sprintf("registration failed: %v", err), 1)
	}
	return nil
}

func serveCommand(c *cli.Context) error {
	comp, err := buildComponents(c.Context, c)
	if err != nil {
		return err
	}
	defer comp.Close()

	cfg := comp.cfg
	interval := cfg.Pipeline.ScheduleInterval
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}
	port := cfg.Server.Port
	if c.IsSet("port") {
		port = c.String("port")
	}

	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewRouter(&api.Services{
		Ingest:   comp.service,
		Gatherer: comp.gatherer,
	}, cfg.Server.AllowedOrigins, logger.Component("http"))

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(c.Context)

	g.Go(func() error {
		logger.Log.Info().Str("port", port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Log.Info().Dur("interval", interval).Msg("Starting scheduler")
		return comp.service.Schedule(ctx, interval, c.StringSlice("partition")...)
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
		}
		if err := comp.service.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("background runs did not stop: %w", err))
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	logger.Log.Info().Msg("Server exiting")
	return err
}

func partitionsCommand(c *cli.Context) error {
	cfg := config.Load()
	parts, err := loadPartitions(c, cfg)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPREFIX\tTABLE\tSCHEMA\tCOLUMNS\tRELEASE")
	for _, p := range parts.Partitions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			p.Name, p.Prefix, p.Table, schemaVersion(p), len(p.Columns), p.ReleaseURL)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if logger.Log.Debug().Enabled() {
		for _, p := range parts.Partitions {
			logger.Log.Debug().Str("partition", p.Name).Str("columns", strings.Join(p.ColumnNames(), ",")).Msg("partition columns")
		}
	}
	return nil
}

func schemaVersion(p domain.PartitionConfig) string {
	if p.SchemaVersion == "" {
		return "-"
	}
	return p.SchemaVersion
}
