// Package main exports stored cohort series as CSV or markdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"utxo-cohort-lab/internal/config"
	"utxo-cohort-lab/internal/logging"
	"utxo-cohort-lab/internal/reporting"
	"utxo-cohort-lab/internal/storage/backend"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file")
	store := flag.String("store", "", "Column store backend override")
	height := flag.Uint64("height", 0, "Height of the cohort table")
	cohortID := flag.String("cohort", "", "Export the history of one cohort instead of a table")
	from := flag.Uint64("from", 0, "First height of -cohort history")
	to := flag.Uint64("to", 0, "End height (exclusive) of -cohort history; 0 exports every stored height")
	format := flag.String("format", "csv", "Output format: csv or markdown")
	metrics := flag.String("metrics", "", "Comma-separated metrics (default: every metric)")
	output := flag.String("output", "", "Output file (default: stdout)")
	flag.Parse()

	logger, err := logging.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if *store != "" {
		cfg.Store.Backend = *store
	}
	if *format != "csv" && *format != "markdown" {
		logger.Fatal("unknown format", zap.String("format", *format))
	}

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			logger.Fatal("create output", zap.Error(err))
		}
		defer f.Close()
		w = f
	}

	ctx := context.Background()
	stores, err := backend.Open(ctx, cfg, logger.Named("storage"))
	if err != nil {
		logger.Fatal("open stores", zap.Error(err))
	}
	defer stores.Close()

	g := reporting.NewGenerator(stores.Columns, nil)
	if *metrics != "" {
		g.WithMetrics(strings.Split(*metrics, ","))
	}

	if *cohortID != "" {
		end := *to
		if end == 0 {
			end = ^uint64(0)
		}
		err = exportSeries(ctx, w, g, *cohortID, *from, end, *format)
	} else {
		err = exportTable(ctx, w, g, *height, *format)
	}
	if err != nil {
		logger.Fatal("export failed", zap.Error(err))
	}
}

func exportTable(ctx context.Context, w io.Writer, g *reporting.Generator, height uint64, format string) error {
	t, err := g.Generate(ctx, height)
	if err != nil {
		return err
	}
	if format == "markdown" {
		_, err = io.WriteString(w, reporting.RenderMarkdown(t))
		return err
	}
	return reporting.WriteCSV(w, t)
}

func exportSeries(ctx context.Context, w io.Writer, g *reporting.Generator, cohortID string, from, to uint64, format string) error {
	st, err := g.GenerateSeries(ctx, cohortID, from, to)
	if err != nil {
		return err
	}
	if format == "markdown" {
		_, err = io.WriteString(w, reporting.RenderSeriesMarkdown(st))
		return err
	}
	return reporting.WriteSeriesCSV(w, st)
}
