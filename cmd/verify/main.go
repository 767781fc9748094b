// Package main checks stored cohort series against the engine invariants.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"utxo-cohort-lab/internal/config"
	"utxo-cohort-lab/internal/logging"
	"utxo-cohort-lab/internal/storage/backend"
	"utxo-cohort-lab/internal/verification"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file")
	store := flag.String("store", "", "Column store backend override")
	compareConfig := flag.String("compare-config", "", "Config of a second store whose series digests must match")
	maxDivergences := flag.Int("max-divergences", 100, "Divergences to report before truncating")
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

	ctx := context.Background()
	ok, err := run(ctx, cfg, *compareConfig, *maxDivergences, logger)
	if err != nil {
		logger.Fatal("verify failed", zap.Error(err))
	}
	if !ok {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, compareConfig string, limit int, logger *zap.Logger) (bool, error) {
	stores, err := backend.Open(ctx, cfg, logger.Named("storage"))
	if err != nil {
		return false, err
	}
	defer stores.Close()

	v := verification.New(verification.Options{
		Columns:        stores.Columns,
		Checkpoints:    stores.Checkpoints,
		MaxDivergences: limit,
		Logger:         logger.Named("verify"),
	})
	report, err := v.VerifyAll(ctx)
	if err != nil {
		return false, err
	}
	printReport(report)
	ok := report.OK()

	if compareConfig != "" {
		diff, err := compare(ctx, stores, compareConfig, report.Heights, logger)
		if err != nil {
			return false, err
		}
		fmt.Printf("\nDigest comparison: %d differing series\n", len(diff))
		for _, d := range diff {
			fmt.Printf("  - %s\n", d)
		}
		ok = ok && len(diff) == 0
	}
	return ok, nil
}

// compare digests every series of both stores over the first n heights.
func compare(ctx context.Context, stores *backend.Stores, path string, n uint64, logger *zap.Logger) ([]verification.Divergence, error) {
	otherCfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	other, err := backend.Open(ctx, otherCfg, logger.Named("compare"))
	if err != nil {
		return nil, err
	}
	defer other.Close()

	want, err := verification.DigestAll(ctx, stores.Columns, n)
	if err != nil {
		return nil, err
	}
	got, err := verification.DigestAll(ctx, other.Columns, n)
	if err != nil {
		return nil, err
	}
	return verification.CompareDigests(want, got), nil
}

func printReport(r *verification.Report) {
	fmt.Println("=== Verification ===")
	fmt.Printf("Heights: %d\n", r.Heights)
	if r.CheckpointHeight >= 0 {
		fmt.Printf("Checkpoint: %d\n", r.CheckpointHeight)
	}

	checks := make([]string, 0, len(r.Checks))
	for c := range r.Checks {
		checks = append(checks, c)
	}
	sort.Strings(checks)
	for _, c := range checks {
		fmt.Printf("  %-20s %d comparisons\n", c, r.Checks[c])
	}

	if r.OK() {
		fmt.Println("\nAll checks passed.")
		return
	}
	fmt.Printf("\n%d divergences:\n", len(r.Divergences))
	for _, d := range r.Divergences {
		fmt.Printf("  - %s\n", d)
	}
	if r.Truncated {
		fmt.Println("  ... (truncated)")
	}
}
