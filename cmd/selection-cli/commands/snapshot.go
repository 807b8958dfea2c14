package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/config"
)

var snapshotOut string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage catalog snapshots",
}

var snapshotIngestCmd = &cobra.Command{
	Use:   "ingest <products.json>",
	Short: "Build a catalog snapshot from a product export",
	Args:  cobra.ExactArgs(1),
	RunE:  ingestSnapshot,
}

var snapshotStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog snapshot statistics",
	RunE:  snapshotStats,
}

func init() {
	snapshotIngestCmd.Flags().StringVarP(&snapshotOut, "out", "o", "", "output snapshot path (defaults to the configured path)")
	snapshotCmd.AddCommand(snapshotIngestCmd)
	snapshotCmd.AddCommand(snapshotStatsCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func ingestSnapshot(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read product export: %w", err)
	}

	var pool []catalog.Candidate
	if err := json.Unmarshal(data, &pool); err != nil {
		return fmt.Errorf("parse product export: %w", err)
	}
	if len(pool) == 0 {
		return fmt.Errorf("product export is empty")
	}

	bar := newProgressBar(int64(len(pool)), "Normalizing catalog")
	descriptions := make(map[string]string, len(pool))
	for i := range pool {
		catalog.Normalize(&pool[i])
		if pool[i].Description != "" && pool[i].Handle != "" {
			// Descriptions live beside the snapshot and are fetched lazily
			// for the ranking window only.
			descriptions[pool[i].Handle] = pool[i].Description
			pool[i].Description = ""
		}
		_ = bar.Add(1)
	}

	out := snapshotOut
	if out == "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		out = cfg.Catalog.SnapshotPath
	}

	if err := catalog.SaveSnapshot(out, pool, descriptions); err != nil {
		return err
	}
	successf("Wrote %d items to %s", len(pool), out)
	return nil
}

func snapshotStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	snapshot, err := catalog.LoadSnapshot(cfg.Catalog.SnapshotPath)
	if err != nil {
		return fmt.Errorf("load catalog snapshot: %w", err)
	}

	pool, err := snapshot.FetchByFilter(cmd.Context(), "local", 0, "")
	if err != nil {
		return err
	}

	headerf("Catalog snapshot")
	fmt.Printf("Items: %d\n", len(pool))

	types := catalog.TypeLexicon(pool)
	fmt.Printf("Distinct type/tag terms: %d\n", len(types))

	vocab := catalog.FacetVocabulary(pool)
	attrs := make([]string, 0, len(vocab))
	for attr := range vocab {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)
	for _, attr := range attrs {
		fmt.Printf("Facet %s: %d values\n", attr, len(vocab[attr]))
	}

	inStock := 0
	for i := range pool {
		if pool[i].Available {
			inStock++
		}
	}
	fmt.Printf("In stock: %d of %d\n", inStock, len(pool))
	return nil
}
