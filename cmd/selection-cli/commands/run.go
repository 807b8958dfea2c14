package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/curatelabs/selection-engine/internal/billing"
	"github.com/curatelabs/selection-engine/internal/cache"
	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/config"
	"github.com/curatelabs/selection-engine/internal/observability"
	"github.com/curatelabs/selection-engine/internal/pipeline"
	"github.com/curatelabs/selection-engine/internal/rerank"
	"github.com/curatelabs/selection-engine/internal/storage"
)

var (
	runShop     string
	runCount    int
	runSession  string
	runSnapshot string
	runPersist  bool
)

var runCmd = &cobra.Command{
	Use:   "run \"<request text>\"",
	Short: "Run a selection against the catalog snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSelection,
}

func init() {
	runCmd.Flags().StringVar(&runShop, "shop", "local", "shop reference")
	runCmd.Flags().IntVarP(&runCount, "count", "n", 8, "number of items to select")
	runCmd.Flags().StringVar(&runSession, "session", "", "session key (defaults to a new one)")
	runCmd.Flags().StringVar(&runSnapshot, "snapshot", "", "catalog snapshot path (overrides config)")
	runCmd.Flags().BoolVar(&runPersist, "persist", false, "persist the result and billing to the configured database")
	rootCmd.AddCommand(runCmd)
}

func runSelection(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      "console",
		ServiceName: "selection-cli",
	})

	snapshotPath := cfg.Catalog.SnapshotPath
	if runSnapshot != "" {
		snapshotPath = runSnapshot
	}
	snapshot, err := catalog.LoadSnapshot(snapshotPath)
	if err != nil {
		return fmt.Errorf("load catalog snapshot: %w", err)
	}
	infof("Loaded %d catalog items from %s", snapshot.Len(), snapshotPath)

	memCache := cache.NewMemoryClient(cfg.Cache.MaxEntries)
	defer memCache.Close()
	source := catalog.NewCachedSource(snapshot, memCache, logger, cfg.Catalog.SearchCacheTTL)

	var reranker rerank.Service
	if cfg.Reranker.Endpoint != "" {
		reranker = rerank.NewHTTPService(cfg.Reranker.Endpoint, cfg.Reranker.APIKey, cfg.Reranker.RequestTimeout)
	}

	ctx := context.Background()
	var (
		store  pipeline.ResultStore
		biller pipeline.Biller
	)
	if runPersist {
		db, err := storage.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := storage.EnsureSchema(ctx, db); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		store = storage.NewSelectionStore(db, cfg.Database.Driver)
		biller = billing.NewService(storage.NewBillingRepository(db, cfg.Database.Driver), billing.DefaultPlan(), logger)
	}

	sessionKey := runSession
	if sessionKey == "" {
		sessionKey = uuid.NewString()
	}

	sp := newSpinner("Selecting items...")
	sp.Start()
	p := pipeline.New(cfg, source, nil, reranker, store, biller, logger)
	result, err := p.Run(ctx, pipeline.Request{
		SessionKey:     sessionKey,
		ShopRef:        runShop,
		Text:           args[0],
		RequestedCount: runCount,
	})
	sp.Stop()
	if err != nil {
		return err
	}

	printResult(result)
	return nil
}

func printResult(result *pipeline.SelectionResult) {
	headerf("Selection %s", result.SessionKey)

	if result.Status == pipeline.StatusFailed {
		errorf("Run failed: %s", result.Reasoning)
		return
	}
	if len(result.Identifiers) == 0 {
		warnf("No items matched the request")
	} else {
		successf("Selected %d items (source: %s)", len(result.Identifiers), result.Source)
		for i, id := range result.Identifiers {
			fmt.Printf("  %2d. %s\n", i+1, id)
		}
	}

	fmt.Printf("Total price: %.2f\n", result.TotalPrice)
	if result.BudgetExceeded != nil {
		if *result.BudgetExceeded {
			warnf("The selection exceeds the requested budget")
		} else {
			successf("Within budget")
		}
	}
	if result.Reasoning != "" {
		infof("%s", result.Reasoning)
	}
}
