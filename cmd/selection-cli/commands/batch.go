package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/curatelabs/selection-engine/internal/cache"
	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/config"
	"github.com/curatelabs/selection-engine/internal/observability"
	"github.com/curatelabs/selection-engine/internal/pipeline"
)

var (
	batchShop     string
	batchSnapshot string
	batchOut      string
)

// batchRequest is one line item of the batch input file.
type batchRequest struct {
	SessionKey string `json:"session_key,omitempty"`
	Request    string `json:"request"`
	Count      int    `json:"count,omitempty"`
}

// batchOutcome is what gets written per request.
type batchOutcome struct {
	SessionKey  string   `json:"session_key"`
	Request     string   `json:"request"`
	Identifiers []string `json:"identifiers"`
	Status      string   `json:"status"`
	ErrorCode   string   `json:"error_code,omitempty"`
	TotalPrice  float64  `json:"total_price"`
}

var batchCmd = &cobra.Command{
	Use:   "batch <requests.json>",
	Short: "Replay a file of selection requests against the catalog snapshot",
	Long: `Reads a JSON array of requests and runs each through the full pipeline,
reporting progress per request. Useful for relevance regression checks
after a catalog snapshot refresh.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&batchShop, "shop", "local", "shop reference")
	batchCmd.Flags().StringVar(&batchSnapshot, "snapshot", "", "catalog snapshot path (overrides config)")
	batchCmd.Flags().StringVarP(&batchOut, "out", "o", "", "write outcomes to a JSON file")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}
	var requests []batchRequest
	if err := json.Unmarshal(data, &requests); err != nil {
		return fmt.Errorf("parse batch file: %w", err)
	}
	if len(requests) == 0 {
		return fmt.Errorf("batch file holds no requests")
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       "error",
		Format:      "console",
		ServiceName: "selection-cli",
	})

	snapshotPath := cfg.Catalog.SnapshotPath
	if batchSnapshot != "" {
		snapshotPath = batchSnapshot
	}
	snapshot, err := catalog.LoadSnapshot(snapshotPath)
	if err != nil {
		return fmt.Errorf("load catalog snapshot: %w", err)
	}

	memCache := cache.NewMemoryClient(cfg.Cache.MaxEntries)
	defer memCache.Close()
	source := catalog.NewCachedSource(snapshot, memCache, logger, cfg.Catalog.SearchCacheTTL)

	progress := mpb.New(mpb.WithWidth(48))
	bar := progress.AddBar(int64(len(requests)),
		mpb.PrependDecorators(
			decor.Name("selections", decor.WC{W: len("selections") + 1, C: decor.DSyncSpaceR}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 12}),
		),
	)

	ctx := context.Background()
	outcomes := make([]batchOutcome, 0, len(requests))
	completed, failed, noMatch := 0, 0, 0

	for _, br := range requests {
		sessionKey := br.SessionKey
		if sessionKey == "" {
			sessionKey = uuid.NewString()
		}
		count := br.Count
		if count <= 0 {
			count = 1
		}

		// Each request gets its own pipeline so each gets its own rerank
		// call budget.
		p := pipeline.New(cfg, source, nil, nil, nil, nil, logger)
		result, err := p.Run(ctx, pipeline.Request{
			SessionKey:     sessionKey,
			ShopRef:        batchShop,
			Text:           br.Request,
			RequestedCount: count,
		})
		bar.Increment()
		if err != nil {
			failed++
			outcomes = append(outcomes, batchOutcome{
				SessionKey: sessionKey,
				Request:    br.Request,
				Status:     string(pipeline.StatusFailed),
			})
			continue
		}

		switch {
		case result.Status == pipeline.StatusFailed:
			failed++
		case result.ErrorCode == pipeline.ErrCodeNoMatch:
			noMatch++
		default:
			completed++
		}
		outcomes = append(outcomes, batchOutcome{
			SessionKey:  sessionKey,
			Request:     br.Request,
			Identifiers: result.Identifiers,
			Status:      string(result.Status),
			ErrorCode:   string(result.ErrorCode),
			TotalPrice:  result.TotalPrice,
		})
	}
	progress.Wait()

	successf("%d selections completed, %d no-match, %d failed", completed, noMatch, failed)

	if batchOut != "" {
		encoded, err := json.MarshalIndent(outcomes, "", "  ")
		if err != nil {
			return fmt.Errorf("encode outcomes: %w", err)
		}
		if err := os.WriteFile(batchOut, encoded, 0o644); err != nil {
			return fmt.Errorf("write outcomes: %w", err)
		}
		infof("Wrote %d outcomes to %s", len(outcomes), batchOut)
	}
	return nil
}
