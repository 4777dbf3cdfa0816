package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/kundlicore/internal/chart"
	"github.com/rewired-gh/kundlicore/internal/chartapi"
	"github.com/rewired-gh/kundlicore/internal/content"
	"github.com/rewired-gh/kundlicore/internal/logger"
	"github.com/rewired-gh/kundlicore/internal/models"
	"github.com/rewired-gh/kundlicore/internal/selector"
	"github.com/rewired-gh/kundlicore/internal/telegram"
)

var (
	evalSnapshotFile string
	evalChartID      string
	evalScope        string
	evalNoRecord     bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Select the variants that hold for a chart snapshot",
	Long: `Evaluate reads a chart snapshot from a file or from the chart service,
evaluates every loaded variant eligible for the scope, and prints the matching
variants in rank order with their effect payloads.`,
	Args: cobra.NoArgs,
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&evalSnapshotFile, "snapshot", "", "read the chart snapshot from a JSON file")
	evaluateCmd.Flags().StringVar(&evalChartID, "chart-id", "", "fetch the chart snapshot from the chart service")
	evaluateCmd.Flags().StringVar(&evalScope, "scope", "", "request scope (defaults to engine.default_scope)")
	evaluateCmd.Flags().BoolVar(&evalNoRecord, "no-record", false, "do not write the run to the ledger")
	evaluateCmd.MarkFlagsMutuallyExclusive("snapshot", "chart-id")
	evaluateCmd.MarkFlagsOneRequired("snapshot", "chart-id")
}

type matchOutput struct {
	Rank   int             `json:"rank"`
	Code   string          `json:"code"`
	Label  string          `json:"label"`
	Index  int             `json:"index"`
	Effect json.RawMessage `json:"effect_json"`
}

type evaluateOutput struct {
	RunID     string          `json:"run_id,omitempty"`
	ChartRef  string          `json:"chart_ref"`
	Scope     models.Scope    `json:"scope"`
	Evaluated int             `json:"evaluated"`
	Matches   []matchOutput   `json:"matches"`
	Skipped   []selector.Skip `json:"skipped,omitempty"`
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	scopeName := evalScope
	if scopeName == "" {
		scopeName = cfg.Engine.DefaultScope
	}
	scope, err := models.ParseScope(scopeName)
	if err != nil {
		return err
	}
	policy, err := selector.ParseMissingFactPolicy(cfg.Engine.MissingFacts)
	if err != nil {
		return err
	}

	catalog, err := content.Load(cfg.Content.Paths...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Engine.Timeout)
	defer cancel()

	snap, err := loadSnapshot(ctx)
	if err != nil {
		return err
	}

	sel := selector.New(selector.Options{Workers: cfg.Engine.Workers, MissingFacts: policy})
	variants := catalog.Variants()
	result, err := sel.Select(ctx, snap, scope, variants)
	if err != nil {
		var ve *selector.VariantError
		if errors.As(err, &ve) {
			alert(cmd.Context(), telegram.Alert{
				Kind:   telegram.BatchAborted,
				Source: snap.ChartRef,
				Code:   ve.Code,
				Detail: ve.Err.Error(),
				At:     time.Now(),
			})
		}
		return err
	}

	out := evaluateOutput{
		ChartRef:  snap.ChartRef,
		Scope:     scope,
		Evaluated: result.Evaluated,
		Matches:   make([]matchOutput, 0, len(result.Matches)),
		Skipped:   result.Skipped,
	}
	for _, m := range result.Matches {
		effect, err := json.Marshal(m.Variant.Effect)
		if err != nil {
			return fmt.Errorf("failed to encode effect of %s: %w", m.Variant.Code, err)
		}
		out.Matches = append(out.Matches, matchOutput{
			Rank:   m.Rank,
			Code:   m.Variant.Code,
			Label:  m.Variant.Label,
			Index:  m.Index,
			Effect: effect,
		})
	}

	if !evalNoRecord {
		runID, err := recordRun(cmd.Context(), snap.ChartRef, scope, len(variants), result)
		if err != nil {
			return err
		}
		out.RunID = runID
	}

	return writeJSON(cmd, out)
}

func loadSnapshot(ctx context.Context) (*chart.Snapshot, error) {
	if evalChartID != "" {
		if cfg.ChartAPI.BaseURL == "" {
			return nil, errors.New("chart_api.base_url is required for --chart-id")
		}
		client := chartapi.NewClient(cfg.ChartAPI.BaseURL, chartapi.Options{
			Timeout:      cfg.ChartAPI.Timeout,
			MaxRetries:   cfg.ChartAPI.MaxRetries,
			RetryWaitMin: cfg.ChartAPI.RetryWaitMin,
			RetryWaitMax: cfg.ChartAPI.RetryWaitMax,
		})
		return client.FetchSnapshot(ctx, evalChartID)
	}

	data, err := os.ReadFile(evalSnapshotFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	snap, err := chartapi.ParseSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", evalSnapshotFile, err)
	}
	if snap.ChartRef == "" {
		snap.ChartRef = filepath.Base(evalSnapshotFile)
	}
	return snap, nil
}

func recordRun(ctx context.Context, chartRef string, scope models.Scope, total int, result *selector.Result) (string, error) {
	store, err := openStorage()
	if err != nil {
		return "", err
	}
	defer closeStorage(store)

	run := &models.Run{
		ChartRef:       chartRef,
		Scope:          scope,
		VariantCount:   total,
		MatchedCount:   len(result.Matches),
		SkippedMissing: len(result.Skipped),
		MatchedCodes:   result.Codes(),
	}
	if err := store.RecordRun(ctx, run); err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}

	removed, err := store.RotateRuns(ctx)
	if err != nil {
		logger.Warn("Failed to rotate run ledger: %v", err)
	} else if removed > 0 {
		logger.Debug("Rotated %d old run(s)", removed)
	}
	return run.ID, nil
}
