package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/kundlicore/internal/content"
	"github.com/rewired-gh/kundlicore/internal/logger"
	"github.com/rewired-gh/kundlicore/internal/models"
	"github.com/rewired-gh/kundlicore/internal/telegram"
)

var validateNoRecord bool

var validateCmd = &cobra.Command{
	Use:   "validate [FILE...]",
	Short: "Check variant bundles and record them in the ingestion log",
	Long: `Validate loads every bundle file (the configured content paths unless files
are given), checks each against the bundle schema and the condition
vocabulary, and records the accepted bundles in the ingestion log.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateNoRecord, "no-record", false, "validate only, do not write the ingestion log")
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	paths := args
	if len(paths) == 0 {
		paths = cfg.Content.Paths
	}

	catalog, err := content.Load(paths...)
	if err != nil {
		a := telegram.Alert{Kind: telegram.ContentDefect, Detail: err.Error(), At: time.Now()}
		var le *content.LoadError
		if errors.As(err, &le) {
			a.Source, a.Code = le.File, le.Code
			a.Detail = le.Err.Error()
		}
		alert(ctx, a)
		return err
	}

	if !validateNoRecord {
		store, err := openStorage()
		if err != nil {
			return err
		}
		defer closeStorage(store)

		for _, b := range catalog.Bundles {
			id, err := store.RecordBundle(ctx, models.BundleRecord{
				BundleID: b.ID,
				Version:  b.Version,
				Source:   b.Source,
			}, b.Variants)
			if err != nil {
				return fmt.Errorf("failed to record bundle %s: %w", b.ID, err)
			}
			logger.Debug("Recorded bundle %s as ingestion %s", b.ID, id)
		}
	}

	for _, b := range catalog.Bundles {
		fmt.Fprintf(cmd.OutOrStdout(), "ok  %-16s %-10s %3d variants  %s\n", b.ID, b.Version, len(b.Variants), b.Source)
	}
	logger.Info("Validated %d bundle(s), %d variant(s)", len(catalog.Bundles), catalog.Len())
	return nil
}
