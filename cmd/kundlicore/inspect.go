package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	inspectJSON  bool
	inspectLimit int
)

var inspectCmd = &cobra.Command{
	Use:   "inspect BUNDLE_ID",
	Short: "Show the ingestion history and variant metadata of a bundle",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List the most recent selection runs",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	inspectCmd.PersistentFlags().BoolVar(&inspectJSON, "json", false, "print JSON instead of a table")
	runsCmd.Flags().IntVar(&inspectLimit, "limit", 20, "number of runs to show")
	inspectCmd.AddCommand(runsCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer closeStorage(store)

	bundles, err := store.ListBundles(ctx, args[0])
	if err != nil {
		return err
	}
	if len(bundles) == 0 {
		return fmt.Errorf("bundle %s has never been loaded", args[0])
	}
	variants, err := store.VariantsByBundle(ctx, args[0])
	if err != nil {
		return err
	}

	if inspectJSON {
		return writeJSON(cmd, map[string]any{"ingestions": bundles, "variants": variants})
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INGESTION\tVERSION\tVARIANTS\tLOADED\tSOURCE")
	for _, b := range bundles {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", b.ID, b.Version, b.VariantCount, b.LoadedAt.Format("2006-01-02 15:04:05"), b.Source)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "#\tCODE\tDOMINANCE\tINTENSITY\tSCOPES\tCONDITIONS")
	for _, v := range variants {
		scopes := "any"
		if len(v.Scopes) > 0 {
			parts := make([]string, len(v.Scopes))
			for i, s := range v.Scopes {
				parts[i] = string(s)
			}
			scopes = strings.Join(parts, ",")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%s\t%s\n", v.Position, v.Code, v.Dominance, v.Intensity, scopes, strings.Join(v.LeafKeys, ","))
	}
	return w.Flush()
}

func runRuns(cmd *cobra.Command, args []string) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer closeStorage(store)

	runs, err := store.RecentRuns(cmd.Context(), inspectLimit)
	if err != nil {
		return err
	}

	if inspectJSON {
		return writeJSON(cmd, runs)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tCREATED\tCHART\tSCOPE\tMATCHED\tSKIPPED\tCODES")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%s\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.ChartRef, r.Scope,
			r.MatchedCount, r.VariantCount, r.SkippedMissing, strings.Join(r.MatchedCodes, ","))
	}
	return w.Flush()
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
