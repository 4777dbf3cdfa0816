package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dailySnapshot = `{
	"chart_ref": "chart-daily",
	"planets": {
		"SUN": {"house": 10},
		"MOON": {"house": 4},
		"MARS": {"house": 6},
		"MERCURY": {"house": 9},
		"JUPITER": {"house": 2},
		"VENUS": {"house": 2},
		"SATURN": {"house": 7},
		"RAHU": {"house": 3},
		"KETU": {"house": 9}
	},
	"transit_planets": {"SATURN": {"house": 10}, "MARS": {"house": 3}},
	"dasha_chain": [{"level": "mahadasha", "planet_id": 7}],
	"scores": {"overall_benefic_score": 0.3, "overall_malefic_score": 0.8},
	"nakshatra_groups": {"MOON": [{"context": "health", "kind": "sensitive"}]},
	"house_lords": {"1": 5},
	"planet_strength": {"SUN": 0.4}
}`

// setup writes a config pointing at the shipped bundles and a temp database.
func setup(t *testing.T) (cfgPath, snapshotPath string) {
	t.Helper()
	dir := t.TempDir()

	career, err := filepath.Abs("../../content/career.yaml")
	require.NoError(t, err)
	health, err := filepath.Abs("../../content/health.json")
	require.NoError(t, err)

	cfgPath = filepath.Join(dir, "kundlicore.yaml")
	body := fmt.Sprintf(`
content:
  paths: [%q, %q]
storage:
  db_path: %q
  max_runs: 2
logging:
  level: error
`, career, health, filepath.Join(dir, "kundlicore.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))

	snapshotPath = filepath.Join(dir, "snapshot.json")
	require.NoError(t, os.WriteFile(snapshotPath, []byte(dailySnapshot), 0o644))
	return cfgPath, snapshotPath
}

// execute runs the root command with flags reset to their defaults.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var reset func(c *cobra.Command)
	reset = func(c *cobra.Command) {
		for _, fs := range []*pflag.FlagSet{c.Flags(), c.PersistentFlags()} {
			fs.VisitAll(func(f *pflag.Flag) {
				_ = f.Value.Set(f.DefValue)
				f.Changed = false
			})
		}
		for _, sub := range c.Commands() {
			reset(sub)
		}
	}
	reset(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSchemaCommand(t *testing.T) {
	out, err := execute(t, "schema", "--config", "does-not-exist.yaml")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.Equal(t, "Variant bundle", schema["title"])
}

func TestValidateCommand(t *testing.T) {
	cfgPath, _ := setup(t)

	out, err := execute(t, "validate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "career-core")
	assert.Contains(t, out, "health-core")

	out, err = execute(t, "inspect", "career-core", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "NATAL_AUTHORITY_RECOGNITION")
	assert.Contains(t, out, "transit_planet_in_house")
}

func TestValidateCommand_Defect(t *testing.T) {
	cfgPath, _ := setup(t)
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
bundle_id: broken
variants:
  - code: BROKEN
    label: Broken
    condition_tree:
      retrograde_return: {planet: SATURN}
    effect_json:
      intensity: 0.5
      variant_meta: {dominance: supporting}
`), 0o644))

	_, err := execute(t, "validate", bad, "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BROKEN")
}

func TestEvaluateCommand(t *testing.T) {
	cfgPath, snapshotPath := setup(t)

	out, err := execute(t, "evaluate", "--config", cfgPath, "--snapshot", snapshotPath, "--scope", "daily")
	require.NoError(t, err)

	var got evaluateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "chart-daily", got.ChartRef)
	assert.NotEmpty(t, got.RunID)
	assert.Equal(t, 4, got.Evaluated)

	codes := make([]string, len(got.Matches))
	for i, m := range got.Matches {
		codes[i] = m.Code
		assert.Equal(t, i+1, m.Rank)
	}
	assert.Equal(t, []string{
		"CAREER_PRESSURE_MALEFIC",
		"HEALTH_DIGESTION_SENSITIVE",
		"CAREER_BASELINE",
		"HEALTH_BASELINE",
	}, codes)
	var effect map[string]any
	require.NoError(t, json.Unmarshal(got.Matches[0].Effect, &effect))
	assert.Equal(t, "career_workload", effect["point_id"])

	// Ledger keeps max_runs entries
	for i := 0; i < 2; i++ {
		_, err := execute(t, "evaluate", "--config", cfgPath, "--snapshot", snapshotPath)
		require.NoError(t, err)
	}
	out, err = execute(t, "inspect", "runs", "--json", "--config", cfgPath)
	require.NoError(t, err)
	var runs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	assert.Len(t, runs, 2)
}

func TestEvaluateCommand_Errors(t *testing.T) {
	cfgPath, snapshotPath := setup(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown scope", []string{"--snapshot", snapshotPath, "--scope", "fortnightly"}},
		{"no snapshot source", nil},
		{"missing snapshot file", []string{"--snapshot", filepath.Join(t.TempDir(), "none.json")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"evaluate", "--config", cfgPath, "--no-record"}, tt.args...)
			_, err := execute(t, args...)
			assert.Error(t, err)
		})
	}
}
