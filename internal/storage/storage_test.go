package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rewired-gh/kundlicore/internal/chart"
	"github.com/rewired-gh/kundlicore/internal/condition"
	"github.com/rewired-gh/kundlicore/internal/models"
)

func mustStorage(t *testing.T, maxRuns int) *Storage {
	t.Helper()
	s, err := New(maxRuns, ":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleVariants() []models.Variant {
	return []models.Variant{
		{
			Code:   "NATAL_AUTHORITY_RECOGNITION",
			Label:  "Authority",
			Scopes: []models.Scope{models.ScopeYearly, models.ScopeLifeTheme},
			ConditionTree: condition.All(
				condition.Leaf(&condition.HouseOccupancy{Planets: []chart.Planet{chart.Sun}, Houses: []int{10}, MinPlanets: 1}),
				condition.Leaf(&condition.PlanetStrength{Planet: chart.Sun, Min: 0.5}),
			),
			Effect: models.Effect{
				Intensity:   0.7,
				VariantMeta: models.VariantMeta{Dominance: models.DominanceDominant},
				PointID:     "career_recognition",
			},
		},
		{
			Code:          "CAREER_BASELINE",
			Label:         "Baseline",
			ConditionTree: condition.Leaf(&condition.GenericCondition{}),
			Effect: models.Effect{
				Intensity:   0.2,
				VariantMeta: models.VariantMeta{Dominance: models.DominanceBackground},
			},
		},
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(0, ":memory:"); err == nil {
		t.Error("Expected error for maxRuns 0")
	}
	if _, err := New(10, ""); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestNew_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kundlicore.db")
	s, err := New(10, path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	if _, err := s.RecordBundle(ctx, models.BundleRecord{BundleID: "career-core", Source: "career.yaml"}, sampleVariants()); err != nil {
		t.Fatalf("RecordBundle failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopen and read back
	s, err = New(10, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	bundles, err := s.ListBundles(ctx, "career-core")
	if err != nil {
		t.Fatalf("ListBundles failed: %v", err)
	}
	if len(bundles) != 1 {
		t.Errorf("Expected 1 bundle after reopen, got %d", len(bundles))
	}
}

func TestStorage_RecordBundle(t *testing.T) {
	s := mustStorage(t, 10)
	ctx := context.Background()

	loadedAt := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	id, err := s.RecordBundle(ctx, models.BundleRecord{
		BundleID: "career-core",
		Version:  "2024.06",
		Source:   "content/career.yaml",
		LoadedAt: loadedAt,
	}, sampleVariants())
	if err != nil {
		t.Fatalf("RecordBundle failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected generated ingestion id")
	}

	bundles, err := s.ListBundles(ctx, "career-core")
	if err != nil {
		t.Fatalf("ListBundles failed: %v", err)
	}
	if len(bundles) != 1 {
		t.Fatalf("Expected 1 bundle, got %d", len(bundles))
	}
	b := bundles[0]
	if b.ID != id || b.Version != "2024.06" || b.VariantCount != 2 {
		t.Errorf("Unexpected bundle record %+v", b)
	}
	if !b.LoadedAt.Equal(loadedAt) {
		t.Errorf("Expected loaded_at %v, got %v", loadedAt, b.LoadedAt)
	}

	variants, err := s.VariantsByBundle(ctx, "career-core")
	if err != nil {
		t.Fatalf("VariantsByBundle failed: %v", err)
	}
	if len(variants) != 2 {
		t.Fatalf("Expected 2 variants, got %d", len(variants))
	}
	v := variants[0]
	if v.Code != "NATAL_AUTHORITY_RECOGNITION" || v.Position != 0 {
		t.Errorf("Unexpected first variant %+v", v)
	}
	if len(v.Scopes) != 2 || v.Scopes[1] != models.ScopeLifeTheme {
		t.Errorf("Unexpected scopes %v", v.Scopes)
	}
	if len(v.LeafKeys) != 2 || v.LeafKeys[0] != condition.KeyPlanetInHouse || v.LeafKeys[1] != condition.KeyPlanetStrength {
		t.Errorf("Unexpected leaf keys %v", v.LeafKeys)
	}
	if v.Dominance != models.DominanceDominant || v.Intensity != 0.7 || v.PointID != "career_recognition" {
		t.Errorf("Unexpected metadata %+v", v)
	}
	if variants[1].Scopes != nil {
		t.Errorf("Expected no scopes for baseline, got %v", variants[1].Scopes)
	}
}

func TestStorage_RecordBundleReplacesMetadata(t *testing.T) {
	s := mustStorage(t, 10)
	ctx := context.Background()

	vs := sampleVariants()
	if _, err := s.RecordBundle(ctx, models.BundleRecord{BundleID: "career-core", Source: "a"}, vs); err != nil {
		t.Fatalf("first RecordBundle failed: %v", err)
	}
	if _, err := s.RecordBundle(ctx, models.BundleRecord{BundleID: "career-core", Source: "b"}, vs[1:]); err != nil {
		t.Fatalf("second RecordBundle failed: %v", err)
	}

	variants, err := s.VariantsByBundle(ctx, "career-core")
	if err != nil {
		t.Fatalf("VariantsByBundle failed: %v", err)
	}
	if len(variants) != 1 || variants[0].Code != "CAREER_BASELINE" {
		t.Errorf("Expected metadata replaced by second load, got %+v", variants)
	}

	bundles, err := s.ListBundles(ctx, "")
	if err != nil {
		t.Fatalf("ListBundles failed: %v", err)
	}
	if len(bundles) != 2 {
		t.Fatalf("Expected 2 ingestion rows, got %d", len(bundles))
	}
	if bundles[0].Source != "b" {
		t.Errorf("Expected newest ingestion first, got %s", bundles[0].Source)
	}
}

func TestStorage_RecordBundleInvalid(t *testing.T) {
	s := mustStorage(t, 10)
	if _, err := s.RecordBundle(context.Background(), models.BundleRecord{}, nil); err == nil {
		t.Error("Expected error for empty bundle id")
	}
}

func TestStorage_RunLedger(t *testing.T) {
	s := mustStorage(t, 10)
	ctx := context.Background()

	run := &models.Run{
		ChartRef:       "chart-42",
		Scope:          models.ScopeDaily,
		VariantCount:   5,
		MatchedCount:   2,
		SkippedMissing: 1,
		MatchedCodes:   []string{"DOM", "BG"},
	}
	if err := s.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if run.ID == "" || run.CreatedAt.IsZero() {
		t.Fatal("Expected RecordRun to assign ID and CreatedAt")
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.ChartRef != "chart-42" || got.Scope != models.ScopeDaily || got.SkippedMissing != 1 {
		t.Errorf("Unexpected run %+v", got)
	}
	if len(got.MatchedCodes) != 2 || got.MatchedCodes[0] != "DOM" || got.MatchedCodes[1] != "BG" {
		t.Errorf("Expected matched codes in rank order, got %v", got.MatchedCodes)
	}

	if _, err := s.GetRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStorage_RecordRunInvalid(t *testing.T) {
	s := mustStorage(t, 10)
	tests := []struct {
		name string
		run  models.Run
	}{
		{"empty chart ref", models.Run{Scope: models.ScopeDaily}},
		{"unknown scope", models.Run{ChartRef: "c", Scope: "fortnightly"}},
		{"count mismatch", models.Run{ChartRef: "c", Scope: models.ScopeDaily, VariantCount: 3, MatchedCount: 2, MatchedCodes: []string{"A"}}},
		{"more matches than variants", models.Run{ChartRef: "c", Scope: models.ScopeDaily, VariantCount: 1, MatchedCount: 2, MatchedCodes: []string{"A", "B"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := tt.run
			if err := s.RecordRun(context.Background(), &run); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestStorage_RotateRuns(t *testing.T) {
	s := mustStorage(t, 3)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		run := &models.Run{
			ID:           fmt.Sprintf("run-%d", i),
			ChartRef:     "chart-1",
			Scope:        models.ScopeDaily,
			VariantCount: 1,
			MatchedCount: 1,
			MatchedCodes: []string{"BASELINE"},
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.RecordRun(ctx, run); err != nil {
			t.Fatalf("RecordRun %d failed: %v", i, err)
		}
	}

	removed, err := s.RotateRuns(ctx)
	if err != nil {
		t.Fatalf("RotateRuns failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 runs removed, got %d", removed)
	}

	runs, err := s.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs after rotation, got %d", len(runs))
	}
	for i, want := range []string{"run-4", "run-3", "run-2"} {
		if runs[i].ID != want {
			t.Errorf("runs[%d] = %s, want %s", i, runs[i].ID, want)
		}
		if len(runs[i].MatchedCodes) != 1 {
			t.Errorf("runs[%d] lost its matches", i)
		}
	}

	if _, err := s.GetRun(ctx, "run-0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected rotated run to be gone, got %v", err)
	}

	var orphans int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM run_matches WHERE run_id IN ('run-0', 'run-1')`).Scan(&orphans); err != nil {
		t.Fatalf("count orphans: %v", err)
	}
	if orphans != 0 {
		t.Errorf("Expected matches of rotated runs removed, got %d", orphans)
	}

	// Rotating again is a no-op
	removed, err = s.RotateRuns(ctx)
	if err != nil || removed != 0 {
		t.Errorf("Expected no-op rotation, got removed=%d err=%v", removed, err)
	}
}

func TestStorage_RecentRunsLimit(t *testing.T) {
	s := mustStorage(t, 10)
	runs, err := s.RecentRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("Expected empty result, got %d", len(runs))
	}
}
