package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/kundlicore/internal/condition"
)

// BundleRecord is one row of the content ingestion log.
type BundleRecord struct {
	ID           string    `json:"id"`
	BundleID     string    `json:"bundle_id"`
	Version      string    `json:"version,omitempty"`
	Source       string    `json:"source"`
	VariantCount int       `json:"variant_count"`
	LoadedAt     time.Time `json:"loaded_at"`
}

// Validate checks the record before persistence.
func (b *BundleRecord) Validate() error {
	if b.BundleID == "" {
		return errors.New("bundle_id must not be empty")
	}
	if b.VariantCount < 0 {
		return errors.New("variant_count must not be negative")
	}
	return nil
}

// VariantRecord is the rule metadata kept for diagnostics. It carries no
// payload text.
type VariantRecord struct {
	BundleID  string    `json:"bundle_id"`
	Code      string    `json:"code"`
	Position  int       `json:"position"`
	Label     string    `json:"label"`
	Scopes    []Scope   `json:"scopes"`
	Dominance Dominance `json:"dominance"`
	Intensity float64   `json:"intensity"`
	PointID   string    `json:"point_id,omitempty"`
	LeafKeys  []string  `json:"leaf_keys"`
}

// NewVariantRecord summarizes v at position pos of bundle bundleID.
func NewVariantRecord(bundleID string, pos int, v *Variant) VariantRecord {
	return VariantRecord{
		BundleID:  bundleID,
		Code:      v.Code,
		Position:  pos,
		Label:     v.Label,
		Scopes:    v.Scopes,
		Dominance: v.Effect.VariantMeta.Dominance,
		Intensity: v.Effect.Intensity,
		PointID:   v.Effect.PointID,
		LeafKeys:  condition.LeafKeys(v.ConditionTree),
	}
}

// Run records one selection request and its ordered outcome.
type Run struct {
	ID             string    `json:"id"`
	ChartRef       string    `json:"chart_ref"`
	Scope          Scope     `json:"scope"`
	VariantCount   int       `json:"variant_count"`
	MatchedCount   int       `json:"matched_count"`
	SkippedMissing int       `json:"skipped_missing"`
	MatchedCodes   []string  `json:"matched_codes"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks that a Run is internally consistent.
func (r *Run) Validate() error {
	if r.ChartRef == "" {
		return errors.New("chart_ref must not be empty")
	}
	if !r.Scope.Valid() {
		return fmt.Errorf("unknown scope %q", r.Scope)
	}
	if r.VariantCount < 0 || r.MatchedCount < 0 || r.SkippedMissing < 0 {
		return errors.New("counts must not be negative")
	}
	if r.MatchedCount != len(r.MatchedCodes) {
		return fmt.Errorf("matched_count %d does not match %d matched codes", r.MatchedCount, len(r.MatchedCodes))
	}
	if r.MatchedCount+r.SkippedMissing > r.VariantCount {
		return errors.New("matched plus skipped exceeds variant_count")
	}
	return nil
}
