// Package selector picks the variants whose condition trees hold for a chart
// snapshot at a requested scope, and orders them for narrative composition.
//
// Each eligible variant is evaluated independently on a bounded worker pool;
// results are then scanned in declaration order so the outcome, including the
// first reported error, never depends on goroutine scheduling.
//
// Ranking is dominance (dominant > supporting > background), then
// effect intensity descending, then declaration order.
package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/kundlicore/internal/chart"
	"github.com/rewired-gh/kundlicore/internal/condition"
	"github.com/rewired-gh/kundlicore/internal/logger"
	"github.com/rewired-gh/kundlicore/internal/models"
)

// MissingFactPolicy decides what a MissingFactError does to a batch.
type MissingFactPolicy string

const (
	// SkipMissing treats the variant as a non-match and records it in Result.Skipped.
	SkipMissing MissingFactPolicy = "skip"
	// FailMissing aborts the batch like any other evaluation error.
	FailMissing MissingFactPolicy = "fail"
)

// ParseMissingFactPolicy validates a configured policy name.
func ParseMissingFactPolicy(s string) (MissingFactPolicy, error) {
	switch p := MissingFactPolicy(s); p {
	case SkipMissing, FailMissing:
		return p, nil
	}
	return "", fmt.Errorf("unknown missing fact policy %q", s)
}

// Options tunes a Selector.
type Options struct {
	Workers      int
	MissingFacts MissingFactPolicy
}

// DefaultOptions returns four workers and SkipMissing.
func DefaultOptions() Options {
	return Options{Workers: 4, MissingFacts: SkipMissing}
}

// Match is one selected variant. Variant points into the caller's slice and
// is never modified.
type Match struct {
	Variant *models.Variant
	Index   int // declaration index in the input slice
	Rank    int // 1-based position in the ordered result
}

// Skip records a variant dropped because its tree needed an absent fact.
type Skip struct {
	Code  string `json:"code"`
	Index int    `json:"index"`
	Fact  string `json:"fact"`
}

// Result is the outcome of one selection.
type Result struct {
	Matches   []Match
	Skipped   []Skip
	Evaluated int
}

// Codes returns the matched variant codes in rank order.
func (r *Result) Codes() []string {
	codes := make([]string, len(r.Matches))
	for i, m := range r.Matches {
		codes[i] = m.Variant.Code
	}
	return codes
}

// VariantError aborts a batch and names the variant responsible.
type VariantError struct {
	Code  string
	Index int
	Err   error
}

func (e *VariantError) Error() string {
	return fmt.Sprintf("variant %s (index %d): %v", e.Code, e.Index, e.Err)
}

func (e *VariantError) Unwrap() error { return e.Err }

// Selector evaluates variant batches. It holds no per-request state and is
// safe for concurrent use.
type Selector struct {
	opts Options
}

// New creates a Selector. Non-positive Workers means one worker; an empty
// policy means SkipMissing.
func New(opts Options) *Selector {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MissingFacts == "" {
		opts.MissingFacts = SkipMissing
	}
	return &Selector{opts: opts}
}

type outcome struct {
	done    bool
	matched bool
	err     error
}

// Select filters variants to scope, evaluates each tree against snap and
// returns the ranked matches.
//
// A MissingFactError is recovered as a skip under SkipMissing. Any other
// evaluation error (UnknownConditionError, MalformedTreeError) aborts the
// batch with a *VariantError for the first failing variant in declaration
// order. Cancellation or deadline of ctx aborts the batch with ctx's error.
func (s *Selector) Select(ctx context.Context, snap *chart.Snapshot, scope models.Scope, variants []models.Variant) (*Result, error) {
	if snap == nil {
		return nil, errors.New("nil snapshot")
	}
	if !scope.Valid() {
		return nil, fmt.Errorf("unknown scope %q", scope)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("variant selection aborted: %w", err)
	}

	eligible := make([]int, 0, len(variants))
	for i := range variants {
		if variants[i].AppliesTo(scope) {
			eligible = append(eligible, i)
		}
	}

	outcomes := make([]outcome, len(eligible))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for slot, idx := range eligible {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ok, err := condition.Evaluate(variants[idx].ConditionTree, snap)
			outcomes[slot] = outcome{done: true, matched: ok, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("variant selection aborted: %w", err)
	}

	res := &Result{Evaluated: len(eligible)}
	for slot, idx := range eligible {
		o := outcomes[slot]
		if !o.done {
			return nil, fmt.Errorf("variant selection aborted: %w", context.Cause(ctx))
		}
		v := &variants[idx]
		if o.err != nil {
			var missing *chart.MissingFactError
			if errors.As(o.err, &missing) && s.opts.MissingFacts == SkipMissing {
				res.Skipped = append(res.Skipped, Skip{Code: v.Code, Index: idx, Fact: missing.Fact})
				continue
			}
			return nil, &VariantError{Code: v.Code, Index: idx, Err: o.err}
		}
		if o.matched {
			res.Matches = append(res.Matches, Match{Variant: v, Index: idx})
		}
	}

	rank(res.Matches)

	logger.Debug("Select: scope=%s variants=%d eligible=%d matched=%d skipped_missing=%d",
		scope, len(variants), len(eligible), len(res.Matches), len(res.Skipped))

	return res, nil
}

// rank sorts matches by dominance, then intensity descending, then
// declaration index, and assigns 1-based ranks.
func rank(matches []Match) {
	sort.SliceStable(matches, func(a, b int) bool {
		ea, eb := &matches[a].Variant.Effect, &matches[b].Variant.Effect
		ra, rb := ea.VariantMeta.Dominance.Rank(), eb.VariantMeta.Dominance.Rank()
		if ra != rb {
			return ra > rb
		}
		if ea.Intensity != eb.Intensity {
			return ea.Intensity > eb.Intensity
		}
		// Tie-break: declaration order
		return matches[a].Index < matches[b].Index
	})
	for i := range matches {
		matches[i].Rank = i + 1
	}
}

// SelectMatchingVariants runs Select with DefaultOptions and returns only the
// ordered matches.
func SelectMatchingVariants(ctx context.Context, snap *chart.Snapshot, scope models.Scope, variants []models.Variant) ([]Match, error) {
	res, err := New(DefaultOptions()).Select(ctx, snap, scope, variants)
	if err != nil {
		return nil, err
	}
	return res.Matches, nil
}
