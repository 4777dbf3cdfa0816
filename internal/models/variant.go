// Package models defines the authored content records the engine consumes.
// A Variant pairs a condition tree with a fixed interpretive payload
// (effect_json) describing one possible outcome for a life-area point.
//
// Terminology:
//   - Scope: time horizon a variant is eligible for (daily, yearly, ...).
//   - Dominance: how strongly a matched variant should lead the narrative.
//
// Variants are loaded once at startup and never mutated. All models include
// Validate methods used by the content loader.
package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/rewired-gh/kundlicore/internal/condition"
)

// Scope is a time-horizon tag.
type Scope string

const (
	ScopeHourly    Scope = "hourly"
	ScopeDaily     Scope = "daily"
	ScopeWeekly    Scope = "weekly"
	ScopeMonthly   Scope = "monthly"
	ScopeYearly    Scope = "yearly"
	ScopeLifeTheme Scope = "life_theme"
)

// Scopes returns every known scope from shortest to longest horizon.
func Scopes() []Scope {
	return []Scope{ScopeHourly, ScopeDaily, ScopeWeekly, ScopeMonthly, ScopeYearly, ScopeLifeTheme}
}

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	for _, known := range Scopes() {
		if s == known {
			return true
		}
	}
	return false
}

// ParseScope validates a request-supplied scope tag.
func ParseScope(s string) (Scope, error) {
	scope := Scope(s)
	if !scope.Valid() {
		return "", fmt.Errorf("unknown scope %q", s)
	}
	return scope, nil
}

// Dominance ranks matched variants: dominant > supporting > background.
type Dominance string

const (
	DominanceBackground Dominance = "background"
	DominanceSupporting Dominance = "supporting"
	DominanceDominant   Dominance = "dominant"
)

// Rank returns 3 for dominant, 2 for supporting, 1 for background and 0 for
// anything else.
func (d Dominance) Rank() int {
	switch d {
	case DominanceDominant:
		return 3
	case DominanceSupporting:
		return 2
	case DominanceBackground:
		return 1
	}
	return 0
}

// VariantMeta carries authoring metadata about a variant's voice.
type VariantMeta struct {
	Tone            string    `json:"tone,omitempty"`
	ConfidenceLevel string    `json:"confidence_level,omitempty"`
	Dominance       Dominance `json:"dominance" jsonschema:"enum=background,enum=supporting,enum=dominant"`
	CertaintyNote   string    `json:"certainty_note,omitempty"`
}

// Effect is the interpretive payload of a variant. Only Intensity and
// VariantMeta.Dominance are read by the engine; everything else is opaque
// text passed through to the narrative layer.
//
// The authored JSON is retained verbatim so fields this struct does not
// model survive a load/emit round trip unchanged.
type Effect struct {
	Theme       string      `json:"theme,omitempty"`
	Area        string      `json:"area,omitempty"`
	Trend       string      `json:"trend,omitempty"`
	Intensity   float64     `json:"intensity" jsonschema:"minimum=0,maximum=1"`
	Tone        string      `json:"tone,omitempty"`
	Trigger     string      `json:"trigger,omitempty"`
	Scenario    string      `json:"scenario,omitempty"`
	OutcomeText string      `json:"outcome_text,omitempty"`
	VariantMeta VariantMeta `json:"variant_meta"`
	PointID     string      `json:"point_id,omitempty"`

	raw json.RawMessage
}

type effectFields Effect

// UnmarshalJSON implements json.Unmarshaler.
func (e *Effect) UnmarshalJSON(data []byte) error {
	var f effectFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*e = Effect(f)
	e.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON emits the authored payload when one was decoded.
func (e Effect) MarshalJSON() ([]byte, error) {
	if len(e.raw) > 0 {
		return e.raw, nil
	}
	return json.Marshal(effectFields(e))
}

// JSONSchemaExtend keeps generated schemas open for payload keys Effect does
// not model.
func (Effect) JSONSchemaExtend(s *jsonschema.Schema) {
	s.AdditionalProperties = jsonschema.TrueSchema
}

// Validate checks the fields the engine relies on.
func (e *Effect) Validate() error {
	if e.Intensity < 0.0 || e.Intensity > 1.0 {
		return errors.New("intensity must be between 0.0 and 1.0")
	}
	if e.VariantMeta.Dominance.Rank() == 0 {
		return fmt.Errorf("variant_meta.dominance must be one of: background, supporting, dominant (got %q)", e.VariantMeta.Dominance)
	}
	return nil
}

// Variant is one authored rule record.
type Variant struct {
	Code          string         `json:"code"`
	Label         string         `json:"label"`
	Scopes        []Scope        `json:"scopes,omitempty" jsonschema:"enum=hourly,enum=daily,enum=weekly,enum=monthly,enum=yearly,enum=life_theme"`
	ConditionTree condition.Node `json:"condition_tree"`
	Effect        Effect         `json:"effect_json"`
}

// AppliesTo reports whether the variant is eligible at scope. A variant with
// no scopes is eligible everywhere.
func (v *Variant) AppliesTo(scope Scope) bool {
	if len(v.Scopes) == 0 {
		return true
	}
	for _, s := range v.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Validate checks the record and statically validates its condition tree.
func (v *Variant) Validate() error {
	if v.Code == "" {
		return errors.New("variant code must not be empty")
	}
	for _, s := range v.Scopes {
		if !s.Valid() {
			return fmt.Errorf("unknown scope %q", s)
		}
	}
	if err := condition.Validate(v.ConditionTree); err != nil {
		return err
	}
	if err := v.Effect.Validate(); err != nil {
		return fmt.Errorf("effect_json: %w", err)
	}
	return nil
}
