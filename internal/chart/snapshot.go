package chart

import (
	"errors"
	"fmt"
)

// Score names carried in Snapshot.Scores.
const (
	OverallBeneficScore = "overall_benefic_score"
	OverallMaleficScore = "overall_malefic_score"
)

// DashaLevel is a nesting level in the running period chain.
type DashaLevel string

const (
	Mahadasha       DashaLevel = "mahadasha"
	Antardasha      DashaLevel = "antardasha"
	Pratyantardasha DashaLevel = "pratyantardasha"
)

// Valid reports whether l is a known dasha level.
func (l DashaLevel) Valid() bool {
	switch l {
	case Mahadasha, Antardasha, Pratyantardasha:
		return true
	}
	return false
}

// Nakshatra group kinds.
const (
	KindSupportive  = "supportive"
	KindNeutral     = "neutral"
	KindSensitive   = "sensitive"
	KindObstructive = "obstructive"
)

// Placement is a planet's position in a chart.
type Placement struct {
	House        int    `json:"house"`
	Sign         string `json:"sign,omitempty"`
	Nakshatra    string `json:"nakshatra,omitempty"`
	IsRetrograde bool   `json:"is_retrograde"`
}

// DashaPeriod is one active level of the dasha chain.
type DashaPeriod struct {
	Level    DashaLevel `json:"level"`
	PlanetID int        `json:"planet_id"`
}

// NakshatraTag classifies a planet's nakshatra for one life context.
type NakshatraTag struct {
	Context string `json:"context"`
	Kind    string `json:"kind"`
}

// Snapshot is the computed chart state for one evaluation request.
// Nil maps mean the fact family was not computed for this chart; lookups
// against them fail with a MissingFactError rather than reading as false.
type Snapshot struct {
	ChartRef        string                    `json:"chart_ref,omitempty"`
	Planets         map[Planet]Placement      `json:"planets"`
	TransitPlanets  map[Planet]Placement      `json:"transit_planets,omitempty"`
	DashaChain      []DashaPeriod             `json:"dasha_chain,omitempty"`
	Scores          map[string]float64        `json:"scores,omitempty"`
	NakshatraGroups map[Planet][]NakshatraTag `json:"nakshatra_groups,omitempty"`
	HouseLords      map[int]int               `json:"house_lords,omitempty"`
	PlanetStrength  map[Planet]float64        `json:"planet_strength,omitempty"`
}

// ErrMissingFact matches any MissingFactError via errors.Is.
var ErrMissingFact = errors.New("missing fact")

// MissingFactError reports a fact referenced by a condition that the
// snapshot does not carry.
type MissingFactError struct {
	Fact string
}

func (e *MissingFactError) Error() string {
	return fmt.Sprintf("missing fact: %s", e.Fact)
}

func (e *MissingFactError) Is(target error) bool {
	return target == ErrMissingFact
}

func missing(format string, args ...any) error {
	return &MissingFactError{Fact: fmt.Sprintf(format, args...)}
}

// Placement returns the natal placement of p.
func (s *Snapshot) Placement(p Planet) (Placement, error) {
	pl, ok := s.Planets[p]
	if !ok {
		return Placement{}, missing("planets.%s", p)
	}
	return pl, nil
}

// TransitPlacement returns the transiting placement of p.
func (s *Snapshot) TransitPlacement(p Planet) (Placement, error) {
	pl, ok := s.TransitPlanets[p]
	if !ok {
		return Placement{}, missing("transit_planets.%s", p)
	}
	return pl, nil
}

// Dasha returns the running dasha chain. An empty chain is a missing fact;
// a chain without the requested level is not.
func (s *Snapshot) Dasha() ([]DashaPeriod, error) {
	if len(s.DashaChain) == 0 {
		return nil, missing("dasha_chain")
	}
	return s.DashaChain, nil
}

// Score returns a named composite score.
func (s *Snapshot) Score(name string) (float64, error) {
	v, ok := s.Scores[name]
	if !ok {
		return 0, missing("scores.%s", name)
	}
	return v, nil
}

// NakshatraTags returns the group tags for p.
func (s *Snapshot) NakshatraTags(p Planet) ([]NakshatraTag, error) {
	tags, ok := s.NakshatraGroups[p]
	if !ok {
		return nil, missing("nakshatra_groups.%s", p)
	}
	return tags, nil
}

// HouseLord returns the house occupied by the lord of house.
func (s *Snapshot) HouseLord(house int) (int, error) {
	h, ok := s.HouseLords[house]
	if !ok {
		return 0, missing("house_lords.%d", house)
	}
	return h, nil
}

// Strength returns the strength of p.
func (s *Snapshot) Strength(p Planet) (float64, error) {
	v, ok := s.PlanetStrength[p]
	if !ok {
		return 0, missing("planet_strength.%s", p)
	}
	return v, nil
}

// Validate checks ranges of every fact present. Completeness is not
// enforced: absent facts surface later as MissingFactError.
func (s *Snapshot) Validate() error {
	if err := validatePlacements("planets", s.Planets); err != nil {
		return err
	}
	if err := validatePlacements("transit_planets", s.TransitPlanets); err != nil {
		return err
	}
	for i, d := range s.DashaChain {
		if !d.Level.Valid() {
			return fmt.Errorf("dasha_chain[%d]: unknown level %q", i, d.Level)
		}
		if _, err := PlanetByID(d.PlanetID); err != nil {
			return fmt.Errorf("dasha_chain[%d]: %w", i, err)
		}
	}
	for name, v := range s.Scores {
		if v < 0.0 || v > 1.0 {
			return fmt.Errorf("scores.%s must be between 0.0 and 1.0", name)
		}
	}
	for p, tags := range s.NakshatraGroups {
		if !p.Valid() {
			return fmt.Errorf("nakshatra_groups: unknown planet %q", p)
		}
		for _, t := range tags {
			if t.Context == "" {
				return fmt.Errorf("nakshatra_groups.%s: context must not be empty", p)
			}
			switch t.Kind {
			case KindSupportive, KindNeutral, KindSensitive, KindObstructive:
			default:
				return fmt.Errorf("nakshatra_groups.%s: unknown kind %q", p, t.Kind)
			}
		}
	}
	for house, lordHouse := range s.HouseLords {
		if !ValidHouse(house) || !ValidHouse(lordHouse) {
			return fmt.Errorf("house_lords.%d: houses must be between 1 and 12", house)
		}
	}
	for p, v := range s.PlanetStrength {
		if !p.Valid() {
			return fmt.Errorf("planet_strength: unknown planet %q", p)
		}
		if v < 0.0 || v > 1.0 {
			return fmt.Errorf("planet_strength.%s must be between 0.0 and 1.0", p)
		}
	}
	return nil
}

func validatePlacements(field string, placements map[Planet]Placement) error {
	for p, pl := range placements {
		if !p.Valid() {
			return fmt.Errorf("%s: unknown planet %q", field, p)
		}
		if !ValidHouse(pl.House) {
			return fmt.Errorf("%s.%s.house must be between 1 and 12", field, p)
		}
	}
	return nil
}
