package condition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rewired-gh/kundlicore/internal/chart"
)

// Leaf keys understood by the engine.
const (
	KeyPlanetInHouse          = "planet_in_house"
	KeyTransitPlanetInHouse   = "transit_planet_in_house"
	KeyDashaRunning           = "dasha_running"
	KeyOverallBeneficScore    = chart.OverallBeneficScore
	KeyOverallMaleficScore    = chart.OverallMaleficScore
	KeyPlanetInNakshatraGroup = "planet_in_nakshatra_group"
	KeyHouseLordInHouse       = "house_lord_in_house"
	KeyPlanetStrength         = "planet_strength"
	KeyGenericCondition       = "generic_condition"
)

// MatchAny is the only match mode in use: count how many listed planets
// satisfy the predicate and compare against min_planets.
const MatchAny = "any"

// Primitive is a leaf predicate over a snapshot. Implementations are pure.
type Primitive interface {
	Key() string
	Eval(s *chart.Snapshot) (bool, error)
}

type decoder func(raw json.RawMessage) (Primitive, error)

var registry = map[string]decoder{
	KeyPlanetInHouse:          decodeHouseOccupancy(false),
	KeyTransitPlanetInHouse:   decodeHouseOccupancy(true),
	KeyDashaRunning:           decodeDashaRunning,
	KeyOverallBeneficScore:    decodeScoreRange(KeyOverallBeneficScore),
	KeyOverallMaleficScore:    decodeScoreRange(KeyOverallMaleficScore),
	KeyPlanetInNakshatraGroup: decodeNakshatraGroup,
	KeyHouseLordInHouse:       decodeHouseLordInHouse,
	KeyPlanetStrength:         decodePlanetStrength,
	KeyGenericCondition:       decodeGenericCondition,
}

// ---------------------------------------------------------------------------
// planet_in_house / transit_planet_in_house

// HouseOccupancy counts listed planets sitting in any of the listed houses,
// natal or transiting.
type HouseOccupancy struct {
	Transit    bool           `json:"-"`
	Planets    []chart.Planet `json:"planet_in"`
	Houses     []int          `json:"house_in"`
	MatchMode  string         `json:"match_mode,omitempty"`
	MinPlanets int            `json:"min_planets"`
}

func (h *HouseOccupancy) Key() string {
	if h.Transit {
		return KeyTransitPlanetInHouse
	}
	return KeyPlanetInHouse
}

func (h *HouseOccupancy) Eval(s *chart.Snapshot) (bool, error) {
	if err := checkMatchMode(h.Key(), h.MatchMode); err != nil {
		return false, err
	}
	count := 0
	for _, p := range h.Planets {
		var pl chart.Placement
		var err error
		if h.Transit {
			pl, err = s.TransitPlacement(p)
		} else {
			pl, err = s.Placement(p)
		}
		if err != nil {
			return false, err
		}
		if containsInt(h.Houses, pl.House) {
			count++
		}
	}
	return count >= h.MinPlanets, nil
}

func decodeHouseOccupancy(transit bool) decoder {
	return func(raw json.RawMessage) (Primitive, error) {
		var in struct {
			PlanetIn   []string `json:"planet_in"`
			HouseIn    []int    `json:"house_in"`
			MatchMode  string   `json:"match_mode"`
			MinPlanets *int     `json:"min_planets"`
		}
		if err := decodeStrict(raw, &in); err != nil {
			return nil, err
		}
		planets, err := parsePlanets(in.PlanetIn)
		if err != nil {
			return nil, err
		}
		if err := checkHouses("house_in", in.HouseIn); err != nil {
			return nil, err
		}
		minPlanets, err := minPlanetsOrDefault(in.MinPlanets)
		if err != nil {
			return nil, err
		}
		return &HouseOccupancy{
			Transit:    transit,
			Planets:    planets,
			Houses:     in.HouseIn,
			MatchMode:  in.MatchMode,
			MinPlanets: minPlanets,
		}, nil
	}
}

// ---------------------------------------------------------------------------
// dasha_running

// DashaRunning matches when the chain has an entry at Level whose planet id
// is listed.
type DashaRunning struct {
	Level     chart.DashaLevel `json:"level"`
	PlanetIDs []int            `json:"planet_in"`
}

func (d *DashaRunning) Key() string { return KeyDashaRunning }

func (d *DashaRunning) Eval(s *chart.Snapshot) (bool, error) {
	chain, err := s.Dasha()
	if err != nil {
		return false, err
	}
	for _, period := range chain {
		if period.Level == d.Level && containsInt(d.PlanetIDs, period.PlanetID) {
			return true, nil
		}
	}
	return false, nil
}

func decodeDashaRunning(raw json.RawMessage) (Primitive, error) {
	var in struct {
		Level    string `json:"level"`
		PlanetIn []int  `json:"planet_in"`
	}
	if err := decodeStrict(raw, &in); err != nil {
		return nil, err
	}
	level := chart.DashaLevel(strings.ToLower(in.Level))
	if !level.Valid() {
		return nil, fmt.Errorf("unknown dasha level %q", in.Level)
	}
	if len(in.PlanetIn) == 0 {
		return nil, errors.New("planet_in must not be empty")
	}
	for _, id := range in.PlanetIn {
		if _, err := chart.PlanetByID(id); err != nil {
			return nil, err
		}
	}
	return &DashaRunning{Level: level, PlanetIDs: in.PlanetIn}, nil
}

// ---------------------------------------------------------------------------
// overall_benefic_score / overall_malefic_score

// ScoreRange matches when a named score lies within [Min, Max]. A nil bound
// leaves that side open.
type ScoreRange struct {
	Name string   `json:"-"`
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
}

func (r *ScoreRange) Key() string { return r.Name }

func (r *ScoreRange) Eval(s *chart.Snapshot) (bool, error) {
	v, err := s.Score(r.Name)
	if err != nil {
		return false, err
	}
	if r.Min != nil && v < *r.Min {
		return false, nil
	}
	if r.Max != nil && v > *r.Max {
		return false, nil
	}
	return true, nil
}

func decodeScoreRange(name string) decoder {
	return func(raw json.RawMessage) (Primitive, error) {
		var in struct {
			Min *float64 `json:"min"`
			Max *float64 `json:"max"`
		}
		if err := decodeStrict(raw, &in); err != nil {
			return nil, err
		}
		for _, b := range []*float64{in.Min, in.Max} {
			if b != nil && (*b < 0.0 || *b > 1.0) {
				return nil, errors.New("score bounds must be between 0.0 and 1.0")
			}
		}
		if in.Min != nil && in.Max != nil && *in.Min > *in.Max {
			return nil, errors.New("min must be <= max")
		}
		return &ScoreRange{Name: name, Min: in.Min, Max: in.Max}, nil
	}
}

// ---------------------------------------------------------------------------
// planet_in_nakshatra_group

// NakshatraGroup counts listed planets whose nakshatra tags include Group.
type NakshatraGroup struct {
	Planets    []chart.Planet     `json:"planet_in"`
	Group      chart.NakshatraTag `json:"group"`
	MatchMode  string             `json:"match_mode,omitempty"`
	MinPlanets int                `json:"min_planets"`
}

func (n *NakshatraGroup) Key() string { return KeyPlanetInNakshatraGroup }

func (n *NakshatraGroup) Eval(s *chart.Snapshot) (bool, error) {
	if err := checkMatchMode(n.Key(), n.MatchMode); err != nil {
		return false, err
	}
	count := 0
	for _, p := range n.Planets {
		tags, err := s.NakshatraTags(p)
		if err != nil {
			return false, err
		}
		for _, t := range tags {
			if t == n.Group {
				count++
				break
			}
		}
	}
	return count >= n.MinPlanets, nil
}

func decodeNakshatraGroup(raw json.RawMessage) (Primitive, error) {
	var in struct {
		PlanetIn []string `json:"planet_in"`
		Group    struct {
			Context string `json:"context"`
			Kind    string `json:"kind"`
		} `json:"group"`
		MatchMode  string `json:"match_mode"`
		MinPlanets *int   `json:"min_planets"`
	}
	if err := decodeStrict(raw, &in); err != nil {
		return nil, err
	}
	planets, err := parsePlanets(in.PlanetIn)
	if err != nil {
		return nil, err
	}
	if in.Group.Context == "" {
		return nil, errors.New("group.context must not be empty")
	}
	switch in.Group.Kind {
	case chart.KindSupportive, chart.KindNeutral, chart.KindSensitive, chart.KindObstructive:
	default:
		return nil, fmt.Errorf("unknown group.kind %q", in.Group.Kind)
	}
	minPlanets, err := minPlanetsOrDefault(in.MinPlanets)
	if err != nil {
		return nil, err
	}
	return &NakshatraGroup{
		Planets:    planets,
		Group:      chart.NakshatraTag{Context: in.Group.Context, Kind: in.Group.Kind},
		MatchMode:  in.MatchMode,
		MinPlanets: minPlanets,
	}, nil
}

// ---------------------------------------------------------------------------
// house_lord_in_house

// HouseLordInHouse matches when the lord of House sits in one of LordHouses.
type HouseLordInHouse struct {
	House      int   `json:"house"`
	LordHouses []int `json:"lord_house_in"`
}

func (h *HouseLordInHouse) Key() string { return KeyHouseLordInHouse }

func (h *HouseLordInHouse) Eval(s *chart.Snapshot) (bool, error) {
	at, err := s.HouseLord(h.House)
	if err != nil {
		return false, err
	}
	return containsInt(h.LordHouses, at), nil
}

func decodeHouseLordInHouse(raw json.RawMessage) (Primitive, error) {
	var in struct {
		House       int   `json:"house"`
		LordHouseIn []int `json:"lord_house_in"`
	}
	if err := decodeStrict(raw, &in); err != nil {
		return nil, err
	}
	if !chart.ValidHouse(in.House) {
		return nil, fmt.Errorf("house %d out of range 1..12", in.House)
	}
	if err := checkHouses("lord_house_in", in.LordHouseIn); err != nil {
		return nil, err
	}
	return &HouseLordInHouse{House: in.House, LordHouses: in.LordHouseIn}, nil
}

// ---------------------------------------------------------------------------
// planet_strength

// PlanetStrength matches when the planet's strength is at least Min.
type PlanetStrength struct {
	Planet chart.Planet `json:"planet"`
	Min    float64      `json:"min"`
}

func (p *PlanetStrength) Key() string { return KeyPlanetStrength }

func (p *PlanetStrength) Eval(s *chart.Snapshot) (bool, error) {
	v, err := s.Strength(p.Planet)
	if err != nil {
		return false, err
	}
	return v >= p.Min, nil
}

func decodePlanetStrength(raw json.RawMessage) (Primitive, error) {
	var in struct {
		Planet string   `json:"planet"`
		Min    *float64 `json:"min"`
	}
	if err := decodeStrict(raw, &in); err != nil {
		return nil, err
	}
	planet, err := chart.ParsePlanet(in.Planet)
	if err != nil {
		return nil, err
	}
	if in.Min == nil {
		return nil, errors.New("min is required")
	}
	if *in.Min < 0.0 || *in.Min > 1.0 {
		return nil, errors.New("min must be between 0.0 and 1.0")
	}
	return &PlanetStrength{Planet: planet, Min: *in.Min}, nil
}

// ---------------------------------------------------------------------------
// generic_condition

// GenericCondition always matches. It marks baseline variants and carries
// only an authoring note.
type GenericCondition struct {
	Note string `json:"note,omitempty"`
}

func (g *GenericCondition) Key() string { return KeyGenericCondition }

func (g *GenericCondition) Eval(*chart.Snapshot) (bool, error) { return true, nil }

func decodeGenericCondition(raw json.RawMessage) (Primitive, error) {
	var in GenericCondition
	if err := decodeStrict(raw, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

// ---------------------------------------------------------------------------
// unknown leaves

type unknownPrimitive struct {
	key string
	raw json.RawMessage
}

func (u *unknownPrimitive) Key() string { return u.key }

func (u *unknownPrimitive) Eval(*chart.Snapshot) (bool, error) {
	return false, &UnknownConditionError{Key: u.key}
}

func (u *unknownPrimitive) MarshalJSON() ([]byte, error) {
	if len(u.raw) == 0 {
		return []byte("null"), nil
	}
	return u.raw, nil
}

// ---------------------------------------------------------------------------
// helpers

// modal is implemented by primitives that carry a match_mode.
type modal interface {
	matchMode() string
}

func (h *HouseOccupancy) matchMode() string { return h.MatchMode }
func (n *NakshatraGroup) matchMode() string { return n.MatchMode }

// checkMatchMode accepts an omitted mode as MatchAny. Anything else is an
// engine/content mismatch, never a silent default.
func checkMatchMode(key, mode string) error {
	switch mode {
	case "", MatchAny:
		return nil
	}
	return &UnknownConditionError{Key: key, Reason: fmt.Sprintf("unsupported match_mode %q", mode)}
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

func parsePlanets(symbols []string) ([]chart.Planet, error) {
	if len(symbols) == 0 {
		return nil, errors.New("planet_in must not be empty")
	}
	planets := make([]chart.Planet, 0, len(symbols))
	for _, sym := range symbols {
		p, err := chart.ParsePlanet(sym)
		if err != nil {
			return nil, err
		}
		planets = append(planets, p)
	}
	return planets, nil
}

func checkHouses(field string, houses []int) error {
	if len(houses) == 0 {
		return fmt.Errorf("%s must not be empty", field)
	}
	for _, h := range houses {
		if !chart.ValidHouse(h) {
			return fmt.Errorf("%s: house %d out of range 1..12", field, h)
		}
	}
	return nil
}

func minPlanetsOrDefault(v *int) (int, error) {
	if v == nil {
		return 1, nil
	}
	if *v < 0 {
		return 0, errors.New("min_planets must not be negative")
	}
	return *v, nil
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
