package chartapi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rewired-gh/kundlicore/internal/chart"
)

// ParseSnapshot decodes a chart export. The export may be wrapped in a
// "snapshot" or "data" object and may use snake_case or camelCase keys.
// Planets are keyed by symbol (any case) or numeric id, either as an object
// or as an array of records carrying the key. Fact families absent from the
// export stay nil so lookups report them missing.
func ParseSnapshot(data []byte) (*chart.Snapshot, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, errors.New("snapshot must be a JSON object")
	}
	if inner := first(root, "snapshot", "data"); inner.IsObject() {
		root = inner
	}

	s := &chart.Snapshot{
		ChartRef: first(root, "chart_ref", "chartRef", "chart_id", "chartId").String(),
	}

	var err error
	if s.Planets, err = parsePlacements(first(root, "planets")); err != nil {
		return nil, fmt.Errorf("planets: %w", err)
	}
	if s.TransitPlanets, err = parsePlacements(first(root, "transit_planets", "transitPlanets")); err != nil {
		return nil, fmt.Errorf("transit_planets: %w", err)
	}
	if s.DashaChain, err = parseDasha(first(root, "dasha_chain", "dashaChain")); err != nil {
		return nil, fmt.Errorf("dasha_chain: %w", err)
	}
	if s.Scores, err = parseScores(first(root, "scores")); err != nil {
		return nil, fmt.Errorf("scores: %w", err)
	}
	if s.NakshatraGroups, err = parseNakshatraGroups(first(root, "nakshatra_groups", "nakshatraGroups")); err != nil {
		return nil, fmt.Errorf("nakshatra_groups: %w", err)
	}
	if s.HouseLords, err = parseHouseLords(first(root, "house_lords", "houseLords")); err != nil {
		return nil, fmt.Errorf("house_lords: %w", err)
	}
	if s.PlanetStrength, err = parseStrength(first(root, "planet_strength", "planetStrength")); err != nil {
		return nil, fmt.Errorf("planet_strength: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func first(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

// planetKey resolves a symbol ("SUN", "sun") or id ("1", 1).
func planetKey(r gjson.Result) (chart.Planet, error) {
	if r.Type == gjson.Number {
		return chart.PlanetByID(int(r.Int()))
	}
	s := strings.TrimSpace(r.String())
	if id, err := strconv.Atoi(s); err == nil {
		return chart.PlanetByID(id)
	}
	return chart.ParsePlanet(s)
}

// eachPlanet walks an object keyed by planet or an array of records whose
// planet is named by one of keyFields.
func eachPlanet(r gjson.Result, fn func(p chart.Planet, v gjson.Result) error) error {
	var err error
	switch {
	case r.IsObject():
		r.ForEach(func(k, v gjson.Result) bool {
			var p chart.Planet
			if p, err = planetKey(k); err != nil {
				return false
			}
			err = fn(p, v)
			return err == nil
		})
	case r.IsArray():
		for i, v := range r.Array() {
			key := first(v, "planet", "symbol", "planet_id", "planetId", "id")
			if !key.Exists() {
				return fmt.Errorf("[%d]: record has no planet key", i)
			}
			p, perr := planetKey(key)
			if perr != nil {
				return fmt.Errorf("[%d]: %w", i, perr)
			}
			if err := fn(p, v); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("expected object or array, got %s", r.Type)
	}
	return err
}

func parsePlacements(r gjson.Result) (map[chart.Planet]chart.Placement, error) {
	if !r.Exists() {
		return nil, nil
	}
	out := make(map[chart.Planet]chart.Placement)
	err := eachPlanet(r, func(p chart.Planet, v gjson.Result) error {
		if _, dup := out[p]; dup {
			return fmt.Errorf("duplicate placement for %s", p)
		}
		house := v.Get("house")
		if v.Type == gjson.Number {
			house = v
		}
		if house.Type != gjson.Number {
			return fmt.Errorf("%s: house is required", p)
		}
		out[p] = chart.Placement{
			House:        int(house.Int()),
			Sign:         v.Get("sign").String(),
			Nakshatra:    v.Get("nakshatra").String(),
			IsRetrograde: first(v, "is_retrograde", "isRetrograde", "retrograde").Bool(),
		}
		return nil
	})
	return out, err
}

func parseDasha(r gjson.Result) ([]chart.DashaPeriod, error) {
	if !r.Exists() {
		return nil, nil
	}
	if !r.IsArray() {
		return nil, fmt.Errorf("expected array, got %s", r.Type)
	}
	var chain []chart.DashaPeriod
	for i, v := range r.Array() {
		level := chart.DashaLevel(strings.ToLower(v.Get("level").String()))
		key := first(v, "planet_id", "planetId", "planet")
		if !key.Exists() {
			return nil, fmt.Errorf("[%d]: planet is required", i)
		}
		p, err := planetKey(key)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		chain = append(chain, chart.DashaPeriod{Level: level, PlanetID: p.ID()})
	}
	return chain, nil
}

func parseScores(r gjson.Result) (map[string]float64, error) {
	if !r.Exists() {
		return nil, nil
	}
	if !r.IsObject() {
		return nil, fmt.Errorf("expected object, got %s", r.Type)
	}
	out := make(map[string]float64)
	var err error
	r.ForEach(func(k, v gjson.Result) bool {
		if v.Type != gjson.Number {
			err = fmt.Errorf("%s: expected number", k.String())
			return false
		}
		out[k.String()] = v.Float()
		return true
	})
	return out, err
}

func parseNakshatraGroups(r gjson.Result) (map[chart.Planet][]chart.NakshatraTag, error) {
	if !r.Exists() {
		return nil, nil
	}
	if !r.IsObject() {
		return nil, fmt.Errorf("expected object, got %s", r.Type)
	}
	out := make(map[chart.Planet][]chart.NakshatraTag)
	err := eachPlanet(r, func(p chart.Planet, v gjson.Result) error {
		if !v.IsArray() {
			return fmt.Errorf("%s: expected array of tags", p)
		}
		tags := make([]chart.NakshatraTag, 0, len(v.Array()))
		for _, t := range v.Array() {
			tags = append(tags, chart.NakshatraTag{
				Context: t.Get("context").String(),
				Kind:    strings.ToLower(t.Get("kind").String()),
			})
		}
		out[p] = tags
		return nil
	})
	return out, err
}

func parseHouseLords(r gjson.Result) (map[int]int, error) {
	if !r.Exists() {
		return nil, nil
	}
	if !r.IsObject() {
		return nil, fmt.Errorf("expected object, got %s", r.Type)
	}
	out := make(map[int]int)
	var err error
	r.ForEach(func(k, v gjson.Result) bool {
		house, aerr := strconv.Atoi(k.String())
		if aerr != nil {
			err = fmt.Errorf("key %q is not a house number", k.String())
			return false
		}
		at := v
		if v.IsObject() {
			at = first(v, "lord_house", "lordHouse", "house")
		}
		if at.Type != gjson.Number {
			err = fmt.Errorf("%d: expected house number", house)
			return false
		}
		out[house] = int(at.Int())
		return true
	})
	return out, err
}

func parseStrength(r gjson.Result) (map[chart.Planet]float64, error) {
	if !r.Exists() {
		return nil, nil
	}
	if !r.IsObject() {
		return nil, fmt.Errorf("expected object, got %s", r.Type)
	}
	out := make(map[chart.Planet]float64)
	err := eachPlanet(r, func(p chart.Planet, v gjson.Result) error {
		if v.Type != gjson.Number {
			return fmt.Errorf("%s: expected number", p)
		}
		out[p] = v.Float()
		return nil
	})
	return out, err
}
