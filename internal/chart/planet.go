// Package chart defines the read-only chart snapshot that condition trees are
// evaluated against: natal and transit placements, the running dasha chain,
// composite scores, nakshatra group tags, house lords and planet strength.
//
// A Snapshot is built once per evaluation request by the snapshot provider and
// is never mutated afterwards, so it can be shared freely between goroutines.
package chart

import (
	"fmt"
	"strings"
)

// Planet is one of the nine graha symbols used throughout the authored content.
type Planet string

const (
	Sun     Planet = "SUN"
	Moon    Planet = "MOON"
	Mars    Planet = "MARS"
	Mercury Planet = "MERCURY"
	Jupiter Planet = "JUPITER"
	Venus   Planet = "VENUS"
	Saturn  Planet = "SATURN"
	Rahu    Planet = "RAHU"
	Ketu    Planet = "KETU"
)

// planetTable is the single symbol <-> id mapping. Index+1 is the planet id
// used by dasha records (Sun=1 ... Ketu=9).
var planetTable = [...]Planet{Sun, Moon, Mars, Mercury, Jupiter, Venus, Saturn, Rahu, Ketu}

// Planets returns all nine planets in id order.
func Planets() []Planet {
	out := make([]Planet, len(planetTable))
	copy(out, planetTable[:])
	return out
}

// ParsePlanet resolves a symbol case-insensitively.
func ParsePlanet(s string) (Planet, error) {
	p := Planet(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown planet %q", s)
	}
	return p, nil
}

// PlanetByID maps a dasha planet id (1..9) to its symbol.
func PlanetByID(id int) (Planet, error) {
	if id < 1 || id > len(planetTable) {
		return "", fmt.Errorf("planet id %d out of range 1..%d", id, len(planetTable))
	}
	return planetTable[id-1], nil
}

// ID returns the 1-based planet id, or 0 for an unknown symbol.
func (p Planet) ID() int {
	for i, q := range planetTable {
		if q == p {
			return i + 1
		}
	}
	return 0
}

// Valid reports whether p is one of the nine known symbols.
func (p Planet) Valid() bool {
	return p.ID() != 0
}

// ValidHouse reports whether h is a house number 1..12.
func ValidHouse(h int) bool {
	return h >= 1 && h <= 12
}
