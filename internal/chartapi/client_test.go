package chartapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rewired-gh/kundlicore/internal/chart"
)

const exportJSON = `{
	"chart_ref": "chart-42",
	"planets": {
		"SUN": {"house": 10, "sign": "Leo", "nakshatra": "Magha"},
		"moon": {"house": 4},
		"3": {"house": 6, "is_retrograde": true},
		"MERCURY": {"house": 9},
		"JUPITER": {"house": 10},
		"VENUS": {"house": 2},
		"SATURN": {"house": 7},
		"RAHU": {"house": 3},
		"KETU": {"house": 9}
	},
	"transit_planets": [
		{"planet": "SATURN", "house": 10},
		{"planet_id": 3, "house": 6}
	],
	"dasha_chain": [
		{"level": "Mahadasha", "planet_id": 5},
		{"level": "antardasha", "planet": "SATURN"}
	],
	"scores": {"overall_benefic_score": 0.8, "overall_malefic_score": 0.75},
	"nakshatra_groups": {
		"MOON": [{"context": "health", "kind": "Sensitive"}],
		"SUN": []
	},
	"house_lords": {"1": 5, "10": {"lord_house": 11}},
	"planet_strength": {"SUN": 0.7}
}`

func fastOptions() Options {
	return Options{
		Timeout:      2 * time.Second,
		MaxRetries:   2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}
}

func TestFetchSnapshot(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/charts/chart-42/snapshot" {
			t.Errorf("Expected path /api/charts/chart-42/snapshot, got %s", r.URL.Path)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Expected Accept application/json, got %s", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(exportJSON))
	}))
	defer mockServer.Close()

	client := NewClient(mockServer.URL+"/api/", fastOptions())
	snap, err := client.FetchSnapshot(context.Background(), "chart-42")
	if err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}
	if snap.ChartRef != "chart-42" {
		t.Errorf("Expected chart ref chart-42, got %s", snap.ChartRef)
	}
	if len(snap.Planets) != 9 {
		t.Errorf("Expected 9 natal placements, got %d", len(snap.Planets))
	}
}

func TestFetchSnapshot_RetriesServerErrors(t *testing.T) {
	var calls int32
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"planets": {"SUN": {"house": 1}}}`))
	}))
	defer mockServer.Close()

	client := NewClient(mockServer.URL, fastOptions())
	snap, err := client.FetchSnapshot(context.Background(), "abc")
	if err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 calls, got %d", got)
	}
	if snap.ChartRef != "abc" {
		t.Errorf("Expected chart ref to default to the id, got %q", snap.ChartRef)
	}
}

func TestFetchSnapshot_GivesUp(t *testing.T) {
	var calls int32
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer mockServer.Close()

	client := NewClient(mockServer.URL, fastOptions())
	if _, err := client.FetchSnapshot(context.Background(), "abc"); err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 1 attempt plus 2 retries, got %d calls", got)
	}
}

func TestFetchSnapshot_NotFound(t *testing.T) {
	var calls int32
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer mockServer.Close()

	client := NewClient(mockServer.URL, fastOptions())
	_, err := client.FetchSnapshot(context.Background(), "missing")
	if !errors.Is(err, ErrChartNotFound) {
		t.Fatalf("Expected ErrChartNotFound, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("404 must not be retried, got %d calls", got)
	}
}

func TestFetchSnapshot_EmptyID(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", fastOptions())
	if _, err := client.FetchSnapshot(context.Background(), ""); err == nil {
		t.Error("Expected error for empty chart id")
	}
}

func TestParseSnapshot(t *testing.T) {
	snap, err := ParseSnapshot([]byte(exportJSON))
	if err != nil {
		t.Fatalf("ParseSnapshot failed: %v", err)
	}

	if pl := snap.Planets[chart.Mars]; pl.House != 6 || !pl.IsRetrograde {
		t.Errorf("Expected MARS (id 3) in house 6 retrograde, got %+v", pl)
	}
	if pl := snap.Planets[chart.Sun]; pl.Sign != "Leo" || pl.Nakshatra != "Magha" {
		t.Errorf("Unexpected SUN placement %+v", pl)
	}
	if _, ok := snap.Planets[chart.Moon]; !ok {
		t.Error("Expected lowercase moon key to resolve")
	}
	if pl := snap.TransitPlanets[chart.Mars]; pl.House != 6 {
		t.Errorf("Expected transit MARS in house 6, got %+v", pl)
	}

	wantChain := []chart.DashaPeriod{
		{Level: chart.Mahadasha, PlanetID: 5},
		{Level: chart.Antardasha, PlanetID: 7},
	}
	if len(snap.DashaChain) != len(wantChain) {
		t.Fatalf("Expected %d dasha periods, got %d", len(wantChain), len(snap.DashaChain))
	}
	for i, want := range wantChain {
		if snap.DashaChain[i] != want {
			t.Errorf("dasha_chain[%d] = %+v, want %+v", i, snap.DashaChain[i], want)
		}
	}

	if snap.Scores[chart.OverallMaleficScore] != 0.75 {
		t.Errorf("Unexpected malefic score %v", snap.Scores[chart.OverallMaleficScore])
	}
	if tags := snap.NakshatraGroups[chart.Moon]; len(tags) != 1 || tags[0].Kind != chart.KindSensitive {
		t.Errorf("Unexpected MOON tags %+v", tags)
	}
	if tags, ok := snap.NakshatraGroups[chart.Sun]; !ok || len(tags) != 0 {
		t.Errorf("Expected SUN present with no tags, got %+v (present=%v)", tags, ok)
	}
	if snap.HouseLords[1] != 5 || snap.HouseLords[10] != 11 {
		t.Errorf("Unexpected house lords %+v", snap.HouseLords)
	}
	if snap.PlanetStrength[chart.Sun] != 0.7 {
		t.Errorf("Unexpected SUN strength %v", snap.PlanetStrength[chart.Sun])
	}
	if _, err := snap.Strength(chart.Moon); !errors.Is(err, chart.ErrMissingFact) {
		t.Errorf("Expected missing fact for MOON strength, got %v", err)
	}
}

func TestParseSnapshot_CamelCaseWrapped(t *testing.T) {
	body := `{"data": {
		"chartRef": "c-7",
		"planets": [{"symbol": "SUN", "house": 1}],
		"transitPlanets": {"SATURN": 8},
		"dashaChain": [{"level": "pratyantardasha", "planetId": 9}],
		"planetStrength": {"1": 0.4}
	}}`
	snap, err := ParseSnapshot([]byte(body))
	if err != nil {
		t.Fatalf("ParseSnapshot failed: %v", err)
	}
	if snap.ChartRef != "c-7" {
		t.Errorf("Expected chart ref c-7, got %s", snap.ChartRef)
	}
	if snap.TransitPlanets[chart.Saturn].House != 8 {
		t.Errorf("Expected shorthand transit house 8, got %+v", snap.TransitPlanets[chart.Saturn])
	}
	if snap.DashaChain[0].PlanetID != 9 {
		t.Errorf("Expected KETU (9), got %d", snap.DashaChain[0].PlanetID)
	}
	if snap.PlanetStrength[chart.Sun] != 0.4 {
		t.Errorf("Expected SUN strength via id key, got %v", snap.PlanetStrength)
	}
	if snap.Scores != nil || snap.HouseLords != nil || snap.NakshatraGroups != nil {
		t.Error("Absent fact families must stay nil")
	}
}

func TestParseSnapshot_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"planets":`},
		{"not an object", `[1,2,3]`},
		{"unknown planet", `{"planets": {"PLUTO": {"house": 1}}}`},
		{"planet id out of range", `{"planets": {"10": {"house": 1}}}`},
		{"house out of range", `{"planets": {"SUN": {"house": 13}}}`},
		{"missing house", `{"planets": {"SUN": {"sign": "Leo"}}}`},
		{"score out of range", `{"scores": {"overall_benefic_score": 1.3}}`},
		{"score not a number", `{"scores": {"overall_benefic_score": "high"}}`},
		{"unknown dasha level", `{"dasha_chain": [{"level": "sookshma", "planet_id": 1}]}`},
		{"house lord key", `{"house_lords": {"tenth": 11}}`},
		{"unknown nakshatra kind", `{"nakshatra_groups": {"MOON": [{"context": "health", "kind": "hostile"}]}}`},
		{"duplicate placement", `{"planets": [{"planet": "SUN", "house": 1}, {"planet": 1, "house": 2}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSnapshot([]byte(tt.body)); err == nil {
				t.Errorf("ParseSnapshot(%s) expected error", tt.body)
			}
		})
	}
}
