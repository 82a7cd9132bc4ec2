// Package forecast provides the hourly photovoltaic output series the
// simulation indexes by calendar time. The canonical source is a cached
// PVWatts-style response file; a synthetic series stands in when no cached
// data is available.
package forecast

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"
)

// HoursPerYear is the length of the synthetic fallback series.
const HoursPerYear = 8760

// Hourly is a fixed-length ordered series of forecast values (DC watts),
// one per hour of a reference year. Read-only after construction.
type Hourly struct {
	values []float64
}

// New wraps an hourly value series.
func New(values []float64) (*Hourly, error) {
	if len(values) == 0 {
		return nil, errors.New("forecast: empty hourly series")
	}
	return &Hourly{values: values}, nil
}

// pvwattsResponse mirrors the slice of the cached API response we consume.
type pvwattsResponse struct {
	Outputs struct {
		DC []float64 `json:"dc"`
	} `json:"outputs"`
}

// Load reads a cached PVWatts response file and returns its hourly DC series.
func Load(path string) (*Hourly, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("forecast: reading %s: %w", path, err)
	}
	var resp pvwattsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("forecast: parsing %s: %w", path, err)
	}
	if len(resp.Outputs.DC) == 0 {
		return nil, fmt.Errorf("forecast: no DC output series in %s", path)
	}
	log.Printf("forecast: loaded %d hourly values from %s", len(resp.Outputs.DC), path)
	return &Hourly{values: resp.Outputs.DC}, nil
}

// Synthetic returns a stand-in series of one reference year of plausible
// DC watt values. Used when no cached forecast file is available.
func Synthetic() *Hourly {
	values := make([]float64, HoursPerYear)
	for i := range values {
		values[i] = 5000 + rand.Float64()*10000
	}
	return &Hourly{values: values}
}

// Len returns the series length.
func (h *Hourly) Len() int { return len(h.values) }

// Index derives the series position for a calendar timestamp from its
// day-of-year and hour-of-day. It must always be computed from the calendar
// time: incrementally tracked indexes drift and double-count when batches
// do not align to whole hours.
func (h *Hourly) Index(t time.Time) int {
	idx := (t.YearDay()-1)*24 + t.Hour()
	return idx % len(h.values)
}

// At returns the value at the given index, wrapping around the series.
func (h *Hourly) At(idx int) float64 {
	if idx < 0 {
		idx = 0
	}
	return h.values[idx%len(h.values)]
}
