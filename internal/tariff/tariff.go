// Package tariff implements time-of-use electricity pricing: a peak-hour
// window, per-tier rates, and the cumulative cost ledger for a delivery
// stream.
package tariff

import (
	"math"
	"time"
)

// Rate tier labels reported with every cost breakdown.
const (
	TierPeak    = "peak"
	TierOffPeak = "off-peak"
	TierExport  = "grid-export"
)

// Window is a daily peak-hour window. StartHour is inclusive, EndHour
// exclusive.
type Window struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
}

// Contains reports whether an hour-of-day falls inside the window.
func (w Window) Contains(hour int) bool {
	return hour >= w.StartHour && hour < w.EndHour
}

// Rates holds the injected tier configuration.
type Rates struct {
	Peak     Window  `yaml:"peak_window"`
	PeakRate float64 `yaml:"peak_rate"`     // per kWh
	OffPeak  float64 `yaml:"off_peak_rate"` // per kWh
	Currency string  `yaml:"currency"`
}

// Breakdown is the cost of a single delivered point.
type Breakdown struct {
	EnergyKWh float64
	Cost      float64
	Tier      string
}

// Cost computes the breakdown for one point: grid draw in kW over the
// point's duration, priced by the tier active at the calendar time. Net
// export, zero draw, and non-finite draw all price as zero under the
// grid-export tier.
func (r Rates) Cost(gridKW, durationHours float64, at time.Time) Breakdown {
	if !(gridKW > 0) || math.IsInf(gridKW, 0) {
		return Breakdown{Tier: TierExport}
	}
	energy := gridKW * durationHours
	if r.Peak.Contains(at.Hour()) {
		return Breakdown{EnergyKWh: energy, Cost: energy * r.PeakRate, Tier: TierPeak}
	}
	return Breakdown{EnergyKWh: energy, Cost: energy * r.OffPeak, Tier: TierOffPeak}
}
