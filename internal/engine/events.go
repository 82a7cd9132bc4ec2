package engine

import "microgrid_simulator/internal/model"

// Point is the external-facing payload for one delivered simulation point.
// Series values are nil when the simulator did not produce them (NaN after
// extraction).
type Point struct {
	TimeAbs float64 `json:"time_abs"` // cumulative simulated seconds
	TimeRel float64 `json:"time_rel"` // seconds into the batch

	BattValue    *float64 `json:"batt_value"`
	BattRecharge *float64 `json:"batt_recharge"`
	EVRecharge   *float64 `json:"ev_recharge"`
	GridRequest  *float64 `json:"grid_request"`
	Bay1Level    *float64 `json:"vehicle1_battery_level"`
	Bay2Level    *float64 `json:"vehicle2_battery_level"`
	Bay3Level    *float64 `json:"vehicle3_battery_level"`
	Bay4Level    *float64 `json:"vehicle4_battery_level"`

	PVOutputWatts float64 `json:"pv_output_watts"`
	Date          string  `json:"date"`
	Time          string  `json:"time"`
	IsGridPeak    bool    `json:"is_grid_peak"`
	GridPeakLabel string  `json:"grid_peak_status"`

	Cost           float64 `json:"cost"`
	CumulativeCost float64 `json:"cumulative_cost"`
	EnergyKWh      float64 `json:"energy_kwh"`
	RateTier       string  `json:"rate_tier"`
	Currency       string  `json:"currency"`
}

// TimeUpdate is the periodic batch-boundary snapshot. Emissions are
// throttled by wall-clock time and monotonic in TotalSeconds.
type TimeUpdate struct {
	Datetime      string  `json:"datetime"`
	Date          string  `json:"date"`
	Time          string  `json:"time"`
	TotalSeconds  float64 `json:"total_seconds"`
	HourIndex     int     `json:"hour_index"`
	PVOutputWatts float64 `json:"pv_output_watts"`
	PVOutputKW    float64 `json:"pv_output_kw"`
	IsGridPeak    bool    `json:"is_grid_peak"`
	GridPeakLabel string  `json:"grid_peak_status"`
}

// State is the control-surface snapshot returned to callers and broadcast
// on state transitions.
type State struct {
	Running       bool             `json:"running"`
	Params        model.Parameters `json:"params"`
	Pins          model.Pins       `json:"pins"`
	Datetime      string           `json:"datetime"`
	Date          string           `json:"date"`
	Time          string           `json:"time"`
	TotalSeconds  float64          `json:"total_seconds"`
	Speed         float64          `json:"speed"`
	IsGridPeak    bool             `json:"is_grid_peak"`
	GridPeakLabel string           `json:"grid_peak_status"`
}

// Callback receives simulation events. Implementations must be safe for
// calls from the loop worker and from control entry points concurrently.
type Callback interface {
	OnPoint(p Point)
	OnTimeUpdate(u TimeUpdate)
	OnState(s State)
	OnError(message string)
	OnStopped()
}

// Labels for the grid-peak indicator.
const (
	labelPeak    = "Peak"
	labelOffPeak = "Off-Peak"
)

func peakLabel(isPeak bool) string {
	if isPeak {
		return labelPeak
	}
	return labelOffPeak
}

// nilIfNaN maps an unavailable (NaN) sample to a nil payload field.
func nilIfNaN(v float64) *float64 {
	if v != v {
		return nil
	}
	return &v
}
