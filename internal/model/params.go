package model

import (
	"fmt"
	"math"
)

// Parameters is the authoritative simulation input record. Field names and
// JSON keys match the tunable parameter names the external batch simulator
// expects, so the record can be handed over without a translation layer.
type Parameters struct {
	Bay1Occupied   float64 `json:"bay1_occupied"`   // boolean (0.0/1.0)
	Bay2Occupied   float64 `json:"bay2_occupied"`   // boolean (0.0/1.0)
	Bay3Occupied   float64 `json:"bay3_occupied"`   // boolean (0.0/1.0)
	Bay4Occupied   float64 `json:"bay4_occupied"`   // boolean (0.0/1.0)
	Bay1Percentage float64 `json:"bay1_percentage"` // 0-100
	Bay2Percentage float64 `json:"bay2_percentage"` // 0-100
	Bay3Percentage float64 `json:"bay3_percentage"` // 0-100
	Bay4Percentage float64 `json:"bay4_percentage"` // 0-100
	PVOutput       float64 `json:"PVOutput"`        // kW
	BatterySOC     float64 `json:"battery_soc"`     // 0-100
	GridPeak       float64 `json:"GridPeak"`        // boolean (0.0/1.0)
	BatteryOutput  float64 `json:"BatteryOutput"`   // kW
}

// Defaults returns the parameter record used at process start.
func Defaults() Parameters {
	return Parameters{
		PVOutput:      10.0,
		BatteryOutput: 30.0,
	}
}

// ToMap flattens the record into the tunable-parameter map passed to the
// external simulator.
func (p Parameters) ToMap() map[string]float64 {
	return map[string]float64{
		"bay1_occupied":   p.Bay1Occupied,
		"bay2_occupied":   p.Bay2Occupied,
		"bay3_occupied":   p.Bay3Occupied,
		"bay4_occupied":   p.Bay4Occupied,
		"bay1_percentage": p.Bay1Percentage,
		"bay2_percentage": p.Bay2Percentage,
		"bay3_percentage": p.Bay3Percentage,
		"bay4_percentage": p.Bay4Percentage,
		"PVOutput":        p.PVOutput,
		"battery_soc":     p.BatterySOC,
		"GridPeak":        p.GridPeak,
		"BatteryOutput":   p.BatteryOutput,
	}
}

// Pins marks the simulation-derived fields whose last write was a manual
// override. A pinned field is exempt from batch-completion overwrites until
// the next session start clears it.
type Pins struct {
	BatterySOC     bool `json:"battery_soc"`
	Bay1Percentage bool `json:"bay1_percentage"`
	Bay2Percentage bool `json:"bay2_percentage"`
	Bay3Percentage bool `json:"bay3_percentage"`
	Bay4Percentage bool `json:"bay4_percentage"`
}

// Record couples the parameter values with their pin flags and the transient
// preserve-PV flag that suppresses one PV recomputation after a restart.
type Record struct {
	Values     Parameters
	Pins       Pins
	PreservePV bool
}

// NewRecord returns a record with default values and no pins.
func NewRecord() Record {
	return Record{Values: Defaults()}
}

// ClearPins resets all pin flags, re-enabling batch-completion overwrites.
// Called on session start.
func (r *Record) ClearPins() {
	r.Pins = Pins{}
}

// percentageFields are validated to lie within [0,100] on ingestion.
var percentageFields = map[string]bool{
	"bay1_percentage": true,
	"bay2_percentage": true,
	"bay3_percentage": true,
	"bay4_percentage": true,
	"battery_soc":     true,
}

// pvAffectingFields force a PV recomputation on the next restart when they
// appear in a manual update.
var pvAffectingFields = map[string]bool{
	"PVOutput": true,
}

// ApplyUpdate applies a partial field map to the record. Unknown field names
// are ignored. Recognized fields are validated (finite, percentages within
// [0,100]) before any write happens; a single bad value rejects the whole
// update. Writes to derived fields pin them.
//
// The preserve-PV flag is set when the update touches neither a PV-affecting
// field nor the session calendar, and cleared otherwise; calendarChanged
// reports the latter.
func ApplyUpdate(r *Record, fields map[string]float64, calendarChanged bool) ([]string, error) {
	changed := make([]string, 0, len(fields))
	for name, value := range fields {
		if _, known := knownField(name); !known {
			continue
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("field %q: value must be finite", name)
		}
		if percentageFields[name] && (value < 0 || value > 100) {
			return nil, fmt.Errorf("field %q: %v outside [0,100]", name, value)
		}
		changed = append(changed, name)
	}

	pvTouched := false
	for _, name := range changed {
		setter, _ := knownField(name)
		setter(r, fields[name])
		if pvAffectingFields[name] {
			pvTouched = true
		}
	}

	r.PreservePV = !pvTouched && !calendarChanged
	return changed, nil
}

// knownField maps an update key to its setter. The setter also pins derived
// fields, which is the manual-override contract.
func knownField(name string) (func(*Record, float64), bool) {
	switch name {
	case "bay1_occupied":
		return func(r *Record, v float64) { r.Values.Bay1Occupied = v }, true
	case "bay2_occupied":
		return func(r *Record, v float64) { r.Values.Bay2Occupied = v }, true
	case "bay3_occupied":
		return func(r *Record, v float64) { r.Values.Bay3Occupied = v }, true
	case "bay4_occupied":
		return func(r *Record, v float64) { r.Values.Bay4Occupied = v }, true
	case "bay1_percentage":
		return func(r *Record, v float64) { r.Values.Bay1Percentage = v; r.Pins.Bay1Percentage = true }, true
	case "bay2_percentage":
		return func(r *Record, v float64) { r.Values.Bay2Percentage = v; r.Pins.Bay2Percentage = true }, true
	case "bay3_percentage":
		return func(r *Record, v float64) { r.Values.Bay3Percentage = v; r.Pins.Bay3Percentage = true }, true
	case "bay4_percentage":
		return func(r *Record, v float64) { r.Values.Bay4Percentage = v; r.Pins.Bay4Percentage = true }, true
	case "PVOutput":
		return func(r *Record, v float64) { r.Values.PVOutput = v }, true
	case "battery_soc":
		return func(r *Record, v float64) { r.Values.BatterySOC = v; r.Pins.BatterySOC = true }, true
	case "GridPeak":
		return func(r *Record, v float64) { r.Values.GridPeak = v }, true
	case "BatteryOutput":
		return func(r *Record, v float64) { r.Values.BatteryOutput = v }, true
	}
	return nil, false
}

// Final is one derived series' last retained value from a completed batch.
// Valid is false when the series came back empty after filtering.
type Final struct {
	Value float64
	Valid bool
}

// FinalOf wraps the last element of a series, if any.
func FinalOf(series []float64) Final {
	if len(series) == 0 {
		return Final{}
	}
	return Final{Value: series[len(series)-1], Valid: true}
}

// BatchFinals carries the batch-end values for the five derived fields.
type BatchFinals struct {
	BatterySOC     Final
	Bay1Percentage Final
	Bay2Percentage Final
	Bay3Percentage Final
	Bay4Percentage Final
}

// ApplyBatchFinals writes each batch-final value into its field unless that
// field is pinned. Invalid finals (empty series) and non-finite values are
// skipped; pins are never modified here. Pure: the input record is unchanged.
func ApplyBatchFinals(r Record, finals BatchFinals) Record {
	write := func(dst *float64, pinned bool, f Final) {
		if !f.Valid || pinned {
			return
		}
		if math.IsNaN(f.Value) || math.IsInf(f.Value, 0) {
			return
		}
		*dst = f.Value
	}
	write(&r.Values.BatterySOC, r.Pins.BatterySOC, finals.BatterySOC)
	write(&r.Values.Bay1Percentage, r.Pins.Bay1Percentage, finals.Bay1Percentage)
	write(&r.Values.Bay2Percentage, r.Pins.Bay2Percentage, finals.Bay2Percentage)
	write(&r.Values.Bay3Percentage, r.Pins.Bay3Percentage, finals.Bay3Percentage)
	write(&r.Values.Bay4Percentage, r.Pins.Bay4Percentage, finals.Bay4Percentage)
	return r
}
