// Package simparse turns the external batch simulator's raw nested response
// into typed, length-aligned series and strips its startup artifacts.
package simparse

import (
	"log"
	"math"
)

// Channel names in the raw simulator response. The time vector rides on the
// battery channel.
const (
	channelBattery      = "Batt"
	channelBattRecharge = "BattRecharge"
	channelEVRecharge   = "EVRecharge"
	channelGridRequest  = "GridRequest"
	channelBay1Level    = "Vehicle1BatteryLevel"
	channelBay2Level    = "Vehicle2BatteryLevel"
	channelBay3Level    = "Vehicle3BatteryLevel"
	channelBay4Level    = "Vehicle4BatteryLevel"
)

// Batch is a parsed, length-aligned result set: a time vector plus eight
// parallel series. All nine slices always have equal length.
type Batch struct {
	Time         []float64
	BatterySOC   []float64
	BattRecharge []float64
	EVRecharge   []float64
	GridRequest  []float64
	Bay1Level    []float64
	Bay2Level    []float64
	Bay3Level    []float64
	Bay4Level    []float64
}

// Len returns the number of points in the batch.
func (b Batch) Len() int { return len(b.Time) }

// Parse extracts all nine series from the raw channel map. It fails only
// when the time vector itself cannot be extracted; individual data channels
// that are missing or malformed come back NaN-filled at the time vector's
// length. An empty time vector is a valid zero-length batch.
func Parse(result map[string]any) (Batch, bool) {
	tv, ok := TimeVector(result, channelBattery)
	if !ok {
		return Batch{}, false
	}
	n := len(tv)
	return Batch{
		Time:         tv,
		BatterySOC:   Series(result, channelBattery, n),
		BattRecharge: Series(result, channelBattRecharge, n),
		EVRecharge:   Series(result, channelEVRecharge, n),
		GridRequest:  Series(result, channelGridRequest, n),
		Bay1Level:    Series(result, channelBay1Level, n),
		Bay2Level:    Series(result, channelBay2Level, n),
		Bay3Level:    Series(result, channelBay3Level, n),
		Bay4Level:    Series(result, channelBay4Level, n),
	}, true
}

// TimeVector extracts the time samples from a channel's "Time" column.
// An empty column is a valid zero-length batch, not an error.
func TimeVector(result map[string]any, key string) ([]float64, bool) {
	channel, ok := result[key].(map[string]any)
	if !ok {
		log.Printf("simparse: no time vector under channel %q", key)
		return nil, false
	}
	values, ok := extractColumn(channel, "Time")
	if !ok {
		log.Printf("simparse: malformed time vector under channel %q", key)
		return nil, false
	}
	return values, true
}

// Series extracts a channel's "Data" column reconciled to the expected
// length: shorter sequences are right-padded with NaN, longer ones are
// right-truncated. Any extraction failure yields an all-NaN series of the
// expected length. This never fails hard; the simulator is known to
// occasionally under- or over-produce trailing samples.
func Series(result map[string]any, key string, expected int) []float64 {
	channel, ok := result[key].(map[string]any)
	if !ok {
		log.Printf("simparse: channel %q missing or malformed, substituting NaN", key)
		return nanSeries(expected)
	}
	values, ok := extractColumn(channel, "Data")
	if !ok {
		log.Printf("simparse: data column for channel %q malformed, substituting NaN", key)
		return nanSeries(expected)
	}

	switch {
	case len(values) < expected:
		if len(values) != 0 || expected != 0 {
			log.Printf("simparse: channel %q length %d < expected %d, NaN-padding", key, len(values), expected)
		}
		for len(values) < expected {
			values = append(values, math.NaN())
		}
	case len(values) > expected:
		log.Printf("simparse: channel %q length %d > expected %d, truncating", key, len(values), expected)
		values = values[:expected]
	}
	return values
}

// extractColumn flattens a column of single-element rows ([[v0],[v1],...])
// into a float slice. A single uncoercible row fails the whole column.
func extractColumn(channel map[string]any, column string) ([]float64, bool) {
	raw, ok := channel[column]
	if !ok {
		return nil, false
	}
	rows, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		cells, ok := row.([]any)
		if !ok || len(cells) == 0 {
			return nil, false
		}
		v, ok := toFloat(cells[0])
		if !ok {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func nanSeries(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
