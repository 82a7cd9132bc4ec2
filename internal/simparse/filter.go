package simparse

import (
	"log"
	"math"
)

// Values below this magnitude count as zero when classifying points.
const zeroEpsilon = 1e-10

// Points at or before this simulated time are candidates for removal; the
// first second or two of a batch is typically solver warm-up with no
// physical meaning.
const warmupCutoffS = 1.0

// Filter removes simulator warm-up artifacts, returning a new batch with all
// nine sequences truncated to the retained index set, order preserved.
//
// A point is always retained once its time exceeds the warm-up cutoff, even
// in a legitimate all-zero steady state. At or below the cutoff a point
// survives only if at least one activity series (battery recharge, EV
// recharge, grid request) is nonzero and not every series is zero. NaN
// samples are skipped in both checks: NaN is neither zero nor nonzero.
// The state-level series (SOC, bay levels) deliberately do not count as
// activity; they are static levels, not flows.
func Filter(b Batch) Batch {
	if b.Len() == 0 {
		return Batch{}
	}

	out := Batch{}
	dropped := 0
	for i, t := range b.Time {
		if t <= warmupCutoffS && !meaningful(b, i) {
			dropped++
			continue
		}
		out.Time = append(out.Time, t)
		out.BatterySOC = append(out.BatterySOC, b.BatterySOC[i])
		out.BattRecharge = append(out.BattRecharge, b.BattRecharge[i])
		out.EVRecharge = append(out.EVRecharge, b.EVRecharge[i])
		out.GridRequest = append(out.GridRequest, b.GridRequest[i])
		out.Bay1Level = append(out.Bay1Level, b.Bay1Level[i])
		out.Bay2Level = append(out.Bay2Level, b.Bay2Level[i])
		out.Bay3Level = append(out.Bay3Level, b.Bay3Level[i])
		out.Bay4Level = append(out.Bay4Level, b.Bay4Level[i])
	}

	if dropped > 0 {
		log.Printf("simparse: filtered %d startup/inactive points", dropped)
	}
	return out
}

// meaningful reports whether an early point carries real activity.
func meaningful(b Batch, i int) bool {
	activity := [...]float64{b.BattRecharge[i], b.EVRecharge[i], b.GridRequest[i]}
	hasActivity := false
	for _, v := range activity {
		if math.IsNaN(v) {
			continue
		}
		if math.Abs(v) > zeroEpsilon {
			hasActivity = true
			break
		}
	}
	if !hasActivity {
		return false
	}

	all := [...]float64{
		b.BatterySOC[i], b.BattRecharge[i], b.EVRecharge[i], b.GridRequest[i],
		b.Bay1Level[i], b.Bay2Level[i], b.Bay3Level[i], b.Bay4Level[i],
	}
	allZero := true
	for _, v := range all {
		if math.IsNaN(v) {
			continue
		}
		if math.Abs(v) >= zeroEpsilon {
			allZero = false
			break
		}
	}
	return !allZero
}
