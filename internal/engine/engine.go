// Package engine runs the continuous simulation: it repeatedly invokes the
// external batch simulator, filters and paces its output to subscribers,
// accrues electricity cost, and carries user-pinned parameters across
// batches.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"microgrid_simulator/internal/forecast"
	"microgrid_simulator/internal/model"
	"microgrid_simulator/internal/simparse"
	"microgrid_simulator/internal/tariff"
)

// BatchSimulator is the external black-box engine: one call runs a
// fixed-duration batch with the given tunable parameters and returns the
// raw channel map.
type BatchSimulator interface {
	Run(ctx context.Context, params map[string]float64, deploy bool, stopTimeS int) (map[string]any, error)
}

// Defaults for Config fields left at zero.
const (
	DefaultBatchDurationS   = 50
	DefaultBasePointDelay   = time.Second
	DefaultSnapshotThrottle = 100 * time.Millisecond
)

// ErrAlreadyRunning rejects a start request while a session worker is active.
var ErrAlreadyRunning = errors.New("simulation already running")

const (
	layoutDatetime = "2006-01-02 15:04:05"
	layoutDate     = "2006-01-02"
	layoutTime     = "15:04:05"
)

// Config holds the injected loop parameters.
type Config struct {
	BatchDurationS   int           // simulated seconds per simulator invocation
	BasePointDelay   time.Duration // delay between points at 1.0x speed
	SnapshotThrottle time.Duration // minimum wall-clock gap between time updates
	Rates            tariff.Rates
	DefaultStart     time.Time // initial simulated calendar time
}

func (c Config) withDefaults() Config {
	if c.BatchDurationS <= 0 {
		c.BatchDurationS = DefaultBatchDurationS
	}
	if c.BasePointDelay <= 0 {
		c.BasePointDelay = DefaultBasePointDelay
	}
	if c.SnapshotThrottle <= 0 {
		c.SnapshotThrottle = DefaultSnapshotThrottle
	}
	if c.DefaultStart.IsZero() {
		c.DefaultStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return c
}

// Engine owns the whole mutable session: parameter record, simulated clock,
// speed, and run flag, all under one mutex. A single background worker
// executes the loop; control entry points mutate state from other
// goroutines.
type Engine struct {
	sim      BatchSimulator
	forecast *forecast.Hourly
	ledger   *tariff.Ledger
	callback Callback
	cfg      Config

	now func() time.Time // wall clock, swapped out in tests

	mu           sync.Mutex
	rec          model.Record
	running      bool
	workerAlive  bool // worker goroutine has not exited yet
	stopCh       chan struct{}
	speed        float64
	simTime      time.Time
	totalSeconds float64
	hourIndex    int
	lastPVHour   int // hour-of-day of the last PV recompute, -1 = never
	pvWatts      float64
	gridPeak     bool
	pendingStart *time.Time // validated start time for the next session
	lastSnapshot time.Time  // wall clock of the last time update
}

func New(sim BatchSimulator, fc *forecast.Hourly, ledger *tariff.Ledger, cb Callback, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		sim:        sim,
		forecast:   fc,
		ledger:     ledger,
		callback:   cb,
		cfg:        cfg,
		now:        time.Now,
		rec:        model.NewRecord(),
		speed:      1.0,
		simTime:    cfg.DefaultStart,
		lastPVHour: -1,
	}
	e.hourIndex = fc.Index(e.simTime)
	return e
}

// Ledger exposes the session cost ledger.
func (e *Engine) Ledger() *tariff.Ledger { return e.ledger }

// Currency reports the tariff currency code.
func (e *Engine) Currency() string { return e.cfg.Rates.Currency }

// Running reports whether the loop worker is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Speed returns the current pacing multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed updates the pacing multiplier. Non-positive (and NaN) values are
// rejected and leave the prior multiplier unchanged.
func (e *Engine) SetSpeed(speed float64) error {
	if !(speed > 0) {
		return fmt.Errorf("speed multiplier must be positive, got %v", speed)
	}
	e.mu.Lock()
	e.speed = speed
	e.mu.Unlock()
	log.Printf("engine: simulation speed set to %gx", speed)
	e.broadcastState()
	return nil
}

// Start begins a new session: cumulative elapsed time and the cost ledger
// reset, pin flags clear, and the worker launches. An explicit start
// date/time overrides a pending one from UpdateParameters; with neither the
// session resumes from the current simulated calendar time. Starting while
// a worker is active is rejected without disturbing it; that includes a
// stopped worker still draining an in-flight simulator call, so two workers
// never run at once.
func (e *Engine) Start(startDate, startTime string) error {
	var explicit *time.Time
	if startDate != "" || startTime != "" {
		t, err := parseStartTime(startDate, startTime)
		if err != nil {
			return err
		}
		explicit = &t
	}

	e.mu.Lock()
	if e.running || e.workerAlive {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	if explicit != nil {
		e.simTime = *explicit
	} else if e.pendingStart != nil {
		e.simTime = *e.pendingStart
	}
	e.pendingStart = nil
	e.totalSeconds = 0
	e.rec.ClearPins()
	e.lastPVHour = -1
	e.hourIndex = e.forecast.Index(e.simTime)
	e.running = true
	e.workerAlive = true
	e.stopCh = make(chan struct{})
	start := e.simTime
	e.mu.Unlock()

	e.ledger.Reset()
	log.Printf("engine: session starting at %s", start.Format(layoutDatetime))
	e.broadcastState()
	go e.run()
	return nil
}

// Stop requests worker termination. The worker observes the flag at its
// next safe point and exits cleanly. Idempotent when not running.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()
	log.Printf("engine: stop requested")
}

// UpdateParameters applies a partial field update under the manual-override
// policy. A start date/time pair is validated now but only applied on the
// next Start.
func (e *Engine) UpdateParameters(fields map[string]float64, startDate, startTime string) error {
	var pending *time.Time
	if startDate != "" || startTime != "" {
		t, err := parseStartTime(startDate, startTime)
		if err != nil {
			return err
		}
		pending = &t
	}

	e.mu.Lock()
	changed, err := model.ApplyUpdate(&e.rec, fields, pending != nil)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if pending != nil {
		e.pendingStart = pending
	}
	e.mu.Unlock()

	if len(changed) > 0 {
		log.Printf("engine: parameters updated: %s", strings.Join(changed, ", "))
	}
	if pending != nil {
		log.Printf("engine: next session will start at %s", pending.Format(layoutDatetime))
	}
	e.broadcastState()
	return nil
}

// State returns a consistent snapshot of the session.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() State {
	isPeak := e.cfg.Rates.Peak.Contains(e.simTime.Hour())
	return State{
		Running:       e.running,
		Params:        e.rec.Values,
		Pins:          e.rec.Pins,
		Datetime:      e.simTime.Format(layoutDatetime),
		Date:          e.simTime.Format(layoutDate),
		Time:          e.simTime.Format(layoutTime),
		TotalSeconds:  e.totalSeconds,
		Speed:         e.speed,
		IsGridPeak:    isPeak,
		GridPeakLabel: peakLabel(isPeak),
	}
}

func (e *Engine) broadcastState() {
	e.mu.Lock()
	s := e.stateLocked()
	e.mu.Unlock()
	e.callback.OnState(s)
}

// run is the loop worker. Simulator failures are retried indefinitely;
// anything unexpected terminates the loop, is reported as an error event,
// and leaves the process alive.
func (e *Engine) run() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("engine: simulation loop panic: %v", r)
			e.callback.OnError(fmt.Sprintf("simulation loop failed: %v", r))
		}
		e.mu.Lock()
		e.running = false
		e.workerAlive = false
		e.mu.Unlock()
		e.broadcastState()
		e.callback.OnStopped()
		log.Printf("engine: simulation loop exited")
	}()

	for e.Running() {
		e.runIteration()
	}
}

// runIteration executes one batch: parameter refresh, simulator invocation,
// extraction+filtering, paced delivery, selective persistence, and clock
// advance.
func (e *Engine) runIteration() {
	e.mu.Lock()

	// The hourly index is always rederived from the calendar timestamp.
	// Incremental tracking drifts across batches that do not align to
	// whole hours.
	e.hourIndex = e.forecast.Index(e.simTime)
	hour := e.simTime.Hour()

	// PV output recomputes once per hour-of-day transition, unless a
	// parameter update asked for the current value to be preserved across
	// this restart. The preserve flag is consumed on first use.
	if e.rec.PreservePV {
		e.rec.PreservePV = false
		if e.lastPVHour == -1 {
			e.lastPVHour = hour
		}
	} else if hour != e.lastPVHour {
		watts := e.forecast.At(e.hourIndex) * (0.95 + rand.Float64()*0.1)
		kw := watts / 1000.0
		if kw < 0.01 {
			kw = 0.01
		}
		e.rec.Values.PVOutput = kw
		e.pvWatts = watts
		e.lastPVHour = hour
		log.Printf("engine: PV output %.2f kW for hour %d (forecast index %d)", kw, hour, e.hourIndex)
	}

	isPeak := e.cfg.Rates.Peak.Contains(hour)
	e.gridPeak = isPeak
	if isPeak {
		e.rec.Values.GridPeak = 1.0
	} else {
		e.rec.Values.GridPeak = 0.0
	}

	params := e.rec.Values.ToMap()
	batchStart := e.simTime
	startTotal := e.totalSeconds
	pvWatts := e.pvWatts
	stopCh := e.stopCh
	e.mu.Unlock()

	// The simulator call is the dominant blocking operation and runs
	// outside the lock. A failed invocation skips this batch's delivery
	// and is retried on the next cycle.
	raw, err := e.sim.Run(context.Background(), params, true, e.cfg.BatchDurationS)
	if err != nil {
		log.Printf("engine: simulator invocation failed, retrying next cycle: %v", err)
		e.retryWait(stopCh)
	} else if batch, ok := simparse.Parse(raw); !ok {
		log.Printf("engine: simulator response unusable, skipping batch")
		e.retryWait(stopCh)
	} else {
		rawLen := batch.Len()
		filtered := simparse.Filter(batch)

		// The per-point duration derives from the unfiltered count so
		// filtering does not distort the implied sampling interval.
		var durationH float64
		if rawLen > 0 {
			durationH = float64(e.cfg.BatchDurationS) / float64(rawLen) / 3600.0
		}

		e.deliver(filtered, batchStart, startTotal, durationH, pvWatts, isPeak, stopCh)

		// Batch-completion persistence: unpinned derived fields pick up
		// their final retained values for the next iteration.
		e.mu.Lock()
		e.rec = model.ApplyBatchFinals(e.rec, model.BatchFinals{
			BatterySOC:     model.FinalOf(filtered.BatterySOC),
			Bay1Percentage: model.FinalOf(filtered.Bay1Level),
			Bay2Percentage: model.FinalOf(filtered.Bay2Level),
			Bay3Percentage: model.FinalOf(filtered.Bay3Level),
			Bay4Percentage: model.FinalOf(filtered.Bay4Level),
		})
		e.mu.Unlock()
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.simTime = e.simTime.Add(time.Duration(e.cfg.BatchDurationS) * time.Second)
	e.totalSeconds += float64(e.cfg.BatchDurationS)
	e.hourIndex = e.forecast.Index(e.simTime)

	update := TimeUpdate{
		Datetime:      e.simTime.Format(layoutDatetime),
		Date:          e.simTime.Format(layoutDate),
		Time:          e.simTime.Format(layoutTime),
		TotalSeconds:  e.totalSeconds,
		HourIndex:     e.hourIndex,
		PVOutputWatts: e.pvWatts,
		PVOutputKW:    e.rec.Values.PVOutput,
		IsGridPeak:    e.gridPeak,
		GridPeakLabel: peakLabel(e.gridPeak),
	}
	emit := false
	if e.now().Sub(e.lastSnapshot) >= e.cfg.SnapshotThrottle {
		e.lastSnapshot = e.now()
		emit = true
	}
	e.mu.Unlock()

	if emit {
		e.callback.OnTimeUpdate(update)
	}
}

// retryWait keeps a failing simulator from spinning the loop hot.
func (e *Engine) retryWait(stopCh chan struct{}) {
	select {
	case <-stopCh:
	case <-time.After(e.cfg.BasePointDelay):
	}
}

// deliver streams retained points in time order, pricing each one and
// pacing by base delay over the current speed. The wait is a cooperative
// suspension point: no lock is held and a stop request aborts delivery
// promptly.
func (e *Engine) deliver(b simparse.Batch, batchStart time.Time, startTotal, durationH, pvWatts float64, isPeak bool, stopCh chan struct{}) {
	for i := 0; i < b.Len(); i++ {
		if !e.Running() {
			return
		}

		rel := b.Time[i]
		pointTime := batchStart.Add(time.Duration(rel * float64(time.Second)))
		breakdown := e.cfg.Rates.Cost(b.GridRequest[i], durationH, pointTime)
		cumulative := e.ledger.Append(pointTime, breakdown)

		e.callback.OnPoint(Point{
			TimeAbs:        startTotal + rel,
			TimeRel:        rel,
			BattValue:      nilIfNaN(b.BatterySOC[i]),
			BattRecharge:   nilIfNaN(b.BattRecharge[i]),
			EVRecharge:     nilIfNaN(b.EVRecharge[i]),
			GridRequest:    nilIfNaN(b.GridRequest[i]),
			Bay1Level:      nilIfNaN(b.Bay1Level[i]),
			Bay2Level:      nilIfNaN(b.Bay2Level[i]),
			Bay3Level:      nilIfNaN(b.Bay3Level[i]),
			Bay4Level:      nilIfNaN(b.Bay4Level[i]),
			PVOutputWatts:  pvWatts,
			Date:           pointTime.Format(layoutDate),
			Time:           pointTime.Format(layoutTime),
			IsGridPeak:     isPeak,
			GridPeakLabel:  peakLabel(isPeak),
			Cost:           breakdown.Cost,
			CumulativeCost: cumulative,
			EnergyKWh:      breakdown.EnergyKWh,
			RateTier:       breakdown.Tier,
			Currency:       e.cfg.Rates.Currency,
		})

		delay := time.Duration(float64(e.cfg.BasePointDelay) / e.Speed())
		select {
		case <-stopCh:
			return
		case <-time.After(delay):
		}
	}
}

// parseStartTime validates a user-supplied session start. Both parts are
// required together; HH:MM gets seconds appended.
func parseStartTime(dateStr, timeStr string) (time.Time, error) {
	if dateStr == "" || timeStr == "" {
		return time.Time{}, fmt.Errorf("start date and time must be provided together")
	}
	if strings.Count(timeStr, ":") == 1 {
		timeStr += ":00"
	}
	t, err := time.Parse(layoutDatetime, dateStr+" "+timeStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start datetime %q %q: %w", dateStr, timeStr, err)
	}
	return t, nil
}
