package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microgrid_simulator/internal/forecast"
	"microgrid_simulator/internal/tariff"
)

type recordingCallback struct {
	mu          sync.Mutex
	points      []Point
	timeUpdates []TimeUpdate
	states      []State
	errors      []string
	stoppedCh   chan struct{}
}

func newRecordingCallback() *recordingCallback {
	return &recordingCallback{stoppedCh: make(chan struct{}, 4)}
}

func (c *recordingCallback) OnPoint(p Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = append(c.points, p)
}

func (c *recordingCallback) OnTimeUpdate(u TimeUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeUpdates = append(c.timeUpdates, u)
}

func (c *recordingCallback) OnState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, s)
}

func (c *recordingCallback) OnError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, message)
}

func (c *recordingCallback) OnStopped() {
	c.stoppedCh <- struct{}{}
}

func (c *recordingCallback) Points() []Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Point(nil), c.points...)
}

func (c *recordingCallback) TimeUpdates() []TimeUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TimeUpdate(nil), c.timeUpdates...)
}

func (c *recordingCallback) Errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.errors...)
}

func waitStopped(t *testing.T, c *recordingCallback) {
	t.Helper()
	select {
	case <-c.stoppedCh:
	case <-time.After(5 * time.Second):
		require.Fail(t, "worker did not stop in time")
	}
}

// stubSimulator invokes fn for each batch call, passing the 1-based call
// count.
type stubSimulator struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, params map[string]float64) (map[string]any, error)
}

func (s *stubSimulator) Run(_ context.Context, params map[string]float64, deploy bool, stopTimeS int) (map[string]any, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(call, params)
}

func column(values ...float64) []any {
	rows := make([]any, len(values))
	for i, v := range values {
		rows[i] = []any{v}
	}
	return rows
}

func channel(times, data []any) map[string]any {
	return map[string]any{"Time": times, "Data": data}
}

var testRates = tariff.Rates{
	Peak:     tariff.Window{StartHour: 8, EndHour: 22},
	PeakRate: 0.30,
	OffPeak:  0.10,
	Currency: "USD",
}

func flatForecast(watts float64) *forecast.Hourly {
	values := make([]float64, 48)
	for i := range values {
		values[i] = watts
	}
	fc, err := forecast.New(values)
	if err != nil {
		panic(err)
	}
	return fc
}

func testConfig(batchS int) Config {
	return Config{
		BatchDurationS:   batchS,
		BasePointDelay:   time.Millisecond,
		SnapshotThrottle: time.Nanosecond,
		Rates:            testRates,
		DefaultStart:     time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// stopAfterFirstBatch returns batch from call 1, then stops the engine.
// The engine pointer is filled in after construction.
func stopAfterFirstBatch(ep **Engine, batch map[string]any) *stubSimulator {
	return &stubSimulator{fn: func(call int, _ map[string]float64) (map[string]any, error) {
		if call == 1 {
			return batch, nil
		}
		(*ep).Stop()
		return nil, errors.New("stopping")
	}}
}

func TestEngine_SingleBatchDelivery(t *testing.T) {
	batch := map[string]any{
		"Batt":                 channel(column(0, 1, 2), column(40, 45, 50)),
		"BattRecharge":         channel(column(0, 1, 2), column(0, 0, 0)),
		"EVRecharge":           channel(column(0, 1, 2), column(0, 0, 0)),
		"GridRequest":          channel(column(0, 1, 2), column(0, 5, 10)),
		"Vehicle1BatteryLevel": channel(column(0, 1, 2), column(10, 20, 30)),
		"Vehicle2BatteryLevel": channel(column(0, 1, 2), column(0, 0, 0)),
		"Vehicle3BatteryLevel": channel(column(0, 1, 2), column(0, 0, 0)),
		"Vehicle4BatteryLevel": channel(column(0, 1, 2), column(0, 0, 0)),
	}

	var e *Engine
	sim := stopAfterFirstBatch(&e, batch)
	cb := newRecordingCallback()
	e = New(sim, flatForecast(5000), tariff.NewLedger(), cb, testConfig(2))

	require.NoError(t, e.Start("", ""))
	waitStopped(t, cb)

	// The first sample sits in the warmup window with no activity and is
	// dropped; the second is inside the window but shows grid activity.
	points := cb.Points()
	require.Len(t, points, 2)
	assert.Equal(t, 1.0, points[0].TimeRel)
	assert.Equal(t, 2.0, points[1].TimeRel)
	assert.Equal(t, 1.0, points[0].TimeAbs)
	assert.Equal(t, 2.0, points[1].TimeAbs)

	// Midnight on the default start date is off-peak.
	durH := 2.0 / 3.0 / 3600.0
	assert.False(t, points[0].IsGridPeak)
	assert.Equal(t, "Off-Peak", points[0].GridPeakLabel)
	assert.Equal(t, tariff.TierOffPeak, points[0].RateTier)
	assert.InDelta(t, 5*durH*0.10, points[0].Cost, 1e-12)
	assert.InDelta(t, 10*durH*0.10, points[1].Cost, 1e-12)
	assert.InDelta(t, 15*durH*0.10, points[1].CumulativeCost, 1e-12)
	assert.Equal(t, "USD", points[0].Currency)

	require.NotNil(t, points[1].BattValue)
	assert.Equal(t, 50.0, *points[1].BattValue)
	require.NotNil(t, points[0].Bay1Level)
	assert.Equal(t, 20.0, *points[0].Bay1Level)

	// Wall dates track the batch start plus the relative offset.
	assert.Equal(t, "2020-01-01", points[0].Date)
	assert.Equal(t, "00:00:01", points[0].Time)
	assert.Equal(t, "00:00:02", points[1].Time)

	// Unpinned derived fields pick up the batch-final retained values.
	state := e.State()
	assert.Equal(t, 50.0, state.Params.BatterySOC)
	assert.Equal(t, 30.0, state.Params.Bay1Percentage)
	assert.False(t, state.Running)

	// PV recomputed on the first iteration: flat 5000 W forecast with
	// +/-5% jitter.
	assert.InDelta(t, 5.0, state.Params.PVOutput, 0.26)
	assert.Greater(t, points[0].PVOutputWatts, 4749.0)
	assert.Less(t, points[0].PVOutputWatts, 5251.0)

	updates := cb.TimeUpdates()
	require.NotEmpty(t, updates)
	assert.Equal(t, 2.0, updates[0].TotalSeconds)
	assert.Equal(t, "2020-01-01 00:00:02", updates[0].Datetime)
	assert.Equal(t, 0, updates[0].HourIndex)

	assert.Equal(t, 2, e.Ledger().Len())
	assert.Empty(t, cb.Errors())
}

func TestEngine_StartWhileRunningRejected(t *testing.T) {
	release := make(chan struct{})
	sim := &stubSimulator{fn: func(call int, _ map[string]float64) (map[string]any, error) {
		<-release
		return nil, errors.New("released")
	}}
	cb := newRecordingCallback()
	e := New(sim, flatForecast(5000), tariff.NewLedger(), cb, testConfig(2))

	require.NoError(t, e.Start("", ""))
	assert.Error(t, e.Start("", ""))
	assert.True(t, e.Running())

	e.Stop()
	close(release)
	waitStopped(t, cb)
	assert.False(t, e.Running())
}

func TestEngine_StartWhileWorkerDrainingRejected(t *testing.T) {
	// Stop returns while the worker is still blocked inside the simulator
	// call. A start in that window must not launch a second worker; it is
	// accepted only once the old worker has fully exited.
	entered := make(chan struct{})
	release := make(chan struct{})
	var inFlight, maxInFlight int
	var mu sync.Mutex
	sim := &stubSimulator{fn: func(call int, _ map[string]float64) (map[string]any, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		if call == 1 {
			close(entered)
			<-release
		}
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil, errors.New("no batch")
	}}
	cb := newRecordingCallback()
	e := New(sim, flatForecast(5000), tariff.NewLedger(), cb, testConfig(2))

	require.NoError(t, e.Start("", ""))
	<-entered
	e.Stop()
	assert.False(t, e.Running())
	assert.ErrorIs(t, e.Start("", ""), ErrAlreadyRunning)

	close(release)
	waitStopped(t, cb)

	require.NoError(t, e.Start("", ""))
	e.Stop()
	waitStopped(t, cb)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight)
}

func TestEngine_StartWithExplicitDatetime(t *testing.T) {
	var gotParams map[string]float64
	var e *Engine
	sim := &stubSimulator{fn: func(call int, params map[string]float64) (map[string]any, error) {
		if call == 1 {
			gotParams = params
		}
		e.Stop()
		return nil, errors.New("stopping")
	}}
	cb := newRecordingCallback()
	e = New(sim, flatForecast(5000), tariff.NewLedger(), cb, testConfig(2))

	require.NoError(t, e.Start("2021-06-15", "09:30"))
	waitStopped(t, cb)

	// 09:30 falls inside the peak window, so the simulator sees the flag.
	assert.Equal(t, 1.0, gotParams["GridPeak"])
	assert.True(t, gotParams["BatteryOutput"] == 30.0)

	state := e.State()
	assert.Equal(t, "2021-06-15", state.Date)
	assert.True(t, state.IsGridPeak)
}

func TestEngine_StartRejectsInvalidDatetime(t *testing.T) {
	sim := &stubSimulator{fn: func(int, map[string]float64) (map[string]any, error) {
		return nil, errors.New("unreachable")
	}}
	cb := newRecordingCallback()
	e := New(sim, flatForecast(5000), tariff.NewLedger(), cb, testConfig(2))

	assert.Error(t, e.Start("2021-13-40", "09:00"))
	assert.Error(t, e.Start("2021-06-15", ""))
	assert.False(t, e.Running())
	assert.Zero(t, sim.calls)
}

func TestEngine_PendingStartAppliedOnNextStart(t *testing.T) {
	var e *Engine
	sim := &stubSimulator{fn: func(int, map[string]float64) (map[string]any, error) {
		e.Stop()
		return nil, errors.New("stopping")
	}}
	cb := newRecordingCallback()
	e = New(sim, flatForecast(5000), tariff.NewLedger(), cb, testConfig(2))

	require.NoError(t, e.UpdateParameters(nil, "2022-03-05", "12:00:00"))
	// The pending start does not move the clock until the session begins.
	assert.Equal(t, "2020-01-01", e.State().Date)

	require.NoError(t, e.Start("", ""))
	waitStopped(t, cb)
	assert.Equal(t, "2022-03-05", e.State().Date)
	assert.Equal(t, "12:00:00", e.State().Time)
}

func TestEngine_UpdateParametersValidation(t *testing.T) {
	cb := newRecordingCallback()
	e := New(&stubSimulator{}, flatForecast(5000), tariff.NewLedger(), cb, testConfig(2))

	err := e.UpdateParameters(map[string]float64{"battery_soc": 140}, "", "")
	assert.Error(t, err)
	assert.Zero(t, e.State().Params.BatterySOC)

	require.NoError(t, e.UpdateParameters(map[string]float64{"battery_soc": 80, "unknown_field": 3}, "", ""))
	state := e.State()
	assert.Equal(t, 80.0, state.Params.BatterySOC)
	assert.True(t, state.Pins.BatterySOC)
}

func TestEngine_StartClearsPinsAndLedger(t *testing.T) {
	var e *Engine
	sim := &stubSimulator{fn: func(int, map[string]float64) (map[string]any, error) {
		e.Stop()
		return nil, errors.New("stopping")
	}}
	cb := newRecordingCallback()
	ledger := tariff.NewLedger()
	ledger.Append(time.Now(), tariff.Breakdown{Cost: 9.99, Tier: tariff.TierPeak})
	e = New(sim, flatForecast(5000), ledger, cb, testConfig(2))

	require.NoError(t, e.UpdateParameters(map[string]float64{"bay2_percentage": 55}, "", ""))
	require.True(t, e.State().Pins.Bay2Percentage)

	require.NoError(t, e.Start("", ""))
	waitStopped(t, cb)

	assert.False(t, e.State().Pins.Bay2Percentage)
	assert.Zero(t, ledger.Len())
	assert.Zero(t, ledger.Total())
}

func TestEngine_PreservePVSkipsOneRecompute(t *testing.T) {
	var gotPV float64
	var e *Engine
	sim := &stubSimulator{fn: func(call int, params map[string]float64) (map[string]any, error) {
		if call == 1 {
			gotPV = params["PVOutput"]
		}
		e.Stop()
		return nil, errors.New("stopping")
	}}
	cb := newRecordingCallback()
	e = New(sim, flatForecast(5000), tariff.NewLedger(), cb, testConfig(2))

	// An update that touches neither PV nor the calendar carries the
	// current PV value into the next session unchanged.
	require.NoError(t, e.UpdateParameters(map[string]float64{"bay1_occupied": 1}, "", ""))
	require.NoError(t, e.Start("", ""))
	waitStopped(t, cb)

	assert.Equal(t, 10.0, gotPV)
}

func TestEngine_SimulatorFailureKeepsLooping(t *testing.T) {
	var e *Engine
	sim := &stubSimulator{fn: func(call int, _ map[string]float64) (map[string]any, error) {
		if call >= 3 {
			e.Stop()
		}
		return nil, errors.New("engine unavailable")
	}}
	cb := newRecordingCallback()
	e = New(sim, flatForecast(5000), tariff.NewLedger(), cb, testConfig(2))

	require.NoError(t, e.Start("", ""))
	waitStopped(t, cb)

	assert.GreaterOrEqual(t, sim.calls, 3)
	assert.Empty(t, cb.Points())
	assert.Empty(t, cb.Errors(), "invocation failures are retried, not surfaced")
}

func TestEngine_LoopPanicSurfacesErrorAndStops(t *testing.T) {
	sim := &stubSimulator{fn: func(int, map[string]float64) (map[string]any, error) {
		panic("matlab ate the heap")
	}}
	cb := newRecordingCallback()
	e := New(sim, flatForecast(5000), tariff.NewLedger(), cb, testConfig(2))

	require.NoError(t, e.Start("", ""))
	waitStopped(t, cb)

	assert.False(t, e.Running())
	require.NotEmpty(t, cb.Errors())
	assert.Contains(t, cb.Errors()[0], "matlab ate the heap")

	// The engine object survives a loop panic and can run again.
	var e2 *Engine = e
	sim.mu.Lock()
	sim.fn = func(int, map[string]float64) (map[string]any, error) {
		e2.Stop()
		return nil, errors.New("stopping")
	}
	sim.mu.Unlock()
	require.NoError(t, e.Start("", ""))
	waitStopped(t, cb)
}

func TestEngine_SetSpeed(t *testing.T) {
	cb := newRecordingCallback()
	e := New(&stubSimulator{}, flatForecast(5000), tariff.NewLedger(), cb, testConfig(2))

	assert.Error(t, e.SetSpeed(0))
	assert.Error(t, e.SetSpeed(-2))
	assert.Equal(t, 1.0, e.Speed())

	require.NoError(t, e.SetSpeed(25))
	assert.Equal(t, 25.0, e.Speed())
	assert.Equal(t, 25.0, e.State().Speed)
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	cb := newRecordingCallback()
	e := New(&stubSimulator{}, flatForecast(5000), tariff.NewLedger(), cb, testConfig(2))
	e.Stop()
	e.Stop()
	assert.False(t, e.Running())
}
