package tariff

import (
	"sync"
	"time"
)

// Entry is one appended cost data point.
type Entry struct {
	Timestamp      time.Time `json:"timestamp"`
	Cost           float64   `json:"cost"`
	CumulativeCost float64   `json:"cumulative_cost"`
	EnergyKWh      float64   `json:"energy_kwh"`
	Tier           string    `json:"tier"`
}

// Ledger accumulates the session's electricity cost: a running total plus
// an append-only, delivery-ordered sequence of cost points. Safe for
// concurrent use; the loop appends while API callers read.
type Ledger struct {
	mu      sync.Mutex
	total   float64
	entries []Entry
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Append records one breakdown and returns the updated cumulative total.
// Export-tier points carry zero cost but are still recorded to keep the
// ledger aligned with the delivery stream.
func (l *Ledger) Append(at time.Time, b Breakdown) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total += b.Cost
	l.entries = append(l.entries, Entry{
		Timestamp:      at,
		Cost:           b.Cost,
		CumulativeCost: l.total,
		EnergyKWh:      b.EnergyKWh,
		Tier:           b.Tier,
	})
	return l.total
}

// Total returns the cumulative cost so far.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Entries returns a copy of all cost points in append order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]Entry, len(l.entries))
	copy(cp, l.entries)
	return cp
}

// Len returns the number of recorded points.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset discards the total and all entries.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total = 0
	l.entries = nil
}
