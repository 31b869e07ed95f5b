// Package pumpstate holds the single authoritative PumpRuntimeState: the one
// place in the process where R07 protocol events and RFID auth decisions are
// folded into a consistent view of what the pump, the current sale and the
// current card are doing. Every consumer (GUI, statebus, txlog) reads
// through here instead of listening to the RS-485 or RFID workers directly.
package pumpstate

import "github.com/sertumit/fuelcore/internal/r07session"

// AuthContext is what the RFID side hands the store once a card has been
// checked against the user list.
type AuthContext struct {
	Authorized  bool
	UIDHex      string
	UserID      string
	Plate       string
	LimitLiters float64
}

// State is the "single source of truth" snapshot. Observers receive a copy,
// never a pointer into the store's internals.
type State struct {
	PumpState r07session.PumpState
	NozzleOut bool

	LastFill           r07session.FillInfo
	CurrentFillVolumeL float64
	HasCurrentFill     bool
	LastFillVolumeL    float64
	HasLastFill        bool

	Totals r07session.TotalCounters

	LastCardUID    string
	LastCardAuthOk bool
	LastCardUserID string
	LastCardPlate  string

	LimitLiters          float64
	HasLimit             bool
	RemainingLimitLiters float64

	AuthActive bool
	SaleActive bool
}

// Observer is notified after every update, with the full resulting state.
type Observer func(State)

// Store is the non-thread-safe runtime aggregator; all updates and reads
// must happen on the owning goroutine (internal/runtime serializes access
// via its single-slot mailbox).
type Store struct {
	s State

	fillBaselineVolumeL float64
	haveFillBaseline    bool
	lastSaleVolumeL     float64

	onStateChanged Observer
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// OnStateChanged registers the single observer invoked after each update.
func (st *Store) OnStateChanged(obs Observer) {
	st.onStateChanged = obs
}

// State returns a copy of the current state.
func (st *Store) State() State {
	return st.s
}

// Reset returns every field to its zero value and notifies observers.
func (st *Store) Reset() {
	st.s = State{}
	st.fillBaselineVolumeL = 0
	st.haveFillBaseline = false
	st.lastSaleVolumeL = 0
	st.notify()
}

// UpdateFromPumpStatus applies a new PumpState and maintains the sale_active
// latch: entering Filling arms a fresh baseline (unless a sale was already
// active), and terminal states clear the latch.
func (st *Store) UpdateFromPumpStatus(status r07session.PumpState) {
	st.s.PumpState = status

	switch status {
	case r07session.Filling:
		if !st.s.SaleActive {
			st.haveFillBaseline = false
			st.lastSaleVolumeL = 0
		}
		st.s.SaleActive = true
	case r07session.FillingCompleted, r07session.MaxAmount, r07session.Reset, r07session.SwitchedOff:
		st.s.SaleActive = false
	}

	st.notify()
}

// UpdateFromFill folds a raw FillInfo (generally a totalizer reading) into
// the current-sale volume by subtracting the baseline captured at the start
// of the active sale.
func (st *Store) UpdateFromFill(fill r07session.FillInfo) {
	st.s.LastFill = fill
	total := fill.VolumeL

	if st.s.SaleActive {
		if !st.haveFillBaseline {
			st.fillBaselineVolumeL = total
			st.haveFillBaseline = true
		}

		cur := total - st.fillBaselineVolumeL
		if cur < 0 {
			cur = 0
		}

		st.s.CurrentFillVolumeL = cur
		st.s.HasCurrentFill = true

		st.lastSaleVolumeL = cur
		st.s.LastFillVolumeL = cur
		st.s.HasLastFill = true

		if st.s.LimitLiters > 0 {
			remaining := st.s.LimitLiters - st.lastSaleVolumeL
			if remaining < 0 {
				remaining = 0
			}
			st.s.RemainingLimitLiters = remaining
		} else {
			st.s.RemainingLimitLiters = 0
		}
	} else {
		st.s.CurrentFillVolumeL = 0
		st.s.HasCurrentFill = false
		if st.s.HasLimit {
			st.s.RemainingLimitLiters = st.s.LimitLiters
		} else {
			st.s.RemainingLimitLiters = 0
		}
	}

	st.notify()
}

// UpdateFromTotals stores the pump's lifetime totalizer snapshot.
func (st *Store) UpdateFromTotals(totals r07session.TotalCounters) {
	st.s.Totals = totals
	st.notify()
}

// UpdateFromNozzle applies a nozzle position change. An OUT→IN transition
// closes the current fill cycle: the next sale will take a fresh baseline.
func (st *Store) UpdateFromNozzle(ev r07session.NozzleEvent) {
	prevOut := st.s.NozzleOut
	st.s.NozzleOut = ev.Out

	if prevOut && !st.s.NozzleOut {
		st.s.CurrentFillVolumeL = 0
		st.s.HasCurrentFill = false
		st.haveFillBaseline = false
	}

	st.notify()
}

// UpdateFromRfidAuth injects the RFID side's verdict on the last card seen,
// including any per-card volume limit.
func (st *Store) UpdateFromRfidAuth(auth AuthContext) {
	st.s.LastCardUID = auth.UIDHex
	st.s.LastCardUserID = auth.UserID
	st.s.LastCardPlate = auth.Plate
	st.s.LastCardAuthOk = auth.Authorized
	st.s.AuthActive = auth.Authorized

	st.s.LimitLiters = auth.LimitLiters
	st.s.HasLimit = auth.LimitLiters > 0

	if st.s.HasLimit {
		st.s.RemainingLimitLiters = st.s.LimitLiters
	} else {
		st.s.RemainingLimitLiters = 0
	}

	st.notify()
}

// ClearAuth drops the auth latch and the per-card limit without forgetting
// which card was last seen.
func (st *Store) ClearAuth() {
	st.s.AuthActive = false
	st.s.LastCardAuthOk = false

	st.s.LimitLiters = 0
	st.s.HasLimit = false
	st.s.RemainingLimitLiters = 0

	st.notify()
}

func (st *Store) notify() {
	if st.onStateChanged != nil {
		st.onStateChanged(st.s)
	}
}
