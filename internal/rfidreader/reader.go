// Package rfidreader defines the card-reader state machine the RFID worker
// drives: Idle → WaitingCard → CardPresent → Idle, with no polling done
// outside WaitingCard. Two Readers satisfy it: SimReader, a software-only
// reader a test harness or bench run drives with Feed, and PN532Reader, a
// periph.io/x/conn I2C-backed reader for real PN532 hardware (pn532.go).
// internal/rfidauth depends on neither concretely.
package rfidreader

import "sync"

// State mirrors the reader's own idea of where it is in the read cycle.
type State int

const (
	Idle State = iota
	WaitingCard
	CardPresent
	Error
)

func (s State) String() string {
	switch s {
	case WaitingCard:
		return "WaitingCard"
	case CardPresent:
		return "CardPresent"
	case Error:
		return "Error"
	default:
		return "Idle"
	}
}

// CardEvent reports a detected card's UID.
type CardEvent struct {
	UIDHex string
	Source string
}

// Reader is the interface internal/rfidauth depends on.
type Reader interface {
	Open(device string) error
	Close()
	RequestRead()
	CancelRead()
	PollOnce()
	State() State

	SetOnCardDetected(func(CardEvent))
	SetOnError(func(string))
}

// SimReader is a software card reader: PollOnce does nothing by itself, it
// only reacts once a caller feeds it a card via Feed. This is the shape a
// test harness or a bench simulator uses in place of real PN532 hardware.
type SimReader struct {
	mu    sync.Mutex
	state State

	onCardDetected func(CardEvent)
	onError        func(string)

	pending *CardEvent
}

// NewSim returns a SimReader in the Idle state.
func NewSim() *SimReader {
	return &SimReader{}
}

func (r *SimReader) Open(device string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Idle
	return nil
}

func (r *SimReader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Idle
	r.pending = nil
}

func (r *SimReader) RequestRead() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Idle {
		r.state = WaitingCard
	}
}

func (r *SimReader) CancelRead() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == WaitingCard || r.state == CardPresent {
		r.state = Idle
	}
}

// Feed simulates a card arriving at the antenna. It only has an effect while
// the reader is actually waiting for one, matching the hardware reader's
// "no polling outside WaitingCard" rule.
func (r *SimReader) Feed(ev CardEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != WaitingCard {
		return
	}
	cp := ev
	r.pending = &cp
}

func (r *SimReader) PollOnce() {
	r.mu.Lock()
	if r.state != WaitingCard || r.pending == nil {
		r.mu.Unlock()
		return
	}
	ev := *r.pending
	r.pending = nil
	r.state = CardPresent
	cb := r.onCardDetected
	r.mu.Unlock()

	if cb != nil {
		cb(ev)
	}
}

func (r *SimReader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *SimReader) SetOnCardDetected(fn func(CardEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCardDetected = fn
}

func (r *SimReader) SetOnError(fn func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = fn
}
