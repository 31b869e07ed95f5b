// Package runtime wires the RS-485 worker, the RFID worker and the single
// goroutine that owns PumpRuntimeStore into one running system. The store
// and the RFID controller are each mutated from exactly one goroutine;
// everything else crosses goroutine boundaries through a Mailbox instead of
// a shared mutex.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sertumit/fuelcore/internal/metrics"
	"github.com/sertumit/fuelcore/internal/pumpstate"
	"github.com/sertumit/fuelcore/internal/r07"
	"github.com/sertumit/fuelcore/internal/r07session"
	"github.com/sertumit/fuelcore/internal/rfidauth"
	"github.com/sertumit/fuelcore/internal/rfidreader"
	"github.com/sertumit/fuelcore/internal/serialport"
	"github.com/sertumit/fuelcore/internal/statebus"
	"github.com/sertumit/fuelcore/internal/txlog"
)

type frameMsg struct {
	events []r07session.Event
	crcOk  bool
}

type authMsg struct {
	result rfidauth.AuthResult
}

type nozzleCmd int

const (
	nozzleOutCmd nozzleCmd = iota
	nozzleInCmd
)

// frameSinkFunc adapts a plain function to serialport.FrameSink.
type frameSinkFunc func(frame []byte)

func (f frameSinkFunc) HandleFrame(frame []byte) { f(frame) }

// linkAuthorizer satisfies rfidauth.PumpAuthorizer by handing an authorize
// request to the RS-485 worker's mailbox, so the serial link is still only
// ever written to from one goroutine.
type linkAuthorizer struct {
	requests *Mailbox[struct{}]
}

func (a linkAuthorizer) Authorize() {
	a.requests.Send(struct{}{})
}

// SerialLink is the subset of serialport.Link the worker depends on.
type SerialLink interface {
	Open() error
	Close() error
	PollOnceRx(sink serialport.FrameSink) (bool, error)
	WriteFrame(frame []byte) error
}

// WorkerRuntime owns every long-lived goroutine in the process.
type WorkerRuntime struct {
	log *slog.Logger

	link    SerialLink
	session *r07session.Session

	store      *pumpstate.Store
	controller *rfidauth.Controller
	recorder   *txlog.Recorder
	bus        *statebus.Bus
	metrics    *metrics.Collector

	authorizeReqs *Mailbox[struct{}]

	minPollInterval time.Duration
	rs485PollPeriod time.Duration
	rfidPollPeriod  time.Duration

	processCounter int
}

// Deps collects every dependency WorkerRuntime needs; all fields are
// required except Users, Bus and Metrics. Users being nil makes the
// controller authorize every card it reads (bench mode).
type Deps struct {
	Log     *slog.Logger
	Link    SerialLink
	Session *r07session.Session
	Store   *pumpstate.Store
	Reader  rfidreader.Reader
	Users   rfidauth.UserLookup

	Recorder *txlog.Recorder
	Bus      *statebus.Bus
	Metrics  *metrics.Collector
}

// New builds a WorkerRuntime from Deps, filling in default poll periods. The
// RFID controller's pump-authorize call is wired to a mailbox consumed by
// the RS-485 worker, so link writes never cross goroutines.
func New(d Deps) *WorkerRuntime {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	authorizeReqs := NewMailbox[struct{}](1)
	controller := rfidauth.New(log, d.Reader, linkAuthorizer{requests: authorizeReqs}, d.Users)

	return &WorkerRuntime{
		log:             log,
		link:            d.Link,
		session:         d.Session,
		store:           d.Store,
		controller:      controller,
		recorder:        d.Recorder,
		bus:             d.Bus,
		metrics:         d.Metrics,
		authorizeReqs:   authorizeReqs,
		minPollInterval: time.Second,
		rs485PollPeriod: 50 * time.Millisecond,
		rfidPollPeriod:  150 * time.Millisecond,
	}
}

// Run opens the serial link and runs the RS-485 worker, the RFID worker and
// the dispatcher until ctx is canceled, then shuts everything down.
func (wr *WorkerRuntime) Run(ctx context.Context) error {
	if err := wr.link.Open(); err != nil {
		return err
	}
	defer wr.link.Close()

	frames := NewMailbox[frameMsg](1)
	auths := NewMailbox[authMsg](1)
	nozzleCmds := NewMailbox[nozzleCmd](1)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		wr.runRS485(ctx, frames)
	}()
	go func() {
		defer wg.Done()
		wr.runRFID(ctx, nozzleCmds, auths)
	}()
	go func() {
		defer wg.Done()
		wr.runDispatcher(ctx, frames, auths, nozzleCmds)
	}()

	wg.Wait()
	return nil
}

func (wr *WorkerRuntime) runRS485(ctx context.Context, frames *Mailbox[frameMsg]) {
	pollTicker := time.NewTicker(wr.rs485PollPeriod)
	defer pollTicker.Stop()
	minTicker := time.NewTicker(wr.minPollInterval)
	defer minTicker.Stop()

	sink := frameSinkFunc(func(raw []byte) {
		decoded := r07.Decode(raw, wr.session.CRCOrder)
		if wr.metrics != nil && decoded.Valid {
			wr.metrics.RecordFrame(decoded.CRCOk)
		}

		events := wr.session.DecodeFrame(raw)
		if len(events) > 0 {
			frames.Send(frameMsg{events: events, crcOk: decoded.CRCOk})
		}
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-minTicker.C:
			if err := wr.link.WriteFrame(wr.session.MinPoll()); err != nil {
				wr.log.Warn("min poll write failed", "err", err)
			}
		case <-wr.authorizeReqs.Chan():
			if err := wr.link.WriteFrame(wr.session.Authorize()); err != nil {
				wr.log.Warn("authorize write failed", "err", err)
			}
		case <-pollTicker.C:
			if _, err := wr.link.PollOnceRx(sink); err != nil {
				wr.log.Warn("serial poll failed", "err", err)
			}
		}
	}
}

func (wr *WorkerRuntime) runRFID(ctx context.Context, nozzleCmds *Mailbox[nozzleCmd], auths *Mailbox[authMsg]) {
	wr.controller.OnAuthResult = func(r rfidauth.AuthResult) {
		auths.Send(authMsg{result: r})
	}
	wr.controller.OnCooldownRejected = func() {
		if wr.metrics != nil {
			wr.metrics.RecordCooldownRejection()
		}
	}

	ticker := time.NewTicker(wr.rfidPollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-nozzleCmds.Chan():
			switch cmd {
			case nozzleOutCmd:
				wr.controller.HandleNozzleOut()
			case nozzleInCmd:
				wr.controller.HandleNozzleInOrSaleFinished()
			}
		case <-ticker.C:
			wr.controller.PollOnce()
		}
	}
}

func (wr *WorkerRuntime) runDispatcher(ctx context.Context, frames *Mailbox[frameMsg], auths *Mailbox[authMsg], nozzleCmds *Mailbox[nozzleCmd]) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-frames.Chan():
			wr.applyFrameEvents(msg, nozzleCmds)
		case msg := <-auths.Chan():
			wr.applyAuthResult(msg)
		}
	}
}

func (wr *WorkerRuntime) applyFrameEvents(msg frameMsg, nozzleCmds *Mailbox[nozzleCmd]) {
	for _, ev := range msg.events {
		prev := wr.store.State()

		switch ev.Kind {
		case r07session.EventStatusChange:
			wr.store.UpdateFromPumpStatus(ev.Status)
			if wr.metrics != nil {
				wr.metrics.SetPumpState(ev.Status.String())
			}
		case r07session.EventFillUpdate:
			wr.store.UpdateFromFill(ev.Fill)
		case r07session.EventTotalsUpdate:
			wr.store.UpdateFromTotals(ev.Totals)
		case r07session.EventNozzle:
			wr.store.UpdateFromNozzle(ev.Nozzle)
			if ev.Nozzle.Out {
				nozzleCmds.Send(nozzleOutCmd)
			} else {
				nozzleCmds.Send(nozzleInCmd)
			}
		}

		wr.afterStoreMutation(prev)
	}
}

func (wr *WorkerRuntime) applyAuthResult(msg authMsg) {
	prev := wr.store.State()
	wr.store.UpdateFromRfidAuth(rfidauth.ToPumpstateAuth(msg.result))
	if wr.metrics != nil {
		wr.metrics.RecordAuthResult(msg.result.Authorized)
	}
	wr.afterStoreMutation(prev)
}

func (wr *WorkerRuntime) afterStoreMutation(prev pumpstate.State) {
	curr := wr.store.State()

	if wr.recorder != nil {
		wr.processCounter++
		if err := wr.recorder.Observe(prev, curr, wr.processCounter); err != nil {
			wr.log.Error("failed to record transaction edge", "err", err)
		} else if edge, ok := txlog.DetectEdge(prev, curr); ok && edge.Commit && wr.metrics != nil {
			wr.metrics.RecordSaleCompleted()
		}
	}

	if wr.bus != nil {
		if err := wr.bus.Publish(statebus.FromState(curr)); err != nil {
			wr.log.Warn("failed to publish snapshot", "err", err)
		}
	}
}
