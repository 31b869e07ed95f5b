// Package rfidauth ties a card reader to a pump session and a user list: it
// starts a read on nozzle-out, looks the card up, authorizes the pump on a
// match, and enforces a cooldown so one tap doesn't retrigger the flow.
package rfidauth

import (
	"log/slog"
	"time"

	"github.com/sertumit/fuelcore/internal/pumpstate"
	"github.com/sertumit/fuelcore/internal/rfidreader"
)

// AuthResult is what the controller reports after every card read,
// regardless of whether the read was part of the pump-requested flow or an
// incidental one (e.g. a card tapped while idle).
type AuthResult struct {
	UIDHex      string
	Authorized  bool
	UserID      string
	Plate       string
	LimitLiters float64
}

// UserLookup resolves a card UID to a user record. internal/users.Manager
// satisfies this.
type UserLookup interface {
	FindByRfid(uidHex string) (userID, plate string, limitLiters float64, ok bool)
}

// PumpAuthorizer sends the pump-side AUTHORIZE request (CD1 DCC=0x06).
type PumpAuthorizer interface {
	Authorize()
}

const cooldown = 10 * time.Second

// Controller reproduces the nozzle-out → read → authorize → cooldown flow.
// It holds no goroutines of its own; PollOnce is driven by the RFID worker.
type Controller struct {
	log    *slog.Logger
	reader rfidreader.Reader
	pump   PumpAuthorizer
	users  UserLookup

	waitingForCard bool

	cooldownActive bool
	cooldownUntil  time.Time
	now            func() time.Time

	OnAuthResult       func(AuthResult)
	OnAuthMessage      func(string)
	OnError            func(string)
	OnCooldownRejected func()
}

// New builds a Controller. reader, pump and users must already be wired;
// users may be nil, in which case every card is treated as authorized (the
// original field-test behavior, kept for bench use without a users.csv).
func New(log *slog.Logger, reader rfidreader.Reader, pump PumpAuthorizer, users UserLookup) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{log: log, reader: reader, pump: pump, users: users, now: time.Now}
	if reader != nil {
		reader.SetOnCardDetected(c.handleCardDetected)
		reader.SetOnError(c.handleReaderError)
	}
	return c
}

func (c *Controller) handleCardDetected(ev rfidreader.CardEvent) {
	guiAuthFlow := c.waitingForCard
	c.waitingForCard = false

	c.log.Debug("rfid card detected", "uid", ev.UIDHex)

	result := AuthResult{UIDHex: ev.UIDHex}

	if c.users != nil {
		userID, plate, limit, ok := c.users.FindByRfid(ev.UIDHex)
		if ok {
			result.Authorized = true
			result.UserID = userID
			result.Plate = plate
			result.LimitLiters = limit
		} else {
			result.Authorized = false
			c.log.Info("rfid uid not found in user list", "uid", ev.UIDHex)
		}
	} else {
		result.Authorized = true
	}

	if c.OnAuthResult != nil {
		c.OnAuthResult(result)
	}

	if c.OnAuthMessage != nil && guiAuthFlow {
		if result.Authorized {
			c.OnAuthMessage("Authorized user")
		} else {
			c.OnAuthMessage("Unauthorized card")
		}
	}

	if result.Authorized && c.pump != nil {
		c.log.Info("rfid authorized, sending AUTHORIZE", "uid", ev.UIDHex)
		c.pump.Authorize()

		if c.OnAuthMessage != nil && guiAuthFlow {
			c.OnAuthMessage("Authorized card, pump authorized")
		}

		c.cooldownActive = true
		c.cooldownUntil = c.now().Add(cooldown)
	}
}

func (c *Controller) handleReaderError(msg string) {
	c.waitingForCard = false
	if c.OnError != nil {
		c.OnError(msg)
	}
	if c.OnAuthMessage != nil {
		c.OnAuthMessage("RFID error")
	}
}

// HandleNozzleOut starts a card read unless a cooldown from a recent
// successful auth is still active.
func (c *Controller) HandleNozzleOut() {
	if c.reader == nil {
		if c.OnError != nil {
			c.OnError("rfidauth: reader is not set")
		}
		return
	}

	if c.cooldownActive {
		if c.now().Before(c.cooldownUntil) {
			c.log.Debug("nozzle-out ignored, cooldown active")
			if c.OnCooldownRejected != nil {
				c.OnCooldownRejected()
			}
			return
		}
		c.cooldownActive = false
	}

	c.reader.RequestRead()
	c.waitingForCard = true

	if c.OnAuthMessage != nil {
		c.OnAuthMessage("Waiting for card")
	}
}

// HandleNozzleInOrSaleFinished cancels any pending read and returns the
// reader to idle.
func (c *Controller) HandleNozzleInOrSaleFinished() {
	if c.reader != nil {
		c.reader.CancelRead()
	}
	c.waitingForCard = false

	if c.OnAuthMessage != nil {
		c.OnAuthMessage("Idle")
	}
}

// PollOnce drives the underlying reader's read cycle; call this regularly
// from the RFID worker goroutine.
func (c *Controller) PollOnce() {
	if c.reader != nil {
		c.reader.PollOnce()
	}
}

// ToPumpstateAuth converts a controller result into the pumpstate package's
// AuthContext shape.
func ToPumpstateAuth(r AuthResult) pumpstate.AuthContext {
	return pumpstate.AuthContext{
		Authorized:  r.Authorized,
		UIDHex:      r.UIDHex,
		UserID:      r.UserID,
		Plate:       r.Plate,
		LimitLiters: r.LimitLiters,
	}
}
