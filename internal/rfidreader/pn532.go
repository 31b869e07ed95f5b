package rfidreader

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// PN532 command bytes and I2C host-frame markers, the same command set and
// framing a PN532 NFC module answers to regardless of transport.
const (
	pn532CmdGetFirmwareVersion  = 0x02
	pn532CmdSAMConfiguration    = 0x14
	pn532CmdInListPassiveTarget = 0x4A

	pn532Preamble    = 0x00
	pn532StartCode1  = 0x00
	pn532StartCode2  = 0xFF
	pn532HostToPn532 = 0xD4
	pn532Postamble   = 0x00
)

// DefaultPN532Addr is the PN532's default I2C slave address.
const DefaultPN532Addr = 0x24

// PN532Reader talks to a PN532 NFC module over I2C using periph.io. It
// satisfies Reader the same way SimReader does, but scanTag actually polls
// real silicon instead of waiting for a test to call Feed.
type PN532Reader struct {
	mu   sync.Mutex
	addr int

	hostInited bool
	bus        i2c.BusCloser
	dev        i2c.Dev

	state State

	onCardDetected func(CardEvent)
	onError        func(string)
}

// NewPN532 returns a PN532Reader bound to the given I2C slave address
// (0 defaults to DefaultPN532Addr). Call Open to acquire the I2C bus.
func NewPN532(addr int) *PN532Reader {
	if addr == 0 {
		addr = DefaultPN532Addr
	}
	return &PN532Reader{addr: addr}
}

// Open acquires the named I2C bus (e.g. "/dev/i2c-1", or "" for the
// periph.io default), initializes periph's host drivers once per process,
// and runs the PN532's GetFirmwareVersion/SAMConfiguration bring-up
// sequence.
func (r *PN532Reader) Open(device string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hostInited {
		if _, err := host.Init(); err != nil {
			return fmt.Errorf("rfidreader: init periph host: %w", err)
		}
		r.hostInited = true
	}

	bus, err := i2creg.Open(device)
	if err != nil {
		return fmt.Errorf("rfidreader: open i2c bus %q: %w", device, err)
	}
	r.bus = bus
	r.dev = i2c.Dev{Bus: bus, Addr: uint16(r.addr)}

	if _, err := r.sendCommandLocked(pn532CmdGetFirmwareVersion, nil); err != nil {
		bus.Close()
		r.bus = nil
		return fmt.Errorf("rfidreader: get firmware version: %w", err)
	}
	// Mode 0x01 = normal mode, 0x14 = 1s IRQ timeout, 0x01 = use IRQ pin.
	if _, err := r.sendCommandLocked(pn532CmdSAMConfiguration, []byte{0x01, 0x14, 0x01}); err != nil {
		bus.Close()
		r.bus = nil
		return fmt.Errorf("rfidreader: configure SAM: %w", err)
	}

	r.state = Idle
	return nil
}

// Close releases the I2C bus.
func (r *PN532Reader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bus != nil {
		r.bus.Close()
		r.bus = nil
	}
	r.state = Idle
}

func (r *PN532Reader) RequestRead() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Idle {
		r.state = WaitingCard
	}
}

func (r *PN532Reader) CancelRead() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == WaitingCard || r.state == CardPresent {
		r.state = Idle
	}
}

// PollOnce runs one InListPassiveTarget scan, but only while WaitingCard —
// the same "no polling outside WaitingCard" contract SimReader documents,
// driven at the RFID worker's poll cadence (spec.md §4.7).
func (r *PN532Reader) PollOnce() {
	r.mu.Lock()
	if r.state != WaitingCard || r.bus == nil {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	uid, err := r.scanTag()
	if err != nil {
		r.mu.Lock()
		cb := r.onError
		r.mu.Unlock()
		if cb != nil {
			cb(err.Error())
		}
		return
	}
	if uid == nil {
		return
	}

	r.mu.Lock()
	r.state = CardPresent
	cb := r.onCardDetected
	r.mu.Unlock()

	if cb != nil {
		cb(CardEvent{UIDHex: strings.ToUpper(hex.EncodeToString(uid)), Source: "pn532"})
	}
}

func (r *PN532Reader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *PN532Reader) SetOnCardDetected(fn func(CardEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCardDetected = fn
}

func (r *PN532Reader) SetOnError(fn func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = fn
}

// scanTag issues one InListPassiveTarget command (max 1 target, 106 kbps
// type A / ISO14443A) and returns the detected UID, or nil if no tag
// answered.
func (r *PN532Reader) scanTag() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	response, err := r.sendCommandLocked(pn532CmdInListPassiveTarget, []byte{0x01, 0x00})
	if err != nil {
		return nil, err
	}
	if len(response) < 6 || response[0] == 0 {
		return nil, nil
	}

	uidLen := int(response[5])
	if len(response) < 6+uidLen {
		return nil, fmt.Errorf("rfidreader: truncated target response")
	}
	return append([]byte(nil), response[6:6+uidLen]...), nil
}

// sendCommandLocked builds one PN532 host frame (preamble, start code,
// LEN/LCS, TFI+command, data, DCS checksum, postamble), writes it, then
// reads back the ACK and the command response over I2C.
func (r *PN532Reader) sendCommandLocked(cmd byte, data []byte) ([]byte, error) {
	dataLen := byte(len(data) + 2)
	frame := make([]byte, 0, 8+len(data))
	frame = append(frame, pn532Preamble, pn532StartCode1, pn532StartCode2)
	frame = append(frame, dataLen, ^dataLen+1)
	frame = append(frame, pn532HostToPn532, cmd)
	frame = append(frame, data...)

	dcs := pn532HostToPn532 + cmd
	for _, b := range data {
		dcs += b
	}
	frame = append(frame, ^dcs+1, pn532Postamble)

	if _, err := r.dev.Write(frame); err != nil {
		return nil, fmt.Errorf("rfidreader: i2c write: %w", err)
	}

	time.Sleep(50 * time.Millisecond)

	ack := make([]byte, 6)
	if err := r.dev.Tx(nil, ack); err != nil {
		return nil, fmt.Errorf("rfidreader: read ack: %w", err)
	}

	time.Sleep(50 * time.Millisecond)

	response := make([]byte, 64)
	if err := r.dev.Tx(nil, response); err != nil {
		return nil, fmt.Errorf("rfidreader: read response: %w", err)
	}

	for i := 0; i < len(response)-5; i++ {
		if response[i] == 0x00 && response[i+1] == 0xFF {
			respLen := int(response[i+2])
			if i+5+respLen <= len(response) {
				return response[i+5 : i+5+respLen-2], nil
			}
		}
	}
	return nil, fmt.Errorf("rfidreader: invalid response frame")
}
