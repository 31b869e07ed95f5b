// Package serialport owns the RS-485 file descriptor: it accumulates bytes
// from go.bug.st/serial, slices them into candidate frames at the trailer
// byte, and hands each one to a FrameSink. It performs no protocol
// decoding itself — that is internal/r07session's job.
package serialport

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"golang.org/x/sys/unix"

	"github.com/sertumit/fuelcore/internal/r07"
)

// ErrNotOpen is returned by operations that require an open port.
var ErrNotOpen = errors.New("serialport: device not open")

// FrameSink receives a candidate frame (bytes up to and including the
// trailer byte) for decoding.
type FrameSink interface {
	HandleFrame(frame []byte)
}

// Link owns the serial device handle and the rolling receive buffer. It is
// safe to call PollOnceRx and WriteFrame from different goroutines as long
// as each is only called from one goroutine at a time.
type Link struct {
	log    *slog.Logger
	device string
	mode   serial.Mode

	mu   sync.Mutex
	port serial.Port
	buf  []byte
}

// New creates a Link bound to device at 9600-8O1 (the R07 wire defaults).
// Call SetMode to override from a configs/default_settings.json rs485[]
// entry, and Open to actually acquire the file descriptor.
func New(log *slog.Logger, device string) *Link {
	if log == nil {
		log = slog.Default()
	}
	return &Link{
		log:    log,
		device: device,
		mode: serial.Mode{
			BaudRate: 9600,
			DataBits: 8,
			Parity:   serial.OddParity,
			StopBits: serial.OneStopBit,
		},
		buf: make([]byte, 0, 512),
	}
}

// SetDevice changes the device path used by the next Open call.
func (l *Link) SetDevice(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.device = path
}

// SetMode overrides the line settings used by the next Open call, as read
// from a configs/default_settings.json rs485[] entry. baud or dataBits of
// 0 leave the R07 default (9600/8) in place; parity and stopBits of ""
// likewise keep the default odd-parity/1-stop-bit wire settings.
func (l *Link) SetMode(baud, dataBits int, parity, stopBits string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if baud > 0 {
		l.mode.BaudRate = baud
	}
	if dataBits > 0 {
		l.mode.DataBits = dataBits
	}
	if p, ok := parseParity(parity); ok {
		l.mode.Parity = p
	}
	if s, ok := parseStopBits(stopBits); ok {
		l.mode.StopBits = s
	}
}

func parseParity(s string) (serial.Parity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return 0, false
	case "odd", "o":
		return serial.OddParity, true
	case "even", "e":
		return serial.EvenParity, true
	case "none", "n":
		return serial.NoParity, true
	default:
		return 0, false
	}
}

func parseStopBits(s string) (serial.StopBits, bool) {
	switch strings.TrimSpace(s) {
	case "":
		return 0, false
	case "1":
		return serial.OneStopBit, true
	case "1.5":
		return serial.OnePointFiveStopBits, true
	case "2":
		return serial.TwoStopBits, true
	default:
		return 0, false
	}
}

// Open acquires the serial device with the configured line settings
// (9600-8O1 unless overridden by SetMode).
func (l *Link) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	mode := l.mode

	port, err := serial.Open(l.device, &mode)
	if err != nil {
		l.log.Error("failed to open serial device", "device", l.device, "err", err)
		return fmt.Errorf("serialport: open %s: %w", l.device, err)
	}

	// A short read timeout turns Read into a poll rather than a blocking
	// call, matching the EAGAIN-loop the core is built around.
	if err := port.SetReadTimeout(20 * time.Millisecond); err != nil {
		port.Close()
		return fmt.Errorf("serialport: set read timeout: %w", err)
	}

	l.port = port
	l.buf = l.buf[:0]
	return nil
}

// Close releases the device.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

// IsOpen reports whether the device handle is currently held.
func (l *Link) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// PollOnceRx drains whatever bytes are currently available, then slices the
// accumulated buffer at every trailer byte found, dispatching each
// candidate frame (>= 3 bytes) to sink. It returns true if at least one
// byte was read or one frame dispatched.
func (l *Link) PollOnceRx(sink FrameSink) (bool, error) {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return false, ErrNotOpen
	}

	readBuf := make([]byte, 256)
	n, err := port.Read(readBuf)
	if err != nil {
		if isTransient(err) {
			return false, nil
		}
		return false, fmt.Errorf("serialport: read: %w", err)
	}

	activity := n > 0

	l.mu.Lock()
	if n > 0 {
		l.buf = append(l.buf, readBuf[:n]...)
	}

	for {
		idx := indexByte(l.buf, r07.Trailer)
		if idx < 0 {
			break
		}
		frame := append([]byte(nil), l.buf[:idx+1]...)
		l.buf = l.buf[idx+1:]
		l.mu.Unlock()

		if len(frame) >= 3 {
			sink.HandleFrame(frame)
			activity = true
		}

		l.mu.Lock()
	}
	l.mu.Unlock()

	return activity, nil
}

// WriteFrame writes the full frame, retrying across EINTR, and fails on any
// other error.
func (l *Link) WriteFrame(frame []byte) error {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return ErrNotOpen
	}

	for written := 0; written < len(frame); {
		n, err := port.Write(frame[written:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("serialport: write: %w", err)
		}
		written += n
	}
	return nil
}

func indexByte(buf []byte, b byte) int {
	for i, v := range buf {
		if v == b {
			return i
		}
	}
	return -1
}

// isTransient reports whether err represents a recoverable, expected
// condition (no data ready yet, or an interrupted syscall) rather than a
// real I/O fault.
func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}
