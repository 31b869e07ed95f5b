// Package r07session translates between the R07 wire protocol (as decoded
// by internal/r07) and the semantic events the rest of the fuel-dispenser
// core understands: pump status changes, fill/sale updates, totals and
// nozzle position.
package r07session

import (
	"errors"
	"math"

	"github.com/sertumit/fuelcore/internal/r07"
)

// ErrPresetOutOfRange is returned when a preset volume request is rejected
// outright rather than clamped (reserved for callers that want strict
// validation; Session itself always clamps per spec).
var ErrPresetOutOfRange = errors.New("r07session: preset volume out of range")

const (
	minPollCode = 0x20
	minAckCode  = 0x70

	cmdStatus       = 0x30
	cmdStatusReal   = 0x01
	cmdStatusSim    = 0xD1
	cmdNozzleSim    = 0xD4
	cmdDC3NozPrice  = 0x37
	cmdDC2Incrsale  = 0x36
	cmdTotals       = 0x3D
	cmdFillRecord   = 0x3E
	subCmdTotalCtrs = 0x65

	dccAuthorize = 0x06
)

// Session builds outbound R07 command frames and decodes inbound frames
// into semantic Events. It holds no network state of its own; callers feed
// it raw frames (typically sliced by a serialport.Link) and receive back
// zero or more Events.
type Session struct {
	Addr     byte
	CRCOrder r07.CRCOrder
}

// New returns a Session configured for the default station address and the
// default (low-then-high) CRC byte order.
func New() *Session {
	return &Session{Addr: r07.DefaultAddr, CRCOrder: r07.CRCLoHi}
}

// --- outbound commands -----------------------------------------------------

// MinPoll builds the heartbeat MIN frame. The expected reply
// ([addr, 0x70, trailer]) is not strictly verified by the session; its
// absence does not fail anything.
func (s *Session) MinPoll() []byte {
	return r07.EncodeMin(s.Addr, minPollCode)
}

// StatusPoll builds a CD1 status-poll frame. dcc == 0x06 requests
// AUTHORIZE.
func (s *Session) StatusPoll(dcc byte) []byte {
	const nozzle = 0x01
	const lenHeader = 0x01
	return r07.EncodeLong(s.Addr, cmdStatus, nozzle, lenHeader, []byte{dcc}, s.CRCOrder)
}

// Authorize is shorthand for StatusPoll(0x06).
func (s *Session) Authorize() []byte {
	return s.StatusPoll(dccAuthorize)
}

// PresetVolume builds a CD3 preset-volume frame. liters is clamped to
// [0.1, 250.0] and BCD-encoded at x100 scale, rounded to the nearest unit.
func (s *Session) PresetVolume(liters float64) []byte {
	liters = math.Max(0.1, math.Min(250.0, liters))
	vol := r07.BCDFromVolumeLiters(liters)

	const trans = 0x03
	const lenHeader = 0x04
	return r07.EncodeLong(s.Addr, cmdStatus, trans, lenHeader, vol[:], s.CRCOrder)
}

// TotalCounters builds a request for the pump's lifetime totals on the
// given nozzle (defaults to nozzle 1 per spec).
func (s *Session) TotalCounters(nozzle byte) []byte {
	const trans = 0x3C
	const lenHeader = 0x01
	return r07.EncodeLong(s.Addr, trans, subCmdTotalCtrs, lenHeader, []byte{nozzle}, s.CRCOrder)
}

// --- inbound decoding -------------------------------------------------------

// DecodeFrame parses a raw frame and returns the semantic events it carries,
// if any. Invalid frames, CRC failures, MIN frames and unknown commands
// yield no events (see spec §4.3).
func (s *Session) DecodeFrame(raw []byte) []Event {
	res := r07.Decode(raw, s.CRCOrder)
	if !res.Valid || res.IsMinFrame || !res.CRCOk {
		return nil
	}

	switch res.Cmd {
	case cmdStatus, cmdStatusReal:
		return decodeSingleByteStatus(res.Payload, mapStatusByte)
	case cmdStatusSim:
		return decodeSingleByteStatus(res.Payload, mapSimulatorStatusByte)
	case cmdNozzleSim:
		return decodeSimNozzle(res.Payload)
	case cmdDC3NozPrice:
		return decodeDC3Nozzle(res.Payload)
	case cmdDC2Incrsale:
		return decodeFillBlocks(res.Payload, 0x02)
	case cmdTotals:
		return decodeTotalsBlocks(res.Payload)
	case cmdFillRecord:
		return decodeFillBlocks(res.Payload, 0x02)
	default:
		return nil
	}
}

func decodeSingleByteStatus(payload []byte, mapper func(byte) PumpState) []Event {
	if len(payload) != 1 {
		return nil
	}
	return []Event{{Kind: EventStatusChange, Status: mapper(payload[0])}}
}

func decodeSimNozzle(payload []byte) []Event {
	if len(payload) != 1 {
		return nil
	}
	return []Event{{Kind: EventNozzle, Nozzle: NozzleEvent{Out: payload[0] != 0}}}
}

// decodeDC3Nozzle decodes the DC3 nozzle+price frame:
// [TRANS=0x03][LNG][DATA...], where the last DATA byte is NOZIO and bit 4
// carries nozzle-out.
func decodeDC3Nozzle(payload []byte) []Event {
	if len(payload) < 6 {
		return nil
	}
	trans := payload[0]
	lng := int(payload[1])
	dataStart := 2
	dataEnd := dataStart + lng
	if trans != 0x03 || lng < 4 || dataEnd > len(payload) {
		return nil
	}
	nozio := payload[dataEnd-1]
	return []Event{{Kind: EventNozzle, Nozzle: NozzleEvent{Out: nozio&0x10 != 0}}}
}

// decodeFillBlocks scans [TRANS][LNG][DATA...] blocks and returns the first
// one matching wantTrans with LNG >= 8, decoded as a fill update.
func decodeFillBlocks(payload []byte, wantTrans byte) []Event {
	i := 0
	for i+2 <= len(payload) {
		trans := payload[i]
		lng := int(payload[i+1])
		end := i + 2 + lng
		if end > len(payload) {
			break
		}
		if trans == wantTrans && lng >= 8 {
			var volBCD, amoBCD [4]byte
			copy(volBCD[:], payload[i+2:i+6])
			copy(amoBCD[:], payload[i+6:i+10])
			fill := FillInfo{
				VolumeL: float64(r07.BCD4ToInt(volBCD)) / 100.0,
				Amount:  float64(r07.BCD4ToInt(amoBCD)) / 100.0,
			}
			return []Event{{Kind: EventFillUpdate, Fill: fill}}
		}
		i = end
	}
	return nil
}

// decodeTotalsBlocks scans blocks looking for TRANS=0x01, LNG>=8 and decodes
// it as the lifetime totalizer.
func decodeTotalsBlocks(payload []byte) []Event {
	i := 0
	for i+2 <= len(payload) {
		trans := payload[i]
		lng := int(payload[i+1])
		end := i + 2 + lng
		if end > len(payload) {
			break
		}
		if trans == 0x01 && lng >= 8 {
			var volBCD, amoBCD [4]byte
			copy(volBCD[:], payload[i+2:i+6])
			copy(amoBCD[:], payload[i+6:i+10])
			totals := TotalCounters{
				TotalVolumeL: float64(r07.BCD4ToInt(volBCD)) / 100.0,
				TotalAmount:  float64(r07.BCD4ToInt(amoBCD)) / 100.0,
			}
			return []Event{{Kind: EventTotalsUpdate, Totals: totals}}
		}
		i = end
	}
	return nil
}
