package r07

import "fmt"

const (
	// ETX marks the end of a long frame's payload+CRC section.
	ETX = 0x03
	// Trailer terminates every frame, short or long.
	Trailer = 0xFA
	// DefaultAddr is the pump's RS-485 station address.
	DefaultAddr = 0x50
)

// CRCOrder selects the byte order the two CRC bytes are transmitted in.
type CRCOrder int

const (
	// CRCLoHi transmits the low CRC byte before the high byte. This is the
	// default observed on the wire.
	CRCLoHi CRCOrder = iota
	CRCHiLo
)

// ParseResult carries everything learned from decoding one candidate frame.
type ParseResult struct {
	Valid             bool
	IsMinFrame        bool
	Addr              byte
	Cmd               byte
	NozzleOrTrans     byte
	LenHeader         byte
	Payload           []byte
	CRCRx             uint16
	CRCCalc           uint16
	CRCOk             bool
	LenHeaderMismatch bool
}

// isDCFamily reports whether cmd belongs to the DC family (0x31-0x3F) or is
// the total-counters command 0x65, both of which place payload substructure
// starting at byte index 2 rather than 4.
func isDCFamily(cmd byte) bool {
	return (cmd >= 0x31 && cmd <= 0x3F) || cmd == 0x65
}

// Decode parses a raw byte slice believed to span exactly one frame
// (typically sliced at the trailer by the serial link). It never panics;
// malformed input simply yields Valid == false.
func Decode(frame []byte, order CRCOrder) ParseResult {
	var r ParseResult
	n := len(frame)
	if n == 0 {
		return r
	}

	if n == 3 && frame[n-1] == Trailer {
		r.Valid = true
		r.IsMinFrame = true
		r.Addr = frame[0]
		r.Cmd = frame[1]
		return r
	}

	if n < 8 {
		return r
	}
	if frame[n-1] != Trailer || frame[n-2] != ETX {
		return r
	}

	r.Addr = frame[0]
	r.Cmd = frame[1]
	r.NozzleOrTrans = frame[2]
	r.LenHeader = frame[3]

	if isDCFamily(r.Cmd) {
		r.Payload = append([]byte(nil), frame[2:n-4]...)
	} else {
		r.Payload = append([]byte(nil), frame[4:n-4]...)
	}

	suppressLenWarn := r.Cmd >= 0x30 && r.Cmd <= 0x3F
	r.LenHeaderMismatch = !suppressLenWarn && int(r.LenHeader) != len(r.Payload)

	var crcLo, crcHi byte
	if order == CRCHiLo {
		crcHi, crcLo = frame[n-4], frame[n-3]
	} else {
		crcLo, crcHi = frame[n-4], frame[n-3]
	}
	r.CRCRx = uint16(crcHi)<<8 | uint16(crcLo)
	r.CRCCalc = CRC16(frame[:n-4], 0)
	r.CRCOk = r.CRCRx == r.CRCCalc

	r.Valid = true
	return r
}

// EncodeLong builds a complete long frame: header, payload, CRC (in the
// requested byte order) and the ETX/Trailer terminator.
func EncodeLong(addr, cmd, nozzleOrTrans, lenHeader byte, payload []byte, order CRCOrder) []byte {
	body := make([]byte, 0, 4+len(payload))
	body = append(body, addr, cmd, nozzleOrTrans, lenHeader)
	body = append(body, payload...)

	crc := CRC16(body, 0)
	crcLo := byte(crc & 0xFF)
	crcHi := byte(crc >> 8)

	out := make([]byte, 0, len(body)+4)
	out = append(out, body...)
	if order == CRCHiLo {
		out = append(out, crcHi, crcLo)
	} else {
		out = append(out, crcLo, crcHi)
	}
	out = append(out, ETX, Trailer)
	return out
}

// EncodeMin builds the 3-byte MIN frame: [addr, code, Trailer].
func EncodeMin(addr, code byte) []byte {
	return []byte{addr, code, Trailer}
}

// String renders a ParseResult for diagnostics.
func (r ParseResult) String() string {
	if !r.Valid {
		return "r07.ParseResult{invalid}"
	}
	if r.IsMinFrame {
		return fmt.Sprintf("r07.ParseResult{min addr=0x%02x cmd=0x%02x}", r.Addr, r.Cmd)
	}
	return fmt.Sprintf("r07.ParseResult{addr=0x%02x cmd=0x%02x crcOk=%v payload=% x}",
		r.Addr, r.Cmd, r.CRCOk, r.Payload)
}
