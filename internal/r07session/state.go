package r07session

// PumpState is the closed set of pump status values the R07 protocol can
// report, normalized from the several wire encodings (CD1 echo, real DC1,
// and the simulator's DC1 variant) into one canonical enum.
type PumpState int

const (
	Unknown PumpState = iota
	NotProgrammed
	Reset
	Authorized
	Filling
	FillingCompleted
	MaxAmount
	SwitchedOff
	Suspended
)

func (s PumpState) String() string {
	switch s {
	case NotProgrammed:
		return "NotProgrammed"
	case Reset:
		return "Reset"
	case Authorized:
		return "Authorized"
	case Filling:
		return "Filling"
	case FillingCompleted:
		return "FillingCompleted"
	case MaxAmount:
		return "MaxAmount"
	case SwitchedOff:
		return "SwitchedOff"
	case Suspended:
		return "Suspended"
	default:
		return "Unknown"
	}
}

// statusByteTable maps the real-pump status byte (CMD 0x30 echo or CMD 0x01
// DC1) onto PumpState. Both 0x30 and 0x01 are kept mapped identically: it is
// unclear from the corpus whether the pump genuinely echoes status on 0x30
// or this is a simulator artifact, so neither is treated as authoritative.
var statusByteTable = map[byte]PumpState{
	0x00: NotProgrammed,
	0x01: Reset,
	0x02: Authorized,
	0x04: Filling,
	0x05: FillingCompleted,
	0x06: MaxAmount,
	0x07: SwitchedOff,
	0x0B: Suspended,
}

func mapStatusByte(b byte) PumpState {
	if s, ok := statusByteTable[b]; ok {
		return s
	}
	return Unknown
}

// simulatorStatusTable maps the 0xD1 simulator DC1 frame's status byte,
// which uses a different numbering than the real pump.
var simulatorStatusTable = map[byte]PumpState{
	0x00: Reset,
	0x01: Authorized,
	0x02: Filling,
	0x03: Suspended,
	0x04: FillingCompleted,
}

func mapSimulatorStatusByte(b byte) PumpState {
	if s, ok := simulatorStatusTable[b]; ok {
		return s
	}
	return Unknown
}

// FillInfo is a raw fill/sale record as reported by the pump: a totalizer
// reading, not yet adjusted for any per-sale baseline.
type FillInfo struct {
	VolumeL float64
	Amount  float64
}

// TotalCounters is the pump's lifetime totalizer snapshot.
type TotalCounters struct {
	TotalVolumeL float64
	TotalAmount  float64
}

// NozzleEvent reports the nozzle (trigger) position.
type NozzleEvent struct {
	Out bool
}

// EventKind tags which field of Event is populated.
type EventKind int

const (
	EventStatusChange EventKind = iota
	EventFillUpdate
	EventTotalsUpdate
	EventNozzle
)

// Event is the tagged-variant semantic event ProtocolSession emits after
// decoding an inbound frame. Exactly one of the payload fields is
// meaningful, selected by Kind.
type Event struct {
	Kind   EventKind
	Status PumpState
	Fill   FillInfo
	Totals TotalCounters
	Nozzle NozzleEvent
}
