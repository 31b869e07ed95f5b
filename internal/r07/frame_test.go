package r07

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte{0x06}
	frame := EncodeLong(DefaultAddr, 0x30, 0x01, 0x01, payload, CRCLoHi)

	r := Decode(frame, CRCLoHi)
	require.True(t, r.Valid)
	require.True(t, r.CRCOk)
	require.Equal(t, byte(DefaultAddr), r.Addr)
	require.Equal(t, byte(0x30), r.Cmd)
	require.Equal(t, payload, r.Payload)
}

func TestEncodeMinRoundTrip(t *testing.T) {
	frame := EncodeMin(DefaultAddr, 0x20)
	require.Equal(t, []byte{0x50, 0x20, 0xFA}, frame)

	r := Decode(frame, CRCLoHi)
	require.True(t, r.Valid)
	require.True(t, r.IsMinFrame)
	require.Equal(t, byte(0x20), r.Cmd)
}

func TestDecodeStatusEchoScenario(t *testing.T) {
	// 50 30 01 01 02 <crc lo> <crc hi> 03 FA, status byte = 0x02 (Authorized)
	body := []byte{0x50, 0x30, 0x01, 0x01, 0x02}
	crc := CRC16(body, 0)
	frame := append(append([]byte{}, body...), byte(crc&0xFF), byte(crc>>8), ETX, Trailer)

	r := Decode(frame, CRCLoHi)
	require.True(t, r.Valid)
	require.True(t, r.CRCOk)
	require.Equal(t, []byte{0x02}, r.Payload)
}

func TestDCFamilyPayloadSplit(t *testing.T) {
	// DC-family payload starts at byte 2, so TRANS/LNG from the header are
	// part of it.
	payload := []byte{0x03, 0x04, 0x00, 0x00, 0x08, 0x00}
	frame := EncodeLong(DefaultAddr, 0x36, payload[0], payload[1], payload[2:], CRCLoHi)

	r := Decode(frame, CRCLoHi)
	require.True(t, r.Valid)
	require.Equal(t, payload, r.Payload)
}

func TestNonDCFamilyPayloadSplit(t *testing.T) {
	payload := []byte{0xAA, 0xBB}
	frame := EncodeLong(DefaultAddr, 0x40, 0x00, 0x02, payload, CRCLoHi)

	r := Decode(frame, CRCLoHi)
	require.True(t, r.Valid)
	require.Equal(t, payload, r.Payload)
}

func TestLenHeaderMismatchNonFatal(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	frame := EncodeLong(DefaultAddr, 0x40, 0x00, 0x02, payload, CRCLoHi)

	r := Decode(frame, CRCLoHi)
	require.True(t, r.Valid)
	require.True(t, r.LenHeaderMismatch)
}

func TestDCFamilyNeverFlagsLenMismatch(t *testing.T) {
	payload := []byte{0x03, 0x04, 0x00, 0x00, 0x08, 0x00}
	frame := EncodeLong(DefaultAddr, 0x30, 0x03, 0x09 /* wrong on purpose */, payload, CRCLoHi)

	r := Decode(frame, CRCLoHi)
	require.True(t, r.Valid)
	require.False(t, r.LenHeaderMismatch)
}

func TestCRCMismatchClearsCRCOk(t *testing.T) {
	frame := EncodeLong(DefaultAddr, 0x30, 0x01, 0x01, []byte{0x02}, CRCLoHi)
	frame[len(frame)-4] ^= 0xFF // corrupt CRC low byte

	r := Decode(frame, CRCLoHi)
	require.True(t, r.Valid) // structurally still a frame
	require.False(t, r.CRCOk)
}

func TestTooShortFrameInvalid(t *testing.T) {
	r := Decode([]byte{0x50, 0x30}, CRCLoHi)
	require.False(t, r.Valid)
}

func TestCRCOrderConfigurable(t *testing.T) {
	frame := EncodeLong(DefaultAddr, 0x30, 0x01, 0x01, []byte{0x02}, CRCHiLo)
	r := Decode(frame, CRCHiLo)
	require.True(t, r.CRCOk)

	// Decoding with the wrong order should (almost always) fail CRC.
	r2 := Decode(frame, CRCLoHi)
	require.False(t, r2.CRCOk)
}

func TestBCD4RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 123, 4567890, 99_999_999} {
		b := IntToBCD4(v)
		require.Equal(t, v, BCD4ToInt(b), "value %d", v)
	}
}

func TestBCD4Overflow(t *testing.T) {
	b := IntToBCD4(100_000_000)
	require.Equal(t, uint32(99_999_999), BCD4ToInt(b))
}

func TestBCD4InvalidNibbleTreatedAsZero(t *testing.T) {
	// High nibble 0xF is invalid, should decode as 0.
	b := [4]byte{0xF1, 0x00, 0x00, 0x23}
	require.Equal(t, uint32(1000023), BCD4ToInt(b))
}

func TestPresetVolumeBCDRoundTrip(t *testing.T) {
	for _, l := range []float64{0.1, 1.0, 8.0, 123.45, 250.0} {
		b := BCDFromVolumeLiters(l)
		got := float64(BCD4ToInt(b)) / 100.0
		diff := got - l
		if diff < 0 {
			diff = -diff
		}
		require.LessOrEqual(t, diff, 0.005)
	}
}
