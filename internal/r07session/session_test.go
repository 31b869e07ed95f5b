package r07session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sertumit/fuelcore/internal/r07"
)

func TestStatusEchoScenario(t *testing.T) {
	s := New()
	frame := s.StatusPoll(0x02) // build a well-formed CD1 frame carrying status=0x02

	events := s.DecodeFrame(frame)
	require.Len(t, events, 1)
	require.Equal(t, EventStatusChange, events[0].Kind)
	require.Equal(t, Authorized, events[0].Status)
}

func TestDC2IncrementalSale(t *testing.T) {
	s := New()
	volBCD := r07.IntToBCD4(100)  // 1.00 L
	amoBCD := r07.IntToBCD4(250)  // 2.50 amount
	payload := append(append([]byte{}, volBCD[:]...), amoBCD[:]...)
	frame := r07.EncodeLong(r07.DefaultAddr, 0x36, 0x02, 0x08, payload, r07.CRCLoHi)

	events := s.DecodeFrame(frame)
	require.Len(t, events, 1)
	require.Equal(t, EventFillUpdate, events[0].Kind)
	require.InDelta(t, 1.00, events[0].Fill.VolumeL, 0.001)
	require.InDelta(t, 2.50, events[0].Fill.Amount, 0.001)
}

func TestMinFrameProducesNoEvent(t *testing.T) {
	s := New()
	require.Empty(t, s.DecodeFrame(s.MinPoll()))
}

func TestCRCFailureProducesNoEvent(t *testing.T) {
	s := New()
	frame := s.StatusPoll(0x02)
	frame[len(frame)-4] ^= 0xFF
	require.Empty(t, s.DecodeFrame(frame))
}

func TestUnknownCommandProducesNoEvent(t *testing.T) {
	s := New()
	frame := r07.EncodeLong(r07.DefaultAddr, 0x99, 0x00, 0x00, nil, r07.CRCLoHi)
	require.Empty(t, s.DecodeFrame(frame))
}

func TestPresetVolumeClamps(t *testing.T) {
	s := New()
	lowFrame := s.PresetVolume(0.0)
	highFrame := s.PresetVolume(999.0)

	resLow := decodePresetPayload(t, lowFrame)
	resHigh := decodePresetPayload(t, highFrame)
	require.InDelta(t, 0.1, float64(r07.BCD4ToInt(resLow))/100.0, 0.005)
	require.InDelta(t, 250.0, float64(r07.BCD4ToInt(resHigh))/100.0, 0.005)
}

func decodePresetPayload(t *testing.T, frame []byte) [4]byte {
	t.Helper()
	res := r07.Decode(frame, r07.CRCLoHi)
	require.True(t, res.Valid)
	require.Len(t, res.Payload, 4)
	var b [4]byte
	copy(b[:], res.Payload)
	return b
}

func TestSimulatorStatusMapping(t *testing.T) {
	payload := []byte{0x04} // COMPLETE
	frame := r07.EncodeLong(r07.DefaultAddr, cmdStatusSim, 0x01, 0x01, payload, r07.CRCLoHi)

	s := New()
	events := s.DecodeFrame(frame)
	require.Len(t, events, 1)
	require.Equal(t, FillingCompleted, events[0].Status)
}

func TestNozzleSimEvent(t *testing.T) {
	frame := r07.EncodeLong(r07.DefaultAddr, cmdNozzleSim, 0x01, 0x01, []byte{0x01}, r07.CRCLoHi)
	s := New()
	events := s.DecodeFrame(frame)
	require.Len(t, events, 1)
	require.True(t, events[0].Nozzle.Out)
}
