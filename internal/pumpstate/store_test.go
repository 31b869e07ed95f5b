package pumpstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sertumit/fuelcore/internal/r07session"
)

func TestSaleBaselineSubtraction(t *testing.T) {
	st := New()
	st.UpdateFromPumpStatus(r07session.Filling)
	st.UpdateFromFill(r07session.FillInfo{VolumeL: 1000.0})
	require.InDelta(t, 0.0, st.State().CurrentFillVolumeL, 0.0001)

	st.UpdateFromFill(r07session.FillInfo{VolumeL: 1012.5})
	require.InDelta(t, 12.5, st.State().CurrentFillVolumeL, 0.0001)
	require.True(t, st.State().HasCurrentFill)
}

func TestSaleCompletionClearsCurrentButKeepsLast(t *testing.T) {
	st := New()
	st.UpdateFromPumpStatus(r07session.Filling)
	st.UpdateFromFill(r07session.FillInfo{VolumeL: 500.0})
	st.UpdateFromFill(r07session.FillInfo{VolumeL: 520.0})

	st.UpdateFromPumpStatus(r07session.FillingCompleted)
	require.False(t, st.State().SaleActive)

	// A FillInfo arriving with no active sale resets current but not last.
	st.UpdateFromFill(r07session.FillInfo{VolumeL: 520.0})
	require.False(t, st.State().HasCurrentFill)
	require.Equal(t, 0.0, st.State().CurrentFillVolumeL)
	require.True(t, st.State().HasLastFill)
	require.InDelta(t, 20.0, st.State().LastFillVolumeL, 0.0001)
}

func TestNewSaleTakesFreshBaseline(t *testing.T) {
	st := New()
	st.UpdateFromPumpStatus(r07session.Filling)
	st.UpdateFromFill(r07session.FillInfo{VolumeL: 100.0})
	st.UpdateFromPumpStatus(r07session.FillingCompleted)
	st.UpdateFromPumpStatus(r07session.Reset)

	st.UpdateFromPumpStatus(r07session.Filling)
	st.UpdateFromFill(r07session.FillInfo{VolumeL: 150.0})
	require.InDelta(t, 0.0, st.State().CurrentFillVolumeL, 0.0001)

	st.UpdateFromFill(r07session.FillInfo{VolumeL: 155.5})
	require.InDelta(t, 5.5, st.State().CurrentFillVolumeL, 0.0001)
}

func TestLimitTrackingDuringSale(t *testing.T) {
	st := New()
	st.UpdateFromRfidAuth(AuthContext{Authorized: true, LimitLiters: 20.0})
	require.Equal(t, 20.0, st.State().RemainingLimitLiters)

	st.UpdateFromPumpStatus(r07session.Filling)
	st.UpdateFromFill(r07session.FillInfo{VolumeL: 0.0})
	st.UpdateFromFill(r07session.FillInfo{VolumeL: 7.0})
	require.InDelta(t, 13.0, st.State().RemainingLimitLiters, 0.0001)

	st.UpdateFromFill(r07session.FillInfo{VolumeL: 25.0})
	require.Equal(t, 0.0, st.State().RemainingLimitLiters)
}

func TestNozzleOutToInClosesFillCycle(t *testing.T) {
	st := New()
	st.UpdateFromPumpStatus(r07session.Filling)
	st.UpdateFromNozzle(r07session.NozzleEvent{Out: true})
	st.UpdateFromFill(r07session.FillInfo{VolumeL: 10.0})
	st.UpdateFromFill(r07session.FillInfo{VolumeL: 13.0})
	require.True(t, st.State().HasCurrentFill)

	st.UpdateFromNozzle(r07session.NozzleEvent{Out: false})
	require.False(t, st.State().HasCurrentFill)
	require.Equal(t, 0.0, st.State().CurrentFillVolumeL)
}

func TestClearAuthResetsLimitButKeepsCardIdentity(t *testing.T) {
	st := New()
	st.UpdateFromRfidAuth(AuthContext{Authorized: true, UIDHex: "AABBCC", LimitLiters: 5.0})
	st.ClearAuth()

	snap := st.State()
	require.False(t, snap.AuthActive)
	require.False(t, snap.LastCardAuthOk)
	require.False(t, snap.HasLimit)
	require.Equal(t, 0.0, snap.RemainingLimitLiters)
	require.Equal(t, "AABBCC", snap.LastCardUID)
}

func TestResetZeroesEverything(t *testing.T) {
	st := New()
	st.UpdateFromPumpStatus(r07session.Filling)
	st.UpdateFromFill(r07session.FillInfo{VolumeL: 10.0})
	st.Reset()

	require.Equal(t, State{}, st.State())
}

func TestObserverReceivesEveryUpdate(t *testing.T) {
	st := New()
	var calls int
	st.OnStateChanged(func(State) { calls++ })

	st.UpdateFromPumpStatus(r07session.Authorized)
	st.UpdateFromNozzle(r07session.NozzleEvent{Out: true})
	st.UpdateFromFill(r07session.FillInfo{VolumeL: 1.0})

	require.Equal(t, 3, calls)
}
