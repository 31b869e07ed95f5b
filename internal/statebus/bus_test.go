package statebus

import (
	"net"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/sertumit/fuelcore/internal/pumpstate"
	"github.com/sertumit/fuelcore/internal/r07session"
)

func TestFromStateFlattensNestedFields(t *testing.T) {
	s := pumpstate.State{
		PumpState:       r07session.Filling,
		NozzleOut:       true,
		LastFillVolumeL: 12.5,
		HasLastFill:     true,
		Totals:          r07session.TotalCounters{TotalVolumeL: 9001.0, TotalAmount: 4500.0},
		LastCardUID:     "AABBCC",
		AuthActive:      true,
	}

	snap := FromState(s)
	require.Equal(t, "Filling", snap.PumpState)
	require.True(t, snap.NozzleOut)
	require.InDelta(t, 9001.0, snap.TotalVolumeL, 0.0001)
	require.Equal(t, "AABBCC", snap.LastCardUID)
	require.True(t, snap.AuthActive)
}

func TestSnapshotCBORRoundTrip(t *testing.T) {
	snap := FromState(pumpstate.State{
		PumpState:   r07session.Authorized,
		LastCardUID: "112233",
		HasLimit:    true,
		LimitLiters: 20,
	})

	data, err := cbor.Marshal(snap)
	require.NoError(t, err)

	var got Snapshot
	require.NoError(t, cbor.Unmarshal(data, &got))
	require.Equal(t, snap, got)
}

// TestPublishSubscribeRoundTrip exercises the real Redis pipeline when a
// broker is reachable on the default port; it skips otherwise since this
// repo's unit tests must not depend on external services being present.
func TestPublishSubscribeRoundTrip(t *testing.T) {
	const addr = "127.0.0.1:6379"
	conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err != nil {
		t.Skipf("no redis reachable at %s: %v", addr, err)
	}
	conn.Close()

	bus, err := New(Config{Addr: addr, HashKey: "fuelcore:test:state", Channel: "fuelcore:test:snapshot"})
	require.NoError(t, err)
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	snap := FromState(pumpstate.State{PumpState: r07session.Filling, LastCardUID: "DEADBEEF"})
	require.NoError(t, bus.Publish(snap))

	select {
	case got := <-ch:
		require.Equal(t, snap, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published snapshot")
	}
}
