package rfidauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sertumit/fuelcore/internal/rfidreader"
)

type fakePump struct{ calls int }

func (p *fakePump) Authorize() { p.calls++ }

type fakeUsers struct {
	byUID map[string]struct {
		userID string
		plate  string
		limit  float64
	}
}

func (u *fakeUsers) FindByRfid(uid string) (string, string, float64, bool) {
	rec, ok := u.byUID[uid]
	if !ok {
		return "", "", 0, false
	}
	return rec.userID, rec.plate, rec.limit, true
}

func TestAuthorizedCardTriggersAuthorize(t *testing.T) {
	reader := rfidreader.NewSim()
	pump := &fakePump{}
	users := &fakeUsers{byUID: map[string]struct {
		userID string
		plate  string
		limit  float64
	}{"AABBCC": {userID: "7", plate: "34 ABC 1", limit: 0}}}

	c := New(nil, reader, pump, users)
	var results []AuthResult
	c.OnAuthResult = func(r AuthResult) { results = append(results, r) }

	c.HandleNozzleOut()
	reader.Feed(rfidreader.CardEvent{UIDHex: "AABBCC"})
	c.PollOnce()

	require.Len(t, results, 1)
	require.True(t, results[0].Authorized)
	require.Equal(t, "7", results[0].UserID)
	require.Equal(t, 1, pump.calls)
}

func TestUnknownCardNotAuthorized(t *testing.T) {
	reader := rfidreader.NewSim()
	pump := &fakePump{}
	users := &fakeUsers{byUID: map[string]struct {
		userID string
		plate  string
		limit  float64
	}{}}

	c := New(nil, reader, pump, users)
	var results []AuthResult
	c.OnAuthResult = func(r AuthResult) { results = append(results, r) }

	c.HandleNozzleOut()
	reader.Feed(rfidreader.CardEvent{UIDHex: "DEADBEEF"})
	c.PollOnce()

	require.Len(t, results, 1)
	require.False(t, results[0].Authorized)
	require.Equal(t, 0, pump.calls)
}

func TestNoUserManagerAuthorizesEveryCard(t *testing.T) {
	reader := rfidreader.NewSim()
	pump := &fakePump{}
	c := New(nil, reader, pump, nil)

	var results []AuthResult
	c.OnAuthResult = func(r AuthResult) { results = append(results, r) }

	c.HandleNozzleOut()
	reader.Feed(rfidreader.CardEvent{UIDHex: "112233"})
	c.PollOnce()

	require.True(t, results[0].Authorized)
	require.Equal(t, 1, pump.calls)
}

func TestCooldownBlocksNextNozzleOut(t *testing.T) {
	reader := rfidreader.NewSim()
	pump := &fakePump{}
	c := New(nil, reader, pump, nil)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	c.HandleNozzleOut()
	reader.Feed(rfidreader.CardEvent{UIDHex: "112233"})
	c.PollOnce()
	require.Equal(t, 1, pump.calls)

	c.HandleNozzleInOrSaleFinished()

	clock = clock.Add(5 * time.Second)
	c.HandleNozzleOut()
	require.Equal(t, rfidreader.Idle, reader.State(), "cooldown should prevent a new read request")

	clock = clock.Add(6 * time.Second)
	c.HandleNozzleOut()
	require.Equal(t, rfidreader.WaitingCard, reader.State(), "cooldown expired, read should start")
}

func TestCooldownRejectionFiresCallback(t *testing.T) {
	reader := rfidreader.NewSim()
	pump := &fakePump{}
	c := New(nil, reader, pump, nil)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	var rejections int
	c.OnCooldownRejected = func() { rejections++ }

	c.HandleNozzleOut()
	reader.Feed(rfidreader.CardEvent{UIDHex: "112233"})
	c.PollOnce()
	c.HandleNozzleInOrSaleFinished()
	require.Zero(t, rejections)

	clock = clock.Add(2 * time.Second)
	c.HandleNozzleOut()
	require.Equal(t, 1, rejections)
}

func TestGuiMessageOnlyForRequestedRead(t *testing.T) {
	reader := rfidreader.NewSim()
	pump := &fakePump{}
	c := New(nil, reader, pump, nil)

	var messages []string
	c.OnAuthMessage = func(m string) { messages = append(messages, m) }

	// Card arrives without a preceding HandleNozzleOut: reader must be
	// waiting already for Feed to register, so force it directly to
	// simulate an out-of-flow detection.
	reader.RequestRead()
	reader.Feed(rfidreader.CardEvent{UIDHex: "FFEEDD"})
	c.PollOnce()

	require.Empty(t, messages, "no gui message when read wasn't flagged as the gui-driven flow")
}

func TestNozzleInCancelsPendingRead(t *testing.T) {
	reader := rfidreader.NewSim()
	c := New(nil, reader, &fakePump{}, nil)

	c.HandleNozzleOut()
	require.Equal(t, rfidreader.WaitingCard, reader.State())

	c.HandleNozzleInOrSaleFinished()
	require.Equal(t, rfidreader.Idle, reader.State())
}
