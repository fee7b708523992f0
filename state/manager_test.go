package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"labgrid/native/reservation"
	"labgrid/storage"
)

func testReservation(labID string, start, end int64) *reservation.Reservation {
	return &reservation.Reservation{
		Key:    reservation.Key(labID, start),
		LabID:  labID,
		Renter: [20]byte{0x01},
		Price:  big.NewInt(1_000),
		Status: reservation.StatusPending,
		Start:  start,
		End:    end,
	}
}

func TestReservationPersistenceRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	manager := NewManager(db, 8)

	res := testReservation("lab-a", 100, 200)
	require.NoError(t, manager.ReservationPut(res))

	// A fresh manager on the same backend reloads the record from storage.
	reloaded := NewManager(db, 8)
	got, ok := reloaded.ReservationGet(res.Key)
	require.True(t, ok)
	require.Equal(t, res.LabID, got.LabID)
	require.Equal(t, res.Start, got.Start)
	require.Equal(t, res.End, got.End)
	require.Zero(t, res.Price.Cmp(got.Price))
	require.Equal(t, reservation.StatusPending, got.Status)
}

func TestReservationPutRejectsInvalidRecords(t *testing.T) {
	manager := NewManager(nil, 8)

	bad := testReservation("lab-a", 200, 100)
	bad.Key = reservation.Key("lab-a", 200)
	require.Error(t, manager.ReservationPut(bad))

	mismatched := testReservation("lab-a", 100, 200)
	mismatched.Key = reservation.Key("lab-b", 100)
	require.Error(t, manager.ReservationPut(mismatched))

	_, ok := manager.ReservationGet(reservation.Key("lab-a", 200))
	require.False(t, ok)
}

func TestReservationGetReturnsClone(t *testing.T) {
	manager := NewManager(nil, 8)
	res := testReservation("lab-a", 100, 200)
	require.NoError(t, manager.ReservationPut(res))

	got, ok := manager.ReservationGet(res.Key)
	require.True(t, ok)
	got.Status = reservation.StatusCancelled
	got.Price.SetInt64(0)

	again, ok := manager.ReservationGet(res.Key)
	require.True(t, ok)
	require.Equal(t, reservation.StatusPending, again.Status)
	require.Zero(t, again.Price.Cmp(big.NewInt(1_000)))
}

func TestIndexAddDeduplicates(t *testing.T) {
	manager := NewManager(nil, 8)
	key := reservation.Key("lab-a", 100)

	manager.IndexAdd("lab-a", "user-1", key)
	manager.IndexAdd("lab-a", "user-1", key)

	require.Len(t, manager.LabKeys("lab-a"), 1)
	require.Len(t, manager.TrackedKeys("lab-a", "user-1"), 1)
	require.Empty(t, manager.TrackedKeys("lab-a", "user-2"))
}

func TestIndexRemoveHandsKeyOver(t *testing.T) {
	manager := NewManager(nil, 8)
	key := reservation.Key("lab-a", 100)

	manager.IndexAdd("lab-a", "user-1", key)
	manager.IndexRemove("lab-a", "user-1", key)
	require.Empty(t, manager.TrackedKeys("lab-a", "user-1"))
	// The lab enumeration keeps the key.
	require.Len(t, manager.LabKeys("lab-a"), 1)

	// A second scope claims the key without duplicating the lab entry.
	manager.IndexAdd("lab-a", "user-2", key)
	require.Len(t, manager.TrackedKeys("lab-a", "user-2"), 1)
	require.Len(t, manager.LabKeys("lab-a"), 1)

	// Removing for a scope that never held the key is a no-op.
	manager.IndexRemove("lab-a", "user-3", key)
	require.Len(t, manager.TrackedKeys("lab-a", "user-2"), 1)
}

func TestActiveCounters(t *testing.T) {
	manager := NewManager(nil, 8)

	require.Zero(t, manager.ActiveCount("lab-a", "user-1"))
	manager.IncrementActive("lab-a", "user-1")
	manager.IncrementActive("lab-a", "user-1")
	require.Equal(t, 2, manager.ActiveCount("lab-a", "user-1"))

	manager.DecrementActive("lab-a", "user-1")
	manager.DecrementActive("lab-a", "user-1")
	manager.DecrementActive("lab-a", "user-1")
	require.Zero(t, manager.ActiveCount("lab-a", "user-1"))
}

func TestNextActiveTracking(t *testing.T) {
	manager := NewManager(nil, 8)

	_, ok := manager.NextActive("lab-a", "user-1")
	require.False(t, ok)

	manager.SetNextActive("lab-a", "user-1", 500, true)
	start, ok := manager.NextActive("lab-a", "user-1")
	require.True(t, ok)
	require.EqualValues(t, 500, start)

	manager.SetNextActive("lab-a", "user-1", 0, false)
	_, ok = manager.NextActive("lab-a", "user-1")
	require.False(t, ok)
}

func TestActivityRingOrderAndOverflow(t *testing.T) {
	manager := NewManager(nil, 3)
	key := reservation.Key("lab-a", 100)

	for _, at := range []int64{300, 100, 200} {
		manager.LogPast("lab-a", reservation.ActivityEntry{Key: key, At: at})
	}
	entries := manager.RecentPast("lab-a")
	require.Len(t, entries, 3)
	require.EqualValues(t, 100, entries[0].At)
	require.EqualValues(t, 200, entries[1].At)
	require.EqualValues(t, 300, entries[2].At)

	// Over capacity the oldest entry drops.
	manager.LogPast("lab-a", reservation.ActivityEntry{Key: key, At: 400})
	entries = manager.RecentPast("lab-a")
	require.Len(t, entries, 3)
	require.EqualValues(t, 200, entries[0].At)
	require.EqualValues(t, 400, entries[2].At)

	require.Empty(t, manager.RecentUpcoming("lab-a"))
}

func TestPayoutAccruals(t *testing.T) {
	manager := NewManager(nil, 8)
	beneficiary := [20]byte{0xBB}

	require.Zero(t, manager.PendingPayout(beneficiary).Sign())
	manager.AccruePayout(beneficiary, big.NewInt(250))
	manager.AccruePayout(beneficiary, big.NewInt(750))
	manager.AccruePayout(beneficiary, nil)
	manager.AccruePayout(beneficiary, big.NewInt(-100))
	require.Zero(t, manager.PendingPayout(beneficiary).Cmp(big.NewInt(1_000)))
}

func TestArenaCreationOnFirstUse(t *testing.T) {
	manager := NewManager(nil, 8)

	cal := manager.Calendar("lab-a")
	require.NotNil(t, cal)
	require.Same(t, cal, manager.Calendar("lab-a"))
	require.NotSame(t, cal, manager.Calendar("lab-b"))

	sched := manager.Payouts("lab-a")
	require.Same(t, sched, manager.Payouts("lab-a"))

	h := manager.Actives("lab-a", "user-1")
	require.Same(t, h, manager.Actives("lab-a", "user-1"))
	require.NotSame(t, h, manager.Actives("lab-a", "user-2"))
}
