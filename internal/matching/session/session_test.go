package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Config{SearchCacheMaxCost: 100, GroupingCacheCapacity: 2}, nil)
	require.NoError(t, err)
	return m
}

func TestSearchSession_InsertAndPick(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()

	m.InsertSearch(&SearchSession{ID: "abc", DocIDs: []uint32{1, 2, 3}, ExpiresAt: now.Add(time.Minute)})

	got, err := m.PickSearch("abc", now)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, got.DocIDs)

	// Picked sessions are evicted (§8 S6).
	_, err = m.PickSearch("abc", now)
	assert.Error(t, err)
}

func TestSearchSession_PickAfterExpiry(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()

	m.InsertSearch(&SearchSession{ID: "abc", ExpiresAt: now.Add(-time.Second)})

	_, err := m.PickSearch("abc", now)
	assert.Error(t, err)
}

func TestGroupingSession_LRUDropsOldest(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()

	m.InsertGrouping(&GroupingSession{ID: "g1", ExpiresAt: now.Add(time.Minute)})
	m.InsertGrouping(&GroupingSession{ID: "g2", ExpiresAt: now.Add(time.Minute)})
	m.InsertGrouping(&GroupingSession{ID: "g3", ExpiresAt: now.Add(time.Minute)})

	_, err := m.PickGrouping("g1", now)
	assert.Error(t, err, "g1 should have been dropped once the 2-entry LRU filled")

	got, err := m.PickGrouping("g3", now)
	require.NoError(t, err)
	assert.Equal(t, "g3", got.ID)

	assert.EqualValues(t, 1, m.Stats().GroupingDropped)
}

func TestPruneTimedOut_SweepsExpiredSearchSessions(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()

	m.InsertSearch(&SearchSession{ID: "expired", ExpiresAt: now.Add(-time.Second)})
	m.InsertSearch(&SearchSession{ID: "live", ExpiresAt: now.Add(time.Hour)})

	m.PruneTimedOut(now, func(task func()) { task() })

	_, err := m.PickSearch("expired", now)
	assert.Error(t, err)

	got, err := m.PickSearch("live", now)
	require.NoError(t, err)
	assert.Equal(t, "live", got.ID)
}

func TestPruneTimedOut_SweepsExpiredGroupingSessions(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()

	m.InsertGrouping(&GroupingSession{ID: "g1", ExpiresAt: now.Add(-time.Second)})

	ran := false
	m.PruneTimedOut(now, func(task func()) { ran = true; task() })
	assert.True(t, ran)

	_, err := m.PickGrouping("g1", now)
	assert.Error(t, err)
}

func TestStats_TracksInsertAndPick(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()

	m.InsertSearch(&SearchSession{ID: "a", ExpiresAt: now.Add(time.Minute)})
	_, _ = m.PickSearch("a", now)

	stats := m.Stats()
	assert.EqualValues(t, 1, stats.SearchInserted)
	assert.EqualValues(t, 1, stats.SearchPicked)
}
