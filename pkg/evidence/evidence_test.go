package evidence

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(planID string) *Snapshot {
	return &Snapshot{
		PlanID:    planID,
		Optimodel: map[string]any{"objective": "min_cost", "horizon_days": 30},
		Solution:  map[string]any{"kpis": map[string]any{"total_cost": 4200.5}},
		Scenarios: map[string]any{"count": 20},
		Metadata:  map[string]any{"tenant_id": "acme"},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPersistIsDeterministic(t *testing.T) {
	store, err := NewStore(t.TempDir(), 0)
	require.NoError(t, err)

	addr1, err := store.Persist(testSnapshot("plan-1"))
	require.NoError(t, err)
	addr2, err := store.Persist(testSnapshot("plan-1"))
	require.NoError(t, err)
	assert.Equal(t, addr1, addr2)
	assert.Len(t, addr1, 64)

	addr3, err := store.Persist(testSnapshot("plan-2"))
	require.NoError(t, err)
	assert.NotEqual(t, addr1, addr3)
}

func TestPersistAndGetRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir(), 0)
	require.NoError(t, err)

	want := testSnapshot("plan-1")
	addr, err := store.Persist(want)
	require.NoError(t, err)

	got, err := store.Get(addr)
	require.NoError(t, err)
	assert.Equal(t, want.PlanID, got.PlanID)
	assert.Equal(t, "min_cost", got.Optimodel["objective"])
	assert.True(t, want.Timestamp.Equal(got.Timestamp))
}

func TestGetUnknownAddress(t *testing.T) {
	store, err := NewStore(t.TempDir(), 0)
	require.NoError(t, err)

	_, err = store.Get("deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	assert.Error(t, err)

	_, err = store.Get("x")
	assert.Error(t, err)
}

func TestGraphLogAppendOrder(t *testing.T) {
	store, err := NewStore(t.TempDir(), 0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		err := store.AppendGraphEvent(&GraphEvent{
			TenantID: "acme",
			PlanID:   fmt.Sprintf("plan-%d", i),
			Address:  fmt.Sprintf("addr-%d", i),
			Nodes:    []map[string]any{{"id": fmt.Sprintf("n%d", i)}},
		})
		require.NoError(t, err)
	}

	events, err := store.GraphEvents("acme")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("plan-%d", i), ev.PlanID)
		assert.False(t, ev.Timestamp.IsZero())
	}

	// logs are per tenant
	events, err = store.GraphEvents("other")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestGCRetainsMostRecent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 2)
	require.NoError(t, err)

	var addrs []string
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		addr, err := store.Persist(testSnapshot(fmt.Sprintf("plan-%d", i)))
		require.NoError(t, err)
		addrs = append(addrs, addr)

		path := filepath.Join(dir, "evidence", addr[:2], addr+".json")
		mod := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(path, mod, mod))
	}

	removed, err := store.GC()
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	for _, addr := range addrs[:3] {
		_, err := store.Get(addr)
		assert.Error(t, err)
	}
	for _, addr := range addrs[3:] {
		_, err := store.Get(addr)
		assert.NoError(t, err)
	}

	// a second pass finds nothing over the bound
	removed, err = store.GC()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestGCSparesGraphLogs(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 1)
	require.NoError(t, err)

	require.NoError(t, store.AppendGraphEvent(&GraphEvent{TenantID: "acme", PlanID: "p"}))
	_, err = store.Persist(testSnapshot("plan-1"))
	require.NoError(t, err)
	_, err = store.Persist(testSnapshot("plan-2"))
	require.NoError(t, err)

	_, err = store.GC()
	require.NoError(t, err)

	events, err := store.GraphEvents("acme")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
