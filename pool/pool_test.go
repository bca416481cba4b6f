package pool

import (
	"testing"
	"time"

	"github.com/K-dash/pyright-lsp-proxy/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertMarksWarmingAndCountsTowardLen(t *testing.T) {
	p := New(4)
	entry := p.Insert("/a/.venv", nil)
	assert.True(t, entry.IsWarming())
	assert.Equal(t, 1, p.Len())
}

func TestCapacityNeverExceeded(t *testing.T) {
	p := New(2)
	p.Insert("/a/.venv", nil)
	p.Insert("/b/.venv", nil)
	assert.True(t, p.Full())
	assert.Equal(t, 2, p.Len())
}

func TestMarkReadyDrainsQueueInOrder(t *testing.T) {
	p := New(4)
	p.Insert("/a/.venv", nil)

	id1 := message.NewIntID(1)
	id2 := message.NewIntID(2)
	p.Enqueue("/a/.venv", &message.RpcMessage{ID: &id1})
	p.Enqueue("/a/.venv", &message.RpcMessage{ID: &id2})

	queued := p.MarkReady("/a/.venv")
	require.Len(t, queued, 2)
	assert.Equal(t, int64(1), queued[0].ID.Int())
	assert.Equal(t, int64(2), queued[1].ID.Int())

	entry, _ := p.Get("/a/.venv")
	assert.False(t, entry.IsWarming())
	assert.Empty(t, entry.WarmupQueue)
}

func TestExpiredEnvs(t *testing.T) {
	p := New(4)
	p.Insert("/a/.venv", nil)
	entry, _ := p.Get("/a/.venv")
	entry.LastUsed = time.Now().Add(-time.Hour)

	expired := p.ExpiredEnvs(time.Now(), time.Minute)
	assert.Equal(t, []string{"/a/.venv"}, expired)
}

func TestLRUEnvPrefersIdle(t *testing.T) {
	p := New(4)
	p.Insert("/a/.venv", nil)
	p.Insert("/b/.venv", nil)

	aEntry, _ := p.Get("/a/.venv")
	aEntry.LastUsed = time.Now().Add(-time.Minute)
	aEntry.PendingClientToBackend = 1 // busy, should be skipped

	bEntry, _ := p.Get("/b/.venv")
	bEntry.LastUsed = time.Now()

	victim, ok := p.LRUEnv()
	require.True(t, ok)
	assert.Equal(t, "/b/.venv", victim)
}

func TestLRUEnvFallsBackToGloballyOldestWhenAllBusy(t *testing.T) {
	p := New(4)
	p.Insert("/a/.venv", nil)
	p.Insert("/b/.venv", nil)

	aEntry, _ := p.Get("/a/.venv")
	aEntry.LastUsed = time.Now().Add(-time.Minute)
	aEntry.PendingClientToBackend = 1

	bEntry, _ := p.Get("/b/.venv")
	bEntry.LastUsed = time.Now()
	bEntry.PendingBackendToClient = 1

	victim, ok := p.LRUEnv()
	require.True(t, ok)
	assert.Equal(t, "/a/.venv", victim)
}

func TestTouchUpdatesLastUsed(t *testing.T) {
	p := New(4)
	p.Insert("/a/.venv", nil)
	entry, _ := p.Get("/a/.venv")
	entry.LastUsed = time.Now().Add(-time.Hour)

	p.Touch("/a/.venv")
	assert.WithinDuration(t, time.Now(), entry.LastUsed, time.Second)
}

func TestRemoveDoesNotShutDown(t *testing.T) {
	p := New(4)
	p.Insert("/a/.venv", nil)

	removed, ok := p.Remove("/a/.venv")
	require.True(t, ok)
	require.NotNil(t, removed)
	assert.False(t, p.Contains("/a/.venv"))
}

func TestMRUEnvPrefersMostRecentlyTouched(t *testing.T) {
	p := New(4)
	p.Insert("/a/.venv", nil)
	p.Insert("/b/.venv", nil)

	aEntry, _ := p.Get("/a/.venv")
	aEntry.LastUsed = time.Now().Add(-time.Minute)

	bEntry, _ := p.Get("/b/.venv")
	bEntry.LastUsed = time.Now()

	env, ok := p.MRUEnv()
	require.True(t, ok)
	assert.Equal(t, "/b/.venv", env)
}

func TestMRUEnvEmptyPool(t *testing.T) {
	p := New(4)
	_, ok := p.MRUEnv()
	assert.False(t, ok)
}

func TestNextSessionMonotonic(t *testing.T) {
	p := New(4)
	s1 := p.NextSession()
	s2 := p.NextSession()
	assert.Less(t, s1, s2)
}
