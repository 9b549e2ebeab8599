package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appforge/internal/project"
)

func TestStore_PutAndGetSnapshot(t *testing.T) {
	s := NewStore()
	s.Put("app-1", []project.File{{Name: "a.ts", Content: "x\n"}})

	got, ok := s.Get("app-1")
	require.True(t, ok)
	assert.Equal(t, "app-1", got.AppID)
	require.Len(t, got.Files, 1)

	// Mutating the snapshot must not leak into the store.
	got.Files[0].Content = "mutated"
	again, _ := s.Get("app-1")
	assert.Equal(t, "x\n", again.Files[0].Content)
}

func TestStore_GetMissing(t *testing.T) {
	s := NewStore()
	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestStore_RecordBoundsHistory(t *testing.T) {
	s := NewStore()
	for i := 0; i < 60; i++ {
		s.Record("app-1", fmt.Sprintf("job-%d", i), "prompt")
	}
	got, _ := s.Get("app-1")
	require.Len(t, got.History, 50)
	assert.Equal(t, "job-59", got.History[49].JobID)
	assert.Equal(t, "job-10", got.History[0].JobID)
}

func TestStore_SweepEvictsIdle(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := NewStore(WithMaxIdle(time.Minute), withClock(clock))

	s.Put("stale", nil)
	now = now.Add(2 * time.Minute)
	s.Put("fresh", nil)

	assert.Equal(t, 1, s.Sweep())
	_, ok := s.Get("stale")
	assert.False(t, ok)
	_, ok = s.Get("fresh")
	assert.True(t, ok)
}

func TestStore_MaxSessionsEvictsStalest(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := NewStore(WithMaxSessions(2), withClock(clock))

	s.Put("first", nil)
	now = now.Add(time.Second)
	s.Put("second", nil)
	now = now.Add(time.Second)
	s.Put("third", nil)

	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("first")
	assert.False(t, ok)
	_, ok = s.Get("third")
	assert.True(t, ok)
}

func TestStore_TwoStoresAreIndependent(t *testing.T) {
	a := NewStore()
	b := NewStore()
	a.Put("app-1", []project.File{{Name: "a", Content: "1"}})
	_, ok := b.Get("app-1")
	assert.False(t, ok)
}

func TestStore_Evict(t *testing.T) {
	s := NewStore()
	s.Put("app-1", nil)
	s.Evict("app-1")
	assert.Zero(t, s.Len())
}
