package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ai-hotline/internal/events"
)

func newTestManager(t *testing.T) (*Manager, *MemoryStore, *events.MemorySink) {
	t.Helper()
	store := NewMemoryStore()
	sink := events.NewMemorySink()
	m := NewManager(store, sink, zap.NewNop(), ManagerConfig{Clock: newFakeClock().Now})
	return m, store, sink
}

func TestManager_CreatePersistsAndRegisters(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestManager(t)

	s, err := m.Create(ctx, "call-1", "tenant-1", WithID("sess-1"))
	require.NoError(t, err)
	assert.Equal(t, StateInitializing, s.State)
	assert.Equal(t, 1, m.Len())

	stored, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)

	_, err = m.Create(ctx, "call-1", "tenant-1", WithID("sess-1"))
	assert.ErrorIs(t, err, ErrExists)
}

func TestManager_DoPersistsAndPublishesInOrder(t *testing.T) {
	ctx := context.Background()
	m, store, sink := newTestManager(t)
	_, err := m.Create(ctx, "call-1", "tenant-1", WithID("sess-1"))
	require.NoError(t, err)

	snap, err := m.Do(ctx, "sess-1", func(s *Session) {
		s.StartRecording("stream-1")
		s.AddUserInput("hello", nil)
	})
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, snap.State)

	stored, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, stored.State)
	assert.Equal(t, int64(2), stored.Version)

	changes := sink.OfType(events.TypeStateChange)
	require.Len(t, changes, 2)
	assert.Equal(t, "listening", changes[0].ToState)
	assert.Equal(t, "processing", changes[1].ToState)
	assert.Equal(t, "tenant-1", changes[0].TenantID)
}

func TestManager_SnapshotIsolated(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	_, err := m.Create(ctx, "call-1", "tenant-1", WithID("sess-1"))
	require.NoError(t, err)

	snap, err := m.Snapshot(ctx, "sess-1")
	require.NoError(t, err)
	snap.AddPendingRequest(KindSTT, "leak")

	again, err := m.Snapshot(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, again.HasPendingRequests())
}

func TestManager_RemoveThenNotFound(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestManager(t)
	_, err := m.Create(ctx, "call-1", "tenant-1", WithID("sess-1"))
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, "sess-1"))
	_, err = m.Snapshot(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Do(ctx, "sess-1", func(s *Session) {})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Load(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, m.Len())
}

func TestManager_CloseEndsAndUnregisters(t *testing.T) {
	ctx := context.Background()
	m, store, sink := newTestManager(t)
	_, err := m.Create(ctx, "call-1", "tenant-1", WithID("sess-1"))
	require.NoError(t, err)
	_, err = m.Do(ctx, "sess-1", func(s *Session) { s.AddPendingRequest(KindTTS, "t1") })
	require.NoError(t, err)

	final, err := m.Close(ctx, "sess-1", "done")
	require.NoError(t, err)
	assert.Equal(t, StateEnded, final.State)
	assert.False(t, final.HasPendingRequests())

	ended := sink.OfType(events.TypeSessionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, "done", ended[0].Reason)

	_, err = m.Close(ctx, "sess-1", "again")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Do(ctx, "sess-1", func(s *Session) { s.AddError("late") })
	assert.ErrorIs(t, err, ErrNotFound)

	// The final snapshot outlives Close until Remove.
	kept, err := m.Ended(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StateEnded, kept.State)
	assert.Equal(t, len(final.History), len(kept.History))
	assert.Len(t, sink.OfType(events.TypeSessionEnded), 1)

	require.NoError(t, m.Remove(ctx, "sess-1"))
	_, err = m.Ended(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Load(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_EndedIgnoresLiveSessions(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	_, err := m.Create(ctx, "call-1", "tenant-1", WithID("sess-1"))
	require.NoError(t, err)

	_, err = m.Ended(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_RestoresFromStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	first := NewManager(store, nil, nil, ManagerConfig{})
	_, err := first.Create(ctx, "call-1", "tenant-1", WithID("sess-1"))
	require.NoError(t, err)
	_, err = first.Do(ctx, "sess-1", func(s *Session) { s.StartRecording("stream-1") })
	require.NoError(t, err)

	second := NewManager(store, nil, nil, ManagerConfig{})
	snap, err := second.Do(ctx, "sess-1", func(s *Session) { s.AddUserInput("hi", nil) })
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, snap.State)
	assert.Equal(t, int64(3), snap.Version)

	// first still holds v2 in memory; its next write must not clobber v3.
	_, err = first.Do(ctx, "sess-1", func(s *Session) { s.AddSystemMessage("stale", "info") })
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestManager_EndedSessionsAreNotRestored(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := New("call-1", "tenant-1", WithID("sess-1"))
	s.EndSession("done")
	s.Version = 1
	require.NoError(t, store.Save(ctx, s))

	m := NewManager(store, nil, nil, ManagerConfig{})
	_, err := m.Snapshot(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ConcurrentMutationsSerialized(t *testing.T) {
	ctx := context.Background()
	m, _, sink := newTestManager(t)
	_, err := m.Create(ctx, "call-1", "tenant-1", WithID("sess-1"))
	require.NoError(t, err)

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				_, err := m.Do(ctx, "sess-1", func(s *Session) {
					s.AddPendingRequest(KindLLM, id)
					s.AddUserInput(id, nil)
					s.RemovePendingRequest(KindLLM, id)
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	snap, err := m.Snapshot(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, snap.History, workers*perWorker)
	assert.False(t, snap.HasPendingRequests())
	assert.Equal(t, int64(1+workers*perWorker), snap.Version)

	// Per-worker order is preserved in history.
	last := map[int]int{}
	for _, e := range snap.History {
		var w, i int
		_, err := fmt.Sscanf(e.Text, "w%d-%d", &w, &i)
		require.NoError(t, err)
		if prev, ok := last[w]; ok {
			assert.Greater(t, i, prev)
		}
		last[w] = i
	}
	assert.Empty(t, sink.OfType(events.TypeError))
}

func TestManager_IndependentSessionsProceedInParallel(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	_, err := m.Create(ctx, "call-a", "t", WithID("a"))
	require.NoError(t, err)
	_, err = m.Create(ctx, "call-b", "t", WithID("b"))
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, _ = m.Do(ctx, "a", func(s *Session) {
			close(entered)
			<-release
		})
		close(done)
	}()
	<-entered

	// a is locked; b must not wait for it.
	_, err = m.Do(ctx, "b", func(s *Session) { s.StartPlaying() })
	require.NoError(t, err)
	close(release)
	<-done
}

type failingStore struct {
	*MemoryStore
	fail bool
}

func (f *failingStore) Save(ctx context.Context, s *Session) error {
	if f.fail {
		return errors.New("redis down")
	}
	return f.MemoryStore.Save(ctx, s)
}

func TestManager_SaveFailureStillPublishes(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: NewMemoryStore()}
	sink := events.NewMemorySink()
	m := NewManager(store, sink, nil, ManagerConfig{})
	_, err := m.Create(ctx, "call-1", "tenant-1", WithID("sess-1"))
	require.NoError(t, err)

	store.fail = true
	snap, err := m.Do(ctx, "sess-1", func(s *Session) { s.AddError("boom") })
	assert.Error(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.ErrorCount)
	assert.Len(t, sink.OfType(events.TypeError), 1)
}

func TestManager_CreateFailsWhenStoreFails(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), fail: true}
	m := NewManager(store, nil, nil, ManagerConfig{})
	_, err := m.Create(context.Background(), "call-1", "tenant-1", WithID("sess-1"))
	assert.Error(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestManager_ListOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := NewManager(NewMemoryStore(), nil, nil, ManagerConfig{Clock: clk.Now})
	for _, id := range []string{"x", "y", "z"} {
		_, err := m.Create(ctx, "call-"+id, "t", WithID(id))
		require.NoError(t, err)
		clk.Advance(1)
	}
	list := m.List(ctx)
	require.Len(t, list, 3)
	assert.Equal(t, "x", list[0].ID)
	assert.Equal(t, "z", list[2].ID)
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(StoreMemory)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = NewStore(StoreRedis)
	assert.Error(t, err)
	_, err = NewStore("etcd")
	assert.Error(t, err)
}
