package callflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ai-hotline/internal/calls"
	"ai-hotline/internal/events"
	"ai-hotline/internal/session"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// failingRepo fails the next save of an ended call.
type failingRepo struct {
	*calls.MemoryRepo
	mu        sync.Mutex
	failEnded int
}

func (r *failingRepo) Save(ctx context.Context, c *calls.Call) error {
	r.mu.Lock()
	fail := r.failEnded > 0 && c.Status.Terminal()
	if fail {
		r.failEnded--
	}
	r.mu.Unlock()
	if fail {
		return errors.New("db down")
	}
	return r.MemoryRepo.Save(ctx, c)
}

type fixture struct {
	svc     *Service
	repo    *calls.MemoryRepo
	mgr     *session.Manager
	sink    *events.MemorySink
	limiter *MemoryLimiter
	clock   *testClock
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()
	clk := &testClock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	sink := events.NewMemorySink()
	repo := calls.NewMemoryRepo()
	mgr := session.NewManager(session.NewMemoryStore(), sink, zap.NewNop(), session.ManagerConfig{
		MaxSilence:  10 * time.Second,
		MaxDuration: 30 * time.Minute,
		Clock:       clk.Now,
	})
	lim := NewMemoryLimiter(limit)
	svc := NewService(repo, mgr, sink, zap.NewNop(), Config{Limiter: lim, Clock: clk.Now})
	return &fixture{svc: svc, repo: repo, mgr: mgr, sink: sink, limiter: lim, clock: clk}
}

func (f *fixture) startCall(t *testing.T, tenant string) (*calls.Call, *session.Session) {
	t.Helper()
	ctx := context.Background()
	c, err := f.svc.CreateCall(ctx, calls.NewCallInput{
		TenantID:    tenant,
		PhoneNumber: "+20 100 123 4567",
		Direction:   calls.DirectionInbound,
	})
	require.NoError(t, err)
	c, sess, err := f.svc.StartCall(ctx, tenant, c.ID)
	require.NoError(t, err)
	return c, sess
}

func TestCallLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	c, err := f.svc.CreateCall(ctx, calls.NewCallInput{
		TenantID:    "T",
		PhoneNumber: "+20 100 123 4567",
		Direction:   calls.DirectionInbound,
	})
	require.NoError(t, err)
	assert.Equal(t, "+201001234567", c.PhoneNumber)

	c, sess, err := f.svc.StartCall(ctx, "T", c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusInProgress, c.Status)
	assert.Equal(t, sess.ID, c.SessionID)
	assert.Equal(t, session.StateInitializing, sess.State)
	assert.Equal(t, session.TurnAI, sess.Turn)

	snap, err := f.svc.SessionDo(ctx, "T", sess.ID, func(s *session.Session) { s.StartRecording("stream-1") })
	require.NoError(t, err)
	assert.Equal(t, session.StateListening, snap.State)
	assert.True(t, snap.IsRecording)

	conf := 0.9
	snap, err = f.svc.SessionDo(ctx, "T", sess.ID, func(s *session.Session) { s.AddUserInput("hello", &conf) })
	require.NoError(t, err)
	assert.Equal(t, session.StateProcessing, snap.State)
	assert.Equal(t, "hello", snap.LastUserInput)

	latency := 200
	snap, err = f.svc.SessionDo(ctx, "T", sess.ID, func(s *session.Session) {
		s.AddAIResponse("hi there", "openai", "gpt-4", &latency)
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", snap.LastAIResponse)
	assert.Equal(t, session.StateProcessing, snap.State)

	f.clock.Advance(95 * time.Second)
	c, err = f.svc.EndCall(ctx, "T", c.ID, calls.ParseEndReason("normal completion"))
	require.NoError(t, err)
	assert.Equal(t, calls.StatusCompleted, c.Status)
	require.NotNil(t, c.DurationSeconds)
	assert.Equal(t, 95, *c.DurationSeconds)

	assert.Equal(t, "caller: hello\nai: hi there", c.FullTranscript())
	require.Len(t, c.LLMInteractions, 1)
	assert.Equal(t, "hello", c.LLMInteractions[0].Prompt)
	assert.Equal(t, "gpt-4", c.LLMInteractions[0].Model)

	_, err = f.svc.Session(ctx, "T", sess.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	ended := f.sink.OfType(events.TypeSessionEnded)
	require.Len(t, ended, 1)
	callEnded := f.sink.OfType(events.TypeCallEnded)
	require.Len(t, callEnded, 1)
	assert.Equal(t, "completed", callEnded[0].CallStatus)
	assert.Len(t, f.sink.OfType(events.TypeCallStarted), 1)

	stored, err := f.repo.Load(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusCompleted, stored.Status)

	_, err = f.svc.EndCall(ctx, "T", c.ID, calls.Completed())
	assert.ErrorIs(t, err, calls.ErrCallAlreadyEnded)
}

func TestErrorEscalationEndsCallOnSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	c, sess := f.startCall(t, "T")

	var snap *session.Session
	var err error
	for i := 0; i < 3; i++ {
		snap, err = f.svc.SessionDo(ctx, "T", sess.ID, func(s *session.Session) { s.AddError("stt timeout") })
		require.NoError(t, err)
	}
	assert.Equal(t, session.StateError, snap.State)
	assert.Equal(t, 3, snap.ErrorCount)
	assert.Equal(t, "stt timeout", snap.LastError)
	assert.Len(t, f.sink.OfType(events.TypeError), 3)

	res := f.svc.Sweep(ctx)
	assert.Equal(t, 1, res.Ended)

	got, err := f.svc.GetCall(ctx, "T", c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusFailed, got.Status)
	assert.Contains(t, got.Errors, "stt timeout")
	assert.Equal(t, 3+1, len(got.Errors))
}

func TestStartCall_Guards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	c, _ := f.startCall(t, "T")

	_, _, err := f.svc.StartCall(ctx, "T", c.ID)
	assert.ErrorIs(t, err, calls.ErrInvalidTransition)

	_, _, err = f.svc.StartCall(ctx, "other", c.ID)
	assert.ErrorIs(t, err, calls.ErrNotFound)
	assert.Equal(t, 1, f.limiter.InUse("T"))
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	c, sess := f.startCall(t, "A")

	_, err := f.svc.GetCall(ctx, "B", c.ID)
	assert.ErrorIs(t, err, calls.ErrNotFound)
	_, err = f.svc.EndCall(ctx, "B", c.ID, calls.Completed())
	assert.ErrorIs(t, err, calls.ErrNotFound)
	_, err = f.svc.SessionDo(ctx, "B", sess.ID, func(s *session.Session) { s.AddError("x") })
	assert.ErrorIs(t, err, session.ErrNotFound)

	snap, err := f.svc.Session(ctx, "A", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.ErrorCount)

	assert.Len(t, f.svc.LiveSessions(ctx, "A"), 1)
	assert.Empty(t, f.svc.LiveSessions(ctx, "B"))
}

func TestCapacityPerTenant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	first, _ := f.startCall(t, "T")

	second, err := f.svc.CreateCall(ctx, calls.NewCallInput{TenantID: "T", PhoneNumber: "+201001234568"})
	require.NoError(t, err)
	_, _, err = f.svc.StartCall(ctx, "T", second.ID)
	assert.ErrorIs(t, err, ErrCapacity)

	got, err := f.svc.GetCall(ctx, "T", second.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusInitiated, got.Status)

	f.startCall(t, "U")

	_, err = f.svc.EndCall(ctx, "T", first.ID, calls.Cancelled("caller hung up"))
	require.NoError(t, err)
	assert.Equal(t, 0, f.limiter.InUse("T"))

	_, _, err = f.svc.StartCall(ctx, "T", second.ID)
	require.NoError(t, err)
}

func TestEndCall_NeverStarted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	c, err := f.svc.CreateCall(ctx, calls.NewCallInput{TenantID: "T", PhoneNumber: "+201001234567"})
	require.NoError(t, err)

	c, err = f.svc.EndCall(ctx, "T", c.ID, calls.ParseEndReason("cancelled by caller"))
	require.NoError(t, err)
	assert.Equal(t, calls.StatusCancelled, c.Status)
	assert.Nil(t, c.DurationSeconds)
	assert.Equal(t, 0, f.limiter.InUse("T"))
}

func TestQualityUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	c, _ := f.startCall(t, "T")

	_, err := f.svc.SetSatisfaction(ctx, "T", c.ID, 6)
	assert.ErrorIs(t, err, calls.ErrInvalidSatisfaction)

	got, err := f.svc.SetSatisfaction(ctx, "T", c.ID, 4.5)
	require.NoError(t, err)
	assert.Equal(t, 4.5, *got.SatisfactionScore)

	got, err = f.svc.MarkResolution(ctx, "T", c.ID, true)
	require.NoError(t, err)
	assert.True(t, *got.ResolutionAchieved)
	assert.Equal(t, 4.5, *got.SatisfactionScore)
}

func TestConcurrentPipelinesOnOneCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	_, sess := f.startCall(t, "T")

	var wg sync.WaitGroup
	for _, kind := range []session.RequestKind{session.KindSTT, session.KindLLM, session.KindTTS} {
		wg.Add(1)
		go func(kind session.RequestKind) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := string(kind) + "-req"
				_, err := f.svc.SessionDo(ctx, "T", sess.ID, func(s *session.Session) { s.AddPendingRequest(kind, id) })
				assert.NoError(t, err)
				_, err = f.svc.SessionDo(ctx, "T", sess.ID, func(s *session.Session) { s.RemovePendingRequest(kind, id) })
				assert.NoError(t, err)
			}
		}(kind)
	}
	wg.Wait()

	snap, err := f.svc.Session(ctx, "T", sess.ID)
	require.NoError(t, err)
	assert.False(t, snap.HasPendingRequests())
}

func TestEndCall_SaveFailureKeepsConversation(t *testing.T) {
	ctx := context.Background()
	clk := &testClock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	sink := events.NewMemorySink()
	repo := &failingRepo{MemoryRepo: calls.NewMemoryRepo(), failEnded: 1}
	mgr := session.NewManager(session.NewMemoryStore(), sink, zap.NewNop(), session.ManagerConfig{Clock: clk.Now})
	lim := NewMemoryLimiter(0)
	svc := NewService(repo, mgr, sink, zap.NewNop(), Config{Limiter: lim, Clock: clk.Now})

	c, err := svc.CreateCall(ctx, calls.NewCallInput{TenantID: "T", PhoneNumber: "+201001234567"})
	require.NoError(t, err)
	c, sess, err := svc.StartCall(ctx, "T", c.ID)
	require.NoError(t, err)
	_, err = svc.SessionDo(ctx, "T", sess.ID, func(s *session.Session) {
		s.AddUserInput("hello", nil)
		s.AddAIResponse("hi there", "openai", "gpt-4", nil)
	})
	require.NoError(t, err)

	_, err = svc.EndCall(ctx, "T", c.ID, calls.Completed())
	require.Error(t, err)
	got, err := svc.GetCall(ctx, "T", c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusInProgress, got.Status)
	assert.Equal(t, 1, lim.InUse("T"))

	ended, err := svc.EndCall(ctx, "T", c.ID, calls.Completed())
	require.NoError(t, err)
	assert.Equal(t, calls.StatusCompleted, ended.Status)
	assert.Equal(t, "caller: hello\nai: hi there", ended.FullTranscript())
	require.Len(t, ended.LLMInteractions, 1)
	assert.Equal(t, 0, lim.InUse("T"))

	_, err = mgr.Ended(ctx, sess.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Len(t, sink.OfType(events.TypeSessionEnded), 1)
	assert.Len(t, sink.OfType(events.TypeCallEnded), 1)
}

func TestCreateCall_DuplicateIDKeepsExisting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	c, _ := f.startCall(t, "T")

	_, err := f.svc.CreateCall(ctx, calls.NewCallInput{ID: c.ID, TenantID: "T", PhoneNumber: "+201001234567"})
	assert.ErrorIs(t, err, calls.ErrCallExists)

	got, err := f.svc.GetCall(ctx, "T", c.ID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusInProgress, got.Status)
}
