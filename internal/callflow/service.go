// Package callflow ties a Call record to its live Session: it opens and
// starts calls, routes live interaction to the session, and folds the
// session outcome back into the call when it ends.
package callflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ai-hotline/internal/calls"
	"ai-hotline/internal/events"
	"ai-hotline/internal/session"
)

var (
	ErrCapacity  = errors.New("callflow: tenant live-session limit reached")
	ErrNoSession = errors.New("callflow: call has no live session")
)

// Service coordinates calls and sessions.
//
// Lock order: the per-call lock is taken before any session lock. StartCall
// persists the started call before the session exists; EndCall closes the
// session before the call is ended.
type Service struct {
	calls    calls.Repository
	sessions *session.Manager
	sink     events.Sink
	limiter  Limiter
	log      *zap.Logger
	clock    func() time.Time
	locks    *keyedMutex
}

type Config struct {
	// Limiter is optional; nil means no per-tenant cap.
	Limiter Limiter
	Clock   func() time.Time
}

func NewService(repo calls.Repository, sessions *session.Manager, sink events.Sink, log *zap.Logger, cfg Config) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = events.NewFanout(log)
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewMemoryLimiter(0)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{
		calls:    repo,
		sessions: sessions,
		sink:     sink,
		limiter:  cfg.Limiter,
		log:      log.Named("callflow"),
		clock:    cfg.Clock,
		locks:    newKeyedMutex(),
	}
}

// CreateCall validates and stores a new call in INITIATED.
func (s *Service) CreateCall(ctx context.Context, in calls.NewCallInput) (*calls.Call, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	c, err := calls.NewCall(in, s.clock())
	if err != nil {
		return nil, err
	}
	if err := s.calls.Create(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info("call created",
		zap.String("tenant_id", c.TenantID),
		zap.String("call_id", c.ID),
		zap.String("direction", string(c.Direction)),
	)
	return c, nil
}

// GetCall loads a call owned by tenantID. Calls of other tenants are
// reported as not found.
func (s *Service) GetCall(ctx context.Context, tenantID, callID string) (*calls.Call, error) {
	c, err := s.calls.Load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if c.TenantID != tenantID {
		return nil, fmt.Errorf("%w: call %s", calls.ErrNotFound, callID)
	}
	return c, nil
}

func (s *Service) ListCalls(ctx context.Context, f calls.ListFilter) ([]calls.Call, error) {
	return s.calls.List(ctx, f)
}

// StartCall moves the call to IN_PROGRESS and opens its live session.
func (s *Service) StartCall(ctx context.Context, tenantID, callID string) (*calls.Call, *session.Session, error) {
	unlock := s.locks.Lock(callID)
	defer unlock()

	c, err := s.GetCall(ctx, tenantID, callID)
	if err != nil {
		return nil, nil, err
	}
	sessionID := uuid.NewString()
	if err := c.Start(sessionID, s.clock()); err != nil {
		return nil, nil, err
	}

	ok, err := s.limiter.Acquire(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("callflow: acquire slot: %w", err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: tenant %s", ErrCapacity, tenantID)
	}

	if err := s.calls.Save(ctx, c); err != nil {
		s.release(ctx, tenantID)
		return nil, nil, err
	}

	sess, err := s.sessions.Create(ctx, c.ID, tenantID,
		session.WithID(sessionID),
		session.WithLanguageCode(c.LanguageCode),
	)
	if err != nil {
		s.release(ctx, tenantID)
		if endErr := c.End(calls.Failed("session unavailable"), s.clock()); endErr == nil {
			if saveErr := s.calls.Save(ctx, c); saveErr != nil {
				s.log.Error("compensating call end failed", zap.String("call_id", c.ID), zap.Error(saveErr))
			}
		}
		return nil, nil, err
	}

	ev := events.New(events.TypeCallStarted, tenantID, c.ID, sessionID, s.clock())
	ev.Direction = string(c.Direction)
	s.publish(ctx, ev)

	return c, sess, nil
}

// EndCall closes the live session, folds its conversation into the call and
// ends the call with reason.
func (s *Service) EndCall(ctx context.Context, tenantID, callID string, reason calls.EndReason) (*calls.Call, error) {
	unlock := s.locks.Lock(callID)
	defer unlock()

	c, err := s.GetCall(ctx, tenantID, callID)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, fmt.Errorf("%w: status %s", calls.ErrCallAlreadyEnded, c.Status)
	}

	if c.SessionID != "" {
		final, err := s.finalSession(ctx, c.SessionID, reason)
		switch {
		case errors.Is(err, session.ErrNotFound):
			s.log.Warn("ending call without live session", zap.String("call_id", c.ID), zap.String("session_id", c.SessionID))
		case err != nil:
			return nil, err
		default:
			foldSession(c, final)
		}
	}

	if err := c.End(reason, s.clock()); err != nil {
		return nil, err
	}
	if err := s.calls.Save(ctx, c); err != nil {
		// The final session snapshot is kept, so a retry folds it again.
		return nil, err
	}
	if c.SessionID != "" {
		if err := s.sessions.Remove(ctx, c.SessionID); err != nil {
			s.log.Warn("final session delete failed", zap.String("session_id", c.SessionID), zap.Error(err))
		}
	}
	if c.StartedAt != nil {
		s.release(ctx, tenantID)
	}

	ev := events.New(events.TypeCallEnded, tenantID, c.ID, c.SessionID, s.clock())
	ev.CallStatus = string(c.Status)
	ev.Reason = reason.String()
	ev.DurationSeconds = c.DurationSeconds
	s.publish(ctx, ev)

	return c, nil
}

// finalSession closes the live session, or returns the snapshot left by an
// earlier EndCall whose call save failed.
func (s *Service) finalSession(ctx context.Context, sessionID string, reason calls.EndReason) (*session.Session, error) {
	final, err := s.sessions.Close(ctx, sessionID, reason.String())
	if errors.Is(err, session.ErrNotFound) {
		return s.sessions.Ended(ctx, sessionID)
	}
	if err != nil && final != nil {
		s.log.Warn("ending call with unsaved session snapshot", zap.String("session_id", sessionID), zap.Error(err))
		return final, nil
	}
	return final, err
}

// foldSession copies the conversation of a finished session into the call.
// Each ai_response becomes an LLM record prompted by the latest user input.
func foldSession(c *calls.Call, final *session.Session) {
	var lastInput string
	for _, e := range final.History {
		switch e.Type {
		case session.EntryUserInput:
			lastInput = e.Text
			c.AddTranscriptSegment(calls.TranscriptSegment{
				Text:       e.Text,
				Speaker:    string(session.TurnCaller),
				Timestamp:  e.Timestamp,
				Confidence: e.Confidence,
			})
		case session.EntryAIResponse:
			c.AddTranscriptSegment(calls.TranscriptSegment{
				Text:      e.Text,
				Speaker:   string(session.TurnAI),
				Timestamp: e.Timestamp,
			})
			c.AddLLMInteraction(calls.LLMInteraction{
				Provider:  e.Provider,
				Model:     e.Model,
				Prompt:    lastInput,
				Response:  e.Text,
				Timestamp: e.Timestamp,
				LatencyMs: e.LatencyMs,
			})
		case session.EntryError:
			c.AddError(e.Message)
		}
	}
	c.SetContext("session_error_count", final.ErrorCount)
	c.SetContext("session_retry_count", final.RetryCount)
}

// Transcript renders the stored transcript of an ended or live call.
func (s *Service) Transcript(ctx context.Context, tenantID, callID string) (string, error) {
	c, err := s.GetCall(ctx, tenantID, callID)
	if err != nil {
		return "", err
	}
	return c.FullTranscript(), nil
}

// UpdateCall applies fn to a call under its lock and saves the result.
func (s *Service) UpdateCall(ctx context.Context, tenantID, callID string, fn func(*calls.Call) error) (*calls.Call, error) {
	unlock := s.locks.Lock(callID)
	defer unlock()

	c, err := s.GetCall(ctx, tenantID, callID)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = s.clock().UTC()
	if err := s.calls.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) SetSatisfaction(ctx context.Context, tenantID, callID string, score float64) (*calls.Call, error) {
	return s.UpdateCall(ctx, tenantID, callID, func(c *calls.Call) error {
		return c.SetSatisfactionScore(score)
	})
}

func (s *Service) MarkResolution(ctx context.Context, tenantID, callID string, achieved bool) (*calls.Call, error) {
	return s.UpdateCall(ctx, tenantID, callID, func(c *calls.Call) error {
		c.MarkResolution(achieved)
		return nil
	})
}

// Session returns a snapshot of a live session owned by tenantID.
func (s *Service) Session(ctx context.Context, tenantID, sessionID string) (*session.Session, error) {
	snap, err := s.sessions.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if snap.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, sessionID)
	}
	return snap, nil
}

// SessionDo applies fn to a live session owned by tenantID.
func (s *Service) SessionDo(ctx context.Context, tenantID, sessionID string, fn func(*session.Session)) (*session.Session, error) {
	if _, err := s.Session(ctx, tenantID, sessionID); err != nil {
		return nil, err
	}
	return s.sessions.Do(ctx, sessionID, fn)
}

// LiveSessions snapshots the live sessions of one tenant. An empty tenantID
// returns every session.
func (s *Service) LiveSessions(ctx context.Context, tenantID string) []*session.Session {
	all := s.sessions.List(ctx)
	if tenantID == "" {
		return all
	}
	out := make([]*session.Session, 0, len(all))
	for _, snap := range all {
		if snap.TenantID == tenantID {
			out = append(out, snap)
		}
	}
	return out
}

func (s *Service) release(ctx context.Context, tenantID string) {
	if err := s.limiter.Release(ctx, tenantID); err != nil {
		s.log.Warn("release session slot failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.sink.Publish(ctx, e); err != nil {
		s.log.Warn("event publish failed", zap.String("call_id", e.CallID), zap.Error(err))
	}
}
