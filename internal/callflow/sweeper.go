package callflow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"ai-hotline/internal/calls"
	"ai-hotline/internal/session"
	"ai-hotline/pkg/metrics"
)

const idleErrorMessage = "caller idle"

// SweepResult counts the actions of one sweep.
type SweepResult struct {
	Ended int
	Idled int
}

// Sweep applies the health policy to every live session:
//   - ERROR ends the call as failed with the last error
//   - expired ends the call as failed
//   - idle records an error, so three idle sweeps escalate to ERROR
func (s *Service) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	for _, snap := range s.sessions.List(ctx) {
		switch {
		case snap.State == session.StateError:
			if s.sweepEnd(ctx, snap, calls.Failed(snap.LastError), "error") {
				res.Ended++
			}
		case snap.IsExpired():
			if s.sweepEnd(ctx, snap, calls.Failed("session expired"), "expired") {
				res.Ended++
			}
		case snap.IsIdle():
			idled := false
			_, err := s.sessions.Do(ctx, snap.ID, func(live *session.Session) {
				// Activity may have arrived since the snapshot.
				if live.IsIdle() && live.State != session.StateEnded {
					live.AddError(idleErrorMessage)
					idled = true
				}
			})
			if err != nil && !errors.Is(err, session.ErrNotFound) {
				s.log.Warn("sweep idle failed", zap.String("session_id", snap.ID), zap.Error(err))
			}
			if idled {
				metrics.SweepActions.WithLabelValues("idle").Inc()
				res.Idled++
			}
		}
	}
	return res
}

func (s *Service) sweepEnd(ctx context.Context, snap *session.Session, reason calls.EndReason, action string) bool {
	_, err := s.EndCall(ctx, snap.TenantID, snap.CallID, reason)
	if err != nil {
		if !errors.Is(err, calls.ErrCallAlreadyEnded) && !errors.Is(err, calls.ErrNotFound) {
			s.log.Warn("sweep end failed",
				zap.String("tenant_id", snap.TenantID),
				zap.String("call_id", snap.CallID),
				zap.String("action", action),
				zap.Error(err),
			)
		}
		return false
	}
	metrics.SweepActions.WithLabelValues(action).Inc()
	s.log.Info("sweep ended call",
		zap.String("tenant_id", snap.TenantID),
		zap.String("call_id", snap.CallID),
		zap.String("action", action),
	)
	return true
}

// RunSweeper sweeps every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			res := s.Sweep(ctx)
			if res.Ended > 0 || res.Idled > 0 {
				s.log.Debug("sweep", zap.Int("ended", res.Ended), zap.Int("idled", res.Idled))
			}
		}
	}
}
