package reporting

import (
	"context"
	"errors"

	"ai-hotline/internal/calls"
	"ai-hotline/internal/session"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// CallLister is satisfied by calls.Repository; it must filter by tenant.
type CallLister interface {
	List(ctx context.Context, f calls.ListFilter) ([]calls.Call, error)
}

// SessionLister snapshots live sessions of one tenant.
type SessionLister interface {
	LiveSessions(ctx context.Context, tenantID string) []*session.Session
}

type Service struct {
	calls    CallLister
	sessions SessionLister
}

func NewService(c CallLister, s SessionLister) *Service {
	return &Service{calls: c, sessions: s}
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.TenantID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.calls == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.calls.List(ctx, calls.ListFilter{TenantID: req.TenantID, From: req.Range.From, To: req.Range.To})
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{TenantID: req.TenantID, Range: req.Range}
	var timed, satSum float64
	var latencySum, latencyN int
	for i := range rows {
		c := &rows[i]
		out.TotalCalls++
		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusCancelled:
			out.CancelledCalls++
		default:
			out.ActiveCalls++
		}
		if c.Direction == calls.DirectionOutbound {
			out.OutboundCalls++
		} else {
			out.InboundCalls++
		}
		if c.DurationSeconds != nil {
			out.TotalDurationSeconds += *c.DurationSeconds
			timed++
		}
		if len(c.AudioFiles) > 0 {
			out.RecordedCalls++
		}
		if c.SatisfactionScore != nil {
			out.RatedCalls++
			satSum += *c.SatisfactionScore
		}
		if c.ResolutionAchieved != nil && *c.ResolutionAchieved {
			out.ResolvedCalls++
		}
		out.LLMInteractions += len(c.LLMInteractions)
		for _, rec := range c.LLMInteractions {
			if rec.LatencyMs != nil {
				latencySum += *rec.LatencyMs
				latencyN++
			}
		}
	}
	if timed > 0 {
		out.AverageDurationSeconds = int(float64(out.TotalDurationSeconds) / timed)
	}
	if out.RatedCalls > 0 {
		avg := satSum / float64(out.RatedCalls)
		out.AverageSatisfaction = &avg
	}
	if ended := out.TotalCalls - out.ActiveCalls; ended > 0 {
		out.ResolutionRate = float64(out.ResolvedCalls) / float64(ended)
	}
	if latencyN > 0 {
		out.AverageLLMLatencyMs = latencySum / latencyN
	}
	return out, nil
}

func (s *Service) SessionsSummary(ctx context.Context, tenantID string) (SessionsSummary, error) {
	if tenantID == "" {
		return SessionsSummary{}, ErrInvalidRequest
	}
	if s.sessions == nil {
		return SessionsSummary{}, errors.New("reporting: sessions not configured")
	}

	out := SessionsSummary{TenantID: tenantID, ByState: map[string]int{}}
	for _, snap := range s.sessions.LiveSessions(ctx, tenantID) {
		out.Live++
		out.ByState[string(snap.State)]++
		if snap.State == session.StateError {
			out.InError++
		}
		if snap.IsRecording {
			out.Recording++
		}
		if snap.IsPlaying {
			out.Playing++
		}
		out.PendingRequests += len(snap.PendingSTT) + len(snap.PendingLLM) + len(snap.PendingTTS)
		out.TotalErrors += snap.ErrorCount
	}
	return out, nil
}
