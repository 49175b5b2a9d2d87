package telephony

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ai-hotline/internal/calls"
	"ai-hotline/internal/events"
)

const hangupTimeout = 10 * time.Second

// HangupSink hangs up the carrier leg when a call is ended on our side
// (API, sweeper). Calls ended by the carrier itself are skipped.
type HangupSink struct {
	provider TelephonyProvider
	load     func(ctx context.Context, tenantID, callID string) (*calls.Call, error)
	log      *zap.Logger

	// async runs the hangup; tests replace it to run inline.
	async func(func())
}

func NewHangupSink(p TelephonyProvider, load func(ctx context.Context, tenantID, callID string) (*calls.Call, error), log *zap.Logger) *HangupSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &HangupSink{
		provider: p,
		load:     load,
		log:      log.Named("hangup"),
		async:    func(f func()) { go f() },
	}
}

func (s *HangupSink) Publish(ctx context.Context, e events.Event) error {
	if e.Type != events.TypeCallEnded {
		return nil
	}
	c, err := s.load(ctx, e.TenantID, e.CallID)
	if err != nil {
		return err
	}
	if c.Metadata[metaProvider] != s.provider.Name() {
		return nil
	}
	// Never-started calls were rejected in TwiML; there is no leg to drop.
	if c.StartedAt == nil || c.Context(ContextCarrierStatus, nil) != nil {
		return nil
	}
	sid, _ := c.Metadata[metaProviderCallID].(string)
	if sid == "" {
		return nil
	}

	// Publish runs under the call lock; the carrier round trip must not.
	s.async(func() {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hangupTimeout)
		defer cancel()
		if err := s.provider.Hangup(hctx, sid); err != nil {
			s.log.Warn("carrier hangup failed", zap.String("call_id", e.CallID), zap.Error(err))
		}
	})
	return nil
}
