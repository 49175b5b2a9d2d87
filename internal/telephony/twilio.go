package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"ai-hotline/internal/callflow"
	"ai-hotline/internal/calls"
	"ai-hotline/internal/session"
)

const (
	// ContextCarrierStatus records the final carrier status on a call ended by the carrier.
	ContextCarrierStatus = "carrier_status"
	metaProvider         = "provider"
	metaProviderCallID   = "provider_call_id"
)

// CallFlow is the subset of the call-flow service the carrier edge drives.
type CallFlow interface {
	CreateCall(ctx context.Context, in calls.NewCallInput) (*calls.Call, error)
	GetCall(ctx context.Context, tenantID, callID string) (*calls.Call, error)
	StartCall(ctx context.Context, tenantID, callID string) (*calls.Call, *session.Session, error)
	EndCall(ctx context.Context, tenantID, callID string, reason calls.EndReason) (*calls.Call, error)
	UpdateCall(ctx context.Context, tenantID, callID string, fn func(*calls.Call) error) (*calls.Call, error)
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// StreamURL receives call audio via <Connect><Stream>.
	StreamURL string

	// NumberTenants maps dialed numbers to tenants.
	NumberTenants map[string]string
}

// TwilioProvider turns Twilio voice callbacks into call-flow operations.
type TwilioProvider struct {
	flow      CallFlow
	rest      *twilio.RestClient
	streamURL string
	tenants   map[string]string
	log       *zap.Logger
}

func NewTwilioProvider(flow CallFlow, cfg TwilioConfig, log *zap.Logger) *TwilioProvider {
	if log == nil {
		log = zap.NewNop()
	}
	p := &TwilioProvider{
		flow:      flow,
		streamURL: cfg.StreamURL,
		tenants:   map[string]string{},
		log:       log.Named("twilio"),
	}
	for number, tenant := range cfg.NumberTenants {
		if n, err := calls.NormalizePhoneNumber(number); err == nil {
			p.tenants[n] = tenant
		}
	}
	if cfg.AccountSID != "" && cfg.AuthToken != "" {
		p.rest = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		})
	}
	return p
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	if p.flow == nil {
		return ErrNotConfigured
	}
	return nil
}

// ResolveTenant maps the dialed number to its tenant.
func (p *TwilioProvider) ResolveTenant(to string) (string, error) {
	n, err := calls.NormalizePhoneNumber(to)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownNumber, to)
	}
	tenant, ok := p.tenants[n]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownNumber, to)
	}
	return tenant, nil
}

// CallIDFor derives the internal call id from the Twilio CallSid, so webhook
// retries and later callbacks address the same call.
func CallIDFor(providerCallID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("twilio:"+providerCallID)).String()
}

func (p *TwilioProvider) HandleInboundCall(ctx context.Context, req InboundCallRequest) (InboundCallResult, error) {
	if p.flow == nil {
		return InboundCallResult{}, ErrNotConfigured
	}
	if p.streamURL == "" {
		return InboundCallResult{}, fmt.Errorf("%w: media stream url", ErrNotConfigured)
	}
	res := InboundCallResult{TenantID: req.TenantID, CallID: CallIDFor(req.ProviderCallID)}

	// A retried webhook finds the call already running.
	if c, err := p.flow.GetCall(ctx, req.TenantID, res.CallID); err == nil {
		return p.existingCall(res, c)
	} else if !errors.Is(err, calls.ErrNotFound) {
		return InboundCallResult{}, err
	}

	c, err := p.flow.CreateCall(ctx, calls.NewCallInput{
		ID:          res.CallID,
		TenantID:    req.TenantID,
		PhoneNumber: req.From,
		CallerName:  req.CallerName,
		Direction:   calls.DirectionInbound,
		Metadata: map[string]any{
			metaProvider:       p.Name(),
			metaProviderCallID: req.ProviderCallID,
			"dialed_number":    req.To,
		},
	})
	if errors.Is(err, calls.ErrInvalidPhoneNumber) {
		res.Action, res.Reason = InboundCallActionReject, "invalid caller number"
		return res, nil
	}
	if errors.Is(err, calls.ErrCallExists) {
		// A concurrent delivery of the same CallSid won the insert.
		existing, getErr := p.flow.GetCall(ctx, req.TenantID, res.CallID)
		if getErr != nil {
			return InboundCallResult{}, getErr
		}
		return p.existingCall(res, existing)
	}
	if err != nil {
		return InboundCallResult{}, err
	}

	_, sess, err := p.flow.StartCall(ctx, req.TenantID, c.ID)
	if errors.Is(err, callflow.ErrCapacity) {
		if _, endErr := p.flow.EndCall(ctx, req.TenantID, c.ID, calls.Cancelled("tenant at capacity")); endErr != nil {
			p.log.Warn("cancel rejected call failed", zap.String("call_id", c.ID), zap.Error(endErr))
		}
		res.Action, res.Reason = InboundCallActionReject, "busy"
		return res, nil
	}
	if err != nil {
		return InboundCallResult{}, err
	}

	res.Action, res.SessionID, res.StreamURL = InboundCallActionStream, sess.ID, p.streamURL
	return res, nil
}

// existingCall answers a repeated inbound webhook. A call still being set
// up by another delivery is reported as ErrCallInFlight so the carrier
// retries once it is streaming.
func (p *TwilioProvider) existingCall(res InboundCallResult, c *calls.Call) (InboundCallResult, error) {
	switch {
	case c.IsActive() && c.SessionID != "":
		res.Action, res.SessionID, res.StreamURL = InboundCallActionStream, c.SessionID, p.streamURL
		return res, nil
	case c.Status.Terminal():
		res.Action, res.Reason = InboundCallActionHangup, "call already ended"
		return res, nil
	default:
		return InboundCallResult{}, fmt.Errorf("%w: %s", ErrCallInFlight, c.ID)
	}
}

// carrierEndNote turns a terminal Twilio CallStatus into end-reason text.
// Non-terminal statuses report false.
func carrierEndNote(status string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed":
		return "completed", true
	case "failed":
		return "error: carrier reported failed", true
	case "busy", "no-answer", "canceled":
		return "cancelled: " + status, true
	default:
		return "", false
	}
}

func (p *TwilioProvider) HandleStatus(ctx context.Context, upd StatusUpdate) error {
	if p.flow == nil {
		return ErrNotConfigured
	}
	note, terminal := carrierEndNote(upd.Status)
	if !terminal {
		return nil
	}
	tenant, err := p.ResolveTenant(upd.To)
	if err != nil {
		return err
	}
	callID := CallIDFor(upd.ProviderCallID)
	_, err = p.flow.UpdateCall(ctx, tenant, callID, func(c *calls.Call) error {
		if c.Status.Terminal() {
			return calls.ErrCallAlreadyEnded
		}
		c.SetContext(ContextCarrierStatus, upd.Status)
		return nil
	})
	if errors.Is(err, calls.ErrCallAlreadyEnded) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = p.flow.EndCall(ctx, tenant, callID, calls.ParseEndReason(note))
	if errors.Is(err, calls.ErrCallAlreadyEnded) {
		return nil
	}
	return err
}

func (p *TwilioProvider) HandleRecording(ctx context.Context, rec RecordingUpdate) error {
	if p.flow == nil {
		return ErrNotConfigured
	}
	tenant, err := p.ResolveTenant(rec.To)
	if err != nil {
		return err
	}
	_, err = p.flow.UpdateCall(ctx, tenant, CallIDFor(rec.ProviderCallID), func(c *calls.Call) error {
		c.AddAudioFile(rec.RecordingURL)
		return nil
	})
	return err
}

// Hangup completes the carrier leg of a call.
func (p *TwilioProvider) Hangup(ctx context.Context, providerCallID string) error {
	if p.rest == nil {
		return fmt.Errorf("%w: rest credentials", ErrNotConfigured)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := p.rest.Api.UpdateCall(providerCallID, params); err != nil {
		return fmt.Errorf("telephony: twilio hangup %s: %w", providerCallID, err)
	}
	return nil
}
