package events

import (
	"context"
	"encoding/json"

	"ai-hotline/internal/audit"
)

// AuditSink appends session and call outcome events to the audit trail.
// call_started is not audited; the call row already records it.
type AuditSink struct {
	svc *audit.Service
}

func NewAuditSink(svc *audit.Service) *AuditSink { return &AuditSink{svc: svc} }

func (s *AuditSink) Publish(ctx context.Context, e Event) error {
	var typ audit.EventType
	switch e.Type {
	case TypeStateChange:
		typ = audit.EventTypeSessionStateChange
	case TypeError:
		typ = audit.EventTypeSessionError
	case TypeSessionEnded:
		typ = audit.EventTypeSessionEnded
	case TypeCallEnded:
		typ = audit.EventTypeCallEnded
	default:
		return nil
	}

	meta, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := e.Message
	if msg == "" {
		msg = e.Reason
	}
	return s.svc.Append(ctx, audit.Event{
		TenantID:  e.TenantID,
		Type:      typ,
		CallID:    e.CallID,
		SessionID: e.SessionID,
		Message:   msg,
		Metadata:  string(meta),
		CreatedAt: e.OccurredAt,
	})
}
