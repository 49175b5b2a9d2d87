package telephony

import (
	"strings"
	"testing"
)

func TestRenderTwiMLReject(t *testing.T) {
	xml, err := RenderTwiML(InboundCallResult{TenantID: "t", Action: InboundCallActionReject, Reason: "busy"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if want := `<Reject reason="busy">`; !strings.Contains(xml, want) {
		t.Fatalf("expected %q in xml: %s", want, xml)
	}
}

func TestRenderTwiMLStream(t *testing.T) {
	xml, err := RenderTwiML(InboundCallResult{
		TenantID:  "t",
		CallID:    "c1",
		SessionID: "s1",
		Action:    InboundCallActionStream,
		StreamURL: "wss://media.example.com/stream",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		"<Connect>",
		`<Stream url="wss://media.example.com/stream">`,
		`<Parameter name="session_id" value="s1"></Parameter>`,
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
}

func TestRenderTwiMLStreamRequiresURL(t *testing.T) {
	if _, err := RenderTwiML(InboundCallResult{TenantID: "t", Action: InboundCallActionStream}); err == nil {
		t.Fatalf("expected error")
	}
}
