package telephony

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/twilio/twilio-go/client"
)

const twilioSignatureHeader = "X-Twilio-Signature"

// TwilioInboundForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
type TwilioInboundForm struct {
	CallSid     string
	AccountSid  string
	From        string
	To          string
	Direction   string
	CallStatus  string
	CallerName  string
	FromCountry string
	ToCountry   string
}

func ParseTwilioInboundCall(r *http.Request) (TwilioInboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundForm{}, err
	}
	return TwilioInboundForm{
		CallSid:     r.PostFormValue("CallSid"),
		AccountSid:  r.PostFormValue("AccountSid"),
		From:        strings.TrimSpace(r.PostFormValue("From")),
		To:          strings.TrimSpace(r.PostFormValue("To")),
		Direction:   r.PostFormValue("Direction"),
		CallStatus:  r.PostFormValue("CallStatus"),
		CallerName:  r.PostFormValue("CallerName"),
		FromCountry: r.PostFormValue("FromCountry"),
		ToCountry:   r.PostFormValue("ToCountry"),
	}, nil
}

func (f TwilioInboundForm) ToInboundCallRequest(tenantID string, occurredAt time.Time) InboundCallRequest {
	raw, _ := json.Marshal(f)
	return InboundCallRequest{
		TenantID:       tenantID,
		ProviderCallID: f.CallSid,
		From:           f.From,
		To:             f.To,
		CallerName:     f.CallerName,
		OccurredAt:     occurredAt,
		RawPayload:     string(raw),
	}
}

func ParseTwilioStatus(r *http.Request) (StatusUpdate, error) {
	if err := r.ParseForm(); err != nil {
		return StatusUpdate{}, err
	}
	d, _ := strconv.Atoi(r.PostFormValue("CallDuration"))
	return StatusUpdate{
		ProviderCallID: r.PostFormValue("CallSid"),
		To:             strings.TrimSpace(r.PostFormValue("To")),
		Status:         r.PostFormValue("CallStatus"),
		Duration:       d,
	}, nil
}

func ParseTwilioRecording(r *http.Request) (RecordingUpdate, error) {
	if err := r.ParseForm(); err != nil {
		return RecordingUpdate{}, err
	}
	return RecordingUpdate{
		ProviderCallID: r.PostFormValue("CallSid"),
		To:             strings.TrimSpace(r.PostFormValue("To")),
		RecordingURL:   r.PostFormValue("RecordingUrl"),
	}, nil
}

// SignatureValidator checks X-Twilio-Signature. A nil validator accepts everything.
type SignatureValidator struct {
	rv client.RequestValidator
}

func NewSignatureValidator(authToken string) *SignatureValidator {
	if authToken == "" {
		return nil
	}
	return &SignatureValidator{rv: client.NewRequestValidator(authToken)}
}

// Valid reports whether r carries a signature matching its URL and form.
// r.ParseForm must have been called.
func (v *SignatureValidator) Valid(r *http.Request) bool {
	if v == nil {
		return true
	}
	sig := r.Header.Get(twilioSignatureHeader)
	if sig == "" {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for k, vals := range r.PostForm {
		if len(vals) > 0 {
			params[k] = vals[0]
		}
	}
	return v.rv.Validate(requestURL(r), params, sig)
}

// requestURL rebuilds the public URL Twilio signed, honoring proxy headers.
func requestURL(r *http.Request) string {
	scheme := "https"
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	} else if r.TLS == nil {
		scheme = "http"
	}
	host := r.Host
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		host = h
	}
	return scheme + "://" + host + r.URL.RequestURI()
}
