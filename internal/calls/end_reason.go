package calls

import "strings"

type EndKind int

const (
	EndCompleted EndKind = iota
	EndFailed
	EndCancelled
)

func (k EndKind) String() string {
	switch k {
	case EndFailed:
		return "failed"
	case EndCancelled:
		return "cancelled"
	default:
		return "completed"
	}
}

// EndReason says how a call ended. The zero value is Completed.
type EndReason struct {
	kind EndKind
	text string
}

func Completed() EndReason { return EndReason{kind: EndCompleted} }

// Failed ends the call as failed; cause is appended to the call's errors.
func Failed(cause string) EndReason { return EndReason{kind: EndFailed, text: cause} }

func Cancelled(note string) EndReason { return EndReason{kind: EndCancelled, text: note} }

func (r EndReason) Kind() EndKind { return r.kind }

// Cause is the failure cause or cancellation note. Empty for Completed.
func (r EndReason) Cause() string { return r.text }

func (r EndReason) Status() Status {
	switch r.kind {
	case EndFailed:
		return StatusFailed
	case EndCancelled:
		return StatusCancelled
	default:
		return StatusCompleted
	}
}

func (r EndReason) String() string {
	if r.text == "" {
		return r.kind.String()
	}
	return r.kind.String() + ": " + r.text
}

// ParseEndReason maps free text arriving from an edge (HTTP body, carrier
// callback) to an EndReason. "error" is checked before "cancel", both
// case-insensitive; anything else is Completed.
func ParseEndReason(text string) EndReason {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "error"):
		return Failed(text)
	case strings.Contains(lower, "cancel"):
		return Cancelled(text)
	default:
		return Completed()
	}
}
