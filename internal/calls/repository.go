package calls

import (
	"context"
	"time"
)

// Repository persists full call snapshots. Create inserts and fails with
// ErrCallExists on a duplicate id; Save overwrites. There is no partial
// patch contract.
type Repository interface {
	Load(ctx context.Context, id string) (*Call, error)
	Create(ctx context.Context, c *Call) error
	Save(ctx context.Context, c *Call) error
	List(ctx context.Context, f ListFilter) ([]Call, error)
}

// ListFilter scopes a listing to one tenant. Zero times are unbounded.
type ListFilter struct {
	TenantID string
	Status   Status
	From     time.Time
	To       time.Time
	Limit    int
}

func (f ListFilter) matches(c *Call) bool {
	if c.TenantID != f.TenantID {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && c.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !c.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// Clone returns a deep copy; repositories never share slices with callers.
func (c *Call) Clone() *Call {
	if c == nil {
		return nil
	}
	out := *c
	out.StartedAt = cloneTime(c.StartedAt)
	out.EndedAt = cloneTime(c.EndedAt)
	if c.DurationSeconds != nil {
		d := *c.DurationSeconds
		out.DurationSeconds = &d
	}
	if c.SatisfactionScore != nil {
		s := *c.SatisfactionScore
		out.SatisfactionScore = &s
	}
	if c.ResolutionAchieved != nil {
		r := *c.ResolutionAchieved
		out.ResolutionAchieved = &r
	}
	out.AudioFiles = append([]string{}, c.AudioFiles...)
	out.Transcript = append([]TranscriptSegment{}, c.Transcript...)
	out.LLMInteractions = append([]LLMInteraction{}, c.LLMInteractions...)
	out.Errors = append([]string{}, c.Errors...)
	out.Automations = append([]string{}, c.Automations...)
	out.ContextData = cloneMap(c.ContextData)
	out.Metadata = cloneMap(c.Metadata)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
