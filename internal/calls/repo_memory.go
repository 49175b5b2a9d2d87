package calls

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory repository useful for tests and local runs.
type MemoryRepo struct {
	mu    sync.RWMutex
	calls map[string]*Call
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: map[string]*Call{}}
}

func (r *MemoryRepo) Load(ctx context.Context, id string) (*Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[id]
	if !ok {
		return nil, fmt.Errorf("%w: call %s", ErrNotFound, id)
	}
	return c.Clone(), nil
}

func (r *MemoryRepo) Create(ctx context.Context, c *Call) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidCall)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.ID]; ok {
		return fmt.Errorf("%w: %s", ErrCallExists, c.ID)
	}
	r.calls[c.ID] = c.Clone()
	return nil
}

// Save refuses to overwrite an ended call with a snapshot that is still open.
func (r *MemoryRepo) Save(ctx context.Context, c *Call) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidCall)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.calls[c.ID]; ok && prev.Status.Terminal() && !c.Status.Terminal() {
		return fmt.Errorf("%w: call %s already %s", ErrStaleSnapshot, c.ID, prev.Status)
	}
	r.calls[c.ID] = c.Clone()
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, f ListFilter) ([]Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if f.matches(c) {
			out = append(out, *c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
