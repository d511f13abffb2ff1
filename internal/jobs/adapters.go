package jobs

import (
	"context"
	"time"

	"github.com/local/sheetpack/internal/store"
)

// Status is the job lifecycle record as the runner sees it. It mirrors
// store.Status so the runner does not import the store directly.
type Status struct {
	Status   string
	Progress int
	Message  string
	Start    *time.Time
	End      *time.Time
	Metadata map[string]interface{}
}

type redisStatusAdapter struct {
	s *store.RedisStatus
}

// NewStatusAdapter wraps the Redis status store in the runner's interface.
func NewStatusAdapter(s *store.RedisStatus) StatusStore {
	return &redisStatusAdapter{s: s}
}

func (a *redisStatusAdapter) Set(ctx context.Context, jobID string, st Status) error {
	// Metadata passes through as-is: a nil map leaves the stored metadata
	// field untouched, which the progress monitor relies on.
	return a.s.Set(ctx, jobID, store.Status{
		Status:   st.Status,
		Progress: st.Progress,
		Message:  st.Message,
		Start:    st.Start,
		End:      st.End,
		Metadata: st.Metadata,
	})
}

func (a *redisStatusAdapter) Get(ctx context.Context, jobID string) (Status, bool, error) {
	st, ok, err := a.s.Get(ctx, jobID)
	if err != nil || !ok {
		return Status{}, ok, err
	}
	return Status{
		Status:   st.Status,
		Progress: st.Progress,
		Message:  st.Message,
		Start:    st.Start,
		End:      st.End,
		Metadata: st.Metadata,
	}, true, nil
}
