package journal

import (
	"context"
	"encoding/json"
	"time"

	xerrors "VaultChain/internal/errors"
)

// Status reflects the outcome of a chain run. Runs are synchronous, so a
// record is written once with its final status.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is the journal record of one chain submission.
type Run struct {
	ID        string          `json:"id"`
	Submitter string          `json:"submitter"`
	Steps     json.RawMessage `json:"steps"`
	Results   []string        `json:"results,omitempty"`
	Status    Status          `json:"status"`
	ErrorCode string          `json:"error_code,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// Stats summarises journalled runs.
type Stats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

var (
	ErrRunNotFound = xerrors.New(CodeRunNotFound, "chain run not found")
	ErrRunConflict = xerrors.New(xerrors.CodeConflict, "chain run already recorded")
)

const (
	CodeRunNotFound xerrors.Code = "JOURNAL_RUN_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeRunNotFound, xerrors.Attributes{
		Message:  "chain run not found",
		Severity: xerrors.SeverityInfo,
	})
}

// Store persists chain run records. Implementations must be safe for
// concurrent use.
type Store interface {
	Record(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, opts ListOptions) ([]*Run, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

// ListOptions filter journal queries.
type ListOptions struct {
	Statuses []Status
	Since    time.Time
	Limit    int
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithStatuses restricts results to the given statuses.
func WithStatuses(statuses ...Status) ListOption {
	return func(o *ListOptions) { o.Statuses = append(o.Statuses, statuses...) }
}

// WithSince restricts results to runs recorded at or after ts.
func WithSince(ts time.Time) ListOption {
	return func(o *ListOptions) { o.Since = ts }
}

// WithLimit caps the number of returned runs.
func WithLimit(limit int) ListOption {
	return func(o *ListOptions) { o.Limit = limit }
}

// BuildListOptions folds options into a ListOptions value.
func BuildListOptions(opts []ListOption) ListOptions {
	var options ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func (o ListOptions) matches(run *Run) bool {
	if len(o.Statuses) > 0 {
		found := false
		for _, status := range o.Statuses {
			if run.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !o.Since.IsZero() && run.CreatedAt < o.Since.Unix() {
		return false
	}
	return true
}
