package admission

import (
	"context"
	"time"
)

// Controller gates per-user processing: at most one admitted pipeline
// per user within the configured window.
type Controller interface {
	TryAdmit(id string, now time.Time) Decision
	Complete(id string, now time.Time)
	StartJanitor(ctx context.Context)
}

// Decision is the outcome of an admission attempt. It knows nothing
// about HTTP or messaging, it is just the verdict.
type Decision struct {
	Admitted bool
	// RetryAfter is how long the caller should tell the user to wait
	// when rejected. Zero when admitted.
	RetryAfter time.Duration
}
