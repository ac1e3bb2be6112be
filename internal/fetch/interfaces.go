package fetch

import (
	"context"

	"github.com/tubestitch/tubestitch/internal/model"
)

// AttemptOptions is the opaque per-attempt configuration handed to the
// fetch capability. Rotating it between attempts (different request
// identity, possibly a fallback format) reduces the chance of the origin
// blocking repeated requests; the coordinator does not interpret the
// values beyond choosing them.
type AttemptOptions struct {
	// Format is the format specifier passed through to the capability.
	Format string

	// UserAgent identifies the request for this attempt.
	UserAgent string

	// Attempt is the zero-based attempt counter for this item.
	Attempt int
}

// Fetcher defines the external media-fetch capability: given an item and
// per-attempt options it returns a local file path or a typed failure.
type Fetcher interface {
	Fetch(ctx context.Context, item model.Item, opts AttemptOptions) (string, error)
}
