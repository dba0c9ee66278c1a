package media

import (
	"context"
	"time"
)

// Resolver returns candidate direct media URLs for a post. Implementations are
// not required to enforce their own timeout.
type Resolver interface {
	Resolve(ctx context.Context, postURL string) ([]string, error)
}

// Prober reports the Content-Type of a remote resource without fetching its body.
type Prober interface {
	ContentType(ctx context.Context, rawURL string) (string, error)
}

// RecordStore persists fetch audit records.
type RecordStore interface {
	SaveFetch(ctx context.Context, rec FetchRecord) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
