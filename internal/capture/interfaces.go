package capture

import (
	"context"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces ledger IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// ArchiveStore keeps raw snapshots of fetched pages and returns a URI.
type ArchiveStore interface {
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
}

// Ledger records successful publishes.
type Ledger interface {
	Record(ctx context.Context, entry LedgerEntry) error
}

// Notifier announces successful publishes to downstream consumers.
type Notifier interface {
	Notify(ctx context.Context, evt PublishedEvent) (string, error)
}

// Publisher commits a set of files as one logical change.
type Publisher interface {
	Publish(ctx context.Context, files []CommitFile, message string) (CommitResult, error)
}

// TagSuggester proposes tags for a link.
type TagSuggester interface {
	Suggest(ctx context.Context, title, url, description string) ([]string, error)
	Vocabulary() []string
}
