package memory

import (
	"context"
	"strings"
)

// NewStore picks the note-store backend: postgres when DATABASE_URL is set,
// otherwise the in-process map. Both satisfy Store, so callers never branch.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if url := strings.TrimSpace(databaseURL); url != "" {
		return NewPostgresStore(ctx, url)
	}
	return NewInMemoryStore(), nil
}
