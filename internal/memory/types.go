package memory

import "context"

// Store persists the single latest memory note per caller identity.
//
// Writes are upserts: one row per identity, last write wins, no history.
type Store interface {
	Get(ctx context.Context, identity string) (string, bool, error)
	Upsert(ctx context.Context, identity, note string) error
	Close() error
}
