package recall

import "context"

// Fragment is an immutable stored summary note indexed for similarity search.
type Fragment struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// Match is a retrieved fragment with its similarity score (higher = more similar).
type Match struct {
	Fragment
	Score float64 `json:"score"`
}

// Index stores summary fragments and retrieves the most similar ones for a query
// text. The index is append-only: fragments are never updated or deleted.
type Index interface {
	Add(ctx context.Context, fragment Fragment) error
	Query(ctx context.Context, text string, k int) ([]Match, error)
	Close() error
}
