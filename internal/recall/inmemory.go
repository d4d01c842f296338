package recall

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemoryIndex is a lexical-overlap index for local/dev use. Real deployments
// point at a Chroma server, whose embedding model defines similarity; this
// stand-in only needs to rank obviously related notes above unrelated ones.
type InMemoryIndex struct {
	mu        sync.RWMutex
	fragments []Fragment
}

func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{}
}

func (idx *InMemoryIndex) Add(_ context.Context, fragment Fragment) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.fragments = append(idx.fragments, fragment)
	return nil
}

func (idx *InMemoryIndex) Query(_ context.Context, text string, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	queryTokens := tokenize(text)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	matches := make([]Match, 0, len(idx.fragments))
	for _, f := range idx.fragments {
		score := overlap(queryTokens, tokenize(f.Text))
		if score <= 0 {
			continue
		}
		matches = append(matches, Match{Fragment: f, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (idx *InMemoryIndex) Close() error { return nil }

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) < 2 {
			continue
		}
		tokens[w] = struct{}{}
	}
	return tokens
}

func overlap(query, doc map[string]struct{}) float64 {
	if len(doc) == 0 {
		return 0
	}
	shared := 0
	for w := range query {
		if _, ok := doc[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(query))
}
