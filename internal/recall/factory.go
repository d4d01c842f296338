package recall

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// NewIndex creates a Chroma-backed index when configured, otherwise in-memory.
func NewIndex(ctx context.Context, chromaURL, collection string, logger *zap.Logger) (Index, error) {
	if strings.TrimSpace(chromaURL) == "" {
		return NewInMemoryIndex(), nil
	}
	return NewChromaIndex(ctx, ChromaConfig{
		URL:        chromaURL,
		Collection: collection,
	}, logger)
}
