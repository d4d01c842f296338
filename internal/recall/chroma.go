package recall

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const defaultCollection = "conversation_memory"

// ChromaConfig holds configuration for the Chroma index.
type ChromaConfig struct {
	// URL is the Chroma server URL (e.g. "http://localhost:8000").
	URL string

	// Collection defaults to "conversation_memory" when empty.
	Collection string
}

// ChromaIndex implements Index against Chroma's REST API. Documents are stored
// and queried as raw text; the server-side embedding function defines similarity.
type ChromaIndex struct {
	baseURL      string
	collection   string
	collectionID string
	httpClient   *http.Client
	logger       *zap.Logger
}

func NewChromaIndex(ctx context.Context, cfg ChromaConfig, logger *zap.Logger) (*ChromaIndex, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("chroma URL is required")
	}
	collection := strings.TrimSpace(cfg.Collection)
	if collection == "" {
		collection = defaultCollection
	}

	idx := &ChromaIndex{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}

	collectionID, err := idx.getOrCreateCollection(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting or creating collection %q: %w", collection, err)
	}
	idx.collectionID = collectionID

	logger.Info("connected to chroma",
		zap.String("url", cfg.URL),
		zap.String("collection", collection),
		zap.String("collection_id", collectionID),
	)

	return idx, nil
}

type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (idx *ChromaIndex) collectionsURL() string {
	return idx.baseURL + "/api/v2/tenants/default_tenant/databases/default_database/collections"
}

func (idx *ChromaIndex) getOrCreateCollection(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, idx.collectionsURL()+"/"+idx.collection, nil)
	if err != nil {
		return "", fmt.Errorf("creating get request: %w", err)
	}

	resp, err := idx.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending get request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var collection chromaCollection
		if err := json.NewDecoder(resp.Body).Decode(&collection); err != nil {
			return "", fmt.Errorf("decoding collection response: %w", err)
		}
		return collection.ID, nil
	}

	body, err := json.Marshal(map[string]any{
		"name":          idx.collection,
		"get_or_create": true,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling create request: %w", err)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, idx.collectionsURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err = idx.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending create request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("create collection: status %d: %s", resp.StatusCode, string(raw))
	}

	var collection chromaCollection
	if err := json.NewDecoder(resp.Body).Decode(&collection); err != nil {
		return "", fmt.Errorf("decoding create response: %w", err)
	}
	return collection.ID, nil
}

func (idx *ChromaIndex) Add(ctx context.Context, fragment Fragment) error {
	payload := map[string]any{
		"ids":       []string{fragment.ID},
		"documents": []string{fragment.Text},
		"metadatas": []map[string]any{{"session_id": fragment.SessionID}},
	}

	if err := idx.post(ctx, "/add", payload, nil); err != nil {
		return fmt.Errorf("chroma add: %w", err)
	}

	idx.logger.Debug("stored memory fragment",
		zap.String("id", fragment.ID),
		zap.String("session_id", fragment.SessionID),
	)
	return nil
}

type chromaQueryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float64        `json:"distances"`
}

func (idx *ChromaIndex) Query(ctx context.Context, text string, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	payload := map[string]any{
		"query_texts": []string{text},
		"n_results":   k,
		"include":     []string{"documents", "metadatas", "distances"},
	}

	var result chromaQueryResponse
	if err := idx.post(ctx, "/query", payload, &result); err != nil {
		return nil, fmt.Errorf("chroma query: %w", err)
	}
	if len(result.IDs) == 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(result.IDs[0]))
	for i, id := range result.IDs[0] {
		m := Match{Fragment: Fragment{ID: id}}
		if len(result.Documents) > 0 && i < len(result.Documents[0]) {
			m.Text = result.Documents[0][i]
		}
		if len(result.Metadatas) > 0 && i < len(result.Metadatas[0]) {
			if sid, ok := result.Metadatas[0][i]["session_id"].(string); ok {
				m.SessionID = sid
			}
		}
		if len(result.Distances) > 0 && i < len(result.Distances[0]) {
			// Chroma returns distances; invert so that higher means more similar.
			m.Score = 1.0 / (1.0 + result.Distances[0][i])
		}
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (idx *ChromaIndex) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := idx.collectionsURL() + "/" + idx.collectionID + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := idx.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (idx *ChromaIndex) Close() error {
	idx.httpClient.CloseIdleConnections()
	return nil
}
