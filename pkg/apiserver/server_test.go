package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/tmc/langchaingo/schema"

	"webrag/pkg/database"
	"webrag/pkg/vectorstore"
)

type fakeEmbedder struct{}

func embedText(text string) []float32 {
	var length, vowels float32
	for _, r := range text {
		length++
		switch r {
		case 'a', 'e', 'i', 'o', 'u', 'A', 'E', 'I', 'O', 'U':
			vowels++
		}
	}
	return []float32{length, vowels}
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = embedText(text)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return embedText(text), nil
}

func newTestIndex(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	db, err := database.NewDB(dir, "index.db")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	defer db.Close()

	if err := db.InsertDocument(&database.Document{ID: "doc-1", Source: "https://example.com", Title: "Example"}); err != nil {
		t.Fatalf("failed to insert document: %v", err)
	}

	store := vectorstore.New(db, &fakeEmbedder{})
	docs := []schema.Document{
		{PageContent: "gophers dig tunnels", Metadata: map[string]any{"doc_id": "doc-1", "chunk": 0, "start_index": 0}},
		{PageContent: "ships cross oceans", Metadata: map[string]any{"doc_id": "doc-1", "chunk": 1, "start_index": 20}},
	}
	if _, err := store.AddDocuments(context.Background(), docs); err != nil {
		t.Fatalf("failed to add documents: %v", err)
	}

	return filepath.Join(dir, "index.db")
}

func TestHandleChunks_ReturnsStoredChunks(t *testing.T) {
	server := New(newTestIndex(t), &fakeEmbedder{})

	req := httptest.NewRequest(http.MethodGet, "/api/chunks", nil)
	w := httptest.NewRecorder()
	server.handleChunks(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Success bool             `json:"success"`
		Data    []database.Chunk `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !body.Success {
		t.Fatalf("expected success response")
	}
	if len(body.Data) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(body.Data))
	}
}

func TestHandleDocuments_ReturnsDocuments(t *testing.T) {
	server := New(newTestIndex(t), &fakeEmbedder{})

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	w := httptest.NewRecorder()
	server.handleDocuments(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Result().StatusCode)
	}

	var body struct {
		Data []database.Document `json:"data"`
	}
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].Source != "https://example.com" {
		t.Fatalf("unexpected documents: %+v", body.Data)
	}
}

func TestHandleSearch_RanksResults(t *testing.T) {
	server := New(newTestIndex(t), &fakeEmbedder{})

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=gophers+dig+tunnels&k=1", nil)
	w := httptest.NewRecorder()
	server.handleSearch(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Result().StatusCode)
	}

	var body struct {
		Data []schema.Document `json:"data"`
	}
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Data) != 1 {
		t.Fatalf("expected 1 result, got %d", len(body.Data))
	}
	if body.Data[0].PageContent != "gophers dig tunnels" {
		t.Fatalf("expected best match first, got %q", body.Data[0].PageContent)
	}
}

func TestHandleSearch_RequiresQuery(t *testing.T) {
	server := New(newTestIndex(t), &fakeEmbedder{})

	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	w := httptest.NewRecorder()
	server.handleSearch(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing query, got %d", w.Result().StatusCode)
	}
}

func TestHandleSearch_UnavailableWithoutEmbedder(t *testing.T) {
	server := New(newTestIndex(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=anything", nil)
	w := httptest.NewRecorder()
	server.handleSearch(w, req)

	if w.Result().StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without embedder, got %d", w.Result().StatusCode)
	}
}

func TestHandleChunks_WrongMethod(t *testing.T) {
	server := New(newTestIndex(t), &fakeEmbedder{})

	req := httptest.NewRequest(http.MethodPost, "/api/chunks", nil)
	w := httptest.NewRecorder()
	server.handleChunks(w, req)

	if w.Result().StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST, got %d", w.Result().StatusCode)
	}
}
