package vectorstore

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"webrag/pkg/database"
	"webrag/pkg/similarity"
)

// SQLite is a vector store over the index database: chunks are embedded on
// insert and ranked by cosine similarity on search. It implements
// vectorstores.VectorStore so it can back a retriever.
type SQLite struct {
	db         *database.DB
	embedder   embeddings.Embedder
	batchSize  int
	maxWorkers int
	progress   func(completed, total int)
}

type Option func(*SQLite)

// WithBatchSize sets how many chunk texts are embedded per provider call.
func WithBatchSize(n int) Option {
	return func(s *SQLite) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithMaxWorkers bounds the number of concurrent embedding calls.
func WithMaxWorkers(n int) Option {
	return func(s *SQLite) {
		if n > 0 {
			s.maxWorkers = n
		}
	}
}

// WithProgress registers a callback invoked as embedding batches complete.
func WithProgress(fn func(completed, total int)) Option {
	return func(s *SQLite) {
		s.progress = fn
	}
}

func New(db *database.DB, embedder embeddings.Embedder, opts ...Option) *SQLite {
	s := &SQLite{
		db:         db,
		embedder:   embedder,
		batchSize:  16,
		maxWorkers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type embedJob struct {
	index int
	texts []string
}

type embedResult struct {
	index   int
	vectors [][]float32
	err     error
}

// AddDocuments embeds every document's text and inserts the resulting chunks
// in one transaction. Repeated insertion of the same content adds new rows;
// there is no deduplication. Returns the generated chunk IDs in input order.
func (s *SQLite) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	opts := applyOptions(options)
	embedder := s.embedder
	if opts.Embedder != nil {
		embedder = opts.Embedder
	}
	if embedder == nil {
		return nil, fmt.Errorf("vectorstore has no embedder configured")
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.PageContent
	}

	vectors, err := s.embedConcurrent(ctx, embedder, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	ids := make([]string, len(docs))
	chunks := make([]database.Chunk, len(docs))
	for i, doc := range docs {
		ids[i] = uuid.NewString()
		chunks[i] = database.Chunk{
			ID:          ids[i],
			DocID:       stringValue(doc.Metadata, "doc_id"),
			ChunkIndex:  intValue(doc.Metadata, "chunk", i),
			StartOffset: intValue(doc.Metadata, "start_index", 0),
			Text:        doc.PageContent,
			Metadata:    doc.Metadata,
			Embedding:   vectors[i],
		}
	}

	if err := s.db.BatchInsertChunks(chunks); err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}

	return ids, nil
}

// embedConcurrent fans batches of texts out to a bounded worker pool and
// reassembles the vectors in input order.
func (s *SQLite) embedConcurrent(ctx context.Context, embedder embeddings.Embedder, texts []string) ([][]float32, error) {
	batchSize := s.batchSize
	if batchSize <= 0 {
		batchSize = 16
	}

	var batches []embedJob
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, embedJob{index: start, texts: texts[start:end]})
	}

	maxWorkers := s.maxWorkers
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}
	if maxWorkers > len(batches) {
		maxWorkers = len(batches)
	}

	jobs := make(chan embedJob, len(batches))
	results := make(chan embedResult, len(batches))

	var wg sync.WaitGroup
	for i := 0; i < maxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				vectors, err := embedder.EmbedDocuments(ctx, job.texts)
				results <- embedResult{index: job.index, vectors: vectors, err: err}
			}
		}()
	}

	for _, batch := range batches {
		jobs <- batch
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	vectors := make([][]float32, len(texts))
	completed := 0
	for result := range results {
		if result.err != nil {
			return nil, result.err
		}
		for i, vec := range result.vectors {
			vectors[result.index+i] = vec
		}
		completed += len(result.vectors)
		if s.progress != nil {
			s.progress(completed, len(texts))
		}
	}

	return vectors, nil
}

// SimilaritySearch returns the numDocuments most similar chunks for the
// query, highest cosine similarity first. Ties keep insertion order, so
// identical query and index state always return the same sequence.
func (s *SQLite) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := applyOptions(options)
	embedder := s.embedder
	if opts.Embedder != nil {
		embedder = opts.Embedder
	}
	if embedder == nil {
		return nil, fmt.Errorf("vectorstore has no embedder configured")
	}
	if opts.ScoreThreshold < 0 || opts.ScoreThreshold > 1 {
		return nil, fmt.Errorf("score threshold must be between 0 and 1, got %f", opts.ScoreThreshold)
	}

	queryVector, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	chunks, err := s.db.GetAllChunks()
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	type scored struct {
		chunk database.Chunk
		score float64
	}

	candidates := make([]scored, 0, len(chunks))
	for _, chunk := range chunks {
		score, err := similarity.Cosine(queryVector, chunk.Embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to score chunk %s: %w", chunk.ID, err)
		}
		if opts.ScoreThreshold > 0 && score < float64(opts.ScoreThreshold) {
			continue
		}
		candidates = append(candidates, scored{chunk: chunk, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if numDocuments > len(candidates) {
		numDocuments = len(candidates)
	}
	if numDocuments < 0 {
		numDocuments = 0
	}

	docs := make([]schema.Document, 0, numDocuments)
	for _, candidate := range candidates[:numDocuments] {
		metadata := candidate.chunk.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		docs = append(docs, schema.Document{
			PageContent: candidate.chunk.Text,
			Metadata:    metadata,
			Score:       float32(candidate.score),
		})
	}

	return docs, nil
}

func applyOptions(options []vectorstores.Option) vectorstores.Options {
	opts := vectorstores.Options{}
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}

func stringValue(metadata map[string]any, key string) string {
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}

func intValue(metadata map[string]any, key string, fallback int) int {
	switch v := metadata[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}
