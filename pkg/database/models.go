package database

// Document is a loaded source page.
type Document struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Title  string `json:"title"`
}

// Chunk is one slice of a document, stored alongside its embedding.
type Chunk struct {
	ID          string         `json:"id"`
	DocID       string         `json:"doc_id"`
	ChunkIndex  int            `json:"chunk_index"`
	StartOffset int            `json:"start_offset"`
	Text        string         `json:"text"`
	Metadata    map[string]any `json:"metadata"`
	Embedding   []float32      `json:"embedding"`
}
