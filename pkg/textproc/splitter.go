package textproc

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Splitter cuts documents into overlapping chunks using recursive character
// splitting: paragraph breaks first, then lines, words, and finally single
// characters. Sizes are in characters.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
}

func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	return &Splitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
	}
}

// SplitDocuments splits every document into chunks. Each chunk keeps its
// parent's metadata and gains "start_index", the byte offset of the chunk in
// the parent text, and "chunk", its ordinal within the parent.
func (s *Splitter) SplitDocuments(docs []schema.Document) ([]schema.Document, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(s.ChunkSize),
		textsplitter.WithChunkOverlap(s.ChunkOverlap),
	)

	var chunks []schema.Document
	for _, doc := range docs {
		pieces, err := splitter.SplitText(doc.PageContent)
		if err != nil {
			return nil, fmt.Errorf("failed to split document: %w", err)
		}

		// Chunks are contiguous substrings of the parent, so a forward scan
		// recovers each start offset; starting one byte past the previous
		// chunk's start keeps overlapping chunks from matching too early.
		searchFrom := 0
		for i, piece := range pieces {
			rel := strings.Index(doc.PageContent[searchFrom:], piece)
			if rel < 0 {
				return nil, fmt.Errorf("failed to locate chunk %d in source text", i)
			}
			start := searchFrom + rel

			metadata := make(map[string]any, len(doc.Metadata)+2)
			for k, v := range doc.Metadata {
				metadata[k] = v
			}
			metadata["start_index"] = start
			metadata["chunk"] = i

			chunks = append(chunks, schema.Document{
				PageContent: piece,
				Metadata:    metadata,
			})
			searchFrom = start + 1
		}
	}

	return chunks, nil
}
