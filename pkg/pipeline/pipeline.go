package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"webrag/pkg/database"
	"webrag/pkg/prompt"
	"webrag/pkg/textproc"
	"webrag/pkg/vectorstore"
)

const DefaultTopK = 4

// Loader produces documents from some source, typically a web page.
type Loader interface {
	Load(ctx context.Context) ([]schema.Document, error)
}

// Pipeline wires the stages of retrieval-augmented generation in order:
// load, split, embed+store, retrieve, generate. Each stage is a plain call;
// errors surface to the caller unretried.
type Pipeline struct {
	Splitter *textproc.Splitter
	Store    *vectorstore.SQLite
	DB       *database.DB
	LLM      llms.Model
	Registry *prompt.Registry
	Template string
	TopK     int
}

// IndexResult reports what an Index run added to the store.
type IndexResult struct {
	Documents []database.Document
	Chunks    int
}

// Answer is a generated answer plus the chunks it was grounded on.
type Answer struct {
	Text    string
	Sources []schema.Document
}

// Index loads documents, splits them, and stores the embedded chunks.
func (p *Pipeline) Index(ctx context.Context, l Loader) (*IndexResult, error) {
	docs, err := l.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}

	result := &IndexResult{}
	for i := range docs {
		record := database.Document{
			ID:     uuid.NewString(),
			Source: stringValue(docs[i].Metadata, "source"),
			Title:  stringValue(docs[i].Metadata, "title"),
		}
		if err := p.DB.InsertDocument(&record); err != nil {
			return nil, fmt.Errorf("failed to record document: %w", err)
		}
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]any{}
		}
		docs[i].Metadata["doc_id"] = record.ID
		result.Documents = append(result.Documents, record)
	}

	chunks, err := p.Splitter.SplitDocuments(docs)
	if err != nil {
		return nil, fmt.Errorf("failed to split documents: %w", err)
	}

	if _, err := p.Store.AddDocuments(ctx, chunks); err != nil {
		return nil, err
	}

	result.Chunks = len(chunks)
	return result, nil
}

// Search returns the k most relevant chunks for the query.
func (p *Pipeline) Search(ctx context.Context, query string, k int) ([]schema.Document, error) {
	if k <= 0 {
		k = p.topK()
	}
	return p.Store.SimilaritySearch(ctx, query, k)
}

// Ask retrieves context for the question, formats the prompt template, and
// generates an answer. When stream is non-nil it receives the answer
// incrementally as the model produces it; the complete text is returned
// either way.
func (p *Pipeline) Ask(ctx context.Context, question string, stream func(ctx context.Context, chunk []byte) error) (*Answer, error) {
	retriever := vectorstores.ToRetriever(p.Store, p.topK())
	sources, err := retriever.GetRelevantDocuments(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve context: %w", err)
	}

	templateName := p.Template
	if templateName == "" {
		templateName = prompt.DefaultTemplateName
	}
	template, err := p.Registry.Get(ctx, templateName)
	if err != nil {
		return nil, err
	}

	promptText, err := template.Format(map[string]any{
		"context":  flattenContext(sources),
		"question": question,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to format prompt: %w", err)
	}

	var callOpts []llms.CallOption
	if stream != nil {
		callOpts = append(callOpts, llms.WithStreamingFunc(stream))
	}

	text, err := llms.GenerateFromSinglePrompt(ctx, p.LLM, promptText, callOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	return &Answer{Text: text, Sources: sources}, nil
}

func (p *Pipeline) topK() int {
	if p.TopK > 0 {
		return p.TopK
	}
	return DefaultTopK
}

func flattenContext(docs []schema.Document) string {
	parts := make([]string, len(docs))
	for i, doc := range docs {
		parts[i] = doc.PageContent
	}
	return strings.Join(parts, "\n\n")
}

func stringValue(metadata map[string]any, key string) string {
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}
