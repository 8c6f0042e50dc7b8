package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"webrag/pkg/database"
	"webrag/pkg/loader"
	"webrag/pkg/prompt"
	"webrag/pkg/textproc"
	"webrag/pkg/vectorstore"
)

type fakeEmbedder struct{}

func embedText(text string) []float32 {
	var length, vowels, consonants, spaces float32
	for _, r := range text {
		length++
		switch {
		case r == 'a' || r == 'e' || r == 'i' || r == 'o' || r == 'u' ||
			r == 'A' || r == 'E' || r == 'I' || r == 'O' || r == 'U':
			vowels++
		case r == ' ':
			spaces++
		default:
			consonants++
		}
	}
	return []float32{length, vowels, consonants, spaces}
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

// echoLLM replies with the exact prompt it was given, streaming it in two
// pieces when a streaming callback is set. Useful to assert wiring: whatever
// appears in the answer was really in the formatted prompt.
type echoLLM struct{}

func (m *echoLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	var promptText string
	for _, message := range messages {
		for _, part := range message.Parts {
			if text, ok := part.(llms.TextContent); ok {
				promptText += text.Text
			}
		}
	}

	if opts.StreamingFunc != nil {
		half := len(promptText) / 2
		for _, piece := range []string{promptText[:half], promptText[half:]} {
			if err := opts.StreamingFunc(ctx, []byte(piece)); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: promptText}},
	}, nil
}

func (m *echoLLM) Call(ctx context.Context, promptText string, options ...llms.CallOption) (string, error) {
	return promptText, nil
}

const testPage = `<!DOCTYPE html>
<html>
<head><title>Gopher Field Guide</title></head>
<body>
	<nav>Home | About</nav>
	<article>
		<p>Gophers dig extensive tunnel systems beneath meadows and fields.</p>
		<p>A single gopher can move more than a ton of soil in a year.</p>
		<p>Their burrows include separate chambers for food storage and nesting.</p>
	</article>
</body>
</html>`

func newTestPipeline(t *testing.T) (*Pipeline, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(testPage))
	}))
	t.Cleanup(server.Close)

	db, err := database.NewDB("", ":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	p := &Pipeline{
		Splitter: textproc.NewSplitter(80, 20),
		Store:    vectorstore.New(db, &fakeEmbedder{}),
		DB:       db,
		LLM:      &echoLLM{},
		Registry: prompt.NewRegistry(""),
		TopK:     2,
	}
	return p, server
}

func TestIndex_StoresChunksAndDocument(t *testing.T) {
	p, server := newTestPipeline(t)

	result, err := p.Index(context.Background(), loader.NewWeb(server.URL, ""))
	if err != nil {
		t.Fatalf("index failed: %v", err)
	}

	if len(result.Documents) != 1 {
		t.Fatalf("expected 1 document, got %d", len(result.Documents))
	}
	if result.Documents[0].Source != server.URL {
		t.Fatalf("expected document source %q, got %q", server.URL, result.Documents[0].Source)
	}
	if result.Documents[0].Title != "Gopher Field Guide" {
		t.Fatalf("expected page title, got %q", result.Documents[0].Title)
	}
	if result.Chunks < 2 {
		t.Fatalf("expected the page to split into multiple chunks, got %d", result.Chunks)
	}

	n, err := p.DB.CountChunks()
	if err != nil {
		t.Fatalf("failed to count chunks: %v", err)
	}
	if n != result.Chunks {
		t.Fatalf("stored chunk count %d does not match result %d", n, result.Chunks)
	}
}

func TestSearch_ReturnsTopK(t *testing.T) {
	p, server := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.Index(ctx, loader.NewWeb(server.URL, "")); err != nil {
		t.Fatalf("index failed: %v", err)
	}

	results, err := p.Search(ctx, "tunnel systems beneath meadows", 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatalf("results out of order at %d", i)
		}
	}
}

func TestAsk_EndToEnd(t *testing.T) {
	p, server := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.Index(ctx, loader.NewWeb(server.URL, "")); err != nil {
		t.Fatalf("index failed: %v", err)
	}

	question := "How much soil can a gopher move?"
	answer, err := p.Ask(ctx, question, nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}

	if answer.Text == "" {
		t.Fatalf("expected non-empty answer")
	}
	if strings.Contains(answer.Text, "{{.context}}") || strings.Contains(answer.Text, "{{.question}}") {
		t.Fatalf("unsubstituted placeholders in answer: %q", answer.Text)
	}
	if !strings.Contains(answer.Text, question) {
		t.Fatalf("question missing from formatted prompt: %q", answer.Text)
	}
	if !strings.Contains(answer.Text, "gopher") {
		t.Fatalf("retrieved context missing from prompt: %q", answer.Text)
	}

	if len(answer.Sources) == 0 || len(answer.Sources) > 2 {
		t.Fatalf("expected between 1 and top-k sources, got %d", len(answer.Sources))
	}
	for i, src := range answer.Sources {
		if src.Metadata["source"] != server.URL {
			t.Fatalf("source %d missing origin metadata: %v", i, src.Metadata)
		}
	}
}

func TestAsk_StreamingMatchesFinalAnswer(t *testing.T) {
	p, server := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.Index(ctx, loader.NewWeb(server.URL, "")); err != nil {
		t.Fatalf("index failed: %v", err)
	}

	var streamed strings.Builder
	var fragments int
	answer, err := p.Ask(ctx, "What do gopher burrows contain?", func(ctx context.Context, chunk []byte) error {
		fragments++
		streamed.Write(chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}

	if fragments < 2 {
		t.Fatalf("expected incremental delivery, got %d fragment(s)", fragments)
	}
	if streamed.String() != answer.Text {
		t.Fatalf("streamed fragments do not concatenate to the final answer")
	}
}

func TestAsk_TemplateClosingPhrasePropagates(t *testing.T) {
	registryServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Context: {{.context}}\n\nQuestion: {{.question}}\n\nAlways end your answer with: Happy to help!"))
	}))
	defer registryServer.Close()

	p, server := newTestPipeline(t)
	p.Registry = prompt.NewRegistry(registryServer.URL)
	p.Template = "closing-qa"
	ctx := context.Background()

	if _, err := p.Index(ctx, loader.NewWeb(server.URL, "")); err != nil {
		t.Fatalf("index failed: %v", err)
	}

	answer, err := p.Ask(ctx, "Where do gophers dig?", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(answer.Text), "Happy to help!") {
		t.Fatalf("expected closing phrase at end of answer, got %q", answer.Text)
	}
}
