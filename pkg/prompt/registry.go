package prompt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/prompts"
)

// DefaultTemplateName is the template the pipeline uses unless told otherwise.
const DefaultTemplateName = "rag-qa"

// Templates reference {{.context}} and {{.question}}.
var builtins = map[string]string{
	"rag-qa": `You are an assistant for question-answering tasks. Use the following pieces of retrieved context to answer the question. If you don't know the answer, just say that you don't know. Use three sentences maximum and keep the answer concise.

Question: {{.question}}

Context: {{.context}}

Answer:`,
	"rag-qa-concise": `Answer the question using only the context below. If the context does not contain the answer, say you don't know. Answer in a single short sentence.

Context: {{.context}}

Question: {{.question}}

Answer:`,
}

// Registry resolves named prompt templates. Built-in names are served from
// memory; anything else is fetched as plain text from BaseURL/<name> when a
// BaseURL is configured.
type Registry struct {
	BaseURL string
	Client  *http.Client
}

func NewRegistry(baseURL string) *Registry {
	return &Registry{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 20 * time.Second},
	}
}

func (r *Registry) Get(ctx context.Context, name string) (prompts.PromptTemplate, error) {
	if text, ok := builtins[name]; ok {
		return newTemplate(text), nil
	}

	if r == nil || r.BaseURL == "" {
		return prompts.PromptTemplate{}, fmt.Errorf("unknown prompt template %q and no registry URL configured", name)
	}

	text, err := r.fetch(ctx, name)
	if err != nil {
		return prompts.PromptTemplate{}, err
	}

	if !strings.Contains(text, "{{.context}}") || !strings.Contains(text, "{{.question}}") {
		return prompts.PromptTemplate{}, fmt.Errorf("template %q must reference both {{.context}} and {{.question}}", name)
	}

	return newTemplate(text), nil
}

func (r *Registry) fetch(ctx context.Context, name string) (string, error) {
	url := strings.TrimRight(r.BaseURL, "/") + "/" + name

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build template request: %w", err)
	}

	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch template %q: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("template registry returned status %d for %q", resp.StatusCode, name)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read template %q: %w", name, err)
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return "", fmt.Errorf("template registry returned an empty body for %q", name)
	}

	return text, nil
}

func newTemplate(text string) prompts.PromptTemplate {
	return prompts.NewPromptTemplate(text, []string{"context", "question"})
}
