package modelprovider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	DefaultOpenAIChatModel  = "gpt-4o-mini"
	DefaultOpenAIEmbedModel = "text-embedding-3-small"
	DefaultOllamaChatModel  = "llama3.2"
	DefaultOllamaEmbedModel = "nomic-embed-text"
	DefaultOllamaHost       = "http://localhost:11434"
)

type Config struct {
	Provider   string
	ChatModel  string
	EmbedModel string
	OllamaHost string
}

// Models builds the chat model and the embedder for the configured provider.
// OpenAI credentials come from OPENAI_API_KEY in the environment; for Ollama
// the server is preflighted so a missing daemon or model fails up front with
// an actionable message instead of midway through indexing.
func Models(cfg Config) (llms.Model, embeddings.Embedder, error) {
	switch cfg.Provider {
	case "", ProviderOpenAI:
		return openAIModels(cfg)
	case ProviderOllama:
		return ollamaModels(cfg)
	default:
		return nil, nil, fmt.Errorf("unknown provider %q (want %q or %q)", cfg.Provider, ProviderOpenAI, ProviderOllama)
	}
}

func openAIModels(cfg Config) (llms.Model, embeddings.Embedder, error) {
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = DefaultOpenAIChatModel
	}
	embedModel := cfg.EmbedModel
	if embedModel == "" {
		embedModel = DefaultOpenAIEmbedModel
	}

	client, err := openai.New(
		openai.WithModel(chatModel),
		openai.WithEmbeddingModel(embedModel),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return client, embedder, nil
}

func ollamaModels(cfg Config) (llms.Model, embeddings.Embedder, error) {
	host := cfg.OllamaHost
	if host == "" {
		host = DefaultOllamaHost
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = DefaultOllamaChatModel
	}
	embedModel := cfg.EmbedModel
	if embedModel == "" {
		embedModel = DefaultOllamaEmbedModel
	}

	if err := CheckConnection(host); err != nil {
		return nil, nil, err
	}
	if err := CheckModelsAvailable(host, chatModel, embedModel); err != nil {
		return nil, nil, err
	}

	chat, err := ollama.New(
		ollama.WithServerURL(host),
		ollama.WithModel(chatModel),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Ollama chat client: %w", err)
	}

	embedClient, err := ollama.New(
		ollama.WithServerURL(host),
		ollama.WithModel(embedModel),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Ollama embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(embedClient)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return chat, embedder, nil
}

type listModelsResponse struct {
	Models []modelInfo `json:"models"`
}

type modelInfo struct {
	Name string `json:"name"`
}

// CheckConnection verifies that Ollama is running and accessible.
func CheckConnection(host string) error {
	url := fmt.Sprintf("%s/api/tags", strings.TrimRight(host, "/"))
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to Ollama at %s: %w\n\nPlease ensure:\n1. Ollama is installed (visit https://ollama.ai)\n2. Ollama is running (try 'ollama serve')\n3. The correct host is specified (default: %s)", host, err, DefaultOllamaHost)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Ollama server responded with status %d\n\nPlease check that Ollama is running properly", resp.StatusCode)
	}

	return nil
}

// CheckModelsAvailable verifies that the required models are installed.
func CheckModelsAvailable(host string, required ...string) error {
	url := fmt.Sprintf("%s/api/tags", strings.TrimRight(host, "/"))
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to check available models: %w", err)
	}
	defer resp.Body.Close()

	var listResp listModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return fmt.Errorf("failed to parse models list: %w", err)
	}

	modelMap := make(map[string]bool)
	for _, model := range listResp.Models {
		modelMap[model.Name] = true
		// Also add without :latest tag for compatibility
		if strings.HasSuffix(model.Name, ":latest") {
			baseName := strings.TrimSuffix(model.Name, ":latest")
			modelMap[baseName] = true
		}
	}

	var missingModels []string
	for _, name := range required {
		if !modelMap[name] {
			missingModels = append(missingModels, name)
		}
	}

	if len(missingModels) > 0 {
		return fmt.Errorf("missing required models: %v\n\nPlease install them with:\n%s",
			missingModels,
			generateInstallCommands(missingModels))
	}

	return nil
}

func generateInstallCommands(models []string) string {
	var commands []string
	for _, model := range models {
		commands = append(commands, fmt.Sprintf("ollama pull %s", model))
	}
	return strings.Join(commands, "\n")
}
