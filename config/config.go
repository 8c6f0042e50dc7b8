package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Provider   string
	ChatModel  string
	EmbedModel string
	OllamaHost string
	DBDir      string
	PromptHub  string
}

func Load() AppConfig {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[cfg] error loading .env: %v", err)
	}

	get := func(k, def string) string {
		if v := os.Getenv(k); v != "" {
			return v
		}
		return def
	}
	return AppConfig{
		Provider:   get("WEBRAG_PROVIDER", "openai"),
		ChatModel:  get("WEBRAG_CHAT_MODEL", ""),
		EmbedModel: get("WEBRAG_EMBED_MODEL", ""),
		OllamaHost: get("OLLAMA_HOST", ""),
		DBDir:      get("WEBRAG_DB_DIR", "."),
		PromptHub:  get("WEBRAG_PROMPT_HUB", ""),
	}
}
