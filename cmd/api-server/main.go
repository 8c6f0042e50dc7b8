package main

import (
	"flag"
	"log"

	"webrag/config"
	"webrag/pkg/apiserver"
	"webrag/pkg/modelprovider"
)

func main() {
	var dbPath string
	var port int

	flag.StringVar(&dbPath, "db", "", "Path to SQLite index database file")
	flag.IntVar(&port, "port", 8080, "Server port")
	flag.Parse()

	if dbPath == "" {
		log.Fatal("Database path is required. Use -db flag.")
	}

	cfg := config.Load()
	_, embedder, err := modelprovider.Models(modelprovider.Config{
		Provider:   cfg.Provider,
		ChatModel:  cfg.ChatModel,
		EmbedModel: cfg.EmbedModel,
		OllamaHost: cfg.OllamaHost,
	})
	if err != nil {
		log.Printf("Similarity search disabled: %v", err)
		embedder = nil
	}

	if err := apiserver.New(dbPath, embedder).Start(port); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
