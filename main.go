package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"webrag/config"
	"webrag/pkg/apiserver"
	"webrag/pkg/database"
	"webrag/pkg/loader"
	"webrag/pkg/modelprovider"
	"webrag/pkg/pipeline"
	"webrag/pkg/prompt"
	"webrag/pkg/textproc"
	"webrag/pkg/vectorstore"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "webrag",
		Short: "Ask questions about a web page using retrieval-augmented generation",
		Long:  "A CLI tool that fetches a web page, splits it into overlapping chunks, embeds them into a SQLite index, and answers questions about the page with a chat model grounded on the most similar chunks.",
	}

	// Add subcommands
	rootCmd.AddCommand(createIndexCommand())
	rootCmd.AddCommand(createSearchCommand())
	rootCmd.AddCommand(createAskCommand())
	rootCmd.AddCommand(createServeCommand())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func createIndexCommand() *cobra.Command {
	var pageURL string
	var selector string
	var outputDir string
	var dbName string
	var chunkSize int
	var chunkOverlap int
	var maxWorkers int
	var provider string
	var ollamaHost string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Fetch a web page and build a searchable index from it",
		Long:  "Fetch a web page, keep the regions matching the CSS selector, split the text into overlapping chunks, generate embeddings, and store everything in a SQLite database.",
		Run: func(cmd *cobra.Command, args []string) {
			if pageURL == "" {
				fmt.Println("Error: url is required")
				cmd.Help()
				return
			}

			if err := runIndex(pageURL, selector, outputDir, dbName, chunkSize, chunkOverlap, maxWorkers, provider, ollamaHost); err != nil {
				log.Fatalf("Error indexing page: %v", err)
			}
		},
	}

	cmd.Flags().StringVarP(&pageURL, "url", "u", "", "URL of the page to index")
	cmd.Flags().StringVarP(&selector, "selector", "s", "", "CSS selector for the page regions to keep (default \"article, main\")")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory for the SQLite database (default WEBRAG_DB_DIR or \".\")")
	cmd.Flags().StringVar(&dbName, "db", "", "Database file name (default derived from the URL host)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", textproc.DefaultChunkSize, "Chunk size in characters")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", textproc.DefaultChunkOverlap, "Overlap between consecutive chunks in characters")
	cmd.Flags().IntVarP(&maxWorkers, "workers", "w", 1, "Maximum number of concurrent embedding calls")
	cmd.Flags().StringVar(&provider, "provider", "", "Model provider: openai or ollama (default from config)")
	cmd.Flags().StringVar(&ollamaHost, "ollama-host", "", "Ollama server host and port")
	cmd.MarkFlagRequired("url")

	return cmd
}

func createSearchCommand() *cobra.Command {
	var topK int
	var provider string
	var ollamaHost string

	cmd := &cobra.Command{
		Use:   "search <database.db> <query>",
		Short: "Search an index for the chunks most similar to a query",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runSearch(args[0], args[1], topK, provider, ollamaHost); err != nil {
				log.Fatalf("Error searching index: %v", err)
			}
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", pipeline.DefaultTopK, "Number of chunks to return")
	cmd.Flags().StringVar(&provider, "provider", "", "Model provider: openai or ollama (default from config)")
	cmd.Flags().StringVar(&ollamaHost, "ollama-host", "", "Ollama server host and port")

	return cmd
}

func createAskCommand() *cobra.Command {
	var topK int
	var templateName string
	var noStream bool
	var provider string
	var ollamaHost string

	cmd := &cobra.Command{
		Use:   "ask <database.db> <question>",
		Short: "Answer a question using the indexed page as context",
		Long:  "Retrieve the chunks most similar to the question, format them into a prompt template, and stream the chat model's answer.",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runAsk(args[0], args[1], topK, templateName, noStream, provider, ollamaHost); err != nil {
				log.Fatalf("Error answering question: %v", err)
			}
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", pipeline.DefaultTopK, "Number of chunks to retrieve as context")
	cmd.Flags().StringVarP(&templateName, "template", "t", prompt.DefaultTemplateName, "Prompt template name")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Print the answer once it is complete instead of streaming")
	cmd.Flags().StringVar(&provider, "provider", "", "Model provider: openai or ollama (default from config)")
	cmd.Flags().StringVar(&ollamaHost, "ollama-host", "", "Ollama server host and port")

	return cmd
}

func createServeCommand() *cobra.Command {
	var port int
	var provider string
	var ollamaHost string

	cmd := &cobra.Command{
		Use:   "serve <database.db>",
		Short: "Start API server for an index database",
		Long:  "Start a REST API server exposing the documents, chunks, and similarity search of an existing index database.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runServe(args[0], port, provider, ollamaHost); err != nil {
				log.Fatalf("Error starting API server: %v", err)
			}
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Server port")
	cmd.Flags().StringVar(&provider, "provider", "", "Model provider: openai or ollama (default from config)")
	cmd.Flags().StringVar(&ollamaHost, "ollama-host", "", "Ollama server host and port")

	return cmd
}

func runIndex(pageURL, selector, outputDir, dbName string, chunkSize, chunkOverlap, maxWorkers int, provider, ollamaHost string) error {
	cfg := config.Load()

	if dbName == "" {
		name, err := dbNameForURL(pageURL)
		if err != nil {
			return err
		}
		dbName = name
	}

	db, err := database.NewDB(resolveOutputDir(outputDir, cfg), dbName)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	_, embedder, err := modelprovider.Models(providerConfig(cfg, provider, ollamaHost))
	if err != nil {
		return err
	}

	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	store := vectorstore.New(db, embedder,
		vectorstore.WithMaxWorkers(maxWorkers),
		vectorstore.WithProgress(func(completed, total int) {
			printProgressBar("Embeddings", completed, total)
		}),
	)

	p := &pipeline.Pipeline{
		Splitter: textproc.NewSplitter(chunkSize, chunkOverlap),
		Store:    store,
		DB:       db,
	}

	fmt.Printf("Fetching %s...\n", pageURL)

	result, err := p.Index(context.Background(), loader.NewWeb(pageURL, selector))
	if err != nil {
		return err
	}
	fmt.Println() // New line after progress bar

	fmt.Printf("Indexed %d chunks from %d document(s) into %s\n", result.Chunks, len(result.Documents), db.Path())
	fmt.Println("The index is ready for 'webrag ask' and 'webrag search'.")

	return nil
}

func runSearch(dbPath, query string, topK int, provider, ollamaHost string) error {
	cfg := config.Load()

	db, err := database.OpenExistingDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	_, embedder, err := modelprovider.Models(providerConfig(cfg, provider, ollamaHost))
	if err != nil {
		return err
	}

	store := vectorstore.New(db, embedder)
	p := &pipeline.Pipeline{Store: store, DB: db, TopK: topK}

	results, err := p.Search(context.Background(), query, topK)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No matching chunks found.")
		return nil
	}

	for i, doc := range results {
		fmt.Printf("%2d. score=%.3f offset=%v\n    %s\n", i+1, doc.Score, doc.Metadata["start_index"], truncate(doc.PageContent, 160))
	}

	return nil
}

func runAsk(dbPath, question string, topK int, templateName string, noStream bool, provider, ollamaHost string) error {
	cfg := config.Load()

	db, err := database.OpenExistingDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	llm, embedder, err := modelprovider.Models(providerConfig(cfg, provider, ollamaHost))
	if err != nil {
		return err
	}

	p := &pipeline.Pipeline{
		Store:    vectorstore.New(db, embedder),
		DB:       db,
		LLM:      llm,
		Registry: prompt.NewRegistry(cfg.PromptHub),
		Template: templateName,
		TopK:     topK,
	}

	var stream func(ctx context.Context, chunk []byte) error
	if !noStream {
		stream = func(ctx context.Context, chunk []byte) error {
			fmt.Print(string(chunk))
			return nil
		}
	}

	answer, err := p.Ask(context.Background(), question, stream)
	if err != nil {
		return err
	}

	if noStream {
		fmt.Println(answer.Text)
	} else {
		fmt.Println()
	}

	if len(answer.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, src := range answer.Sources {
			fmt.Printf("  %v (offset %v, score %.3f)\n", src.Metadata["source"], src.Metadata["start_index"], src.Score)
		}
	}

	return nil
}

func runServe(dbPath string, port int, provider, ollamaHost string) error {
	cfg := config.Load()

	_, embedder, err := modelprovider.Models(providerConfig(cfg, provider, ollamaHost))
	if err != nil {
		log.Printf("Similarity search disabled: %v", err)
		embedder = nil
	}

	return apiserver.New(dbPath, embedder).Start(port)
}

func providerConfig(cfg config.AppConfig, provider, ollamaHost string) modelprovider.Config {
	if provider == "" {
		provider = cfg.Provider
	}
	if ollamaHost == "" {
		ollamaHost = cfg.OllamaHost
	}
	return modelprovider.Config{
		Provider:   provider,
		ChatModel:  cfg.ChatModel,
		EmbedModel: cfg.EmbedModel,
		OllamaHost: ollamaHost,
	}
}

// resolveOutputDir picks the index directory: the --output flag wins, then
// WEBRAG_DB_DIR from config, then the working directory.
func resolveOutputDir(flagValue string, cfg config.AppConfig) string {
	if flagValue != "" {
		return flagValue
	}
	if cfg.DBDir != "" {
		return cfg.DBDir
	}
	return "."
}

func dbNameForURL(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("url %q has no host", pageURL)
	}
	return strings.ReplaceAll(host, ".", "_") + "_index.db", nil
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func printProgressBar(prefix string, completed, total int) {
	width := 50
	percentage := float64(completed) / float64(total)
	filled := int(percentage * float64(width))

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	fmt.Printf("\r%s: [%s] %d/%d (%.1f%%)",
		prefix, bar, completed, total, percentage*100)
}
