package apiserver

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/tmc/langchaingo/embeddings"

	"webrag/pkg/database"
	"webrag/pkg/vectorstore"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Server is a read-only JSON API over an existing index database. The
// embedder is optional; without one /api/search is unavailable.
type Server struct {
	dbPath   string
	embedder embeddings.Embedder
}

func New(dbPath string, embedder embeddings.Embedder) *Server {
	return &Server{dbPath: dbPath, embedder: embedder}
}

func (s *Server) Start(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chunks", enableCORS(s.handleChunks))
	mux.HandleFunc("/api/documents", enableCORS(s.handleDocuments))
	mux.HandleFunc("/api/search", enableCORS(s.handleSearch))

	log.Printf("Starting API server on port %d", port)
	log.Printf("Database: %s", s.dbPath)
	log.Printf("Endpoints:")
	log.Printf("  GET /api/chunks - Get all indexed chunks")
	log.Printf("  GET /api/documents - Get all indexed documents")
	log.Printf("  GET /api/search?q=...&k=... - Search chunks by similarity")

	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}

func (s *Server) openDB() (*database.DB, error) {
	return database.OpenExistingDB(s.dbPath)
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	db, err := s.openDB()
	if err != nil {
		respondWithError(w, fmt.Sprintf("Failed to open database: %v", err), http.StatusInternalServerError)
		return
	}
	defer db.Close()

	chunks, err := db.GetAllChunks()
	if err != nil {
		respondWithError(w, fmt.Sprintf("Failed to get chunks: %v", err), http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, chunks)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	db, err := s.openDB()
	if err != nil {
		respondWithError(w, fmt.Sprintf("Failed to open database: %v", err), http.StatusInternalServerError)
		return
	}
	defer db.Close()

	docs, err := db.GetAllDocuments()
	if err != nil {
		respondWithError(w, fmt.Sprintf("Failed to get documents: %v", err), http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, docs)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.embedder == nil {
		respondWithError(w, "Search is unavailable: no embedding provider configured", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		respondWithError(w, "Query parameter 'q' is required", http.StatusBadRequest)
		return
	}

	k := 4
	if raw := r.URL.Query().Get("k"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			k = parsed
		}
	}

	db, err := s.openDB()
	if err != nil {
		respondWithError(w, fmt.Sprintf("Failed to open database: %v", err), http.StatusInternalServerError)
		return
	}
	defer db.Close()

	store := vectorstore.New(db, s.embedder)
	results, err := store.SimilaritySearch(r.Context(), query, k)
	if err != nil {
		respondWithError(w, fmt.Sprintf("Search failed: %v", err), http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, results)
}

func enableCORS(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		handler(w, r)
	}
}

func respondWithJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	response := APIResponse{
		Success: true,
		Data:    data,
	}
	json.NewEncoder(w).Encode(response)
}

func respondWithError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := APIResponse{
		Success: false,
		Error:   message,
	}
	json.NewEncoder(w).Encode(response)
}
