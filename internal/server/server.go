// Package server exposes the engine over a small HTTP surface. Handlers
// validate and translate; no retrieval logic lives here.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"document-qa/internal/config"
	"document-qa/internal/helper"
	"document-qa/internal/loader"
	"document-qa/internal/models"
)

// Engine is the core consumed by the handlers.
type Engine interface {
	Ingest(ctx context.Context, source, text string) (string, error)
	AnswerBatch(ctx context.Context, docID string, questions []string) ([]models.Answer, error)
	AnswerSingle(ctx context.Context, docID, question string) (models.Answer, error)
	Chunks(docID string) ([]models.Chunk, bool)
}

type Server struct {
	engine Engine
	cfg    *config.Config
	mux    *http.ServeMux
}

func New(engine Engine, cfg *config.Config) *Server {
	s := &Server{engine: engine, cfg: cfg, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /upload-url", s.handleUploadURL)
	s.mux.HandleFunc("POST /upload-file", s.handleUploadFile)
	s.mux.HandleFunc("POST /search", s.handleSearch)
	s.mux.HandleFunc("POST /hackrx/run", s.handleRun)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("Request")
	s.mux.ServeHTTP(w, r)
}

func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.cfg.Server.Addr).Msg("HTTP server listening")
	return http.ListenAndServe(s.cfg.Server.Addr, s)
}

type uploadURLRequest struct {
	URL string `json:"url"`
}

type uploadResponse struct {
	Message       string `json:"message"`
	DocumentID    string `json:"document_id"`
	ChunksCreated int    `json:"chunks_created"`
}

type searchRequest struct {
	DocumentID string `json:"document_id"`
	Query      string `json:"query"`
}

type searchResponse struct {
	Answer   string   `json:"answer"`
	Snippets []string `json:"relevant_snippets"`
}

type runRequest struct {
	Documents string   `json:"documents"`
	Questions []string `json:"questions"`
}

type runAnswer struct {
	Answer string `json:"answer,omitempty"`
	Error  string `json:"error,omitempty"`
}

type runResponse struct {
	Answers []runAnswer `json:"answers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	var req uploadURLRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.URL == "" {
		writeError(w, fmt.Errorf("%w: url is required", models.ErrInvalidInput))
		return
	}

	text, err := loader.ExtractURL(r.Context(), req.URL, s.cfg.Server.MaxFileSize)
	if err != nil {
		writeError(w, err)
		return
	}
	s.ingestAndRespond(w, r, req.URL, text)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.Server.MaxFileSize); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrInvalidInput, err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("%w: file field is required", models.ErrInvalidInput))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.Server.MaxFileSize))
	if err != nil {
		writeError(w, err)
		return
	}

	source := header.Filename
	if source == "" {
		if source, err = helper.GenerateUUID(); err != nil {
			writeError(w, err)
			return
		}
	}
	text, err := loader.ExtractBuffer(data, source)
	if err != nil {
		writeError(w, err)
		return
	}
	s.ingestAndRespond(w, r, source, text)
}

func (s *Server) ingestAndRespond(w http.ResponseWriter, r *http.Request, source, text string) {
	docID, err := s.engine.Ingest(r.Context(), source, text)
	if err != nil {
		writeError(w, err)
		return
	}
	chunks, _ := s.engine.Chunks(docID)
	writeJSON(w, http.StatusOK, uploadResponse{
		Message:       "Document processed successfully",
		DocumentID:    docID,
		ChunksCreated: len(chunks),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Query == "" || req.DocumentID == "" {
		writeError(w, fmt.Errorf("%w: query and document_id are required", models.ErrInvalidInput))
		return
	}

	answer, err := s.engine.AnswerSingle(r.Context(), req.DocumentID, req.Query)
	if err != nil {
		writeError(w, err)
		return
	}
	if answer.Failed() {
		writeError(w, answer.Err)
		return
	}

	resp := searchResponse{Answer: answer.Text}
	if chunks, ok := s.engine.Chunks(req.DocumentID); ok {
		for _, seq := range answer.Sources {
			if seq >= 0 && seq < len(chunks) {
				resp.Snippets = append(resp.Snippets, chunks[seq].Text)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Documents == "" || len(req.Questions) == 0 {
		writeError(w, fmt.Errorf("%w: documents and questions are required", models.ErrInvalidInput))
		return
	}

	text, err := loader.ExtractURL(r.Context(), req.Documents, s.cfg.Server.MaxFileSize)
	if err != nil {
		writeError(w, err)
		return
	}
	docID, err := s.engine.Ingest(r.Context(), req.Documents, text)
	if err != nil {
		writeError(w, err)
		return
	}

	answers, err := s.engine.AnswerBatch(r.Context(), docID, req.Questions)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := runResponse{Answers: make([]runAnswer, len(answers))}
	for i, a := range answers {
		if a.Failed() {
			resp.Answers[i] = runAnswer{Error: a.Err.Error()}
		} else {
			resp.Answers[i] = runAnswer{Answer: a.Text}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode parses a JSON body, rejecting unknown fields at the boundary.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Encoding response failed")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrUnsupportedFormat):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrIndexNotBuilt):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrEmbeddingUnavailable), errors.Is(err, models.ErrSynthesisUnavailable):
		status = http.StatusServiceUnavailable
	}
	log.Warn().Err(err).Int("status", status).Msg("Request failed")
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
