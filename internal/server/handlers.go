package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lewisedginton/memory_vault/internal/engine"
	"github.com/lewisedginton/memory_vault/internal/llm"
	"github.com/lewisedginton/memory_vault/internal/orchestrator"
	"github.com/lewisedginton/memory_vault/pkg/logger"
)

// userIDHeader carries the caller identity. Authentication itself happens in
// the gateway layer in front of this service.
const userIDHeader = "X-User-ID"

type contextKey string

const userIDKey contextKey = "user_id"

type errorResponse struct {
	Error string `json:"error"`
}

type createMemoryRequest struct {
	Content  string `json:"content"`
	Category string `json:"category"`
	Source   string `json:"source"`
	Tags     string `json:"tags"`
}

type updateMemoryRequest struct {
	Content  *string `json:"content"`
	Category *string `json:"category"`
	Source   *string `json:"source"`
	Tags     *string `json:"tags"`
}

type searchRequest struct {
	Query    string  `json:"query"`
	Limit    int     `json:"limit"`
	MinScore float64 `json:"min_score"`
}

type importRequest struct {
	Items []importItem `json:"items"`
}

type importItem struct {
	Content string `json:"content"`
	Source  string `json:"source"`
	Tags    string `json:"tags"`
}

type setCredentialRequest struct {
	Token string `json:"token"`
}

type listResponse struct {
	Memories []engine.MetadataRow `json:"memories"`
	Total    int                  `json:"total"`
}

type searchResponse struct {
	Results []engine.SearchResult `json:"results"`
}

// requireUserID extracts the caller identity from the X-User-ID header.
func (s *Server) requireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userIDHeader)
		if userID == "" {
			s.writeError(w, r, http.StatusBadRequest, errors.New("X-User-ID header is required"))
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req createMemoryRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	mem, err := s.engine.CreateMemory(r.Context(), userID(r), orchestrator.CreateRequest{
		Content:  req.Content,
		Category: req.Category,
		Source:   req.Source,
		Tags:     req.Tags,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, mem)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	mem, err := s.engine.GetMemory(r.Context(), userID(r), chi.URLParam(r, "memoryID"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, mem)
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	var req updateMemoryRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	update := engine.UpdateRequest{}
	if req.Content != nil {
		update.Content = *req.Content
		update.SetContent = true
	}
	if req.Category != nil {
		update.Category = *req.Category
		update.SetCategory = true
	}
	if req.Source != nil {
		update.Source = *req.Source
		update.SetSource = true
	}
	if req.Tags != nil {
		update.Tags = *req.Tags
		update.SetTags = true
	}

	mem, err := s.engine.UpdateMemory(r.Context(), userID(r), chi.URLParam(r, "memoryID"), update)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, mem)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteMemory(r.Context(), userID(r), chi.URLParam(r, "memoryID")); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	filters := engine.ListFilters{
		Category: r.URL.Query().Get("category"),
		Source:   r.URL.Query().Get("source"),
		Tag:      r.URL.Query().Get("tag"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filters.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		filters.Offset, _ = strconv.Atoi(v)
	}

	rows, total, err := s.engine.ListMemories(r.Context(), userID(r), filters)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, listResponse{Memories: rows, Total: total})
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	results, err := s.engine.SearchMemories(r.Context(), userID(r), orchestrator.SearchRequest{
		Query:    req.Query,
		Limit:    req.Limit,
		MinScore: req.MinScore,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, searchResponse{Results: results})
}

func (s *Server) handleRelatedMemories(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	minScore := 0.0
	if v := r.URL.Query().Get("min_score"); v != "" {
		minScore, _ = strconv.ParseFloat(v, 64)
	}

	results, err := s.engine.RelatedMemories(r.Context(), userID(r), chi.URLParam(r, "memoryID"), limit, minScore)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, searchResponse{Results: results})
}

func (s *Server) handleImportMemories(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		s.writeError(w, r, http.StatusBadRequest, errors.New("items must not be empty"))
		return
	}

	items := make([]orchestrator.ImportItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, orchestrator.ImportItem{
			Content: item.Content,
			Source:  item.Source,
			Tags:    item.Tags,
		})
	}

	report, err := s.engine.ImportMemories(r.Context(), userID(r), items)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, report)
}

func (s *Server) handleConsistencyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Engine.ReconcileTimeout)
	defer cancel()

	report, err := s.reconciler.Check(ctx, userID(r))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, report)
}

func (s *Server) handleConsistencyRepair(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Engine.ReconcileTimeout)
	defer cancel()

	report, err := s.reconciler.Repair(ctx, userID(r))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, report)
}

func (s *Server) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	var req setCredentialRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("token is required"))
		return
	}

	if err := s.resolver.SetCredential(r.Context(), chi.URLParam(r, "userID"), req.Token); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Security.MaxRequestSize)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New("invalid JSON body"))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("Failed to encode response",
			logger.HTTPPathField(r.URL.Path),
			logger.ErrorField(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.writeJSON(w, r, status, errorResponse{Error: err.Error()})
}

// writeEngineError maps the engine's error kinds onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, err)
	case errors.Is(err, engine.ErrUnauthorized):
		s.writeError(w, r, http.StatusUnauthorized, err)
	case errors.Is(err, engine.ErrVersionConflict):
		s.writeError(w, r, http.StatusConflict, err)
	case errors.Is(err, engine.ErrInvariantViolation), errors.Is(err, llm.ErrEmptyInput):
		s.writeError(w, r, http.StatusUnprocessableEntity, err)
	case errors.Is(err, engine.ErrUpstreamUnavailable):
		s.writeError(w, r, http.StatusBadGateway, err)
	default:
		s.log.Error("Unhandled engine error",
			logger.HTTPPathField(r.URL.Path),
			logger.ErrorField(err))
		s.writeError(w, r, http.StatusInternalServerError, errors.New("internal error"))
	}
}
