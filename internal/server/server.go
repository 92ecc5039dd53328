// Package server exposes the pipeline over HTTP: session creation,
// incremental load-more, and server-sent-event evaluation streaming.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-pipeline/internal/evaluator"
	"github.com/sells-group/prospect-pipeline/internal/model"
	"github.com/sells-group/prospect-pipeline/internal/session"
	"github.com/sells-group/prospect-pipeline/internal/store"
)

const defaultBatchSize = 20

// Server handles the HTTP pipeline surface.
type Server struct {
	orch   *session.Orchestrator
	rubric *evaluator.Rubric
}

// New creates a Server.
func New(orch *session.Orchestrator, rubric *evaluator.Rubric) *Server {
	return &Server{orch: orch, rubric: rubric}
}

// Router builds the chi router with middleware and all routes attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleStart)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Post("/{id}/more", s.handleLoadMore)
		r.Get("/{id}/evaluate", s.handleEvaluate)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var criteria model.Criteria
	if err := json.NewDecoder(r.Body).Decode(&criteria); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.orch.Start(r.Context(), criteria)
	if err != nil {
		zap.L().Error("server: start session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "discovery failed")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := store.SessionFilter{
		Status: model.SessionStatus(r.URL.Query().Get("status")),
	}
	sessions, err := s.orch.List(r.Context(), filter)
	if err != nil {
		zap.L().Error("server: list sessions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondSessionErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Count <= 0 {
		req.Count = defaultBatchSize
	}

	records, exhausted, err := s.orch.LoadMore(r.Context(), chi.URLParam(r, "id"), req.Count)
	if err != nil {
		respondSessionErr(w, err)
		return
	}
	if records == nil {
		records = []model.CollectedRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records":   records,
		"exhausted": exhausted,
	})
}

// handleEvaluate loads the next slice and streams one SSE event per scored
// record, terminated by a completed event. Client disconnect cancels the
// stream via the request context.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	count := defaultBatchSize
	if q := r.URL.Query().Get("count"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = n
	}

	id := chi.URLParam(r, "id")
	records, exhausted, err := s.orch.LoadMore(r.Context(), id, count)
	if err != nil {
		respondSessionErr(w, err)
		return
	}

	events, err := s.orch.EvaluateSlice(r.Context(), id, records, s.rubric)
	if err != nil {
		respondSessionErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		if ev.Type == model.EventCompleted {
			// The terminal event also tells the client whether another
			// evaluate call would return anything.
			writeSSE(w, "complete", map[string]any{
				"scored":    ev.Scored,
				"skipped":   ev.Skipped,
				"exhausted": exhausted,
			})
		} else {
			writeSSE(w, string(ev.Type), ev)
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		zap.L().Error("server: marshal sse payload", zap.Error(err))
		return
	}
	w.Write([]byte("event: " + event + "\n"))
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}

func respondSessionErr(w http.ResponseWriter, err error) {
	if eris.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	zap.L().Error("server: session operation failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
