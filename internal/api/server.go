package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/elin-hagberg/careform/internal/extractor"
	"github.com/elin-hagberg/careform/internal/notify"
	"github.com/elin-hagberg/careform/internal/store"
)

// Server exposes the answer set for review and human correction while a
// session is open. Edits made here take the human provenance and lock
// their questions against further oracle updates.
type Server struct {
	router   *chi.Mux
	port     int
	store    *store.Store
	notifier *notify.Publisher
	logger   *slog.Logger
}

func NewServer(port int, apiToken string, st *store.Store, n *notify.Publisher, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		store:    st,
		notifier: n,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		if apiToken != "" {
			r.Use(BearerAuthMiddleware(apiToken))
		}
		r.Get("/status", s.status)
		r.Get("/questions", s.questions)
		r.Get("/answers", s.answers)
		r.Put("/answers/{id}", s.putAnswer)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// BearerAuthMiddleware rejects requests whose Authorization header does
// not carry the expected bearer token.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	answers := s.store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "careform",
		"questions": len(s.store.Survey().Questions),
		"answered":  len(answers),
		"protected": len(s.store.Protected()),
	})
}

type questionPayload struct {
	ID      string   `json:"id"`
	Field   string   `json:"field"`
	Text    string   `json:"text"`
	Type    string   `json:"type"`
	Options []string `json:"options,omitempty"`
}

func (s *Server) questions(w http.ResponseWriter, r *http.Request) {
	qs := s.store.Survey().Questions
	payload := make([]questionPayload, 0, len(qs))
	for _, q := range qs {
		payload = append(payload, questionPayload{
			ID:      q.ID,
			Field:   q.Field,
			Text:    q.Text,
			Type:    string(q.Type),
			Options: q.Options,
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) answers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

type editRequest struct {
	Answer    extractor.Value `json:"answer"`
	Rationale string          `json:"rationale"`
}

func (s *Server) putAnswer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.store.Survey().ByID(id) == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown question id %q", id))
		return
	}

	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	edit := []extractor.ProposedAnswer{{
		QuestionID: id,
		Answer:     req.Answer,
		Rationale:  req.Rationale,
	}}
	if err := s.store.Merge(r.Context(), edit, store.ProvenanceHuman); err != nil {
		if errors.Is(err, store.ErrPersistence) {
			s.logger.Error("persist human edit", "question_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to persist answer")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.notifier.AnswerUpdated(notify.AnswerEvent{
		QuestionID: id,
		Certainty:  extractor.CertaintyHigh,
		Provenance: string(store.ProvenanceHuman),
	})

	rec, _ := s.store.Get(id)
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
