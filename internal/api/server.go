// Package api exposes the translation service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chat-translator/internal/domain"
	"chat-translator/internal/repository"
	"chat-translator/internal/usecase"
)

const maxBodyBytes = 64 << 10

type Translator interface {
	Translate(ctx context.Context, msg domain.Message) (domain.Outcome, error)
	Stats() usecase.Stats
}

// ConversationCounter reports how many conversations are held in memory.
type ConversationCounter interface {
	Len() int
}

// HistoryStats reads persisted per-conversation counters.
type HistoryStats interface {
	GetStats(ctx context.Context, conversationID string) (repository.Stats, error)
}

type Server struct {
	router        *chi.Mux
	svc           Translator
	conversations ConversationCounter
	history       HistoryStats
	logger        *slog.Logger
	started       time.Time
	httpServer    *http.Server
}

// NewServer wires the routes. history may be nil when durable history is
// disabled.
func NewServer(port int, svc Translator, conversations ConversationCounter, history HistoryStats, logger *slog.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("api: translator must not be nil")
	}
	if conversations == nil {
		return nil, errors.New("api: conversation counter must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:        router,
		svc:           svc,
		conversations: conversations,
		history:       history,
		logger:        logger.With("component", "api"),
		started:       time.Now(),
	}

	router.Get("/health", s.health)
	router.Get("/status", s.status)
	router.Post("/v1/translate", s.translate)
	router.Get("/v1/conversations/{id}/stats", s.conversationStats)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":       "chat-translator",
		"uptime":        time.Since(s.started).Round(time.Second).String(),
		"conversations": s.conversations.Len(),
		"persistence":   s.history != nil,
		"outcomes":      s.svc.Stats(),
	})
}

func (s *Server) translate(w http.ResponseWriter, r *http.Request) {
	var msg domain.Message
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(domain.ErrorInvalidInput), Reason: "invalid_json"})
		return
	}

	outcome, err := s.svc.Translate(r.Context(), msg)
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) && derr.Code == domain.ErrorInvalidInput {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(derr.Code), Reason: derr.Reason})
			return
		}
		s.logger.Error("translate failed", "err", err, "request_id", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "INTERNAL_ERROR"})
		return
	}
	writeJSON(w, http.StatusOK, domain.NewOutcomeView(msg, outcome))
}

func (s *Server) conversationStats(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Reason: "persistence_disabled"})
		return
	}
	stats, err := s.history.GetStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("conversation stats failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: string(domain.ErrorUpstream)})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
