// Package server exposes the conversation service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/guilhermegouw/chatctx/internal/conversation"
	"github.com/guilhermegouw/chatctx/internal/debug"
	"github.com/guilhermegouw/chatctx/internal/message"
	"github.com/guilhermegouw/chatctx/internal/provider"
	"github.com/guilhermegouw/chatctx/internal/pubsub"
	"github.com/guilhermegouw/chatctx/internal/session"
	"github.com/guilhermegouw/chatctx/internal/tokens"
)

// maxBodyBytes bounds request bodies; contexts can be whole transcripts.
const maxBodyBytes = 8 << 20

// Server routes HTTP requests to the conversation service.
type Server struct {
	svc *conversation.Service
	hub *pubsub.Hub
}

// New returns the handler for all endpoints. hub may be nil.
func New(svc *conversation.Service, hub *pubsub.Hub) http.Handler {
	s := &Server{svc: svc, hub: hub}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/conversational/chat", s.handleChat)
	mux.HandleFunc("POST /api/conversational/clear", s.handleClear)
	mux.HandleFunc("GET /api/conversational/history", s.handleHistory)
	mux.HandleFunc("POST /api/summarize", s.handleSummarize)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return chain(mux, withCORS, withLogging)
}

type clearRequest struct {
	SessionID string `json:"session_id"`
}

type historyResponse struct {
	SessionID string            `json:"session_id"`
	Messages  []message.Message `json:"messages"`
}

type summarizeRequest struct {
	Transcript string `json:"transcript"`
	MaxTokens  *int   `json:"max_tokens"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

type healthResponse struct { //nolint:govet // fieldalignment: preserving logical field order
	Status    string                 `json:"status"`
	Brokers   []pubsub.BrokerMetrics `json:"brokers,omitempty"`
	Tokenizer *tokenizerStats        `json:"tokenizer,omitempty"`
}

type tokenizerStats struct {
	Encoding string `json:"encoding"`
	Hits     int64  `json:"cache_hits"`
	Misses   int64  `json:"cache_misses"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req conversation.Request
	if err := decode(w, r, &req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	res, err := s.svc.Ask(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleClear accepts the session id as a query parameter or in a JSON body.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" && r.ContentLength != 0 {
		var req clearRequest
		if err := decode(w, r, &req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		id = req.SessionID
	}

	if err := s.svc.ClearSession(r.Context(), strings.TrimSpace(id)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	msgs, err := s.svc.History(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: id, Messages: msgs})
}

// handleSummarize summarizes a transcript without touching any session.
func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := decode(w, r, &req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	maxTokens := conversation.DefaultSummaryTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	summary, err := s.svc.Summarize(r.Context(), req.Transcript, maxTokens)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarizeResponse{Summary: summary})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.hub != nil {
		resp.Brokers = s.hub.AllMetrics()
	}
	if est, ok := s.svc.Estimator().(*tokens.CachedEstimator); ok {
		hits, misses := est.Stats()
		resp.Tokenizer = &tokenizerStats{Encoding: est.Encoding(), Hits: hits, Misses: misses}
	}
	writeJSON(w, http.StatusOK, resp)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, conversation.ErrEmptyPrompt),
		errors.Is(err, conversation.ErrTranscriptTooShort),
		errors.Is(err, conversation.ErrSessionRequired),
		errors.Is(err, session.ErrInvalidRole):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrProvider),
		errors.Is(err, session.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		debug.Error("server", err, http.StatusText(status))
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // Client may have gone away.
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": msg,
	})
}
