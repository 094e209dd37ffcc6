package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inkwell-labs/inkwell/internal/chat"
	"github.com/inkwell-labs/inkwell/internal/llm"
)

// suggestionsWait bounds how long the SSE connection stays open after
// completion waiting for the enrichment task's follow-up questions.
const suggestionsWait = 10 * time.Second

type sendRequest struct {
	Content   string               `json:"content"`
	Mode      string               `json:"mode,omitempty"`
	WebSearch bool                 `json:"webSearch,omitempty"`
	Reasoning *llm.ReasoningConfig `json:"reasoning,omitempty"`
}

// handleSend runs one generation, relaying every pipeline update to the
// client as SSE frames. The response stays open until the session
// settles (plus a short window for follow-up suggestions).
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	p := newSSEPresenter(w, flusher)

	sess, err := s.svc.Send(r.Context(), conversationID, req.Content, chat.SendOptions{
		Mode:      chat.Mode(req.Mode),
		WebSearch: req.WebSearch,
		Reasoning: req.Reasoning,
	}, p)

	if err != nil {
		// Transport failures reach the client as a terminal frame; the
		// partial content already relayed stays displayed.
		var terr *llm.TransportError
		if errors.As(err, &terr) {
			p.terminal("error", terr.Error())
		} else {
			p.terminal("error", "generation failed")
		}
		s.logger.Error("generation failed",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()))
		p.close()
		return
	}

	if sess.Status() == chat.StatusCompleted {
		// Hold the connection briefly for the enrichment task; a
		// generation with no suggestions just times the window out.
		select {
		case <-p.suggested:
		case <-time.After(suggestionsWait):
		case <-r.Context().Done():
		}
	}

	p.terminal(string(sess.Status()), "")
	p.close()
}

// handleCancel stops the conversation's in-flight generation.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	s.svc.Cancel(conversationID)
	w.WriteHeader(http.StatusNoContent)
}

// handleHistory returns the conversation's persisted messages.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	msgs, err := s.store.History(r.Context(), conversationID)
	if err != nil {
		s.logger.Error("failed to read history",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()))
		http.Error(w, "failed to read history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"messages": msgs})
}

// ssePresenter relays pipeline updates to the HTTP client as
// "data: <json>" frames. Safe for the enrichment goroutine to call
// concurrently with the handler shutting the connection down.
type ssePresenter struct {
	mu        sync.Mutex
	w         http.ResponseWriter
	flusher   http.Flusher
	closed    bool
	suggested chan struct{}
	once      sync.Once
}

func newSSEPresenter(w http.ResponseWriter, flusher http.Flusher) *ssePresenter {
	return &ssePresenter{w: w, flusher: flusher, suggested: make(chan struct{})}
}

type sseFrame struct {
	Type string `json:"type"`
	chat.Update
	Questions []string `json:"questions,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// Update implements chat.Presenter.
func (p *ssePresenter) Update(u chat.Update) {
	p.write(sseFrame{Type: "update", Update: u})
}

// Suggestions implements chat.Presenter.
func (p *ssePresenter) Suggestions(questions []string) {
	p.write(sseFrame{Type: "suggestions", Questions: questions})
	p.once.Do(func() { close(p.suggested) })
}

func (p *ssePresenter) terminal(status, message string) {
	p.write(sseFrame{Type: "end", Message: message, Update: chat.Update{Status: chat.Status(status)}})
}

func (p *ssePresenter) write(frame sseFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	b, err := json.Marshal(frame)
	if err != nil {
		return
	}
	fmt.Fprintf(p.w, "data: %s\n\n", b)
	p.flusher.Flush()
}

func (p *ssePresenter) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
