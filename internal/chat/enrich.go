package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/inkwell-labs/inkwell/internal/extract"
	"github.com/inkwell-labs/inkwell/internal/llm"
)

const enrichTimeout = 30 * time.Second

const enrichPrompt = `Given the exchange below, suggest three short follow-up questions the user might ask next. Respond with a JSON object: {"questions": ["...", "...", "..."]}.`

// enrich runs the best-effort follow-up-question generation after a
// completed generation. It is decoration: every failure is swallowed and
// logged, it never blocks the primary pipeline, and it is not
// user-cancellable (it is cheap and short).
func (s *Service) enrich(userText, assistantText string, p Presenter) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("enrichment panicked", slog.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
	defer cancel()

	resp, err := s.client.Chat(ctx, &llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: "user", Content: userText},
			{Role: "assistant", Content: assistantText},
			{Role: "user", Content: enrichPrompt},
		},
	})
	if err != nil {
		s.logger.Debug("enrichment call failed", slog.String("error", err.Error()))
		return
	}

	var out struct {
		Questions []string `json:"questions"`
	}
	if !extract.Object(resp.Content, &out) || len(out.Questions) == 0 {
		s.logger.Debug("enrichment produced no questions")
		return
	}

	if p != nil {
		p.Suggestions(out.Questions)
	}
}
