package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/inkwell-labs/inkwell/internal/extract"
	"github.com/inkwell-labs/inkwell/internal/invoice"
	"github.com/inkwell-labs/inkwell/internal/llm"
	"github.com/inkwell-labs/inkwell/internal/storage"
	"github.com/inkwell-labs/inkwell/internal/stream"
	"github.com/inkwell-labs/inkwell/internal/tokens"
)

const defaultIdleTimeout = 60 * time.Second

// invoiceSystemPrompt steers structured-build generations. The model is
// asked to embed one complete JSON object in its reply; the extractor
// picks it out of the surrounding prose on every delta.
const invoiceSystemPrompt = `You are drafting an invoice for the user. Alongside your reply, emit the invoice exactly once as a single JSON object (inside a fenced code block) with the fields: invoiceNumber, date, dueDate, from {name, email, address, phone}, to {name, email, address, phone}, items [{description, quantity, unitPrice}], notes, taxRate, discountRate.`

// Update is the read-only state pushed to the presenter after every
// buffer mutation. Invoice and Steps are nil outside structured-build
// mode.
type Update struct {
	SessionID string              `json:"sessionId"`
	Status    Status              `json:"status"`
	View      stream.View         `json:"view"`
	Invoice   *invoice.Invoice    `json:"invoice,omitempty"`
	Steps     []invoice.BuildStep `json:"steps,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Presenter receives pipeline state for rendering. Implementations must
// not retain the Update's slices beyond the call.
type Presenter interface {
	Update(u Update)
	Suggestions(questions []string)
}

// SendOptions carries per-send mode flags.
type SendOptions struct {
	Mode      Mode
	WebSearch bool
	Reasoning *llm.ReasoningConfig
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithIdleTimeout sets how long the stream may go without a frame before
// it is cancelled and surfaced as a transport failure.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Service) { s.idleTimeout = d }
}

// WithProgress replaces the build-step progress predicate. The default
// is the invoice-schema heuristic.
func WithProgress(fn invoice.ProgressFunc) Option {
	return func(s *Service) { s.progress = fn }
}

// Service runs generations. One session may stream per conversation at a
// time; a new send supersedes and cancels any prior one.
type Service struct {
	client      *llm.Client
	store       storage.ConversationStore
	budget      *tokens.Budgeter
	model       string
	logger      *slog.Logger
	idleTimeout time.Duration
	progress    invoice.ProgressFunc

	mu     sync.Mutex
	active map[string]*Session
}

// NewService creates a generation service.
func NewService(client *llm.Client, store storage.ConversationStore, budget *tokens.Budgeter, model string, opts ...Option) *Service {
	s := &Service{
		client:      client,
		store:       store,
		budget:      budget,
		model:       model,
		logger:      slog.Default(),
		idleTimeout: defaultIdleTimeout,
		progress:    invoice.Progress,
		active:      make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cancel stops the conversation's streaming session, if any. Cancelling
// is a silent stop, never an error.
func (s *Service) Cancel(conversationID string) {
	s.mu.Lock()
	sess := s.active[conversationID]
	s.mu.Unlock()
	if sess != nil {
		sess.Cancel()
	}
}

// supersede registers sess as the conversation's active session,
// cancelling any prior one so it contributes no further mutations.
func (s *Service) supersede(sess *Session) {
	s.mu.Lock()
	prev := s.active[sess.ConversationID]
	s.active[sess.ConversationID] = sess
	s.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
}

// detach drops the session from the active table once it has settled.
func (s *Service) detach(sess *Session) {
	s.mu.Lock()
	if s.active[sess.ConversationID] == sess {
		delete(s.active, sess.ConversationID)
	}
	s.mu.Unlock()
}

// Send runs one generation to completion, pushing state to the presenter
// after every mutation. It blocks until the session settles. The
// returned error is non-nil only for transport failures; cancellation
// settles the session silently.
func (s *Service) Send(ctx context.Context, conversationID, content string, opts SendOptions, p Presenter) (*Session, error) {
	if opts.Mode == "" {
		opts.Mode = ModePlain
	}

	sess := newSession(conversationID, opts.Mode)
	s.supersede(sess)
	defer s.detach(sess)

	if err := s.store.AppendMessage(ctx, &storage.Message{
		ConversationID: conversationID,
		Role:           "user",
		Content:        content,
	}); err != nil {
		s.logger.Warn("failed to persist user message",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()))
	}

	messages, err := s.buildHistory(ctx, conversationID, content)
	if err != nil {
		return nil, err
	}

	req := &llm.ChatRequest{
		Model:     s.model,
		Messages:  messages,
		Reasoning: opts.Reasoning,
		WebSearch: opts.WebSearch,
	}
	if opts.Mode == ModeStructuredBuild {
		req.SystemPrompt = invoiceSystemPrompt
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess.bindCancel(cancel)

	body, err := s.client.StreamChat(streamCtx, req)
	if err != nil {
		if streamCtx.Err() != nil {
			sess.setStatus(StatusCancelled)
			return sess, nil
		}
		sess.setStatus(StatusFailed)
		return sess, fmt.Errorf("start stream: %w", err)
	}
	defer body.Close()

	sess.setStatus(StatusStreaming)
	err = s.consume(streamCtx, sess, body, content, opts, p)
	return sess, err
}

// buildHistory loads the conversation, maps it to outbound messages, and
// trims the oldest turns to the token budget.
func (s *Service) buildHistory(ctx context.Context, conversationID, latest string) ([]llm.Message, error) {
	history, err := s.store.History(ctx, conversationID)
	if err != nil {
		s.logger.Warn("failed to read history, sending latest message only",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()))
		return []llm.Message{{Role: "user", Content: latest}}, nil
	}

	countable := make([]tokens.Countable, 0, len(history)+1)
	for _, m := range history {
		countable = append(countable, tokens.Countable{Role: m.Role, Content: m.Content})
	}
	if len(countable) == 0 {
		countable = append(countable, tokens.Countable{Role: "user", Content: latest})
	}
	countable = s.budget.TrimMessages(countable)

	messages := make([]llm.Message, len(countable))
	for i, m := range countable {
		messages[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return messages, nil
}

type streamResult struct {
	ev  stream.Event
	err error
}

// consume drains decoded events, applying each one synchronously so two
// chunks never interleave partial mutations, and settles the session.
func (s *Service) consume(ctx context.Context, sess *Session, body io.Reader, userText string, opts SendOptions, p Presenter) error {
	acc := stream.NewAccumulator(opts.WebSearch)
	inv := sess.Invoice()
	steps := sess.Steps()

	events := make(chan streamResult)
	go func() {
		defer close(events)
		dec := stream.NewDecoder(body)
		for {
			ev, err := dec.Next()
			if err != nil {
				if err != io.EOF {
					events <- streamResult{err: err}
				}
				return
			}
			events <- streamResult{ev: ev}
		}
	}()

	idle := time.NewTimer(s.idleTimeout)
	defer idle.Stop()
	timedOut := false

loop:
	for {
		select {
		case r, ok := <-events:
			if !ok {
				// Stream ended; treat as normal completion even
				// without the sentinel frame.
				break loop
			}
			if r.err != nil {
				if ctx.Err() != nil && !timedOut {
					// Transport errors caused by our own cancel are
					// cancellation, not failure.
					r.err = context.Canceled
				}
				return s.settleError(sess, r.err, timedOut, p)
			}
			if r.ev.Kind == stream.EventDone {
				break loop
			}
			s.applyEvent(sess, acc, &inv, &steps, r.ev, p)

			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(s.idleTimeout)

		case <-idle.C:
			// No frame within the idle window: cancel the transport
			// and keep draining until the reader goroutine exits.
			timedOut = true
			sess.Cancel()
			idle.Reset(s.idleTimeout)
		}
	}

	if timedOut {
		return s.settleError(sess, context.Canceled, true, p)
	}
	if ctx.Err() != nil {
		return s.settleError(sess, context.Canceled, false, p)
	}

	s.finalize(sess, acc, inv, steps, userText, opts, p)
	return nil
}

// applyEvent folds one event into the buffers and, on a content delta in
// structured-build mode, re-runs extraction and merging.
func (s *Service) applyEvent(sess *Session, acc *stream.Accumulator, inv *invoice.Invoice, steps *[]invoice.BuildStep, ev stream.Event, p Presenter) {
	if ev.Kind == stream.EventMalformed {
		s.logger.Debug("skipping malformed frame",
			slog.String("session_id", sess.ID),
			slog.String("payload", ev.Text))
		return
	}

	view := acc.Apply(ev)

	if sess.Mode == ModeStructuredBuild && ev.Kind == stream.EventContent {
		var frag invoice.Fragment
		if extract.Object(acc.Content(), &frag) {
			*inv = invoice.Merge(*inv, frag)
			*steps = invoice.Advance(*steps, s.progress(inv))
		}
	}

	sess.record(view, *inv, *steps)
	s.present(sess, view, *inv, *steps, "", p)
}

// settleError distinguishes cancellation (silent stop, buffers intact)
// from transport failure (surfaced, buffers intact).
func (s *Service) settleError(sess *Session, err error, timedOut bool, p Presenter) error {
	if timedOut {
		terr := &llm.TransportError{Op: "stream", Err: fmt.Errorf("no frame within %s", s.idleTimeout)}
		sess.setStatus(StatusFailed)
		s.present(sess, sess.View(), sess.Invoice(), sess.Steps(), terr.Error(), p)
		s.logger.Warn("stream idle timeout",
			slog.String("session_id", sess.ID),
			slog.Duration("idle_timeout", s.idleTimeout))
		return terr
	}

	if errors.Is(err, context.Canceled) {
		sess.setStatus(StatusCancelled)
		s.present(sess, sess.View(), sess.Invoice(), sess.Steps(), "", p)
		s.logger.Info("generation cancelled", slog.String("session_id", sess.ID))
		return nil
	}

	sess.setStatus(StatusFailed)
	terr := &llm.TransportError{Op: "stream", Err: err}
	s.present(sess, sess.View(), sess.Invoice(), sess.Steps(), terr.Error(), p)
	s.logger.Error("stream failed",
		slog.String("session_id", sess.ID),
		slog.String("error", err.Error()))
	return terr
}

// finalize runs the completion transition: a final merge pass, aggregate
// lock, durable append of the assistant turn, and the one-shot
// enrichment task.
func (s *Service) finalize(sess *Session, acc *stream.Accumulator, inv invoice.Invoice, steps []invoice.BuildStep, userText string, opts SendOptions, p Presenter) {
	acc.Finish()
	view := acc.View()

	if sess.Mode == ModeStructuredBuild {
		var frag invoice.Fragment
		if extract.Object(acc.Content(), &frag) {
			inv = invoice.Merge(inv, frag)
		}
		steps = invoice.Finalize(steps)
	}

	sess.record(view, inv, steps)
	sess.setStatus(StatusCompleted)

	meta := map[string]string{"mode": string(sess.Mode)}
	if view.Reasoning != "" {
		meta["reasoning"] = view.Reasoning
	}
	if len(view.Citations) > 0 {
		if b, err := json.Marshal(view.Citations); err == nil {
			meta["citations"] = string(b)
		}
	}
	if sess.Mode == ModeStructuredBuild {
		if b, err := json.Marshal(inv); err == nil {
			meta["invoice"] = string(b)
		}
	}

	if err := s.store.AppendMessage(context.Background(), &storage.Message{
		ConversationID: sess.ConversationID,
		Role:           "assistant",
		Content:        view.Content,
		Meta:           meta,
	}); err != nil {
		s.logger.Error("failed to persist assistant message",
			slog.String("conversation_id", sess.ConversationID),
			slog.String("error", err.Error()))
	}

	s.present(sess, view, inv, steps, "", p)

	if sess.markEnriched() {
		go s.enrich(userText, view.Content, p)
	}

	s.logger.Info("generation completed",
		slog.String("session_id", sess.ID),
		slog.String("mode", string(sess.Mode)),
		slog.Int("content_len", len(view.Content)))
}

func (s *Service) present(sess *Session, view stream.View, inv invoice.Invoice, steps []invoice.BuildStep, errMsg string, p Presenter) {
	if p == nil {
		return
	}
	u := Update{
		SessionID: sess.ID,
		Status:    sess.Status(),
		View:      view,
		Error:     errMsg,
	}
	if sess.Mode == ModeStructuredBuild {
		invCopy := inv
		u.Invoice = &invCopy
		u.Steps = steps
	}
	p.Update(u)
}
