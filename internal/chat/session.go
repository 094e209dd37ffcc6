// Package chat orchestrates one streaming generation end to end: it
// opens the upstream stream, feeds the decoder into the accumulator,
// runs speculative extraction and merging after every content delta, and
// settles the session in a terminal state.
package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/inkwell-labs/inkwell/internal/invoice"
	"github.com/inkwell-labs/inkwell/internal/stream"
)

// Mode selects what the model is asked to produce.
type Mode string

const (
	// ModePlain is ordinary conversational generation.
	ModePlain Mode = "plain"
	// ModeStructuredBuild additionally instructs the model to emit a
	// structured invoice object embedded in its output.
	ModeStructuredBuild Mode = "structured-build"
)

// Status is the lifecycle state of a generation session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Session is one in-flight or settled model response. The run loop owns
// the buffers exclusively while streaming; everything exported here is a
// copy or guarded by the mutex.
type Session struct {
	ID             string
	ConversationID string
	Mode           Mode

	mu       sync.Mutex
	status   Status
	cancel   context.CancelFunc
	view     stream.View
	invoice  invoice.Invoice
	steps    []invoice.BuildStep
	enriched bool
}

func newSession(conversationID string, mode Mode) *Session {
	s := &Session{
		ID:             "gen_" + uuid.New().String(),
		ConversationID: conversationID,
		Mode:           mode,
		status:         StatusPending,
	}
	if mode == ModeStructuredBuild {
		s.steps = invoice.DefaultSteps()
	}
	return s
}

// Status returns the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Session) bindCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// Cancel signals the transport to stop receiving further chunks. The run
// loop observes the cancellation at its next suspension point and
// settles the session as cancelled with its buffers intact.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// View returns the latest accumulated channel state.
func (s *Session) View() stream.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Invoice returns the current structured snapshot. Meaningful only in
// structured-build mode.
func (s *Session) Invoice() invoice.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoice
}

// Steps returns the current build-step progress.
func (s *Session) Steps() []invoice.BuildStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]invoice.BuildStep, len(s.steps))
	copy(out, s.steps)
	return out
}

func (s *Session) record(v stream.View, inv invoice.Invoice, steps []invoice.BuildStep) {
	s.mu.Lock()
	s.view = v
	s.invoice = inv
	s.steps = steps
	s.mu.Unlock()
}

// markEnriched flips the enrichment guard, reporting whether this call
// won the right to schedule the task.
func (s *Session) markEnriched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enriched {
		return false
	}
	s.enriched = true
	return true
}
