package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-labs/inkwell/internal/chat"
	"github.com/inkwell-labs/inkwell/internal/llm"
	"github.com/inkwell-labs/inkwell/internal/storage"
	"github.com/inkwell-labs/inkwell/internal/tokens"
)

type memStore struct {
	mu       sync.Mutex
	messages []*storage.Message
}

func (s *memStore) AppendMessage(_ context.Context, msg *storage.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *msg
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *memStore) History(_ context.Context, conversationID string) ([]*storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

// newTestServer wires a real service against a fake model backend.
func newTestServer(t *testing.T, upstream http.HandlerFunc) (*httptest.Server, *memStore) {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req llm.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Stream {
			upstream(w, r)
			return
		}
		// Enrichment call.
		json.NewEncoder(w).Encode(llm.ChatResponse{Content: `{"questions": ["Anything else?"]}`})
	}))
	t.Cleanup(backend.Close)

	store := &memStore{}
	client := llm.NewClient("test-key", llm.WithBaseURL(backend.URL))
	budget := tokens.NewBudgeter("gpt-4o", 32000)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := chat.NewService(client, store, budget, "gpt-4o", chat.WithLogger(logger))

	srv := httptest.NewServer(New(0, svc, store, logger).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

// readFrames collects the SSE data frames from a send response.
func readFrames(t *testing.T, body io.Reader) []map[string]any {
	t.Helper()
	var frames []map[string]any
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func frameTypes(frames []map[string]any) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i], _ = f["type"].(string)
	}
	return out
}

func TestSendStreamsUpdatesAndEnds(t *testing.T) {
	srv, store := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		flusher := w.(http.Flusher)
		for _, frame := range []string{`{"content":"Hello"}`, `{"content":" there"}`, `[DONE]`} {
			fmt.Fprintf(w, "data: %s\n", frame)
			flusher.Flush()
		}
	})

	resp, err := http.Post(srv.URL+"/api/conversations/conv-1/messages", "application/json",
		strings.NewReader(`{"content":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := readFrames(t, resp.Body)
	types := frameTypes(frames)
	require.NotEmpty(t, frames)

	assert.Contains(t, types, "update")
	assert.Contains(t, types, "suggestions")
	require.Equal(t, "end", types[len(types)-1])
	assert.Equal(t, "completed", frames[len(frames)-1]["status"])

	var sawFull bool
	for _, f := range frames {
		if f["type"] != "update" {
			continue
		}
		if view, ok := f["view"].(map[string]any); ok && view["content"] == "Hello there" {
			sawFull = true
		}
	}
	assert.True(t, sawFull, "final accumulated content never relayed")

	msgs, err := store.History(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "Hello there", msgs[1].Content)
}

func TestSendStructuredBuildRelaysInvoice(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		flusher := w.(http.Flusher)
		content := `{"content":"{\"invoiceNumber\":\"INV-7\",\"items\":[{\"description\":\"work\",\"quantity\":1,\"unitPrice\":50}]}"}`
		for _, frame := range []string{content, `[DONE]`} {
			fmt.Fprintf(w, "data: %s\n", frame)
			flusher.Flush()
		}
	})

	resp, err := http.Post(srv.URL+"/api/conversations/conv-1/messages", "application/json",
		strings.NewReader(`{"content":"bill it","mode":"structured-build"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	frames := readFrames(t, resp.Body)

	var inv map[string]any
	for _, f := range frames {
		if f["type"] == "update" {
			if m, ok := f["invoice"].(map[string]any); ok {
				inv = m
			}
		}
	}
	require.NotNil(t, inv, "no invoice snapshot relayed")
	assert.Equal(t, "INV-7", inv["invoiceNumber"])
	assert.Equal(t, 50.0, inv["total"])
}

func TestSendRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("backend must not be reached for invalid requests")
	})

	resp, err := http.Post(srv.URL+"/api/conversations/conv-1/messages", "application/json",
		strings.NewReader(`{not json`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/conversations/conv-1/messages", "application/json",
		strings.NewReader(`{"content":""}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendRelaysTransportFailure(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"content\":\"part\"}\n")
		flusher.Flush()
		panic(http.ErrAbortHandler)
	})

	resp, err := http.Post(srv.URL+"/api/conversations/conv-1/messages", "application/json",
		strings.NewReader(`{"content":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	frames := readFrames(t, resp.Body)
	require.NotEmpty(t, frames)

	last := frames[len(frames)-1]
	assert.Equal(t, "end", last["type"])
	assert.Equal(t, "error", last["status"])
	assert.NotEmpty(t, last["message"])
}

func TestCancelEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"content\":\"never ends\"}\n")
		flusher.Flush()
		<-r.Context().Done()
	})

	resp, err := http.Post(srv.URL+"/api/conversations/conv-1/messages", "application/json",
		strings.NewReader(`{"content":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	// Let the stream start, then cancel it out of band.
	time.Sleep(100 * time.Millisecond)
	cancelResp, err := http.Post(srv.URL+"/api/conversations/conv-1/cancel", "application/json", nil)
	require.NoError(t, err)
	cancelResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, cancelResp.StatusCode)

	frames := readFrames(t, resp.Body)
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, "end", last["type"])
	assert.Equal(t, "cancelled", last["status"])
}

func TestHistoryEndpoint(t *testing.T) {
	srv, store := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {})
	require.NoError(t, store.AppendMessage(context.Background(), &storage.Message{
		ConversationID: "conv-9", Role: "user", Content: "saved",
	}))

	resp, err := http.Get(srv.URL + "/api/conversations/conv-9/messages")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload struct {
		Messages []storage.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Messages, 1)
	assert.Equal(t, "saved", payload.Messages[0].Content)
}
