package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"ryuzaki-bot/internal/storage"

	"github.com/stretchr/testify/require"
)

// stubInvoker replays queued responses and records every request
type stubInvoker struct {
	mu        sync.Mutex
	responses []stubResponse
	requests  []*Request
}

type stubResponse struct {
	resp *Response
	err  error
}

func (s *stubInvoker) reply(status int, body string) *stubInvoker {
	s.responses = append(s.responses, stubResponse{resp: &Response{StatusCode: status, Body: []byte(body)}})
	return s
}

func (s *stubInvoker) fail(err error) *stubInvoker {
	s.responses = append(s.responses, stubResponse{err: err})
	return s
}

func (s *stubInvoker) Do(ctx context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return nil, errors.New("stub invoker: no response queued")
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next.resp, next.err
}

func (s *stubInvoker) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// payload decodes the JSON body of the nth request into v
func (s *stubInvoker) payload(t *testing.T, n int, v any) {
	t.Helper()
	s.mu.Lock()
	req := s.requests[n]
	s.mu.Unlock()

	raw, err := json.Marshal(req.JSON)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func candidateBody(text string) string {
	body, _ := json.Marshal(GenerateContentResponse{
		Candidates: []Candidate{{Content: &Content{Role: RoleModel, Parts: []Part{{Text: text}}}}},
	})
	return string(body)
}

// storedField returns the raw stored value of field for userID
func storedField(t *testing.T, store storage.ConversationStore, userID int64, field storage.HistoryField) (json.RawMessage, bool) {
	t.Helper()
	doc, err := store.FindOne(context.Background(), userID)
	require.NoError(t, err)
	return doc.Field(field)
}

func storedContents(t *testing.T, store storage.ConversationStore, userID int64, field storage.HistoryField) []Content {
	t.Helper()
	raw, ok := storedField(t, store, userID, field)
	if !ok {
		return nil
	}
	var history []Content
	require.NoError(t, json.Unmarshal(raw, &history))
	return history
}
