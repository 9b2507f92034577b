package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"ryuzaki-bot/internal/monitor"
	"ryuzaki-bot/internal/storage"
)

const (
	DefaultGeminiAPIBase = "https://generativelanguage.googleapis.com"
	DefaultGeminiVersion = "v1beta"
	DefaultGeminiModel   = "models/gemini-1.0-pro"
	DefaultGeminiMethod  = "generateContent"

	// ErrorRespondingText is the answer returned when the upstream response carries an error
	ErrorRespondingText = "Error responding"

	RoleUser  = "user"
	RoleModel = "model"
)

// GeminiConfig locates the generateContent endpoint
type GeminiConfig struct {
	APIBase string
	Version string
	Model   string
	Method  string
	APIKey  string
}

// Endpoint builds {base}/{version}/{model}:{method}?key={api_key}
func (c GeminiConfig) Endpoint() string {
	return fmt.Sprintf("%s/%s/%s:%s?key=%s", c.APIBase, c.Version, c.Model, c.Method, url.QueryEscape(c.APIKey))
}

// Part is one text fragment of a Content
type Part struct {
	Text string `json:"text"`
}

// Content is one generative-language turn
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// UserContent builds a user turn with a single text part
func UserContent(text string) Content {
	return Content{Role: RoleUser, Parts: []Part{{Text: text}}}
}

// ModelContent builds a model turn with a single text part
func ModelContent(text string) Content {
	return Content{Role: RoleModel, Parts: []Part{{Text: text}}}
}

// GenerateContentRequest is the generateContent request body
type GenerateContentRequest struct {
	Contents []Content `json:"contents"`
}

// Candidate is one generated alternative
type Candidate struct {
	Content *Content `json:"content,omitempty"`
}

// GenerateContentResponse is the subset of the generateContent response the sessions read.
// Error is kept raw: its presence, not its shape, decides the outcome.
type GenerateContentResponse struct {
	Candidates []Candidate     `json:"candidates,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
}

// HasError reports whether the response carried an "error" key
func (r *GenerateContentResponse) HasError() bool {
	return len(r.Error) > 0
}

// Text returns candidates[0].content.parts[0].text, or "" when any level is missing
func (r *GenerateContentResponse) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	content := r.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return ""
	}
	return content.Parts[0].Text
}

// Reply is the outcome of one conversational turn.
// Answer always holds displayable text; Err carries the typed cause when the turn failed.
type Reply struct {
	Answer  string
	History []Content
	Err     error
}

// Success reports whether the turn completed and was persisted
func (r *Reply) Success() bool {
	return r.Err == nil
}

func errorReply(err error, history []Content) *Reply {
	return &Reply{
		Answer:  "Error response: " + err.Error(),
		History: history,
		Err:     err,
	}
}

func upstreamErrorReply(resp *GenerateContentResponse, history []Content) *Reply {
	return &Reply{
		Answer:  ErrorRespondingText,
		History: history,
		Err:     fmt.Errorf("%w: %s", ErrUpstream, string(resp.Error)),
	}
}

// generativeClient posts generateContent requests
type generativeClient struct {
	invoker Invoker
	config  GeminiConfig
}

func (c *generativeClient) generate(ctx context.Context, contents []Content) (*GenerateContentResponse, error) {
	resp, err := c.invoker.Do(ctx, &Request{
		Method:  http.MethodPost,
		URL:     c.config.Endpoint(),
		Headers: map[string]string{"Content-Type": "application/json"},
		JSON:    GenerateContentRequest{Contents: contents},
	})
	if err != nil {
		return nil, err
	}

	var decoded GenerateContentResponse
	if err := resp.DecodeJSON(&decoded); err != nil {
		return nil, err
	}
	return &decoded, nil
}

// GeminiSession keeps a generative-language conversation per subject under gemini_chat
type GeminiSession struct {
	client *generativeClient
	store  storage.ConversationStore
	locker *monitor.SubjectLocker
	logger *slog.Logger
}

// NewGeminiSession creates a generative-language session backed by store
func NewGeminiSession(invoker Invoker, store storage.ConversationStore, config GeminiConfig, locker *monitor.SubjectLocker, logger *slog.Logger) *GeminiSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiSession{
		client: &generativeClient{invoker: invoker, config: config},
		store:  store,
		locker: locker,
		logger: logger,
	}
}

// GetProviderID returns the backend identifier
func (g *GeminiSession) GetProviderID() string {
	return "gemini"
}

// SubmitTurn appends query to the subject's history, asks the model and persists both turns.
// Failures never persist; they are reported through Reply.Answer and Reply.Err.
func (g *GeminiSession) SubmitTurn(ctx context.Context, subjectID int64, query string) *Reply {
	unlock := lockSubject(g.locker, storage.FieldGeminiChat, subjectID)
	defer unlock()

	logger := monitor.LoggerFromContext(ctx, g.logger).With("provider", g.GetProviderID(), "subject_id", subjectID)

	var history []Content
	raw, err := loadField(ctx, g.store, subjectID, storage.FieldGeminiChat)
	if err != nil {
		logger.Error("Failed to load conversation history", "error", err)
		return errorReply(err, history)
	}
	marker, err := decodeTurns(raw, &history)
	if err == nil && marker {
		err = fmt.Errorf("stored %s holds a marker, not a turn list", storage.FieldGeminiChat)
	}
	if err != nil {
		logger.Error("Stored conversation history is unreadable", "error", err)
		return errorReply(err, history)
	}

	history = append(history, UserContent(query))

	logger.Info("Sending turn to generative backend",
		"history_length", len(history),
		"query_length", len(query))

	resp, err := g.client.generate(ctx, history)
	if err != nil {
		logger.Error("Generative backend call failed", "error", err)
		return errorReply(err, history)
	}
	if resp.HasError() {
		logger.Warn("Generative backend returned an error", "error", string(resp.Error))
		return upstreamErrorReply(resp, history)
	}

	answer := resp.Text()
	history = append(history, ModelContent(answer))

	if err := saveField(ctx, g.store, subjectID, storage.FieldGeminiChat, history); err != nil {
		logger.Error("Failed to persist conversation history", "error", err)
		return errorReply(err, history)
	}

	return &Reply{Answer: answer, History: history}
}

// Ask implements ConversationService
func (g *GeminiSession) Ask(ctx context.Context, subjectID int64, text string) (string, error) {
	reply := g.SubmitTurn(ctx, subjectID, text)
	return reply.Answer, reply.Err
}

// Clear removes the subject's gemini_chat history. The document itself is kept.
func (g *GeminiSession) Clear(ctx context.Context, subjectID int64) error {
	unlock := lockSubject(g.locker, storage.FieldGeminiChat, subjectID)
	defer unlock()

	if err := g.store.UnsetField(ctx, subjectID, storage.FieldGeminiChat); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	g.logger.Info("Conversation history cleared", "provider", g.GetProviderID(), "subject_id", subjectID)
	return nil
}
