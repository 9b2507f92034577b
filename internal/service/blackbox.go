package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"ryuzaki-bot/internal/monitor"
	"ryuzaki-bot/internal/storage"
)

const (
	DefaultBlackboxURL       = "https://www.blackbox.ai/api/chat"
	DefaultBlackboxOrigin    = "https://www.blackbox.ai"
	DefaultBlackboxUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko)Chrome/121.0.0.0 Safari/537.36"

	// ChatCorrelationID is sent as the id of every chat message and of the payload itself
	ChatCorrelationID = "XM7KpOE"

	// ChatSyntheticUserID is the fixed userId the chat backend expects
	ChatSyntheticUserID = "87cdaa48-cdad-4dda-bef5-6087d6fc72f6"

	// ChatSentinel is stripped from every chat response
	ChatSentinel = "$@$v=undefined-rv1$@$"

	// NoResponseText is the answer for an empty or failed chat response
	NoResponseText = "No Response"

	RoleAssistant = "assistant"
)

// BlackboxConfig holds the chat endpoint and its request headers
type BlackboxConfig struct {
	URL         string
	Origin      string
	UserAgent   string
	Cookie      string
	ContentType string

	// PersistHistory stores each successful exchange under blackbox_chat.
	// When false the stored history is read but never written.
	PersistHistory bool
}

// DefaultBlackboxConfig returns the public endpoint with history persistence enabled
func DefaultBlackboxConfig() BlackboxConfig {
	return BlackboxConfig{
		URL:            DefaultBlackboxURL,
		Origin:         DefaultBlackboxOrigin,
		UserAgent:      DefaultBlackboxUserAgent,
		ContentType:    "application/json",
		PersistHistory: true,
	}
}

// ChatMessage is one chat-backend turn
type ChatMessage struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Role    string `json:"role"`
}

// chatPayload is the fixed request body of the chat endpoint. Nil pointers encode as null.
type chatPayload struct {
	AgentMode         struct{}      `json:"agentMode"`
	CodeModelMode     bool          `json:"codeModelMode"`
	ID                string        `json:"id"`
	IsMicMode         bool          `json:"isMicMode"`
	MaxTokens         *int          `json:"maxTokens"`
	Messages          []ChatMessage `json:"messages"`
	PreviewToken      *string       `json:"previewToken"`
	TrendingAgentMode struct{}      `json:"trendingAgentMode"`
	UserID            string        `json:"userId"`
	UserSystemPrompt  *string       `json:"userSystemPrompt"`
}

func newChatPayload(messages []ChatMessage) chatPayload {
	return chatPayload{
		CodeModelMode: true,
		ID:            ChatCorrelationID,
		Messages:      messages,
		UserID:        ChatSyntheticUserID,
	}
}

// ChatResult is the outcome of one chat turn.
// Successful and "No Response" results encode as {answer, success}; failures as {results, success}.
type ChatResult struct {
	Answer  string
	Results string
	Success bool
	Err     error
}

// MarshalJSON keeps the answer/results split of the result shape
func (r ChatResult) MarshalJSON() ([]byte, error) {
	if r.Results != "" {
		return json.Marshal(struct {
			Results string `json:"results"`
			Success bool   `json:"success"`
		}{r.Results, r.Success})
	}
	return json.Marshal(struct {
		Answer  string `json:"answer"`
		Success bool   `json:"success"`
	}{r.Answer, r.Success})
}

// Text returns whichever of Answer or Results is set
func (r ChatResult) Text() string {
	if r.Results != "" {
		return r.Results
	}
	return r.Answer
}

func chatFailure(err error) ChatResult {
	return ChatResult{Results: err.Error(), Err: err}
}

// decodeUserText percent-decodes valid %XX escapes and keeps malformed ones literally.
// '+' is not a space. Invalid UTF-8 after decoding becomes U+FFFD.
func decodeUserText(text string) string {
	if !strings.Contains(text, "%") {
		return text
	}

	var buf bytes.Buffer
	buf.Grow(len(text))
	for i := 0; i < len(text); i++ {
		if text[i] == '%' && i+2 < len(text) {
			hi, okHi := unhex(text[i+1])
			lo, okLo := unhex(text[i+2])
			if okHi && okLo {
				buf.WriteByte(hi<<4 | lo)
				i += 2
				continue
			}
		}
		buf.WriteByte(text[i])
	}
	return strings.ToValidUTF8(buf.String(), "\uFFFD")
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// extractBlackboxAnswer drops the sentinel and the two leading blocks the backend prepends
func extractBlackboxAnswer(body string) string {
	clean := strings.ReplaceAll(body, ChatSentinel, "")
	segments := strings.SplitN(clean, "\n\n", 3)
	if len(segments) >= 3 {
		return segments[2]
	}
	return clean
}

// BlackboxSession keeps a chat-backend conversation per subject under blackbox_chat
type BlackboxSession struct {
	invoker Invoker
	store   storage.ConversationStore
	config  BlackboxConfig
	locker  *monitor.SubjectLocker
	logger  *slog.Logger
}

// NewBlackboxSession creates a chat-backend session backed by store
func NewBlackboxSession(invoker Invoker, store storage.ConversationStore, config BlackboxConfig, locker *monitor.SubjectLocker, logger *slog.Logger) *BlackboxSession {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ContentType == "" {
		config.ContentType = "application/json"
	}
	return &BlackboxSession{
		invoker: invoker,
		store:   store,
		config:  config,
		locker:  locker,
		logger:  logger,
	}
}

// GetProviderID returns the backend identifier
func (b *BlackboxSession) GetProviderID() string {
	return "blackbox"
}

func (b *BlackboxSession) headers() map[string]string {
	headers := map[string]string{
		"Content-Type": b.config.ContentType,
		"Origin":       b.config.Origin,
		"User-Agent":   b.config.UserAgent,
	}
	if b.config.Cookie != "" {
		headers["Cookie"] = b.config.Cookie
	}
	return headers
}

// SubmitTurn sends userText after the stored history and returns the cleaned answer
func (b *BlackboxSession) SubmitTurn(ctx context.Context, subjectID int64, userText string) ChatResult {
	unlock := lockSubject(b.locker, storage.FieldBlackboxChat, subjectID)
	defer unlock()

	logger := monitor.LoggerFromContext(ctx, b.logger).With("provider", b.GetProviderID(), "subject_id", subjectID)

	raw, err := loadField(ctx, b.store, subjectID, storage.FieldBlackboxChat)
	if err != nil {
		logger.Error("Failed to load chat history", "error", err)
		return chatFailure(err)
	}

	var history []ChatMessage
	marker, err := decodeTurns(raw, &history)
	if err == nil && marker {
		err = fmt.Errorf("stored %s holds a marker, not a turn list", storage.FieldBlackboxChat)
	}
	if err != nil {
		logger.Error("Stored chat history is unreadable", "error", err)
		return chatFailure(err)
	}

	messages := append(history, ChatMessage{
		ID:      ChatCorrelationID,
		Content: decodeUserText(userText),
		Role:    RoleUser,
	})

	logger.Info("Sending turn to chat backend", "history_length", len(history))

	resp, err := b.invoker.Do(ctx, &Request{
		Method:  http.MethodPost,
		URL:     b.config.URL,
		Headers: b.headers(),
		JSON:    newChatPayload(messages),
	})
	if err != nil {
		logger.Error("Chat backend call failed", "error", err)
		return chatFailure(err)
	}
	if !resp.Truthy() {
		logger.Warn("Chat backend returned no usable response", "status", resp.StatusCode)
		return ChatResult{Answer: NoResponseText, Err: fmt.Errorf("%w: status %d", ErrNoResponse, resp.StatusCode)}
	}

	answer := extractBlackboxAnswer(resp.Text())

	if b.config.PersistHistory {
		messages = append(messages, ChatMessage{
			ID:      ChatCorrelationID,
			Content: answer,
			Role:    RoleAssistant,
		})
		if err := saveField(ctx, b.store, subjectID, storage.FieldBlackboxChat, messages); err != nil {
			logger.Error("Failed to persist chat history", "error", err)
			return chatFailure(err)
		}
	}

	return ChatResult{Answer: answer, Success: true}
}

// Ask implements ConversationService
func (b *BlackboxSession) Ask(ctx context.Context, subjectID int64, text string) (string, error) {
	result := b.SubmitTurn(ctx, subjectID, text)
	return result.Text(), result.Err
}

// Clear removes the subject's blackbox_chat history
func (b *BlackboxSession) Clear(ctx context.Context, subjectID int64) error {
	unlock := lockSubject(b.locker, storage.FieldBlackboxChat, subjectID)
	defer unlock()

	if err := b.store.UnsetField(ctx, subjectID, storage.FieldBlackboxChat); err != nil {
		return fmt.Errorf("failed to clear chat history: %w", err)
	}
	b.logger.Info("Chat history cleared", "provider", b.GetProviderID(), "subject_id", subjectID)
	return nil
}
