package service

import "context"

// ConversationService defines the interface for history-keeping AI backends
// Front ends must go through this interface rather than a concrete session
type ConversationService interface {
	// Ask runs one turn for subjectID and returns displayable text.
	// The text is meaningful even when err is non-nil; err carries the typed cause.
	Ask(ctx context.Context, subjectID int64, text string) (string, error)

	// Clear drops the subject's stored history for this backend
	Clear(ctx context.Context, subjectID int64) error

	// GetProviderID returns the backend identifier used in logs and commands
	GetProviderID() string
}

var (
	_ ConversationService = (*GeminiSession)(nil)
	_ ConversationService = (*OracleSession)(nil)
	_ ConversationService = (*BlackboxSession)(nil)
)
