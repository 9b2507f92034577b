package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// HistoryField names a document field that holds one backend's conversation history
type HistoryField string

const (
	FieldBlackboxChat HistoryField = "blackbox_chat"
	FieldGeminiChat   HistoryField = "gemini_chat"
	FieldOracleChat   HistoryField = "oracle_chat"
)

// AllHistoryFields lists every field a UserDocument may carry, in column order
var AllHistoryFields = []HistoryField{FieldBlackboxChat, FieldGeminiChat, FieldOracleChat}

// ErrInvalidField is returned when a caller names a field outside AllHistoryFields
var ErrInvalidField = errors.New("invalid history field")

// Valid reports whether f is one of the known history fields
func (f HistoryField) Valid() bool {
	for _, known := range AllHistoryFields {
		if f == known {
			return true
		}
	}
	return false
}

func checkField(f HistoryField) error {
	if !f.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidField, string(f))
	}
	return nil
}

// UserDocument is one record of the users collection.
// A field missing from Fields is unset; present fields hold raw JSON.
type UserDocument struct {
	ID        int64                            `json:"id"`      // Store-internal record id
	UserID    int64                            `json:"user_id"` // Subject identifier (possibly derived)
	Fields    map[HistoryField]json.RawMessage `json:"fields"`
	CreatedAt int64                            `json:"created_at"`
	UpdatedAt int64                            `json:"updated_at"`
}

// Field returns the raw value of a field and whether it is set
func (d *UserDocument) Field(f HistoryField) (json.RawMessage, bool) {
	if d == nil || d.Fields == nil {
		return nil, false
	}
	v, ok := d.Fields[f]
	return v, ok
}

// ConversationStore defines the document operations the conversation sessions rely on
type ConversationStore interface {
	// Initialize opens the underlying connection and creates the schema
	Initialize(ctx context.Context) error

	// Close releases the underlying connection
	Close() error

	// FindOne returns the document for userID, or nil when none exists
	FindOne(ctx context.Context, userID int64) (*UserDocument, error)

	// InsertOne creates a new document holding a single field and returns its internal id
	InsertOne(ctx context.Context, userID int64, field HistoryField, value json.RawMessage) (int64, error)

	// UpdateField sets a field on the document with the given internal id
	UpdateField(ctx context.Context, id int64, field HistoryField, value json.RawMessage) error

	// UnsetField removes a field from the document for userID. Missing documents are not an error.
	UnsetField(ctx context.Context, userID int64, field HistoryField) error

	// HealthCheck verifies that the store is reachable
	HealthCheck(ctx context.Context) error
}
