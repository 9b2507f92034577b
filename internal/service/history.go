package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"ryuzaki-bot/internal/monitor"
	"ryuzaki-bot/internal/storage"
)

// loadField returns the raw value of field for userID, or nil when the document or field is absent
func loadField(ctx context.Context, store storage.ConversationStore, userID int64, field storage.HistoryField) (json.RawMessage, error) {
	doc, err := store.FindOne(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", field, err)
	}
	value, _ := doc.Field(field)
	return value, nil
}

// saveField writes value under field: update by internal id when a document exists, insert otherwise
func saveField(ctx context.Context, store storage.ConversationStore, userID int64, field storage.HistoryField, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", field, err)
	}

	doc, err := store.FindOne(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up document: %w", err)
	}

	if doc != nil {
		if err := store.UpdateField(ctx, doc.ID, field, raw); err != nil {
			return fmt.Errorf("failed to save %s: %w", field, err)
		}
		return nil
	}

	if _, err := store.InsertOne(ctx, userID, field, raw); err != nil {
		return fmt.Errorf("failed to save %s: %w", field, err)
	}
	return nil
}

// decodeTurns unmarshals a stored turn list into out.
// A JSON string (the persona marker) leaves out untouched and reports marker=true.
func decodeTurns(raw json.RawMessage, out any) (marker bool, err error) {
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if raw[0] == '"' {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("stored history is not a turn list: %w", err)
	}
	return false, nil
}

// lockKey names the per-subject lock for one backend's field
func lockKey(field storage.HistoryField, userID int64) string {
	return string(field) + ":" + strconv.FormatInt(userID, 10)
}

// lockSubject takes the subject lock, or does nothing when no locker is configured
func lockSubject(locker *monitor.SubjectLocker, field storage.HistoryField, userID int64) func() {
	if locker == nil {
		return func() {}
	}
	return locker.Lock(lockKey(field, userID))
}
