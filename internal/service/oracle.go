package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"ryuzaki-bot/internal/monitor"
	"ryuzaki-bot/internal/storage"
)

const (
	// OracleSubjectOffset separates persona conversations from plain ones in the users collection
	OracleSubjectOffset int64 = 6000000

	// RefusalSignature identifies a generic non-answer that triggers one persona-only retry
	RefusalSignature = "I am a large language model, trained by Google."
)

// OracleSession is a GeminiSession variant whose first user turn carries a persona preamble.
//
// A conversation is unseeded while no turns are stored for the derived id (no document,
// field unset, or only the persona marker). The unseeded turn writes the marker and
// prefixes the query with the persona. Any failure clears the derived history so the
// next turn seeds again.
type OracleSession struct {
	client  *generativeClient
	store   storage.ConversationStore
	persona string
	locker  *monitor.SubjectLocker
	logger  *slog.Logger
}

// NewOracleSession creates a persona-seeded session
func NewOracleSession(invoker Invoker, store storage.ConversationStore, config GeminiConfig, persona string, locker *monitor.SubjectLocker, logger *slog.Logger) *OracleSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &OracleSession{
		client:  &generativeClient{invoker: invoker, config: config},
		store:   store,
		persona: persona,
		locker:  locker,
		logger:  logger,
	}
}

// GetProviderID returns the backend identifier
func (o *OracleSession) GetProviderID() string {
	return "oracle"
}

// StoredID maps a subject id onto the derived id used for persona conversations
func StoredID(subjectID int64) int64 {
	return subjectID + OracleSubjectOffset
}

// SubmitTurn runs one persona-seeded turn for subjectID
func (o *OracleSession) SubmitTurn(ctx context.Context, subjectID int64, query string) *Reply {
	storedID := StoredID(subjectID)
	unlock := lockSubject(o.locker, storage.FieldOracleChat, storedID)
	defer unlock()

	logger := monitor.LoggerFromContext(ctx, o.logger).With("provider", o.GetProviderID(), "subject_id", subjectID)

	var history []Content
	fail := func(err error) *Reply {
		logger.Error("Persona turn failed, clearing history", "error", err)
		// The turn's deadline may already have passed; the reset must still happen
		if clearErr := o.store.UnsetField(context.WithoutCancel(ctx), storedID, storage.FieldOracleChat); clearErr != nil {
			logger.Error("Failed to clear persona history", "error", clearErr)
		}
		return errorReply(err, history)
	}

	doc, err := o.store.FindOne(ctx, storedID)
	if err != nil {
		return fail(fmt.Errorf("failed to load %s: %w", storage.FieldOracleChat, err))
	}
	raw, _ := doc.Field(storage.FieldOracleChat)
	if _, err := decodeTurns(raw, &history); err != nil {
		return fail(err)
	}

	text := query
	if len(history) == 0 {
		if err := o.seed(ctx, doc, storedID); err != nil {
			return fail(err)
		}
		text = o.persona + "\n\n" + query
		logger.Info("Seeding persona conversation")
	}
	history = append(history, UserContent(text))

	resp, err := o.client.generate(ctx, history)
	if err != nil {
		return fail(err)
	}
	if resp.HasError() {
		logger.Warn("Generative backend returned an error", "error", string(resp.Error))
		return upstreamErrorReply(resp, history)
	}

	answer := resp.Text()
	if strings.Contains(answer, RefusalSignature) {
		logger.Warn("Refusal signature detected, retrying with persona only")

		retry, err := o.client.generate(ctx, []Content{UserContent(o.persona)})
		if err != nil {
			return fail(fmt.Errorf("persona retry failed: %w", err))
		}
		if retry.HasError() {
			logger.Warn("Persona retry returned an error", "error", string(retry.Error))
			return upstreamErrorReply(retry, history)
		}
		answer = retry.Text()
	}

	history = append(history, ModelContent(answer))
	if err := saveField(ctx, o.store, storedID, storage.FieldOracleChat, history); err != nil {
		return fail(err)
	}

	return &Reply{Answer: answer, History: history}
}

// seed stores the persona marker for an unseeded conversation
func (o *OracleSession) seed(ctx context.Context, doc *storage.UserDocument, storedID int64) error {
	marker, err := json.Marshal(o.persona)
	if err != nil {
		return fmt.Errorf("failed to encode persona marker: %w", err)
	}

	if doc == nil {
		if _, err := o.store.InsertOne(ctx, storedID, storage.FieldOracleChat, marker); err != nil {
			return fmt.Errorf("failed to insert persona marker: %w", err)
		}
		return nil
	}

	if err := o.store.UpdateField(ctx, doc.ID, storage.FieldOracleChat, marker); err != nil {
		return fmt.Errorf("failed to set persona marker: %w", err)
	}
	return nil
}

// Ask implements ConversationService
func (o *OracleSession) Ask(ctx context.Context, subjectID int64, text string) (string, error) {
	reply := o.SubmitTurn(ctx, subjectID, text)
	return reply.Answer, reply.Err
}

// Clear removes the persona history for subjectID; the next turn seeds again
func (o *OracleSession) Clear(ctx context.Context, subjectID int64) error {
	storedID := StoredID(subjectID)
	unlock := lockSubject(o.locker, storage.FieldOracleChat, storedID)
	defer unlock()

	if err := o.store.UnsetField(ctx, storedID, storage.FieldOracleChat); err != nil {
		return fmt.Errorf("failed to clear persona history: %w", err)
	}
	o.logger.Info("Persona history cleared", "provider", o.GetProviderID(), "subject_id", subjectID)
	return nil
}
