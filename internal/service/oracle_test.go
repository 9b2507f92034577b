package service

import (
	"context"
	"errors"
	"testing"

	"ryuzaki-bot/internal/monitor"
	"ryuzaki-bot/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPersona = "You are Ryuzaki, a terse detective."

func newTestOracle(invoker Invoker, store storage.ConversationStore) *OracleSession {
	config := GeminiConfig{
		APIBase: "https://generativelanguage.test",
		Version: DefaultGeminiVersion,
		Model:   DefaultGeminiModel,
		Method:  DefaultGeminiMethod,
		APIKey:  "test-key",
	}
	return NewOracleSession(invoker, store, config, testPersona, monitor.NewSubjectLocker(0), testLogger())
}

func TestOracleFirstTurnSeedsPersona(t *testing.T) {
	store := storage.NewMemoryStore()
	invoker := (&stubInvoker{}).reply(200, candidateBody("Elementary."))
	oracle := newTestOracle(invoker, store)

	reply := oracle.SubmitTurn(context.Background(), 1, "who did it?")

	require.True(t, reply.Success(), "unexpected error: %v", reply.Err)
	assert.Equal(t, "Elementary.", reply.Answer)

	seeded := UserContent(testPersona + "\n\nwho did it?")
	var sent GenerateContentRequest
	invoker.payload(t, 0, &sent)
	assert.Equal(t, []Content{seeded}, sent.Contents)

	// Stored under the derived id, never under the plain subject id
	assert.Equal(t, []Content{seeded, ModelContent("Elementary.")}, storedContents(t, store, StoredID(1), storage.FieldOracleChat))
	doc, err := store.FindOne(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestOracleSeededTurnSendsBareQuery(t *testing.T) {
	store := storage.NewMemoryStore()
	invoker := (&stubInvoker{}).
		reply(200, candidateBody("first")).
		reply(200, candidateBody("second"))
	oracle := newTestOracle(invoker, store)
	ctx := context.Background()

	require.True(t, oracle.SubmitTurn(ctx, 2, "one").Success())
	reply := oracle.SubmitTurn(ctx, 2, "two")
	require.True(t, reply.Success())

	var sent GenerateContentRequest
	invoker.payload(t, 1, &sent)
	require.Len(t, sent.Contents, 3)
	assert.Equal(t, UserContent("two"), sent.Contents[2])

	assert.Len(t, storedContents(t, store, StoredID(2), storage.FieldOracleChat), 4)
}

func TestOracleRefusalRetriesExactlyOnce(t *testing.T) {
	store := storage.NewMemoryStore()
	invoker := (&stubInvoker{}).
		reply(200, candidateBody("Sorry. "+RefusalSignature+" I cannot help.")).
		reply(200, candidateBody("In character now."))
	oracle := newTestOracle(invoker, store)

	reply := oracle.SubmitTurn(context.Background(), 3, "hello")

	require.True(t, reply.Success())
	assert.Equal(t, "In character now.", reply.Answer)
	assert.Equal(t, 2, invoker.calls())

	var retry GenerateContentRequest
	invoker.payload(t, 1, &retry)
	assert.Equal(t, []Content{UserContent(testPersona)}, retry.Contents)

	history := storedContents(t, store, StoredID(3), storage.FieldOracleChat)
	require.Len(t, history, 2)
	assert.Equal(t, ModelContent("In character now."), history[1])
}

func TestOracleRefusedRetryIsNotRetriedAgain(t *testing.T) {
	store := storage.NewMemoryStore()
	invoker := (&stubInvoker{}).
		reply(200, candidateBody(RefusalSignature)).
		reply(200, candidateBody(RefusalSignature))
	oracle := newTestOracle(invoker, store)

	reply := oracle.SubmitTurn(context.Background(), 4, "hello")

	require.True(t, reply.Success())
	assert.Equal(t, 2, invoker.calls())
}

func TestOracleRetryFailureClearsHistory(t *testing.T) {
	store := storage.NewMemoryStore()
	invoker := (&stubInvoker{}).
		reply(200, candidateBody(RefusalSignature)).
		fail(errors.New("connection reset")).
		reply(200, candidateBody("fresh start"))
	oracle := newTestOracle(invoker, store)
	ctx := context.Background()

	reply := oracle.SubmitTurn(ctx, 5, "hello")
	assert.False(t, reply.Success())
	assert.Contains(t, reply.Answer, "Error response: ")
	assert.Contains(t, reply.Answer, "connection reset")

	_, ok := storedField(t, store, StoredID(5), storage.FieldOracleChat)
	assert.False(t, ok, "history must be cleared")

	// Back to unseeded: the next turn carries the persona again
	require.True(t, oracle.SubmitTurn(ctx, 5, "again").Success())
	var sent GenerateContentRequest
	invoker.payload(t, 2, &sent)
	assert.Equal(t, []Content{UserContent(testPersona + "\n\nagain")}, sent.Contents)
}

func TestOracleTransportFailureClearsHistory(t *testing.T) {
	store := storage.NewMemoryStore()
	invoker := (&stubInvoker{}).
		reply(200, candidateBody("one")).
		fail(errors.New("timeout"))
	oracle := newTestOracle(invoker, store)
	ctx := context.Background()

	require.True(t, oracle.SubmitTurn(ctx, 6, "one").Success())
	require.Len(t, storedContents(t, store, StoredID(6), storage.FieldOracleChat), 2)

	reply := oracle.SubmitTurn(ctx, 6, "two")
	assert.Equal(t, "Error response: timeout", reply.Answer)

	_, ok := storedField(t, store, StoredID(6), storage.FieldOracleChat)
	assert.False(t, ok)
}

// cancelAwareStore refuses writes on a done context like the SQL backends do
type cancelAwareStore struct {
	*storage.MemoryStore
}

func (c cancelAwareStore) UnsetField(ctx context.Context, userID int64, field storage.HistoryField) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.MemoryStore.UnsetField(ctx, userID, field)
}

// cancellingInvoker ends the turn's context before failing, as a deadline would
type cancellingInvoker struct {
	cancel context.CancelFunc
}

func (c cancellingInvoker) Do(ctx context.Context, req *Request) (*Response, error) {
	c.cancel()
	return nil, ctx.Err()
}

func TestOracleClearsHistoryAfterTurnDeadline(t *testing.T) {
	store := cancelAwareStore{storage.NewMemoryStore()}
	seeded := newTestOracle((&stubInvoker{}).reply(200, candidateBody("one")), store)
	require.True(t, seeded.SubmitTurn(context.Background(), 11, "one").Success())
	require.Len(t, storedContents(t, store, StoredID(11), storage.FieldOracleChat), 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	oracle := newTestOracle(cancellingInvoker{cancel: cancel}, store)

	reply := oracle.SubmitTurn(ctx, 11, "two")
	assert.ErrorIs(t, reply.Err, context.Canceled)

	_, ok := storedField(t, store, StoredID(11), storage.FieldOracleChat)
	assert.False(t, ok)
}

func TestOracleUpstreamErrorKeepsSeed(t *testing.T) {
	store := storage.NewMemoryStore()
	invoker := (&stubInvoker{}).
		reply(429, `{"error":{"code":429}}`).
		reply(200, candidateBody("ok"))
	oracle := newTestOracle(invoker, store)
	ctx := context.Background()

	reply := oracle.SubmitTurn(ctx, 7, "hello")
	assert.Equal(t, ErrorRespondingText, reply.Answer)
	assert.True(t, errors.Is(reply.Err, ErrUpstream))

	// Only the marker is stored, which still counts as unseeded
	raw, ok := storedField(t, store, StoredID(7), storage.FieldOracleChat)
	require.True(t, ok)
	assert.JSONEq(t, `"`+testPersona+`"`, string(raw))

	require.True(t, oracle.SubmitTurn(ctx, 7, "hello").Success())
	var sent GenerateContentRequest
	invoker.payload(t, 1, &sent)
	assert.Equal(t, []Content{UserContent(testPersona + "\n\nhello")}, sent.Contents)
}

func TestOracleClearReseeds(t *testing.T) {
	store := storage.NewMemoryStore()
	invoker := (&stubInvoker{}).
		reply(200, candidateBody("one")).
		reply(200, candidateBody("two"))
	oracle := newTestOracle(invoker, store)
	ctx := context.Background()

	require.True(t, oracle.SubmitTurn(ctx, 8, "first").Success())
	require.NoError(t, oracle.Clear(ctx, 8))

	reply := oracle.SubmitTurn(ctx, 8, "second")
	require.True(t, reply.Success())

	seeded := UserContent(testPersona + "\n\nsecond")
	assert.Equal(t, []Content{seeded, ModelContent("two")}, reply.History)
	assert.Equal(t, []Content{seeded, ModelContent("two")}, storedContents(t, store, StoredID(8), storage.FieldOracleChat))
}

func TestOracleIsolatedFromGemini(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	gemini := newTestGemini((&stubInvoker{}).reply(200, candidateBody("plain")), store)
	oracle := newTestOracle((&stubInvoker{}).reply(200, candidateBody("persona")), store)

	require.True(t, gemini.SubmitTurn(ctx, 9, "q").Success())
	require.True(t, oracle.SubmitTurn(ctx, 9, "q").Success())

	assert.Len(t, storedContents(t, store, 9, storage.FieldGeminiChat), 2)
	assert.Len(t, storedContents(t, store, StoredID(9), storage.FieldOracleChat), 2)
	assert.Equal(t, "oracle", oracle.GetProviderID())
}
