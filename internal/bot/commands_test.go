package bot

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"ryuzaki-bot/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConversation struct {
	id      string
	answer  string
	err     error
	asked   []string
	cleared []int64
	subject int64
}

func (f *fakeConversation) Ask(ctx context.Context, subjectID int64, text string) (string, error) {
	f.subject = subjectID
	f.asked = append(f.asked, text)
	return f.answer, f.err
}

func (f *fakeConversation) Clear(ctx context.Context, subjectID int64) error {
	f.cleared = append(f.cleared, subjectID)
	return nil
}

func (f *fakeConversation) GetProviderID() string { return f.id }

// fakeBans mirrors BanClient semantics for the delete guard
type fakeBans struct {
	name    string
	calls   []string
	deleted bool
}

func (f *fakeBans) Name() string { return f.name }

func (f *fakeBans) AddBan(ctx context.Context, userID int64, reason string, isBanned bool) (string, error) {
	f.calls = append(f.calls, "add")
	return "Banned " + reason, nil
}

func (f *fakeBans) GetBan(ctx context.Context, userID int64, banlist bool) (json.RawMessage, error) {
	f.calls = append(f.calls, "get")
	return json.RawMessage(`{"user_id":1,"is_banned":true}`), nil
}

func (f *fakeBans) UnbanDelete(ctx context.Context, userID int64, delete bool) (json.RawMessage, error) {
	if !delete {
		return nil, &service.ArgumentError{Flag: "delete"}
	}
	f.calls = append(f.calls, "del")
	f.deleted = true
	return json.RawMessage(`{"message":"removed"}`), nil
}

func (f *fakeBans) GetAllBanlist(ctx context.Context) (json.RawMessage, error) {
	f.calls = append(f.calls, "list")
	return json.RawMessage(`[1,2,3]`), nil
}

func newFakeServices() (*Services, *fakeConversation, *fakeConversation, *fakeConversation, *fakeBans) {
	gemini := &fakeConversation{id: "gemini", answer: "gemini says hi"}
	oracle := &fakeConversation{id: "oracle", answer: "the oracle speaks"}
	blackbox := &fakeConversation{id: "blackbox", answer: "blackbox answer"}
	bans := &fakeBans{name: "sibyl"}
	return &Services{
		Gemini:   gemini,
		Oracle:   oracle,
		Blackbox: blackbox,
		Bans:     []BanService{bans},
		Logger:   discardLogger(),
	}, gemini, oracle, blackbox, bans
}

func admin(ok bool) func(context.Context) (bool, error) {
	return func(context.Context) (bool, error) { return ok, nil }
}

func run(t *testing.T, svcs *Services, caller Caller, args ...string) (string, error) {
	t.Helper()
	return Execute(context.Background(), NewCommandTree(svcs, caller), args)
}

func TestAskCommandsRouteToBackends(t *testing.T) {
	svcs, gemini, oracle, blackbox, _ := newFakeServices()
	caller := Caller{SubjectID: 42}

	out, err := run(t, svcs, caller, "ask", "what", "is", "--go?")
	require.NoError(t, err)
	assert.Equal(t, "gemini says hi\n", out)
	assert.Equal(t, []string{"what is --go?"}, gemini.asked)
	assert.Equal(t, int64(42), gemini.subject)

	out, err = run(t, svcs, caller, "oracle", "hello")
	require.NoError(t, err)
	assert.Equal(t, "the oracle speaks\n", out)
	assert.Len(t, oracle.asked, 1)

	out, err = run(t, svcs, caller, "blackbox", "hello")
	require.NoError(t, err)
	assert.Equal(t, "blackbox answer\n", out)
	assert.Len(t, blackbox.asked, 1)
}

func TestAskCommandPrintsEmbeddedErrors(t *testing.T) {
	svcs, gemini, _, _, _ := newFakeServices()
	gemini.answer = "Error responding"
	gemini.err = service.ErrUpstream

	out, err := run(t, svcs, Caller{SubjectID: 1}, "ask", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Error responding\n", out)
}

func TestAskCommandRequiresText(t *testing.T) {
	svcs, _, _, _, _ := newFakeServices()

	_, err := run(t, svcs, Caller{}, "ask")
	assert.Error(t, err)
}

func TestOracleCommandMissingWhenDisabled(t *testing.T) {
	svcs, _, _, _, _ := newFakeServices()
	svcs.Oracle = nil

	_, err := run(t, svcs, Caller{}, "oracle", "hi")
	assert.ErrorContains(t, err, "unknown command")
}

func TestClearCommand(t *testing.T) {
	svcs, gemini, oracle, blackbox, _ := newFakeServices()
	caller := Caller{SubjectID: 9}

	out, err := run(t, svcs, caller, "clear", "oracle")
	require.NoError(t, err)
	assert.Equal(t, "Cleared oracle history.\n", out)
	assert.Equal(t, []int64{9}, oracle.cleared)
	assert.Empty(t, gemini.cleared)

	out, err = run(t, svcs, caller, "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared gemini history.")
	assert.Contains(t, out, "Cleared blackbox history.")
	assert.Equal(t, []int64{9}, blackbox.cleared)

	_, err = run(t, svcs, caller, "clear", "nonsense")
	assert.Error(t, err)
}

func TestBanCommandsRequireAdmin(t *testing.T) {
	svcs, _, _, _, bans := newFakeServices()

	_, err := run(t, svcs, Caller{SubjectID: 1}, "sibyl", "list")
	assert.ErrorIs(t, err, ErrNotAdmin)

	_, err = run(t, svcs, Caller{SubjectID: 1, IsAdmin: admin(false)}, "sibyl", "add", "5", "spam")
	assert.ErrorIs(t, err, ErrNotAdmin)

	_, err = run(t, svcs, Caller{SubjectID: 1, IsAdmin: func(context.Context) (bool, error) {
		return false, errors.New("discord down")
	}}, "sibyl", "list")
	assert.ErrorContains(t, err, "discord down")

	assert.Empty(t, bans.calls)
}

func TestBanCommandsForAdmins(t *testing.T) {
	svcs, _, _, _, bans := newFakeServices()
	caller := Caller{SubjectID: 1, IsAdmin: admin(true)}

	out, err := run(t, svcs, caller, "sibyl", "add", "<@123>", "spam", "links")
	require.NoError(t, err)
	assert.Equal(t, "Banned spam links\n", out)

	out, err = run(t, svcs, caller, "sibyl", "get", "123")
	require.NoError(t, err)
	assert.Contains(t, out, `"is_banned": true`)

	out, err = run(t, svcs, caller, "sibyl", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "```json")

	assert.Equal(t, []string{"add", "get", "list"}, bans.calls)
}

func TestBanDeleteNeedsConfirmFlag(t *testing.T) {
	svcs, _, _, _, bans := newFakeServices()
	caller := Caller{SubjectID: 1, IsAdmin: admin(true)}

	_, err := run(t, svcs, caller, "sibyl", "del", "123")
	assert.ErrorIs(t, err, service.ErrInvalidArgument)
	assert.False(t, bans.deleted)

	_, err = run(t, svcs, caller, "sibyl", "del", "123", "--confirm")
	require.NoError(t, err)
	assert.True(t, bans.deleted)
}

func TestBanCommandRejectsBadUserID(t *testing.T) {
	svcs, _, _, _, _ := newFakeServices()

	_, err := run(t, svcs, Caller{IsAdmin: admin(true)}, "sibyl", "get", "someone")
	assert.ErrorContains(t, err, "invalid user id")
}

func TestHelpListsCommands(t *testing.T) {
	svcs, _, _, _, _ := newFakeServices()

	out, err := run(t, svcs, Caller{}, "help")
	require.NoError(t, err)
	for _, name := range []string{"ask", "oracle", "blackbox", "clear", "sibyl"} {
		assert.Contains(t, out, name)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		content string
		want    []string
		ok      bool
	}{
		{"!ask hello world", []string{"ask", "hello world"}, true},
		{"  !ASK  spaced\tout ", []string{"ask", "spaced\tout"}, true},
		{"!oracle line one\n\n  line  two", []string{"oracle", "line one\n\n  line  two"}, true},
		{"!blackbox\nfunc  main() {}", []string{"blackbox", "func  main() {}"}, true},
		{"!ask", []string{"ask"}, true},
		{"!sibyl  add 5\tspam  links", []string{"sibyl", "add", "5", "spam", "links"}, true},
		{"! clear gemini", []string{"clear", "gemini"}, true},
		{"!", nil, false},
		{"hello !ask", nil, false},
		{"?ask hi", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			got, ok := ParseCommand("!", tt.content)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
