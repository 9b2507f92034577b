package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"github.com/spf13/cobra"

	"ryuzaki-bot/internal/monitor"
	"ryuzaki-bot/internal/service"
)

// Conversational commands take free text: everything after the command word is one argument
const (
	cmdAsk      = "ask"
	cmdOracle   = "oracle"
	cmdBlackbox = "blackbox"
)

var freeTextCommands = map[string]bool{cmdAsk: true, cmdOracle: true, cmdBlackbox: true}

// ErrNotAdmin is returned when a moderation command is run without admin rights
var ErrNotAdmin = errors.New("this command requires admin permissions")

// BanService is the moderation surface the command tree drives
type BanService interface {
	Name() string
	AddBan(ctx context.Context, userID int64, reason string, isBanned bool) (string, error)
	GetBan(ctx context.Context, userID int64, banlist bool) (json.RawMessage, error)
	UnbanDelete(ctx context.Context, userID int64, delete bool) (json.RawMessage, error)
	GetAllBanlist(ctx context.Context) (json.RawMessage, error)
}

// Services groups the backends reachable from chat commands. Nil entries are not registered.
type Services struct {
	Gemini   service.ConversationService
	Oracle   service.ConversationService
	Blackbox service.ConversationService
	Bans     []BanService
	Logger   *slog.Logger
}

func (s *Services) conversations() []service.ConversationService {
	var out []service.ConversationService
	for _, svc := range []service.ConversationService{s.Gemini, s.Oracle, s.Blackbox} {
		if svc != nil {
			out = append(out, svc)
		}
	}
	return out
}

func (s *Services) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Caller identifies who runs a command
type Caller struct {
	SubjectID int64

	// IsAdmin is consulted lazily so front ends only pay for the role lookup on moderation commands
	IsAdmin func(ctx context.Context) (bool, error)
}

// NewCommandTree builds a fresh command tree bound to one caller
func NewCommandTree(svcs *Services, caller Caller) *cobra.Command {
	root := &cobra.Command{
		Use:           "ryuzaki",
		Short:         "Conversational AI and ban-list commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	if svcs.Gemini != nil {
		root.AddCommand(newAskCommand(cmdAsk+" <text>", "Ask the generative model, keeping your history", svcs, svcs.Gemini, caller))
	}
	if svcs.Oracle != nil {
		root.AddCommand(newAskCommand(cmdOracle+" <text>", "Talk to the persona-seeded oracle", svcs, svcs.Oracle, caller))
	}
	if svcs.Blackbox != nil {
		root.AddCommand(newAskCommand(cmdBlackbox+" <text>", "Ask the chat backend", svcs, svcs.Blackbox, caller))
	}
	root.AddCommand(newClearCommand(svcs, caller))

	for _, bans := range svcs.Bans {
		root.AddCommand(newBanCommand(bans, svcs, caller))
	}

	return root
}

// newAskCommand runs one conversational turn. Flag parsing is off so text may start with dashes.
func newAskCommand(use, short string, svcs *Services, conv service.ConversationService, caller Caller) *cobra.Command {
	return &cobra.Command{
		Use:                use,
		Short:              short,
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			answer, err := conv.Ask(cmd.Context(), caller.SubjectID, text)
			if err != nil {
				monitor.LoggerFromContext(cmd.Context(), svcs.logger()).Warn("Conversation turn failed",
					"provider", conv.GetProviderID(),
					"subject_id", caller.SubjectID,
					"error", err)
			}
			if strings.TrimSpace(answer) == "" {
				answer = "(empty response)"
			}
			cmd.Println(answer)
			return nil
		},
	}
}

func newClearCommand(svcs *Services, caller Caller) *cobra.Command {
	var names []string
	for _, conv := range svcs.conversations() {
		names = append(names, conv.GetProviderID())
	}

	return &cobra.Command{
		Use:       "clear [" + strings.Join(names, "|") + "]",
		Short:     "Forget your conversation history (all backends when none is named)",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, conv := range svcs.conversations() {
				if len(args) == 1 && args[0] != conv.GetProviderID() {
					continue
				}
				if err := conv.Clear(cmd.Context(), caller.SubjectID); err != nil {
					return fmt.Errorf("failed to clear %s history: %w", conv.GetProviderID(), err)
				}
				cmd.Printf("Cleared %s history.\n", conv.GetProviderID())
			}
			return nil
		},
	}
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.Trim(raw, "<@!>"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}

func printJSON(cmd *cobra.Command, raw json.RawMessage) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		cmd.Println(string(raw))
		return
	}
	cmd.Printf("```json\n%s\n```\n", pretty.String())
}

// newBanCommand exposes one ban-list backend; every subcommand requires admin rights
func newBanCommand(bans BanService, svcs *Services, caller Caller) *cobra.Command {
	parent := &cobra.Command{
		Use:   bans.Name(),
		Short: "Manage the " + bans.Name() + " ban list (admin only)",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if caller.IsAdmin == nil {
				return ErrNotAdmin
			}
			ok, err := caller.IsAdmin(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to verify admin permissions: %w", err)
			}
			if !ok {
				return ErrNotAdmin
			}
			return nil
		},
	}

	parent.AddCommand(&cobra.Command{
		Use:   "add <user_id> [reason]",
		Short: "Ban a user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			message, err := bans.AddBan(cmd.Context(), userID, strings.Join(args[1:], " "), true)
			if err != nil {
				return err
			}
			svcs.logger().Info("Ban requested", "backend", bans.Name(), "user_id", userID, "by", caller.SubjectID)
			cmd.Println(message)
			return nil
		},
	})

	parent.AddCommand(&cobra.Command{
		Use:   "get <user_id>",
		Short: "Look up a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			raw, err := bans.GetBan(cmd.Context(), userID, true)
			if err != nil {
				return err
			}
			printJSON(cmd, raw)
			return nil
		},
	})

	var confirm bool
	del := &cobra.Command{
		Use:   "del <user_id> --confirm",
		Short: "Remove a user from the ban list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			raw, err := bans.UnbanDelete(cmd.Context(), userID, confirm)
			if err != nil {
				return err
			}
			svcs.logger().Info("Unban requested", "backend", bans.Name(), "user_id", userID, "by", caller.SubjectID)
			printJSON(cmd, raw)
			return nil
		},
	}
	del.Flags().BoolVar(&confirm, "confirm", false, "confirm the deletion")
	parent.AddCommand(del)

	parent.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the whole ban list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := bans.GetAllBanlist(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd, raw)
			return nil
		},
	})

	return parent
}

// Execute runs args against root and returns everything the command printed
func Execute(ctx context.Context, root *cobra.Command, args []string) (string, error) {
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	return out.String(), err
}

// ParseCommand splits a prefixed chat message into command tokens.
// Free-text commands keep the rest of the message verbatim as a single argument;
// every other command is split on whitespace.
func ParseCommand(prefix, content string) ([]string, bool) {
	trimmed := strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(trimmed, prefix) {
		return nil, false
	}

	body := strings.TrimLeftFunc(strings.TrimPrefix(trimmed, prefix), unicode.IsSpace)
	name, rest := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		name, rest = body[:i], strings.TrimLeftFunc(body[i:], unicode.IsSpace)
	}
	if name == "" {
		return nil, false
	}
	name = strings.ToLower(name)

	if freeTextCommands[name] {
		if rest == "" {
			return []string{name}, true
		}
		return []string{name, rest}, true
	}
	return append([]string{name}, strings.Fields(rest)...), true
}
