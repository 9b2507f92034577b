package bot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"ryuzaki-bot/internal/monitor"
)

// MaxMessageLength is Discord's limit for a single message
const MaxMessageLength = 2000

// DefaultCommandTimeout bounds one chat command including all remote calls
const DefaultCommandTimeout = 2 * time.Minute

// DiscordAPI is the subset of *discordgo.Session the handler uses
type DiscordAPI interface {
	GuildLookup
	ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

// Handler manages Discord event handling
type Handler struct {
	logger   *slog.Logger
	services *Services
	admin    *AdminCommands
	prefix   string
	timeout  time.Duration
}

// NewHandler creates a new bot event handler
func NewHandler(logger *slog.Logger, services *Services, admin *AdminCommands, prefix string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		services: services,
		admin:    admin,
		prefix:   prefix,
		timeout:  DefaultCommandTimeout,
	}
}

// HandleMessageCreate processes incoming Discord messages that start with the command prefix
func (h *Handler) HandleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	botID := ""
	if s.State != nil && s.State.User != nil {
		botID = s.State.User.ID
	}
	h.handleMessage(context.Background(), s, botID, m)
}

func (h *Handler) handleMessage(ctx context.Context, api DiscordAPI, botID string, m *discordgo.MessageCreate) {
	// Ignore messages from the bot itself and other bots to prevent loops
	if m.Author == nil || m.Author.ID == botID || m.Author.Bot {
		return
	}

	args, ok := ParseCommand(h.prefix, m.Content)
	if !ok {
		return
	}

	subjectID, err := strconv.ParseInt(m.Author.ID, 10, 64)
	if err != nil {
		h.logger.Warn("Ignoring message with non-numeric author id", "author_id", m.Author.ID)
		return
	}

	ctx, cancel := context.WithTimeout(monitor.WithRequestID(ctx), h.timeout)
	defer cancel()
	logger := monitor.LoggerFromContext(ctx, h.logger)

	logger.Info("Processing command",
		"command", args[0],
		"author", m.Author.Username,
		"subject_id", subjectID,
		"channel", m.ChannelID,
		"guild", m.GuildID)

	if err := api.ChannelTyping(m.ChannelID); err != nil {
		logger.Debug("Failed to send typing indicator", "error", err)
	}

	caller := Caller{SubjectID: subjectID}
	if h.admin != nil {
		caller.IsAdmin = h.admin.Checker(api, m.Author.ID, m.GuildID)
	}

	output, err := Execute(ctx, NewCommandTree(h.services, caller), args)
	if err != nil {
		output = h.formatError(logger, err, args[0])
	}
	if strings.TrimSpace(output) == "" {
		return
	}

	for _, chunk := range SplitMessage(output, MaxMessageLength) {
		if _, err := api.ChannelMessageSendReply(m.ChannelID, chunk, m.Reference()); err != nil {
			logger.Error("Failed to send reply", "error", err, "channel", m.ChannelID)
			return
		}
	}
}

func (h *Handler) formatError(logger *slog.Logger, err error, command string) string {
	switch {
	case errors.Is(err, ErrNotAdmin):
		return "🔒 This command requires admin permissions."
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error("Command timed out", "command", command)
		return "⌛ The request took too long. Please try again later."
	default:
		logger.Warn("Command failed", "command", command, "error", err)
		return "❌ " + err.Error() + "\nUse `" + h.prefix + "help` for available commands."
	}
}

// SplitMessage cuts content into chunks of at most limit bytes, preferring line breaks
// and never splitting a UTF-8 sequence.
func SplitMessage(content string, limit int) []string {
	content = strings.TrimRight(content, "\n")
	if limit <= 0 || len(content) <= limit {
		return []string{content}
	}

	var chunks []string
	for len(content) > limit {
		cut := strings.LastIndex(content[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !isRuneStart(content[cut]) {
				cut--
			}
		}
		chunks = append(chunks, content[:cut])
		content = strings.TrimLeft(content[cut:], "\n")
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
