package bot

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// PresenceUpdater is the part of the Discord session used for presence changes
type PresenceUpdater interface {
	UpdateStatusComplex(data discordgo.UpdateStatusData) error
}

// Session manages Discord bot session lifecycle
type Session struct {
	logger   *slog.Logger
	token    string
	presence PresenceUpdater
}

// NewSession creates a new Discord bot session
func NewSession(token string, logger *slog.Logger) *Session {
	return &Session{
		logger: logger,
		token:  strings.TrimSpace(token),
	}
}

// SetDiscordSession sets the underlying Discord session for presence management
func (s *Session) SetDiscordSession(session PresenceUpdater) {
	s.presence = session
}

// IsTokenValid validates the Discord bot token format and content
func (s *Session) IsTokenValid() error {
	if s.token == "" {
		return fmt.Errorf("bot token is empty")
	}

	if len(s.token) < 50 {
		return fmt.Errorf("token appears to be too short (expected at least 50 characters)")
	}

	// Discord tokens typically have 3 parts separated by dots
	parts := strings.Split(s.token, ".")
	if len(parts) != 3 {
		return fmt.Errorf("token format appears invalid (expected 3 dot-separated parts)")
	}

	if len(parts[0]) < 15 || len(parts[1]) < 5 || len(parts[2]) < 20 {
		return fmt.Errorf("token format appears invalid (parts too short)")
	}

	s.logger.Debug("Token validation passed", "token_length", len(s.token))
	return nil
}

// GetToken returns the bot token (for internal use)
func (s *Session) GetToken() string {
	return s.token
}

// AnnounceHelp sets an Online presence advertising the help command
func (s *Session) AnnounceHelp(prefix string) error {
	return s.UpdatePresence(discordgo.StatusOnline, &discordgo.Activity{
		Name: prefix + "help",
		Type: discordgo.ActivityTypeListening,
	})
}

// UpdatePresence updates the bot's Discord presence status and activity
func (s *Session) UpdatePresence(status discordgo.Status, activity *discordgo.Activity) error {
	if s.presence == nil {
		return fmt.Errorf("discord session not initialized")
	}

	var activities []*discordgo.Activity
	if activity != nil {
		activities = []*discordgo.Activity{activity}
	}

	err := s.presence.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status:     string(status),
		Activities: activities,
	})
	if err != nil {
		s.logger.Error("Failed to update Discord presence",
			"status", status,
			"error", err)
		return fmt.Errorf("failed to update Discord presence: %w", err)
	}

	s.logger.Debug("Discord presence updated", "status", status)
	return nil
}
