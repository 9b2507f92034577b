package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// GuildLookup is the part of the Discord session needed to resolve member roles
type GuildLookup interface {
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
}

// AdminCommands decides who may run moderation commands
type AdminCommands struct {
	adminRoles map[string]bool
	logger     *slog.Logger
}

// NewAdminCommands creates an admin checker for the given role names (case-insensitive)
func NewAdminCommands(roleNames []string, logger *slog.Logger) *AdminCommands {
	if logger == nil {
		logger = slog.Default()
	}
	roles := make(map[string]bool, len(roleNames))
	for _, name := range roleNames {
		if name = strings.TrimSpace(name); name != "" {
			roles[strings.ToLower(name)] = true
		}
	}
	return &AdminCommands{
		adminRoles: roles,
		logger:     logger,
	}
}

// CheckUserAdminByRoles reports whether any of the member's role IDs maps to an admin role name
func (ac *AdminCommands) CheckUserAdminByRoles(memberRoles []string, roleIDToName map[string]string) bool {
	for _, roleID := range memberRoles {
		if name, ok := roleIDToName[roleID]; ok && ac.adminRoles[strings.ToLower(name)] {
			return true
		}
	}
	return false
}

// isUserAdmin resolves the member's roles in the guild. Direct messages never grant admin rights.
func (ac *AdminCommands) isUserAdmin(ctx context.Context, s GuildLookup, userID string, guildID string) (bool, error) {
	if guildID == "" || len(ac.adminRoles) == 0 {
		return false, nil
	}

	// Get user roles
	member, err := s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to get guild member: %w", err)
	}

	// Get guild roles for name mapping
	roles, err := s.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to get guild roles: %w", err)
	}

	// Create role ID to name mapping
	roleIDToName := make(map[string]string)
	for _, role := range roles {
		roleIDToName[role.ID] = role.Name
	}

	isAdmin := ac.CheckUserAdminByRoles(member.Roles, roleIDToName)
	ac.logger.Debug("Admin check completed", "user_id", userID, "guild_id", guildID, "is_admin", isAdmin)
	return isAdmin, nil
}

// Checker returns a lazy admin check for one Discord author
func (ac *AdminCommands) Checker(s GuildLookup, userID, guildID string) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		return ac.isUserAdmin(ctx, s, userID, guildID)
	}
}
