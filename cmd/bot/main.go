package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ryuzaki-bot/internal/bot"
	"ryuzaki-bot/internal/config"
	"ryuzaki-bot/internal/monitor"
	"ryuzaki-bot/internal/storage"

	"github.com/bwmarrin/discordgo"
)

func main() {
	// Handle health check flag for Docker containers
	if len(os.Args) > 1 && os.Args[1] == "--health-check" {
		os.Exit(0)
	}

	cfg, err := config.Load("")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := monitor.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Ryuzaki bot starting up...")
	for _, key := range cfg.UnknownKeys {
		slog.Warn("Ignoring unknown configuration key", "key", key)
	}

	botSession := bot.NewSession(cfg.BotToken, logger)
	if err := botSession.IsTokenValid(); err != nil {
		slog.Error("Token validation failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing storage", "error", err)
		}
	}()
	slog.Info("Storage initialized", "type", cfg.Database.Type)

	services := bot.NewServices(cfg, store, logger)
	handler := bot.NewHandler(logger, services, bot.NewAdminCommands(cfg.AdminRoleNames, logger), cfg.CommandPrefix)

	dg, err := discordgo.New("Bot " + botSession.GetToken())
	if err != nil {
		slog.Error("Error creating Discord session", "error", err)
		os.Exit(1)
	}
	botSession.SetDiscordSession(dg)

	dg.AddHandler(readyHandler(botSession, cfg.CommandPrefix))
	dg.AddHandler(handler.HandleMessageCreate)

	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent | discordgo.IntentsDirectMessages

	if err := dg.Open(); err != nil {
		slog.Error("Error opening Discord connection", "error", err)
		os.Exit(1)
	}

	slog.Info("Bot is now running. Press CTRL+C to exit.",
		"prefix", cfg.CommandPrefix,
		"oracle_enabled", cfg.OracleEnabled(),
		"ban_lists", len(services.Bans))

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	select {
	case <-sc:
		slog.Info("Shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := dg.Close(); err != nil {
			slog.Error("Error during Discord session cleanup", "error", err)
		} else {
			slog.Info("Discord session closed successfully")
		}
	}()

	select {
	case <-done:
		slog.Info("Bot shutdown completed successfully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, forcing exit")
	}
}

// readyHandler advertises the help command once the gateway connection is ready
func readyHandler(session *bot.Session, prefix string) func(*discordgo.Session, *discordgo.Ready) {
	return func(_ *discordgo.Session, event *discordgo.Ready) {
		if err := session.AnnounceHelp(prefix); err != nil {
			slog.Error("Error setting bot status", "error", err)
			return
		}

		slog.Info("Bot connected successfully",
			"username", event.User.Username,
			"status", "Online")
	}
}
