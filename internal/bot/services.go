package bot

import (
	"log/slog"

	"ryuzaki-bot/internal/config"
	"ryuzaki-bot/internal/monitor"
	"ryuzaki-bot/internal/service"
	"ryuzaki-bot/internal/storage"
)

// NewServices wires every configured backend over one store and one HTTP invoker.
// The oracle needs a persona and each ban list needs its API key; missing ones are left out.
func NewServices(cfg *config.Config, store storage.ConversationStore, logger *slog.Logger) *Services {
	invoker := service.NewHTTPInvoker(cfg.HTTPTimeout, logger)
	locker := monitor.NewSubjectLocker(cfg.LockIdleTTL)

	svcs := &Services{
		Gemini:   service.NewGeminiSession(invoker, store, cfg.Gemini, locker, logger),
		Blackbox: service.NewBlackboxSession(invoker, store, cfg.Blackbox, locker, logger),
		Logger:   logger,
	}

	if cfg.OracleEnabled() {
		svcs.Oracle = service.NewOracleSession(invoker, store, cfg.Gemini, cfg.OraclePersona, locker, logger)
	} else {
		logger.Info("Oracle disabled: no ORACLE_PERSONA or ORACLE_PERSONA_FILE configured")
	}

	if cfg.SibylAPIKey != "" {
		svcs.Bans = append(svcs.Bans, service.NewSibylBan(cfg.SibylAPIKey, invoker, logger))
	}
	if cfg.UFoPAPIKey != "" {
		svcs.Bans = append(svcs.Bans, service.NewUFoPBan(cfg.UFoPAPIKey, invoker, logger))
	}

	return svcs
}
