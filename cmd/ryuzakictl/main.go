// Command ryuzakictl runs bot commands from a terminal against the configured store.
//
//	ryuzakictl --user 42 ask what is a goroutine
//	ryuzakictl --user 42 clear gemini
//	ryuzakictl sibyl get 123
package main

import (
	"context"
	"fmt"
	"os"

	"ryuzaki-bot/internal/bot"
	"ryuzaki-bot/internal/config"
	"ryuzaki-bot/internal/monitor"
	"ryuzaki-bot/internal/storage"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		subjectID  int64
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:          "ryuzakictl [flags] <command> [args...]",
		Short:        "Run bot commands locally",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel == "" {
				logLevel = cfg.LogLevel
			}
			logger := monitor.NewLogger(cmd.ErrOrStderr(), logLevel, cfg.LogFormat)

			ctx := monitor.WithRequestID(cmd.Context())
			store, err := storage.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			return runCommand(ctx, cmd, bot.NewServices(cfg, store, logger), subjectID, args)
		},
	}

	// Everything after the first positional argument belongs to the bot command
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().Int64VarP(&subjectID, "user", "u", 0, "Discord user id the conversation belongs to")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $"+config.ConfigFileEnv+")")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")
	cmd.CompletionOptions.DisableDefaultCmd = true

	return cmd
}

// runCommand executes one bot command as a local operator, who always has admin rights
func runCommand(ctx context.Context, cmd *cobra.Command, svcs *bot.Services, subjectID int64, args []string) error {
	tree := bot.NewCommandTree(svcs, bot.Caller{
		SubjectID: subjectID,
		IsAdmin:   func(context.Context) (bool, error) { return true, nil },
	})

	out, err := bot.Execute(ctx, tree, args)
	fmt.Fprint(cmd.OutOrStdout(), out)
	return err
}
