package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:     "leadgen",
	Version: version,
	Short:   "Lead discovery, scoring and outreach pipeline",
	Long: `Finds businesses around a location, enriches them with place details, scores them
with an LLM, mails a report and sends personalized letters to the best leads.

Configuration is read from ./config.yaml and LEADGEN_* environment variables
(a .env file in the working directory is loaded first).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		zap.L().Debug("config loaded",
			zap.String("command", cmd.Name()),
			zap.String("version", version),
			zap.String("session_driver", cfg.Session.Driver),
			zap.String("continuation", cfg.Enrich.Continuation),
			zap.String("fanout_emitter", cfg.Fanout.Emitter),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
