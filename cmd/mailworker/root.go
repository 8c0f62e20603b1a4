package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mailworker/internal/config"
)

const defaultConfigPath = "./appsettings.json"

var configPath string

// rootCmd runs the worker when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "mailworker",
	Short: "Scheduled mail-to-myself background worker",
	Long: `mailworker keeps a small scheduling core (job catalog, triggers, dispatch loop,
worker pool) and uses it to send one email on a configurable schedule.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          runHandler,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "settings file (.json, .yaml, .toml or .env)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadSettings reads settings for the offline commands, printing ignored values to w.
func loadSettings(w io.Writer) (*config.Settings, error) {
	s, warns, err := config.NewManager(configPath).Parse()
	if err != nil {
		return nil, err
	}
	for _, warn := range warns {
		fmt.Fprintln(w, "warning:", warn.String())
	}
	return s, nil
}
