// File: cmd/root.go
package cmd

import (
	"fmt"
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nullvane/deskhand/internal/config"
	"github.com/nullvane/deskhand/internal/observability"
)

var (
	cfgFile string
	cfg     *config.Config
)

// newRootCmd builds the base command and attaches the subcommands. A fresh
// instance per invocation keeps tests isolated from each other.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "deskhand",
		Short: "Deskhand is a vision-driven desktop automation agent.",
		Long: `Deskhand watches a plain-text command queue and drives the desktop to
carry each command out: it captures the screen, asks a local vision model
for the next action, gates the proposal through a safety validator, and
applies what survives. Every decision lands in an append-only audit trail.`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Runs before any subcommand, setting up config and logging.
			if err := initializeConfig(cmd); err != nil {
				return err
			}

			loaded, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				// Fall back to a console logger so the failure is visible.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "deskhand"})
				return err
			}
			cfg = loaded

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting deskhand", zap.String("version", Version))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.deskhand.yaml)")
	root.PersistentFlags().String("log-level", "", "override the configured log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "override the configured log format (console, json)")
	root.SetVersionTemplate(`{{printf "deskhand version %s\n" .Version}}`)

	root.AddCommand(newRunCmd())
	root.AddCommand(newEnqueueCmd())
	root.AddCommand(newHistoryCmd())
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		if logger := observability.GetLogger(); logger != nil && logger != zap.NewNop() {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// initializeConfig layers defaults, an optional config file, DESKHAND_*
// environment variables, and the logging flags into the global viper instance.
func initializeConfig(cmd *cobra.Command) error {
	v := viper.GetViper()
	config.SetDefaults(v)

	flags := cmd.Root().PersistentFlags()
	if err := v.BindPFlag("logger.level", flags.Lookup("log-level")); err != nil {
		return err
	}
	if err := v.BindPFlag("logger.format", flags.Lookup("log-format")); err != nil {
		return err
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".deskhand")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DESKHAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars carry the run.
	}
	return nil
}
