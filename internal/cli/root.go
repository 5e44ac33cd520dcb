// Package cli implements the mealsync device command line.
package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/amaydixit11/mealsync/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DataDir  string
	LogLevel string
	Relay    string
	Pretty   bool

	log   zerolog.Logger
	stdin *bufio.Reader
}

// NewRootCommand creates the root command for the mealsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "mealsync",
		Short: "mealsync - end-to-end encrypted meal planning sync",
		Long: `Keeps recipes, the weekly plan and the shopping list in sync between
devices that share a sync key. The relay only ever sees ciphertext.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, err := logging.New(opts.LogLevel, opts.Pretty)
			if err != nil {
				return err
			}
			opts.log = log

			dir, err := expandHome(opts.DataDir)
			if err != nil {
				return err
			}
			opts.DataDir = dir
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DataDir, "data", "~/.mealsync", "data directory")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level (trace|debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Relay, "relay", "", "relay websocket url (default: the one saved by key join)")
	cmd.PersistentFlags().BoolVar(&opts.Pretty, "pretty", true, "human-readable logs")

	cmd.AddCommand(NewKeyCommand(opts))
	cmd.AddCommand(NewDocIDCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewRecipesCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewShopCommand(opts))

	return cmd
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
