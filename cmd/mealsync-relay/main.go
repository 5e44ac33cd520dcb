package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amaydixit11/mealsync/internal/logging"
	"github.com/amaydixit11/mealsync/internal/relay"
	"github.com/amaydixit11/mealsync/internal/storage/sqlite"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type serveOptions struct {
	host   string
	port   int
	dbPath string
	level  string
	pretty bool
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "mealsync-relay",
		Short:        "Store-and-forward relay for mealsync devices",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long: `Run the relay server. Settings come from the environment (RELAY_HOST,
RELAY_PORT, RELAY_DB_PATH, RELAY_LOG_LEVEL, WS_*) or a .env file; flags
override them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "listen host")
	cmd.Flags().IntVar(&opts.port, "port", 0, "listen port")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "sqlite database path")
	cmd.Flags().StringVar(&opts.level, "log-level", "", "log level")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "human-readable logs")
	return cmd
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := relay.LoadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = opts.host
	}
	if flags.Changed("port") {
		cfg.Port = opts.port
	}
	if flags.Changed("db") {
		cfg.DBPath = opts.dbPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.level
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, opts.pretty)
	if err != nil {
		return err
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := relay.NewServer(cfg, store, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
