package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amaydixit11/mealsync/internal/core"
	"github.com/amaydixit11/mealsync/internal/crypto"
	"github.com/amaydixit11/mealsync/internal/sync"
	"github.com/spf13/cobra"
)

// NewDocIDCommand creates the docid command.
func NewDocIDCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "docid",
		Short: "Print the relay document id for the stored key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			syncKey, err := rootOpts.loadSyncKey(cmd)
			if err != nil {
				return err
			}
			docID, err := crypto.DeriveDocID(syncKey)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), docID)
			return nil
		},
	}
}

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	Once      bool
	Timeout   time.Duration
	KeepLocal bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync with the relay",
		Long: `Connect to the relay and keep this device's document in sync until
interrupted. With --once, exit after the relay's copy has been merged and
the local state pushed back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "sync once and exit")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "give up on --once after this long")
	cmd.Flags().BoolVar(&opts.KeepLocal, "keep-local", false, "on a weekplan conflict, keep this device's plan")
	return cmd
}

func runSync(cmd *cobra.Command, rootOpts *RootOptions, opts *SyncOptions) error {
	url, err := rootOpts.relayURL()
	if err != nil {
		return err
	}

	s, err := rootOpts.openSession(cmd, func(cfg *sync.Config) {
		cfg.ResolveConflict = func(local, merged core.Weekplan) sync.Resolution {
			if opts.KeepLocal {
				return sync.KeepLocal
			}
			return sync.KeepMerged
		}
	})
	if err != nil {
		return err
	}
	defer s.Close()

	sub := s.orch.Subscribe()
	defer sub.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Once {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if err := s.orch.Connect(ctx, url); err != nil {
		if opts.Once {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "relay unreachable, retrying: %v\n", err)
	}

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			if opts.Once && ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("sync did not complete within %s", opts.Timeout)
			}
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			switch ev.Type {
			case sync.EventStatusChanged:
				fmt.Fprintf(out, "status: %s\n", ev.Status)
			case sync.EventDecryptFailed:
				fmt.Fprintf(cmd.ErrOrStderr(), "could not decrypt the relay's copy, check the sync key: %v\n", ev.Err)
			case sync.EventWeekplanConflict:
				fmt.Fprintf(out, "weekplan conflict: local %s, merged %s\n", ev.Conflict.Local.WeekID, ev.Conflict.Merged.WeekID)
			case sync.EventSynced:
				if opts.Once {
					fmt.Fprintln(out, "synced")
					return nil
				}
			}
		}
	}
}
