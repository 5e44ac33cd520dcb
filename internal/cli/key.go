package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/amaydixit11/mealsync/internal/crypto"
	"github.com/amaydixit11/mealsync/internal/pairing"
	"github.com/spf13/cobra"
)

// NewKeyCommand creates the key command group.
func NewKeyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Create, show or join a sync key",
	}
	cmd.AddCommand(newKeyNewCommand(rootOpts))
	cmd.AddCommand(newKeyShowCommand(rootOpts))
	cmd.AddCommand(newKeyJoinCommand(rootOpts))
	cmd.AddCommand(newKeyForgetCommand(rootOpts))
	return cmd
}

func newKeyNewCommand(rootOpts *RootOptions) *cobra.Command {
	var force, protect bool

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a new sync session with a fresh key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			syncKey, err := crypto.GenerateSyncKey()
			if err != nil {
				return err
			}
			if err := storeKey(cmd, rootOpts, syncKey, force, protect); err != nil {
				return err
			}
			if rootOpts.Relay != "" {
				if err := saveSettings(rootOpts.DataDir, settings{RelayURL: rootOpts.Relay}); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, syncKey)
			invite, err := pairing.CreateInvite(syncKey, rootOpts.Relay, 0)
			if err != nil {
				return err
			}
			qr, err := invite.ToQRString()
			if err != nil {
				return err
			}
			fmt.Fprint(out, qr)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "replace an existing key")
	cmd.Flags().BoolVar(&protect, "protect", false, "wrap the stored key with a passphrase")
	return cmd
}

func newKeyShowCommand(rootOpts *RootOptions) *cobra.Command {
	var showQR, showInvite bool
	var pngPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the sync key, as text, QR code or invite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			syncKey, err := rootOpts.loadSyncKey(cmd)
			if err != nil {
				return err
			}

			relayURL, err := rootOpts.relayURL()
			if err != nil && !errors.Is(err, ErrNoRelay) {
				return err
			}
			invite, err := pairing.CreateInvite(syncKey, relayURL, pairing.DefaultInviteExpiry)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case showInvite:
				code, err := invite.Encode()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, code)
			default:
				fmt.Fprintln(out, syncKey)
			}

			if showQR {
				qr, err := invite.ToQRString()
				if err != nil {
					return err
				}
				fmt.Fprint(out, qr)
			}
			if pngPath != "" {
				png, err := invite.ToQR()
				if err != nil {
					return err
				}
				if err := os.WriteFile(pngPath, png, 0600); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showQR, "qr", false, "also print the key as a terminal QR code")
	cmd.Flags().BoolVar(&showInvite, "invite", false, "print a mealsync:// invite including the relay url")
	cmd.Flags().StringVar(&pngPath, "png", "", "write the QR code to a PNG file")
	return cmd
}

func newKeyJoinCommand(rootOpts *RootOptions) *cobra.Command {
	var force, protect bool

	cmd := &cobra.Command{
		Use:   "join [key-or-invite]",
		Short: "Join an existing sync session",
		Long: `Join an existing sync session with the key shown on another device.
Accepts the bare key or a mealsync:// invite. Without an argument the key
is read from the terminal without echo.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var code string
			if len(args) == 1 {
				code = args[0]
			} else {
				var err error
				if code, err = rootOpts.readSecret(cmd, "Sync key or invite: "); err != nil {
					return err
				}
			}

			invite, err := pairing.ParseInvite(code)
			if err != nil {
				return err
			}
			if err := storeKey(cmd, rootOpts, invite.SyncKey, force, protect); err != nil {
				return err
			}

			relayURL := rootOpts.Relay
			if relayURL == "" {
				relayURL = invite.RelayURL
			}
			if relayURL != "" {
				if err := saveSettings(rootOpts.DataDir, settings{RelayURL: relayURL}); err != nil {
					return err
				}
			}

			docID, err := crypto.DeriveDocID(invite.SyncKey)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Joined document %s\n", docID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "replace an existing key")
	cmd.Flags().BoolVar(&protect, "protect", false, "wrap the stored key with a passphrase")
	return cmd
}

func newKeyForgetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Remove the stored sync key from this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return crypto.NewFileKeyStore(rootOpts.DataDir).Remove()
		},
	}
}

func storeKey(cmd *cobra.Command, rootOpts *RootOptions, syncKey string, force, protect bool) error {
	store := crypto.NewFileKeyStore(rootOpts.DataDir)
	if store.IsInitialized() && !force {
		return fmt.Errorf("%w: use --force to replace it", crypto.ErrKeyAlreadyPresent)
	}

	var passphrase []byte
	if protect {
		var err error
		if passphrase, err = rootOpts.newPassphrase(cmd); err != nil {
			return err
		}
	}
	return store.Save(syncKey, passphrase)
}
