package cli

import (
	"fmt"
	"sort"

	"github.com/amaydixit11/mealsync/internal/sync"
	"github.com/spf13/cobra"
)

// NewShopCommand creates the shop command group.
func NewShopCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shop",
		Short: "Shopping list check state",
	}
	cmd.AddCommand(newShopListCommand(rootOpts))
	cmd.AddCommand(newShopSetCommand(rootOpts, "check", true))
	cmd.AddCommand(newShopSetCommand(rootOpts, "uncheck", false))
	cmd.AddCommand(newShopResetCommand(rootOpts))
	return cmd
}

func newShopListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List items with their checked state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(o *sync.Orchestrator) error {
				checked, err := o.ShoppingChecked()
				if err != nil {
					return err
				}
				if len(checked) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Shopping list is empty.")
					return nil
				}

				items := make([]string, 0, len(checked))
				for item := range checked {
					items = append(items, item)
				}
				sort.Strings(items)
				for _, item := range items {
					mark := " "
					if checked[item] {
						mark = "x"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", mark, item)
				}
				return nil
			})
		},
	}
}

func newShopSetCommand(rootOpts *RootOptions, use string, checked bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <item>...",
		Short: "Mark items as " + use + "ed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(o *sync.Orchestrator) error {
				for _, item := range args {
					if err := o.SetShoppingChecked(item, checked); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newShopResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Uncheck every item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(o *sync.Orchestrator) error {
				return o.ResetShoppingChecked()
			})
		},
	}
}
