package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/imagebatch/internal/config"
	"github.com/lehigh-university-libraries/imagebatch/internal/credentials"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the credential slots",
		Long: fmt.Sprintf(`The pool holds up to %d provider API keys. Every generated item uses the
next filled slot after the one used last, so quota is spread across accounts.`, credentials.SlotCount),
	}

	cmd.AddCommand(newKeysListCmd())
	cmd.AddCommand(newKeysSetCmd())
	cmd.AddCommand(newKeysClearCmd())
	cmd.AddCommand(newKeysRotateCmd())

	return cmd
}

// withPool opens the configured store and pool, runs fn and closes the store
func withPool(cmd *cobra.Command, fn func(pool *credentials.Pool) error) error {
	ctx := cmd.Context()
	store, err := openStore(ctx, config.Load())
	if err != nil {
		return err
	}
	defer store.Close()

	pool, err := openPool(ctx, store)
	if err != nil {
		return err
	}
	return fn(pool)
}

func parseSlot(s string) (int, error) {
	slot, err := strconv.Atoi(s)
	if err != nil || slot < 0 || slot >= credentials.SlotCount {
		return 0, credentials.ErrSlotOutOfRange
	}
	return slot, nil
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the slots with masked values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(pool *credentials.Pool) error {
				cursor := pool.Cursor()
				for i, masked := range pool.Masked() {
					marker := " "
					if i == cursor {
						marker = "*"
					}
					if masked == "" {
						masked = "(empty)"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %d  %s\n", marker, i, masked)
				}
				return nil
			})
		},
	}
}

func newKeysSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "set <slot> <value>",
		Short:   "Store a credential in a slot",
		Example: `  imagebatch keys set 0 "$GEMINI_API_KEY"`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(args[0])
			if err != nil {
				return err
			}
			return withPool(cmd, func(pool *credentials.Pool) error {
				if err := pool.Set(slot, args[1]); err != nil {
					return err
				}
				if err := pool.Save(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Slot %d set to %s\n", slot, credentials.Mask(args[1]))
				return nil
			})
		},
	}
}

func newKeysClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <slot>",
		Short: "Empty a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(args[0])
			if err != nil {
				return err
			}
			return withPool(cmd, func(pool *credentials.Pool) error {
				if err := pool.Clear(slot); err != nil {
					return err
				}
				if err := pool.Save(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Slot %d cleared\n", slot)
				return nil
			})
		},
	}
}

func newKeysRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Advance to the next filled slot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(pool *credentials.Pool) error {
				value, err := pool.Next(cmd.Context())
				if err != nil {
					return err
				}
				if err := pool.Save(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Next credential: slot %d (%s)\n", pool.Cursor(), credentials.Mask(value))
				return nil
			})
		},
	}
}
