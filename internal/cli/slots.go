package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ricochet1k/termslots/internal/storage"
)

func newMaxSlotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "max-slots",
		Short: "Show or change how many slots may run at once server-wide",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the server-wide slot limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s storage.Store) error {
				n, err := s.LoadMaxSlots(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatMaxSlots(n))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <n|unlimited>",
		Short: "Set the server-wide slot limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseMaxSlots(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, s storage.Store) error {
				return s.SaveMaxSlots(ctx, n)
			})
		},
	})
	return cmd
}

func parseMaxSlots(arg string) (int, error) {
	if arg == "unlimited" {
		return 0, nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("max slots must be a positive number or unlimited, got %q", arg)
	}
	return n, nil
}

func formatMaxSlots(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return strconv.Itoa(n)
}
