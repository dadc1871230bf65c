package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ricochet1k/termslots/internal/storage"
)

func newMOTDCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "motd",
		Short: "Show or change the message of the day",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the message of the day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s storage.Store) error {
				motd, err := s.LoadMOTD(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), motd)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set [text|-]",
		Short: "Replace the message of the day; - reads it from stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var motd string
			switch {
			case len(args) == 0:
			case args[0] == "-":
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				motd = strings.TrimRight(string(b), "\n")
			default:
				motd = args[0]
			}
			return withStore(cmd, func(ctx context.Context, s storage.Store) error {
				return s.SaveMOTD(ctx, motd)
			})
		},
	})
	return cmd
}
