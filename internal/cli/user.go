package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ricochet1k/termslots/internal/domain"
	"github.com/ricochet1k/termslots/internal/storage"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage registered users",
	}
	cmd.AddCommand(newUserAddCmd(), newUserListCmd(), newUserActiveCmd("enable", true), newUserActiveCmd("disable", false), newUserAdminCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, _ := cmd.Flags().GetBool("admin")
			u, err := domain.NewUser(args[0])
			if err != nil {
				return err
			}
			u.Admin = admin
			return withStore(cmd, func(ctx context.Context, s storage.Store) error {
				if err := s.SaveUser(ctx, u); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added user %s (%s)\n", u.Name, u.ID)
				return nil
			})
		},
	}
	cmd.Flags().Bool("admin", false, "grant administrator rights")
	return cmd
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s storage.Store) error {
				users, err := s.ListUsers(ctx)
				if err != nil {
					return err
				}
				if len(users) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no users")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tID\tADMIN\tACTIVE")
				for _, u := range users {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%t\n", u.Name, u.ID.Short(), u.Admin, u.Active)
				}
				return tw.Flush()
			})
		},
	}
}

func newUserActiveCmd(use string, active bool) *cobra.Command {
	short := "Allow a user to connect"
	if !active {
		short = "Refuse every action by a user"
	}
	return &cobra.Command{
		Use:   use + " <name|id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateUser(cmd, args[0], func(u *domain.User) { u.Active = active })
		},
	}
}

func newUserAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admin <name|id> <on|off>",
		Short: "Grant or revoke administrator rights",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[1])
			if err != nil {
				return err
			}
			return updateUser(cmd, args[0], func(u *domain.User) { u.Admin = on })
		},
	}
}

func updateUser(cmd *cobra.Command, idOrName string, edit func(*domain.User)) error {
	return withStore(cmd, func(ctx context.Context, s storage.Store) error {
		u, err := s.LoadIdentity(ctx, idOrName)
		if err != nil {
			return err
		}
		edit(&u)
		if err := s.SaveUser(ctx, u); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user %s: admin=%t active=%t\n", u.Name, u.Admin, u.Active)
		return nil
	})
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}
