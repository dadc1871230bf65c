package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ricochet1k/termslots/internal/domain"
	"github.com/ricochet1k/termslots/internal/storage"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage slot profiles",
	}
	cmd.AddCommand(
		newProfileAddCmd(),
		newProfileSetCmd(),
		newProfileListCmd(),
		newProfileShowCmd(),
		newProfilePermCmd(),
		newProfileRemoveCmd(),
	)
	return cmd
}

func addProfileFlags(cmd *cobra.Command) {
	cmd.Flags().String("exec", "", "program to run")
	cmd.Flags().StringArray("arg", nil, "program argument (repeatable)")
	cmd.Flags().StringArray("env", nil, "extra environment entry KEY=VALUE (repeatable)")
	cmd.Flags().String("dir", "", "working directory")
	cmd.Flags().Int("cols", domain.DefaultWidth, "terminal width")
	cmd.Flags().Int("rows", domain.DefaultHeight, "terminal height")
	cmd.Flags().String("encoding", domain.EncodingUTF8, "program output encoding (utf-8|cp437)")
	cmd.Flags().Int("max", 1, "maximum simultaneous instances (at least 1)")
	cmd.Flags().String("name", "", "rename the profile")
}

// applyProfileFlags copies every flag the user set onto p.
func applyProfileFlags(cmd *cobra.Command, p *domain.SlotProfile) {
	flags := cmd.Flags()
	if flags.Changed("exec") {
		p.Executable, _ = flags.GetString("exec")
	}
	if flags.Changed("arg") {
		p.Args, _ = flags.GetStringArray("arg")
	}
	if flags.Changed("env") {
		p.Env, _ = flags.GetStringArray("env")
	}
	if flags.Changed("dir") {
		p.WorkingDir, _ = flags.GetString("dir")
	}
	if flags.Changed("cols") {
		p.Width, _ = flags.GetInt("cols")
	}
	if flags.Changed("rows") {
		p.Height, _ = flags.GetInt("rows")
	}
	if flags.Changed("encoding") {
		enc, _ := flags.GetString("encoding")
		p.Encoding = strings.ToLower(enc)
	}
	if flags.Changed("max") {
		p.MaxInstances, _ = flags.GetInt("max")
	}
	if flags.Changed("name") {
		p.Name, _ = flags.GetString("name")
	}
}

func newProfileAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a slot profile that anybody may use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := domain.NewSlotProfile(args[0])
			applyProfileFlags(cmd, &p)
			return withStore(cmd, func(ctx context.Context, s storage.Store) error {
				if err := s.SaveSlotProfile(ctx, p); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added profile %s (%s)\n", p.Name, p.ID)
				return nil
			})
		},
	}
	addProfileFlags(cmd)
	_ = cmd.MarkFlagRequired("exec")
	return cmd
}

func newProfileSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <profile>",
		Short: "Change the settings of a slot profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateProfile(cmd, args[0], func(p *domain.SlotProfile) error {
				applyProfileFlags(cmd, p)
				return nil
			})
		},
	}
	addProfileFlags(cmd)
	return cmd
}

func newProfileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List slot profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s storage.Store) error {
				profiles, err := s.ListSlotProfiles(ctx)
				if err != nil {
					// Unreadable records are reported but do not hide the rest.
					fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
				}
				if len(profiles) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no profiles")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tID\tSIZE\tMAX\tCOMMAND")
				for _, p := range profiles {
					fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%d\t%s\n", p.Name, p.ID.Short(), p.Width, p.Height, p.MaxInstances, commandLine(p))
				}
				return tw.Flush()
			})
		},
	}
}

func newProfileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <profile>",
		Short: "Show a slot profile and its permissions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s storage.Store) error {
				p, err := storage.FindSlotProfile(ctx, s, args[0])
				if err != nil {
					return err
				}
				return printProfile(cmd.OutOrStdout(), p)
			})
		},
	}
}

func newProfilePermCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "perm <profile> <action> <allowed|forbidden> <nobody|anybody|launcher|no-launcher|toggle> [user]",
		Short: "Edit the allow or forbid list of an action",
		Long: `Edit one permission list of a slot profile.

Actions are watch, launch, play and close. The toggle operation adds the
named user to the list, or removes them when already present.`,
		Args: cobra.RangeArgs(4, 5),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := domain.ParseAction(args[1])
			if err != nil {
				return err
			}
			list := strings.ToLower(args[2])
			if list != "allowed" && list != "forbidden" {
				return fmt.Errorf("expected allowed or forbidden, got %q", args[2])
			}
			op := strings.ToLower(args[3])
			if (op == "toggle") != (len(args) == 5) {
				return fmt.Errorf("a user is required with toggle and only with toggle")
			}

			return withStore(cmd, func(ctx context.Context, s storage.Store) error {
				var target domain.Identity
				if op == "toggle" {
					u, err := s.LoadIdentity(ctx, args[4])
					if err != nil {
						return err
					}
					target = u.ID
				}
				return editProfile(ctx, cmd, s, args[0], func(p *domain.SlotProfile) error {
					set := p.Allowed(action)
					if list == "forbidden" {
						set = p.Forbidden(action)
					}
					switch op {
					case "nobody":
						set.SetNobody()
					case "anybody":
						set.SetAnybody()
					case "launcher":
						set.SetLauncher()
					case "no-launcher":
						set.UnsetLauncher()
					case "toggle":
						set.ToggleUser(target)
					default:
						return fmt.Errorf("unknown operation %q", args[3])
					}
					if list == "forbidden" {
						p.SetForbidden(action, set)
					} else {
						p.SetAllowed(action, set)
					}
					return nil
				})
			})
		},
	}
}

func newProfileRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <profile>",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a slot profile",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s storage.Store) error {
				p, err := storage.FindSlotProfile(ctx, s, args[0])
				if err != nil {
					return err
				}
				if err := s.DeleteSlotProfile(ctx, p.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed profile %s\n", p.Name)
				return nil
			})
		},
	}
}

func updateProfile(cmd *cobra.Command, idOrName string, edit func(*domain.SlotProfile) error) error {
	return withStore(cmd, func(ctx context.Context, s storage.Store) error {
		return editProfile(ctx, cmd, s, idOrName, edit)
	})
}

func editProfile(ctx context.Context, cmd *cobra.Command, s storage.Store, idOrName string, edit func(*domain.SlotProfile) error) error {
	p, err := storage.FindSlotProfile(ctx, s, idOrName)
	if err != nil {
		return err
	}
	if err := edit(&p); err != nil {
		return err
	}
	if err := s.SaveSlotProfile(ctx, p); err != nil {
		return err
	}
	return printProfile(cmd.OutOrStdout(), p)
}

func printProfile(w io.Writer, p domain.SlotProfile) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "name:\t%s\n", p.Name)
	fmt.Fprintf(tw, "id:\t%s\n", p.ID)
	fmt.Fprintf(tw, "command:\t%s\n", commandLine(p))
	if p.WorkingDir != "" {
		fmt.Fprintf(tw, "dir:\t%s\n", p.WorkingDir)
	}
	for _, e := range p.Env {
		fmt.Fprintf(tw, "env:\t%s\n", e)
	}
	fmt.Fprintf(tw, "size:\t%dx%d\n", p.Width, p.Height)
	fmt.Fprintf(tw, "encoding:\t%s\n", p.Encoding)
	fmt.Fprintf(tw, "max instances:\t%d\n", p.MaxInstances)
	fmt.Fprintln(tw, "\nACTION\tALLOWED\tFORBIDDEN")
	for _, a := range domain.Actions {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a, p.Allowed(a), p.Forbidden(a))
	}
	return tw.Flush()
}

func commandLine(p domain.SlotProfile) string {
	return strings.TrimSpace(strings.Join(append([]string{p.Executable}, p.Args...), " "))
}
