package cli

import (
	"context"
	"fmt"
	"net/netip"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ricochet1k/termslots/internal/domain"
	"github.com/ricochet1k/termslots/internal/storage"
)

func newAddressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Manage which client addresses may connect",
	}
	cmd.AddCommand(
		newAddressListCmd("allow", "Toggle an address range on the allowed list", func(r *domain.AddressRules) *[]netip.Prefix { return &r.Allowed }),
		newAddressListCmd("forbid", "Toggle an address range on the forbidden list", func(r *domain.AddressRules) *[]netip.Prefix { return &r.Forbidden }),
		newAddressDefaultCmd(),
		newAddressShowCmd(),
		newAddressResetCmd(),
	)
	return cmd
}

func newAddressListCmd(use, short string, list func(*domain.AddressRules) *[]netip.Prefix) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <cidr|address>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, err := domain.ParseAddressRange(args[0])
			if err != nil {
				return fmt.Errorf("invalid address range %q: %w", args[0], err)
			}
			return editAddressRules(cmd, func(r *domain.AddressRules) {
				l := list(r)
				if i := slices.Index(*l, prefix); i >= 0 {
					*l = slices.Delete(*l, i, i+1)
					return
				}
				*l = append(*l, prefix)
			})
		},
	}
}

func newAddressDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "default <allow|deny>",
		Short: "Set the decision for addresses no range matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var allow bool
			switch args[0] {
			case "allow":
				allow = true
			case "deny", "forbid":
			default:
				return fmt.Errorf("expected allow or deny, got %q", args[0])
			}
			return editAddressRules(cmd, func(r *domain.AddressRules) { r.DefaultAllow = allow })
		},
	}
}

func newAddressShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the address rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s storage.Store) error {
				rules, err := s.LoadAddressRules(ctx)
				if err != nil {
					return err
				}
				printAddressRules(cmd, rules)
				return nil
			})
		},
	}
}

func newAddressResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Admit every address again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return editAddressRules(cmd, func(r *domain.AddressRules) { *r = domain.DefaultAddressRules() })
		},
	}
}

func editAddressRules(cmd *cobra.Command, edit func(*domain.AddressRules)) error {
	return withStore(cmd, func(ctx context.Context, s storage.Store) error {
		rules, err := s.LoadAddressRules(ctx)
		if err != nil {
			return err
		}
		edit(&rules)
		if err := s.SaveAddressRules(ctx, rules); err != nil {
			return err
		}
		printAddressRules(cmd, rules)
		return nil
	})
}

func printAddressRules(cmd *cobra.Command, r domain.AddressRules) {
	out := cmd.OutOrStdout()
	def := "deny"
	if r.DefaultAllow {
		def = "allow"
	}
	fmt.Fprintf(out, "default: %s\n", def)
	for _, p := range r.Allowed {
		fmt.Fprintf(out, "allow    %s\n", p)
	}
	for _, p := range r.Forbidden {
		fmt.Fprintf(out, "forbid   %s\n", p)
	}
}
