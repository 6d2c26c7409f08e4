package cli

import (
	"fmt"

	"HookGuard/pkg/netaddr"

	"github.com/spf13/cobra"
)

func newCIDRCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cidr <ip> <range>...",
		Short: "Check whether an address falls inside allowlist ranges",
		Long:  "Parses the ranges with the same matcher the IP allowlist uses and prints the first\nrange containing the address. Invalid ranges are reported and skipped.",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runCIDR,
	}
}

func runCIDR(cmd *cobra.Command, args []string) error {
	addr, err := netaddr.ParseAddr(args[0])
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", args[0], err)
	}

	set, errs := netaddr.ParseSet(args[1:])
	out := cmd.OutOrStdout()
	for _, e := range errs {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", e)
	}

	if r, ok := set.Match(addr); ok {
		fmt.Fprintf(out, "%s matches %s\n", addr, r)
		return nil
	}
	fmt.Fprintf(out, "%s matches none of %d range(s)\n", addr, len(set))
	return fmt.Errorf("address not allowed")
}
