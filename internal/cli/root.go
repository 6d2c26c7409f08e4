// Package cli implements hookctl, the operator command line of HookGuard.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version is set by the hookctl main package.
var Version = "dev"

// NewRootCmd builds the hookctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hookctl",
		Short:         "Operator tooling for the HookGuard webhook gate",
		Long:          "Signs and verifies webhook payloads the way the gate does, checks addresses against\nallowlist ranges and inspects or resets circuit breakers through the admin API.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newSignCmd(),
		newVerifyCmd(),
		newCIDRCmd(),
		newBreakersCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// readBody reads the payload named by args: a file path, or stdin for "-" or no argument.
func readBody(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	body, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return body, nil
}

// envDefault returns the first non-empty environment variable of names.
func envDefault(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}
