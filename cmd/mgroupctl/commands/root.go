// Package commands implements the mgroupctl CLI commands.
package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mgroupd/mgroupd/internal/ctlproto"
)

var (
	// socketPath is the mgroupd control socket path, set via --socket.
	socketPath string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// dialTimeout bounds how long commands wait to connect to mgroupd.
	dialTimeout = 3 * time.Second
)

// rootCmd is the top-level cobra command for mgroupctl.
var rootCmd = &cobra.Command{
	Use:   "mgroupctl",
	Short: "CLI client for the mgroupd multicast group-membership router",
	Long:  "mgroupctl communicates with the mgroupd daemon over its Unix control socket to inspect and administer vifs, groups, and queriers.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/run/mgroupd/ctl.sock",
		"mgroupd control socket path")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(vifCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(querierCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// dial opens one short-lived control connection for a single command
// invocation. mgroupctl never holds a connection open across commands.
func dial() (*ctlproto.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	client, err := ctlproto.Dial(ctx, socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	return client, nil
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
