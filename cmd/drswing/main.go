package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	configPath string
	statusAddr string
	grpcAddr   string
	timeout    time.Duration
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "drswing",
		Short: "drswing - active/standby failover controller",
		Long: `drswing watches a primary/secondary pair of management cluster nodes,
promotes the standby when the primary stays unreachable and alerts operators
when both nodes are down.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.statusAddr, "status-addr", "localhost:9090", "Status HTTP address of a running controller")
	rootCmd.PersistentFlags().StringVar(&opts.grpcAddr, "grpc-addr", "localhost:9091", "Status gRPC address of a running controller")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(runCmd(opts))
	rootCmd.AddCommand(statusCmd(opts))
	rootCmd.AddCommand(eventsCmd(opts))
	rootCmd.AddCommand(checkCmd(opts))
	rootCmd.AddCommand(probeCmd(opts))
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "drswing %s\n", version)
		},
	}
}
