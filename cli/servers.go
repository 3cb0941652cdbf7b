package cli

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalmcp/config"
)

func newServersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List servers declared in the config file",
		Args:  cobra.NoArgs,
		RunE:  runServers,
	}
}

func runServers(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Discover(path)
	if errors.Is(err, config.ErrNotFound) {
		return exitError(exitUsage, "no config file found (looked for %s)", config.DefaultFileName)
	}
	if err != nil {
		return exitError(exitUsage, "%v", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config: %s\n", cfg.Path())
	if len(cfg.Servers) == 0 {
		fmt.Fprintln(out, "No servers declared.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTRANSPORT\tTARGET\tENABLED")
	for _, name := range slices.Sorted(maps.Keys(cfg.Servers)) {
		server := cfg.Servers[name]
		transport, target := "stdio", strings.TrimSpace(server.Command+" "+strings.Join(server.Args, " "))
		if server.URL != "" {
			transport, target = "http", server.URL
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", name, transport, target, !server.Disabled)
	}
	return tw.Flush()
}
