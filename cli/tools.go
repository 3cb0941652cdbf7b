package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalmcp/executor"
	"github.com/petal-labs/petalmcp/provider"
)

func newToolsCmd(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools [target]",
		Short: "Connect to providers and list the tools they offer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, args, deps)
		},
	}
	cmd.Flags().Bool("json", false, "Print tool descriptors as JSON")
	cmd.AddCommand(newToolsCallCmd(deps))
	return cmd
}

func runToolsList(cmd *cobra.Command, args []string, deps Deps) error {
	s, err := openSession(cmd, args, deps, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.close()

	tools := s.manager.Registry().DescribeAll()
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		return writeJSON(s.out, toolsJSON(tools))
	}
	printTools(s.out, tools)
	return nil
}

type toolJSON struct {
	Name        string         `json:"name"`
	Provider    string         `json:"provider"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

func toolsJSON(tools []provider.ToolDescriptor) []toolJSON {
	out := make([]toolJSON, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolJSON{
			Name:        t.Name,
			Provider:    t.Provider,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out
}

// printTools writes one row per tool.
func printTools(w io.Writer, tools []provider.ToolDescriptor) {
	if len(tools) == 0 {
		fmt.Fprintln(w, "No tools available.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tPROVIDER\tREQUIRED\tDESCRIPTION")
	for _, t := range tools {
		required := strings.Join(t.Required(), ",")
		if required == "" {
			required = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.Provider, required, firstLine(t.Description))
	}
	_ = tw.Flush()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func newToolsCallCmd(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Execute one tool directly, without the model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsCall(cmd, args, deps)
		},
	}
	cmd.Flags().String("params", "{}", "Tool parameters as a JSON object")
	cmd.Flags().String("target", "", "Script path or server name to connect instead of the configured servers")
	return cmd
}

func runToolsCall(cmd *cobra.Command, args []string, deps Deps) error {
	name := strings.TrimSpace(args[0])
	raw, _ := cmd.Flags().GetString("params")
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return exitError(exitUsage, "--params must be a JSON object: %v", err)
	}

	var targets []string
	if target, _ := cmd.Flags().GetString("target"); target != "" {
		targets = append(targets, target)
	}
	s, err := openSession(cmd, targets, deps, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.close()

	ctx := commandContext(cmd)
	result, err := s.executor.Execute(ctx, name, params)
	if err != nil {
		if ctx.Err() != nil {
			return exitError(exitInterrupt, "interrupted")
		}
		if errors.Is(err, executor.ErrToolNotFound) || errors.Is(err, executor.ErrInvalidArguments) {
			return exitError(exitUsage, "%v", err)
		}
		return exitError(exitBackend, "%v", err)
	}
	fmt.Fprintln(s.out, result.Text())
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
