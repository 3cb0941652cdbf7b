package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalmcp/conversation"
)

func newAskCmd(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <query...>",
		Short: "Process one query and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, args, deps)
		},
	}
	cmd.Flags().Bool("json", false, "Print the full turn record as JSON")
	cmd.Flags().String("target", "", "Script path or server name to connect instead of the configured servers")
	cmd.Flags().String("system", "", "Replace the generated system prompt")
	return cmd
}

func runAsk(cmd *cobra.Command, args []string, deps Deps) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return exitError(exitUsage, "query is empty")
	}

	var targets []string
	if target, _ := cmd.Flags().GetString("target"); target != "" {
		targets = append(targets, target)
	}
	s, err := openSession(cmd, targets, deps, sessionOptions{withModel: true})
	if err != nil {
		return err
	}
	defer s.close()

	ctx := commandContext(cmd)
	system, _ := cmd.Flags().GetString("system")
	turn, err := s.orch.ProcessQuery(ctx, conversation.Query{Text: query, SystemPrompt: system})
	if err != nil {
		if ctx.Err() != nil {
			return exitError(exitInterrupt, "interrupted")
		}
		var backend *conversation.BackendError
		if errors.As(err, &backend) {
			return exitError(exitBackend, "%v", err)
		}
		return exitError(exitUsage, "%v", err)
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		return writeJSON(s.out, turn)
	}
	printTurn(s.out, turn)
	return nil
}
