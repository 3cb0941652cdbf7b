package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalmcp/transcript"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Show recorded conversation turns",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	cmd.Flags().Int("limit", 20, "Number of turns to list (0 = all)")
	cmd.Flags().Bool("json", false, "Print records as JSON")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("history-db")
	store, err := openStore(path)
	if err != nil {
		return exitError(exitUsage, "opening history: %v", err)
	}
	defer func() {
		if closer, ok := store.(io.Closer); ok {
			_ = closer.Close()
		}
	}()

	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()
	asJSON, _ := cmd.Flags().GetBool("json")

	if len(args) == 1 {
		rec, err := store.Get(ctx, args[0])
		if errors.Is(err, transcript.ErrNotFound) {
			return exitError(exitUsage, "no turn with id %q", args[0])
		}
		if err != nil {
			return exitError(exitUsage, "%v", err)
		}
		if asJSON {
			return writeJSON(out, rec)
		}
		printRecord(out, rec)
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	records, err := store.List(ctx, limit)
	if err != nil {
		return exitError(exitUsage, "%v", err)
	}
	if asJSON {
		return writeJSON(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No history.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tTOOLS\tQUERY")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			rec.ID, rec.CreatedAt.Local().Format(time.DateTime), len(rec.Invocations), firstLine(rec.Query))
	}
	return tw.Flush()
}

func printRecord(w io.Writer, rec transcript.Record) {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("Query:"), rec.Query)
	fmt.Fprintf(w, "%s %s (%s)\n", headerStyle.Render("Model:"), rec.Model, rec.Duration.Round(time.Millisecond))
	for _, inv := range rec.Invocations {
		if inv.Error != "" {
			fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("Tool '%s' error: %s", inv.Tool, inv.Error)))
			continue
		}
		fmt.Fprintf(w, "%s\n%s\n", toolStyle.Render(fmt.Sprintf("Tool '%s' result:", inv.Tool)), inv.Result)
	}
	fmt.Fprintln(w, rec.FinalText)
}
