package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/petal-labs/petalmcp/config"
	"github.com/petal-labs/petalmcp/conversation"
)

const (
	chatPrompt      = "Query: "
	historyFileName = "chat_history"
)

// LineReader reads one line of interactive input.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

// linerReader is a LineReader with persistent history.
type linerReader struct {
	state       *liner.State
	historyFile string
}

func newLinerReader() LineReader {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)

	r := &linerReader{state: state}
	if home, err := os.UserHomeDir(); err == nil {
		r.historyFile = filepath.Join(home, ".petalmcp", historyFileName)
		if f, err := os.Open(r.historyFile); err == nil {
			_, _ = state.ReadHistory(f)
			_ = f.Close()
		}
	}
	return r
}

func (r *linerReader) Prompt(prompt string) (string, error) {
	return r.state.Prompt(prompt)
}

func (r *linerReader) AppendHistory(line string) {
	r.state.AppendHistory(line)
}

// Close saves history with owner-only permissions and restores the
// terminal.
func (r *linerReader) Close() error {
	if r.historyFile != "" {
		if err := os.MkdirAll(filepath.Dir(r.historyFile), 0o700); err == nil {
			if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
				_, _ = r.state.WriteHistory(f)
				_ = f.Close()
			}
		}
	}
	return r.state.Close()
}

func runChat(cmd *cobra.Command, args []string, deps Deps) error {
	s, err := openSession(cmd, args, deps, sessionOptions{withModel: true})
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	if s.cfg != nil {
		watcher, err := config.Watch(ctx, s.cfg.Path(), s.logger, nil)
		if err != nil {
			s.logger.Warn("config watch disabled", "path", s.cfg.Path(), "error", err)
		} else {
			defer func() {
				cancel()
				<-watcher.Done()
			}()
			s.watch = watcher
		}
	}

	newInput := deps.Input
	if newInput == nil {
		newInput = newLinerReader
	}
	input := newInput()
	defer func() { _ = input.Close() }()

	return s.chatLoop(ctx, input)
}

// chatLoop reads queries until quit or end of input. Query failures are
// printed and the loop continues.
func (s *session) chatLoop(ctx context.Context, input LineReader) error {
	fmt.Fprintln(s.out, headerStyle.Render("MCP client started"))
	fmt.Fprintf(s.out, "Connected: %s\n", strings.Join(s.manager.Names(), ", "))
	fmt.Fprintln(s.out, "Type your queries, /help for commands, or 'quit' to exit.")

	for {
		line, err := readLine(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(s.out)
				return exitError(exitInterrupt, "interrupted")
			}
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(s.out)
				return nil
			}
			return exitError(exitUsage, "reading input: %v", err)
		}

		query := strings.TrimSpace(line)
		if query == "" {
			continue
		}
		input.AppendHistory(query)

		if strings.EqualFold(query, "quit") {
			return nil
		}
		if strings.HasPrefix(query, "/") {
			if !s.slashCommand(ctx, query) {
				return nil
			}
			continue
		}

		s.runQuery(ctx, query)
		if ctx.Err() != nil {
			return exitError(exitInterrupt, "interrupted")
		}
	}
}

// readLine reads one line, giving up when ctx is cancelled. An abandoned
// read keeps its goroutine until input arrives or the process exits.
func readLine(ctx context.Context, input LineReader) (string, error) {
	type result struct {
		line string
		err  error
	}
	read := make(chan result, 1)
	go func() {
		line, err := input.Prompt(chatPrompt)
		read <- result{line: line, err: err}
	}()
	select {
	case r := <-read:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// runQuery processes one query. Ctrl-C while it runs cancels only this
// query.
func (s *session) runQuery(ctx context.Context, query string) {
	queryCtx, stop := queryContext(ctx)
	defer stop()

	turn, err := s.orch.ProcessQuery(queryCtx, conversation.Query{Text: query})
	if err != nil {
		if queryCtx.Err() != nil && ctx.Err() == nil {
			fmt.Fprintln(s.errOut, errorStyle.Render("query cancelled"))
			return
		}
		fmt.Fprintln(s.errOut, errorStyle.Render("Error: "+err.Error()))
		return
	}

	if wantsLog(query) {
		raw, err := json.MarshalIndent(turn, "", "  ")
		if err != nil {
			fmt.Fprintln(s.errOut, errorStyle.Render("Error: "+err.Error()))
			return
		}
		fmt.Fprintln(s.out, string(raw))
		return
	}
	printTurn(s.out, turn)
}

// wantsLog reports whether the user asked for the full turn record.
func wantsLog(query string) bool {
	return strings.Contains(strings.ToLower(query), "log")
}

// slashCommand handles one REPL command and reports whether the loop
// should continue.
func (s *session) slashCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return false
	case "/help":
		fmt.Fprintln(s.out, "/tools              list available tools")
		fmt.Fprintln(s.out, "/servers            list provider states")
		fmt.Fprintln(s.out, "/connect <name>     connect a configured server")
		fmt.Fprintln(s.out, "/disconnect <name>  disconnect a server")
		fmt.Fprintln(s.out, "/health             ping every provider")
		fmt.Fprintln(s.out, "quit                exit")
	case "/tools":
		printTools(s.out, s.manager.Registry().DescribeAll())
	case "/servers":
		for _, name := range s.manager.Names() {
			fmt.Fprintf(s.out, "%-24s %s\n", name, s.manager.State(name))
		}
	case "/connect":
		if len(fields) != 2 {
			fmt.Fprintln(s.errOut, errorStyle.Render("usage: /connect <name>"))
			return true
		}
		s.connectOne(ctx, fields[1])
	case "/disconnect":
		if len(fields) != 2 {
			fmt.Fprintln(s.errOut, errorStyle.Render("usage: /disconnect <name>"))
			return true
		}
		if err := s.manager.Disconnect(ctx, fields[1]); err != nil {
			fmt.Fprintln(s.errOut, errorStyle.Render("Error: "+err.Error()))
			return true
		}
		fmt.Fprintf(s.out, "Disconnected %s\n", fields[1])
	case "/health":
		unhealthy := s.checkHealth(ctx)
		if len(unhealthy) == 0 {
			fmt.Fprintln(s.out, successStyle.Render("all providers healthy"))
		} else {
			fmt.Fprintln(s.errOut, errorStyle.Render("unhealthy: "+strings.Join(unhealthy, ", ")))
		}
	default:
		fmt.Fprintln(s.errOut, errorStyle.Render(fmt.Sprintf("unknown command %s, try /help", fields[0])))
	}
	return true
}

// connectOne connects a server from the latest configuration.
func (s *session) connectOne(ctx context.Context, name string) {
	cfg := s.cfg
	if s.watch != nil {
		cfg = s.watch.Current()
	}
	if cfg == nil {
		fmt.Fprintln(s.errOut, errorStyle.Render("no config file loaded"))
		return
	}
	spec, err := cfg.Spec(name)
	if err != nil {
		fmt.Fprintln(s.errOut, errorStyle.Render("Error: "+err.Error()))
		return
	}
	conn, err := s.manager.Connect(ctx, spec, s.settings.MaxRetries)
	if err != nil {
		fmt.Fprintln(s.errOut, errorStyle.Render("Error: "+err.Error()))
		return
	}
	fmt.Fprintf(s.out, "Connected %s (%d tools)\n", conn.Name(), len(conn.Tools()))
}
