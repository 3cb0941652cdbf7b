package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
)

// ErrTransportClosed is returned by operations on a closed transport.
var ErrTransportClosed = errors.New("mcp: transport is closed")

// StdioConfig describes the provider subprocess.
type StdioConfig struct {
	Command string
	Args    []string
	// Env entries are appended to the parent environment.
	Env map[string]string
	Dir string
	// Stderr receives the provider's stderr. Nil discards it.
	Stderr io.Writer
}

// StdioTransport exchanges newline-delimited JSON with a subprocess over
// its stdin and stdout.
type StdioTransport struct {
	cfg StdioConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	closed  bool
	exitErr error

	recvCh  chan Message
	errCh   chan error
	doneCh  chan struct{}
	closeCh chan struct{}
}

// NewStdioTransport starts the provider process. The process outlives ctx;
// it is stopped by Close.
func NewStdioTransport(ctx context.Context, cfg StdioConfig) (*StdioTransport, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("mcp: stdio command is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := &StdioTransport{
		cfg:     cfg,
		recvCh:  make(chan Message, 64),
		errCh:   make(chan error, 1),
		doneCh:  make(chan struct{}),
		closeCh: make(chan struct{}),
	}
	if err := t.start(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *StdioTransport) start() error {
	// #nosec G204 -- the command comes from the user's provider configuration.
	cmd := exec.Command(t.cfg.Command, slices.Clone(t.cfg.Args)...)
	cmd.Dir = t.cfg.Dir
	if len(t.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), flattenEnv(t.cfg.Env)...)
	}
	stderr := t.cfg.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("mcp: stdio open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("mcp: stdio open stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mcp: stdio start %q: %w", t.cfg.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin

	go t.readLoop(stdout)
	go t.waitLoop()
	return nil
}

func (t *StdioTransport) readLoop(stdout io.Reader) {
	decoder := json.NewDecoder(bufio.NewReader(stdout))
	for {
		var message Message
		if err := decoder.Decode(&message); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			t.sendErr(fmt.Errorf("mcp: stdio read: %w", err))
			return
		}
		select {
		case t.recvCh <- message:
		case <-t.closeCh:
			return
		}
	}
}

func (t *StdioTransport) waitLoop() {
	err := t.cmd.Wait()

	t.mu.Lock()
	closed := t.closed
	if err == nil {
		err = errors.New("process exited")
	}
	t.exitErr = err
	t.mu.Unlock()

	if !closed {
		t.sendErr(fmt.Errorf("mcp: stdio provider exited: %w", err))
	}
	close(t.doneCh)
}

// Send writes one message to the subprocess stdin.
func (t *StdioTransport) Send(ctx context.Context, message Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("mcp: encode message: %w", err)
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("mcp: stdio write: %w", err)
	}
	return nil
}

// Receive returns the next message read from the subprocess stdout.
func (t *StdioTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case message := <-t.recvCh:
		return message, nil
	default:
	}
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-t.closeCh:
		return Message{}, ErrTransportClosed
	case err := <-t.errCh:
		t.sendErr(err)
		return Message{}, err
	case message := <-t.recvCh:
		return message, nil
	}
}

// Done is closed once the subprocess has exited.
func (t *StdioTransport) Done() <-chan struct{} {
	return t.doneCh
}

// ExitErr reports why the subprocess exited. It is nil while it runs.
func (t *StdioTransport) ExitErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitErr
}

// Pid returns the subprocess id.
func (t *StdioTransport) Pid() int {
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// Close kills the subprocess and waits for it to be reaped.
func (t *StdioTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closeCh)
	stdin := t.stdin
	t.mu.Unlock()

	_ = stdin.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	select {
	case <-t.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendErr keeps at most one pending error; Receive re-queues it so every
// later caller observes the same failure.
func (t *StdioTransport) sendErr(err error) {
	select {
	case t.errCh <- err:
	default:
	}
}

func flattenEnv(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(values))
	for _, key := range keys {
		out = append(out, key+"="+values[key])
	}
	return out
}
