package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

const sessionHeader = "Mcp-Session-Id"

// HTTPConfig describes a provider reachable over streamable HTTP.
type HTTPConfig struct {
	Endpoint string
	Headers  map[string]string
	Client   *http.Client
}

// HTTPTransport posts each message to the provider endpoint and queues the
// JSON or event-stream reply for Receive.
type HTTPTransport struct {
	cfg HTTPConfig

	mu        sync.Mutex
	sessionID string
	closed    bool

	recvCh chan Message
}

// NewHTTPTransport validates cfg and returns a transport. No request is
// made until the first Send.
func NewHTTPTransport(cfg HTTPConfig) (*HTTPTransport, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("mcp: http endpoint is required")
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &HTTPTransport{cfg: cfg, recvCh: make(chan Message, 64)}, nil
}

// Send posts one message.
func (t *HTTPTransport) Send(ctx context.Context, message Message) error {
	t.mu.Lock()
	closed, session := t.closed, t.sessionID
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("mcp: encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mcp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}
	for key, value := range t.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("mcp: http send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("mcp: endpoint returned status %d", resp.StatusCode)
	}
	if id := resp.Header.Get(sessionHeader); id != "" {
		t.mu.Lock()
		t.sessionID = id
		t.mu.Unlock()
	}

	var replies []Message
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		replies, err = readEventStream(resp.Body)
	} else {
		replies, err = readJSONBody(resp.Body)
	}
	if err != nil {
		return err
	}
	for _, reply := range replies {
		select {
		case t.recvCh <- reply:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Receive returns the next queued reply.
func (t *HTTPTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case message := <-t.recvCh:
		return message, nil
	}
}

// Close marks the transport closed.
func (t *HTTPTransport) Close(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func readJSONBody(body io.Reader) ([]Message, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("mcp: read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("mcp: decode response: %w", err)
	}
	return []Message{message}, nil
}

func readEventStream(body io.Reader) ([]Message, error) {
	var (
		out  []Message
		data strings.Builder
	)
	flush := func() error {
		if data.Len() == 0 {
			return nil
		}
		var message Message
		if err := json.Unmarshal([]byte(data.String()), &message); err != nil {
			return fmt.Errorf("mcp: decode event: %w", err)
		}
		data.Reset()
		out = append(out, message)
		return nil
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return nil, err
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("mcp: read event stream: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}
