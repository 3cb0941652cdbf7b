package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

type interruptsKey struct{}

// interrupts routes SIGINT and SIGTERM to cancellation. SIGTERM always
// cancels the root context. SIGINT cancels the running chat query when
// there is one, and the root context otherwise.
type interrupts struct {
	mu    sync.Mutex
	root  context.CancelFunc
	query context.CancelFunc
}

// NotifyContext returns a context cancelled by SIGINT or SIGTERM. Once the
// root context is cancelled the handler is removed, so a second signal
// terminates the process immediately.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	in := &interrupts{root: cancel}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(signals)
		for {
			select {
			case sig := <-signals:
				if in.handle(sig) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return context.WithValue(ctx, interruptsKey{}, in), cancel
}

// handle applies one signal and reports whether it cancelled the root
// context.
func (in *interrupts) handle(sig os.Signal) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if sig == os.Interrupt && in.query != nil {
		in.query()
		in.query = nil
		return false
	}
	in.root()
	return true
}

// queryContext scopes one chat query. Under NotifyContext, SIGINT cancels
// the returned context and leaves ctx running.
func queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	queryCtx, cancel := context.WithCancel(ctx)
	in, ok := ctx.Value(interruptsKey{}).(*interrupts)
	if !ok {
		return queryCtx, cancel
	}
	in.mu.Lock()
	in.query = cancel
	in.mu.Unlock()
	return queryCtx, func() {
		in.mu.Lock()
		in.query = nil
		in.mu.Unlock()
		cancel()
	}
}
