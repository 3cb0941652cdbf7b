// Package observe carries process-wide observability hooks for provider
// connections, tool executions and conversation turns.
package observe

import (
	"sync"
	"time"
)

// ConnectObservation describes one connection attempt.
type ConnectObservation struct {
	Provider string
	Attempt  int
	Duration time.Duration
	Success  bool
	Final    bool
	// ErrorKind is empty on success.
	ErrorKind string
}

// ExecuteObservation describes one tool execution on the default path.
type ExecuteObservation struct {
	Tool      string
	Provider  string
	Duration  time.Duration
	Success   bool
	ErrorKind string
}

// HealthObservation describes one health ping.
type HealthObservation struct {
	Provider  string
	Duration  time.Duration
	Healthy   bool
	ErrorKind string
}

// TurnObservation describes one processed query.
type TurnObservation struct {
	Model       string
	Invocations int
	Failures    int
	Duration    time.Duration
	Success     bool
	ErrorKind   string
}

// Observer receives observations. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveConnect(ConnectObservation)
	ObserveExecute(ExecuteObservation)
	ObserveHealth(HealthObservation)
	ObserveTurn(TurnObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveConnect(ConnectObservation) {}
func (noopObserver) ObserveExecute(ExecuteObservation) {}
func (noopObserver) ObserveHealth(HealthObservation)   {}
func (noopObserver) ObserveTurn(TurnObservation)       {}

var (
	mu     sync.RWMutex
	active Observer = noopObserver{}
)

// SetObserver installs the process-wide observer. Nil restores the no-op.
func SetObserver(observer Observer) {
	mu.Lock()
	defer mu.Unlock()
	if observer == nil {
		active = noopObserver{}
		return
	}
	active = observer
}

func current() Observer {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

// Connect emits a connect observation.
func Connect(o ConnectObservation) { current().ObserveConnect(o) }

// Execute emits an execute observation.
func Execute(o ExecuteObservation) { current().ObserveExecute(o) }

// Health emits a health observation.
func Health(o HealthObservation) { current().ObserveHealth(o) }

// Turn emits a turn observation.
func Turn(o TurnObservation) { current().ObserveTurn(o) }
