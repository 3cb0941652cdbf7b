package observe

import (
	"sync"
	"testing"
)

type recorder struct {
	mu       sync.Mutex
	connects []ConnectObservation
	executes []ExecuteObservation
	health   []HealthObservation
	turns    []TurnObservation
}

func (r *recorder) ObserveConnect(o ConnectObservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects = append(r.connects, o)
}

func (r *recorder) ObserveExecute(o ExecuteObservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executes = append(r.executes, o)
}

func (r *recorder) ObserveHealth(o HealthObservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health = append(r.health, o)
}

func (r *recorder) ObserveTurn(o TurnObservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, o)
}

func TestSetObserverRoutesEvents(t *testing.T) {
	rec := &recorder{}
	SetObserver(rec)
	t.Cleanup(func() { SetObserver(nil) })

	Connect(ConnectObservation{Provider: "files", Attempt: 1, Success: true})
	Execute(ExecuteObservation{Tool: "get_local_file_list", Success: true})
	Health(HealthObservation{Provider: "files", Healthy: true})
	Turn(TurnObservation{Model: "llama3", Invocations: 1, Success: true})

	if len(rec.connects) != 1 || len(rec.executes) != 1 || len(rec.health) != 1 || len(rec.turns) != 1 {
		t.Fatalf("recorded = %d/%d/%d/%d, want one of each",
			len(rec.connects), len(rec.executes), len(rec.health), len(rec.turns))
	}
	if rec.executes[0].Tool != "get_local_file_list" {
		t.Fatalf("execute tool = %q", rec.executes[0].Tool)
	}
}

func TestSetObserverNilRestoresNoop(t *testing.T) {
	rec := &recorder{}
	SetObserver(rec)
	SetObserver(nil)

	Execute(ExecuteObservation{Tool: "ignored"})
	if len(rec.executes) != 0 {
		t.Fatalf("executes = %d after reset, want 0", len(rec.executes))
	}
}
