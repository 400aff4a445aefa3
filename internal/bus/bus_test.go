package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// echoModule answers "echo" with its args and records every event it sees,
// stamping a receive timestamp so fan-out order can be asserted.
type echoModule struct {
	name string

	mu     sync.Mutex
	events []time.Time
}

func (m *echoModule) Name() string    { return m.name }
func (m *echoModule) Version() string { return "test" }

func (m *echoModule) HandleCall(_ context.Context, call Call) (any, error) {
	switch call.Method {
	case "echo":
		var v any
		if err := json.Unmarshal(call.Args, &v); err != nil {
			return nil, ErrCallParamInvalid(err.Error())
		}
		return v, nil
	default:
		return nil, ErrMethodNotFound()
	}
}

func (m *echoModule) HandleEvent(_ context.Context, _ Event) error {
	m.mu.Lock()
	m.events = append(m.events, time.Now())
	m.mu.Unlock()
	return nil
}

func (m *echoModule) HandleStart(_ context.Context, _ StartNotify) {}

func (m *echoModule) firstEventAt() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return time.Time{}, false
	}
	return m.events[0], true
}

// openMachine is a trivial one-edge machine used to exercise transite.
type openMachine struct {
	state string
}

func (m *openMachine) Name() string  { return "test-machine" }
func (m *openMachine) State() string { return m.state }
func (m *openMachine) Transition(token string) (string, error) {
	if m.state == "Begin" && token == "Open" {
		m.state = "Open"
		return "Opened", nil
	}
	return "", ErrTransitionNotFound()
}

func TestBusCallRoutingKnownModule(t *testing.T) {
	b := New()
	mod := &echoModule{name: "echoer"}
	if err := b.RegisterModule(0, mod); err != nil {
		t.Fatalf("register: %v", err)
	}
	b.Start()
	defer b.Close()

	result, err := b.Call(context.Background(), "echoer", "echo", json.RawMessage(`"hi"`))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != "hi" {
		t.Fatalf("expected hi, got %v", result)
	}
}

func TestBusCallRoutingUnknownModule(t *testing.T) {
	b := New()
	defer b.Close()

	_, err := b.Call(context.Background(), "nosuch", "echo", nil)
	if !IsKind(err, KindNoModule) {
		t.Fatalf("expected NoModule, got %v", err)
	}
}

func TestBusCallRoutingUnknownMethod(t *testing.T) {
	b := New()
	mod := &echoModule{name: "echoer"}
	_ = b.RegisterModule(0, mod)
	b.Start()
	defer b.Close()

	_, err := b.Call(context.Background(), "echoer", "bogus", nil)
	if !IsKind(err, KindMethodNotFound) {
		t.Fatalf("expected MethodNotFound, got %v", err)
	}
}

// TestBusCallBeforeStartIsModuleInstanceError is the scenario spec §4.3
// names: a call reaching a registered module before Start has run must not
// be allowed to proceed into a module whose HandleStart-driven state (e.g.
// busAddr) may still be nil.
func TestBusCallBeforeStartIsModuleInstanceError(t *testing.T) {
	b := New()
	mod := &echoModule{name: "echoer"}
	_ = b.RegisterModule(0, mod)
	defer b.Close()

	_, err := b.Call(context.Background(), "echoer", "echo", json.RawMessage(`"hi"`))
	if !IsKind(err, KindModuleInstance) {
		t.Fatalf("expected ModuleInstance, got %v", err)
	}
}

// TestBusCallUnknownModuleIsNoModuleRegardlessOfStart asserts the guard
// ordering: a module that will never be registered is NoModule whether or
// not Start has run, not ModuleInstance.
func TestBusCallUnknownModuleIsNoModuleRegardlessOfStart(t *testing.T) {
	b := New()
	defer b.Close()

	_, err := b.Call(context.Background(), "nosuch", "echo", nil)
	if !IsKind(err, KindNoModule) {
		t.Fatalf("expected NoModule before Start, got %v", err)
	}

	b.Start()
	_, err = b.Call(context.Background(), "nosuch", "echo", nil)
	if !IsKind(err, KindNoModule) {
		t.Fatalf("expected NoModule after Start, got %v", err)
	}
}

func TestBusTransiteUnknownMachine(t *testing.T) {
	b := New()
	defer b.Close()

	if err := b.Transite(999, "Open"); !IsKind(err, KindNoStateMachine) {
		t.Fatalf("expected NoStateMachine, got %v", err)
	}
}

func TestBusTransiteRejectsUndefinedEdge(t *testing.T) {
	b := New()
	id := b.RegisterMachine(&openMachine{state: "Begin"})
	defer b.Close()

	if err := b.Transite(id, "Close"); !IsKind(err, KindTransitionNotFound) {
		t.Fatalf("expected TransitionNotFound, got %v", err)
	}
}

// TestEventFanOutPriorityOrder is property #3 / scenario instrumentation:
// given modules A (priority 10) and B (priority 1), a single transite must
// enqueue A's event before B's.
func TestEventFanOutPriorityOrder(t *testing.T) {
	b := New()
	a := &echoModule{name: "a"}
	low := &echoModule{name: "b"}
	_ = b.RegisterModule(10, a)
	_ = b.RegisterModule(1, low)
	defer b.Close()

	id := b.RegisterMachine(&openMachine{state: "Begin"})
	if err := b.Transite(id, "Open"); err != nil {
		t.Fatalf("transite: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		_, aok := a.firstEventAt()
		_, bok := low.firstEventAt()
		if aok && bok {
			break
		}
		time.Sleep(time.Millisecond)
	}

	aTime, aok := a.firstEventAt()
	bTime, bok := low.firstEventAt()
	if !aok || !bok {
		t.Fatal("both modules should have received the event")
	}
	if !aTime.Before(bTime) && aTime != bTime {
		t.Fatalf("expected higher-priority module to receive first: a=%v b=%v", aTime, bTime)
	}
}

func TestEventOrderAndStartOrderAreInverse(t *testing.T) {
	b := New()
	_ = b.RegisterModule(5, &echoModule{name: "mid"})
	_ = b.RegisterModule(10, &echoModule{name: "high"})
	_ = b.RegisterModule(1, &echoModule{name: "low"})
	defer b.Close()

	eventOrder := b.EventOrder()
	startOrder := b.StartOrder()

	want := []string{"high", "mid", "low"}
	for i, n := range want {
		if eventOrder[i] != n {
			t.Fatalf("EventOrder[%d] = %s, want %s", i, eventOrder[i], n)
		}
	}
	wantStart := []string{"low", "mid", "high"}
	for i, n := range wantStart {
		if startOrder[i] != n {
			t.Fatalf("StartOrder[%d] = %s, want %s", i, startOrder[i], n)
		}
	}
}
