package prepare

import (
	"context"
	"testing"
	"time"

	"github.com/curdata-project/walletframework/internal/bus"
	"github.com/curdata-project/walletframework/internal/states"
)

// stubModule answers mod_initial with a fixed status, in call order.
type stubModule struct {
	name   string
	status ModStatus
}

func (s *stubModule) Name() string    { return s.name }
func (s *stubModule) Version() string { return "test" }

func (s *stubModule) HandleCall(_ context.Context, call bus.Call) (any, error) {
	if call.Method == "mod_initial" {
		return string(s.status), nil
	}
	return nil, bus.ErrMethodNotFound()
}

func (s *stubModule) HandleEvent(_ context.Context, _ bus.Event) error { return nil }
func (s *stubModule) HandleStart(_ context.Context, _ bus.StartNotify) {}

func newTestBus(t *testing.T, statuses ...ModStatus) (*bus.Bus, uint64) {
	t.Helper()
	b := bus.New()
	for i, status := range statuses {
		mod := &stubModule{name: string(rune('a' + i)), status: status}
		if err := b.RegisterModule(int32(i), mod); err != nil {
			t.Fatalf("register module %d: %v", i, err)
		}
	}
	wmID := b.CreateMachine(states.NewWalletMachine())
	b.Start()
	return b, wmID
}

func TestPrepareAllSuccessAdvancesWalletToStoreInitaled(t *testing.T) {
	b, wmID := newTestBus(t, StatusInitalSuccess, StatusIgnore, StatusInitalSuccess)
	mod := New(wmID)
	mod.busAddr = b

	if err := mod.runStartList(context.Background()); err != nil {
		t.Fatalf("runStartList: %v", err)
	}

	state, ok := b.MachineState(wmID)
	if !ok {
		t.Fatal("wallet machine not found")
	}
	if state != states.WalletStoreInitaled {
		t.Fatalf("expected wallet machine in StoreInitaled, got %q", state)
	}
}

func TestPrepareAnyFailureLeavesWalletAtStoreUninital(t *testing.T) {
	b, wmID := newTestBus(t, StatusInitalSuccess, StatusInitalFailed)
	mod := New(wmID)
	mod.busAddr = b

	if err := mod.runStartList(context.Background()); err != nil {
		t.Fatalf("runStartList: %v", err)
	}

	state, ok := b.MachineState(wmID)
	if !ok {
		t.Fatal("wallet machine not found")
	}
	if state != states.WalletStoreUninital {
		t.Fatalf("a failed aggregate has no InitalFailed edge, wallet machine should stay at StoreUninital, got %q", state)
	}
}

func TestPrepareUsesStartOrderAscending(t *testing.T) {
	b := bus.New()
	var seen []string
	mods := []struct {
		name     string
		priority int32
	}{
		{"high", 10},
		{"low", 1},
		{"mid", 5},
	}
	for _, m := range mods {
		name := m.name
		recorder := &recordingModule{name: name, seen: &seen, status: StatusInitalSuccess}
		if err := b.RegisterModule(m.priority, recorder); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	wmID := b.CreateMachine(states.NewWalletMachine())
	mod := New(wmID)
	mod.busAddr = b
	b.Start()

	if err := mod.runStartList(context.Background()); err != nil {
		t.Fatalf("runStartList: %v", err)
	}
	want := []string{"low", "mid", "high"}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v, want %v", seen, want)
		}
	}
}

type recordingModule struct {
	name   string
	seen   *[]string
	status ModStatus
}

func (r *recordingModule) Name() string    { return r.name }
func (r *recordingModule) Version() string { return "test" }

func (r *recordingModule) HandleCall(_ context.Context, call bus.Call) (any, error) {
	if call.Method == "mod_initial" {
		*r.seen = append(*r.seen, r.name)
		return string(r.status), nil
	}
	return nil, bus.ErrMethodNotFound()
}

func (r *recordingModule) HandleEvent(_ context.Context, _ bus.Event) error { return nil }
func (r *recordingModule) HandleStart(_ context.Context, _ bus.StartNotify) {}

// TestPrepareSelfRegistrationIsIgnored covers the case where the prepare
// module is itself on the bus's priority list (main.go registers it so
// Start() notifies it): its own mod_initial must not drag the aggregate to
// InitalFailed. mod is driven only through the actor's own HandleStart, via
// Start(), rather than also being called directly: a direct call here
// would race the actor's own mailbox goroutine over mod's state.
func TestPrepareSelfRegistrationIsIgnored(t *testing.T) {
	b := bus.New()
	wmID := b.CreateMachine(states.NewWalletMachine())
	mod := New(wmID)
	if err := b.RegisterModule(0, mod); err != nil {
		t.Fatalf("register prepare: %v", err)
	}
	b.Start()

	deadline := time.Now().Add(2 * time.Second)
	var state string
	var ok bool
	for time.Now().Before(deadline) {
		state, ok = b.MachineState(wmID)
		if ok && state == states.WalletStoreInitaled {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !ok {
		t.Fatal("wallet machine not found")
	}
	if state != states.WalletStoreInitaled {
		t.Fatalf("expected self-registration to be ignored, not fail the aggregate, got %q", state)
	}
}
