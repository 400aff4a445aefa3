package bus

import (
	"context"
	"sort"
	"sync"

	"github.com/curdata-project/walletframework/pkg/logging"
)

// priorityEntry is one row of the priority list: a (priority, module name)
// pair used both for startup ordering and event fan-out ordering.
type priorityEntry struct {
	priority int32
	name     string
}

// Bus is the directory of modules and machines at the center of the
// framework: two parallel directories keyed by module name (Call delivery,
// Event broadcast — here the same Actor serves both), the machine registry,
// and the priority list controlling startup and event order.
//
// The module directories are written only during registration, before
// Start is called, and are read-only thereafter (spec §5 "Shared-resource
// policy"); registrations therefore need no lock beyond the one protecting
// concurrent RegisterModule calls during setup.
type Bus struct {
	mu        sync.RWMutex
	actors    map[string]*Actor
	priority  []priorityEntry
	machines  *Registry
	log       *logging.Logger
	started   bool
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{
		actors:   make(map[string]*Actor),
		machines: NewRegistry(),
		log:      logging.GetDefault().Component("bus"),
	}
}

// RegisterModule inserts module into both endpoint directories and into the
// priority list. Must be called before Start; module names are unique.
func (b *Bus) RegisterModule(priority int32, module Module) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	name := module.Name()
	if _, exists := b.actors[name]; exists {
		return ErrOther("module already registered: " + name)
	}

	b.actors[name] = NewActor(module)
	b.priority = append(b.priority, priorityEntry{priority: priority, name: name})
	return nil
}

// RegisterMachine appends a machine to the registry and returns its stable id.
func (b *Bus) RegisterMachine(m Machine) uint64 {
	return b.machines.Insert(m)
}

// CreateMachine is the dynamic-lifecycle counterpart of RegisterMachine,
// used for per-transaction machines created after bus construction.
func (b *Bus) CreateMachine(m Machine) uint64 {
	return b.machines.Insert(m)
}

// DestroyMachine removes a dynamically created machine. Idempotent.
func (b *Bus) DestroyMachine(id uint64) {
	b.machines.Remove(id)
}

// MachineState reports the current state name of machine id.
func (b *Bus) MachineState(id uint64) (string, bool) {
	m, ok := b.machines.Get(id)
	if !ok {
		return "", false
	}
	return m.State(), true
}

// Call dispatches a Call to the named module's mailbox and waits for its
// response. Fails with ErrNoModule if the module is not registered, and
// with ErrModuleInstance if the bus has not finished Start yet: before
// Start, a registered actor's module-level state (anything HandleStart
// wires up, e.g. busAddr) may not be ready to serve a call (spec §4.3).
func (b *Bus) Call(ctx context.Context, moduleName, method string, args []byte) (any, error) {
	b.mu.RLock()
	actor, ok := b.actors[moduleName]
	started := b.started
	b.mu.RUnlock()
	if !ok {
		return nil, ErrNoModule()
	}
	if !started {
		return nil, ErrModuleInstance("bus not started: module " + moduleName + " not ready")
	}
	return actor.Call(ctx, Call{Method: method, Args: args})
}

// Transite applies a transition token to machine id and, on success, fans
// the resulting Event out to every registered module in priority order
// (highest priority first). It returns once the event has been enqueued on
// every mailbox, not once every handler has completed.
func (b *Bus) Transite(id uint64, token string) error {
	_, name, eventName, err := b.machines.Transition(id, token)
	if err != nil {
		return err
	}
	event := Event{MachineID: id, MachineName: name, Name: eventName}

	for _, actorName := range b.EventOrder() {
		b.mu.RLock()
		actor := b.actors[actorName]
		b.mu.RUnlock()
		if actor != nil {
			actor.Notify(event)
		}
	}
	return nil
}

// EventOrder returns module names sorted by descending priority (highest
// first), the order event fan-out uses. Ties break by registration order,
// which is deterministic within one process (spec §4.2).
func (b *Bus) EventOrder() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := make([]priorityEntry, len(b.priority))
	copy(entries, b.priority)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority > entries[j].priority
	})
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// StartOrder returns module names in ascending-priority (lowest first)
// order, the order the prepare orchestrator walks its configured start
// list in. Kept as a second sorted view rather than reusing a shared heap,
// per the redesign note against draining one structure for two purposes.
func (b *Bus) StartOrder() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := make([]priorityEntry, len(b.priority))
	copy(entries, b.priority)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// Start delivers StartNotify to every registered module, passing it the
// configured start list so the prepare orchestrator can drive staged
// initialization.
func (b *Bus) Start() {
	b.mu.Lock()
	b.started = true
	entries := make([]priorityEntry, len(b.priority))
	copy(entries, b.priority)
	b.mu.Unlock()

	startList := make([]StartEntry, len(entries))
	for i, e := range entries {
		startList[i] = StartEntry{Name: e.name, Priority: e.priority}
	}

	for _, e := range entries {
		b.mu.RLock()
		actor := b.actors[e.name]
		b.mu.RUnlock()
		if actor != nil {
			actor.Start(StartNotify{Bus: b, Priority: e.priority, StartList: startList})
		}
	}
}

// Started reports whether Start has been called.
func (b *Bus) Started() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.started
}

// Close stops every registered actor's mailbox goroutine.
func (b *Bus) Close() {
	b.mu.RLock()
	actors := make([]*Actor, 0, len(b.actors))
	for _, a := range b.actors {
		actors = append(actors, a)
	}
	b.mu.RUnlock()

	for _, a := range actors {
		a.Close()
	}
}
