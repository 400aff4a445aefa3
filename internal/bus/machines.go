package bus

import "sync"

// Machine is a finite state machine driven by string transition tokens.
// Implementations hold their own current state; Transition applies a token
// and returns the emitted event name, or ErrTransitionNotFound if the
// (state, token) pair has no edge.
type Machine interface {
	// Name identifies the machine kind (e.g. "wallet", "transaction");
	// it is not unique across instances, only across kinds.
	Name() string
	// State returns the current state as a string.
	State() string
	// Transition applies token, mutating State(), and returns the emitted
	// event name on success.
	Transition(token string) (string, error)
}

// Registry stores Machines by a sequentially assigned id, mirroring the
// original's BTreeMap<u64, Box<dyn Machine>> keyed by an incrementing counter.
type Registry struct {
	mu       sync.Mutex
	machines map[uint64]Machine
	nextID   uint64
}

// NewRegistry builds an empty machine registry.
func NewRegistry() *Registry {
	return &Registry{machines: make(map[uint64]Machine)}
}

// Insert appends a machine, assigning it the next sequential id.
func (r *Registry) Insert(m Machine) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.machines[id] = m
	return id
}

// Remove drops a machine from the registry. Removing an id that is not
// present is a no-op, matching DestroyMachine's idempotent contract.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.machines, id)
}

// Get returns the machine at id, if any.
func (r *Registry) Get(id uint64) (Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[id]
	return m, ok
}

// Transition looks up the machine at id and applies token, returning the
// resolved (id, machine name, emitted event) triple used to build an Event.
func (r *Registry) Transition(id uint64, token string) (uint64, string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.machines[id]
	if !ok {
		return 0, "", "", ErrNoStateMachine()
	}
	event, err := m.Transition(token)
	if err != nil {
		return 0, "", "", err
	}
	return id, m.Name(), event, nil
}
