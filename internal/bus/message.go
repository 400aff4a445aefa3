package bus

import (
	"context"
	"encoding/json"
)

// Call is a request/response message dispatched to a module's mailbox.
type Call struct {
	Method string
	Args   json.RawMessage
}

// Event is the structured emission of a successful machine transition,
// fanned out to every subscribed module in priority order.
type Event struct {
	MachineID   uint64
	MachineName string
	Name        string
}

// StartEntry is one (module name, priority) row of the configured start
// list handed to the prepare orchestrator.
type StartEntry struct {
	Name     string
	Priority int32
}

// StartNotify is delivered exactly once to every module after the bus has
// populated all directories and before routine traffic begins.
type StartNotify struct {
	Bus       *Bus
	Priority  int32
	StartList []StartEntry
}

// Module is the capability interface the bus dispatches through. A module
// is an actor with a single-threaded mailbox: the bus never calls these
// methods concurrently with each other for the same module instance (see
// Actor in actor.go, which enforces this).
type Module interface {
	Name() string
	Version() string

	HandleCall(ctx context.Context, call Call) (any, error)
	HandleEvent(ctx context.Context, event Event) error
	HandleStart(ctx context.Context, notify StartNotify)
}
