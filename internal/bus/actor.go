package bus

import (
	"context"

	"github.com/curdata-project/walletframework/pkg/logging"
)

// mailboxKind tags which of a Module's three handlers an envelope targets.
type mailboxKind int

const (
	kindCall mailboxKind = iota
	kindEvent
	kindStart
)

// envelope is one unit of work queued on an Actor's mailbox. Exactly one of
// call/event/start is populated, selected by kind.
type envelope struct {
	kind  mailboxKind
	call  Call
	event Event
	start StartNotify
	reply chan callResult
}

type callResult struct {
	value any
	err   error
}

// mailboxCapacity bounds the event fan-out queue per actor. Events are
// fire-and-forget (spec: "delivery to subscribers is fire-and-forget"); a
// bounded, non-blocking-from-the-caller's-perspective queue keeps one slow
// module from stalling the bus's transite call. Calls always get a slot
// because the caller awaits its own reply and backpressure is the point.
const mailboxCapacity = 64

// Actor wraps one Module behind a single goroutine that drains its mailbox
// in arrival order, so the module's own handlers never see concurrent
// invocation ("a handler sees no interleaving on its own state", spec §5).
// This replaces the raw mutable-alias tricks the original used to reach
// back into the bus or a module from inside a handler: every interaction
// is a message sent to an Actor's mailbox.
type Actor struct {
	module  Module
	mailbox chan envelope
	done    chan struct{}
	log     *logging.Logger
}

// NewActor starts the actor's mailbox-draining goroutine and returns a
// handle other actors (and the bus) use to reach it.
func NewActor(module Module) *Actor {
	a := &Actor{
		module:  module,
		mailbox: make(chan envelope, mailboxCapacity),
		done:    make(chan struct{}),
		log:     logging.GetDefault().Component("actor", module.Name()),
	}
	go a.run()
	return a
}

func (a *Actor) run() {
	defer close(a.done)
	for env := range a.mailbox {
		switch env.kind {
		case kindCall:
			value, err := a.module.HandleCall(context.Background(), env.call)
			env.reply <- callResult{value: value, err: err}
		case kindEvent:
			// Broadcast errors are logged and swallowed (spec §7: "events
			// must not be able to abort the bus").
			if err := a.module.HandleEvent(context.Background(), env.event); err != nil {
				a.log.Debug("event handler returned error", "event", env.event.Name, "error", err)
			}
		case kindStart:
			a.module.HandleStart(context.Background(), env.start)
		}
	}
}

// Call delivers a Call and blocks until the module replies or ctx is done.
// This is suspension point (a) from spec §5: the caller is suspended until
// the module returns.
func (a *Actor) Call(ctx context.Context, call Call) (any, error) {
	reply := make(chan callResult, 1)
	env := envelope{kind: kindCall, call: call, reply: reply}

	select {
	case a.mailbox <- env:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify enqueues an Event without waiting for the handler to run. If the
// mailbox is full the event is dropped and logged — a slow subscriber must
// not be able to block event fan-out for everyone else.
func (a *Actor) Notify(event Event) {
	select {
	case a.mailbox <- envelope{kind: kindEvent, event: event}:
	default:
		a.log.Warn("mailbox full, dropping event", "event", event.Name, "module", a.module.Name())
	}
}

// Start delivers the one-shot StartNotify. Like Notify it does not block on
// the handler completing.
func (a *Actor) Start(notify StartNotify) {
	a.mailbox <- envelope{kind: kindStart, start: notify}
}

// Close stops accepting new work and waits until every already-queued item
// has been handled.
func (a *Actor) Close() {
	close(a.mailbox)
	<-a.done
}
