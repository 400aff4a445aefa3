// Package prepare implements the staged-initialization orchestrator: on
// StartNotify it walks the bus's configured start list in priority order,
// issues mod_initial to each module, and emits the aggregate wallet-machine
// transition.
package prepare

import (
	"context"
	"encoding/json"

	"github.com/curdata-project/walletframework/internal/bus"
	"github.com/curdata-project/walletframework/pkg/logging"
)

// ModStatus is the result a module returns from mod_initial.
type ModStatus string

const (
	StatusUnInital      ModStatus = "UnInital"
	StatusInitalSuccess ModStatus = "InitalSuccess"
	StatusInitalFailed  ModStatus = "InitalFailed"
	// StatusIgnore lets a module defer initialization to a different
	// priority bucket without counting as a failure.
	StatusIgnore ModStatus = "Ignore"
)

// Name is the well-known module name the bus registers this orchestrator
// under.
const Name = "prepare"

// Module is the prepare orchestrator. It holds no state beyond the bus
// handle it receives at StartNotify.
type Module struct {
	busAddr     *bus.Bus
	walletMSMID uint64
	log         *logging.Logger
}

// New builds the prepare module. walletMachineID is the bus id of the
// long-lived wallet FSM the orchestrator transitions once staged init
// completes.
func New(walletMachineID uint64) *Module {
	return &Module{
		walletMSMID: walletMachineID,
		log:         logging.GetDefault().Component("prepare"),
	}
}

func (m *Module) Name() string    { return Name }
func (m *Module) Version() string { return "0.1" }

func (m *Module) HandleCall(ctx context.Context, call bus.Call) (any, error) {
	switch call.Method {
	case "initial_controler_start":
		return nil, m.runStartList(ctx)
	case "mod_initial":
		// The orchestrator is itself registered on the bus's priority list
		// (so Start() notifies it), which puts it in its own StartOrder.
		// It answers mod_initial as Ignore rather than participating in
		// the aggregate it computes.
		return string(StatusIgnore), nil
	default:
		return nil, bus.ErrMethodNotFound()
	}
}

func (m *Module) HandleEvent(_ context.Context, _ bus.Event) error {
	// No event of interest to the orchestrator; handlers must be
	// idempotent against duplicate delivery, trivially true for a no-op.
	return nil
}

func (m *Module) HandleStart(ctx context.Context, notify bus.StartNotify) {
	m.busAddr = notify.Bus
	if err := m.runStartList(ctx); err != nil {
		m.log.Error("initial_controler_start failed", "error", err)
	}
}

// runStartList issues mod_initial to every module on the bus, in the bus's
// StartOrder (ascending priority). Its own entry is skipped and counts as
// Ignore: a bus call to itself from inside its own handler would block on
// its own mailbox. The orchestrator never retries and never aborts early on
// InitalFailed; it aggregates and transitions the wallet machine once at
// the end.
func (m *Module) runStartList(ctx context.Context) error {
	startList := m.busAddr.StartOrder()
	m.log.Info("initial_controler_start", "modules", startList)

	allOK := true
	for _, modName := range startList {
		if modName == Name {
			continue
		}
		result, err := m.busAddr.Call(ctx, modName, "mod_initial", json.RawMessage(`{}`))
		if err != nil {
			m.log.Warn("mod_initial call failed", "module", modName, "error", err)
			allOK = false
			continue
		}

		status, ok := result.(string)
		if !ok {
			var decoded ModStatus
			if raw, err := json.Marshal(result); err == nil {
				_ = json.Unmarshal(raw, &decoded)
			}
			status = string(decoded)
		}

		m.log.Info("mod_initial", "module", modName, "status", status)
		switch ModStatus(status) {
		case StatusInitalSuccess, StatusIgnore:
			// Ignore defers to a different priority bucket; it is not a
			// failure and does not block the aggregate.
		case StatusInitalFailed:
			allOK = false
		case StatusUnInital:
			allOK = false
		default:
			allOK = false
		}
	}

	aggregate := StatusInitalSuccess
	if !allOK {
		aggregate = StatusInitalFailed
	}
	m.log.Info("staged module initialization complete", "aggregate", aggregate)

	// The wallet machine always advances Begin -> Start -> StoreUninital
	// regardless of the aggregate (S1's "emit Starting" step), then the
	// orchestrator attempts the aggregate token. InitalSuccess has an edge
	// from StoreUninital; InitalFailed has none anywhere in the graph, so
	// a failed round simply fails that last transition and leaves the
	// machine at StoreUninital — logged, not propagated, since a rejected
	// wallet-machine transition is not itself a staged-init failure.
	if err := m.busAddr.Transite(m.walletMSMID, "Starting"); err != nil {
		return err
	}
	if err := m.busAddr.Transite(m.walletMSMID, "EmptyWallet"); err != nil {
		return err
	}
	if err := m.busAddr.Transite(m.walletMSMID, string(aggregate)); err != nil {
		m.log.Debug("aggregate transition rejected", "aggregate", aggregate, "error", err)
	}
	return nil
}
