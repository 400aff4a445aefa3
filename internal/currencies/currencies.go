// Package currencies is the coin-selection collaborator referenced by
// spec §1 as out of scope beyond its interface: it exists here only to
// participate in staged initialization (worked example S1). It answers
// mod_initial and no other method; the transaction module's
// set_currency_plan does not call it.
package currencies

import (
	"context"

	"github.com/curdata-project/walletframework/internal/bus"
	"github.com/curdata-project/walletframework/pkg/logging"
)

// Name is the well-known module name.
const Name = "currencies"

// Module is a minimal collaborator: it answers mod_initial and otherwise
// does no coin-selection math of its own (that belongs to a real wallet
// backend, out of scope here).
type Module struct {
	log *logging.Logger
}

func New() *Module {
	return &Module{log: logging.GetDefault().Component("currencies")}
}

func (m *Module) Name() string    { return Name }
func (m *Module) Version() string { return "0.1" }

func (m *Module) HandleCall(_ context.Context, call bus.Call) (any, error) {
	switch call.Method {
	case "mod_initial":
		return "InitalSuccess", nil
	default:
		return nil, bus.ErrMethodNotFound()
	}
}

func (m *Module) HandleEvent(_ context.Context, _ bus.Event) error { return nil }
func (m *Module) HandleStart(_ context.Context, _ bus.StartNotify) {}
