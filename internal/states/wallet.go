// Package states implements the finite state machines registered in the
// bus's machine registry: the wallet machine (one long-lived instance per
// bus) and the transaction machine (one instance per in-flight transaction,
// created and destroyed alongside its TransactionPayload).
package states

import "github.com/curdata-project/walletframework/internal/bus"

// Wallet states, per spec §4.1.
const (
	WalletBegin          = "Begin"
	WalletStart          = "Start"
	WalletStoreUninital  = "StoreUninital"
	WalletStoreInitaled  = "StoreInitaled"
	WalletUnregistered   = "Unregistered"
	WalletReady          = "Ready"
	WalletClose          = "Close"
	WalletDestory        = "Destory"
)

// walletEdge is one (from, token) -> to row of the wallet machine's graph.
type walletEdge struct {
	from, token, to string
}

var walletGraph = []walletEdge{
	{WalletBegin, "Starting", WalletStart},
	{WalletStart, "EmptyWallet", WalletStoreUninital},
	{WalletStart, "StoreInitaled", WalletStoreInitaled},
	{WalletStoreUninital, "InitalSuccess", WalletStoreInitaled},
	{WalletStoreInitaled, "Unregistered", WalletUnregistered},
	{WalletStoreInitaled, "Registered", WalletReady},
	{WalletUnregistered, "RegisterComplete", WalletReady},
	{WalletReady, "CloseWallet", WalletClose},
	{WalletReady, "ClearWallet", WalletDestory},
}

// WalletMachine implements bus.Machine for the single long-lived wallet FSM.
type WalletMachine struct {
	state string
}

// NewWalletMachine returns a wallet machine in its initial Begin state.
func NewWalletMachine() *WalletMachine {
	return &WalletMachine{state: WalletBegin}
}

func (m *WalletMachine) Name() string  { return "wallet" }
func (m *WalletMachine) State() string { return m.state }

// Transition applies token against the wallet state graph (spec §4.1's
// table, verbatim). The emitted event name is the token itself, since the
// original's event-after-transition is named the same as the transition
// that produced it (e.g. applying "InitalSuccess" emits event "InitalSuccess").
func (m *WalletMachine) Transition(token string) (string, error) {
	for _, e := range walletGraph {
		if e.from == m.state && e.token == token {
			m.state = e.to
			return token, nil
		}
	}
	return "", bus.ErrTransitionNotFound()
}
