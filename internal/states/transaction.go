package states

import "github.com/curdata-project/walletframework/internal/bus"

// Transaction machine states, per spec §4.1: "Begin -> Starting -> Start ->
// TransactionSuccess -> Ready. Any other (state, token) is rejected."
const (
	TransactionBegin = "Begin"
	TransactionStart = "Start"
	TransactionReady = "Ready"
)

type transactionEdge struct {
	from, token, to string
}

var transactionGraph = []transactionEdge{
	{TransactionBegin, "Starting", TransactionStart},
	{TransactionStart, "TransactionSuccess", TransactionReady},
}

// TransactionMachine implements bus.Machine for a per-transaction FSM,
// created via bus.CreateMachine at tx_send time and destroyed at tx_close.
type TransactionMachine struct {
	state string
}

// NewTransactionMachine returns a transaction machine in its Begin state.
func NewTransactionMachine() *TransactionMachine {
	return &TransactionMachine{state: TransactionBegin}
}

func (m *TransactionMachine) Name() string  { return "transaction" }
func (m *TransactionMachine) State() string { return m.state }

func (m *TransactionMachine) Transition(token string) (string, error) {
	for _, e := range transactionGraph {
		if e.from == m.state && e.token == token {
			m.state = e.to
			return token, nil
		}
	}
	return "", bus.ErrTransitionNotFound()
}
