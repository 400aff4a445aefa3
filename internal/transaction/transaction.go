// Package transaction implements the transaction module and its in-memory
// payload manager: per-transaction FSM creation, txid allocation, the
// tx_send/tx_save_cb handshake, role derivation, and the idle-timeout sweep.
package transaction

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/curdata-project/walletframework/internal/bus"
	"github.com/curdata-project/walletframework/internal/states"
	"github.com/curdata-project/walletframework/pkg/logging"
)

// Name is the well-known module name the bus registers this module under.
const Name = "transaction"

const (
	checkCloseInterval = 3 * time.Second
	maxCloseTimeMs     = 2000
)

// assertDecode panics on a failed internal round-trip decode — spec §7's
// "programmer-error" row, used only at self-call boundaries constructed by
// this package itself, never on externally-sourced JSON.
func assertDecode(raw json.RawMessage, v interface{}) {
	if err := json.Unmarshal(raw, v); err != nil {
		panic("transaction: found a bug: " + err.Error())
	}
}

type txSendRequest struct {
	UID         string `json:"uid"`
	OppoPeerUID string `json:"oppo_peer_uid"`
}

type txSendResponse struct {
	Txid     string      `json:"txid"`
	ConnInfo interface{} `json:"conn_info"`
}

type txSaveCBInput struct {
	TxSmID     uint64 `json:"tx_sm_id"`
	UID        string `json:"uid"`
	IsTXSender bool   `json:"is_tx_sender"`
	Txid       string `json:"txid,omitempty"`
}

type txSaveCBOutput struct {
	Txid string `json:"txid"`
}

type txCloseRequest struct {
	UID    string `json:"uid"`
	Txid   string `json:"txid"`
	Reason string `json:"reason"`
}

type setPaymentPlanRequest struct {
	Txid       string          `json:"txid"`
	UID        string          `json:"uid"`
	OppoUID    string          `json:"oppo_uid"`
	Exchangers []ExchangerItem `json:"exchangers"`
}

type setPayCurrencyStatRequest struct {
	TxSmID       uint64       `json:"tx_sm_id"`
	CurrencyStat CurrencyStat `json:"currency_stat"`
}

type setCurrencyPlanRequest struct {
	TxSmID   uint64             `json:"tx_sm_id"`
	PeerPlan []PeerCurrencyPlan `json:"peer_plan"`
}

type onConnectRequest struct {
	UID         string `json:"uid"`
	OppoPeerUID string `json:"oppo_peer_uid"`
	Txid        string `json:"txid"`
}

type recvTxMsgRequest struct {
	Msg struct {
		Txid string          `json:"txid"`
		Data json.RawMessage `json:"data"`
	} `json:"msg"`
	RecvUID string `json:"recv_uid"`
}

// Module is the transaction actor. It owns the payload manager and the bus
// handle received at StartNotify.
type Module struct {
	busAddr *bus.Bus
	mgr     *Manager
	log     *logging.Logger
	stop    chan struct{}
}

// New builds the transaction module with an empty payload manager.
func New() *Module {
	return &Module{
		mgr:  NewManager(nil),
		log:  logging.GetDefault().Component("transaction"),
		stop: make(chan struct{}),
	}
}

func (m *Module) Name() string    { return Name }
func (m *Module) Version() string { return "0.1" }

func (m *Module) HandleCall(ctx context.Context, call bus.Call) (any, error) {
	switch call.Method {
	case "mod_initial":
		return "InitalSuccess", nil

	case "tx_send":
		return m.txSend(ctx, call.Args)

	case "tx_save_cb":
		return m.txSaveCB(call.Args)

	case "tx_close":
		return nil, m.txClose(ctx, call.Args)

	case "run_close_check_task":
		m.runCloseCheckTask(ctx)
		return nil, nil

	case "set_payment_plan":
		return nil, m.setPaymentPlan(call.Args)

	case "set_pay_currency_stat":
		return nil, m.setPayCurrencyStat(call.Args)

	case "set_currency_plan":
		return nil, m.setCurrencyPlan(call.Args)

	case "on_connect":
		return nil, m.onConnect(call.Args)

	case "recv_tx_msg":
		return nil, m.recvTxMsg(call.Args)

	default:
		return nil, bus.ErrMethodNotFound()
	}
}

func (m *Module) HandleEvent(_ context.Context, _ bus.Event) error {
	return nil
}

func (m *Module) HandleStart(ctx context.Context, notify bus.StartNotify) {
	m.busAddr = notify.Bus
	go m.sweepLoop(ctx)
}

// sweepLoop ticks run_close_check_task every checkCloseInterval, per spec
// §4.5. It stops when Close is called.
func (m *Module) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(checkCloseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.runCloseCheckTask(ctx)
		case <-m.stop:
			return
		}
	}
}

// Close stops the idle-sweep goroutine. Idempotent against a bus that never
// started it.
func (m *Module) Close() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

// txSend implements the handshake described in SPEC_FULL.md §4
// ("tx_save_cb internal handshake"): create the per-transaction FSM via the
// bus, then self-call tx_save_cb directly through HandleCall to allocate the txid and install the payload, then
// issue tx_conn.connect. A connect failure leaves the payload to be reaped
// by the idle-timeout sweep (simplification by design, spec §4.5).
func (m *Module) txSend(ctx context.Context, args json.RawMessage) (any, error) {
	var req txSendRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, bus.ErrCallParamInvalid(err.Error())
	}

	txSmID := m.busAddr.CreateMachine(states.NewTransactionMachine())

	saveArgs, err := json.Marshal(txSaveCBInput{TxSmID: txSmID, UID: req.UID, IsTXSender: true})
	if err != nil {
		panic("transaction: found a bug: " + err.Error())
	}
	saveResultAny, err := m.HandleCall(ctx, bus.Call{Method: "tx_save_cb", Args: saveArgs})
	if err != nil {
		return nil, err
	}
	var saveResult txSaveCBOutput
	decodeSelfResult(saveResultAny, &saveResult)

	connArgs, err := json.Marshal(map[string]string{
		"uid":           req.UID,
		"oppo_peer_uid": req.OppoPeerUID,
		"txid":          saveResult.Txid,
	})
	if err != nil {
		panic("transaction: found a bug: " + err.Error())
	}
	connInfo, connErr := m.busAddr.Call(ctx, "tx_conn", "connect", connArgs)
	if connErr != nil {
		m.log.Warn("tx_conn.connect failed, payload left for idle reap", "txid", saveResult.Txid, "error", connErr)
	} else {
		m.log.Info("tx_connect", "txid", saveResult.Txid)
	}

	return txSendResponse{Txid: saveResult.Txid, ConnInfo: connInfo}, nil
}

// decodeSelfResult round-trips a self-call's return value back into a typed
// struct. It is always an internally-constructed value, so a failure here is
// a programmer error (spec §7), not a caller-facing one.
func decodeSelfResult(v any, out interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic("transaction: found a bug: " + err.Error())
	}
	if err := json.Unmarshal(raw, out); err != nil {
		panic("transaction: found a bug: " + err.Error())
	}
}

// txSaveCB is the internal handshake step: allocate (or accept, on the
// responder path) a txid and install the payload under tx_sm_id.
func (m *Module) txSaveCB(args json.RawMessage) (any, error) {
	var req txSaveCBInput
	assertDecode(args, &req)

	isTXSender := req.IsTXSender
	p, err := m.mgr.Create(req.UID, req.TxSmID, isTXSender, req.Txid)
	if err != nil {
		return nil, toBusError(err)
	}
	return txSaveCBOutput{Txid: p.Txid}, nil
}

// onConnect is the responder-side creation path, supplemented per
// SPEC_FULL.md §4: the connection manager notifies the transaction module of
// the first inbound packet for a new (uid, txid), and the module creates its
// own local machine + payload to receive into.
func (m *Module) onConnect(args json.RawMessage) error {
	var req onConnectRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return bus.ErrCallParamInvalid(err.Error())
	}

	txSmID := m.busAddr.CreateMachine(states.NewTransactionMachine())
	if _, err := m.mgr.Create(req.UID, txSmID, false, req.Txid); err != nil {
		return toBusError(err)
	}
	m.log.Info("on_connect", "uid", req.UID, "oppo_peer_uid", req.OppoPeerUID, "txid", req.Txid)
	return nil
}

// recvTxMsg is the upward notification carrying an in-order payload from the
// connection manager. It refreshes the payload's idle clock.
func (m *Module) recvTxMsg(args json.RawMessage) error {
	var req recvTxMsgRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return bus.ErrCallParamInvalid(err.Error())
	}
	p, err := m.mgr.Get(req.Msg.Txid, req.RecvUID)
	if err != nil {
		return toBusError(err)
	}
	m.mgr.Touch(p.TxSmID)
	return nil
}

// txClose destroys the transaction's machine, removes the payload from both
// maps and notifies the connection manager. Idempotent: closing an
// already-absent payload only repeats the close_conn notification.
func (m *Module) txClose(ctx context.Context, args json.RawMessage) error {
	var req txCloseRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return bus.ErrCallParamInvalid(err.Error())
	}

	if p, err := m.mgr.Get(req.Txid, req.UID); err == nil {
		m.busAddr.DestroyMachine(p.TxSmID)
	}
	m.mgr.Close(req.Txid, req.UID)
	m.log.Info("tx_close", "txid", req.Txid, "reason", req.Reason)

	closeArgs, err := json.Marshal(map[string]string{"uid": req.UID, "txid": req.Txid})
	if err != nil {
		panic("transaction: found a bug: " + err.Error())
	}
	if _, err := m.busAddr.Call(ctx, "tx_conn", "close_conn", closeArgs); err != nil {
		m.log.Debug("tx_conn.close_conn failed", "txid", req.Txid, "error", err)
	}
	return nil
}

func (m *Module) setPaymentPlan(args json.RawMessage) error {
	var req setPaymentPlanRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return bus.ErrCallParamInvalid(err.Error())
	}
	return toBusError(m.mgr.SetPaymentPlan(req.Txid, req.UID, req.OppoUID, req.Exchangers))
}

func (m *Module) setPayCurrencyStat(args json.RawMessage) error {
	var req setPayCurrencyStatRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return bus.ErrCallParamInvalid(err.Error())
	}
	return toBusError(m.mgr.SetPayCurrencyStat(req.TxSmID, &req.CurrencyStat))
}

func (m *Module) setCurrencyPlan(args json.RawMessage) error {
	var req setCurrencyPlanRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return bus.ErrCallParamInvalid(err.Error())
	}
	return toBusError(m.mgr.SetCurrencyPlan(req.TxSmID, req.PeerPlan))
}

// runCloseCheckTask synthesizes a tx_close for every payload idle past
// maxCloseTimeMs (spec §4.5, property #6). The fingerprint logged alongside
// the batch is a blake2b-256 checksum of the reaped txids, letting an
// operator grep a short hash across log lines instead of a full id list.
func (m *Module) runCloseCheckTask(ctx context.Context) {
	idle := m.mgr.SweepIdle(maxCloseTimeMs)
	if len(idle) == 0 {
		return
	}

	h, err := blake2b.New256(nil)
	if err == nil {
		for _, e := range idle {
			h.Write([]byte(e.txid))
		}
		m.log.Debug("run_close_check_task sweep", "count", len(idle), "fingerprint", h.Sum(nil))
	}

	for _, e := range idle {
		args, err := json.Marshal(txCloseRequest{UID: e.uid, Txid: e.txid, Reason: "timeout"})
		if err != nil {
			panic("transaction: found a bug: " + err.Error())
		}
		if err := m.txClose(ctx, args); err != nil {
			m.log.Warn("idle tx_close failed", "txid", e.txid, "error", err)
		}
	}
}
