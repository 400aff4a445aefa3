// Package txconn implements the UDP connection manager: a per-user bound
// UDP listener with a driver task, a reorder buffer per (uid, txid), a
// route table, and connection tracking with idle-timeout teardown.
package txconn

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/curdata-project/walletframework/internal/bus"
	"github.com/curdata-project/walletframework/pkg/logging"
)

// Name is the well-known module name the bus registers this module under.
const Name = "tx_conn"

type connectObj struct {
	uid         string
	oppoUID     string
	lastSendSeq uint32
}

// Module is the tx_conn actor. It owns the listener directory, the
// per-txid connection map, and the route table (spec §5 "shared-resource
// policy": each is owned by exactly one actor).
type Module struct {
	busAddr *bus.Bus
	log     *logging.Logger

	mu        sync.Mutex
	listeners map[string]*driver
	conns     map[string]map[string]*connectObj // txid -> uid -> conn

	routes *routeTable
	stop   chan struct{}
}

// New builds an empty tx_conn module.
func New() *Module {
	return &Module{
		log:       logging.GetDefault().Component("tx_conn"),
		listeners: make(map[string]*driver),
		conns:     make(map[string]map[string]*connectObj),
		routes:    newRouteTable(),
		stop:      make(chan struct{}),
	}
}

func (m *Module) Name() string    { return Name }
func (m *Module) Version() string { return "0.1" }

type bindListenRequest struct {
	UID string `json:"uid"`
}

type connectRequest struct {
	UID         string `json:"uid"`
	OppoPeerUID string `json:"oppo_peer_uid"`
	Txid        string `json:"txid"`
}

type closeBindRequest struct {
	UID string `json:"uid"`
}

type closeConnRequest struct {
	UID  string `json:"uid"`
	Txid string `json:"txid"`
}

type addRouteRequest struct {
	UID string `json:"uid"`
	URL string `json:"url"`
}

type sendRequest struct {
	SendUID string `json:"send_uid"`
	Txid    string `json:"txid"`
	Data    []byte `json:"data"`
}

type secretQueryParam struct {
	PageItems  int    `json:"page_items"`
	PageNum    int    `json:"page_num"`
	OrderBy    string `json:"order_by"`
	IsAscOrder bool   `json:"is_asc_order"`
}

type secretEntity struct {
	UID string `json:"uid"`
}

func (m *Module) HandleCall(ctx context.Context, call bus.Call) (any, error) {
	switch call.Method {
	case "mod_initial":
		return m.modInitial(ctx)
	case "bind_listen":
		return nil, m.bindListen(ctx, call.Args)
	case "close_bind":
		return nil, m.closeBind(call.Args)
	case "connect":
		return nil, m.connect(call.Args)
	case "close_conn":
		return nil, m.closeConn(call.Args)
	case "send_tx_msg":
		return nil, m.send(ctx, call.Args)
	case "add_route_info":
		return nil, m.addRouteInfo(call.Args)
	case "get_route_infos":
		return m.routes.snapshot(), nil
	default:
		return nil, bus.ErrMethodNotFound()
	}
}

func (m *Module) HandleEvent(_ context.Context, _ bus.Event) error { return nil }

func (m *Module) HandleStart(ctx context.Context, notify bus.StartNotify) {
	m.busAddr = notify.Bus
	go m.sweepLoop(ctx)
}

// Close tears down every listener's driver and stops the sweep loop.
func (m *Module) Close() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.listeners {
		d.control <- controlSignal{kind: signalClose}
	}
}

func (m *Module) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			drivers := make([]*driver, 0, len(m.listeners))
			for _, d := range m.listeners {
				drivers = append(drivers, d)
			}
			m.mu.Unlock()
			for _, d := range drivers {
				select {
				case d.control <- controlSignal{kind: signalTimeoutCheck}:
				default:
					m.log.Debug("timeout check dropped, control channel full", "uid", d.uid)
				}
			}
		case <-m.stop:
			return
		}
	}
}

// modInitial enumerates local uids by paging through the secret
// collaborator's query_secret_comb, binding a listener for each (spec §6:
// "used at UDP startup to enumerate local uids for bind_listen").
func (m *Module) modInitial(ctx context.Context) (any, error) {
	for page := 1; ; page++ {
		args, _ := json.Marshal(secretQueryParam{PageItems: 10, PageNum: page, OrderBy: "uid", IsAscOrder: true})
		result, err := m.busAddr.Call(ctx, "secret", "query_secret_comb", args)
		if err != nil {
			m.log.Warn("secret.query_secret_comb failed", "error", err)
			return "InitalFailed", nil
		}

		raw, err := json.Marshal(result)
		if err != nil {
			return "InitalFailed", nil
		}
		var secrets []secretEntity
		if err := json.Unmarshal(raw, &secrets); err != nil {
			return "InitalFailed", nil
		}
		if len(secrets) == 0 {
			break
		}
		for _, s := range secrets {
			if err := m.bindListen(ctx, marshalOrPanic(bindListenRequest{UID: s.UID})); err != nil {
				m.log.Warn("bind_listen failed during mod_initial", "uid", s.UID, "error", err)
			}
		}
	}
	return "InitalSuccess", nil
}

// bindListen binds a fresh local UDP endpoint (OS-chosen port) for uid and
// spawns its driver. A second bind_listen for an already-bound uid is a
// no-op (spec §4.6).
func (m *Module) bindListen(ctx context.Context, args json.RawMessage) error {
	var req bindListenRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return bus.ErrCallParamInvalid(err.Error())
	}

	m.mu.Lock()
	if _, exists := m.listeners[req.UID]; exists {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		return toBusError(errBindError)
	}

	d := newDriver(req.UID, conn, m.routes,
		m.notifyOnConnect, m.notifyRecvMsg, m.notifyIdleClose, m.log.Component("driver", req.UID))

	m.mu.Lock()
	m.listeners[req.UID] = d
	m.mu.Unlock()

	d.start(ctx)
	m.log.Info("bind_listen", "uid", req.UID, "addr", conn.LocalAddr().String())
	return nil
}

func (m *Module) notifyOnConnect(ctx context.Context, uid, oppoPeerUID, txid string) {
	args := marshalOrPanic(map[string]string{"uid": uid, "oppo_peer_uid": oppoPeerUID, "txid": txid})
	if _, err := m.busAddr.Call(ctx, "transaction", "on_connect", args); err != nil {
		m.log.Debug("transaction.on_connect failed", "uid", uid, "txid", txid, "error", err)
	}
}

func (m *Module) notifyRecvMsg(ctx context.Context, recvUID, txid string, data []byte) {
	args := marshalOrPanic(map[string]interface{}{
		"msg":      map[string]interface{}{"txid": txid, "data": data},
		"recv_uid": recvUID,
	})
	if _, err := m.busAddr.Call(ctx, "transaction", "recv_tx_msg", args); err != nil {
		m.log.Debug("transaction.recv_tx_msg failed", "recv_uid", recvUID, "txid", txid, "error", err)
	}
}

func (m *Module) notifyIdleClose(ctx context.Context, uid, txid, reason string) {
	m.closeConnInternal(uid, txid)
	args := marshalOrPanic(map[string]string{"uid": uid, "txid": txid, "reason": reason})
	if _, err := m.busAddr.Call(ctx, "transaction", "tx_close", args); err != nil {
		m.log.Debug("transaction.tx_close failed", "uid", uid, "txid", txid, "error", err)
	}
}

// closeBind terminates uid's driver and removes every conn object
// involving uid across all txids.
func (m *Module) closeBind(args json.RawMessage) error {
	var req closeBindRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return bus.ErrCallParamInvalid(err.Error())
	}

	m.mu.Lock()
	d, ok := m.listeners[req.UID]
	if ok {
		delete(m.listeners, req.UID)
	}
	for txid, uidMap := range m.conns {
		delete(uidMap, req.UID)
		if len(uidMap) == 0 {
			delete(m.conns, txid)
		}
	}
	m.mu.Unlock()

	if ok {
		d.control <- controlSignal{kind: signalClose}
	}
	return nil
}

// connect installs a conn object under (txid, self_uid). No network traffic
// is triggered by connect itself; the first send carries ord_id=0, which the
// peer interprets as connection establishment (spec §4.6).
func (m *Module) connect(args json.RawMessage) error {
	var req connectRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return bus.ErrCallParamInvalid(err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conns[req.Txid] == nil {
		m.conns[req.Txid] = make(map[string]*connectObj)
	}
	m.conns[req.Txid][req.UID] = &connectObj{uid: req.UID, oppoUID: req.OppoPeerUID}
	return nil
}

func (m *Module) closeConn(args json.RawMessage) error {
	var req closeConnRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return bus.ErrCallParamInvalid(err.Error())
	}
	m.closeConnInternal(req.UID, req.Txid)
	return nil
}

// closeConnInternal is the idempotent core of close_conn: dropping an
// already-absent conn object is a no-op (spec property #7).
func (m *Module) closeConnInternal(uid, txid string) {
	m.mu.Lock()
	d, hasListener := m.listeners[uid]
	if uidMap, ok := m.conns[txid]; ok {
		delete(uidMap, uid)
		if len(uidMap) == 0 {
			delete(m.conns, txid)
		}
	}
	m.mu.Unlock()

	if hasListener {
		select {
		case d.control <- controlSignal{kind: signalCloseConn, txid: txid}:
		default:
			m.log.Debug("close_conn signal dropped, control channel full", "uid", uid, "txid", txid)
		}
	}
}

func (m *Module) addRouteInfo(args json.RawMessage) error {
	var req addRouteRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return bus.ErrCallParamInvalid(err.Error())
	}
	m.routes.add(req.UID, req.URL)
	return nil
}

// send resolves the conn object, the sender's listener, and the peer's
// route, assigns the next sequence number, and dispatches SendData to the
// driver (spec §4.6 "Send algorithm").
func (m *Module) send(ctx context.Context, args json.RawMessage) error {
	var req sendRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return bus.ErrCallParamInvalid(err.Error())
	}

	m.mu.Lock()
	uidMap, ok := m.conns[req.Txid]
	var conn *connectObj
	if ok {
		conn, ok = uidMap[req.SendUID]
	}
	if !ok {
		m.mu.Unlock()
		return toBusError(errConnectBroken)
	}

	d, hasListener := m.listeners[req.SendUID]
	if !hasListener {
		m.mu.Unlock()
		return toBusError(errConnectBroken)
	}

	url, hasRoute := m.routes.findURLByUID(conn.oppoUID)
	if !hasRoute {
		m.mu.Unlock()
		return toBusError(errConnectBroken)
	}

	addr, err := resolveUDPAddr(url)
	if err != nil {
		m.mu.Unlock()
		return toBusError(errConnectUrlUnvalid)
	}

	seq := conn.lastSendSeq
	conn.lastSendSeq++
	m.mu.Unlock()

	d.control <- controlSignal{
		kind: signalSendData,
		send: sendPayload{
			frame: Frame{Txid: req.Txid, OrdID: seq, Data: req.Data},
			addr:  addr,
		},
	}
	return nil
}
