package txconn

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/curdata-project/walletframework/pkg/logging"
)

const (
	driverControlCapacity = 10 // spec §9 design note: non-blocking, bounded 10
	idleSweepInterval     = 3 * time.Second
	idleMaxAgeMs          = 3000
)


type signalKind int

const (
	signalTimeoutCheck signalKind = iota
	signalSendData
	signalCloseConn
	signalClose
)

type sendPayload struct {
	frame Frame
	addr  *net.UDPAddr
}

type controlSignal struct {
	kind signalKind
	txid string // for signalCloseConn
	send sendPayload
}

type rawPacket struct {
	data []byte
	addr *net.UDPAddr
}

// onConnectFunc and recvMsgFunc are the upward notifications to the
// transaction module (spec §6's transaction.on_connect / recv_tx_msg).
// Injected so the driver never imports the transaction package directly.
type onConnectFunc func(ctx context.Context, uid, oppoPeerUID, txid string)
type recvMsgFunc func(ctx context.Context, recvUID, txid string, data []byte)
type closeFunc func(ctx context.Context, uid, txid, reason string)

// driver owns one uid's bound UDP socket and serializes all ordering/state
// updates for that uid in a single goroutine (spec §4.6: "a driver task owns
// the UDP receive half and serializes all ordering/state updates").
type driver struct {
	uid     string
	conn    *net.UDPConn
	control chan controlSignal
	recvCh  chan rawPacket
	done    chan struct{}

	routes *routeTable
	onConn onConnectFunc
	onMsg  recvMsgFunc
	onIdle closeFunc

	reorders map[string]*reorderBuffer
	log      *logging.Logger
}

func newDriver(uid string, conn *net.UDPConn, routes *routeTable, onConn onConnectFunc, onMsg recvMsgFunc, onIdle closeFunc, log *logging.Logger) *driver {
	return &driver{
		uid:      uid,
		conn:     conn,
		control:  make(chan controlSignal, driverControlCapacity),
		recvCh:   make(chan rawPacket, driverControlCapacity),
		done:     make(chan struct{}),
		routes:   routes,
		onConn:   onConn,
		onMsg:    onMsg,
		onIdle:   onIdle,
		reorders: make(map[string]*reorderBuffer),
		log:      log,
	}
}

func (d *driver) start(ctx context.Context) {
	go d.readLoop()
	go d.run(ctx)
}

// readLoop blocks on the UDP socket and forwards datagrams to recvCh. It
// exits when the socket is closed by run's signalClose handler.
func (d *driver) readLoop() {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, addr, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case d.recvCh <- rawPacket{data: pkt, addr: addr}:
		case <-d.done:
			return
		}
	}
}

// run is the driver's single serialized loop: every ordering/state mutation
// for this uid happens here, never concurrently (spec §5's actor model).
func (d *driver) run(ctx context.Context) {
	for {
		select {
		case pkt := <-d.recvCh:
			d.handleRecv(ctx, pkt)
		case sig := <-d.control:
			if !d.handleControl(ctx, sig) {
				return
			}
		}
	}
}

func (d *driver) handleRecv(ctx context.Context, pkt rawPacket) {
	oppoPeerUID, ok := d.routes.findUIDByURL(pkt.addr.String())
	if !ok {
		d.log.Debug("drop: unknown route", "addr", pkt.addr.String())
		return
	}

	frame, err := DecodeFrame(pkt.data)
	if err != nil {
		d.log.Debug("drop: undecodable frame", "addr", pkt.addr.String(), "error", err)
		return
	}

	buf, exists := d.reorders[frame.Txid]
	if !exists {
		if frame.OrdID != 0 {
			d.log.Debug("drop: late packet before connect", "txid", frame.Txid, "ord_id", frame.OrdID)
			return
		}
		buf = newReorderBuffer(nowMs())
		d.reorders[frame.Txid] = buf
		d.onConn(ctx, d.uid, oppoPeerUID, frame.Txid)
	}

	drained := buf.push(frame.OrdID, frame.Data)
	buf.lastOrdTime = nowMs()
	for _, data := range drained {
		d.onMsg(ctx, d.uid, frame.Txid, data)
	}
}

func (d *driver) handleControl(ctx context.Context, sig controlSignal) bool {
	switch sig.kind {
	case signalTimeoutCheck:
		cutoff := nowMs() - idleMaxAgeMs
		for txid, buf := range d.reorders {
			if buf.lastOrdTime < cutoff {
				delete(d.reorders, txid)
				d.onIdle(ctx, d.uid, txid, "timeout, close by tx-conn-udp")
			}
		}
		return true

	case signalSendData:
		encoded, err := EncodeFrame(sig.send.frame)
		if err != nil {
			d.log.Warn("encode failed", "txid", sig.send.frame.Txid, "error", err)
			return true
		}
		if _, err := d.conn.WriteToUDP(encoded, sig.send.addr); err != nil {
			d.log.Debug("send failed", "txid", sig.send.frame.Txid, "error", err)
		}
		return true

	case signalCloseConn:
		delete(d.reorders, sig.txid)
		return true

	case signalClose:
		d.conn.Close()
		close(d.done)
		return false
	}
	return true
}

func nowMs() int64 { return time.Now().UnixMilli() }

// marshalOrPanic is used at internal call boundaries where the payload is
// constructed by this package itself; a failure here is a programmer error.
func marshalOrPanic(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic("txconn: found a bug: " + err.Error())
	}
	return raw
}
