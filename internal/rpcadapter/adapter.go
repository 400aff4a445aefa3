// Package rpcadapter provides a JSON-RPC 2.0 over WebSocket collaborator
// that exposes the bus's modules to external clients. A request method is
// "<module>.<fn>"; the adapter splits on the first '.', resolves the module
// on the bus, and forwards the suffix as the Call method with the raw JSON
// params as args. Batch and single-object request forms are both supported.
package rpcadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/curdata-project/walletframework/internal/bus"
	"github.com/curdata-project/walletframework/pkg/logging"
)

// Standard JSON-RPC 2.0 error codes, plus the framework's catch-all.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeUnclassified   = 9999
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Request is a single JSON-RPC 2.0 request object.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response is a single JSON-RPC 2.0 response object.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Server is the WebSocket-hosted JSON-RPC adapter. It holds no module
// state of its own; every request is forwarded to busAddr.Call.
type Server struct {
	busAddr *bus.Bus
	log     *logging.Logger

	httpServer *http.Server

	mu      sync.RWMutex
	clients map[*websocket.Conn]uuid.UUID
}

// New builds an adapter bound to bus. Listen starts serving.
func New(b *bus.Bus) *Server {
	return &Server{
		busAddr: b,
		log:     logging.GetDefault().Component("rpcadapter"),
		clients: make(map[*websocket.Conn]uuid.UUID),
	}
}

// Listen starts the HTTP server hosting the /ws endpoint on addr.
func (s *Server) Listen(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// Close shuts down the HTTP server and drops all client connections.
func (s *Server) Close() error {
	s.mu.Lock()
	for c := range s.clients {
		c.Close()
	}
	s.clients = make(map[*websocket.Conn]uuid.UUID)
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	clientID := uuid.New()
	s.mu.Lock()
	s.clients[conn] = clientID
	s.mu.Unlock()
	s.log.Debug("client connected", "client_id", clientID)

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
		s.log.Debug("client disconnected", "client_id", clientID)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		reply := s.handleMessage(r.Context(), message)
		if reply == nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			return
		}
	}
}

// handleMessage parses a raw client payload as either a single JSON-RPC
// request object or a batch array, dispatches each, and returns the
// matching single-or-batch response encoding. Every request, with or
// without an id, gets a response; a nil return means the response could
// not be encoded.
func (s *Server) handleMessage(ctx context.Context, raw []byte) []byte {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return marshalOrNil(s.errorResponse(nil, codeParseError, "Parse error"))
	}

	if trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			return marshalOrNil(s.errorResponse(nil, codeParseError, "Parse error"))
		}
		if len(batch) == 0 {
			return marshalOrNil(s.errorResponse(nil, codeInvalidRequest, "Invalid Request"))
		}
		responses := make([]Response, 0, len(batch))
		for _, item := range batch {
			responses = append(responses, s.dispatchOne(ctx, item))
		}
		return marshalOrNil(responses)
	}

	return marshalOrNil(s.dispatchOne(ctx, raw))
}

func (s *Server) dispatchOne(ctx context.Context, raw json.RawMessage) Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return s.errorResponse(nil, codeParseError, "Parse error")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return s.errorResponse(req.ID, codeInvalidRequest, "Invalid Request")
	}

	moduleName, method, ok := splitMethod(req.Method)
	if !ok {
		return s.errorResponse(req.ID, codeMethodNotFound, "Method not found")
	}

	result, err := s.busAddr.Call(ctx, moduleName, method, req.Params)
	if err != nil {
		return s.errorResponseFromBus(req.ID, err)
	}
	return Response{JSONRPC: "2.0", Result: result, ID: req.ID}
}

// splitMethod splits "module.fn" on the first '.'. Methods without a '.'
// have no addressable module and are rejected as not found.
func splitMethod(method string) (module, fn string, ok bool) {
	idx := strings.IndexByte(method, '.')
	if idx < 0 {
		return "", "", false
	}
	return method[:idx], method[idx+1:], true
}

// errorResponseFromBus maps a bus.Error's Kind to the JSON-RPC code table
// from the transport surface (spec §6): MethodNotFoundError and NoModule
// -> -32601, CallParamValidFaild -> -32602, JsonRpcError passes through
// unchanged, a cancelled or expired context -> -32603, everything else ->
// 9999 with the message as-is.
func (s *Server) errorResponseFromBus(id interface{}, err error) Response {
	if err == context.DeadlineExceeded || err == context.Canceled {
		return s.errorResponse(id, codeInternalError, err.Error())
	}
	be, ok := err.(*bus.Error)
	if !ok {
		return s.errorResponse(id, codeUnclassified, err.Error())
	}
	switch be.Kind {
	case bus.KindMethodNotFound, bus.KindNoModule:
		return s.errorResponse(id, codeMethodNotFound, be.Message)
	case bus.KindCallParamInvalid:
		return s.errorResponse(id, codeInvalidParams, be.Message)
	case bus.KindJSONRPC:
		return s.errorResponse(id, be.Code, be.Message)
	default:
		return s.errorResponse(id, codeUnclassified, be.Message)
	}
}

func (s *Server) errorResponse(id interface{}, code int, msg string) Response {
	return Response{JSONRPC: "2.0", Error: &RPCError{Code: code, Message: msg}, ID: id}
}

func marshalOrNil(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
