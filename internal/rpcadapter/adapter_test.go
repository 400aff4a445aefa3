package rpcadapter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/curdata-project/walletframework/internal/bus"
)

type echoModule struct{}

func (echoModule) Name() string    { return "echo" }
func (echoModule) Version() string { return "test" }

func (echoModule) HandleCall(_ context.Context, call bus.Call) (any, error) {
	switch call.Method {
	case "ping":
		return "pong", nil
	case "bad_params":
		return nil, bus.ErrCallParamInvalid("missing field")
	case "boom":
		return nil, bus.ErrOther("something broke")
	case "rpc_passthrough":
		return nil, bus.ErrJSONRPC(-31000, "custom failure")
	default:
		return nil, bus.ErrMethodNotFound()
	}
}

func (echoModule) HandleEvent(_ context.Context, _ bus.Event) error { return nil }
func (echoModule) HandleStart(_ context.Context, _ bus.StartNotify) {}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	b := bus.New()
	if err := b.RegisterModule(0, echoModule{}); err != nil {
		t.Fatalf("register echo: %v", err)
	}
	b.Start()
	return New(b)
}

func TestDispatchOneSuccess(t *testing.T) {
	s := newTestServer(t)
	raw := []byte(`{"jsonrpc":"2.0","method":"echo.ping","id":1}`)
	resp := s.dispatchOne(context.Background(), raw)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Result != "pong" {
		t.Fatalf("expected pong, got %v", resp.Result)
	}
}

func TestDispatchOneMethodNotFound(t *testing.T) {
	s := newTestServer(t)
	raw := []byte(`{"jsonrpc":"2.0","method":"echo.missing","id":1}`)
	resp := s.dispatchOne(context.Background(), raw)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp.Error)
	}
}

func TestDispatchOneUnknownModule(t *testing.T) {
	s := newTestServer(t)
	raw := []byte(`{"jsonrpc":"2.0","method":"nosuch.ping","id":1}`)
	resp := s.dispatchOne(context.Background(), raw)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found for unknown module, got %+v", resp.Error)
	}
}

func TestDispatchOneInvalidParams(t *testing.T) {
	s := newTestServer(t)
	raw := []byte(`{"jsonrpc":"2.0","method":"echo.bad_params","id":1}`)
	resp := s.dispatchOne(context.Background(), raw)
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid-params, got %+v", resp.Error)
	}
}

func TestDispatchOneUnclassifiedError(t *testing.T) {
	s := newTestServer(t)
	raw := []byte(`{"jsonrpc":"2.0","method":"echo.boom","id":1}`)
	resp := s.dispatchOne(context.Background(), raw)
	if resp.Error == nil || resp.Error.Code != codeUnclassified || resp.Error.Message != "something broke" {
		t.Fatalf("expected unclassified 9999, got %+v", resp.Error)
	}
}

func TestDispatchOneJSONRPCPassthrough(t *testing.T) {
	s := newTestServer(t)
	raw := []byte(`{"jsonrpc":"2.0","method":"echo.rpc_passthrough","id":1}`)
	resp := s.dispatchOne(context.Background(), raw)
	if resp.Error == nil || resp.Error.Code != -31000 || resp.Error.Message != "custom failure" {
		t.Fatalf("expected passthrough code, got %+v", resp.Error)
	}
}

func TestDispatchOneMethodWithoutDot(t *testing.T) {
	s := newTestServer(t)
	raw := []byte(`{"jsonrpc":"2.0","method":"ping","id":1}`)
	resp := s.dispatchOne(context.Background(), raw)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found for dotless method, got %+v", resp.Error)
	}
}

func TestHandleMessageParseError(t *testing.T) {
	s := newTestServer(t)
	out := s.handleMessage(context.Background(), []byte("not json"))
	var resp Response
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("expected a valid response envelope, got unmarshal error: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
}

func TestHandleMessageBatch(t *testing.T) {
	s := newTestServer(t)
	batch := []byte(`[{"jsonrpc":"2.0","method":"echo.ping","id":1},{"jsonrpc":"2.0","method":"echo.missing","id":2}]`)
	out := s.handleMessage(context.Background(), batch)
	var resps []Response
	if err := json.Unmarshal(out, &resps); err != nil {
		t.Fatalf("expected a batch array response, got: %v", err)
	}
	if len(resps) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(resps))
	}
	if resps[0].Result != "pong" {
		t.Fatalf("expected first response to be pong, got %v", resps[0].Result)
	}
	if resps[1].Error == nil || resps[1].Error.Code != codeMethodNotFound {
		t.Fatalf("expected second response method-not-found, got %+v", resps[1].Error)
	}
}

func TestHandleMessageEmptyBatchIsInvalidRequest(t *testing.T) {
	s := newTestServer(t)
	out := s.handleMessage(context.Background(), []byte(`[]`))
	var resp Response
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("expected a single response envelope, got: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request for empty batch, got %+v", resp.Error)
	}
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		method     string
		wantModule string
		wantFn     string
		wantOK     bool
	}{
		{"transaction.tx_send", "transaction", "tx_send", true},
		{"tx_conn.send_tx_msg", "tx_conn", "send_tx_msg", true},
		{"noop", "", "", false},
		{"a.b.c", "a", "b.c", true},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			module, fn, ok := splitMethod(tt.method)
			if ok != tt.wantOK || module != tt.wantModule || fn != tt.wantFn {
				t.Fatalf("splitMethod(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.method, module, fn, ok, tt.wantModule, tt.wantFn, tt.wantOK)
			}
		})
	}
}
