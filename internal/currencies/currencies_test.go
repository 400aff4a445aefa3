package currencies

import (
	"context"
	"testing"

	"github.com/curdata-project/walletframework/internal/bus"
)

func TestModInitialReportsSuccess(t *testing.T) {
	m := New()
	result, err := m.HandleCall(context.Background(), bus.Call{Method: "mod_initial"})
	if err != nil {
		t.Fatalf("mod_initial: %v", err)
	}
	if result != "InitalSuccess" {
		t.Fatalf("expected InitalSuccess, got %v", result)
	}
}

func TestUnknownMethodIsRejected(t *testing.T) {
	m := New()
	if _, err := m.HandleCall(context.Background(), bus.Call{Method: "does_not_exist"}); err == nil {
		t.Fatal("expected an error for an unknown method")
	}
}
