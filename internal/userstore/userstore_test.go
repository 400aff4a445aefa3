package userstore

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func newTestModule(t *testing.T) *Module {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "user.db")
	m, err := New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestAddUserThenGetUser(t *testing.T) {
	m := newTestModule(t)
	args, _ := json.Marshal(User{UID: "alice", Cert: "cert-alice", LastTxTime: 100, Account: "alice@wallet"})
	if err := m.addUser(args); err != nil {
		t.Fatalf("addUser: %v", err)
	}

	getArgs, _ := json.Marshal(getUserRequest{UID: "alice"})
	u, err := m.getUser(getArgs)
	if err != nil {
		t.Fatalf("getUser: %v", err)
	}
	if u.Account != "alice@wallet" || u.LastTxTime != 100 {
		t.Fatalf("unexpected user row: %+v", u)
	}
}

func TestAddUserIsUpsert(t *testing.T) {
	m := newTestModule(t)
	first, _ := json.Marshal(User{UID: "bob", Cert: "cert-1", Account: "bob-old"})
	if err := m.addUser(first); err != nil {
		t.Fatalf("first addUser: %v", err)
	}
	second, _ := json.Marshal(User{UID: "bob", Cert: "cert-2", Account: "bob-new"})
	if err := m.addUser(second); err != nil {
		t.Fatalf("second addUser: %v", err)
	}

	getArgs, _ := json.Marshal(getUserRequest{UID: "bob"})
	u, err := m.getUser(getArgs)
	if err != nil {
		t.Fatalf("getUser: %v", err)
	}
	if u.Account != "bob-new" || u.Cert != "cert-2" {
		t.Fatalf("expected upsert to overwrite row, got %+v", u)
	}
}

func TestGetUserNotFound(t *testing.T) {
	m := newTestModule(t)
	getArgs, _ := json.Marshal(getUserRequest{UID: "ghost"})
	if _, err := m.getUser(getArgs); err == nil {
		t.Fatal("expected an error for an unknown uid")
	}
}
