// Package userstore implements the "user" collaborator module: the
// directory of registered wallet users the core calls into after a
// successful registration (spec §6: "user.add_user, called after
// successful wallet registration").
package userstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/curdata-project/walletframework/internal/bus"
	"github.com/curdata-project/walletframework/pkg/logging"
)

// Name is the well-known module name.
const Name = "user"

// User is one registered account row.
type User struct {
	UID        string `json:"uid"`
	Cert       string `json:"cert"`
	LastTxTime int64  `json:"last_tx_time"`
	Account    string `json:"account"`
}

// Module is the user directory, backed by a SQLite table.
type Module struct {
	db  *sql.DB
	log *logging.Logger
}

// New opens (creating if absent) a SQLite-backed user directory at dbPath.
func New(dbPath string) (*Module, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create userstore dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open userstore db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			uid TEXT PRIMARY KEY,
			cert TEXT NOT NULL,
			last_tx_time INTEGER NOT NULL DEFAULT 0,
			account TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init userstore schema: %w", err)
	}

	return &Module{db: db, log: logging.GetDefault().Component("user")}, nil
}

func (m *Module) Name() string    { return Name }
func (m *Module) Version() string { return "0.1" }

// Close releases the underlying database handle.
func (m *Module) Close() error { return m.db.Close() }

func (m *Module) HandleCall(_ context.Context, call bus.Call) (any, error) {
	switch call.Method {
	case "mod_initial":
		return "InitalSuccess", nil
	case "add_user":
		return nil, m.addUser(call.Args)
	case "get_user":
		return m.getUser(call.Args)
	default:
		return nil, bus.ErrMethodNotFound()
	}
}

func (m *Module) HandleEvent(_ context.Context, _ bus.Event) error { return nil }
func (m *Module) HandleStart(_ context.Context, _ bus.StartNotify) {}

func (m *Module) addUser(args json.RawMessage) error {
	var u User
	if err := json.Unmarshal(args, &u); err != nil {
		return bus.ErrCallParamInvalid(err.Error())
	}
	_, err := m.db.Exec(`
		INSERT INTO users (uid, cert, last_tx_time, account) VALUES (?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET cert=excluded.cert, last_tx_time=excluded.last_tx_time, account=excluded.account
	`, u.UID, u.Cert, u.LastTxTime, u.Account)
	if err != nil {
		return bus.ErrOther(err.Error())
	}
	return nil
}

type getUserRequest struct {
	UID string `json:"uid"`
}

func (m *Module) getUser(args json.RawMessage) (*User, error) {
	var req getUserRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, bus.ErrCallParamInvalid(err.Error())
	}
	var u User
	err := m.db.QueryRow(`SELECT uid, cert, last_tx_time, account FROM users WHERE uid = ?`, req.UID).
		Scan(&u.UID, &u.Cert, &u.LastTxTime, &u.Account)
	if err == sql.ErrNoRows {
		return nil, bus.ErrOther("no such user: " + req.UID)
	}
	if err != nil {
		return nil, bus.ErrOther(err.Error())
	}
	return &u, nil
}
