// Package secretstore implements the "secret" collaborator module: the
// per-uid keypair and certificate directory the UDP connection manager
// pages through at startup to learn which local uids to bind_listen.
package secretstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcec/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/curdata-project/walletframework/internal/bus"
	"github.com/curdata-project/walletframework/pkg/logging"
)

// Name is the well-known module name modInitial and the transaction
// subsystem look this collaborator up under.
const Name = "secret"

// Secret is one row of the local identity directory.
type Secret struct {
	UID        string `json:"uid"`
	SecretType string `json:"secret_type"`
	Keypair    string `json:"keypair"` // hex-encoded secp256k1 private key
	Cert       string `json:"cert"`
}

// Module is the secret collaborator, backed by a SQLite table.
type Module struct {
	db  *sql.DB
	log *logging.Logger
}

// New opens (creating if absent) a SQLite-backed secret directory at
// dbPath, following the teacher's storage package's connection settings
// for a single-writer embedded database.
func New(dbPath string) (*Module, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create secretstore dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open secretstore db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS secrets (
			uid TEXT PRIMARY KEY,
			secret_type TEXT NOT NULL,
			keypair TEXT NOT NULL,
			cert TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init secretstore schema: %w", err)
	}

	return &Module{db: db, log: logging.GetDefault().Component("secret")}, nil
}

func (m *Module) Name() string    { return Name }
func (m *Module) Version() string { return "0.1" }

// GenerateSecret creates a fresh secp256k1 keypair for uid and persists it,
// as the teacher's wallet setup flow generates a key before registration.
func (m *Module) GenerateSecret(uid, secretType, cert string) error {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}
	keypair := hex.EncodeToString(priv.Serialize())
	_, err = m.db.Exec(`
		INSERT INTO secrets (uid, secret_type, keypair, cert) VALUES (?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET secret_type=excluded.secret_type, keypair=excluded.keypair, cert=excluded.cert
	`, uid, secretType, keypair, cert)
	return err
}

type queryParam struct {
	PageItems  int    `json:"page_items"`
	PageNum    int    `json:"page_num"`
	OrderBy    string `json:"order_by"`
	IsAscOrder bool   `json:"is_asc_order"`
}

func (m *Module) HandleCall(_ context.Context, call bus.Call) (any, error) {
	switch call.Method {
	case "mod_initial":
		return "InitalSuccess", nil
	case "query_secret_comb":
		return m.querySecretComb(call.Args)
	default:
		return nil, bus.ErrMethodNotFound()
	}
}

func (m *Module) HandleEvent(_ context.Context, _ bus.Event) error { return nil }
func (m *Module) HandleStart(_ context.Context, _ bus.StartNotify) {}

// Close releases the underlying database handle.
func (m *Module) Close() error { return m.db.Close() }

// querySecretComb implements the paginated directory scan described in
// spec §6: ordered, paged, terminates when a page comes back empty.
func (m *Module) querySecretComb(args json.RawMessage) ([]Secret, error) {
	var p queryParam
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, bus.ErrCallParamInvalid(err.Error())
	}
	if p.PageItems <= 0 {
		p.PageItems = 10
	}
	if p.PageNum <= 0 {
		p.PageNum = 1
	}

	orderBy := "uid"
	if p.OrderBy != "" {
		orderBy = p.OrderBy
	}
	direction := "DESC"
	if p.IsAscOrder {
		direction = "ASC"
	}
	if !isValidColumn(orderBy) {
		return nil, bus.ErrCallParamInvalid("unknown order_by column: " + orderBy)
	}

	offset := (p.PageNum - 1) * p.PageItems
	query := fmt.Sprintf(`
		SELECT uid, secret_type, keypair, cert FROM secrets
		ORDER BY %s %s LIMIT ? OFFSET ?
	`, orderBy, direction)

	rows, err := m.db.Query(query, p.PageItems, offset)
	if err != nil {
		return nil, bus.ErrOther(err.Error())
	}
	defer rows.Close()

	var out []Secret
	for rows.Next() {
		var s Secret
		if err := rows.Scan(&s.UID, &s.SecretType, &s.Keypair, &s.Cert); err != nil {
			return nil, bus.ErrOther(err.Error())
		}
		out = append(out, s)
	}
	return out, nil
}

func isValidColumn(name string) bool {
	switch name {
	case "uid", "secret_type":
		return true
	default:
		return false
	}
}
