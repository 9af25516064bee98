// Package store persists the replicated ledger in SQLite: account rows,
// hashes of delivered transactions and the last committed block. Every
// block is written in one SQL transaction so a crash never leaves a
// half-applied block on disk.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gagliardetto/solana-go"
	"vaultbridge.mini/vb/internal/ledger"

	_ "modernc.org/sqlite"
)

const (
	defaultDBFile        = "ledger.db"
	defaultBackupDirName = "backups"
	maxBusyTimeoutMs     = 5000
	defaultMaxBackups    = 20
)

// Store is the on-disk ledger.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	file      string
	backupDir string
	updates   chan struct{}
}

// Commit is everything one block changed.
type Commit struct {
	Height   int64
	AppHash  []byte
	Changes  []ledger.Change
	TxHashes []string
}

// Open opens or creates the ledger database at filePath, restoring the
// newest backup if the file is unreadable.
func Open(filePath string) (*Store, error) {
	if filePath == "" {
		filePath = defaultDBFile
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}

	s := &Store{
		file:      absPath,
		backupDir: filepath.Join(filepath.Dir(absPath), defaultBackupDirName),
		updates:   make(chan struct{}, 1),
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	if err := s.tryOpenOrRecover(); err != nil {
		return nil, err
	}
	if err := s.ensureSchema(); err != nil {
		_ = s.closeDB()
		return nil, err
	}
	return s, nil
}

// Updates receives a value after every committed block.
func (s *Store) Updates() <-chan struct{} {
	return s.updates
}

func (s *Store) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Close releases the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeDB()
}

func (s *Store) openDB() error {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+filepath.Clean(s.file))
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Ping does not read the file header; this does.
	var schema int
	if err := db.QueryRow("PRAGMA schema_version").Scan(&schema); err != nil {
		db.Close()
		return fmt.Errorf("read sqlite header: %w", err)
	}
	s.db = db
	return nil
}

func (s *Store) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			address TEXT PRIMARY KEY,
			kind INTEGER NOT NULL,
			data BLOB NOT NULL,
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS processed_txs (
			hash TEXT PRIMARY KEY,
			height INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			height INTEGER NOT NULL,
			app_hash BLOB
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}
	return nil
}

// ApplyCommit writes one block: upserts changed accounts, deletes removed
// ones, records delivered transactions and advances the block pointer.
func (s *Store) ApplyCommit(c Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	if err := applyCommit(tx, c); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit block %d: %w", c.Height, err)
	}
	s.notify()
	return nil
}

func applyCommit(tx *sql.Tx, c Commit) error {
	upsert, err := tx.Prepare(`INSERT INTO accounts (address, kind, data, version) VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET kind = excluded.kind, data = excluded.data, version = excluded.version`)
	if err != nil {
		return fmt.Errorf("prepare account upsert: %w", err)
	}
	defer upsert.Close()

	for _, ch := range c.Changes {
		if ch.Account == nil {
			if _, err := tx.Exec(`DELETE FROM accounts WHERE address = ?`, ch.Address.String()); err != nil {
				return fmt.Errorf("delete account %s: %w", ch.Address, err)
			}
			continue
		}
		data, err := ledger.Encode(ch.Account)
		if err != nil {
			return fmt.Errorf("encode account %s: %w", ch.Address, err)
		}
		if _, err := upsert.Exec(ch.Address.String(), int(ch.Account.Kind()), data, int64(ch.Version)); err != nil {
			return fmt.Errorf("write account %s: %w", ch.Address, err)
		}
	}

	for _, h := range c.TxHashes {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO processed_txs (hash, height) VALUES (?, ?)`, h, c.Height); err != nil {
			return fmt.Errorf("record tx %s: %w", h, err)
		}
	}

	_, err = tx.Exec(`INSERT INTO meta (id, height, app_hash) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET height = excluded.height, app_hash = excluded.app_hash`, c.Height, c.AppHash)
	if err != nil {
		return fmt.Errorf("advance block pointer: %w", err)
	}
	return nil
}

// LoadState rebuilds the in-memory ledger from the account rows.
func (s *Store) LoadState() (*ledger.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT address, data, version FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	state := ledger.NewState()
	for rows.Next() {
		var (
			addr    string
			data    []byte
			version int64
		)
		if err := rows.Scan(&addr, &data, &version); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		key, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("account address %q: %w", addr, err)
		}
		acct, err := ledger.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", addr, err)
		}
		state.Load(key, acct, uint64(version))
	}
	return state, rows.Err()
}

// LastBlock returns the last committed height and app hash, zero values
// on a fresh database.
func (s *Store) LastBlock() (int64, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		height int64
		hash   []byte
	)
	err := s.db.QueryRow(`SELECT height, app_hash FROM meta WHERE id = 1`).Scan(&height, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("read block pointer: %w", err)
	}
	return height, hash, nil
}

// HasTx reports whether a transaction hash was delivered and at which height.
func (s *Store) HasTx(hash string) (bool, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var height int64
	err := s.db.QueryRow(`SELECT height FROM processed_txs WHERE hash = ?`, hash).Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("lookup tx %s: %w", hash, err)
	}
	return true, height, nil
}

// TxCount returns the number of delivered transactions.
func (s *Store) TxCount() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM processed_txs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count txs: %w", err)
	}
	return n, nil
}
