package store

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"vaultbridge.mini/vb/internal/ledger"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func commitMint(t *testing.T, s *Store, height int64, addr solana.PublicKey, decimals uint8) {
	t.Helper()
	state := ledger.NewState()
	state.Seed(addr, &ledger.Mint{Decimals: decimals})
	hash, err := state.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := s.ApplyCommit(Commit{Height: height, AppHash: hash, Changes: state.TakeChanges()}); err != nil {
		t.Fatalf("ApplyCommit: %v", err)
	}
}

func TestApplyCommitRoundTrip(t *testing.T) {
	s, _ := openTemp(t)

	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	ata := solana.NewWallet().PublicKey()

	state := ledger.NewState()
	state.Seed(mint, &ledger.Mint{Decimals: 6})
	state.Seed(ata, &ledger.TokenAccount{Mint: mint, Owner: owner, Amount: 42})
	hash, err := state.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	err = s.ApplyCommit(Commit{
		Height:   3,
		AppHash:  hash,
		Changes:  state.TakeChanges(),
		TxHashes: []string{"aa", "bb"},
	})
	if err != nil {
		t.Fatalf("ApplyCommit: %v", err)
	}

	height, appHash, err := s.LastBlock()
	if err != nil {
		t.Fatalf("LastBlock: %v", err)
	}
	if height != 3 || !bytes.Equal(appHash, hash) {
		t.Fatalf("unexpected block pointer %d %x", height, appHash)
	}

	loaded, err := s.LoadState()
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("expected 2 accounts, got %d", loaded.Len())
	}
	acct, ok := loaded.Get(ata)
	if !ok {
		t.Fatalf("token account missing after reload")
	}
	if ta := acct.(*ledger.TokenAccount); ta.Amount != 42 || ta.Owner != owner {
		t.Fatalf("unexpected token account %+v", ta)
	}
	if loaded.Version(ata) != state.Version(ata) {
		t.Fatalf("version not preserved: %d != %d", loaded.Version(ata), state.Version(ata))
	}
	reloadedHash, err := loaded.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !bytes.Equal(reloadedHash, hash) {
		t.Fatalf("reloaded state hashes differently")
	}
	if len(loaded.TakeChanges()) != 0 {
		t.Fatalf("reloaded state should have no pending changes")
	}

	seen, at, err := s.HasTx("bb")
	if err != nil || !seen || at != 3 {
		t.Fatalf("HasTx(bb) = %v %d %v", seen, at, err)
	}
	if seen, _, _ := s.HasTx("cc"); seen {
		t.Fatalf("unknown tx reported as delivered")
	}
	if n, err := s.TxCount(); err != nil || n != 2 {
		t.Fatalf("TxCount = %d %v", n, err)
	}
}

func TestApplyCommitDeletesAccounts(t *testing.T) {
	s, _ := openTemp(t)
	addr := solana.NewWallet().PublicKey()
	commitMint(t, s, 1, addr, 6)

	if err := s.ApplyCommit(Commit{Height: 2, Changes: []ledger.Change{{Address: addr}}}); err != nil {
		t.Fatalf("ApplyCommit: %v", err)
	}
	loaded, err := s.LoadState()
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if _, ok := loaded.Get(addr); ok {
		t.Fatalf("deleted account still present")
	}
}

func TestFreshStoreHasNoBlock(t *testing.T) {
	s, _ := openTemp(t)
	height, hash, err := s.LastBlock()
	if err != nil {
		t.Fatalf("LastBlock: %v", err)
	}
	if height != 0 || hash != nil {
		t.Fatalf("expected empty block pointer, got %d %x", height, hash)
	}
}

func TestUpdatesSignalledOnCommit(t *testing.T) {
	s, _ := openTemp(t)
	commitMint(t, s, 1, solana.NewWallet().PublicKey(), 6)
	select {
	case <-s.Updates():
	default:
		t.Fatalf("expected an update after commit")
	}
}

func TestBackupCurrentCreatesAndPrunesBackups(t *testing.T) {
	s, dir := openTemp(t)
	commitMint(t, s, 1, solana.NewWallet().PublicKey(), 6)

	backupPath, err := s.BackupCurrent(10)
	if err != nil {
		t.Fatalf("BackupCurrent: %v", err)
	}
	if filepath.Ext(backupPath) != ".db" {
		t.Fatalf("expected .db extension, got %q", filepath.Ext(backupPath))
	}
	if filepath.Dir(backupPath) != filepath.Join(dir, "backups") {
		t.Fatalf("expected backup in backups directory, got %q", filepath.Dir(backupPath))
	}
	if _, err := os.Stat(backupPath); err != nil {
		t.Fatalf("backup file should exist: %v", err)
	}

	for i := 0; i < 12; i++ {
		if _, err := s.BackupCurrent(10); err != nil {
			t.Fatalf("backup iteration %d: %v", i, err)
		}
		commitMint(t, s, int64(i+2), solana.NewWallet().PublicKey(), 6)
	}

	backups, err := s.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(backups) > 10 {
		t.Fatalf("expected at most 10 backups, found %d", len(backups))
	}
	for i := 1; i < len(backups); i++ {
		if backups[i].CreatedAt.After(backups[i-1].CreatedAt) {
			t.Fatalf("backups not listed newest first")
		}
	}
	for _, b := range backups {
		if !strings.HasPrefix(b.Name, "ledger-") {
			t.Fatalf("unexpected backup name %q", b.Name)
		}
	}
}

func TestBackupPathRejectsTraversal(t *testing.T) {
	s, _ := openTemp(t)
	commitMint(t, s, 1, solana.NewWallet().PublicKey(), 6)
	path, err := s.BackupCurrent(5)
	if err != nil {
		t.Fatalf("BackupCurrent: %v", err)
	}

	got, err := s.BackupPath(filepath.Base(path))
	if err != nil || got != path {
		t.Fatalf("BackupPath = %q %v", got, err)
	}
	for _, name := range []string{"", "../ledger.db", "sub/ledger-1.db", "ledger-0.db"} {
		if _, err := s.BackupPath(name); err == nil {
			t.Fatalf("expected error for %q", name)
		}
	}
}

func TestOpenRecoversFromCorruptDBWithoutBackups(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")
	if err := os.WriteFile(dbPath, []byte("this is not sqlite"), 0o600); err != nil {
		t.Fatalf("write corrupt db: %v", err)
	}

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	state, err := s.LoadState()
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if state.Len() != 0 {
		t.Fatalf("expected empty ledger after recovery, got %d accounts", state.Len())
	}
}

func TestOpenRestoresLatestBackup(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")
	addr := solana.NewWallet().PublicKey()

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	commitMint(t, s, 7, addr, 9)
	if _, err := s.BackupCurrent(5); err != nil {
		t.Fatalf("BackupCurrent: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, p := range []string{dbPath + "-wal", dbPath + "-shm"} {
		_ = os.Remove(p)
	}
	if err := os.WriteFile(dbPath, []byte("corrupt"), 0o600); err != nil {
		t.Fatalf("corrupt db: %v", err)
	}

	restored, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open after corruption: %v", err)
	}
	defer restored.Close()

	height, _, err := restored.LastBlock()
	if err != nil {
		t.Fatalf("LastBlock: %v", err)
	}
	if height != 7 {
		t.Fatalf("expected restored height 7, got %d", height)
	}
	state, err := restored.LoadState()
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if _, ok := state.Get(addr); !ok {
		t.Fatalf("restored ledger missing mint")
	}
}

func TestImportSnapshotReplacesLedger(t *testing.T) {
	src, _ := openTemp(t)
	addr := solana.NewWallet().PublicKey()
	commitMint(t, src, 11, addr, 6)
	snapshot, err := src.ExportSnapshot()
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}

	dst, _ := openTemp(t)
	commitMint(t, dst, 2, solana.NewWallet().PublicKey(), 6)
	moved, err := dst.ImportSnapshot(snapshot, 5)
	if err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}
	if moved == "" {
		t.Fatalf("expected previous database to be kept as a backup")
	}

	height, _, err := dst.LastBlock()
	if err != nil || height != 11 {
		t.Fatalf("LastBlock after import = %d %v", height, err)
	}
	state, err := dst.LoadState()
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if _, ok := state.Get(addr); !ok || state.Len() != 1 {
		t.Fatalf("imported ledger does not match snapshot")
	}

	if _, err := dst.ImportSnapshot(nil, 5); err == nil {
		t.Fatalf("expected error for empty snapshot")
	}
}

func TestImportSnapshotRejectsGarbage(t *testing.T) {
	s, _ := openTemp(t)
	addr := solana.NewWallet().PublicKey()
	commitMint(t, s, 4, addr, 6)

	if _, err := s.ImportSnapshot([]byte("not a database"), 5); err == nil {
		t.Fatalf("expected error importing garbage")
	}
	state, err := s.LoadState()
	if err != nil {
		t.Fatalf("LoadState after failed import: %v", err)
	}
	if _, ok := state.Get(addr); !ok {
		t.Fatalf("failed import lost the previous ledger")
	}
}
