package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

var errNoBackups = errors.New("no backups available")

// Backup is one timestamped copy of the ledger database.
type Backup struct {
	Name      string    `json:"name"`
	Path      string    `json:"-"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) tryOpenOrRecover() error {
	err := s.openDB()
	if err == nil {
		return nil
	}
	if restoreErr := s.restoreLatestBackup(); restoreErr != nil {
		if !errors.Is(restoreErr, errNoBackups) {
			return fmt.Errorf("restore database after %v: %w", err, restoreErr)
		}
		if cleanErr := s.resetDatabaseFiles(); cleanErr != nil {
			return fmt.Errorf("reset database after %v: %w", err, cleanErr)
		}
		if openErr := s.openDB(); openErr != nil {
			return fmt.Errorf("create fresh database after %v: %w", err, openErr)
		}
	}
	return nil
}

func (s *Store) resetDatabaseFiles() error {
	_ = s.closeDB()

	var firstErr error
	for _, path := range []string{s.file, s.file + "-wal", s.file + "-shm"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", filepath.Base(path), err)
		}
	}
	return firstErr
}

func (s *Store) removeSidecarFiles() {
	for _, path := range []string{s.file + "-wal", s.file + "-shm"} {
		_ = os.Remove(path)
	}
}

func (s *Store) restoreLatestBackup() error {
	backups, err := s.scanBackups()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return errNoBackups
	}

	latest := backups[len(backups)-1]
	if err := s.resetDatabaseFiles(); err != nil {
		return err
	}
	if err := copyFile(latest.Path, s.file); err != nil {
		return fmt.Errorf("copy backup %s: %w", latest.Name, err)
	}
	return s.openDB()
}

// backupName splits the database file name into the prefix and extension
// that backup files share.
func (s *Store) backupName() (prefix, ext string) {
	base := filepath.Base(s.file)
	ext = filepath.Ext(base)
	prefix = strings.TrimSuffix(base, ext)
	if prefix == "" {
		prefix = base
	}
	return prefix, ext
}

// scanBackups lists backups oldest first. Files whose names carry no
// timestamp are ordered by modification time.
func (s *Store) scanBackups() ([]Backup, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	prefix, ext := s.backupName()
	var backups []Backup
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		created := info.ModTime()
		stamp := strings.TrimPrefix(strings.TrimSuffix(name, ext), prefix+"-")
		if ts, err := strconv.ParseInt(stamp, 10, 64); err == nil {
			created = time.Unix(ts, 0)
		}
		backups = append(backups, Backup{
			Name:      name,
			Path:      filepath.Join(s.backupDir, name),
			Size:      info.Size(),
			CreatedAt: created,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].Name < backups[j].Name
		}
		return backups[i].CreatedAt.Before(backups[j].CreatedAt)
	})
	return backups, nil
}

// ListBackups returns the available backups, newest first.
func (s *Store) ListBackups() ([]Backup, error) {
	backups, err := s.scanBackups()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(backups)-1; i < j; i, j = i+1, j-1 {
		backups[i], backups[j] = backups[j], backups[i]
	}
	return backups, nil
}

// BackupPath resolves a backup by file name, refusing anything outside the
// backup directory.
func (s *Store) BackupPath(name string) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid backup name %q", name)
	}
	path := filepath.Join(s.backupDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) pruneBackups(maxBackups int) {
	if maxBackups <= 0 {
		return
	}
	backups, err := s.scanBackups()
	if err != nil || len(backups) <= maxBackups {
		return
	}
	for _, b := range backups[:len(backups)-maxBackups] {
		_ = os.Remove(b.Path)
	}
}

func (s *Store) uniqueBackupPath() string {
	prefix, ext := s.backupName()
	timestamp := time.Now().Unix()
	for {
		path := filepath.Join(s.backupDir, fmt.Sprintf("%s-%d%s", prefix, timestamp, ext))
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		timestamp++
	}
}

// BackupCurrent writes a snapshot of the database to a timestamped file and
// keeps at most maxBackups of them. It returns the new backup's path.
func (s *Store) BackupCurrent(maxBackups int) (string, error) {
	snapshot, err := s.ExportSnapshot()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backup directory: %w", err)
	}

	path := s.uniqueBackupPath()
	if err := os.WriteFile(path, snapshot, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	s.pruneBackups(maxBackups)
	return path, nil
}

// ExportSnapshot returns a consistent copy of the database.
func (s *Store) ExportSnapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.file); errors.Is(err, os.ErrNotExist) {
		return nil, os.ErrNotExist
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.file), "ledger-export-*.db")
	if err != nil {
		return nil, fmt.Errorf("create temp export file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	escaped := strings.ReplaceAll(tmpPath, "'", "''")
	if _, err := s.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", escaped)); err != nil {
		return nil, fmt.Errorf("vacuum into temp file: %w", err)
	}
	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("read export file: %w", err)
	}
	return data, nil
}

// ImportSnapshot replaces the database with the given SQLite image. The
// previous file is moved into the backup directory and its path returned.
// Callers must reload any state derived from the store afterwards.
func (s *Store) ImportSnapshot(data []byte, maxBackups int) (string, error) {
	if len(data) == 0 {
		return "", errors.New("snapshot data is empty")
	}
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}

	dir := filepath.Dir(s.file)
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("prepare backup directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "ledger-import-*.db")
	if err != nil {
		return "", fmt.Errorf("create temp import file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write temp import file: %w", err)
	}
	tmp.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.closeDB()

	var backupPath string
	if _, err := os.Stat(s.file); err == nil {
		backupPath = s.uniqueBackupPath()
		if err := os.Rename(s.file, backupPath); err != nil {
			_ = s.openDB()
			os.Remove(tmpPath)
			return "", fmt.Errorf("rename existing db: %w", err)
		}
		s.removeSidecarFiles()
	}

	if err := os.Rename(tmpPath, s.file); err != nil {
		if backupPath != "" {
			_ = os.Rename(backupPath, s.file)
		}
		os.Remove(tmpPath)
		_ = s.openDB()
		return "", fmt.Errorf("activate imported db: %w", err)
	}

	if err := s.openDB(); err != nil {
		if backupPath != "" {
			_ = os.Rename(backupPath, s.file)
			_ = s.openDB()
		}
		return "", fmt.Errorf("reopen db after import: %w", err)
	}
	if err := s.ensureSchema(); err != nil {
		return backupPath, err
	}

	s.pruneBackups(maxBackups)
	s.notify()
	return backupPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
