package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
)

// @Title: Create Internal Backup
// @Route: POST /api/backups
// @Description: Copy the ledger database into the backups directory
// @Response: {"status": "ok", "name": "..."}
func (s *Service) HandleBackupCreate(w http.ResponseWriter, r *http.Request) {
	path, err := s.backups.BackupCurrent(s.maxBackups)
	if err != nil {
		s.log.WithError(err).Error("Failed to create internal backup")
		s.writeError(w, http.StatusInternalServerError, "Failed to save internal backup")
		return
	}

	s.log.WithField("path", path).Info("API: Created internal backup")
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"name":   filepath.Base(path),
	})
}

// @Title: List Backups
// @Route: GET /api/backups
// @Description: List all available backup files, newest first
// @Response: [{"name": "...", "size": 0, "created_at": "..."}]
func (s *Service) HandleBackupsList(w http.ResponseWriter, r *http.Request) {
	backups, err := s.backups.ListBackups()
	if err != nil {
		s.log.WithError(err).Error("Failed to read backups")
		s.writeError(w, http.StatusInternalServerError, "Failed to read backups")
		return
	}
	s.writeJSON(w, http.StatusOK, backups)
}

// @Title: Download Backup
// @Route: GET /api/backups/{name}
// @Description: Download one backup file
// @Response: application/octet-stream file download
func (s *Service) HandleBackupDownload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	path, err := s.backups.BackupPath(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Backup not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

// @Title: Download Snapshot
// @Route: GET /api/snapshot
// @Description: Download a consistent copy of the live ledger database
// @Response: application/octet-stream file download
func (s *Service) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := s.backups.ExportSnapshot()
	if err != nil {
		s.log.WithError(err).Error("Failed to export snapshot")
		s.writeError(w, http.StatusInternalServerError, "Failed to export snapshot")
		return
	}

	filename := fmt.Sprintf("vb-ledger-%s.db", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := w.Write(data); err != nil {
		s.log.WithError(err).Warn("write snapshot")
		return
	}
	s.log.WithField("file", filename).Info("API: Served snapshot download")
}
