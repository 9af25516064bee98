package api

import (
	"fmt"
	"net/http"
	"runtime"
	"strconv"

	"vaultbridge.mini/vb/internal/types"
)

// @Title: Get Health
// @Route: GET /api/health
// @Description: Returns server health status
// @Response: {"status": "ok"}
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// @Title: Get Version
// @Route: GET /api/version
// @Description: Returns the node version, build time, program id and node address
// @Response: {"version": "...", "build_time": "...", "program_id": "...", "address": "..."}
func (s *Service) HandleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version":    types.Version,
		"build_time": types.BuildTime,
		"status":     "ok",
		"go_ver":     runtime.Version(),
		"os_arch":    fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		"program_id": s.info.ProgramID,
		"address":    s.info.Address,
	})
}

// @Title: Recent Logs
// @Route: GET /api/logs?n=50
// @Description: Returns the most recent log entries, newest first
// @Response: [{"timestamp": "...", "text": "...", "level": "info"}]
func (s *Service) HandleLogs(w http.ResponseWriter, r *http.Request) {
	n := 50
	if q := r.URL.Query().Get("n"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v < 0 {
			s.writeError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		n = v
	}
	s.writeJSON(w, http.StatusOK, s.logs.GetRecent(n))
}
