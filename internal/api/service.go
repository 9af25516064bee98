// Package api serves the node's read-only HTTP API: ledger queries, recent
// logs, store backups, rendered docs, the websocket event stream and
// prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"vaultbridge.mini/vb/internal/logger"
	"vaultbridge.mini/vb/internal/store"
)

// StateReader resolves ledger query paths such as "/bridge_state".
type StateReader interface {
	Lookup(path string) (interface{}, error)
}

// Backups is the store's backup surface.
type Backups interface {
	BackupCurrent(maxBackups int) (string, error)
	ListBackups() ([]store.Backup, error)
	BackupPath(name string) (string, error)
	ExportSnapshot() ([]byte, error)
}

// LogSource returns recent log entries, newest first.
type LogSource interface {
	GetRecent(n int) []logger.Message
}

// DocRenderer renders asciidoc files to HTML.
type DocRenderer interface {
	GetDoc(ctx context.Context, filename string) (string, error)
	ListDocs() ([]string, error)
}

// NodeInfo identifies this node in /api/version.
type NodeInfo struct {
	ProgramID string
	Address   string
}

// Options configures a Service. State is required; the others disable
// their routes when nil.
type Options struct {
	State      StateReader
	Backups    Backups
	MaxBackups int
	Logs       LogSource
	Docs       DocRenderer
	Hub        *Hub
	Info       NodeInfo
	Logger     *logrus.Entry
}

// Service handles API requests
type Service struct {
	state      StateReader
	backups    Backups
	maxBackups int
	logs       LogSource
	docs       DocRenderer
	hub        *Hub
	info       NodeInfo
	log        *logrus.Entry
}

// NewService creates a new API service
func NewService(opts Options) (*Service, error) {
	if opts.State == nil {
		return nil, errors.New("api: state reader is required")
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = logrus.NewEntry(l)
	}
	return &Service{
		state:      opts.State,
		backups:    opts.Backups,
		maxBackups: opts.MaxBackups,
		logs:       opts.Logs,
		docs:       opts.Docs,
		hub:        opts.Hub,
		info:       opts.Info,
		log:        log,
	}, nil
}

// Router registers every route.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	// mux answers a method mismatch under a subrouter with 404 unless both
	// routers carry a handler.
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
	api.MethodNotAllowedHandler = r.MethodNotAllowedHandler

	api.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet)
	api.HandleFunc("/version", s.HandleVersion).Methods(http.MethodGet)
	api.HandleFunc("/bridge", s.HandleBridge).Methods(http.MethodGet)
	api.HandleFunc("/whitelist/{address}", s.HandleWhitelist).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{address}", s.HandleAccount).Methods(http.MethodGet)
	api.HandleFunc("/vault/reconcile", s.HandleReconcile).Methods(http.MethodGet)
	api.HandleFunc("/tx/{hash}", s.HandleTx).Methods(http.MethodGet)

	if s.logs != nil {
		api.HandleFunc("/logs", s.HandleLogs).Methods(http.MethodGet)
	}
	if s.hub != nil {
		api.HandleFunc("/events", s.hub.HandleEvents).Methods(http.MethodGet)
	}
	if s.backups != nil {
		api.HandleFunc("/backups", s.HandleBackupCreate).Methods(http.MethodPost)
		api.HandleFunc("/backups", s.HandleBackupsList).Methods(http.MethodGet)
		api.HandleFunc("/backups/{name}", s.HandleBackupDownload).Methods(http.MethodGet)
		api.HandleFunc("/snapshot", s.HandleSnapshot).Methods(http.MethodGet)
	}
	if s.docs != nil {
		api.HandleFunc("/docs", s.HandleDocsList).Methods(http.MethodGet)
		api.HandleFunc("/docs/{name}", s.HandleDoc).Methods(http.MethodGet)
	}

	r.Handle("/metrics", promhttp.Handler())
	r.Use(s.logRequests)
	return r
}

func (s *Service) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// Serve runs the API on port until ctx is cancelled.
func (s *Service) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", srv.Addr).Info("API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.hub != nil {
			s.hub.Close()
		}
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}

// writeJSON writes a JSON response
func (s *Service) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Warn("write response")
	}
}

// writeError writes a JSON error response
func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
