package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"vaultbridge.mini/vb/internal/docs"
	"vaultbridge.mini/vb/internal/logger"
	"vaultbridge.mini/vb/internal/store"
)

// mockState implements StateReader for testing
type mockState struct {
	mock.Mock
}

func (m *mockState) Lookup(path string) (interface{}, error) {
	args := m.Called(path)
	return args.Get(0), args.Error(1)
}

type testEnv struct {
	svc    *Service
	state  *mockState
	store  *store.Store
	ring   *logger.Ring
	hub    *Hub
	router http.Handler
}

// setupTest creates a temporary store, docs dir and service for testing
func setupTest(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	docsDir := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docsDir, "wire.adoc"), []byte("= Wire\n\nSelectors.\n"), 0o644))

	log, ring := logger.New(logger.Options{Level: "debug", RingSize: 20, Output: io.Discard})
	entry := logrus.NewEntry(log)
	hub := NewHub(entry)
	state := new(mockState)

	svc, err := NewService(Options{
		State:      state,
		Backups:    st,
		MaxBackups: 3,
		Logs:       ring,
		Docs:       docs.NewService(docsDir, entry),
		Hub:        hub,
		Info:       NodeInfo{ProgramID: "prog", Address: "node"},
		Logger:     entry,
	})
	require.NoError(t, err)

	return &testEnv{svc: svc, state: state, store: st, ring: ring, hub: hub, router: svc.Router()}
}

func (e *testEnv) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}
