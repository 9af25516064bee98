// Package tendermint runs the ABCI socket server Tendermint connects to and
// talks to a Tendermint node over RPC.
//
// The node process serves the application on a socket; Tendermint runs as a
// separate process with --proxy_app pointing at that socket.
package tendermint

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	abciserver "github.com/tendermint/tendermint/abci/server"
	abci "github.com/tendermint/tendermint/abci/types"
	tmlog "github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
)

// Config holds configuration for the ABCI server and Tendermint connection.
type Config struct {
	// TendermintHome is the directory for Tendermint data and config
	TendermintHome string

	// SocketAddress is the listen address, e.g. "unix://vb.sock" or
	// "tcp://127.0.0.1:26658"
	SocketAddress string
}

// ABCIServer wraps an ABCI socket server.
type ABCIServer struct {
	server service.Service
	socket string
	log    *logrus.Entry
}

// NewABCIServer creates the server. It does not listen until Start.
func NewABCIServer(app abci.Application, config *Config, log *logrus.Entry) (*ABCIServer, error) {
	if app == nil {
		return nil, errors.New("ABCI application cannot be nil")
	}
	if config == nil || config.SocketAddress == "" {
		return nil, errors.New("socket address cannot be empty")
	}

	server := abciserver.NewSocketServer(config.SocketAddress, app)
	server.SetLogger(NewLogger(log.WithField("module", "abci-server")))

	return &ABCIServer{
		server: server,
		socket: config.SocketAddress,
		log:    log,
	}, nil
}

// Start begins listening. A stale unix socket file left by a crash is
// removed first.
func (s *ABCIServer) Start() error {
	if path, ok := unixPath(s.socket); ok {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	}
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("failed to start ABCI server: %w", err)
	}
	s.log.WithField("socket", s.socket).Info("ABCI server listening")
	return nil
}

// Stop shuts down the server and removes the socket file.
func (s *ABCIServer) Stop() error {
	if s.server.IsRunning() {
		if err := s.server.Stop(); err != nil {
			return fmt.Errorf("failed to stop ABCI server: %w", err)
		}
	}
	if path, ok := unixPath(s.socket); ok {
		_ = os.Remove(path)
	}
	return nil
}

func (s *ABCIServer) IsRunning() bool {
	return s.server.IsRunning()
}

func (s *ABCIServer) SocketPath() string {
	return s.socket
}

func unixPath(addr string) (string, bool) {
	if !strings.HasPrefix(addr, "unix://") {
		return "", false
	}
	return strings.TrimPrefix(addr, "unix://"), true
}

// Logger adapts a logrus entry to Tendermint's key/value logger.
type Logger struct {
	entry *logrus.Entry
}

var _ tmlog.Logger = Logger{}

// NewLogger wraps entry.
func NewLogger(entry *logrus.Entry) Logger {
	return Logger{entry: entry}
}

func (l Logger) Debug(msg string, keyvals ...interface{}) {
	l.entry.WithFields(fields(keyvals)).Debug(msg)
}

func (l Logger) Info(msg string, keyvals ...interface{}) {
	l.entry.WithFields(fields(keyvals)).Info(msg)
}

func (l Logger) Error(msg string, keyvals ...interface{}) {
	l.entry.WithFields(fields(keyvals)).Error(msg)
}

func (l Logger) With(keyvals ...interface{}) tmlog.Logger {
	return Logger{entry: l.entry.WithFields(fields(keyvals))}
}

func fields(keyvals []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 < len(keyvals) {
			f[key] = keyvals[i+1]
		} else {
			f[key] = "(missing)"
		}
	}
	return f
}
