// Package docs renders the operator documentation under docs/ from
// asciidoc to HTML.
package docs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bytesparadise/libasciidoc"
	"github.com/bytesparadise/libasciidoc/pkg/configuration"
	"github.com/sirupsen/logrus"
)

type cached struct {
	html    string
	modTime int64
}

// Service renders and caches documents. A cached page is re-rendered when
// its file changes on disk.
type Service struct {
	docsDir string
	cache   map[string]cached
	mu      sync.RWMutex
	log     *logrus.Entry
}

func NewService(docsDir string, log *logrus.Entry) *Service {
	return &Service{
		docsDir: docsDir,
		cache:   make(map[string]cached),
		log:     log,
	}
}

// GetDoc renders filename, relative to the docs directory.
func (s *Service) GetDoc(ctx context.Context, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if filename != filepath.Base(filename) {
		return "", fmt.Errorf("invalid doc name %q", filename)
	}

	path := filepath.Join(s.docsDir, filename)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to read doc file: %w", err)
	}

	s.mu.RLock()
	c, ok := s.cache[filename]
	s.mu.RUnlock()
	if ok && c.modTime == info.ModTime().UnixNano() {
		return c.html, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read doc file: %w", err)
	}

	output := bytes.NewBuffer(nil)
	config := configuration.NewConfiguration(
		configuration.WithHeaderFooter(false),
	)
	if _, err := libasciidoc.Convert(bytes.NewReader(data), output, config); err != nil {
		return "", fmt.Errorf("failed to convert asciidoc: %w", err)
	}

	html := output.String()
	s.mu.Lock()
	s.cache[filename] = cached{html: html, modTime: info.ModTime().UnixNano()}
	s.mu.Unlock()
	s.log.WithField("doc", filename).Debug("rendered doc")

	return html, nil
}

// ListDocs returns the .adoc files in the docs directory, sorted.
func (s *Service) ListDocs() ([]string, error) {
	entries, err := os.ReadDir(s.docsDir)
	if err != nil {
		return nil, err
	}

	docs := []string{}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".adoc") {
			docs = append(docs, entry.Name())
		}
	}
	sort.Strings(docs)
	return docs, nil
}
