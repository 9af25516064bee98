package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
)

// @Title: List Docs
// @Route: GET /api/docs
// @Description: Lists the asciidoc documents the node can render
// @Response: ["api.adoc", "wire.adoc"]
func (s *Service) HandleDocsList(w http.ResponseWriter, r *http.Request) {
	names, err := s.docs.ListDocs()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list docs")
		return
	}
	s.writeJSON(w, http.StatusOK, names)
}

// @Title: Render Doc
// @Route: GET /api/docs/{name}
// @Description: Renders one asciidoc document to HTML
// @Response: text/html fragment
func (s *Service) HandleDoc(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if name != filepath.Base(name) || !strings.HasSuffix(name, ".adoc") {
		s.writeError(w, http.StatusBadRequest, "Invalid document name")
		return
	}
	html, err := s.docs.GetDoc(r.Context(), name)
	if err != nil {
		s.log.WithError(err).WithField("doc", name).Warn("render doc")
		s.writeError(w, http.StatusNotFound, "Document not found")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}
