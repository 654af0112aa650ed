package server

import (
	"net/http"
	"path/filepath"
	"strings"
)

// handleArtifactFile serves published files from the sources, processed,
// and thumbnails directories under the configured URL prefix. The cleaned
// path must stay inside its base directory; anything else is a 404.
func (s *Server) handleArtifactFile(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, s.cfg.Paths.URLPrefix)
	rel = strings.TrimPrefix(rel, "/")

	area, rest, found := strings.Cut(rel, "/")
	if !found || rest == "" {
		http.NotFound(w, r)
		return
	}

	var base string
	switch area {
	case "sources":
		base = s.cfg.Paths.SourcesDir
	case "processed":
		base = s.cfg.Paths.ProcessedDir
	case "thumbnails":
		base = s.cfg.Paths.ThumbnailsDir
	default:
		http.NotFound(w, r)
		return
	}

	cleaned := filepath.Clean(filepath.Join(base, filepath.FromSlash(rest)))
	if cleaned != base && !strings.HasPrefix(cleaned, base+string(filepath.Separator)) {
		http.NotFound(w, r)
		return
	}
	// Staging directories are never exposed.
	if strings.Contains(cleaned, string(filepath.Separator)+".tmp-") {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, cleaned)
}
