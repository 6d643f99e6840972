package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// handleStatic serves the built frontend. Unknown non-API paths fall back
// to index.html so client-side routes like /dashboard resolve.
func (a *App) handleStatic(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	dir := a.Config.Server.StaticDir
	name := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))

	if info, err := os.Stat(name); err == nil && !info.IsDir() {
		http.ServeFile(w, r, name)
		return
	}

	http.ServeFile(w, r, filepath.Join(dir, "index.html"))
}
