// Package web serves the proxy's admin UI shell. The real single-page
// app is out of scope here (spec's Non-goals exclude embedded UI
// assets); this stub serves one embedded placeholder and falls back to
// it for every unknown path under the UI route, the same SPA-fallback
// idiom the teacher uses for its Angular frontend.
package web

import (
	"bytes"
	"embed"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

//go:embed assets/index.html
var assetsFS embed.FS

type spaHandler struct {
	contentFS fs.FS
	indexPath string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqPath := strings.TrimPrefix(r.URL.Path, "/")
	filePath := path.Clean(reqPath)
	if filePath == "" || filePath == "." {
		filePath = h.indexPath
	}

	file, err := h.contentFS.Open(filePath)
	if err != nil {
		indexBytes, err := fs.ReadFile(h.contentFS, h.indexPath)
		if err != nil {
			http.Error(w, "ui assets not available", http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, h.indexPath, time.Time{}, bytes.NewReader(indexBytes))
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if seeker, ok := file.(io.ReadSeeker); ok {
		http.ServeContent(w, r, filePath, info.ModTime(), seeker)
		return
	}
	contents, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, filePath, info.ModTime(), bytes.NewReader(contents))
}

// AddRoutes mounts the embedded UI shell under "/"+route+"/".
func AddRoutes(router *mux.Router, route string) {
	sub, err := fs.Sub(assetsFS, "assets")
	if err != nil {
		panic("web: building embedded asset sub-fs: " + err.Error())
	}
	h := spaHandler{contentFS: sub, indexPath: "index.html"}
	router.PathPrefix("/" + route + "/").Handler(http.StripPrefix("/"+route, h))
}
