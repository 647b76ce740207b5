// Package web serves the browser UI from a static directory.
package web

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
)

const indexFile = "index.html"

// Handler serves files from dir. The root path and any path that does not
// name a regular file get index.html, so client-side routes resolve to the
// UI. Paths are cleaned before lookup and cannot escape dir.
func Handler(dir string) http.Handler {
	root := http.Dir(dir)
	files := http.FileServer(root)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		name := path.Clean("/" + r.URL.Path)
		if name != "/" && isFile(root, name) {
			files.ServeHTTP(w, r)
			return
		}
		serveIndex(w, r, root)
	})
}

func isFile(root http.FileSystem, name string) bool {
	f, err := root.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()
	st, err := f.Stat()
	return err == nil && st.Mode().IsRegular()
}

// serveIndex writes index.html directly; http.FileServer would redirect
// "/index.html" to "/".
func serveIndex(w http.ResponseWriter, r *http.Request, root http.FileSystem) {
	f, err := root.Open("/" + indexFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("web: open index", "err", err)
		}
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.IsDir() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, indexFile, st.ModTime(), f)
}
