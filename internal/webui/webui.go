package webui

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
)

//go:embed web/*
var content embed.FS

// Cache-Control values.
const (
	cacheIndex  = "no-cache, must-revalidate"
	cacheAssets = "public, max-age=31536000"
)

// Handler returns an http.Handler serving the dashboard.
//
// When dir is non-empty and exists, assets are read from it; otherwise the
// embedded fallback page is served.
// Panics if the embedded assets cannot be loaded (build error).
func Handler(dir string) http.Handler {
	fileSystem := resolve(dir)
	fileServer := http.FileServer(fileSystem)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upath := path.Clean(r.URL.Path)
		if upath == "." || upath == "/" || upath == "/index.html" {
			serveIndex(w, r, fileServer)
			return
		}

		f, err := fileSystem.Open(upath[1:])
		if err != nil {
			serveIndex(w, r, fileServer)
			return
		}
		stat, err := f.Stat()
		f.Close()
		if err != nil || stat.IsDir() {
			serveIndex(w, r, fileServer)
			return
		}

		w.Header().Set("Cache-Control", cacheAssets)
		fileServer.ServeHTTP(w, r)
	})
}

// Source reports where assets are served from, for startup logging.
func Source(dir string) string {
	if usable(dir) {
		return dir
	}
	return "embedded"
}

func resolve(dir string) http.FileSystem {
	if usable(dir) {
		return http.Dir(dir)
	}
	webFS, err := fs.Sub(content, "web")
	if err != nil {
		panic(fmt.Sprintf("webui: failed to load embedded assets: %v", err))
	}
	return http.FS(webFS)
}

func usable(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// serveIndex serves index.html with a 200 for SPA routes.
func serveIndex(w http.ResponseWriter, r *http.Request, fileServer http.Handler) {
	w.Header().Set("Cache-Control", cacheIndex)
	r2 := r.Clone(r.Context())
	r2.URL.Path = "/"
	fileServer.ServeHTTP(w, r2)
}
