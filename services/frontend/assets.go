package frontend

import (
	"embed"
	"io/fs"
	"net/http"
)

// StaticPrefix is where the status page expects StaticHandler to be mounted.
const StaticPrefix = "/static/"

//go:embed static
var staticAssets embed.FS

var staticFS = mustSub(staticAssets, "static")

// StaticHandler serves the embedded stylesheet. Assets change only with the binary, so
// clients may cache them for an hour.
func StaticHandler() http.Handler {
	files := http.FileServer(http.FS(staticFS))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		files.ServeHTTP(w, r)
	})
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
