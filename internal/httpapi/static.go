package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var uiFiles embed.FS

// uiHandler serves the embedded Miss Riverwood chat page.
func uiHandler() http.Handler {
	root, err := fs.Sub(uiFiles, "static")
	if err != nil {
		return http.NotFoundHandler()
	}
	return http.FileServerFS(root)
}
