// Package web holds the server-rendered pages and their static assets.
package web

import (
	"embed"
	"io/fs"
)

// Templates holds layouts, partials and pages, parsed by internal/view.
//
//go:embed templates/layouts/*.html templates/partials/*.html templates/pages/*.html
var Templates embed.FS

//go:embed static
var static embed.FS

// Static returns the asset tree rooted at static/, ready for http.FS.
func Static() (fs.FS, error) {
	return fs.Sub(static, "static")
}
