// Package views holds the server rendered pages of the sign in flow and
// the brewery page shell.
package views

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/gofiber/template/django/v3"
)

//go:embed templates/*.html
var templates embed.FS

// Templates returns the embedded templates rooted at their directory
func Templates() fs.FS {
	sub, err := fs.Sub(templates, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// NewEngine returns a django view engine over the embedded templates.
// A non nil override (e.g. os.DirFS) replaces them, which helps while
// editing markup.
func NewEngine(override fs.FS) *django.Engine {
	fsys := Templates()
	if override != nil {
		fsys = override
	}
	return django.NewFileSystem(http.FS(fsys), ".html")
}
