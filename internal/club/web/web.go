// Package web renders the server-side HTML pages from an embedded template set.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/content"
	"github.com/aussiebroadwan/clubhouse/pkg/httpx"
)

//go:embed templates/*.html
var templateFS embed.FS

const layout = "base.html"

// Viewer is the signed-in member as shown in the page chrome.
type Viewer struct {
	ID    string
	Name  string
	Email string
	Admin bool
}

// Page is the data every template receives. Data carries the page-specific
// view model.
type Page struct {
	Title     string
	Site      content.Site
	User      *Viewer
	CSRFToken string
	Flash     string
	Error     string
	Form      url.Values
	Errors    map[string]string
	Data      any
}

type Renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Mon 2 Jan 2006, 3:04pm")
	},
	"day": func(t time.Time) string { return t.Format("2 Jan 2006") },
	"media": func(key string) string {
		if key == "" {
			return ""
		}
		return "/media/" + key
	},
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
}

// NewRenderer parses the layout once and clones it for every page template.
func NewRenderer() (*Renderer, error) {
	base, err := template.New(layout).Funcs(funcs).ParseFS(templateFS, "templates/"+layout)
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	r := &Renderer{pages: make(map[string]*template.Template, len(files))}
	for _, file := range files {
		name := path.Base(file)
		if name == layout {
			continue
		}
		t, err := template.Must(base.Clone()).ParseFS(templateFS, file)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		r.pages[strings.TrimSuffix(name, ".html")] = t
	}
	return r, nil
}

// Render executes the named page into a buffer first so a template error
// never leaves a half-written response.
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, p Page) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, layout, p); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}

	httpx.NoCache(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
