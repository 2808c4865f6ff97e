// Package web holds the HTML views of the evaluation dashboard.
package web

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gofiber/template/html/v2"
)

//go:embed templates
var templatesFS embed.FS

// Layout wraps every page.
const Layout = "layouts/main"

// NewEngine returns the view engine for fiber.Config.Views.
func NewEngine() *html.Engine {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		panic(err)
	}

	engine := html.NewFileSystem(http.FS(sub), ".html")
	engine.AddFunc("json", toJSON)
	engine.AddFunc("imageURL", imageURL)
	engine.AddFunc("base", filepath.Base)
	engine.AddFunc("lower", strings.ToLower)
	engine.AddFunc("contains", contains)
	engine.AddFunc("cell", cell)
	engine.AddFunc("add", func(a, b int) int { return a + b })
	return engine
}

// toJSON embeds v in a script block.
func toJSON(v any) template.JS {
	data, err := json.Marshal(v)
	if err != nil {
		return template.JS("null")
	}
	return template.JS(data)
}

func imageURL(path string) string {
	return "/images/" + url.PathEscape(filepath.Base(path))
}

func cell(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
