package handlers

import (
	"bytes"
	"embed"
	"strings"
	"text/template"
	"time"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("handlers").Funcs(template.FuncMap{
	"join": strings.Join,
	"last": func(s []string) int { return len(s) - 1 },
}).ParseFS(templateFS, "templates/*.tmpl"))

type templateData struct {
	IntentID    string
	Name        string
	Package     string
	Purpose     string
	Theme       string
	Colors      []string
	Pricing     []Tier
	Target      string
	Type        string
	Description string
	CreatedAt   time.Time
}

func (d templateData) CreatedAtISO() string {
	return d.CreatedAt.UTC().Format(time.RFC3339)
}

func render(name string, data templateData) ([]byte, error) {
	data.CreatedAt = data.CreatedAt.UTC()
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, failed("render "+name, err)
	}
	return buf.Bytes(), nil
}
