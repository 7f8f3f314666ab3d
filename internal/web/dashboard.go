package web

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"
)

//go:embed dashboard.html
var dashboardHTML string

var dashboardTemplate = template.Must(template.New("dashboard").Parse(dashboardHTML))

type dashboardData struct {
	StreamPath string
	Version    string
}

// Dashboard renders the audit monitor page. The page only ever shows
// category counts from the audit stream at streamPath.
func Dashboard(streamPath, version string) (http.HandlerFunc, error) {
	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, dashboardData{StreamPath: streamPath, Version: version}); err != nil {
		return nil, err
	}
	page := buf.Bytes()

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Write(page)
	}, nil
}
