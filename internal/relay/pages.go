package relay

import (
	"html/template"
	"log/slog"
	"net/http"
	"time"
)

var _status_tmpl = template.Must(template.New("status").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Tunnel Relay</title>
<style>
body { font-family: -apple-system, sans-serif; margin: 2rem auto; max-width: 52rem; color: #222; }
h1 { font-size: 1.4rem; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 0.4rem 0.8rem; border-bottom: 1px solid #ddd; }
code { background: #f4f4f4; padding: 0.1rem 0.3rem; border-radius: 3px; }
.empty { color: #888; }
</style>
</head>
<body>
<h1>Tunnel Relay</h1>
<p>Base URL: <code>{{.BaseURL}}</code> &mdash; {{.Count}}/{{.Max}} tunnels active</p>
{{if .Tunnels}}
<table>
<tr><th>URL</th><th>Local port</th><th>Connected</th><th>Requests</th></tr>
{{range .Tunnels}}
<tr>
<td><a href="/t/{{.Slug}}/">/t/{{.Slug}}/</a></td>
<td>{{.Port}}</td>
<td>{{.Age}}</td>
<td>{{.Requests}}</td>
</tr>
{{end}}
</table>
{{else}}
<p class="empty">No tunnels connected.</p>
{{end}}
</body>
</html>
`))

var _landing_tmpl = template.Must(template.New("landing").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Tunnel not found</title>
<style>
body { font-family: -apple-system, sans-serif; margin: 4rem auto; max-width: 40rem; color: #222; text-align: center; }
h1 { font-size: 1.6rem; }
p { color: #666; }
</style>
</head>
<body>
<h1>Tunnel not found</h1>
<p>There is no active tunnel at this address. It may have disconnected, or the URL may be mistyped.</p>
</body>
</html>
`))

type _status_row struct {
	Slug     string
	Port     int
	Age      string
	Requests uint64
}

type _status_data struct {
	BaseURL string
	Count   int
	Max     int
	Tunnels []_status_row
}

// RenderStatusPage writes the html status page listing live tunnels.
func RenderStatusPage(w http.ResponseWriter, registry *Registry, baseURL string) {
	snapshot := registry.Snapshot()
	data := _status_data{
		BaseURL: baseURL,
		Count:   len(snapshot),
		Max:     registry.MaxTunnels(),
	}
	for _, t := range snapshot {
		data.Tunnels = append(data.Tunnels, _status_row{
			Slug:     t.Slug(),
			Port:     t.LocalPort(),
			Age:      time.Since(t.ConnectedAt()).Round(time.Second).String(),
			Requests: t.RequestCount(),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := _status_tmpl.Execute(w, data); err != nil {
		slog.Error("rendering status page", "err", err)
	}
}

// RenderLandingPage writes the html landing page with the given status.
func RenderLandingPage(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := _landing_tmpl.Execute(w, nil); err != nil {
		slog.Error("rendering landing page", "err", err)
	}
}
