package middleware

import (
	"html/template"
	"net/http"
)

type notice struct {
	Code        int
	Title       string
	Message     string
	Loading     bool
	LoginPath   string
	HomePath    string
	Roles       []string
	Permissions []string
}

var noticeTemplate = template.Must(template.New("notice").Parse(`<!DOCTYPE html>
<html lang="id">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
{{if .Loading}}<meta http-equiv="refresh" content="1">{{end}}
<title>{{.Title}} | Pemerintah Kota Pekanbaru</title>
<link rel="stylesheet" href="/static/portal.css">
</head>
<body class="notice">
<main class="notice-card">
{{if .Loading}}<div class="spinner" role="status" aria-label="{{.Title}}"></div>{{end}}
{{if .Code}}<h1 class="notice-code">{{.Code}}</h1>{{end}}
<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
{{if .Roles}}<p>Role yang diizinkan:</p><ul>{{range .Roles}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .Permissions}}<p>Permission yang diizinkan:</p><ul>{{range .Permissions}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .LoginPath}}<a class="button" href="{{.LoginPath}}">Login</a>{{end}}
{{if .HomePath}}
<div class="actions">
<button type="button" class="button outline" onclick="history.back()">Kembali</button>
<a class="button" href="{{.HomePath}}">Ke Dashboard</a>
</div>
{{end}}
</main>
</body>
</html>
`))

func writeNotice(w http.ResponseWriter, status int, n notice) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = noticeTemplate.Execute(w, n)
}
