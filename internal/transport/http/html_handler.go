package http

import "html/template"

var expiredPageTemplate = template.Must(template.New("expired").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <title>License required</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .status { padding: 10px; margin: 10px 0; border-radius: 4px; }
        .error { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Device management is unavailable</h1>
    <div class="status error" id="license-message">{{.Message}}</div>
    <p>Status: <code>{{.StatusCode}}</code></p>
    {{if .GracePeriodEnd}}<p>Grace period ended {{.GracePeriodEnd.Format "2006-01-02 15:04 MST"}}.</p>{{end}}
    <p>Update the license key or restore connectivity to the license server, then
    <a href="/api/license/status">check the license status</a>.</p>
</body>
</html>
`))
