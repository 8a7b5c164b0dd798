package report

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"
)

// IndexFile is the name of the generated report page
const IndexFile = "index.html"

var page = template.Must(template.New("report").Funcs(template.FuncMap{
	"png": func(b64 string) template.URL {
		return template.URL("data:image/png;base64," + b64)
	},
	"ms": func(d time.Duration) string {
		return fmt.Sprintf("%dms", d.Milliseconds())
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 2rem; color: #222; }
h1 { font-weight: 400; }
table.summary { border-collapse: collapse; margin-bottom: 2rem; }
table.summary td, table.summary th { border: 1px solid #ddd; padding: .4rem .8rem; text-align: left; }
.passed { color: #2e7d32; }
.failed { color: #c62828; }
.skipped, .pending, .undefined { color: #9e9e9e; }
details { margin: .3rem 0 .3rem 1rem; }
pre { background: #f6f6f6; padding: .5rem; white-space: pre-wrap; }
img { max-width: 640px; border: 1px solid #ddd; margin: .5rem 0; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Generated {{.Generated.Format "2006-01-02 15:04:05"}}</p>
<table class="summary">
<tr><th>Capability</th><th>Scenarios</th><th>Passed</th><th>Failed</th><th>Skipped</th></tr>
{{range .Runs}}{{$c := .Counts}}<tr><td><a href="#{{.Capability}}">{{.Capability}}</a></td><td>{{$c.Total}}</td><td class="passed">{{$c.Passed}}</td><td class="failed">{{$c.Failed}}</td><td class="skipped">{{$c.Skipped}}</td></tr>
{{end}}</table>
{{range .Runs}}
<h2 id="{{.Capability}}">{{.Capability}}</h2>
{{range .Features}}
<h3>{{.Name}} <small>{{.URI}}</small></h3>
{{range .Scenarios}}
<details{{if eq .Status "failed"}} open{{end}}>
<summary class="{{.Status}}">{{.Name}} ({{.Status}}, {{ms .Duration}}){{range .Tags}} {{.}}{{end}}</summary>
<ul>
{{range .Steps}}<li class="{{.Status}}">{{.Keyword}} {{.Text}}{{if .Error}}<pre>{{.Error}}</pre>{{end}}</li>
{{end}}</ul>
{{range .Screenshots}}<img alt="screenshot" src="{{png .}}">
{{end}}</details>
{{end}}
{{end}}
{{end}}
</body>
</html>
`))

// Generate renders runs into dir/index.html and returns the file path
func Generate(runs []Run, dir, title string) (string, error) {
	if title == "" {
		title = "Todo suite report"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	path := filepath.Join(dir, IndexFile)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating report: %w", err)
	}
	defer f.Close()

	data := struct {
		Title     string
		Generated time.Time
		Runs      []Run
	}{title, time.Now(), runs}

	if err := page.Execute(f, data); err != nil {
		return "", fmt.Errorf("rendering report: %w", err)
	}
	return path, f.Close()
}
