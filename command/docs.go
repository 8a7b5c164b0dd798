package command

import (
	"fmt"
	htmltemplate "html/template"
	"io"
	"os"
	"strings"
	"text/template"

	"github.com/urfave/cli/v2"

	"github.com/tomatool/todospec/internal/steps"
)

var docsCommand = &cli.Command{
	Name:   "docs",
	Usage:  "Generate documentation for available steps",
	Hidden: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output file (stdout when empty)",
		},
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Value:   "markdown",
			Usage:   "Output format: markdown, html",
		},
	},
	Action: runDocs,
}

func runDocs(ctx *cli.Context) error {
	var w io.Writer = ctx.App.Writer
	if output := ctx.String("output"); output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	data := buildDocsData(steps.Catalog())

	switch ctx.String("format") {
	case "markdown":
		return markdownDocs.Execute(w, data)
	case "html":
		return htmlDocs.Execute(w, data)
	default:
		return fmt.Errorf("unknown format: %s", ctx.String("format"))
	}
}

// GroupedStep is a step with processed fields for docs
type GroupedStep struct {
	Example     string
	Pattern     string
	Description string
}

// StepGroup groups the steps of a category by Gherkin keyword
type StepGroup struct {
	Name  string
	Steps []GroupedStep
}

// CategoryWithGroups is a category with steps grouped
type CategoryWithGroups struct {
	Name        string
	Description string
	Groups      []StepGroup
}

// DocsData is the data structure for the docs templates
type DocsData struct {
	Categories []CategoryWithGroups
}

func buildDocsData(categories []steps.StepCategory) DocsData {
	data := DocsData{Categories: make([]CategoryWithGroups, 0, len(categories))}
	for _, cat := range categories {
		data.Categories = append(data.Categories, buildCategoryWithGroups(cat))
	}
	return data
}

func buildCategoryWithGroups(cat steps.StepCategory) CategoryWithGroups {
	catWithGroups := CategoryWithGroups{
		Name:        cat.Name,
		Description: cat.Description,
		Groups:      make([]StepGroup, 0),
	}

	groupMap := make(map[string][]GroupedStep)
	groupOrder := make([]string, 0)

	for _, step := range cat.Steps {
		groupName := step.Keyword
		if groupName == "" {
			groupName = "General"
		}

		if _, exists := groupMap[groupName]; !exists {
			groupOrder = append(groupOrder, groupName)
		}

		// Tables and doc strings follow on later lines
		example, _, _ := strings.Cut(step.Example, "\n")
		groupMap[groupName] = append(groupMap[groupName], GroupedStep{
			Example:     example,
			Pattern:     step.Pattern,
			Description: step.Description,
		})
	}

	for _, groupName := range groupOrder {
		catWithGroups.Groups = append(catWithGroups.Groups, StepGroup{
			Name:  groupName,
			Steps: groupMap[groupName],
		})
	}

	return catWithGroups
}

var markdownDocs = template.Must(template.New("docs").Parse(`# Step Reference

This document lists all available Gherkin steps of the todo suite.

> **Note:** This documentation is auto-generated from the source code.

Scenarios tagged ` + "`@home`" + ` start from a freshly loaded app with empty storage.
{{range .Categories}}
---

## {{.Name}}

{{.Description}}
{{range .Groups}}
### {{.Name}}

| Step | Pattern | Description |
|------|---------|-------------|
{{range .Steps}}| ` + "`" + `{{.Example}}` + "`" + ` | ` + "`" + `{{.Pattern}}` + "`" + ` | {{.Description}} |
{{end}}{{end}}{{end}}`))

var htmlDocs = htmltemplate.Must(htmltemplate.New("docs").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>todospec Step Reference</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 900px; margin: 0 auto; padding: 20px; }
        h1 { color: #b83f45; }
        h2 { color: #2c3e50; border-bottom: 2px solid #b83f45; padding-bottom: 10px; }
        h3 { color: #34495e; }
        table { border-collapse: collapse; width: 100%; margin-bottom: 20px; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #f8f9fa; }
        code { background: #f8f9fa; padding: 2px 6px; border-radius: 4px; font-family: monospace; }
    </style>
</head>
<body>
    <h1>todospec Step Reference</h1>
    {{range .Categories}}
    <div class="category">
        <h2>{{.Name}}</h2>
        <p>{{.Description}}</p>
        {{range .Groups}}
        <h3>{{.Name}}</h3>
        <table>
            <tr><th>Step</th><th>Description</th></tr>
            {{range .Steps}}
            <tr><td><code>{{.Example}}</code></td><td>{{.Description}}</td></tr>
            {{end}}
        </table>
        {{end}}
    </div>
    {{end}}
</body>
</html>`))
