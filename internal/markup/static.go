package markup

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
  body { font-family: "Helvetica Neue", Arial, sans-serif; color: #1f2933; margin: 0; }
  header { border-bottom: 2px solid #3e4c59; padding-bottom: 8px; margin-bottom: 24px; }
  h1 { font-size: 24pt; margin: 0; }
  .tier { color: #7b8794; font-size: 9pt; text-transform: uppercase; letter-spacing: 1px; }
  p { font-size: 11pt; line-height: 1.5; }
  footer { margin-top: 48px; font-size: 8pt; color: #9aa5b1; }
</style>
</head>
<body>
<header>
  <div class="tier">{{.Tier}}</div>
  <h1>{{.Title}}</h1>
</header>
<main>
{{if .Body}}{{.Body}}{{else}}{{range .Paragraphs}}<p>{{.}}</p>
{{end}}{{end}}</main>
<footer>Document {{.JobID}}</footer>
</body>
</html>
`))

type pageData struct {
	Title      string
	Tier       string
	JobID      string
	Paragraphs []string
	Body       template.HTML
}

// StaticGenerator lays the prompt out as a plain document. It never calls
// out and is the fallback for every other generator.
type StaticGenerator struct{}

func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{}
}

func (s *StaticGenerator) Generate(ctx context.Context, req Request) (*Document, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("markup: prompt is empty")
	}
	title := titleFromPrompt(prompt)
	html, err := renderPage(pageData{
		Title:      title,
		Tier:       coalesce(req.Tier, "standard"),
		JobID:      req.JobID,
		Paragraphs: paragraphs(prompt),
	})
	if err != nil {
		return nil, err
	}
	return &Document{Title: title, HTML: html, Provider: ProviderStatic}, nil
}

func renderPage(data pageData) (string, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// titleFromPrompt title-cases the first line, capped at a dozen words.
func titleFromPrompt(prompt string) string {
	line := prompt
	if idx := strings.IndexAny(line, "\r\n"); idx >= 0 {
		line = line[:idx]
	}
	words := strings.Fields(line)
	if len(words) > 12 {
		words = words[:12]
	}
	return cases.Title(language.Und).String(strings.Join(words, " "))
}

func paragraphs(prompt string) []string {
	var out []string
	for _, block := range strings.Split(strings.ReplaceAll(prompt, "\r\n", "\n"), "\n\n") {
		block = strings.Join(strings.Fields(block), " ")
		if block != "" {
			out = append(out, block)
		}
	}
	return out
}

func coalesce(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

var _ Generator = (*StaticGenerator)(nil)
