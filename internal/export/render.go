package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/spigell/job-pilot/internal/ai"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/jobs"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var funcs = template.FuncMap{
	"join": strings.Join,
	"present": func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "present"
		}
		return s
	},
	"paragraphs": paragraphs,
}

// Renderer turns materials into standalone HTML documents.
type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse export templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

type document struct {
	*candidate.Profile
	Job    *jobs.Job
	CV     ai.TailoredCV
	Letter string
}

func (r *Renderer) CV(profile *candidate.Profile, job *jobs.Job, cv ai.TailoredCV) ([]byte, error) {
	return r.render("cv.html.tmpl", document{Profile: profile, Job: job, CV: cv})
}

func (r *Renderer) CoverLetter(profile *candidate.Profile, job *jobs.Job, letter string) ([]byte, error) {
	return r.render("cover_letter.html.tmpl", document{Profile: profile, Job: job, Letter: letter})
}

func (r *Renderer) render(name string, doc document) ([]byte, error) {
	if doc.Profile == nil {
		doc.Profile = &candidate.Profile{}
	}
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, doc); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// paragraphs splits a letter on blank lines.
func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
