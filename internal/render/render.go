// Package render turns grade reports into HTML documents.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/naka-gawa/grade-report/internal/domain"
)

//go:embed templates/report.html
var templatesFS embed.FS

const defaultTemplate = "templates/report.html"

// Renderer renders the document delivered for a report.
type Renderer interface {
	Render(report *domain.Report, summary domain.Summary) (string, error)
}

// HTMLRenderer renders reports with an html/template.
type HTMLRenderer struct {
	tpl *template.Template
}

// Section is the part of the document showing one grade.
type Section struct {
	Grade   domain.Grade
	Count   int
	Entries []domain.ReportEntry
}

// View is the data a report template is executed with.
type View struct {
	Title       string
	Listing     domain.ProductListing
	GeneratedAt string
	Summary     domain.Summary
	// Sections follow domain.GradeOrder, worst grade first.
	Sections []Section
}

var funcs = template.FuncMap{
	"gradeClass": gradeClass,
	"join":       strings.Join,
}

// NewHTMLRenderer parses the report template. An empty templateFile selects the embedded template.
func NewHTMLRenderer(templateFile string) (*HTMLRenderer, error) {
	var (
		name string
		text []byte
		err  error
	)
	if templateFile == "" {
		name = filepath.Base(defaultTemplate)
		text, err = templatesFS.ReadFile(defaultTemplate)
	} else {
		name = filepath.Base(templateFile)
		text, err = os.ReadFile(templateFile)
	}
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}

	tpl, err := template.New(name).Funcs(funcs).Parse(string(text))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return &HTMLRenderer{tpl: tpl}, nil
}

// Render executes the template for report.
func (r *HTMLRenderer) Render(report *domain.Report, summary domain.Summary) (string, error) {
	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, NewView(report, summary)); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

// NewView builds the template data of report.
func NewView(report *domain.Report, summary domain.Summary) View {
	sections := make([]Section, 0, len(domain.GradeOrder))
	for _, g := range domain.GradeOrder {
		sections = append(sections, Section{
			Grade:   g,
			Count:   report.Counts[g],
			Entries: report.Grades[g],
		})
	}
	return View{
		Title:       Subject(report.Listing, report.GeneratedAt),
		Listing:     report.Listing,
		GeneratedAt: report.GeneratedAt.Format(time.DateOnly),
		Summary:     summary,
		Sections:    sections,
	}
}

// Subject is the title of the report of listing generated at t.
func Subject(listing domain.ProductListing, t time.Time) string {
	return fmt.Sprintf("Container Health Grade Report - %s - %s", listing.Name, t.Format(time.DateOnly))
}

// Compact removes the line breaks of a rendered document. Some mail clients render them as blank lines.
func Compact(document string) string {
	return strings.ReplaceAll(document, "\n", "")
}

func gradeClass(g domain.Grade) string {
	return "grade grade-" + strings.ToLower(string(g))
}
