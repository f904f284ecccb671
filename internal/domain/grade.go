// Package domain contains the core data structures and domain logic for the application.
package domain

import (
	"fmt"
	"time"
)

// DefaultNextDropDate stands in for a grade record that carries no next drop date.
const DefaultNextDropDate = "2099-12-31T00:00:00+00:00"

// Grade is an image health grade, A (best) to F (worst).
type Grade string

// The six health grades known to the catalog.
const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeE Grade = "E"
	GradeF Grade = "F"
)

// GradeOrder is the key order of a report, worst grade first.
var GradeOrder = []Grade{GradeF, GradeE, GradeD, GradeC, GradeB, GradeA}

// ParseGrade validates a grade symbol returned by the catalog.
func ParseGrade(s string) (Grade, error) {
	switch g := Grade(s); g {
	case GradeA, GradeB, GradeC, GradeD, GradeE, GradeF:
		return g, nil
	}
	return "", fmt.Errorf("%w: unknown grade %q", ErrSchema, s)
}

// ProductListing is a named collection of repositories to report on.
type ProductListing struct {
	ID              string   `json:"id" yaml:"id" mapstructure:"product_listing_id"`
	Name            string   `json:"name" yaml:"name" mapstructure:"name"`
	EmailRecipients []string `json:"email_recipients" yaml:"email_recipients" mapstructure:"email_recipients"`
}

// RepositoryStreamInfo pairs a repository with the content stream tags its listing supports.
type RepositoryStreamInfo struct {
	Repository        string   `json:"repository"`
	ContentStreamTags []string `json:"content_stream_tags"`
}

// ImageGrade is the grade of one tag of a repository.
// NextDropDate is empty when the catalog did not return one.
type ImageGrade struct {
	Tag          string `json:"tag"`
	CurrentGrade string `json:"current_grade"`
	NextDropDate string `json:"next_drop_date,omitempty"`
}

// ReportEntry is one supported image in a grade report.
type ReportEntry struct {
	Repository     string   `json:"repository" yaml:"repository"`
	RepoStreamTags []string `json:"repo_stream_tags" yaml:"repo_stream_tags"`
	Tag            string   `json:"tag" yaml:"tag"`
	CurrentGrade   Grade    `json:"current_grade" yaml:"current_grade"`
	NextDropDate   string   `json:"next_drop_date" yaml:"next_drop_date"`
	DaysRemaining  int      `json:"days_remaining" yaml:"days_remaining"`
}

// GradeReport maps every grade to its entries, sorted by days remaining.
type GradeReport map[Grade][]ReportEntry

// GradeCount maps every grade to its number of entries.
type GradeCount map[Grade]int

// NewGradeReport returns a report with every grade present and empty.
func NewGradeReport() GradeReport {
	r := make(GradeReport, len(GradeOrder))
	for _, g := range GradeOrder {
		r[g] = []ReportEntry{}
	}
	return r
}

// NewGradeCount returns a count with every grade at zero.
func NewGradeCount() GradeCount {
	c := make(GradeCount, len(GradeOrder))
	for _, g := range GradeOrder {
		c[g] = 0
	}
	return c
}

// Total returns the sum of all grade counts.
func (c GradeCount) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Report is the aggregation result for a single listing.
type Report struct {
	Listing     ProductListing `json:"listing"`
	Grades      GradeReport    `json:"grade_report"`
	Counts      GradeCount     `json:"grade_count"`
	GeneratedAt time.Time      `json:"generated_at"`
}
