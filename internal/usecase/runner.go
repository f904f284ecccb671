package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/naka-gawa/grade-report/internal/domain"
	"github.com/naka-gawa/grade-report/internal/metrics"
	"github.com/naka-gawa/grade-report/internal/notify"
	"github.com/naka-gawa/grade-report/internal/render"
)

// AbortPolicy decides what a listing failure does to the rest of the run.
type AbortPolicy string

const (
	// AbortListing records the failure and carries on with the next listing.
	AbortListing AbortPolicy = "listing"
	// AbortRun stops the run at the first failed listing.
	AbortRun AbortPolicy = "run"
)

// ParseAbortPolicy validates an abort policy name. The empty string selects AbortListing.
func ParseAbortPolicy(s string) (AbortPolicy, error) {
	switch AbortPolicy(s) {
	case "", AbortListing:
		return AbortListing, nil
	case AbortRun:
		return AbortRun, nil
	}
	return "", fmt.Errorf("unknown abort policy %q, expected %q or %q", s, AbortListing, AbortRun)
}

// ReportBuilder builds the grade report of a listing. It is implemented by *Aggregator.
type ReportBuilder interface {
	Aggregate(ctx context.Context, listing domain.ProductListing) (*domain.Report, error)
}

// Runner processes every configured listing in turn: aggregate, summarize, render and deliver.
type Runner struct {
	builder   ReportBuilder
	renderer  render.Renderer
	notifier  notify.Notifier
	logger    *slog.Logger
	recorder  *metrics.Recorder
	policy    AbortPolicy
	deliver   bool
	outputDir string
}

// RunnerOption overrides a Runner default.
type RunnerOption func(*Runner)

// WithAbortPolicy sets the behavior on listing failure.
func WithAbortPolicy(p AbortPolicy) RunnerOption {
	return func(r *Runner) { r.policy = p }
}

// WithDelivery enables delivery of the rendered reports through the notifier.
func WithDelivery(deliver bool) RunnerOption {
	return func(r *Runner) { r.deliver = deliver }
}

// WithOutputDir writes each rendered report to <dir>/<listing id>.html.
func WithOutputDir(dir string) RunnerOption {
	return func(r *Runner) { r.outputDir = dir }
}

// WithRecorder records report and failure metrics.
func WithRecorder(rec *metrics.Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// NewRunner creates a new Runner instance.
func NewRunner(builder ReportBuilder, renderer render.Renderer, notifier notify.Notifier, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		builder:  builder,
		renderer: renderer,
		notifier: notifier,
		logger:   logger,
		policy:   AbortListing,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes listings in order and returns the reports built successfully.
//
// With AbortListing, every listing is attempted and the failures are returned joined once all are done.
// With AbortRun, the first failure is returned immediately along with the reports built so far.
func (r *Runner) Run(ctx context.Context, listings []domain.ProductListing) ([]*domain.Report, error) {
	var reports []*domain.Report
	var errs []error

	for _, listing := range listings {
		report, err := r.runListing(ctx, listing)
		if report != nil {
			reports = append(reports, report)
		}
		if err == nil {
			continue
		}

		r.logger.Error("Failed to process product listing", "listing", listing.ID, "name", listing.Name, "error", err)
		r.recorder.ListingFailed(listing.ID)
		errs = append(errs, err)
		if r.policy == AbortRun {
			break
		}
	}

	r.logger.Info("Run complete", "listings", len(listings), "reports", len(reports), "failures", len(errs))
	return reports, errors.Join(errs...)
}

// runListing builds and delivers the report of one listing. The report is returned when aggregation
// succeeded, even if its delivery failed.
func (r *Runner) runListing(ctx context.Context, listing domain.ProductListing) (*domain.Report, error) {
	report, err := r.builder.Aggregate(ctx, listing)
	if err != nil {
		return nil, err
	}
	r.recorder.ObserveReport(listing.ID, report.Counts)

	summary := Summarize(report)
	r.logger.Info("Grade report summary",
		"listing", listing.ID,
		"name", summary.Listing,
		"repositories", summary.Repositories,
		"entries", summary.Entries,
		"overdue", summary.Overdue,
		"min_days_remaining", summary.MinDaysRemaining,
		"median_days_remaining", summary.MedianDaysRemaining,
		slog.Group("grades", countAttrs(summary.Counts)...),
	)

	if !r.deliver && r.outputDir == "" {
		return report, nil
	}

	document, err := r.renderer.Render(report, summary)
	if err != nil {
		return report, fmt.Errorf("could not render report of product listing %q: %w", listing.ID, err)
	}

	if r.outputDir != "" {
		path, err := r.writeDocument(listing.ID, document)
		if err != nil {
			return report, err
		}
		r.logger.Info("Report written", "listing", listing.ID, "path", path)
	}

	if r.deliver {
		msg := notify.Message{
			Subject:    render.Subject(listing, report.GeneratedAt),
			Recipients: listing.EmailRecipients,
			Document:   document,
			Summary:    summary,
		}
		if err := r.notifier.Notify(ctx, msg); err != nil {
			return report, fmt.Errorf("could not deliver report of product listing %q: %w", listing.ID, err)
		}
	}
	return report, nil
}

func (r *Runner) writeDocument(listingID, document string) (string, error) {
	if err := os.MkdirAll(r.outputDir, 0750); err != nil {
		return "", fmt.Errorf("could not create output directory: %w", err)
	}
	path := filepath.Join(r.outputDir, filepath.Base(listingID)+".html")
	if err := os.WriteFile(path, []byte(document), 0600); err != nil {
		return "", fmt.Errorf("could not write report of product listing %q: %w", listingID, err)
	}
	return path, nil
}

func countAttrs(counts domain.GradeCount) []any {
	attrs := make([]any, 0, len(domain.GradeOrder))
	for _, g := range domain.GradeOrder {
		attrs = append(attrs, slog.Int(string(g), counts[g]))
	}
	return attrs
}
