// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/naka-gawa/grade-report/internal/dateutil"
	"github.com/naka-gawa/grade-report/internal/domain"
	"github.com/naka-gawa/grade-report/internal/gateway"
	"github.com/ubuntu/decorate"
	"golang.org/x/sync/errgroup"
)

// TagSnapshot selects which supported tags are embedded in each report entry.
type TagSnapshot string

const (
	// TagSnapshotFull embeds the complete supported tag list of the repository in every entry.
	TagSnapshotFull TagSnapshot = "full"
	// TagSnapshotCumulative embeds the supported tags matched so far in the repository, including the entry's own.
	TagSnapshotCumulative TagSnapshot = "cumulative"
)

// ParseTagSnapshot validates a tag snapshot name. The empty string selects TagSnapshotFull.
func ParseTagSnapshot(s string) (TagSnapshot, error) {
	switch TagSnapshot(s) {
	case "", TagSnapshotFull:
		return TagSnapshotFull, nil
	case TagSnapshotCumulative:
		return TagSnapshotCumulative, nil
	}
	return "", fmt.Errorf("unknown tag snapshot %q, expected %q or %q", s, TagSnapshotFull, TagSnapshotCumulative)
}

// Aggregator is the use case for building grade reports.
// It orchestrates the fetching and joining of repository and grade data.
type Aggregator struct {
	fetcher     gateway.Fetcher
	logger      *slog.Logger
	clock       dateutil.Clock
	snapshot    TagSnapshot
	concurrency int
}

// AggregatorOption overrides an Aggregator default.
type AggregatorOption func(*Aggregator)

// WithClock sets the clock "today" is read from.
func WithClock(c dateutil.Clock) AggregatorOption {
	return func(a *Aggregator) { a.clock = c }
}

// WithTagSnapshot sets how the supported tag list is embedded in entries.
func WithTagSnapshot(s TagSnapshot) AggregatorOption {
	return func(a *Aggregator) { a.snapshot = s }
}

// WithConcurrency sets how many grade lists may be fetched at once. Values below 2 fetch sequentially.
func WithConcurrency(n int) AggregatorOption {
	return func(a *Aggregator) { a.concurrency = n }
}

// NewAggregator creates a new Aggregator instance.
func NewAggregator(fetcher gateway.Fetcher, logger *slog.Logger, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		fetcher:     fetcher,
		logger:      logger,
		clock:       dateutil.RealClock(),
		snapshot:    TagSnapshotFull,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate builds the grade report of a product listing.
//
// Every repository of the listing must return at least one grade record: an empty grade list aborts the
// aggregation with domain.ErrEmptyResult. Only grades of supported tags are kept. Within each grade, entries
// are sorted by days remaining, ties keeping the repository order of the listing.
func (a *Aggregator) Aggregate(ctx context.Context, listing domain.ProductListing) (report *domain.Report, err error) {
	defer decorate.OnError(&err, "could not aggregate product listing %q", listing.ID)

	a.logger.Info("Starting aggregation", "listing", listing.ID, "name", listing.Name)

	repositories, err := a.fetcher.FetchListingRepositories(ctx, listing.ID)
	if err != nil {
		return nil, err
	}
	if len(repositories) == 0 {
		return nil, fmt.Errorf("%w: product listing %q has no repositories", domain.ErrEmptyResult, listing.ID)
	}
	a.logger.Debug("Repository data", "listing", listing.ID, "repositories", repositories)

	calc := dateutil.Calculator{Clock: a.clock}
	report = &domain.Report{
		Listing:     listing,
		Grades:      domain.NewGradeReport(),
		Counts:      domain.NewGradeCount(),
		GeneratedAt: a.clock.Now(),
	}

	next := a.gradeSource(ctx, repositories)
	for i, repo := range repositories {
		i, repo := i, repo
		grades, err := next(i)
		if err != nil {
			return nil, err
		}
		if len(grades) == 0 {
			return nil, fmt.Errorf("%w: repository %q returned no image grades", domain.ErrEmptyResult, repo.Repository)
		}
		a.logger.Debug("Health grades for all images in the repository", "repository", repo.Repository, "grades", grades)

		entries, err := a.join(calc, repo, grades)
		if err != nil {
			return nil, err
		}
		a.logger.Debug("Supported image grades for repository", "repository", repo.Repository, "entries", len(entries))

		for _, e := range entries {
			report.Grades[e.CurrentGrade] = append(report.Grades[e.CurrentGrade], e)
			report.Counts[e.CurrentGrade]++
		}
	}

	for _, entries := range report.Grades {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].DaysRemaining < entries[j].DaysRemaining
		})
	}

	a.logger.Info("Aggregation complete", "listing", listing.ID, "entries", report.Counts.Total())
	return report, nil
}

// gradeSource returns a function yielding the grade list of the i-th repository.
//
// Sequentially, each call fetches one repository, so a failure stops further requests. Concurrently, every
// list is fetched up front and errors are handed back in repository order, so the reported failure is the
// same whatever the scheduling.
func (a *Aggregator) gradeSource(ctx context.Context, repositories []domain.RepositoryStreamInfo) func(int) ([]domain.ImageGrade, error) {
	if a.concurrency < 2 {
		return func(i int) ([]domain.ImageGrade, error) {
			return a.fetcher.FetchRepositoryGrades(ctx, repositories[i].Repository)
		}
	}

	lists := make([][]domain.ImageGrade, len(repositories))
	errs := make([]error, len(repositories))

	var eg errgroup.Group
	eg.SetLimit(a.concurrency)
	for i, repo := range repositories {
		i, repo := i, repo
		eg.Go(func() error {
			lists[i], errs[i] = a.fetcher.FetchRepositoryGrades(ctx, repo.Repository)
			return nil
		})
	}
	_ = eg.Wait()

	return func(i int) ([]domain.ImageGrade, error) {
		return lists[i], errs[i]
	}
}

// join turns the grades of the supported tags of a repository into report entries, in grade list order.
func (a *Aggregator) join(calc dateutil.Calculator, repo domain.RepositoryStreamInfo, grades []domain.ImageGrade) ([]domain.ReportEntry, error) {
	supported := make(map[string]struct{}, len(repo.ContentStreamTags))
	for _, tag := range repo.ContentStreamTags {
		supported[tag] = struct{}{}
	}
	full := slices.Clone(repo.ContentStreamTags)

	var seen []string
	var entries []domain.ReportEntry
	for _, g := range grades {
		if _, ok := supported[g.Tag]; !ok {
			continue
		}

		grade, err := domain.ParseGrade(g.CurrentGrade)
		if err != nil {
			return nil, fmt.Errorf("repository %q tag %q: %w", repo.Repository, g.Tag, err)
		}

		dropDate := g.NextDropDate
		if dropDate == "" {
			dropDate = domain.DefaultNextDropDate
		}
		days, err := calc.DaysRemaining(dropDate)
		if err != nil {
			return nil, fmt.Errorf("repository %q tag %q: %w", repo.Repository, g.Tag, err)
		}
		date, err := dateutil.DateOnly(dropDate)
		if err != nil {
			return nil, fmt.Errorf("repository %q tag %q: %w", repo.Repository, g.Tag, err)
		}

		seen = append(seen, g.Tag)
		tags := full
		if a.snapshot == TagSnapshotCumulative {
			tags = slices.Clone(seen)
		}

		entries = append(entries, domain.ReportEntry{
			Repository:     repo.Repository,
			RepoStreamTags: tags,
			Tag:            g.Tag,
			CurrentGrade:   grade,
			NextDropDate:   date,
			DaysRemaining:  days,
		})
	}
	return entries, nil
}

// Summarize computes the digest logged and rendered with a report.
func Summarize(report *domain.Report) domain.Summary {
	s := domain.Summary{
		Listing: report.Listing.Name,
		Counts:  domain.NewGradeCount(),
	}

	repositories := make(map[string]struct{})
	var days stats.Float64Data
	for _, g := range domain.GradeOrder {
		s.Counts[g] = report.Counts[g]
		for _, e := range report.Grades[g] {
			repositories[e.Repository] = struct{}{}
			days = append(days, float64(e.DaysRemaining))
			if e.DaysRemaining < 0 {
				s.Overdue++
			}
		}
	}
	s.Repositories = len(repositories)
	s.Entries = len(days)

	if minDays, err := stats.Min(days); err == nil {
		s.MinDaysRemaining = int(minDays)
	}
	if median, err := stats.Median(days); err == nil {
		s.MedianDaysRemaining = median
	}
	return s
}
