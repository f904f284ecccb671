// Package gateway provides a gateway to the container catalog API,
// abstracting away the underlying HTTP client.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/naka-gawa/grade-report/internal/domain"
	"github.com/naka-gawa/grade-report/internal/metrics"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the public container catalog API.
	DefaultBaseURL = "https://catalog.redhat.com/api/containers/v1"
	// DefaultRegistry is the registry whose repositories are graded.
	DefaultRegistry = "registry.access.redhat.com"
	// DefaultTimeout bounds a single catalog request.
	DefaultTimeout = 30 * time.Second

	pageSize = 100
	// maxPages bounds the pages read for one product listing.
	maxPages = 1000
)

// Fetcher defines the behavior of a gateway for fetching information from the catalog.
type Fetcher interface {
	FetchListingRepositories(ctx context.Context, listingID string) ([]domain.RepositoryStreamInfo, error)
	FetchRepositoryGrades(ctx context.Context, repository string) ([]domain.ImageGrade, error)
}

// Config holds the connection settings of the catalog gateway.
type Config struct {
	BaseURL  string        `mapstructure:"base_url"`
	Registry string        `mapstructure:"registry"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CatalogGateway is the concrete implementation of the Fetcher interface.
type CatalogGateway struct {
	httpClient *http.Client
	baseURL    *url.URL
	registry   string
	pageSize   int
	maxPages   int
	logger     *slog.Logger
}

// listingRepositoriesPage is one page of the product listing repositories endpoint.
type listingRepositoriesPage struct {
	Data     []domain.RepositoryStreamInfo `json:"data"`
	Page     int                           `json:"page"`
	PageSize int                           `json:"page_size"`
	Total    int                           `json:"total"`
}

// NewCatalogGateway is a constructor that creates a new instance of CatalogGateway.
// A non-empty token is sent as a bearer token on every request.
func NewCatalogGateway(cfg Config, logger *slog.Logger, rec *metrics.Recorder) (Fetcher, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Registry == "" {
		cfg.Registry = DefaultRegistry
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	transport := rec.InstrumentTransport(http.DefaultTransport)
	if cfg.Token != "" {
		transport = &oauth2.Transport{
			Base:   transport,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}),
		}
	}

	return &CatalogGateway{
		httpClient: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		baseURL:    base,
		registry:   cfg.Registry,
		pageSize:   pageSize,
		maxPages:   maxPages,
		logger:     logger,
	}, nil
}

// parseBaseURL parses the server URL and makes sure it ends with a slash, so endpoints resolve below it.
func parseBaseURL(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog base URL %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid catalog base URL %q: scheme and host are required", raw)
	}
	return u, nil
}

// FetchListingRepositories returns every repository of a product listing with its supported content stream tags.
//
// Pages are read until a short page, until total is reached or until a page holds no repository not seen
// before, which happens when the server ignores the page parameter. Reading more than maxPages is an error.
func (g *CatalogGateway) FetchListingRepositories(ctx context.Context, listingID string) ([]domain.RepositoryStreamInfo, error) {
	if listingID == "" {
		return nil, fmt.Errorf("%w: empty product listing id", domain.ErrFetch)
	}
	endpoint := fmt.Sprintf("product-listings/id/%s/repositories", url.PathEscape(listingID))

	var repositories []domain.RepositoryStreamInfo
	seen := make(map[string]struct{})
	for page := 0; ; page++ {
		if page >= g.maxPages {
			return nil, fmt.Errorf("%w: product listing %q has more than %d pages of repositories", domain.ErrFetch, listingID, g.maxPages)
		}
		g.logger.Debug("Fetching product listing repositories", "listing", listingID, "page", page)
		query := url.Values{
			"include":   {"data.repository,data.content_stream_tags"},
			"page_size": {strconv.Itoa(g.pageSize)},
			"page":      {strconv.Itoa(page)},
		}
		var resp listingRepositoriesPage
		if err := g.getJSON(ctx, endpoint, query, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch repositories of product listing %q: %w", listingID, err)
		}
		if len(resp.Data) > 0 && !hasNew(seen, resp.Data) {
			g.logger.Warn("Catalog repeated a page of repositories, stopping pagination", "listing", listingID, "page", page)
			break
		}
		repositories = append(repositories, resp.Data...)

		if len(resp.Data) < g.pageSize || (resp.Total > 0 && len(repositories) >= resp.Total) {
			break
		}
	}

	if len(repositories) == 0 {
		return nil, fmt.Errorf("%w: product listing %q has no repositories", domain.ErrEmptyResult, listingID)
	}
	g.logger.Debug("Completed fetching product listing repositories", "listing", listingID, "repositories", len(repositories))
	return repositories, nil
}

// hasNew records the repositories of data in seen and reports whether any was not there yet.
func hasNew(seen map[string]struct{}, data []domain.RepositoryStreamInfo) bool {
	added := false
	for _, r := range data {
		if _, ok := seen[r.Repository]; !ok {
			seen[r.Repository] = struct{}{}
			added = true
		}
	}
	return added
}

// FetchRepositoryGrades returns the grade of every image tag known in a repository, supported or not.
func (g *CatalogGateway) FetchRepositoryGrades(ctx context.Context, repository string) ([]domain.ImageGrade, error) {
	if repository == "" {
		return nil, fmt.Errorf("%w: empty repository name", domain.ErrFetch)
	}
	endpoint := fmt.Sprintf("repositories/registry/%s/repository/%s/grades", g.registry, repository)
	query := url.Values{"include": {"tag,current_grade,next_drop_date"}}

	g.logger.Debug("Fetching image grades", "repository", repository)
	var grades []domain.ImageGrade
	if err := g.getJSON(ctx, endpoint, query, &grades); err != nil {
		return nil, fmt.Errorf("failed to fetch grades of repository %q: %w", repository, err)
	}
	if grades == nil {
		grades = []domain.ImageGrade{}
	}
	return grades, nil
}

// getJSON issues a GET request on endpoint, an escaped path relative to the base URL, and decodes the JSON
// body into out.
func (g *CatalogGateway) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	path, err := url.PathUnescape(endpoint)
	if err != nil {
		return fmt.Errorf("%w: invalid endpoint %q: %v", domain.ErrFetch, endpoint, err)
	}
	u := g.baseURL.ResolveReference(&url.URL{Path: path, RawPath: endpoint})
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: GET %s returned %s: %s", domain.ErrFetch, u.Path, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: malformed response from %s: %v", domain.ErrFetch, u.Path, err)
	}
	return nil
}
