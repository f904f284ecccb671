package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/naka-gawa/grade-report/internal/domain"
	"github.com/naka-gawa/grade-report/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestGateway creates a CatalogGateway that communicates with a mock HTTP server.
func setupTestGateway(t *testing.T, handler http.Handler) (*CatalogGateway, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)

	baseURL, err := parseBaseURL(server.URL + "/api/containers/v1")
	require.NoError(t, err)

	gateway := &CatalogGateway{
		httpClient: server.Client(),
		baseURL:    baseURL,
		registry:   DefaultRegistry,
		pageSize:   pageSize,
		maxPages:   maxPages,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return gateway, server
}

func TestCatalogGateway_FetchListingRepositories(t *testing.T) {
	testCases := []struct {
		name        string
		pageSize    int
		maxPages    int
		handlerFunc func(w http.ResponseWriter, r *http.Request)
		expected    []domain.RepositoryStreamInfo
		expectedErr error
	}{
		{
			name:     "happy path - single page",
			pageSize: pageSize,
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/containers/v1/product-listings/id/listing-1/repositories", r.URL.Path)
				assert.Equal(t, "data.repository,data.content_stream_tags", r.URL.Query().Get("include"))
				assert.Equal(t, "100", r.URL.Query().Get("page_size"))
				assert.Equal(t, "0", r.URL.Query().Get("page"))
				assert.Equal(t, "application/json", r.Header.Get("Accept"))
				fmt.Fprint(w, `{"data":[{"repository":"ubi8","content_stream_tags":["8.9","8.10"]},{"repository":"ubi9/ubi","content_stream_tags":["9.4"]}],"page":0,"page_size":100,"total":2}`)
			},
			expected: []domain.RepositoryStreamInfo{
				{Repository: "ubi8", ContentStreamTags: []string{"8.9", "8.10"}},
				{Repository: "ubi9/ubi", ContentStreamTags: []string{"9.4"}},
			},
		},
		{
			name:     "happy path - follows pages until a short page",
			pageSize: 2,
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Query().Get("page") {
				case "0":
					fmt.Fprint(w, `{"data":[{"repository":"a","content_stream_tags":["1"]},{"repository":"b","content_stream_tags":["2"]}]}`)
				case "1":
					fmt.Fprint(w, `{"data":[{"repository":"c","content_stream_tags":["3"]}]}`)
				default:
					t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
				}
			},
			expected: []domain.RepositoryStreamInfo{
				{Repository: "a", ContentStreamTags: []string{"1"}},
				{Repository: "b", ContentStreamTags: []string{"2"}},
				{Repository: "c", ContentStreamTags: []string{"3"}},
			},
		},
		{
			name:     "happy path - stops when total is reached",
			pageSize: 2,
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "0", r.URL.Query().Get("page"))
				fmt.Fprint(w, `{"data":[{"repository":"a","content_stream_tags":["1"]},{"repository":"b","content_stream_tags":["2"]}],"total":2}`)
			},
			expected: []domain.RepositoryStreamInfo{
				{Repository: "a", ContentStreamTags: []string{"1"}},
				{Repository: "b", ContentStreamTags: []string{"2"}},
			},
		},
		{
			name:     "happy path - stops when the server ignores the page parameter",
			pageSize: 2,
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("page") != "0" && r.URL.Query().Get("page") != "1" {
					t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
				}
				fmt.Fprint(w, `{"data":[{"repository":"a","content_stream_tags":["1"]},{"repository":"b","content_stream_tags":["2"]}]}`)
			},
			expected: []domain.RepositoryStreamInfo{
				{Repository: "a", ContentStreamTags: []string{"1"}},
				{Repository: "b", ContentStreamTags: []string{"2"}},
			},
		},
		{
			name:     "error case - too many pages",
			pageSize: 1,
			maxPages: 3,
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"data":[{"repository":"repo-%s","content_stream_tags":["1"]}]}`, r.URL.Query().Get("page"))
			},
			expectedErr: domain.ErrFetch,
		},
		{
			name:     "error case - missing data is an empty result",
			pageSize: pageSize,
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"page":0}`)
			},
			expectedErr: domain.ErrEmptyResult,
		},
		{
			name:     "error case - catalog returns an error",
			pageSize: pageSize,
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"detail":"not found"}`)
			},
			expectedErr: domain.ErrFetch,
		},
		{
			name:     "error case - malformed body",
			pageSize: pageSize,
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"data":[`)
			},
			expectedErr: domain.ErrFetch,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gateway, server := setupTestGateway(t, http.HandlerFunc(tc.handlerFunc))
			defer server.Close()
			gateway.pageSize = tc.pageSize
			if tc.maxPages > 0 {
				gateway.maxPages = tc.maxPages
			}

			result, err := gateway.FetchListingRepositories(context.Background(), "listing-1")
			if tc.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectedErr)
				assert.Contains(t, err.Error(), "listing-1")
				assert.Nil(t, result)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestCatalogGateway_FetchListingRepositories_EscapesID(t *testing.T) {
	var calls int
	gateway, server := setupTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/containers/v1/product-listings/id/a%20b%2Fc/repositories", r.URL.EscapedPath())
		fmt.Fprint(w, `{"data":[{"repository":"ubi8","content_stream_tags":["8.9"]}],"total":1}`)
	}))
	defer server.Close()

	result, err := gateway.FetchListingRepositories(context.Background(), "a b/c")
	require.NoError(t, err)
	assert.Len(t, result, 1)
	assert.Equal(t, 1, calls)
}

func TestCatalogGateway_FetchListingRepositories_EmptyID(t *testing.T) {
	gateway, server := setupTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	_, err := gateway.FetchListingRepositories(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrFetch)
}

func TestCatalogGateway_FetchRepositoryGrades(t *testing.T) {
	testCases := []struct {
		name        string
		repository  string
		handlerFunc func(w http.ResponseWriter, r *http.Request)
		expected    []domain.ImageGrade
		expectedErr error
	}{
		{
			name:       "happy path - next drop date is optional",
			repository: "ubi8",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/containers/v1/repositories/registry/registry.access.redhat.com/repository/ubi8/grades", r.URL.Path)
				assert.Equal(t, "tag,current_grade,next_drop_date", r.URL.Query().Get("include"))
				fmt.Fprint(w, `[{"tag":"8.9","current_grade":"A","next_drop_date":"2024-01-01T00:00:00+00:00"},{"tag":"8.10","current_grade":"B"},{"tag":"7.9","current_grade":"F","next_drop_date":null}]`)
			},
			expected: []domain.ImageGrade{
				{Tag: "8.9", CurrentGrade: "A", NextDropDate: "2024-01-01T00:00:00+00:00"},
				{Tag: "8.10", CurrentGrade: "B"},
				{Tag: "7.9", CurrentGrade: "F"},
			},
		},
		{
			name:       "happy path - namespaced repository",
			repository: "ubi9/ubi-minimal",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/containers/v1/repositories/registry/registry.access.redhat.com/repository/ubi9/ubi-minimal/grades", r.URL.Path)
				fmt.Fprint(w, `[{"tag":"9.4","current_grade":"C"}]`)
			},
			expected: []domain.ImageGrade{{Tag: "9.4", CurrentGrade: "C"}},
		},
		{
			name:       "happy path - empty list is returned as is",
			repository: "ubi8",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `[]`)
			},
			expected: []domain.ImageGrade{},
		},
		{
			name:       "error case - server error",
			repository: "ubi8",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"message": "Internal Server Error"}`)
			},
			expectedErr: domain.ErrFetch,
		},
		{
			name:       "error case - envelope instead of list",
			repository: "ubi8",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"data":[]}`)
			},
			expectedErr: domain.ErrFetch,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gateway, server := setupTestGateway(t, http.HandlerFunc(tc.handlerFunc))
			defer server.Close()

			result, err := gateway.FetchRepositoryGrades(context.Background(), tc.repository)
			if tc.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectedErr)
				assert.Contains(t, err.Error(), tc.repository)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestNewCatalogGateway(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `[{"tag":"1","current_grade":"A"}]`)
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fetcher, err := NewCatalogGateway(Config{BaseURL: server.URL, Token: "s3cr3t"}, logger, metrics.New())
	require.NoError(t, err)

	grades, err := fetcher.FetchRepositoryGrades(context.Background(), "ubi8")
	require.NoError(t, err)
	assert.Len(t, grades, 1)
	assert.Equal(t, "Bearer s3cr3t", gotAuth)

	fetcher, err = NewCatalogGateway(Config{BaseURL: server.URL}, logger, nil)
	require.NoError(t, err)
	_, err = fetcher.FetchRepositoryGrades(context.Background(), "ubi8")
	require.NoError(t, err)
	assert.Empty(t, gotAuth, "no token should mean no Authorization header")

	_, err = NewCatalogGateway(Config{BaseURL: "not a url"}, logger, nil)
	assert.Error(t, err)
}

func TestParseBaseURL(t *testing.T) {
	u, err := parseBaseURL("https://catalog.example.com/api/containers/v1")
	require.NoError(t, err)
	assert.Equal(t, "https://catalog.example.com/api/containers/v1/", u.String())

	u, err = parseBaseURL("https://catalog.example.com/api/")
	require.NoError(t, err)
	assert.Equal(t, "https://catalog.example.com/api/", u.String())
}
