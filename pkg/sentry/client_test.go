package sentry

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

func newTestServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var fail atomic.Int32
	fail.Store(failures)

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("GET /organizations/acme/releases/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if fail.Load() > 0 {
			fail.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.URL.Query().Get("cursor") == "" {
			w.Header().Set("Link", fmt.Sprintf(
				`<%s/organizations/acme/releases/?cursor=0:0:1>; rel="previous"; results="false"; cursor="0:0:1", `+
					`<%s/organizations/acme/releases/?cursor=0:2:0>; rel="next"; results="true"; cursor="0:2:0"`, srv.URL, srv.URL))
			fmt.Fprint(w, `[
				{"version":"web-abc123","dateCreated":"2024-03-06T10:00:00Z"},
				{"version":"web-abc123","dateCreated":"2024-03-06T10:00:00Z"},
				{"version":"web-staging","dateCreated":"2024-03-05T10:00:00Z"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(
			`<%s/organizations/acme/releases/?cursor=0:4:0>; rel="next"; results="false"; cursor="0:4:0"`, srv.URL))
		fmt.Fprint(w, `[
			{"version":"web-def456","dateCreated":"2024-03-04T10:00:00Z"},
			{"version":"web-old","dateCreated":"2024-02-01T10:00:00Z"}]`)
	})
	mux.HandleFunc("GET /organizations/acme/releases/{version}/deploys/", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("version") {
		case "web-abc123":
			fmt.Fprint(w, `[
				{"environment":"production","dateFinished":"2024-03-06T12:00:00Z"},
				{"environment":"production","dateFinished":"2024-03-07T09:00:00Z"},
				{"environment":"staging","dateFinished":"2024-03-08T09:00:00Z"}]`)
		case "web-staging":
			fmt.Fprint(w, `[{"environment":"staging","dateFinished":"2024-03-05T12:00:00Z"}]`)
		case "web-def456":
			fmt.Fprint(w, `[{"environment":"production","dateFinished":"2024-03-04T15:00:00Z"},
				{"environment":"production","dateFinished":null}]`)
		default:
			t.Errorf("unexpected deploys request for %s", r.PathValue("version"))
			w.WriteHeader(http.StatusNotFound)
		}
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &fail
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Organization:      "acme",
		Environment:       "production",
		Token:             "tok",
		BaseURL:           srv.URL,
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)
	return c
}

var windowStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestProductionDeployments(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	c := newTestClient(t, srv)

	got, err := c.ProductionDeployments(t.Context(), windowStart)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "web-def456", got[0].Version)
	assert.Equal(t, "def456", got[0].Commit)
	assert.True(t, got[0].DeployedAt.Equal(time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)))

	assert.Equal(t, "web-abc123", got[1].Version)
	assert.True(t, got[1].DeployedAt.Equal(time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC)),
		"the latest production deploy dates the release")
}

func TestDeploymentsRetriesServerErrors(t *testing.T) {
	srv, fail := newTestServer(t, 2)
	c := newTestClient(t, srv)

	got, err := c.Deployments(t.Context(), windowStart)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Zero(t, fail.Load())
}

func TestDeploymentsAccessDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.Deployments(t.Context(), windowStart)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cycletime.ErrAccessDenied))
}

func TestNewClientRequiresConfiguration(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no organization", Config{Environment: "production", Token: "tok"}},
		{"no environment", Config{Organization: "acme", Token: "tok"}},
		{"no token", Config{Organization: "acme", Environment: "production"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			assert.ErrorIs(t, err, ErrNotConfigured)
		})
	}
}

func TestNextLink(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"empty", "", ""},
		{
			"next with results",
			`<https://sentry.io/a?cursor=1>; rel="previous"; results="false", <https://sentry.io/a?cursor=2>; rel="next"; results="true"; cursor="2"`,
			"https://sentry.io/a?cursor=2",
		},
		{"next without results", `<https://sentry.io/a?cursor=2>; rel="next"; results="false"`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextLink(tt.header))
		})
	}
}
