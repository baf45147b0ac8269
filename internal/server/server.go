// Package server implements the HTTP API for pull request cycle-time metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/gsm"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/codeGROOVE-dev/prcycle/internal/cache"
	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
	"github.com/codeGROOVE-dev/prcycle/pkg/github"
)

const (
	// DefaultRateLimit is the default requests per second limit.
	DefaultRateLimit = 100
	// DefaultRateBurst is the default burst size for rate limiting.
	DefaultRateBurst = 100
	// errorKey is the logging key for error messages.
	errorKey = "error"
	// requestIDHeader carries the request ID in both directions.
	requestIDHeader = "X-Request-ID"
	// httpClientTimeout is the timeout for HTTP client requests.
	httpClientTimeout = 30 * time.Second
	// maxRequestSize bounds JSON request bodies.
	maxRequestSize = 1 << 20
	// maxIdleConns is the maximum idle HTTP connections.
	maxIdleConns = 100
	// maxIdleConnsPerHost is the maximum idle HTTP connections per host.
	maxIdleConnsPerHost = 10
	// idleConnTimeout is the timeout for idle HTTP connections.
	idleConnTimeout = 90 * time.Second
	// cachePruneInterval is how often expired cache entries are dropped.
	cachePruneInterval = 30 * time.Minute
)

// tokenPattern matches common GitHub token formats for sanitization.
var tokenPattern = regexp.MustCompile(
	`(?i)(ghp_[a-zA-Z0-9]{36}|gho_[a-zA-Z0-9]{36}|ghs_[a-zA-Z0-9]{36}|` +
		`github_pat_[a-zA-Z0-9_]{82}|Bearer\s+[a-zA-Z0-9._\-]+|token\s+[a-zA-Z0-9._\-]+)`,
)

type ctxKey int

const loggerKey ctxKey = iota

// Server handles HTTP requests for the cycle-time API.
//
//nolint:govet // fieldalignment: struct field ordering optimized for readability over memory
type Server struct {
	logger         *slog.Logger
	httpClient     *http.Client
	csrfProtection *http.CrossOriginProtection
	router         chi.Router
	// Per-IP rate limiting.
	ipLimiters      map[string]*rate.Limiter
	allowedOrigins  []string
	ipLimitersMu    sync.RWMutex
	fallbackTokenMu sync.RWMutex
	fallbackToken   string
	serverCommit    string
	dataSource      string
	rateLimit       int
	rateBurst       int
	allowAllCors    bool
	validateTokens  bool
	// Enriched pull requests shared by every request.
	cache    cycletime.Cache
	calendar cycletime.Calendar
	// githubAPI overrides the GitHub REST root used for token validation and
	// repository listing (GitHub Enterprise, tests).
	githubAPI string
	// fetcher builds the single pull request fetcher for a token.
	fetcher func(token string) cycletime.PRFetcher
	// repoSource builds the merged pull request source of one repository.
	repoSource func(owner, repo, team, token string) (cycletime.Source, error)
	// orgSearch lists merged pull requests across an organization.
	orgSearch func(ctx context.Context, org string, since time.Time, token string) ([]github.PRSummary, error)
	now       func() time.Time
	// tokenSource resolves the fallback token when none is cached.
	tokenSource func(ctx context.Context) string
}

// New creates a new Server instance.
func New() *Server {
	ctx := context.Background()
	logger := slog.Default().With("component", "prcycle-server")

	httpClient := &http.Client{
		Timeout: httpClientTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        maxIdleConns,
			MaxIdleConnsPerHost: maxIdleConnsPerHost,
			IdleConnTimeout:     idleConnTimeout,
		},
	}

	// Blocks cross-origin POST requests using Sec-Fetch-Site and Origin.
	// GET, HEAD and OPTIONS are always allowed.
	csrfProtection := http.NewCrossOriginProtection()

	logger.InfoContext(ctx, "Server initialized with CSRF protection enabled")

	server := &Server{
		logger:         logger,
		dataSource:     github.SourcePRX,
		httpClient:     httpClient,
		csrfProtection: csrfProtection,
		ipLimiters:     make(map[string]*rate.Limiter),
		rateLimit:      DefaultRateLimit,
		rateBurst:      DefaultRateBurst,
		calendar:       cycletime.DefaultCalendar(),
	}
	server.tokenSource = server.lookupToken
	server.fetcher = server.defaultFetcher
	server.repoSource = server.defaultRepoSource
	server.orgSearch = github.FetchMergedPRsFromOrg
	server.now = time.Now

	memory := cache.NewMemory()
	server.cache = memory
	go memory.PruneEvery(ctx, cachePruneInterval, logger)

	// Load the fallback token once at startup; GSM calls are billed.
	if server.token(ctx) != "" {
		logger.InfoContext(ctx, "GitHub fallback token loaded at startup")
	} else {
		logger.InfoContext(ctx, "No fallback token available - requests must provide Authorization header")
	}

	server.router = server.routes()
	return server
}

// SetCommit sets the server commit hash.
func (s *Server) SetCommit(commit string) {
	s.serverCommit = commit
}

// SetCORSConfig sets the CORS configuration.
//
//nolint:revive // flag-parameter: allowAll is a clear boolean flag for CORS configuration
func (s *Server) SetCORSConfig(origins string, allowAll bool) {
	ctx := context.Background()
	if allowAll {
		s.allowAllCors = true
		s.logger.WarnContext(ctx, "CORS configured to allow all origins - DEVELOPMENT MODE ONLY")
		return
	}

	s.allowAllCors = false
	if origins != "" {
		for origin := range strings.SplitSeq(origins, ",") {
			origin = strings.TrimSpace(origin)

			// Wildcards must look like *.domain.com or https://*.domain.com.
			if strings.Contains(origin, "*") {
				valid := strings.HasPrefix(origin, "*.") ||
					strings.HasPrefix(origin, "https://*.") ||
					strings.HasPrefix(origin, "http://*.")
				if !valid || strings.Count(origin, "*") > 1 {
					s.logger.ErrorContext(ctx, "Invalid wildcard CORS origin", "origin", origin)
					continue
				}
			}

			s.allowedOrigins = append(s.allowedOrigins, origin)
		}
		s.logger.InfoContext(ctx, "CORS origins configured", "origins", s.allowedOrigins)
	}
}

// SetRateLimit sets the rate limiting configuration.
func (s *Server) SetRateLimit(rps int, burst int) {
	s.rateLimit = rps
	s.rateBurst = burst
	s.logger.Info("Rate limit configured (per-IP)", "requests_per_sec", rps, "burst", burst)
}

// SetDataSource sets the data source for single pull request fetching.
func (s *Server) SetDataSource(source string) {
	ctx := context.Background()
	if source != github.SourceTurnserver && source != github.SourcePRX {
		s.logger.WarnContext(ctx, "Invalid data source, using default", "requested", source, "default", github.SourcePRX)
		s.dataSource = github.SourcePRX
		return
	}
	s.dataSource = source
	s.logger.InfoContext(ctx, "Data source configured", "source", source)
}

// SetCache replaces the in-memory pull request cache, e.g. with a Datastore
// backed one shared across instances.
func (s *Server) SetCache(c cycletime.Cache) {
	s.cache = c
}

// SetCalendar sets the working hours calendar used when requests ask for
// working hours only.
func (s *Server) SetCalendar(c cycletime.Calendar) {
	s.calendar = c
}

// SetGitHubBaseURL points REST calls at a GitHub Enterprise API root.
func (s *Server) SetGitHubBaseURL(base string) {
	s.githubAPI = base
}

// SetTokenValidation enables checking tokens against the GitHub API before use.
func (s *Server) SetTokenValidation(enabled bool) {
	s.validateTokens = enabled
	s.logger.Info("Token validation configured", "enabled", enabled)
}

// Shutdown gracefully shuts down the server.
func (*Server) Shutdown() {
	// Nothing to do - in-memory structures will be garbage collected.
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestID, s.security)

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.rateLimited)
		r.Get("/v1/cycletime", s.handleCycleTime)
		r.Post("/v1/cycletime", s.handleCycleTime)
		r.Get("/v1/cycletime/repo", s.handleRepoReport)
		r.Post("/v1/cycletime/repo", s.handleRepoReport)
		r.Get("/v1/cycletime/org", s.handleOrgReport)
		r.Post("/v1/cycletime/org", s.handleOrgReport)
		r.Get("/v1/frequency/merges", s.handleMergeFrequency)
		r.Post("/v1/frequency/merges", s.handleMergeFrequency)
	})
	return r
}

// requestID tags every request with an ID, echoed in the response and
// attached to the request logger.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		logger := s.logger.With("request_id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), loggerKey, logger)))
	})
}

// log returns the request scoped logger.
func (s *Server) log(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return s.logger
}

// security applies CSRF protection, security headers and CORS, and answers
// preflight requests.
func (s *Server) security(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.csrfProtection != nil {
			if err := s.csrfProtection.Check(r); err != nil {
				s.log(r.Context()).WarnContext(r.Context(), "CSRF check failed - cross-origin request denied",
					"origin", r.Header.Get("Origin"),
					"sec_fetch_site", r.Header.Get("Sec-Fetch-Site"),
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
					errorKey, err)
				http.Error(w, "Cross-origin request denied", http.StatusForbidden)
				return
			}
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cross-Origin-Resource-Policy", "cross-origin")

		origin := r.Header.Get("Origin")
		if s.allowAllCors {
			// Never use a wildcard with credentials, even in dev mode.
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		} else if origin != "" && s.isOriginAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+requestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimited enforces the per-IP limit.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := clientIP(r)
		s.log(ctx).InfoContext(ctx, "Incoming request", "client_ip", ip, "method", r.Method, "path", r.URL.Path)
		if !s.limiter(ctx, ip).Allow() {
			s.log(ctx).WarnContext(ctx, "Rate limit exceeded", "client_ip", ip, "path", r.URL.Path)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP trusts X-Forwarded-For because Cloud Run replaces client-provided
// values with the actual client address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// limiter returns a rate limiter for the given IP address.
func (s *Server) limiter(ctx context.Context, ip string) *rate.Limiter {
	s.ipLimitersMu.RLock()
	limiter, exists := s.ipLimiters[ip]
	s.ipLimitersMu.RUnlock()

	if exists {
		return limiter
	}

	s.ipLimitersMu.Lock()
	defer s.ipLimitersMu.Unlock()

	// Double-check after acquiring write lock.
	if existing, exists := s.ipLimiters[ip]; exists {
		return existing
	}

	limiter = rate.NewLimiter(rate.Limit(s.rateLimit), s.rateBurst)
	s.ipLimiters[ip] = limiter

	// Drop half of the limiters when the map grows too large.
	const maxLimiters = 10000
	if len(s.ipLimiters) > maxLimiters {
		count := 0
		target := len(s.ipLimiters) / 2
		for key := range s.ipLimiters {
			if key == ip {
				continue
			}
			delete(s.ipLimiters, key)
			count++
			if count >= target {
				break
			}
		}
		s.logger.InfoContext(ctx, "Cleaned up old IP rate limiters", "removed", count, "remaining", len(s.ipLimiters))
	}

	return limiter
}

// sanitizeError removes tokens from error messages before logging.
func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return tokenPattern.ReplaceAllString(err.Error(), "[REDACTED_TOKEN]")
}

// extractToken extracts the GitHub token from the Authorization header.
func (*Server) extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	if token, ok := strings.CutPrefix(auth, "token "); ok {
		return token
	}
	return auth
}

// requestToken returns the caller's token, the fallback token, or writes a
// 401 and returns "" when neither is usable.
func (s *Server) requestToken(w http.ResponseWriter, r *http.Request) string {
	ctx := r.Context()
	token := s.extractToken(r)
	if token == "" {
		token = s.token(ctx)
		if token == "" {
			s.log(ctx).WarnContext(ctx, "No GitHub token available", "remote_addr", r.RemoteAddr)
			http.Error(w, "GitHub token required (set GITHUB_TOKEN env var or provide Authorization header)", http.StatusUnauthorized)
			return ""
		}
	}
	if s.validateTokens {
		if err := s.validateGitHubToken(ctx, token); err != nil {
			s.log(ctx).WarnContext(ctx, "Token validation failed", "remote_addr", r.RemoteAddr, errorKey, sanitizeError(err))
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return ""
		}
	}
	return token
}

// token returns the cached fallback token, resolving it on first use.
func (s *Server) token(ctx context.Context) string {
	s.fallbackTokenMu.RLock()
	if s.fallbackToken != "" {
		token := s.fallbackToken
		s.fallbackTokenMu.RUnlock()
		return token
	}
	s.fallbackTokenMu.RUnlock()

	s.fallbackTokenMu.Lock()
	defer s.fallbackTokenMu.Unlock()

	if s.fallbackToken != "" {
		return s.fallbackToken
	}
	s.fallbackToken = s.tokenSource(ctx)
	return s.fallbackToken
}

// lookupToken tries GITHUB_TOKEN, then gh auth token, then GITHUB_TOKEN in
// Google Secret Manager.
func (s *Server) lookupToken(ctx context.Context) string {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		s.logger.InfoContext(ctx, "Using GITHUB_TOKEN from environment variable")
		return token
	}

	if ghPath, err := exec.LookPath("gh"); err == nil {
		s.logger.InfoContext(ctx, "Found gh CLI in PATH", "path", ghPath)
		output, err := exec.CommandContext(ctx, "gh", "auth", "token").Output()
		if err == nil {
			if token := strings.TrimSpace(string(output)); token != "" {
				s.logger.InfoContext(ctx, "Using GITHUB_TOKEN from gh auth token")
				return token
			}
		} else {
			s.logger.WarnContext(ctx, "Failed to get token from gh auth token", errorKey, err)
		}
	}

	token, err := gsm.Fetch(ctx, "GITHUB_TOKEN")
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to fetch GITHUB_TOKEN from GSM", errorKey, err)
		return ""
	}
	if token != "" {
		s.logger.InfoContext(ctx, "Using GITHUB_TOKEN from Google Secret Manager")
		return token
	}

	s.logger.WarnContext(ctx, "No fallback GitHub token found (tried GITHUB_TOKEN env, gh auth token, and GITHUB_TOKEN GSM)")
	return ""
}

// isOriginAllowed checks if an origin is in the allowed list.
// Supports exact matches and wildcard subdomain patterns (*.example.com or https://*.example.com).
func (s *Server) isOriginAllowed(origin string) bool {
	protocol, rest, ok := strings.Cut(origin, "://")
	if !ok || (protocol != "http" && protocol != "https") {
		return false
	}
	host, _, _ := strings.Cut(rest, "/")
	host, _, _ = strings.Cut(host, ":")

	for _, allowed := range s.allowedOrigins {
		if allowed == origin {
			return true
		}
		if !strings.Contains(allowed, "*") {
			continue
		}

		var wildcardDomain string
		switch {
		case strings.HasPrefix(allowed, "http://"), strings.HasPrefix(allowed, "https://"):
			requiredProtocol, wildcardPart, _ := strings.Cut(allowed, "://")
			domain, ok := strings.CutPrefix(wildcardPart, "*.")
			if !ok || protocol != requiredProtocol {
				continue
			}
			wildcardDomain = domain
		case strings.HasPrefix(allowed, "*."):
			wildcardDomain = allowed[2:]
		default:
			continue
		}

		// Matches example.com and any subdomain, never fakeexample.com.
		if host == wildcardDomain || strings.HasSuffix(host, "."+wildcardDomain) {
			return true
		}
	}
	return false
}

// validateGitHubToken validates a GitHub token by making a test API call.
func (s *Server) validateGitHubToken(ctx context.Context, token string) error {
	endpoint := "https://api.github.com/user"
	if s.githubAPI != "" {
		endpoint = strings.TrimSuffix(s.githubAPI, "/") + "/user"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.log(ctx).ErrorContext(ctx, "Error closing response body", errorKey, err)
		}
	}()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		s.log(ctx).ErrorContext(ctx, "Error discarding response body", errorKey, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("invalid token (status %d)", resp.StatusCode)
	}
	return nil
}

// handleHealth provides a simple health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "commit": s.serverCommit}); err != nil {
		s.log(ctx).ErrorContext(ctx, "Error encoding response", errorKey, err)
	}
}

// writeJSON encodes v as the response body.
func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already sent; only logging is left.
		s.log(ctx).ErrorContext(ctx, "Error encoding response", errorKey, err)
	}
}
