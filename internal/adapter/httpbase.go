package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// httpBase is the shared transport used by the web, wiki, and git-host
// variants: an HTTP client honoring the source's per-call timeout, a
// client-side rate limiter (behavioral differences between variants stay
// internal to the variant, not the contract), and credential injection
// resolved once at Initialize from the named environment variables in
// the source's AuthDescriptor — never a literal secret in config.
type httpBase struct {
	name       string
	baseURL    string
	client     *http.Client
	limiter    *rate.Limiter
	creds      CredentialSource
	authHeader string
	authValue  string
	logger     *slog.Logger
}

func newHTTPBase(cfg domain.SourceConfig, creds CredentialSource, logger *slog.Logger) *httpBase {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpBase{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		// Default: at most 5 requests/second, bursting to 5 — conservative
		// enough not to trip a typical upstream source's own rate limiting.
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		creds:   creds,
		logger:  logger,
	}
}

// resolveAuth resolves the credential named by the descriptor and builds
// the single header this variant sends on every request. Called once
// from Initialize. The configured CredentialSource is consulted first
// (it layers the in-cluster Secret fallback over the environment); a
// bare environment read is the last resort when no source is wired.
func (h *httpBase) resolveAuth(auth *domain.AuthDescriptor) {
	if auth == nil || len(auth.EnvVarNames) == 0 {
		return
	}
	primary := auth.EnvVarNames[0]
	var value string
	if h.creds != nil {
		resolved, err := h.creds.Resolve(auth)
		if err != nil {
			h.logger.Warn("credential resolution incomplete", "error", err)
		}
		value = resolved[primary]
	}
	if value == "" {
		value = os.Getenv(primary)
	}
	switch auth.Kind {
	case domain.CredentialBearer, domain.CredentialPersonalToken, domain.CredentialAppToken:
		h.authHeader, h.authValue = "Authorization", "Bearer "+value
	case domain.CredentialAPIKey:
		h.authHeader, h.authValue = "X-API-Key", value
	case domain.CredentialBasic:
		h.authHeader, h.authValue = "Authorization", "Basic "+value
	case domain.CredentialCookie:
		h.authHeader, h.authValue = "Cookie", value
	case domain.CredentialOAuth2:
		h.authHeader, h.authValue = "Authorization", "Bearer "+value
	}
}

// doGet issues a single GET request (no retries: that is the registry's
// job) honoring the rate limiter, and decodes a JSON body into out on a
// 2xx response. Non-2xx responses are classified into the engine's error
// taxonomy.
func (h *httpBase) doGet(ctx context.Context, path string, query url.Values, out any) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return domain.WrapError(domain.ErrKindSourceUnavailable, h.name, "rate limiter wait cancelled", err)
	}

	u := h.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.WrapError(domain.ErrKindSourceError, h.name, "failed to build request", err)
	}
	if h.authHeader != "" {
		req.Header.Set(h.authHeader, h.authValue)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrKindSourceUnavailable, h.name, "request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if err := classifyHTTPStatus(h.name, resp.StatusCode, string(body)); err != nil {
			return err
		}
		return domain.WrapError(domain.ErrKindSourceError, h.name, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.WrapError(domain.ErrKindSourceError, h.name, "malformed response body", err)
	}
	return nil
}

func (h *httpBase) healthCheck(ctx context.Context) (HealthResult, error) {
	start := time.Now()
	err := h.doGet(ctx, "/health", nil, nil)
	latency := time.Since(start)
	if err != nil {
		return HealthResult{Healthy: false, Latency: latency, Error: err.Error()}, nil
	}
	return HealthResult{Healthy: true, Latency: latency}, nil
}
