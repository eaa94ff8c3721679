package adapter

import (
	"log/slog"
	"testing"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// mapCredentials is a CredentialSource backed by a fixed map, standing
// in for the config layer's env+Secret resolver.
type mapCredentials map[string]string

func (m mapCredentials) Resolve(auth *domain.AuthDescriptor) (map[string]string, error) {
	out := make(map[string]string, len(auth.EnvVarNames))
	for _, name := range auth.EnvVarNames {
		if v, ok := m[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

func httpBaseWith(creds CredentialSource) *httpBase {
	cfg := domain.SourceConfig{Name: "src", BaseURL: "https://docs.example.com"}
	return newHTTPBase(cfg, creds, slog.Default())
}

func TestResolveAuthPrefersCredentialSource(t *testing.T) {
	t.Setenv("SRC_TOKEN", "from-env")

	h := httpBaseWith(mapCredentials{"SRC_TOKEN": "from-secret"})
	h.resolveAuth(&domain.AuthDescriptor{Kind: domain.CredentialBearer, EnvVarNames: []string{"SRC_TOKEN"}})

	if h.authHeader != "Authorization" {
		t.Fatalf("authHeader = %q, want Authorization", h.authHeader)
	}
	if h.authValue != "Bearer from-secret" {
		t.Fatalf("authValue = %q, want the credential-source value", h.authValue)
	}
}

func TestResolveAuthFallsBackToEnv(t *testing.T) {
	t.Setenv("SRC_TOKEN", "from-env")

	// Resolver knows nothing about this variable.
	h := httpBaseWith(mapCredentials{})
	h.resolveAuth(&domain.AuthDescriptor{Kind: domain.CredentialAPIKey, EnvVarNames: []string{"SRC_TOKEN"}})
	if h.authHeader != "X-API-Key" || h.authValue != "from-env" {
		t.Fatalf("got %q/%q, want X-API-Key/from-env", h.authHeader, h.authValue)
	}

	// No resolver wired at all.
	h = httpBaseWith(nil)
	h.resolveAuth(&domain.AuthDescriptor{Kind: domain.CredentialBearer, EnvVarNames: []string{"SRC_TOKEN"}})
	if h.authValue != "Bearer from-env" {
		t.Fatalf("authValue = %q, want Bearer from-env", h.authValue)
	}
}

func TestResolveAuthNilDescriptorIsNoop(t *testing.T) {
	h := httpBaseWith(nil)
	h.resolveAuth(nil)
	if h.authHeader != "" || h.authValue != "" {
		t.Fatalf("expected no auth header, got %q/%q", h.authHeader, h.authValue)
	}
}
