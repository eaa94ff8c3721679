package adapter

import (
	"fmt"
	"log/slog"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// CredentialSource resolves an auth descriptor to its credential
// values, keyed by the environment variable names the descriptor
// declares. The config layer's resolver (env vars plus the in-cluster
// Secret fallback) satisfies this.
type CredentialSource interface {
	Resolve(auth *domain.AuthDescriptor) (map[string]string, error)
}

// Dependencies carries the shared, process-lifetime collaborators every
// adapter variant may need. Not every variant uses every field.
type Dependencies struct {
	Logger      *slog.Logger
	Credentials CredentialSource
}

// Constructor builds one Adapter instance from a SourceConfig. Registered
// per domain.SourceType in the package-level factory below.
type Constructor func(cfg domain.SourceConfig, deps Dependencies) (Adapter, error)

var constructors = map[domain.SourceType]Constructor{
	domain.SourceTypeFile:     newFileAdapter,
	domain.SourceTypeWeb:      newWebAdapter,
	domain.SourceTypeWiki:     newWikiAdapter,
	domain.SourceTypeGitHost:  newGitHostAdapter,
	domain.SourceTypeDatabase: newDatabaseAdapter,
}

// New builds an Adapter for cfg.Type, or an error if the type is unknown.
func New(cfg domain.SourceConfig, deps Dependencies) (Adapter, error) {
	if !cfg.Type.Valid() {
		return nil, domain.NewError(domain.ErrKindValidation, fmt.Sprintf("unknown source type %q", cfg.Type))
	}
	ctor, ok := constructors[cfg.Type]
	if !ok {
		return nil, domain.NewError(domain.ErrKindValidation, fmt.Sprintf("no adapter variant registered for source type %q", cfg.Type))
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return ctor(cfg, deps)
}
