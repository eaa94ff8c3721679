package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// secretName is the in-cluster Secret consulted when a credential's
// named environment variable is unset. Each Secret key matches the
// environment variable name it substitutes for.
const secretName = "runbook-engine-credentials"

// CredentialResolver resolves auth descriptors to credential values:
// environment variables first, then (when running in a cluster) the
// fallback Secret. Values never pass through configuration files; the
// registry hands this resolver to each adapter, which calls Resolve at
// Initialize time to build its auth header.
type CredentialResolver struct {
	logger    *slog.Logger
	clientset kubernetes.Interface
	namespace string

	secretKeys map[string]string
}

// NewCredentialResolver builds a resolver. In-cluster Secret fallback
// activates only when kubernetes service-account credentials are
// mounted; outside a cluster the resolver is env-only.
func NewCredentialResolver(ctx context.Context, namespace string, logger *slog.Logger) *CredentialResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = "default"
	}
	r := &CredentialResolver{logger: logger.With("component", "credential_resolver"), namespace: namespace}

	restCfg, err := rest.InClusterConfig()
	if err != nil {
		logger.Debug("not running in-cluster; credential resolution is env-only")
		return r
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		logger.Warn("failed to build kubernetes client; credential resolution is env-only", "error", err)
		return r
	}
	r.clientset = clientset
	r.loadSecret(ctx)
	return r
}

func (r *CredentialResolver) loadSecret(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	secret, err := r.clientset.CoreV1().Secrets(r.namespace).Get(ctx, secretName, metav1.GetOptions{})
	if err != nil {
		r.logger.Debug("credential fallback secret not available", "secret", secretName, "error", err)
		return
	}
	r.secretKeys = make(map[string]string, len(secret.Data))
	for key, value := range secret.Data {
		r.secretKeys[key] = string(value)
	}
	r.logger.Info("loaded credential fallback secret", "secret", secretName, "keys", len(r.secretKeys))
}

// Resolve returns the credential values for an auth descriptor, keyed by
// the environment variable names it declares.
func (r *CredentialResolver) Resolve(auth *domain.AuthDescriptor) (map[string]string, error) {
	if auth == nil {
		return nil, nil
	}
	out := make(map[string]string, len(auth.EnvVarNames))
	var missing []string
	for _, name := range auth.EnvVarNames {
		if v := os.Getenv(name); v != "" {
			out[name] = v
			continue
		}
		if v, ok := r.secretKeys[name]; ok && v != "" {
			out[name] = v
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) > 0 {
		return out, domain.NewError(domain.ErrKindValidation,
			fmt.Sprintf("credential environment variables unset: %v", missing))
	}
	return out, nil
}

// Check verifies a descriptor resolves completely without returning the
// values.
func (r *CredentialResolver) Check(auth *domain.AuthDescriptor) error {
	_, err := r.Resolve(auth)
	return err
}
