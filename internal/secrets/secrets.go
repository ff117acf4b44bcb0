// Package secrets resolves credentials (storage connection string, API keys) once at
// process start.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotFound is returned when a provider has no value for a name.
var ErrNotFound = errors.New("secret not found")

// Provider looks up a secret by name.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
}

// Bundle holds resolved secrets in memory for the lifetime of the process.
type Bundle map[string]string

// Value returns the secret or "" when it was never resolved.
func (b Bundle) Value(name string) string {
	return b[name]
}

// Resolve fetches every named secret. The first failure aborts resolution.
func Resolve(ctx context.Context, p Provider, names ...string) (Bundle, error) {
	out := make(Bundle, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, done := out[name]; done {
			continue
		}
		value, err := p.Get(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("resolve secret %q: %w", name, err)
		}
		out[name] = value
	}
	return out, nil
}

// EnvProvider reads secrets from environment variables, falling back to a static map.
// The name "alpha-vantage-api-key" is read from ALPHA_VANTAGE_API_KEY.
type EnvProvider struct {
	static map[string]string
	lookup func(string) (string, bool)
}

// NewEnvProvider builds an EnvProvider over the process environment.
func NewEnvProvider(static map[string]string) *EnvProvider {
	return &EnvProvider{static: static, lookup: os.LookupEnv}
}

// Get implements Provider.
func (p *EnvProvider) Get(_ context.Context, name string) (string, error) {
	if v, ok := p.lookup(EnvName(name)); ok && v != "" {
		return v, nil
	}
	if v, ok := p.static[name]; ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%s (env %s): %w", name, EnvName(name), ErrNotFound)
}

// EnvName converts a secret name into its environment variable form.
func EnvName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}
