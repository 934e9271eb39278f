package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// DefaultEnvPrefix is prepended to secret names by the environment provider.
const DefaultEnvPrefix = "TOLLGATE_SECRET_"

// EnvProvider reads secrets from environment variables. The secret
// "jwt-signing-key" is read from TOLLGATE_SECRET_JWT_SIGNING_KEY.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment provider. An empty prefix selects
// DefaultEnvPrefix.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvProvider{prefix: prefix}
}

// GetSecret returns the variable's value. An empty variable counts as unset.
func (p *EnvProvider) GetSecret(ctx context.Context, name string) (string, error) {
	envVar := p.envVar(name)
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("%w: %s (env var %s)", ErrNotFound, name, envVar)
	}
	return value, nil
}

func (p *EnvProvider) Name() string { return "env" }

// Supports is true for every name.
func (p *EnvProvider) Supports(name string) bool { return true }

func (p *EnvProvider) envVar(name string) string {
	return p.prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}
