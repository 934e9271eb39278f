package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// ErrNotFound is returned when no provider knows a secret.
var ErrNotFound = errors.New("secret not found")

// referencePattern matches ${secret:name}.
var referencePattern = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Config selects the providers built by New.
type Config struct {
	// EnvPrefix is the environment provider's prefix.
	EnvPrefix string

	// Dir enables the file provider when non-empty.
	Dir string

	// Watch clears the file provider's cache when a file in Dir changes.
	Watch bool

	// CacheTTL is how long resolved values are reused. Zero disables
	// caching in the manager.
	CacheTTL time.Duration
}

// Manager resolves secrets through an ordered list of providers. The first
// provider that supports a name and returns a value wins.
type Manager struct {
	providers []Provider
	cache     *cache
	logger    *slog.Logger
}

// New builds a manager with the environment provider first and, when
// cfg.Dir is set, the file provider second.
func New(cfg Config, logger *slog.Logger) (*Manager, error) {
	providers := []Provider{NewEnvProvider(cfg.EnvPrefix)}
	if cfg.Dir != "" {
		fp, err := NewFileProvider(cfg.Dir, cfg.Watch, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, fp)
	}
	return NewManager(providers, cfg.CacheTTL, logger), nil
}

// NewManager creates a manager over providers.
func NewManager(providers []Provider, cacheTTL time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		providers: providers,
		cache:     newCache(cacheTTL),
		logger:    logger.With("component", "secrets"),
	}
}

// GetSecret resolves one secret.
func (m *Manager) GetSecret(ctx context.Context, name string) (string, error) {
	if value, ok := m.cache.get(name); ok {
		return value, nil
	}

	var lastErr error
	for _, p := range m.providers {
		if !p.Supports(name) {
			continue
		}
		value, err := p.GetSecret(ctx, name)
		if err != nil {
			lastErr = err
			m.logger.Debug("provider could not resolve secret",
				"provider", p.Name(),
				"secret", redactName(name),
				"error", err,
			)
			continue
		}

		m.cache.set(name, value)
		m.logger.Debug("secret resolved", "provider", p.Name(), "secret", redactName(name))
		return value, nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("failed to get secret %q: %w", name, lastErr)
	}
	return "", fmt.Errorf("%w: %q (no provider supports it)", ErrNotFound, name)
}

// ResolveReferences replaces every ${secret:name} in input. Unresolvable
// references are left in place and reported together in the error.
func (m *Manager) ResolveReferences(ctx context.Context, input string) (string, error) {
	var failures []string

	output := referencePattern.ReplaceAllStringFunc(input, func(ref string) string {
		name := strings.TrimSpace(referencePattern.FindStringSubmatch(ref)[1])
		value, err := m.GetSecret(ctx, name)
		if err != nil {
			failures = append(failures, err.Error())
			return ref
		}
		return value
	})

	if len(failures) > 0 {
		return output, fmt.Errorf("failed to resolve secret references: %s", strings.Join(failures, "; "))
	}
	return output, nil
}

// ResolveFields resolves references in each field in place. Fields without
// a reference are untouched.
func (m *Manager) ResolveFields(ctx context.Context, fields map[string]*string) error {
	var errs []error
	for key, field := range fields {
		if field == nil || !HasReference(*field) {
			continue
		}
		resolved, err := m.ResolveReferences(ctx, *field)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*field = resolved
	}
	return errors.Join(errs...)
}

// Refresh clears the manager cache and refreshes every provider that
// supports it.
func (m *Manager) Refresh(ctx context.Context) error {
	var errs []error
	for _, p := range m.providers {
		if rp, ok := p.(RefreshableProvider); ok {
			if err := rp.Refresh(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			}
		}
	}
	m.cache.clear()
	return errors.Join(errs...)
}

// Close releases provider resources.
func (m *Manager) Close() error {
	var errs []error
	for _, p := range m.providers {
		if c, ok := p.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// HasReference reports whether s contains a ${secret:...} reference.
func HasReference(s string) bool {
	return referencePattern.MatchString(s)
}

func redactName(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}
