package secrets

import "context"

// Provider retrieves secret values by name.
type Provider interface {
	// GetSecret returns the value of name or an error if it is unknown.
	GetSecret(ctx context.Context, name string) (string, error)

	// Name identifies the provider in logs ("env", "file").
	Name() string

	// Supports reports whether the provider could serve name.
	Supports(name string) bool
}

// RefreshableProvider can drop cached values so rotated secrets are picked
// up without a restart.
type RefreshableProvider interface {
	Provider
	Refresh(ctx context.Context) error
}
