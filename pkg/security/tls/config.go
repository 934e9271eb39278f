package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"
)

// Config describes the gateway's server certificate.
type Config struct {
	CertFile string
	KeyFile  string

	// MinVersion is "1.2" or "1.3". Empty means "1.3".
	MinVersion string

	// ReloadInterval is how often the files are checked for renewal.
	ReloadInterval time.Duration
}

// ParseMinVersion maps a configured version string to its tls constant.
func ParseMinVersion(v string) (uint16, error) {
	switch v {
	case "", "1.3":
		return tls.VersionTLS13, nil
	case "1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q: must be \"1.2\" or \"1.3\"", v)
	}
}

// NewServerConfig builds a server tls.Config that takes its certificate
// from reloader.
func NewServerConfig(cfg Config, reloader *CertificateReloader) (*tls.Config, error) {
	minVersion, err := ParseMinVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}
	// #nosec G402 - MinVersion is 1.2 or 1.3
	return &tls.Config{
		MinVersion:     minVersion,
		GetCertificate: reloader.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
	}, nil
}

// Setup loads the certificate, starts the reloader for the lifetime of ctx
// and returns the server configuration.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (*tls.Config, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("cert_file and key_file are required")
	}
	reloader := NewCertificateReloader(cfg.CertFile, cfg.KeyFile, cfg.ReloadInterval, logger)
	tlsConfig, err := NewServerConfig(cfg, reloader)
	if err != nil {
		return nil, err
	}
	if err := reloader.Start(ctx); err != nil {
		return nil, err
	}
	return tlsConfig, nil
}
