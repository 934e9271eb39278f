package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration the way tollgate run would (file, then TOLLGATE_*
environment variables), validate it, and print the effective quota policy.

Limits below 1 are not rejected; they are clamped, and the clamped value is
what gets printed.

Examples:
  tollgate validate --config tollgate.yaml`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// effectivePolicy is what tollgate validate reports.
type effectivePolicy struct {
	Window           string `json:"window"`
	GuestMaxRequests int64  `json:"guest_max_requests"`
	UserMaxRequests  int64  `json:"user_max_requests"`
	Mode             string `json:"mode"`
	Backend          string `json:"backend"`
	Upstream         string `json:"upstream"`
	Authentication   string `json:"authentication"`
	TLS              string `json:"tls"`
	Sweeper          string `json:"sweeper"`
}

func (p effectivePolicy) TextFields() []cli.Field {
	return []cli.Field{
		{Name: "Window", Value: p.Window},
		{Name: "Guest limit", Value: p.GuestMaxRequests},
		{Name: "User limit", Value: p.UserMaxRequests},
		{Name: "Mode", Value: p.Mode},
		{Name: "Backend", Value: p.Backend},
		{Name: "Upstream", Value: p.Upstream},
		{Name: "Authentication", Value: p.Authentication},
		{Name: "TLS", Value: p.TLS},
		{Name: "Sweeper", Value: p.Sweeper},
	}
}

func newEffectivePolicy(cfg *config.Config) effectivePolicy {
	limits := cfg.Quota.Limits().Normalize(logging.Discard())

	auth := "none (all callers are guests)"
	switch {
	case cfg.Auth.JWT.JWKSURL != "":
		auth = "JWT via JWKS " + cfg.Auth.JWT.JWKSURL
	case cfg.Auth.JWT.Secret != "":
		auth = "JWT via shared secret"
	}

	tlsInfo := "disabled"
	if cfg.Server.TLS.Enabled {
		tlsInfo = fmt.Sprintf("enabled, minimum version %s, certificate %s", cfg.Server.TLS.MinVersion, cfg.Server.TLS.CertFile)
	}

	sweeper := "disabled"
	if cfg.Sweeper.Enabled {
		sweeper = fmt.Sprintf("%s, namespaces %v, ttl %dx window",
			cfg.Sweeper.Schedule, cfg.Sweeper.Namespaces, cfg.Sweeper.TTLMultiplier)
	}

	return effectivePolicy{
		Window:           limits.Window.String(),
		GuestMaxRequests: limits.GuestMaxRequests,
		UserMaxRequests:  limits.UserMaxRequests,
		Mode:             cfg.Quota.Mode,
		Backend:          cfg.Storage.Backend,
		Upstream:         cfg.Upstream.URL,
		Authentication:   auth,
		TLS:              tlsInfo,
		Sweeper:          sweeper,
	}
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return err
	}
	if err := resolveSecrets(cmd.Context(), cfg, logging.Discard()); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "✓ Configuration valid")
	return cli.NewFormatter(cli.FormatText).FormatTo(out, newEffectivePolicy(cfg))
}
