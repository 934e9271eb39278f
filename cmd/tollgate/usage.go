package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/quota"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

var usageFlags struct {
	guest  string
	user   string
	reset  bool
	output string
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show or reset the usage of one identity",
	Long: `Show the usage of one identity in its current window, or reset it.

Exactly one of --guest and --user must be given. Reading usage never charges
the identity.

Examples:
  # Show a guest's usage
  tollgate usage --guest 3f9a0c1b

  # Show a user's usage as JSON
  tollgate usage --user 42 --output json

  # Give a user a fresh window
  tollgate usage --user 42 --reset`,
	RunE: showUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.Flags().StringVar(&usageFlags.guest, "guest", "", "guest fingerprint")
	usageCmd.Flags().StringVar(&usageFlags.user, "user", "", "user id")
	usageCmd.Flags().BoolVar(&usageFlags.reset, "reset", false, "delete the identity's record")
	usageCmd.Flags().StringVarP(&usageFlags.output, "output", "o", "text", "output format: text, json")
	usageCmd.MarkFlagsMutuallyExclusive("guest", "user")
	usageCmd.MarkFlagsOneRequired("guest", "user")
}

// usageReport is the result of tollgate usage.
type usageReport struct {
	Identity      string    `json:"identity"`
	Namespace     string    `json:"namespace"`
	Used          int64     `json:"used"`
	Limit         int64     `json:"limit"`
	Remaining     int64     `json:"remaining"`
	ResetTime     time.Time `json:"reset_time"`
	WindowSeconds int64     `json:"window_seconds"`

	now time.Time
}

func (r usageReport) TextFields() []cli.Field {
	resets := "now"
	if wait := r.ResetTime.Sub(r.now); wait > 0 {
		resets = fmt.Sprintf("in %s (%s)", quota.FormatWait(wait), r.ResetTime.Format(time.RFC3339))
	}

	return []cli.Field{
		{Name: "Identity", Value: r.Identity},
		{Name: "Used", Value: fmt.Sprintf("%d / %d", r.Used, r.Limit)},
		{Name: "Remaining", Value: r.Remaining},
		{Name: "Window", Value: time.Duration(r.WindowSeconds) * time.Second},
		{Name: "Resets", Value: resets},
	}
}

func showUsage(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(usageFlags.output)
	if err != nil {
		return err
	}

	id := quota.Guest(usageFlags.guest)
	if usageFlags.user != "" {
		id = quota.User(usageFlags.user)
	}

	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	logger := logging.Discard()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("usage", err)
	}
	defer store.Close()

	// The engine fails open, so check reachability first.
	if err := store.Ping(ctx); err != nil {
		return cli.NewCommandError("usage", fmt.Errorf("quota store unavailable: %w", err))
	}

	out := cmd.OutOrStdout()

	if usageFlags.reset {
		if err := store.Delete(ctx, id.Namespace, id.Key()); err != nil {
			return cli.NewCommandError("usage", err)
		}
		fmt.Fprintf(out, "✓ Usage reset for %s\n", id)
		return nil
	}

	engine, _, err := newEngine(cfg, store, logger, nil)
	if err != nil {
		return err
	}

	decision := engine.Usage(ctx, id)
	report := usageReport{
		Identity:      id.String(),
		Namespace:     string(id.Namespace),
		Used:          decision.Used,
		Limit:         decision.Limit,
		Remaining:     decision.Remaining(),
		ResetTime:     decision.ResetTime.UTC(),
		WindowSeconds: int64(engine.Limits().Window / time.Second),
		now:           engine.Now(),
	}

	return cli.NewFormatter(format).FormatTo(out, report)
}
