package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/quota"
	"mercator-hq/tollgate/pkg/quota/retention"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

var sweepFlags struct {
	namespace string
	output    string
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired quota records now",
	Long: `Delete quota records whose window started more than ttl_multiplier
windows ago. The running gateway does this on its own schedule; this command
runs one sweep immediately.

Without --namespace the namespaces from sweeper.namespaces are swept (guest
only by default).

Examples:
  # Sweep the configured namespaces
  tollgate sweep

  # Sweep user records too
  tollgate sweep --namespace all`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().StringVar(&sweepFlags.namespace, "namespace", "", "namespace to sweep: guest, user, all")
	sweepCmd.Flags().StringVarP(&sweepFlags.output, "output", "o", "text", "output format: text, json")
}

// sweepReport is the result of tollgate sweep.
type sweepReport struct {
	Cutoff  time.Time      `json:"cutoff"`
	Deleted map[string]int `json:"deleted"`
	Total   int            `json:"total"`
}

func (r sweepReport) TextFields() []cli.Field {
	fields := []cli.Field{{Name: "Cutoff", Value: r.Cutoff.Format(time.RFC3339)}}

	names := make([]string, 0, len(r.Deleted))
	for ns := range r.Deleted {
		names = append(names, ns)
	}
	sort.Strings(names)
	for _, ns := range names {
		fields = append(fields, cli.Field{Name: "Deleted " + ns, Value: r.Deleted[ns]})
	}

	return append(fields, cli.Field{Name: "Total", Value: r.Total})
}

// sweepNamespaces expands the --namespace flag.
func sweepNamespaces(flag string) ([]string, error) {
	switch flag {
	case "":
		return nil, nil
	case "all":
		names := make([]string, 0, len(quota.Namespaces))
		for _, ns := range quota.Namespaces {
			names = append(names, string(ns))
		}
		return names, nil
	default:
		if _, err := quota.ParseNamespace(flag); err != nil {
			return nil, fmt.Errorf("invalid --namespace: %w", err)
		}
		return []string{flag}, nil
	}
}

func runSweep(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(sweepFlags.output)
	if err != nil {
		return err
	}
	namespaces, err := sweepNamespaces(sweepFlags.namespace)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	logger := logging.Discard()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("sweep", err)
	}
	defer store.Close()

	engine, _, err := newEngine(cfg, store, logger, nil)
	if err != nil {
		return err
	}
	sweeperCfg, err := sweeperConfig(cfg, namespaces, false)
	if err != nil {
		return err
	}

	result, err := retention.NewSweeper(engine, sweeperCfg, nil).Sweep(ctx)
	if err != nil {
		return cli.NewCommandError("sweep", err)
	}

	report := sweepReport{
		Cutoff:  result.Cutoff.UTC(),
		Deleted: make(map[string]int, len(result.Deleted)),
		Total:   result.Total(),
	}
	for ns, n := range result.Deleted {
		report.Deleted[string(ns)] = n
	}

	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), report)
}
