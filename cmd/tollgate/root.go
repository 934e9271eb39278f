package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "tollgate",
	Short: "Tollgate - usage-gating proxy for paid analysis calls",
	Long: `Tollgate sits in front of a paid content-analysis service and limits how
often each identity may call it within a rolling window.

Identities are either authenticated users (JWT bearer tokens) or anonymous
guests (a client fingerprint header). Usage records live in a pluggable store:
memory, SQLite, PostgreSQL or Redis.

Configuration is read from a YAML file (--config) and TOLLGATE_* environment
variables, which take precedence. A .env file in the working directory, or
the one named by --env-file, is loaded first.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(envFile)
	},
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return cli.ExitCode(err)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (environment only when empty)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading configuration (default .env if present)")
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. An empty path loads ./.env when it exists.
func loadEnvFile(path string) error {
	if path == "" {
		err := godotenv.Load()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cli.NewConfigError(".env", err.Error())
		}
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return cli.NewConfigError(path, err.Error())
	}
	return nil
}
