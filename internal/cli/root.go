package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pgwarden/pgwarden/internal/config"
	"github.com/pgwarden/pgwarden/internal/logging"
	"github.com/spf13/cobra"
)

var (
	dbURL   string
	verbose bool
	cfg     config.Config
)

// ExitError carries a non-zero exit code out of command execution.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

func newRootCmd(version, commit, date string) *cobra.Command {
	root := &cobra.Command{
		Use:          "pgwarden",
		Version:      version,
		Short:        "PostgreSQL row-level-security auditor",
		Long:         "Inspects a multi-tenant database's RLS configuration, classifies policy predicates, probes live access under the caller's session, and reports per-table exposure scores.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(verbose, cmd.ErrOrStderr())

			cwd, err := os.Getwd()
			if err != nil {
				cwd = "."
			}
			cfg, err = config.Load(cwd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			slog.Debug("config loaded", "path", cwd)

			// Apply config defaults if flags not explicitly set
			if dbURL == "" {
				if envURL := os.Getenv("PGWARDEN_DB_URL"); envURL != "" {
					dbURL = envURL
				} else if cfg.DBURL != "" {
					dbURL = cfg.DBURL
				}
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&dbURL, "db-url", "", "PostgreSQL connection URL (or set PGWARDEN_DB_URL)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")

	root.AddCommand(newVersionCmd(version, commit, date))
	root.AddCommand(newAuditCmd())

	return root
}

func newVersionCmd(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pgwarden %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// Execute runs the root command.
func Execute(version, commit, date string) error {
	return newRootCmd(version, commit, date).Execute()
}
