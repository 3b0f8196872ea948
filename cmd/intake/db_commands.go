package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/requirements-intake/internal/repository"
)

func newDBCommand(cc *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the schema (idempotent)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := cc.openDB(cmd)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := db.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema applied (%s)\n", db.Dialect())
				return nil
			},
		},
		&cobra.Command{
			Use:   "health",
			Short: "Ping the database",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := cc.openDB(cmd)
				if err != nil {
					return err
				}
				defer db.Close()
				start := time.Now()
				if err := db.HealthCheck(cmd.Context(), 2*time.Second); err != nil {
					return fmt.Errorf("DB health: FAIL (%w)", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "DB health: OK (%s, %dms)\n", db.Dialect(), time.Since(start).Milliseconds())
				return nil
			},
		},
	)
	return cmd
}

// openDB connects without the rest of the graph so migrate works on an
// empty database.
func (cc *commandContext) openDB(cmd *cobra.Command) (*repository.DB, error) {
	d := cc.config.Database
	return repository.Open(cmd.Context(), repository.Config{
		Driver:           d.Driver,
		DSN:              d.DSN,
		MaxConns:         d.MaxConns,
		MinConns:         d.MinConns,
		MaxConnLifetime:  d.MaxConnLifetime,
		MaxConnIdleTime:  d.MaxConnIdleTime,
		DialTimeout:      d.DialTimeout,
		StatementTimeout: d.StatementTimeout,
	}, cc.logger())
}
