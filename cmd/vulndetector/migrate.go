package main

import (
	"github.com/abdelilah771/devsecops-pipeline/internal/store"
	"github.com/spf13/cobra"
)

func newMigrateCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the vulnerabilities table in PostgreSQL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			s, pool, err := store.Connect(cmd.Context(), cfg.Postgres.URI, cfg.Postgres.Timeout, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			return s.EnsureSchema(cmd.Context())
		},
	}
}
