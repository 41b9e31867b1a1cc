package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datallboy/mediafetch/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply job store migrations and print the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer log.Close()

			if cfg.Store.Driver == "postgres" {
				s, err := store.NewPostgresStore(cmd.Context(), cfg.Store.PostgresDSN)
				if err != nil {
					return err
				}
				defer s.Close()
				fmt.Println("postgres schema is up to date")
				return nil
			}

			// NewPersistentStore runs pending migrations
			s, err := store.NewPersistentStore(cfg.Store.SQLitePath)
			if err != nil {
				return err
			}
			defer s.Close()

			version, dirty, err := s.SchemaVersion()
			if err != nil {
				return err
			}
			fmt.Printf("sqlite schema version %d (dirty: %t)\n", version, dirty)
			return nil
		},
	}
}
