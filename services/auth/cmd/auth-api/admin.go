package main

import (
	"fmt"

	"github.com/spf13/cobra"

	pkgdb "outsy/pkg/db"
	"outsy/services/auth/internal/config"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			if cfg.StorageDriver != config.DriverPostgres {
				return fmt.Errorf("migrate requires STORAGE_DRIVER=%s", config.DriverPostgres)
			}

			pool, err := pkgdb.Open(ctx, string(cfg.DBDSN))
			if err != nil {
				return err
			}
			defer pool.Close()

			version, err := pkgdb.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
}

func newPromoteCommand() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Grant the ADMIN role to an existing account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			st, err := openStorage(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer st.close()

			svc, err := newService(cfg, st, nil, log)
			if err != nil {
				return err
			}

			user, err := svc.Promote(ctx, email)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) is now %s\n", user.Email, user.ID, user.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email of the account to promote")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
