package main

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fleet-tracker/internal/config"
	"fleet-tracker/internal/database"
	"fleet-tracker/internal/logging"
	"fleet-tracker/internal/models"
)

func connect() (*sqlx.DB, error) {
	url, err := config.DatabaseURL()
	if err != nil {
		return nil, err
	}
	return database.Connect(url)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Create or upgrade the fleet-tracker schema",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connect()
			if err != nil {
				return err
			}
			defer db.Close()
			return database.Migrate(db)
		},
	}
	root.AddCommand(newAddUserCmd())
	return root
}

func newAddUserCmd() *cobra.Command {
	var acct database.SeedAccount
	cmd := &cobra.Command{
		Use:   "add-user",
		Short: "Create a driver or admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if acct.Role != models.RoleDriver && acct.Role != models.RoleAdmin {
				return fmt.Errorf("role must be %s or %s", models.RoleDriver, models.RoleAdmin)
			}

			db, err := connect()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.Migrate(db); err != nil {
				return err
			}
			n, err := database.SeedUsers(cmd.Context(), db, []database.SeedAccount{acct})
			if err != nil {
				return err
			}
			if n == 0 {
				log.Printf("⚠️  %s already exists", acct.Email)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&acct.Email, "email", "", "login email")
	cmd.Flags().StringVar(&acct.Password, "password", "", "login password")
	cmd.Flags().StringVar(&acct.Name, "name", "", "display name")
	cmd.Flags().StringVar(&acct.Role, "role", models.RoleDriver, "driver or admin")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	cmd.MarkFlagRequired("name")
	return cmd
}

func main() {
	logging.Setup("info", "text")
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}
