package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// SeedAccount is one login to create
type SeedAccount struct {
	Email    string
	Password string
	Name     string
	Role     string
}

// DevAccounts are created on an empty database in development
var DevAccounts = []SeedAccount{
	{Email: "driver@fleet.local", Password: "driver123", Name: "Demo Driver", Role: "driver"},
	{Email: "admin@fleet.local", Password: "admin123", Name: "Dispatch Admin", Role: "admin"},
}

// SeedUsers creates accounts whose email is not taken yet and reports how
// many were created
func SeedUsers(ctx context.Context, db *sqlx.DB, accounts []SeedAccount) (int, error) {
	created := 0
	for _, acct := range accounts {
		var exists bool
		if err := db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, acct.Email); err != nil {
			return created, fmt.Errorf("failed to check user %s: %w", acct.Email, err)
		}
		if exists {
			log.Printf("✓ User %s already exists, skipping...", acct.Email)
			continue
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(acct.Password), bcrypt.DefaultCost)
		if err != nil {
			return created, fmt.Errorf("failed to hash password: %w", err)
		}

		user := map[string]interface{}{
			"id":       uuid.New().String(),
			"email":    acct.Email,
			"password": string(hash),
			"name":     acct.Name,
			"role":     acct.Role,
		}
		query := `
			INSERT INTO users (id, email, password, name, role)
			VALUES (:id, :email, :password, :name, :role)
		`
		if _, err := db.NamedExecContext(ctx, query, user); err != nil {
			return created, fmt.Errorf("failed to create user %s: %w", acct.Email, err)
		}
		created++
		log.Printf("  ✓ Created user: %s (%s)", acct.Email, acct.Role)
	}
	return created, nil
}
