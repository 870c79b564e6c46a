// Package migrations holds the database schema, applied via
// remind101/migrate at writer open.
package migrations

import (
	"database/sql"
	"embed"

	"github.com/remind101/migrate"
)

//go:embed *.sql
var fs embed.FS

func runFile(n string) func(*sql.Tx) error {
	return func(tx *sql.Tx) error {
		b, err := fs.ReadFile(n)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(b)); err != nil {
			return err
		}
		return nil
	}
}

// MigrationTable is the table tracking applied migrations.
const MigrationTable = "edusentry_migrations"

var Migrations = []migrate.Migration{
	{
		ID: 1,
		Up: runFile("01-init.sql"),
	},
	{
		ID: 2,
		Up: runFile("02-source-events-incident-index.sql"),
	},
}
