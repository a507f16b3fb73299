package postgres

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"

	"github.com/utafrali/catalogindex/pkg/database"
)

//go:embed migrations/*.up.sql
var migrationFiles embed.FS

// Migrations returns the catalog schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrate applies the catalog schema.
func Migrate(ctx context.Context, conn database.Migrator, logger *slog.Logger) error {
	return database.RunMigrations(ctx, conn, Migrations(), logger)
}
