package migration

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

// Embed SQL files from the local migrations folder
//
//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Schema holds every table owned by the service.
const Schema = "app"

// GooseAdapter routes goose output through zerolog.
type GooseAdapter struct {
	logger zerolog.Logger
}

func NewGooseAdapter(logger zerolog.Logger) *GooseAdapter {
	return &GooseAdapter{logger: logger.With().Str("component", "goose").Logger()}
}

func (g *GooseAdapter) Fatalf(format string, v ...interface{}) {
	g.logger.Fatal().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (g *GooseAdapter) Printf(format string, v ...interface{}) {
	g.logger.Info().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// RunMigrations applies all pending migrations against dbURL.
func RunMigrations(dbURL string, logger zerolog.Logger) error {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Ensure the app schema exists before running migrations
	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + Schema); err != nil {
		return fmt.Errorf("create schema %s: %w", Schema, err)
	}

	goose.SetBaseFS(embeddedMigrations)
	goose.SetTableName(Schema + ".goose_db_version")
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	logger.Info().Msg("Migrations completed successfully")
	return nil
}
