package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Usage: migrate [flags] <command>
//
//	up         apply all pending migrations (default)
//	down       revert the most recent migration
//	version    print the current schema version
//	force N    override the recorded version after a failed migration
func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		dsn    = flag.String("dsn", "", "Postgres DSN (overrides the db-* flags)")
		dbHost = flag.String("db-host", "localhost", "Database host")
		dbPort = flag.Int("db-port", 5432, "Database port")
		dbUser = flag.String("db-user", "admin", "Database user")
		dbPass = flag.String("db-pass", "securepassword", "Database password")
		dbName = flag.String("db-name", "addon_registry", "Database name")
		path   = flag.String("path", "scripts/migrations", "Directory holding the migration files")
	)
	flag.Parse()

	if *dsn == "" {
		*dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			*dbHost, *dbPort, *dbUser, *dbPass, *dbName)
	}

	config, err := pgx.ParseConfig(*dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse DSN")
	}
	db := stdlib.OpenDB(*config)
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migration driver")
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+*path, "postgres", driver)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Msg("Schema is up to date")
	case "down":
		if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("Failed to revert migration")
		}
		log.Info().Msg("Reverted one migration")
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info().Msg("No migrations applied yet")
			return
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read schema version")
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema version")
	case "force":
		if flag.NArg() < 2 {
			log.Fatal().Msg("force requires a version argument")
		}
		version, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			log.Fatal().Err(err).Msgf("Invalid version: %s", flag.Arg(1))
		}
		if err := m.Force(version); err != nil {
			log.Fatal().Err(err).Msg("Failed to force schema version")
		}
		log.Info().Int("version", version).Msg("Schema version forced")
	default:
		log.Fatal().Msgf("Unknown command: %s", command)
	}
}
