package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"disbursa.org/internal/config"
	"disbursa.org/internal/migrate"
	"disbursa.org/internal/obs"
	"disbursa.org/internal/store/pg"
)

var version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := obs.Configure(os.Stderr, cfg.Logging.Level, "console", version)
	obs.SetLogger(logger)

	var (
		dsn   = flag.String("dsn", cfg.Postgres.DSN, "PostgreSQL DSN (defaults to DISBURSA_PG_DSN)")
		steps = flag.Int("steps", 1, "migrations to roll back with down")
	)
	flag.Parse()

	if *dsn == "" {
		logger.Fatal().Msg("missing DSN: provide via -dsn or DISBURSA_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		logger.Fatal().Msg("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	mgr := migrate.NewManager(db, pg.Seeds())

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx, *steps)
	case "seed":
		var applied []string
		applied, err = mgr.Seed(ctx)
		for _, name := range applied {
			logger.Info().Str("seed", name).Msg("seed applied")
		}
	case "status":
		var st migrate.Status
		st, err = mgr.Status(ctx)
		if err == nil {
			fmt.Printf("schema version: %d\n", st.Version)
			for _, name := range st.Seeds {
				fmt.Println("seed:", name)
			}
		}
	default:
		logger.Fatal().Str("command", cmd).Msg("unknown command")
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("migrate failed")
	}
}
