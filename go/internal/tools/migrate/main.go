package main

import (
	"flag"
	"os"

	"github.com/joho/godotenv"
	"github.com/mcdev12/trivia/go/internal/backend/postgres"
	"github.com/mcdev12/trivia/go/internal/dbconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	_ = godotenv.Load()

	down := flag.Bool("down", false, "roll migrations back instead of applying them")
	steps := flag.Int("steps", 0, "number of migrations to roll back with -down (0 = all)")
	flag.Parse()

	dsn := dbconfig.NewConfigFromEnv().DSN()
	if *down {
		if err := postgres.MigrateDown(dsn, *steps); err != nil {
			log.Fatal().Err(err).Msg("migrate down failed")
		}
		log.Info().Int("steps", *steps).Msg("migrations rolled back")
		return
	}
	if err := postgres.Migrate(dsn); err != nil {
		log.Fatal().Err(err).Msg("migrate up failed")
	}
}
