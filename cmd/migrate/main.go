package main

import (
	"database/sql"
	"flag"
	"log"

	"github.com/seiixin/PakbetTV-sub001/internal/config"
	"github.com/seiixin/PakbetTV-sub001/internal/db"
)

var (
	openDBFunc  = db.NewDatabase
	migrateFunc = db.Migrate
)

func main() {
	mode := flag.String("mode", "up", "migration mode: up, down or status")
	flag.Parse()

	if err := run(config.LoadConfig(), *mode); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.Config, mode string) error {
	database, err := openDBFunc(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	return apply(database, mode)
}

func apply(database *sql.DB, mode string) error {
	log.Printf("running migrations: %s", mode)
	if err := migrateFunc(database, mode); err != nil {
		return err
	}
	log.Printf("migrations %s done", mode)
	return nil
}
