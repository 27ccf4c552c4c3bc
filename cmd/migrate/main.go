package main

import (
	"flag"
	"log"

	"github.com/gemxhub/backend/internal/config"
	"github.com/gemxhub/backend/internal/database"
	"github.com/gemxhub/backend/internal/database/migrations"
)

func main() {
	rollback := flag.Bool("rollback", false, "roll back the most recent migration")
	flag.Parse()

	cfg := config.LoadConfig()

	db, err := database.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if *rollback {
		if err := migrations.RollbackLast(db); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Println("Rolled back last migration")
		return
	}

	if err := migrations.RunMigrations(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migrations applied")
}
