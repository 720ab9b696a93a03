package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/foundermatch/funnel/internal/config"
	"github.com/foundermatch/funnel/internal/repository"
	"github.com/foundermatch/funnel/internal/repository/postgres"
	"github.com/foundermatch/funnel/migrations"
)

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// An optional directory argument overrides the embedded schema.
	var src fs.FS = migrations.FS
	for _, a := range os.Args[1:] {
		src = os.DirFS(a)
		log.Printf("Using migrations from %s", a)
	}

	ctx := context.Background()
	db, err := repository.OpenPostgres(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	applied, err := postgres.Migrate(ctx, db, src)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if len(applied) == 0 {
		fmt.Println("Schema is up to date")
		return
	}
	for _, name := range applied {
		fmt.Println("  applied", name)
	}
	fmt.Printf("Applied %d migration(s)\n", len(applied))
}
