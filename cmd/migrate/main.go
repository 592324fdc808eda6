package main

import (
	"fmt"
	"log"

	"channel-gateway/internal/adapters/db/postgres"
	"channel-gateway/internal/config"
)

func main() {
	conf, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := migrate(conf.DatabaseURL); err != nil {
		log.Fatal(err)
	}
}

func migrate(dsn string) error {
	fmt.Println("Connecting to database...")
	repo, err := postgres.New(dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer repo.Close()

	fmt.Println("Running migrations...")
	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	var tables []string
	if err := repo.DB().Raw("SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename").Scan(&tables).Error; err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return fmt.Errorf("no tables found after migration")
	}
	fmt.Println("Tables:")
	for _, table := range tables {
		fmt.Printf("  - %s\n", table)
	}
	return nil
}
