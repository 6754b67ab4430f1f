package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"vehiclestats/internal/config"
	"vehiclestats/internal/logger"
	"vehiclestats/internal/repository/sqlite"
)

func main() {
	cfg := config.Load()

	dbPath := flag.String("db", cfg.DatabasePath, "Database path")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-db path] up|down|version\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	db, err := sqlite.Open(*dbPath, logger.NewNop())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	switch flag.Arg(0) {
	case "up":
		if err := db.MigrateUp(); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
	case "down":
		if err := db.MigrateDown(); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
	case "version":
	default:
		flag.Usage()
		os.Exit(2)
	}

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	fmt.Printf("Schema version %d (dirty: %t) at %s\n", version, dirty, *dbPath)
}
