package main

import (
	"flag"
	"log"
	"os"

	"github.com/banshee-data/blockview/internal/config"
	"github.com/banshee-data/blockview/internal/db"
	"github.com/banshee-data/blockview/internal/fsutil"
)

// runMigrate handles `blockview migrate [-db path] <action>`. The database
// path defaults to the configured history_db.
func runMigrate(args []string) {
	fset := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fset.String("db", "", "History database path (overrides config)")
	cfgPath := fset.String("config", config.DefaultConfigPath, "Path to the JSON client config")
	_ = fset.Parse(args)

	path := *dbPath
	if path == "" {
		cfg, err := config.LoadOrDefault(fsutil.OSFileSystem{}, *cfgPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		path = cfg.GetHistoryDB()
	}
	if err := db.RunMigrateCommand(fset.Args(), path, os.Stdout); err != nil {
		log.Fatal(err)
	}
}
