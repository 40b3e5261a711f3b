package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/fundbridge/merchant-staging/internal/config"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	dsn := cfg.Database.URL
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	dir := "migrations"
	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			dir = a
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	if listOnly {
		tables := []string{
			cfg.Staging.PreStagingTable, cfg.Staging.StagingTable,
			cfg.Staging.QuarantineTable, cfg.Staging.JobsTable,
		}
		if cfg.Staging.OtherEnabled() {
			tables = append(tables, cfg.Staging.OtherPreStagingTable)
		}
		for _, t := range tables {
			var exists bool
			if err := db.QueryRow(`SELECT to_regclass($1) IS NOT NULL`, t).Scan(&exists); err != nil {
				log.Fatal(err)
			}
			mark := "missing"
			if exists {
				mark = "ok"
			}
			fmt.Printf("  %-32s %s\n", t, mark)
		}
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("read migrations dir %s: %v", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var okCount, errCount int
	for _, f := range files {
		path := filepath.Join(dir, f)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read %s: %v", path, err)
		}
		content := string(data)
		if strings.TrimSpace(content) == "" {
			continue
		}
		fmt.Printf("  %s ... ", f)

		tx, err := db.Begin()
		if err != nil {
			fmt.Printf("BEGIN ERROR: %v\n", err)
			errCount++
			continue
		}
		if _, err := tx.Exec(content); err != nil {
			tx.Rollback()
			fmt.Printf("ERROR: %v\n", err)
			errCount++
		} else {
			tx.Commit()
			fmt.Println("OK")
			okCount++
		}
	}
	log.Printf("Done: %d OK, %d errors", okCount, errCount)
	if errCount > 0 {
		os.Exit(1)
	}
	log.Println("Migrations complete")
}
