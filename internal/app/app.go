// Package app assembles the staging pipeline from configuration. Both the
// HTTP server and the batch CLI start from Open.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/fundbridge/merchant-staging/internal/archive"
	"github.com/fundbridge/merchant-staging/internal/config"
	"github.com/fundbridge/merchant-staging/internal/pkg/distlock"
	"github.com/fundbridge/merchant-staging/internal/pkg/logger"
	"github.com/fundbridge/merchant-staging/internal/repository/postgres"
	"github.com/fundbridge/merchant-staging/internal/service/staging"
)

// App holds the wired services and the connections they share.
type App struct {
	Config    *config.Config
	DB        *sql.DB
	Redis     *redis.Client
	Ledger    *staging.Ledger
	Processor *staging.Processor
	Reporter  *staging.Reporter
	Ingestor  *staging.Ingestor
	Exporter  *staging.Exporter
}

// Open connects to Postgres (and Redis when batch locking is on) and wires
// every staging service.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	logger.SetRedactPII(!cfg.Logging.DisableRedaction)
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	dbURL := DatabaseURL(cfg.Database.URL, cfg.Database.StatementTimeoutMS)
	log.Printf("[db] URL host portion: ...@%s/...", ExtractHost(dbURL))

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())
	db.SetConnMaxIdleTime(30 * time.Second)

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Println("[db] connected")

	a := &App{Config: cfg, DB: db}
	if cfg.Staging.LockBatches {
		a.Redis = connectRedis(ctx, cfg.Redis.URL)
	}

	var arch staging.Archiver
	if cfg.Archive.Enabled() {
		s3a, err := archive.NewS3Archiver(ctx, archive.Config{
			Bucket:     cfg.Archive.S3Bucket,
			Region:     cfg.Archive.S3Region,
			Prefix:     cfg.Archive.Prefix,
			AWSProfile: cfg.Archive.AWSProfile,
		})
		if err != nil {
			log.Printf("[archive] Warning: S3 archival disabled: %v", err)
		} else {
			arch = s3a
			log.Printf("[archive] raw uploads archived to s3://%s/%s", cfg.Archive.S3Bucket, cfg.Archive.Prefix)
		}
	}

	a.wire(arch)
	return a, nil
}

func (a *App) wire(arch staging.Archiver) {
	sc := a.Config.Staging
	opts := StagingOptions(sc)
	hints := TableHints(sc)

	store := postgres.NewStagingStore(a.DB, postgres.Tables{
		Staging:    sc.StagingTable,
		StagingPK:  sc.StagingPKColumn,
		Quarantine: sc.QuarantineTable,
		Hints:      hints,
	})
	counter := postgres.NewCounter(a.DB, sc.CountProcedure, hints)

	a.Ledger = staging.NewLedger(postgres.NewJobRepo(a.DB, sc.JobsTable))
	a.Reporter = staging.NewReporter(counter, opts)
	a.Processor = staging.NewProcessor(store, a.Ledger, a.Reporter, opts)
	a.Ingestor = staging.NewIngestor(store, a.Ledger, opts.Main, arch)
	a.Exporter = staging.NewExporter(store)

	if sc.LockBatches {
		a.Processor.WithLocker(distlock.NewFactory(a.Redis, a.DB, "staging:", sc.LockTTL()))
		if a.Redis != nil {
			log.Println("[lock] batch guard enabled (redis)")
		} else {
			log.Println("[lock] batch guard enabled (postgres advisory locks)")
		}
	}
}

// Close releases the shared connections.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func connectRedis(ctx context.Context, redisURL string) *redis.Client {
	if redisURL == "" {
		log.Println("[lock] Redis not configured (REDIS_URL not set), using PG advisory locks")
		return nil
	}
	var client *redis.Client
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	} else {
		client = redis.NewClient(opts)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("[lock] Warning: Redis connection failed: %v, falling back to PG advisory locks", err)
		client.Close()
		return nil
	}
	return client
}

// StagingOptions maps table configuration onto processor options.
func StagingOptions(sc config.StagingConfig) staging.Options {
	opts := staging.Options{
		Main: staging.Source{
			Name:      "main",
			Table:     sc.PreStagingTable,
			PKColumn:  sc.PreStagingPKColumn,
			JobColumn: sc.PreStagingJobColumn,
		},
		StagingTable:     sc.StagingTable,
		QuarantineTable:  sc.QuarantineTable,
		DefaultBatchSize: sc.BatchSize,
		MaxBatchSize:     sc.MaxBatchSize,
	}
	if sc.OtherEnabled() {
		opts.Other = &staging.Source{
			Name:      "other",
			Table:     sc.OtherPreStagingTable,
			PKColumn:  sc.OtherPreStagingPKColumn,
			JobColumn: sc.OtherPreStagingJobColumn,
		}
	}
	return opts
}

// TableHints names the setting that controls each configured table, so a
// missing table or column error can tell the operator what to change.
func TableHints(sc config.StagingConfig) map[string]postgres.Hint {
	hints := map[string]postgres.Hint{
		sc.PreStagingTable: {TableSetting: "PRE_STAGING_TABLE", ColumnSetting: "PRE_STAGING_PK_COLUMN"},
		sc.StagingTable:    {TableSetting: "STAGING_TABLE", ColumnSetting: "STAGING_PK_COLUMN"},
		sc.QuarantineTable: {TableSetting: "QUARANTINE_TABLE"},
		sc.JobsTable:       {TableSetting: "staging.jobs_table"},
	}
	if sc.OtherEnabled() {
		hints[sc.OtherPreStagingTable] = postgres.Hint{
			TableSetting:  "OTHER_PRE_STAGING_TABLE",
			ColumnSetting: "OTHER_PRE_STAGING_PK_COLUMN",
		}
	}
	return hints
}

// DatabaseURL adds a connect timeout and a statement timeout to a URL-form DSN.
func DatabaseURL(dbURL string, statementTimeoutMS int) string {
	if !strings.Contains(dbURL, "://") {
		return dbURL
	}
	sep := "?"
	if strings.Contains(dbURL, "?") {
		sep = "&"
	}
	if !strings.Contains(dbURL, "connect_timeout") {
		dbURL += sep + "connect_timeout=5"
		sep = "&"
	}
	if statementTimeoutMS > 0 && !strings.Contains(dbURL, "statement_timeout") {
		dbURL += fmt.Sprintf("%soptions=-c%%20statement_timeout%%3D%d", sep, statementTimeoutMS)
	}
	return dbURL
}

// ExtractHost returns the host:port portion of a DSN for logging.
func ExtractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}
