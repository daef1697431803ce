package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reddot-watch/newsbatch/internal/batch"
	"reddot-watch/newsbatch/internal/config"
	"reddot-watch/newsbatch/internal/database"
	"reddot-watch/newsbatch/internal/dedupe"
	importbatch "reddot-watch/newsbatch/internal/import"
	"reddot-watch/newsbatch/internal/partition"
	"reddot-watch/newsbatch/internal/process"
	"reddot-watch/newsbatch/internal/server"
	"reddot-watch/newsbatch/internal/server/storage"
)

// Exit codes seen by the scheduler.
const (
	exitFailure        = 1
	exitMalformedBatch = 2
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

const usage = `Usage: newsbatch [command] [options]
Commands: ingest, import, start, server, migrate

For command-specific options, use: newsbatch [command] -h`

func main() {
	cfg := config.DefaultConfig()
	var logLevelStr string

	ingestCmd := flag.NewFlagSet("ingest", flag.ExitOnError)
	addStoreFlags(ingestCmd, cfg, &logLevelStr)
	addBatchFlags(ingestCmd, cfg)

	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	addStoreFlags(importCmd, cfg, &logLevelStr)
	var csvPath string
	importCmd.StringVar(&csvPath, "csv", config.GetEnvString("NEWSBATCH_CSV_PATH", ""),
		"Path to a CSV batch with a header row (env: NEWSBATCH_CSV_PATH)")

	startCmd := flag.NewFlagSet("start", flag.ExitOnError)
	addStoreFlags(startCmd, cfg, &logLevelStr)
	addBatchFlags(startCmd, cfg)

	var intervalMinutes int
	startCmd.IntVar(&intervalMinutes, "interval", config.GetEnvInt("NEWSBATCH_INTERVAL", config.DefaultInterval),
		"Interval in minutes between ingestion runs, 0 for one-shot mode (env: NEWSBATCH_INTERVAL)")
	startCmd.BoolVar(&cfg.Watch, "watch", config.GetEnvBool("NEWSBATCH_WATCH", config.DefaultWatch),
		"Ingest whenever the batch file is written (env: NEWSBATCH_WATCH)")
	startCmd.DurationVar(&cfg.WatchDebounce, "debounce", config.GetEnvDuration("NEWSBATCH_WATCH_DEBOUNCE", cfg.WatchDebounce),
		"Quiet period after the last batch write before ingesting (env: NEWSBATCH_WATCH_DEBOUNCE)")
	startCmd.IntVar(&cfg.JournalRetentionDays, "retention", config.GetEnvInt("NEWSBATCH_JOURNAL_RETENTION_DAYS", config.DefaultJournalRetentionDays),
		"Number of days to retain run journal rows (env: NEWSBATCH_JOURNAL_RETENTION_DAYS)")

	serverCmd := flag.NewFlagSet("server", flag.ExitOnError)
	addStoreFlags(serverCmd, cfg, &logLevelStr)
	serverCmd.StringVar(&cfg.ServerHost, "host", config.GetEnvString("NEWSBATCH_HOST", config.DefaultServerHost),
		"Host to bind the server to (env: NEWSBATCH_HOST)")
	serverCmd.IntVar(&cfg.ServerPort, "port", config.GetEnvInt("NEWSBATCH_PORT", config.DefaultServerPort),
		"Port to listen on (env: NEWSBATCH_PORT)")

	migrateCmd := flag.NewFlagSet("migrate", flag.ExitOnError)
	migrateCmd.StringVar(&cfg.DBPath, "db", config.GetEnvString("NEWSBATCH_DB_PATH", config.DefaultDBPath),
		"Path to the SQLite run journal (env: NEWSBATCH_DB_PATH)")
	migrateCmd.StringVar(&logLevelStr, "log-level", config.GetEnvString("NEWSBATCH_LOG_LEVEL", config.DefaultLogLevel),
		"Log level: debug, info, warn, error (env: NEWSBATCH_LOG_LEVEL)")
	var down int
	migrateCmd.IntVar(&down, "down", 0, "Roll back this many migrations instead of applying them")

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(exitFailure)
	}

	var err error
	switch os.Args[1] {
	case "ingest":
		ingestCmd.Parse(os.Args[2:])
		applyLogLevel(cfg, logLevelStr)
		err = runIngest(cfg)

	case "import":
		importCmd.Parse(os.Args[2:])
		applyLogLevel(cfg, logLevelStr)
		err = runImport(cfg, csvPath)

	case "start":
		startCmd.Parse(os.Args[2:])
		applyLogLevel(cfg, logLevelStr)
		cfg.Interval = time.Duration(intervalMinutes) * time.Minute
		err = runStart(cfg)

	case "server":
		serverCmd.Parse(os.Args[2:])
		applyLogLevel(cfg, logLevelStr)
		err = runServer(cfg)

	case "migrate":
		migrateCmd.Parse(os.Args[2:])
		applyLogLevel(cfg, logLevelStr)
		err = runMigrate(cfg, down)

	case "-h", "--help", "help":
		fmt.Println(usage)
		os.Exit(0)

	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		fmt.Println(usage)
		os.Exit(exitFailure)
	}

	if err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		if errors.Is(err, batch.ErrMalformedBatch) {
			os.Exit(exitMalformedBatch)
		}
		os.Exit(exitFailure)
	}
}

func addStoreFlags(fs *flag.FlagSet, cfg *config.Config, logLevelStr *string) {
	fs.StringVar(&cfg.DataDir, "data", config.GetEnvString("NEWSBATCH_DATA_DIR", config.DefaultDataDir),
		"Directory holding the daily partitions (env: NEWSBATCH_DATA_DIR)")
	fs.StringVar(&cfg.DBPath, "db", config.GetEnvString("NEWSBATCH_DB_PATH", config.DefaultDBPath),
		"Path to the SQLite run journal, empty to disable (env: NEWSBATCH_DB_PATH)")
	fs.StringVar(&cfg.RulesPath, "rules", config.GetEnvString("NEWSBATCH_RULES_PATH", config.DefaultRulesPath),
		"Path to a TOML file with URL canonicalization rules (env: NEWSBATCH_RULES_PATH)")
	fs.StringVar(&cfg.Timezone, "tz", config.GetEnvString("NEWSBATCH_TIMEZONE", config.DefaultTimezone),
		"Time zone deciding the partition day, e.g. Asia/Shanghai (env: NEWSBATCH_TIMEZONE)")
	fs.IntVar(&cfg.WorkerCount, "workers", config.GetEnvInt("NEWSBATCH_WORKER_COUNT", config.DefaultWorkerCount),
		"Number of goroutines deriving identity keys, 0 for CPU count (env: NEWSBATCH_WORKER_COUNT)")
	fs.StringVar(logLevelStr, "log-level", config.GetEnvString("NEWSBATCH_LOG_LEVEL", config.DefaultLogLevel),
		"Log level: debug, info, warn, error (env: NEWSBATCH_LOG_LEVEL)")
}

func addBatchFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.BatchPath, "batch", config.GetEnvString("NEWSBATCH_BATCH_PATH", config.DefaultBatchPath),
		"Path to the producer's JSON batch file (env: NEWSBATCH_BATCH_PATH)")
}

func applyLogLevel(cfg *config.Config, logLevelStr string) {
	if level, err := zerolog.ParseLevel(logLevelStr); err == nil {
		cfg.LogLevel = level
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-shutdown:
			log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(shutdown)
	}()
	return ctx, cancel
}

// openJournal opens the run journal. Ingestion goes ahead without one if it
// cannot be opened.
func openJournal(cfg *config.Config) (*database.DB, *database.Journal) {
	if cfg.DBPath == "" {
		return nil, nil
	}
	db, err := database.NewDB(database.NewConfig(cfg.DBPath))
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.DBPath).Msg("Run journal unavailable, continuing without it")
		return nil, nil
	}
	return db, database.NewJournal(db)
}

// newIngester wires the store, rules, zone and journal into an Ingester.
func newIngester(cfg *config.Config, journal *database.Journal) (*process.Ingester, error) {
	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	cfg.Rules = rules

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	opts := []process.Option{
		process.WithLocation(loc),
		process.WithWorkers(cfg.WorkerCount),
	}
	if journal != nil {
		opts = append(opts, process.WithJournal(journal))
	}
	return process.NewIngester(partition.NewFileStore(cfg.DataDir), dedupe.NewCanonicalizer(cfg.Rules), opts...)
}

// runIngest merges the batch file into today's partition once.
func runIngest(cfg *config.Config) error {
	db, journal := openJournal(cfg)
	if db != nil {
		defer db.Close()
	}

	ingester, err := newIngester(cfg, journal)
	if err != nil {
		return fmt.Errorf("failed to initialize ingester: %w", err)
	}

	src := batch.NewFileSource(cfg.BatchPath)
	if err := src.EnsureDir(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := ingester.Run(ctx, src)
	if err != nil {
		return err
	}
	fmt.Println(res.Total)
	return nil
}

// runImport merges a CSV batch into today's partition.
func runImport(cfg *config.Config, csvPath string) error {
	if csvPath == "" {
		return fmt.Errorf("a CSV file is required (-csv)")
	}

	db, journal := openJournal(cfg)
	if db != nil {
		defer db.Close()
	}

	ingester, err := newIngester(cfg, journal)
	if err != nil {
		return fmt.Errorf("failed to initialize ingester: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := importbatch.NewImporter(ingester).ImportCSV(ctx, csvPath)
	if err != nil {
		return err
	}
	fmt.Println(res.Total)
	return nil
}

// runStart ingests the batch file once, then periodically and/or whenever
// the batch file changes, until a shutdown signal arrives.
func runStart(cfg *config.Config) error {
	if cfg.Interval <= 0 && !cfg.Watch {
		log.Info().Msg("Running in one-shot mode")
	} else {
		log.Info().
			Int64("interval_minutes", int64(cfg.Interval.Minutes())).
			Bool("watch", cfg.Watch).
			Msg("Running in continuous mode")
	}

	db, journal := openJournal(cfg)
	if db != nil {
		defer db.Close()
	}

	ingester, err := newIngester(cfg, journal)
	if err != nil {
		return fmt.Errorf("failed to initialize ingester: %w", err)
	}

	src := batch.NewFileSource(cfg.BatchPath)
	if err := src.EnsureDir(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	cycle := func(ctx context.Context) error {
		return runIngestionCycle(ctx, ingester, src, journal, cfg)
	}

	if err := cycle(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("Ingestion cycle canceled by shutdown signal")
			return nil
		}
		if cfg.Interval <= 0 && !cfg.Watch {
			return err
		}
		log.Error().Err(err).Msg("Ingestion cycle failed")
	}

	if cfg.Interval <= 0 && !cfg.Watch {
		log.Info().Msg("One-shot ingestion completed, exiting")
		return nil
	}

	watchErr := make(chan error, 1)
	if cfg.Watch {
		go func() {
			watchErr <- process.WatchBatch(ctx, src.Path, cfg.WatchDebounce, cycle)
		}()
	}

	var tick <-chan time.Time
	if cfg.Interval > 0 {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C

		log.Info().
			Dur("interval", cfg.Interval).
			Time("next_run", time.Now().Add(cfg.Interval)).
			Msg("Waiting for next ingestion cycle")
	}

	for {
		select {
		case <-tick:
			log.Info().Msg("Starting scheduled ingestion cycle")

			if err := cycle(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					log.Info().Msg("Ingestion cycle canceled by shutdown signal")
					return nil
				}
				log.Error().Err(err).Msg("Ingestion cycle failed")
				// Continue to the next cycle rather than exiting
			}

			log.Info().
				Time("next_run", time.Now().Add(cfg.Interval)).
				Msg("Waiting for next ingestion cycle")

		case err := <-watchErr:
			if err != nil {
				return fmt.Errorf("batch watcher stopped: %w", err)
			}
			return nil

		case <-ctx.Done():
			log.Info().Msg("Shutting down continuous ingestion")
			return nil
		}
	}
}

// runIngestionCycle executes a single ingestion run and journal purge.
func runIngestionCycle(ctx context.Context, ingester *process.Ingester, src process.Source, journal *database.Journal, cfg *config.Config) error {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	res, err := ingester.Run(runCtx, src)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	added, merged := ingester.Stats()
	log.Info().
		Int("total", res.Total).
		Int64("added_since_start", added).
		Int64("merged_since_start", merged).
		Msg("Ingestion stats")

	if journal == nil || cfg.JournalRetentionDays <= 0 {
		return nil
	}

	purgeCtx, purgeCancel := context.WithTimeout(ctx, 5*time.Minute)
	defer purgeCancel()

	purgedCount, purgeErr := journal.PurgeRuns(purgeCtx, cfg.JournalRetentionDays, time.Now())
	if purgeErr != nil {
		log.Error().Err(purgeErr).Msg("Failed to purge old journal rows")
	} else if purgedCount > 0 {
		log.Info().Int64("purged_count", purgedCount).Msg("Purged old journal rows")
	}
	return nil
}

// runServer starts the read-only HTTP API.
func runServer(cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	var runs storage.RunLister
	if cfg.DBPath != "" {
		dbCfg := database.NewConfig(cfg.DBPath)
		dbCfg.ReadOnly = true

		db, err := database.NewDB(dbCfg)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.DBPath).Msg("Run journal unavailable, /v1/runs will be empty")
		} else {
			defer db.Close()
			runs = database.NewJournal(db)
		}
	}

	repo := storage.NewRepository(partition.NewFileStore(cfg.DataDir), runs)

	ctx, cancel := signalContext()
	defer cancel()
	return server.RunServer(ctx, repo, cfg.ListenAddr(), loc, log.Logger, cfg.APIKey)
}

// runMigrate applies pending journal migrations, or rolls back the last
// down of them.
func runMigrate(cfg *config.Config, down int) error {
	db, err := database.NewDB(database.NewConfig(cfg.DBPath))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if down > 0 {
		ctx, cancel := signalContext()
		defer cancel()
		return db.Rollback(ctx, down)
	}
	return nil
}
