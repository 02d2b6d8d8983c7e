package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/common"
	"github.com/irjudson/lumina/internal/housekeeping"
	"github.com/irjudson/lumina/internal/inference"
	"github.com/irjudson/lumina/internal/jobs/controller"
	"github.com/irjudson/lumina/internal/jobs/definitions"
	"github.com/irjudson/lumina/internal/jobs/progress"
	"github.com/irjudson/lumina/internal/jobs/registry"
	jobstore "github.com/irjudson/lumina/internal/jobs/store"
	"github.com/irjudson/lumina/internal/models"
	"github.com/irjudson/lumina/internal/worker"
)

// configPaths is a custom flag type that allows multiple -config flags,
// later files overriding earlier ones.
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	showVersion = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Lumina job execution core %s\n", common.GetVersion())
		os.Exit(0)
	}

	common.InstallCrashHandler("./logs")
	defer common.RecoverWithCrashFile()

	if len(configFiles) == 0 {
		if _, err := os.Stat("lumina.toml"); err == nil {
			configFiles = append(configFiles, "lumina.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	logger := common.SetupLogger(config)
	defer common.Stop()

	common.PrintBanner(config, logger)

	if err := run(config, logger); err != nil {
		logger.Fatal().Err(err).Msg("lumina exited with error")
		os.Exit(1)
	}
}

func run(config *common.Config, logger arbor.ILogger) error {
	ctx := context.Background()

	jobStore, err := jobstore.New(ctx, config, logger)
	if err != nil {
		return fmt.Errorf("construct job store: %w", err)
	}
	defer jobStore.Close()

	var progressDB *sql.DB
	if config.Storage.Type == "postgres" || config.Storage.Type == "" {
		pc := config.Storage.Postgres
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			pc.Host, pc.Port, pc.User, pc.Password, pc.Database, pc.SSLMode,
		)
		progressDB, err = sql.Open("postgres", dsn)
		if err != nil {
			return fmt.Errorf("open progress channel connection: %w", err)
		}
		defer progressDB.Close()
	}

	progressChannel, err := progress.New(config, progressDB, logger)
	if err != nil {
		return fmt.Errorf("construct progress channel: %w", err)
	}

	catalogStore, err := catalog.NewPostgresStore(ctx, config.Storage.Postgres, logger)
	if err != nil {
		return fmt.Errorf("construct catalog store: %w", err)
	}
	defer catalogStore.Close()

	providerFactory := inference.NewProviderFactory(config.Gemini, config.Claude, logger)
	defer providerFactory.Close()

	reg := registry.New()
	autoTag := &definitions.AutoTagDefinition{Store: catalogStore, Provider: providerFactory}
	available := map[string]models.JobDefinition{
		"scan":              &definitions.ScanDefinition{Store: catalogStore},
		"detect_duplicates": &definitions.DetectDuplicatesDefinition{Store: catalogStore},
		"detect_bursts":     &definitions.DetectBurstsDefinition{Store: catalogStore},
		"auto_tag":          autoTag,
	}

	enabled := config.Jobs.EnabledDefinitions
	if len(enabled) == 0 {
		enabled = []string{"scan", "detect_duplicates", "detect_bursts", "auto_tag"}
	}
	for _, name := range enabled {
		def, ok := available[name]
		if !ok {
			logger.Warn().Str("job_type", name).Msg("enabled_definitions names an unknown job type, skipping")
			continue
		}
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("register job definition %q: %w", name, err)
		}
	}
	defer autoTag.Close()

	numWorkers := config.Jobs.MaxWorkers
	if numWorkers <= 0 {
		numWorkers = common.DefaultMaxJobWorkers
	}
	pool := worker.New(logger, numWorkers)
	pool.Start()
	defer pool.Shutdown(true, 30*time.Second)

	ctrl := controller.New(jobStore, progressChannel, pool, reg, logger, config.Jobs)

	scheduler, err := housekeeping.New(jobStore, progressChannel, logger, config.Jobs.ProgressCleanupSchedule, config.Jobs.ProgressMaxAge)
	if err != nil {
		return fmt.Errorf("construct housekeeping scheduler: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	logger.Info().
		Strs("enabled_definitions", enabled).
		Int("max_workers", numWorkers).
		Str("health", fmt.Sprintf("%v", ctrl.HealthProbe())).
		Msg("job execution core ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutdown signal received")
	common.PrintShutdownBanner(logger)
	return nil
}
