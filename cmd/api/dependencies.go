package api

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	importcache "github.com/FACorreiaa/echo-ingest/internal/domain/import/cache"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/categorizer"
	importhandler "github.com/FACorreiaa/echo-ingest/internal/domain/import/handler"
	importrepo "github.com/FACorreiaa/echo-ingest/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/echo-ingest/internal/domain/import/service"
	"github.com/FACorreiaa/echo-ingest/internal/domain/recurring"
	recurringhandler "github.com/FACorreiaa/echo-ingest/internal/domain/recurring/handler"

	"github.com/FACorreiaa/echo-ingest/pkg/config"
	"github.com/FACorreiaa/echo-ingest/pkg/db"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	ImportRepo    importrepo.ImportRepository
	RecurringRepo *recurring.PostgresRepository

	// Services
	PreviewCache     importcache.Store
	Categorizer      categorizer.Categorizer
	RecurringService *recurring.Service
	ImportService    *importservice.ImportService

	// Handlers
	ImportHandler    *importhandler.ImportHandler
	RecurringHandler *recurringhandler.RecurringHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := deps.initServices(); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	if err := deps.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	d.ImportRepo = importrepo.NewPostgresImportRepository(d.DB.Pool)
	d.RecurringRepo = recurring.NewPostgresRepository(d.DB.Pool)

	d.Logger.Info("repositories initialized")
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() error {
	d.PreviewCache = importcache.NewMemoryStore(d.Config.Import.PreviewTTL, 10*time.Minute)
	d.Categorizer = buildCategorizer(d.Config.OpenAI, d.ImportRepo, d.Logger)

	d.RecurringService = recurring.NewService(d.RecurringRepo, recurring.NewDetector(recurringConfig(d.Config.Recurring)), d.Logger)

	d.ImportService = importservice.NewImportService(d.ImportRepo, d.PreviewCache, d.Logger).
		WithCategorizer(d.Categorizer).
		WithRecurringDetector(d.RecurringService).
		WithPreviewTTL(d.Config.Import.PreviewTTL).
		WithTimeouts(d.Config.Import.DedupTimeout, d.Config.Import.CategorizerTimeout).
		WithDefaultCurrency(d.Config.Import.DefaultCurrency)

	d.Logger.Info("services initialized", slog.Bool("ai_categorizer", d.Config.OpenAI.Enabled()))
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() error {
	d.ImportHandler = importhandler.NewImportHandler(d.ImportService, d.Logger, d.Config.Server.MaxUploadBytes)
	d.RecurringHandler = recurringhandler.NewRecurringHandler(d.RecurringService, d.Logger)

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}

// buildCategorizer layers user merchant rules over the AI categorizer when a key is
// configured, over keywords otherwise. Any AI failure degrades to keywords.
func buildCategorizer(cfg config.OpenAIConfig, rules categorizer.RuleStore, logger *slog.Logger) categorizer.Categorizer {
	keywords := categorizer.NewKeywordCategorizer()
	if !cfg.Enabled() {
		return categorizer.NewRuleCategorizer(rules, keywords)
	}

	ai := categorizer.NewOpenAICategorizer(openai.NewClient(cfg.APIKey), cfg.Model, categorizer.Categories())
	withRules := categorizer.NewRuleCategorizer(rules, ai)
	return categorizer.WithFallback(withRules, keywords, categorizer.OnFallback(func(err error) {
		logger.Warn("ai categorizer failed, using keywords", slog.Any("error", err))
	}))
}

func recurringConfig(c config.RecurringConfig) recurring.Config {
	return recurring.Config{
		MinOccurrences:      c.MinOccurrences,
		AmountTolerance:     c.AmountTolerance,
		IntervalTolerance:   c.IntervalTolerance,
		HabitualMinCount:    c.HabitualMinCount,
		HabitualMonthlyRate: c.HabitualMonthlyRate,
		HabitualMaxCV:       c.HabitualMaxCV,
		CancelledAfterGaps:  c.CancelledAfterGaps,
	}
}
