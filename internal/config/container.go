package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kitaabse-pipeline/internal/domain"
	"kitaabse-pipeline/internal/infra/queue"
	"kitaabse-pipeline/internal/infra/supabase"
	"kitaabse-pipeline/internal/repository"
	"kitaabse-pipeline/internal/service"
	"kitaabse-pipeline/pkg/logger"
)

// visionPageTimeout leaves room for pacing and one quota cooldown per page.
const visionPageTimeout = 5 * time.Minute

var _ domain.Config = (*AppConfig)(nil)

// Container holds all application dependencies
type Container struct {
	Config             *AppConfig
	Logger             domain.Logger
	SupabaseClient     domain.SupabaseClient
	AuthService        domain.TokenValidator
	DocumentRepository domain.DocumentRepository
	Storage            domain.ObjectStorage
	Queue              domain.TaskQueue
	Locker             domain.Locker
	Extractor          domain.PageExtractor
	Synthesizer        domain.Synthesizer
	Inspector          *service.PDFInspector
	Pipeline           *service.Pipeline
	Worker             *service.Worker
	Sweeper            *service.Sweeper
	UploadService      *service.UploadService
	ProgressReporter   *service.ProgressReporter

	closers []func() error
}

// unconfiguredAuth rejects every token when no auth provider is set up.
type unconfiguredAuth struct{}

func (unconfiguredAuth) ValidateToken(string) (*domain.User, error) {
	return nil, fmt.Errorf("%w: authentication is not configured", domain.ErrInvalidToken)
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *AppConfig) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Container{
		Config: cfg,
		Logger: logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}),
	}
	if err := c.wire(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) wire(ctx context.Context) error {
	cfg := c.Config

	c.AuthService = service.NewAuthService(unconfiguredAuth{}, c.Logger)
	c.DocumentRepository = repository.NewMemoryDocumentRepository()
	if cfg.SupabaseURL != "" {
		client := supabase.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseKey, c.Logger)
		if err := client.Initialize(); err != nil {
			return err
		}
		c.SupabaseClient = client
		c.AuthService = service.NewAuthService(client, c.Logger)
		c.DocumentRepository = repository.NewSupabaseDocumentRepository(client.DB(), c.Logger)
	} else {
		c.Logger.Warn("SUPABASE_URL not set; documents are kept in memory and uploads cannot authenticate")
	}

	if err := c.wireStorage(ctx); err != nil {
		return err
	}
	if err := c.wireQueue(ctx); err != nil {
		return err
	}
	extractor, err := c.newExtractor(ctx)
	if err != nil {
		return err
	}
	c.Extractor = extractor

	c.Synthesizer = service.NewAzureSynthesizer(service.AzureSpeechConfig{
		Key:    cfg.AzureSpeechKey,
		Region: cfg.AzureSpeechRegion,
	}, c.Logger)

	c.Pipeline = service.NewPipeline(
		c.DocumentRepository,
		c.Extractor,
		c.Synthesizer,
		c.Storage,
		c.Queue,
		c.Locker,
		service.PipelineConfig{
			Gender:     cfg.TTSGender,
			Rate:       cfg.TTSRate,
			Volume:     cfg.TTSVolume,
			ScratchDir: cfg.ScratchDir,
		},
		c.Logger,
	)
	c.Worker = service.NewWorker(c.Queue, c.Pipeline, cfg.WorkerConcurrency, c.Logger)
	c.Sweeper = service.NewSweeper(c.DocumentRepository, c.Queue, c.Logger)

	c.Inspector = service.NewPDFInspector()
	c.UploadService = service.NewUploadService(
		c.DocumentRepository,
		c.Storage,
		c.Inspector,
		c.Queue,
		cfg.MaxFileSize,
		cfg.MaxCoverSize,
		c.Logger,
	)
	c.ProgressReporter = service.NewProgressReporter(c.Logger)
	return nil
}

func (c *Container) wireStorage(ctx context.Context) error {
	cfg := c.Config
	switch cfg.StorageBackend {
	case StorageGCS:
		gcs, err := service.NewGCSStorage(ctx, cfg.GCSBucket, c.Logger)
		if err != nil {
			return err
		}
		c.Storage = gcs
		c.closers = append(c.closers, gcs.Close)
	default:
		if c.SupabaseClient == nil {
			return fmt.Errorf("STORAGE_BACKEND=supabase requires SUPABASE_URL")
		}
		c.Storage = service.NewSupabaseStorage(c.SupabaseClient.DB().Storage, cfg.StorageBucket, c.Logger)
	}
	return nil
}

func (c *Container) wireQueue(ctx context.Context) error {
	cfg := c.Config
	if cfg.RedisAddr == "" {
		c.Queue = queue.NewMemoryQueue()
		c.Locker = queue.NewMemoryLocker()
		return nil
	}

	client, err := queue.NewRedisClient(ctx, queue.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	c.closers = append(c.closers, client.Close)
	c.Queue = queue.NewRedisQueue(client, cfg.QueuePrefix)
	c.Locker = queue.NewRedisLocker(client, cfg.QueuePrefix)
	c.Logger.Info("Job queue connected", "addr", cfg.RedisAddr, "prefix", cfg.QueuePrefix)
	return nil
}

func (c *Container) newExtractor(ctx context.Context) (domain.PageExtractor, error) {
	cfg := c.Config
	switch cfg.ExtractionStrategy {
	case "ocr":
		return service.NewOCRExtractor(service.NewPDFProcessor(c.Logger, 0), service.NewTesseractEngine()), nil
	case "vision":
		model, err := service.NewGeminiVision(ctx, cfg.GCPProjectID, cfg.GCPLocation, cfg.VisionModel, c.Logger)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, model.Close)
		proc := service.NewPDFProcessor(c.Logger, visionPageTimeout)
		return service.NewVisionExtractor(proc, model, service.VisionPacing, c.Logger), nil
	default:
		return service.NewTextExtractor(service.NewPDFProcessor(c.Logger, 0)), nil
	}
}

// Close releases external clients in reverse order of creation.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// GetLogger returns the logger instance
func (c *Container) GetLogger() domain.Logger {
	return c.Logger
}
