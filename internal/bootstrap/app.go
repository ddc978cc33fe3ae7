package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"cv-processing-backend/internal/auth"
	"cv-processing-backend/internal/correlator"
	"cv-processing-backend/internal/documents"
	"cv-processing-backend/internal/jobs"
	"cv-processing-backend/internal/processor"
	"cv-processing-backend/internal/queue"
	"cv-processing-backend/internal/quota"
	"cv-processing-backend/internal/shared/config"
	"cv-processing-backend/internal/shared/metrics"
	"cv-processing-backend/internal/shared/resilience"
	"cv-processing-backend/internal/shared/server"
	"cv-processing-backend/internal/shared/storage/db"
	"cv-processing-backend/internal/shared/storage/object"
	localstore "cv-processing-backend/internal/shared/storage/object/local"
	s3store "cv-processing-backend/internal/shared/storage/object/s3"
	"cv-processing-backend/internal/submission"
	"cv-processing-backend/internal/usage"
)

// App holds the wired dependencies of the API process.
type App struct {
	Config     config.Config
	Router     *gin.Engine
	DB         *sql.DB
	Redis      redis.UniversalClient
	Metrics    *metrics.Registry
	Store      object.ObjectStore
	Ledger     *quota.Ledger
	Machine    *jobs.Machine
	Processor  processor.Processor
	Submission *submission.Service
	Correlator *correlator.Correlator
	Usage      *usage.Reporter
	Reaper     *jobs.Reaper

	closers []func()
}

// Build wires repositories, the ledger, the processor and the router from cfg.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()
	app := &App{Config: cfg, Metrics: metrics.New()}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.DB = sqlDB
	if sqlDB != nil {
		app.closers = append(app.closers, func() { _ = sqlDB.Close() })
	}

	redisClient, err := buildRedis(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Redis = redisClient
	if redisClient != nil {
		app.closers = append(app.closers, func() { _ = redisClient.Close() })
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store = store

	var (
		jobRepo jobs.Repo
		docRepo documents.Repo
	)
	if sqlDB != nil {
		jobRepo = jobs.NewPGRepo(sqlDB)
		docRepo = documents.NewPGRepo(sqlDB)
	} else {
		jobRepo = jobs.NewMemoryRepo()
		docRepo = documents.NewMemoryRepo()
	}

	quotaStore, err := buildQuotaStore(cfg, sqlDB, redisClient)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Ledger = quota.NewLedger(quotaStore,
		quota.WithLimit(cfg.DailyLimit),
		quota.WithLocation(cfg.Location()),
		quota.WithSubmissionCounter(jobRepo),
		quota.WithMetrics(app.Metrics),
	)
	app.Machine = jobs.NewMachine(jobRepo, app.Ledger, jobs.WithMachineMetrics(app.Metrics))

	proc, err := buildProcessor(ctx, app)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Processor = proc

	docs := documents.NewService(store, docRepo)
	app.Submission = submission.NewService(app.Ledger, app.Machine, docs, proc, submission.WithCallbackURL(cfg.CallbackURL))
	app.Correlator = correlator.New(app.Machine, app.Metrics)
	app.Usage = usage.NewReporter(app.Ledger)
	app.Reaper = jobs.NewReaper(app.Machine, cfg.StaleJobTimeout, cfg.ReaperInterval, app.Metrics)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:  cfg,
		Metrics: app.Metrics,
		Public:  []server.RouteRegistrar{auth.NewTokenHandler(0)},
		Upload:  submission.NewHandler(app.Submission, cfg.MaxUploadBytes),
		API: []server.RouteRegistrar{
			documents.NewHandler(docs),
			jobs.NewHandler(jobRepo),
			usage.NewHandler(app.Usage),
		},
		Webhooks: []server.RouteRegistrar{correlator.NewHandler(app.Correlator)},
		Ready:    app.ready,
	})

	log.Printf("bootstrap: delivery=%s transport=%s quota_store=%s object_store=%s",
		proc.Delivery(), cfg.ProcessorTransport, describeQuotaStore(quotaStore), cfg.ObjectStoreType)
	return app, nil
}

// Close releases connections opened by Build.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) ready(ctx context.Context) error {
	if a.DB != nil {
		if err := a.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	if isDevLike(cfg.Env) {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return sqlDB, nil
}

func buildRedis(ctx context.Context, cfg config.Config) (redis.UniversalClient, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		if cfg.QuotaStore == "redis" {
			return nil, fmt.Errorf("QUOTA_STORE=redis requires REDIS_URL")
		}
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		if isDevLike(cfg.Env) && cfg.QuotaStore != "redis" {
			log.Printf("bootstrap: redis unreachable; quota falls back: %v", err)
			return nil, nil
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

// buildQuotaStore picks the ledger backend. In auto mode Redis wins over
// Postgres, and memory is the last resort.
func buildQuotaStore(cfg config.Config, sqlDB *sql.DB, redisClient redis.UniversalClient) (quota.Store, error) {
	switch cfg.QuotaStore {
	case "memory":
		return quota.NewMemoryStore(), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("QUOTA_STORE=redis requires a reachable REDIS_URL")
		}
		return quota.NewRedisStore(redisClient), nil
	case "postgres":
		if sqlDB == nil {
			return nil, fmt.Errorf("QUOTA_STORE=postgres requires DATABASE_URL")
		}
		return quota.NewPGStore(sqlDB), nil
	default:
		switch {
		case redisClient != nil:
			return quota.NewRedisStore(redisClient), nil
		case sqlDB != nil:
			return quota.NewPGStore(sqlDB), nil
		default:
			return quota.NewMemoryStore(), nil
		}
	}
}

func buildProcessor(ctx context.Context, app *App) (processor.Processor, error) {
	cfg := app.Config
	var base processor.Processor
	switch cfg.ProcessorTransport {
	case "sqs":
		client, err := queue.NewSQSClient(ctx, cfg.SQSQueueURL, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("build sqs client: %w", err)
		}
		base = processor.NewQueueDispatcher(client, cfg.CallbackURL, app.Metrics)
	case "nats":
		client, err := queue.NewNATSClient(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return nil, fmt.Errorf("build nats client: %w", err)
		}
		app.closers = append(app.closers, client.Close)
		base = processor.NewQueueDispatcher(client, cfg.CallbackURL, app.Metrics)
	default:
		if cfg.ProcessorURL == "" {
			log.Printf("bootstrap: MICROSERVICE_URL empty; submissions will fail with configuration_error")
		}
		base = processor.NewHTTPClient(cfg.ProcessorURL, cfg.ProcessorAPIKey, cfg.ProcessorTimeout,
			processor.WithDelivery(processor.ParseDelivery(cfg.ProcessorDelivery)),
			processor.WithMetrics(app.Metrics),
		)
	}

	policy := resilience.DefaultPolicy()
	policy.MaxAttempts = cfg.RetryMaxAttempts
	policy.InitialBackoff = cfg.RetryInitialBackoff
	policy.MaxBackoff = cfg.RetryMaxBackoff
	policy.BreakerEnabled = cfg.BreakerEnabled
	return processor.NewRetrying(base, resilience.NewExecutor(policy)), nil
}

func describeQuotaStore(s quota.Store) string {
	switch s.(type) {
	case *quota.RedisStore:
		return "redis"
	case *quota.PGStore:
		return "postgres"
	default:
		return "memory"
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
