package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sahilchouksey/study-ingest/api"
	"github.com/sahilchouksey/study-ingest/config"
	"github.com/sahilchouksey/study-ingest/database"
	"github.com/sahilchouksey/study-ingest/handlers"
	"github.com/sahilchouksey/study-ingest/model"
	"github.com/sahilchouksey/study-ingest/router"
	"github.com/sahilchouksey/study-ingest/services"
	"github.com/sahilchouksey/study-ingest/services/ai"
	"github.com/sahilchouksey/study-ingest/services/cron"
	"github.com/sahilchouksey/study-ingest/services/queue"
	"github.com/sahilchouksey/study-ingest/services/splitter"
	"github.com/sahilchouksey/study-ingest/services/storage"
	"github.com/sahilchouksey/study-ingest/utils"
	"github.com/sahilchouksey/study-ingest/utils/auth"
	"github.com/sahilchouksey/study-ingest/utils/cache"
	"github.com/sahilchouksey/study-ingest/utils/middleware"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds how long in-flight requests get on exit
const ShutdownTimeout = 10 * time.Second

// Container owns every long-lived dependency of the process
type Container struct {
	Env   *config.EnviornmentVariable
	Log   *utils.Logger
	Store *database.GORMStore
	Redis *cache.RedisCache // nil when REDIS_URL is unset

	Queue   queue.TaskQueue
	Storage storage.ObjectStorage

	Tasks     *services.TaskService
	Retrieval *services.RetrievalService
	Ingest    *services.IngestService
}

// Bootstrap loads the environment and builds the logger
func Bootstrap() (*config.EnviornmentVariable, *utils.Logger, error) {
	if err := config.LoadENV(); err != nil {
		return nil, nil, err
	}
	env, err := config.Get()
	if err != nil {
		return nil, nil, err
	}
	log, err := utils.NewLogger(env.GO_ENV)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return env, log, nil
}

// OpenDatabase connects and migrates
func OpenDatabase(env *config.EnviornmentVariable, log *utils.Logger) (*database.GORMStore, error) {
	store, err := database.StartGORM(env, log)
	if err != nil {
		return nil, err
	}
	if err := store.Init(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize database tables: %w", err)
	}
	return store, nil
}

// NewContainer wires the database, redis, queue, storage, AI clients and
// the pipeline services
func NewContainer(ctx context.Context, env *config.EnviornmentVariable, log *utils.Logger) (*Container, error) {
	store, err := OpenDatabase(env, log)
	if err != nil {
		return nil, err
	}
	c := &Container{Env: env, Log: log, Store: store}

	if env.REDIS_URL != "" {
		redisCache, err := cache.NewRedisCache(env.REDIS_URL)
		if err != nil {
			if env.QUEUE_DRIVER == "redis" {
				c.Close()
				return nil, fmt.Errorf("redis is required for the redis queue: %w", err)
			}
			log.Warn("redis unavailable, query embedding cache disabled", "error", err)
		} else {
			c.Redis = redisCache
		}
	}

	switch env.QUEUE_DRIVER {
	case "redis":
		if c.Redis == nil {
			c.Close()
			return nil, errors.New("QUEUE_DRIVER=redis requires REDIS_URL")
		}
		c.Queue = queue.NewRedisQueue(c.Redis.GetClient(), "")
	case "memory", "":
		c.Queue = queue.NewMemoryQueue(0)
	default:
		c.Close()
		return nil, fmt.Errorf("unsupported QUEUE_DRIVER %q", env.QUEUE_DRIVER)
	}

	storageCfg := storage.Config{
		Provider:       env.STORAGE_PROVIDER,
		Bucket:         env.STORAGE_BUCKET,
		Region:         env.STORAGE_REGION,
		Endpoint:       env.STORAGE_ENDPOINT,
		AccessKey:      env.STORAGE_ACCESS_KEY,
		SecretKey:      env.STORAGE_SECRET_KEY,
		LocalDir:       env.STORAGE_LOCAL_DIR,
		GCSCredentials: env.GCS_CREDENTIALS,
	}
	provider := storage.NewClientProvider(func(ctx context.Context) (storage.ObjectStorage, error) {
		return storage.New(ctx, storageCfg)
	}, env.STORAGE_CLIENT_MAX_AGE, log)
	// fail fast on bad credentials instead of on the first task
	if err := provider.Init(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}
	c.Storage = provider

	embedder, err := ai.NewOpenAIEmbedder(ai.EmbedderConfig{
		BaseURL: env.EMBEDDING_BASE_URL,
		APIKey:  env.EMBEDDING_API_KEY,
		Model:   env.EMBEDDING_MODEL,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	var queryCache cache.Cache
	if c.Redis != nil {
		queryCache = c.Redis
	}
	embeddings := services.NewEmbeddingService(embedder, env.EMBEDDING_DIMENSIONS, queryCache, log)

	inference := ai.NewInferenceClient(ai.InferenceConfig{
		APIKey:      env.INFERENCE_API_KEY,
		BaseURL:     env.INFERENCE_BASE_URL,
		Model:       env.INFERENCE_MODEL,
		RateLimiter: ai.NewRateLimiter(ai.DefaultRateLimiterConfig()),
	})

	db := store.GetDB()
	c.Tasks = services.NewTaskService(db, c.Storage, log)
	c.Retrieval = services.NewRetrievalService(db, embeddings, log)
	c.Ingest = services.NewIngestService(services.IngestDeps{
		Tasks:       c.Tasks,
		Storage:     c.Storage,
		Splitter:    splitter.New(splitter.Config{MaxPages: env.MAX_PDF_PAGES}),
		Extraction:  services.NewContentExtractionService(ai.NewPageExtractor(inference), env.EXTRACTION_RETRY_DELAY, log),
		Embeddings:  embeddings,
		Persistence: services.NewPersistenceService(db, c.Storage, log),
	}, log)

	return c, nil
}

// Close releases the queue, redis and database
func (c *Container) Close() {
	if c.Queue != nil {
		if err := c.Queue.Close(); err != nil {
			c.Log.Warn("failed to close queue", "error", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Log.Warn("failed to close redis", "error", err)
		}
	}
	if err := c.Store.Close(); err != nil {
		c.Log.Warn("failed to close database", "error", err)
	}
	c.Log.Sync()
}

// Serve runs the HTTP API until ctx is cancelled. With withWorker the queue
// consumer and cron jobs run in the same process.
func (c *Container) Serve(ctx context.Context, withWorker bool) error {
	if c.Env.JWT_SECRET == "" {
		return errors.New("JWT_SECRET environment variable is not set")
	}
	if !withWorker {
		if _, ok := c.Queue.(*queue.MemoryQueue); ok {
			c.Log.Warn("in-memory queue without a worker, started tasks will not be processed")
		}
	}

	server := api.NewAPIServer(fmt.Sprintf(":%d", c.Env.PORT), c.Log)
	app := server.GetEngine()

	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins:    c.Env.ALLOWED_ORIGINS,
		RateLimitRequests: c.Env.RATE_LIMIT_REQUESTS,
		RateLimitWindow:   c.Env.RATE_LIMIT_WINDOW,
	}, c.Log)

	probes := map[string]handlers.Pinger{}
	if c.Redis != nil {
		probes["redis"] = c.Redis
	}
	router.SetupRoutes(app, router.Dependencies{
		Store:     c.Store,
		Tasks:     c.Tasks,
		Retrieval: c.Retrieval,
		Queue:     c.Queue,
		Storage:   c.Storage,
		JWT:       c.JWTManager(),
		Probes:    probes,
		Log:       c.Log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Run)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if withWorker {
		g.Go(func() error { return c.RunWorker(gctx) })
	}
	return g.Wait()
}

// RunWorker consumes the task queue and runs the cron jobs until ctx is
// cancelled
func (c *Container) RunWorker(ctx context.Context) error {
	worker, err := services.NewWorker(c.Queue, c.Ingest, services.WorkerConfig{
		Concurrency:  c.Env.WORKER_CONCURRENCY,
		DrainTimeout: c.Env.WORKER_DRAIN_TIMEOUT,
	}, c.Log)
	if err != nil {
		return err
	}

	if c.Env.CRON_ENABLED {
		cronManager := cron.NewCronManager(c.Store.GetDB(), c.Queue, c.Tasks, c.Env.STALE_TASK_AFTER, c.Log)
		if err := cronManager.Start(); err != nil {
			c.Log.Warn("failed to start cron jobs", "error", err)
		} else {
			defer cronManager.Stop()
		}
	}

	return worker.Run(ctx)
}

// IngestTask processes one pending task synchronously, bypassing the queue
func (c *Container) IngestTask(ctx context.Context, taskID string) error {
	task, err := c.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	return c.Ingest.Process(ctx, queue.TaskMessage{
		TaskID:   task.ID,
		CourseID: task.CourseID,
		Filename: task.Filename,
		FileSize: task.FileSize,
		PubDate:  task.PubDate,
	})
}

// Watch turns files dropped into <dir>/<courseId>/ into queued tasks. The
// worker runs alongside so the in-memory queue is drained too.
func (c *Container) Watch(ctx context.Context, dir string) error {
	if dir == "" {
		return errors.New("no drop folder configured, set WATCH_DIR or --dir")
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return err
	}

	// files already sit under the storage root when both point at the same folder
	inPlace := false
	if c.Storage.Provider() == storage.ProviderLocal {
		if root, err := filepath.Abs(c.Env.STORAGE_LOCAL_DIR); err == nil && root == absDir {
			inPlace = true
		}
	}

	watcher := storage.NewWatcher(absDir, 0, func(ctx context.Context, courseID, filename string, size int64) error {
		if !inPlace {
			f, err := os.Open(filepath.Join(absDir, courseID, filename))
			if err != nil {
				return err
			}
			defer f.Close()
			key := model.ObjectKey(courseID, filename)
			if err := c.Storage.Put(ctx, key, f, storage.ContentType(filename)); err != nil {
				return fmt.Errorf("failed to upload %s: %w", key, err)
			}
		}

		task, err := c.Tasks.ReserveTask(ctx, services.ReserveTaskRequest{
			CourseID: courseID,
			Filename: filename,
			FileSize: size,
		})
		if err != nil {
			if !inPlace {
				if derr := c.Storage.Delete(ctx, model.ObjectKey(courseID, filename)); derr != nil {
					c.Log.Warn("failed to remove rejected upload", "course_id", courseID, "filename", filename, "error", derr)
				}
			}
			return err
		}
		return c.Queue.Enqueue(ctx, queue.TaskMessage{
			TaskID:   task.ID,
			CourseID: task.CourseID,
			Filename: task.Filename,
			FileSize: task.FileSize,
		})
	}, c.Log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return c.RunWorker(gctx) })
	return g.Wait()
}

// JWTManager builds the service token manager from the environment
func (c *Container) JWTManager() *auth.JWTManager {
	return NewJWTManager(c.Env)
}

// NewJWTManager builds a service token manager; tokens do not expire unless
// JWT_SECRET is rotated
func NewJWTManager(env *config.EnviornmentVariable) *auth.JWTManager {
	return auth.NewJWTManager(auth.JWTConfig{
		Secret: env.JWT_SECRET,
		Issuer: env.JWT_ISSUER,
	})
}
