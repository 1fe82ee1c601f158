// Package app builds NetWatch's dependency graph and runs the process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/netwatch/internal/api"
	"github.com/JakeFAU/netwatch/internal/clock/system"
	"github.com/JakeFAU/netwatch/internal/config"
	"github.com/JakeFAU/netwatch/internal/datastore"
	"github.com/JakeFAU/netwatch/internal/dispatcher"
	"github.com/JakeFAU/netwatch/internal/fetcher/auto"
	"github.com/JakeFAU/netwatch/internal/fetcher/headless"
	"github.com/JakeFAU/netwatch/internal/fetcher/static"
	"github.com/JakeFAU/netwatch/internal/hash/digest"
	"github.com/JakeFAU/netwatch/internal/headless/detector"
	"github.com/JakeFAU/netwatch/internal/netwatch"
	"github.com/JakeFAU/netwatch/internal/notify"
	"github.com/JakeFAU/netwatch/internal/policy/ratelimit"
	"github.com/JakeFAU/netwatch/internal/processor"
	memorypublisher "github.com/JakeFAU/netwatch/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/netwatch/internal/publisher/pubsub"
	"github.com/JakeFAU/netwatch/internal/scheduler"
	keyringsecrets "github.com/JakeFAU/netwatch/internal/secrets/keyring"
	memorysecrets "github.com/JakeFAU/netwatch/internal/secrets/memory"
	gcsstorage "github.com/JakeFAU/netwatch/internal/storage/gcs"
	"github.com/JakeFAU/netwatch/internal/storage/jsonfile"
	localstorage "github.com/JakeFAU/netwatch/internal/storage/local"
	memorystorage "github.com/JakeFAU/netwatch/internal/storage/memory"
	"github.com/JakeFAU/netwatch/internal/storage/sqlite"
)

const shutdownTimeout = 30 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store     *datastore.Store
	processor *processor.Processor
	scheduler *scheduler.Scheduler
	apiServer *api.Server

	fetcherClose func()
	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
}

// Build creates the application's dependencies. The datastore is loaded from its backend
// and seeded from cfg.Settings when its configuration map is empty.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	a.logger.Info("building application dependencies")

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	clock := system.New(loc)

	backend, err := setupBackend(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	a.store, err = datastore.Open(ctx, backend, datastore.WithClock(clock))
	if err != nil {
		if backend != nil {
			_ = backend.Close()
		}
		return nil, fmt.Errorf("datastore init failed: %w", err)
	}
	a.seedSettings()

	fetcher, closeFetcher, err := NewFetcher(cfg.Fetcher, logger)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.fetcherClose = closeFetcher

	hasher, err := digest.New(cfg.Processor.HashAlgorithm)
	if err != nil {
		a.release()
		return nil, fmt.Errorf("hasher init failed: %w", err)
	}

	secrets, err := NewSecretStore(cfg.Secrets)
	if err != nil {
		a.release()
		return nil, err
	}
	notifier := notify.New(a.store, secrets, notify.DefaultTransports(), logger)

	var opts []processor.Option
	blobStore, err := a.setupSnapshots(ctx)
	if err != nil {
		a.release()
		return nil, err
	}
	if blobStore != nil {
		opts = append(opts, processor.WithBlobStore(blobStore))
	}
	topic := cfg.Processor.Topic
	if topic == "" {
		topic = cfg.PubSub.TopicName
	}
	publisher, err := a.setupPublisher(ctx, topic)
	if err != nil {
		a.release()
		return nil, err
	}
	if publisher != nil {
		opts = append(opts, processor.WithPublisher(publisher))
	}

	a.processor = processor.New(a.store, fetcher, hasher, notifier, clock, processor.Config{
		NotifyOnFirstFetch: cfg.Processor.NotifyOnFirstFetch,
		SnapshotPrefix:     cfg.Snapshots.Prefix,
		Topic:              topic,
	}, logger, opts...)
	a.logger.Info("processor config",
		zap.Bool("notify_on_first_fetch", cfg.Processor.NotifyOnFirstFetch),
		zap.String("hash_algorithm", hasher.Algorithm()),
		zap.String("topic", topic),
	)

	poolCfg := dispatcher.Config{Workers: cfg.Scheduler.Workers, QueueDepth: cfg.Scheduler.QueueDepth}
	a.scheduler = scheduler.New(a.store, func() scheduler.Pool {
		return dispatcher.New(poolCfg, a.processor, logger)
	}, clock, scheduler.Config{Interval: cfg.Scheduler.Interval()}, logger)

	apiCfg := api.Config{RequestTimeout: cfg.Server.RequestTimeout()}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	a.apiServer = api.NewServer(a.store, a.processor, apiCfg, logger)
	return a, nil
}

// Handler exposes the API router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Store exposes the datastore.
func (a *App) Store() *datastore.Store {
	return a.store
}

// Scheduler exposes the polling loop.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Run serves the API, and optionally the scheduler, until ctx is canceled or the process
// receives SIGINT/SIGTERM. State is persisted on the way out.
func (a *App) Run(ctx context.Context, enableScheduler bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if enableScheduler {
		if err := a.scheduler.Start(); err != nil {
			_ = a.Close(ctx)
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	var wg sync.WaitGroup
	if interval := a.cfg.Storage.PersistInterval(); interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.persistLoop(ctx, interval)
		}()
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.scheduler.Running() {
		if err := a.scheduler.Stop(shutdownCtx); err != nil {
			a.logger.Error("scheduler stop error", zap.Error(err))
		}
	}
	return a.Close(shutdownCtx)
}

// Close persists state and releases every external resource.
func (a *App) Close(ctx context.Context) error {
	err := a.store.Persist(ctx)
	if err != nil {
		a.logger.Error("final persist failed", zap.Error(err))
	}
	a.release()
	if syncErr := a.logger.Sync(); syncErr != nil {
		a.logger.Debug("logger sync failed", zap.Error(syncErr))
	}
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) persistLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.store.Persist(ctx); err != nil {
				a.logger.Error("periodic persist failed", zap.Error(err))
			}
		}
	}
}

func (a *App) release() {
	if a.fetcherClose != nil {
		a.fetcherClose()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	a.closeStore()
}

func (a *App) closeStore() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("datastore close failed", zap.Error(err))
	}
}

// seedSettings writes cfg.Settings into an empty configuration map. An existing map is
// never overwritten by the config file.
func (a *App) seedSettings() {
	if len(a.cfg.Settings) == 0 || len(a.store.ConfigMap()) > 0 {
		return
	}
	a.store.UpdateConfig(a.cfg.Settings, true)
	a.logger.Info("seeded settings from config", zap.Int("keys", len(a.cfg.Settings)))
}

func setupBackend(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (datastore.Backend, error) {
	switch cfg.Backend {
	case "sqlite":
		logger.Info("using sqlite datastore backend", zap.String("path", cfg.SQLitePath))
		backend, err := sqlite.New(ctx, sqlite.Config{Path: cfg.SQLitePath}, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite backend init failed: %w", err)
		}
		return backend, nil
	case "memory":
		logger.Warn("using in-memory datastore; state is lost on exit")
		return nil, nil
	default:
		logger.Info("using json file datastore backend", zap.String("data_dir", cfg.DataDir))
		backend, err := jsonfile.New(jsonfile.Config{DataDir: cfg.DataDir})
		if err != nil {
			return nil, fmt.Errorf("json backend init failed: %w", err)
		}
		return backend, nil
	}
}

func (a *App) setupSnapshots(ctx context.Context) (netwatch.BlobStore, error) {
	cfg := a.cfg.Snapshots
	switch cfg.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS snapshot store", zap.String("bucket", cfg.GCSBucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local snapshot store", zap.String("path", cfg.BaseDir))
		return store, nil
	case "memory":
		a.logger.Info("using in-memory snapshot store")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context, topic string) (netwatch.Publisher, error) {
	if topic == "" {
		return nil, nil
	}
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub project configured, using in-memory publisher", zap.String("topic", topic))
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.publisher = gcppublisher.New(client, topic)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", topic),
	)
	return a.publisher, nil
}

// NewFetcher builds the configured page fetcher, wrapped in a per-domain rate limiter
// when rate_limit_rps is set. The returned func releases the fetcher's resources.
func NewFetcher(cfg config.FetcherConfig, logger *zap.Logger) (netwatch.Fetcher, func(), error) {
	var (
		fetcher netwatch.Fetcher
		release = func() {}
	)
	newStatic := func() *static.Fetcher {
		return static.New(static.Config{
			UserAgent:     cfg.UserAgent,
			Timeout:       cfg.PageLoadTimeout(),
			RespectRobots: cfg.RespectRobots,
		}, logger)
	}
	newHeadless := func() (*headless.Fetcher, error) {
		hf, err := headless.NewChromedp(headless.Config{
			MaxParallel:     cfg.MaxParallel,
			UserAgent:       cfg.UserAgent,
			PageLoadTimeout: cfg.PageLoadTimeout(),
			ExecPath:        cfg.ExecPath,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		return hf, nil
	}
	switch cfg.Mode {
	case "static":
		fetcher = newStatic()
		logger.Info("using static fetcher", zap.String("user_agent", cfg.UserAgent))
	case "auto":
		hf, err := newHeadless()
		if err != nil {
			return nil, nil, err
		}
		fetcher = auto.New(newStatic(), hf, detector.NewHeuristic(cfg.PromotionThreshold), logger)
		release = hf.Close
		logger.Info("using auto fetcher",
			zap.Int("max_parallel", cfg.MaxParallel),
			zap.Int("promotion_threshold", cfg.PromotionThreshold),
		)
	default:
		hf, err := newHeadless()
		if err != nil {
			return nil, nil, err
		}
		fetcher = hf
		release = hf.Close
		logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.MaxParallel))
	}
	if cfg.RateLimitRPS > 0 {
		fetcher = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimitRPS,
			DefaultBurst: cfg.RateLimitBurst,
		}).Wrap(fetcher)
		logger.Info("per-domain rate limit enabled", zap.Float64("rps", cfg.RateLimitRPS))
	}
	return fetcher, release, nil
}

// NewSecretStore returns the configured credential store.
func NewSecretStore(cfg config.SecretsConfig) (netwatch.SecretStore, error) {
	switch cfg.Backend {
	case "", "keyring":
		return keyringsecrets.New(), nil
	case "memory":
		return memorysecrets.New(), nil
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.Backend)
	}
}
