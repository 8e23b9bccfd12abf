package app

import (
	"context"
	"fmt"
	"os"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"github.com/kestrelmedia/studioforge/internal/db"
	"github.com/kestrelmedia/studioforge/internal/pkg/logger"
	"github.com/kestrelmedia/studioforge/internal/sse"

	studioapi "github.com/kestrelmedia/studioforge/internal/api/studio"
	redisbus "github.com/kestrelmedia/studioforge/internal/platform/redis"
	platformconfig "github.com/kestrelmedia/studioforge/internal/platform/config"
	"github.com/kestrelmedia/studioforge/internal/studio/artifacts"
	"github.com/kestrelmedia/studioforge/internal/studio/dashboard"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	"github.com/kestrelmedia/studioforge/internal/studio/repo"
	"github.com/kestrelmedia/studioforge/internal/studio/support"

	platformlogger "github.com/kestrelmedia/studioforge/internal/platform/logger"
	"github.com/kestrelmedia/studioforge/internal/services"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type App struct {
	Log			*logger.Logger
	DB			*gorm.DB
	Router		*gin.Engine
	Cfg			Config
	Repos		Repos
	Services	Services
	cancel		context.CancelFunc
}

func New() (*App, error) {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	// Config
	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)
	
	// Postgres
	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	// Repos
	reposet := wireRepos(theDB, log)
	// Services
	serviceset, err := wireServices(theDB, log, cfg, reposet)
	if err != nil {
		log.Sync()
		return nil, err
	}
	// Handlers
	handlerset := wireHandlers(log, serviceset)
	// Middleware
	middleware := wireMiddleware(log, serviceset)
	// Router
	router := wireRouter(handlerset, middleware)

	// Studio job system (spec.md): mounted onto the same engine rather
	// than standing up a second gin.Engine, so /api/studio/* shares this
	// process's port, TLS termination, and CORS policy.
	if err := mountStudioRoutes(router, theDB, serviceset.Auth, log); err != nil {
		log.Sync()
		return nil, fmt.Errorf("mount studio routes: %w", err)
	}

	// App
	return &App{
		Log:			log,
		DB:				theDB,
		Router:		router,
		Cfg:			cfg,
		Repos:		reposet,
		Services:	serviceset,
	}, nil
}

// Start marks the app as running. This process only ever serves HTTP;
// the studio claim loop lives in the separate cmd/studioworker binary,
// so there is nothing else to spin up here.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	_, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

// mountStudioRoutes wires the studio job system's repos, services, and
// gin handlers onto the existing router, independent of the studio
// worker pool (cmd/studioworker runs that separately, polling the same
// tables). Wiring it here too means a single-process deployment (small
// environments, local dev) gets the full HTTP surface without also
// needing the standalone worker binary running.
func mountStudioRoutes(router *gin.Engine, theDB *gorm.DB, authSvc services.AuthService, log *logger.Logger) error {
	if err := domain.AutoMigrate(theDB); err != nil {
		return fmt.Errorf("studio domain automigrate: %w", err)
	}

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	studioLog, err := platformlogger.New(logMode)
	if err != nil {
		return fmt.Errorf("init studio logger: %w", err)
	}

	cfg := platformconfig.Load()

	jobRepo := repo.NewJobRepo(theDB, studioLog)
	supportRepo := repo.NewSupportRepo(theDB, studioLog)
	dashboardRepo := repo.NewDashboardRepo(theDB, studioLog)

	ctx := context.Background()
	storageClient, err := newBucketClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init storage client for studio signer: %w", err)
	}
	signer := artifacts.NewGCSSigner(storageClient, artifacts.GCSSignerConfig{BucketName: cfg.GCSBucket})

	supportSvc := support.New(supportRepo)
	dashboardSvc := dashboard.New(theDB, dashboardRepo, signer, cfg, studioLog)

	hub := sse.NewSSEHub(log)
	startRedisForwarder(ctx, hub, log)

	studioapi.Mount(router, studioapi.RouterConfig{
		DB:        theDB,
		AuthSvc:   authSvc,
		Cfg:       cfg,
		Jobs:      studioapi.NewJobsHandler(theDB, jobRepo),
		Support:   studioapi.NewSupportHandler(supportSvc),
		Dashboard: studioapi.NewDashboardHandler(dashboardSvc),
		Events:    studioapi.NewEventsHandler(hub),
	})
	return nil
}

// startRedisForwarder relays job-lifecycle events cmd/studioworker
// publishes on the shared Redis channel into this process's local
// SSEHub, so /api/studio/events sees progress from jobs this process
// never touched directly. With REDIS_ADDR unset the forwarder never
// starts, and /api/studio/events then receives no job events.
func startRedisForwarder(ctx context.Context, hub *sse.SSEHub, log *logger.Logger) {
	bus, err := redisbus.NewSSEBus(log)
	if err != nil {
		log.Info("studio job events: redis SSE bus unavailable, no job events will reach /api/studio/events", "error", err)
		return
	}
	if err := bus.StartForwarder(ctx, hub.Broadcast); err != nil {
		log.Warn("studio job events: redis forwarder failed to start", "error", err)
		_ = bus.Close()
	}
}

// newBucketClient picks an emulator-mode or production GCS client the
// same way cmd/studioworker's newStorageClient does.
func newBucketClient(ctx context.Context, cfg platformconfig.Config) (*storage.Client, error) {
	if host := cfg.GCSEmulatorHost; host != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", host)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	return storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
}










