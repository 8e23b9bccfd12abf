// Command studioworker runs the studio job system's worker pool
// standalone: one claim/execute/requeue loop per studio type (spec.md
// §4.3), plus the long-form stitcher and the dashboard refresh worker.
// It runs alongside cmd/main.go, which serves only the HTTP surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	redisbus "github.com/kestrelmedia/studioforge/internal/platform/redis"
	teacherdb "github.com/kestrelmedia/studioforge/internal/db"
	pkglogger "github.com/kestrelmedia/studioforge/internal/pkg/logger"
	"github.com/kestrelmedia/studioforge/internal/platform/config"
	platformlogger "github.com/kestrelmedia/studioforge/internal/platform/logger"
	"github.com/kestrelmedia/studioforge/internal/studio/artifacts"
	"github.com/kestrelmedia/studioforge/internal/studio/dashboard"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	"github.com/kestrelmedia/studioforge/internal/studio/processors/audio"
	"github.com/kestrelmedia/studioforge/internal/studio/processors/commerce"
	"github.com/kestrelmedia/studioforge/internal/studio/processors/face"
	"github.com/kestrelmedia/studioforge/internal/studio/processors/fusion"
	"github.com/kestrelmedia/studioforge/internal/studio/processors/longform"
	"github.com/kestrelmedia/studioforge/internal/studio/processors/music"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/facevideo"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/image"
	musicprovider "github.com/kestrelmedia/studioforge/internal/studio/providers/music"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/tts"
	"github.com/kestrelmedia/studioforge/internal/studio/repo"
	studioruntime "github.com/kestrelmedia/studioforge/internal/studio/runtime"
	"github.com/kestrelmedia/studioforge/internal/studio/worker"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}

	// Two logger packages in play here, not a typo: internal/db (the
	// teacher's Postgres bootstrap) takes internal/pkg/logger, while every
	// internal/studio package takes the studio domain's own
	// internal/platform/logger. Same zap backend, different wrapper types.
	pkgLog, err := pkglogger.New(logMode)
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer pkgLog.Sync()

	log, err := platformlogger.New(logMode)
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Load()

	pg, err := teacherdb.NewPostgresService(pkgLog)
	if err != nil {
		log.Fatal("init postgres", "error", err)
	}
	db := pg.DB()
	if err := domain.AutoMigrate(db); err != nil {
		log.Fatal("studio domain automigrate", "error", err)
	}

	jobRepo := repo.NewJobRepo(db, log)
	artifactRepo := repo.NewArtifactRepo(db, log)
	providerRunRepo := repo.NewProviderRunRepo(db, log)
	longformRepo := repo.NewLongformRepo(db, log)

	ttsClient := tts.NewHTTPClient(cfg.TTSProviderName, cfg.TTSBaseURL, cfg.TTSAPIKey, cfg.ProviderMaxRetries, log)
	imageClient := image.NewHTTPClient(cfg.ImageProviderName, cfg.ImageBaseURL, cfg.ImageAPIKey, cfg.ProviderMaxRetries, log)
	faceVideoClient := facevideo.NewHTTPClient(cfg.FaceVideoProviderName, cfg.FaceVideoBaseURL, cfg.FaceVideoAPIKey, cfg.ProviderMaxRetries, log)
	musicClient := musicprovider.NewHTTPClient(cfg.MusicProviderName, cfg.MusicBaseURL, cfg.MusicAPIKey, cfg.ProviderMaxRetries, log)

	registry := studioruntime.NewRegistry()
	handlers := []studioruntime.Handler{
		&audio.Handler{
			DB: db, ArtifactRepo: artifactRepo, ProviderRuns: providerRunRepo,
			TTS: ttsClient, PollInterval: cfg.ProviderPollInterval, TotalTimeout: cfg.ProviderTotalDeadline,
		},
		&fusion.Handler{
			DB: db, ArtifactRepo: artifactRepo, ProviderRuns: providerRunRepo,
			FaceVideo: faceVideoClient, PollInterval: cfg.ProviderPollInterval, TotalTimeout: cfg.ProviderTotalDeadline,
		},
		&face.Handler{DB: db, ArtifactRepo: artifactRepo, Image: imageClient},
		&commerce.Handler{DB: db, ArtifactRepo: artifactRepo, Image: imageClient, FaceVideo: faceVideoClient},
		&music.Handler{DB: db, ArtifactRepo: artifactRepo, Music: musicClient},
		&longform.Handler{
			DB: db, LongformRepo: longformRepo, ArtifactRepo: artifactRepo, ProviderRuns: providerRunRepo,
			TTS: ttsClient, FaceVideo: faceVideoClient, Cfg: cfg,
		},
	}
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			log.Fatal("register handler", "error", err, "studio_type", h.Type())
		}
	}

	// This process has no local SSE clients of its own, so it only ever
	// publishes (never broadcasts on a hub): progress events go out on the
	// shared Redis channel, where cmd/main.go's app.App forwards them into
	// its own SSEHub for anything connected over /api/studio/events.
	// REDIS_ADDR unset is a valid deployment (e.g. single-process dev) —
	// notify then degrades to a no-op publisher, and every call site
	// already guards a nil Notifier regardless.
	var notify studioruntime.Notifier
	if bus, busErr := redisbus.NewSSEBus(pkgLog); busErr != nil {
		log.Warn("studio job events: redis SSE bus unavailable, progress push disabled", "error", busErr)
	} else {
		defer bus.Close()
		notify = studioruntime.NewNotifier(nil, bus)
	}

	studioTypes := []string{
		domain.StudioAudio, domain.StudioFusion, domain.StudioFace,
		domain.StudioCommerce, domain.StudioMusic, domain.StudioLongform,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	for _, st := range studioTypes {
		st := st
		w := worker.NewWorker(db, log, jobRepo, registry, notify, st,
			worker.WithPollInterval(cfg.WorkerPollInterval),
			worker.WithStaleAfter(cfg.JobStaleAfter),
			worker.WithConcurrency(cfg.WorkerBatchSize),
		)
		g.Go(func() error {
			return w.Start(gctx)
		})
	}

	storageClient, err := newStorageClient(ctx, cfg)
	if err != nil {
		log.Fatal("init storage client", "error", err)
	}
	signer := artifacts.NewGCSSigner(storageClient, artifacts.GCSSignerConfig{
		BucketName: cfg.GCSBucket,
	})

	stitcher := &longform.Stitcher{
		DB:           db,
		LongformRepo: longformRepo,
		JobRepo:      jobRepo,
		ArtifactRepo: artifactRepo,
		Storage:      storageClient,
		Signer:       signer,
		Bucket:       cfg.GCSBucket,
		Container:    cfg.StorageContainers["video"],
		FinalTTL:     cfg.FinalVideoURLTTL,
		HTTPClient:   http.DefaultClient,
		Log:          log,
		PollInterval: cfg.ProviderPollInterval,
	}
	g.Go(func() error {
		return stitcher.Run(gctx)
	})

	dashboardSvc := dashboard.New(db, repo.NewDashboardRepo(db, log), signer, cfg, log)
	refreshWorker := dashboard.NewRefreshWorker(dashboardSvc, cfg.DashboardWorkerBatchSize, cfg.DashboardWorkerPollInterval, log)
	g.Go(func() error {
		refreshWorker.Run(gctx)
		return nil
	})

	log.Info("studio worker pool started", "studio_types", studioTypes)
	if err := g.Wait(); err != nil {
		log.Error("studio worker pool exited with error", "error", err)
	}
}

// newStorageClient: real default credentials in production, an
// unauthenticated emulator client when STORAGE_EMULATOR_HOST is set.
func newStorageClient(ctx context.Context, cfg config.Config) (*storage.Client, error) {
	if host := strings.TrimSpace(cfg.GCSEmulatorHost); host != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", strings.TrimRight(host, "/"))
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	return storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
}
