// Package dashboard implements the Dashboard Cache read/refresh logic
// (spec.md §4.9): a per-user materialized home view, recomputed either
// synchronously on a cache miss or asynchronously via a coalesced refresh
// queue, with carousel media URLs re-signed at read time rather than
// trusted from storage.
//
// Grounded on dashboard_service.py's get_dashboard_home/request_refresh
// and refresh_worker.py's claim-refresh-delete batch loop; the SQL view
// and stored procedure those lean on (v_dashboard_home,
// fn_dashboard_refresh_home_cache) are replaced by computeHome querying
// Job/Artifact/MediaAsset directly and DashboardRepo.Upsert.
package dashboard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	"github.com/kestrelmedia/studioforge/internal/platform/config"
	"github.com/kestrelmedia/studioforge/internal/platform/logger"
	"github.com/kestrelmedia/studioforge/internal/studio/artifacts"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	studiorepo "github.com/kestrelmedia/studioforge/internal/studio/repo"
)

// FaceCarouselLimit and VideoCarouselLimit cap how many recent items the
// home view surfaces, mirroring the original view's implicit "recent N"
// framing without pagination.
const (
	FaceCarouselLimit  = 12
	VideoCarouselLimit = 12
	AlertLimit         = 10
)

// Home is the stable response contract get_dashboard_home returns even
// when no cache row exists yet.
type Home struct {
	UserID       uuid.UUID      `json:"user_id"`
	UpdatedAt    *time.Time     `json:"updated_at"`
	Gauges       map[string]any `json:"gauges"`
	Alerts       []map[string]any `json:"alerts"`
	FaceCarousel []map[string]any `json:"face_carousel"`
	VideoCarousel []map[string]any `json:"video_carousel"`
	Header       map[string]any `json:"header"`
}

type Service struct {
	DB     *gorm.DB
	Repo   studiorepo.DashboardRepo
	Signer artifacts.Signer
	TTL    artifacts.TTLPolicy

	Containers         map[string]string
	StaleAfter         time.Duration
	ForceRefreshOnMiss bool

	log *logger.Logger
}

func New(db *gorm.DB, repo studiorepo.DashboardRepo, signer artifacts.Signer, cfg config.Config, baseLog *logger.Logger) *Service {
	return &Service{
		DB:                 db,
		Repo:               repo,
		Signer:             signer,
		TTL:                artifacts.TTLPolicyFromConfig(cfg),
		Containers:         cfg.StorageContainers,
		StaleAfter:         cfg.DashboardStaleAfter,
		ForceRefreshOnMiss: cfg.DashboardForceRefreshOnMiss,
		log:                baseLog.With("svc", "dashboard"),
	}
}

// GetHome serves the cached home view, computing it inline on a cold miss
// (first-load experience) or when forceRefresh is set, and otherwise
// enqueuing an async refresh once the cache is older than StaleAfter.
func (s *Service) GetHome(ctx context.Context, userID uuid.UUID, forceRefresh bool) (*Home, error) {
	dbc := dbctx.Context{Ctx: ctx}

	cache, err := s.Repo.Get(dbc, userID)
	if err != nil {
		return nil, err
	}

	if cache == nil && s.ForceRefreshOnMiss {
		if cache, err = s.refreshOne(ctx, userID); err != nil {
			return nil, err
		}
	}
	if cache == nil {
		return emptyHome(userID), nil
	}

	if forceRefresh {
		if cache, err = s.refreshOne(ctx, userID); err != nil {
			return nil, err
		}
	} else if time.Since(cache.UpdatedAt) >= s.StaleAfter {
		if err := s.Repo.RequestRefresh(dbc, userID, "stale_home"); err != nil {
			s.log.Error("request_refresh", "user_id", userID, "err", err)
		}
	}

	home := decodeCache(cache)
	s.enrichCarousels(ctx, home)
	return home, nil
}

// RequestRefresh enqueues a manual refresh (spec.md §4.9's "manual"
// reason), coalescing with any outstanding request for the user.
func (s *Service) RequestRefresh(ctx context.Context, userID uuid.UUID, reason string) error {
	if reason == "" {
		reason = "manual"
	}
	return s.Repo.RequestRefresh(dbctx.Context{Ctx: ctx}, userID, reason)
}

// ProcessRefreshBatch claims up to limit pending refresh requests and
// recomputes each user's cache, mirroring refresh_worker.py's
// process_batch: claim, refresh, delete, all inside one transaction at the
// repo layer (ClaimRefreshBatch already deletes what it claims).
func (s *Service) ProcessRefreshBatch(ctx context.Context, limit int) (int, error) {
	claimed, err := s.Repo.ClaimRefreshBatch(dbctx.Context{Ctx: ctx}, limit)
	if err != nil {
		return 0, err
	}
	for _, req := range claimed {
		if _, err := s.refreshOne(ctx, req.UserID); err != nil {
			s.log.Error("refresh_one", "user_id", req.UserID, "err", err)
		}
	}
	return len(claimed), nil
}

// refreshOne recomputes and upserts one user's cache, returning the fresh
// row.
func (s *Service) refreshOne(ctx context.Context, userID uuid.UUID) (*domain.DashboardCache, error) {
	cache, err := s.computeHome(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.Upsert(dbctx.Context{Ctx: ctx}, cache); err != nil {
		return nil, err
	}
	return cache, nil
}

func emptyHome(userID uuid.UUID) *Home {
	return &Home{
		UserID:        userID,
		Gauges:        map[string]any{},
		Alerts:        []map[string]any{},
		FaceCarousel:  []map[string]any{},
		VideoCarousel: []map[string]any{},
		Header:        map[string]any{},
	}
}

func decodeCache(c *domain.DashboardCache) *Home {
	h := &Home{UserID: c.UserID, UpdatedAt: &c.UpdatedAt}
	h.Gauges = decodeObj(c.GaugesJSON)
	h.Alerts = decodeArr(c.AlertsJSON)
	h.FaceCarousel = decodeArr(c.FaceCarouselJSON)
	h.VideoCarousel = decodeArr(c.VideoCarouselJSON)
	h.Header = decodeObj(c.HeaderJSON)
	return h
}
