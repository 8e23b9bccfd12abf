package repo

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	"github.com/kestrelmedia/studioforge/internal/platform/logger"
)

// DashboardRepo backs the Dashboard Cache (spec.md §4.9): a read-side
// materialized view per user plus a coalesced async refresh queue.
type DashboardRepo interface {
	Get(dbc dbctx.Context, userID uuid.UUID) (*domain.DashboardCache, error)
	Upsert(dbc dbctx.Context, cache *domain.DashboardCache) error

	// RequestRefresh enqueues a refresh signal for userID, coalescing with
	// any outstanding request (unique index on user_id) so a burst of
	// triggers collapses into a single pending refresh.
	RequestRefresh(dbc dbctx.Context, userID uuid.UUID, reason string) error

	// ClaimRefreshBatch selects up to limit pending refresh requests under
	// SELECT ... FOR UPDATE SKIP LOCKED and deletes them in the same
	// transaction so a second claimer never reprocesses the same request.
	ClaimRefreshBatch(dbc dbctx.Context, limit int) ([]*domain.DashboardRefreshRequest, error)
}

type dashboardRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDashboardRepo(db *gorm.DB, baseLog *logger.Logger) DashboardRepo {
	return &dashboardRepo{db: db, log: baseLog.With("repo", "DashboardRepo")}
}

func (r *dashboardRepo) Get(dbc dbctx.Context, userID uuid.UUID) (*domain.DashboardCache, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var c domain.DashboardCache
	err := transaction.WithContext(dbc.Ctx).Where("user_id = ?", userID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *dashboardRepo) Upsert(dbc dbctx.Context, cache *domain.DashboardCache) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if cache.UpdatedAt.IsZero() {
		cache.UpdatedAt = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"gauges_json", "alerts_json", "face_carousel_json", "video_carousel_json", "header_json", "updated_at",
			}),
		}).
		Create(cache).Error
}

func (r *dashboardRepo) RequestRefresh(dbc dbctx.Context, userID uuid.UUID, reason string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	req := &domain.DashboardRefreshRequest{
		ID:     uuid.New(),
		UserID: userID,
		Reason: reason,
	}
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(req).Error
}

func (r *dashboardRepo) ClaimRefreshBatch(dbc dbctx.Context, limit int) ([]*domain.DashboardRefreshRequest, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 1
	}

	var claimed []*domain.DashboardRefreshRequest
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var batch []*domain.DashboardRefreshRequest
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("created_at ASC").
			Limit(limit).
			Find(&batch).Error
		if qErr != nil {
			return qErr
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(batch))
		for i, b := range batch {
			ids[i] = b.ID
		}
		if dErr := txx.Where("id IN ?", ids).Delete(&domain.DashboardRefreshRequest{}).Error; dErr != nil {
			return dErr
		}
		claimed = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
