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

// ProviderRunRepo is the Provider Runs Ledger (spec.md §4.5). Every
// outbound call to an external provider goes through CreateOrGet first;
// a retry with the same idempotency_key always resumes the existing row
// rather than inserting a second one (spec.md invariant 5).
type ProviderRunRepo interface {
	CreateOrGet(dbc dbctx.Context, jobID uuid.UUID, provider, idempotencyKey string, request []byte) (*domain.ProviderRun, error)
	GetByIdempotencyKey(dbc dbctx.Context, idempotencyKey string) (*domain.ProviderRun, error)

	MarkSubmitted(dbc dbctx.Context, id uuid.UUID, providerJobID string) error
	MarkStatus(dbc dbctx.Context, id uuid.UUID, status string, response []byte) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, response []byte) error

	// UpsertFusionPerformance implements the insert-first/update-on-conflict
	// strategy spec.md §4.4 calls for: the unique index on
	// (provider, provider_job_id) is partial (provider_job_id IS NOT NULL),
	// so a plain ON CONFLICT clause can't target it. This tries the insert
	// and falls back to an update keyed on (provider, provider_job_id) when
	// it fails on the unique constraint.
	UpsertFusionPerformance(dbc dbctx.Context, perf *domain.FusionPerformance) (*domain.FusionPerformance, error)
}

type providerRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProviderRunRepo(db *gorm.DB, baseLog *logger.Logger) ProviderRunRepo {
	return &providerRunRepo{db: db, log: baseLog.With("repo", "ProviderRunRepo")}
}

// CreateOrGet upserts on idempotency_key: insert with provider_status
// "created"; on conflict, touch updated_at and return the existing row
// untouched. Step 1 of spec.md §4.5.
func (r *providerRunRepo) CreateOrGet(dbc dbctx.Context, jobID uuid.UUID, provider, idempotencyKey string, request []byte) (*domain.ProviderRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(request) == 0 {
		request = []byte("{}")
	}

	now := time.Now()
	row := &domain.ProviderRun{
		ID:             uuid.New(),
		JobID:          jobID,
		Provider:       provider,
		IdempotencyKey: idempotencyKey,
		ProviderStatus: domain.ProviderRunCreated,
		Request:        request,
		Response:       []byte("{}"),
		Meta:           []byte("{}"),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}

	return r.GetByIdempotencyKey(dbc, idempotencyKey)
}

func (r *providerRunRepo) GetByIdempotencyKey(dbc dbctx.Context, idempotencyKey string) (*domain.ProviderRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var row domain.ProviderRun
	err := transaction.WithContext(dbc.Ctx).
		Where("idempotency_key = ?", idempotencyKey).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *providerRunRepo) MarkSubmitted(dbc dbctx.Context, id uuid.UUID, providerJobID string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&domain.ProviderRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"provider_job_id": providerJobID,
			"provider_status": domain.ProviderRunSubmitted,
			"updated_at":      time.Now(),
		}).Error
}

func (r *providerRunRepo) MarkStatus(dbc dbctx.Context, id uuid.UUID, status string, response []byte) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	updates := map[string]interface{}{
		"provider_status": status,
		"updated_at":      time.Now(),
	}
	if len(response) > 0 {
		updates["response"] = response
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&domain.ProviderRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *providerRunRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, response []byte) error {
	return r.MarkStatus(dbc, id, domain.ProviderRunFailed, response)
}

func (r *providerRunRepo) UpsertFusionPerformance(dbc dbctx.Context, perf *domain.FusionPerformance) (*domain.FusionPerformance, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if perf.ID == uuid.Nil {
		perf.ID = uuid.New()
	}
	now := time.Now()
	perf.CreatedAt = now
	perf.UpdatedAt = now

	createErr := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		return txx.Create(perf).Error
	})
	if createErr == nil {
		return perf, nil
	}
	if perf.ProviderJobID == nil {
		return nil, createErr
	}

	var existing domain.FusionPerformance
	findErr := transaction.WithContext(dbc.Ctx).
		Where("provider = ? AND provider_job_id = ?", perf.Provider, *perf.ProviderJobID).
		First(&existing).Error
	if findErr != nil {
		return nil, createErr
	}

	updates := map[string]interface{}{
		"video_url":  perf.VideoURL,
		"meta":       perf.Meta,
		"updated_at": now,
	}
	if perf.ArtifactID != nil {
		updates["artifact_id"] = *perf.ArtifactID
	}
	if uErr := transaction.WithContext(dbc.Ctx).
		Model(&domain.FusionPerformance{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error; uErr != nil {
		return nil, uErr
	}
	existing.VideoURL = perf.VideoURL
	existing.Meta = perf.Meta
	if perf.ArtifactID != nil {
		existing.ArtifactID = perf.ArtifactID
	}
	existing.UpdatedAt = now
	return &existing, nil
}
