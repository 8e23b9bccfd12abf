package repo

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	"github.com/kestrelmedia/studioforge/internal/platform/logger"
)

// ArtifactRepo is the Artifact Store (spec.md §4.6, persistence half —
// URL signing itself lives in internal/studio/artifacts).
type ArtifactRepo interface {
	Create(dbc dbctx.Context, a *domain.Artifact) (*domain.Artifact, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Artifact, error)
	ListByJobID(dbc dbctx.Context, jobID uuid.UUID) ([]*domain.Artifact, error)

	CreateMediaAsset(dbc dbctx.Context, a *domain.MediaAsset) (*domain.MediaAsset, error)
	GetMediaAssetByID(dbc dbctx.Context, id uuid.UUID) (*domain.MediaAsset, error)
	ListMediaAssetsByUser(dbc dbctx.Context, userID uuid.UUID, kind string) ([]*domain.MediaAsset, error)
}

type artifactRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewArtifactRepo(db *gorm.DB, baseLog *logger.Logger) ArtifactRepo {
	return &artifactRepo{db: db, log: baseLog.With("repo", "ArtifactRepo")}
}

func (r *artifactRepo) Create(dbc dbctx.Context, a *domain.Artifact) (*domain.Artifact, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if err := transaction.WithContext(dbc.Ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

func (r *artifactRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Artifact, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var a domain.Artifact
	if err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *artifactRepo) ListByJobID(dbc dbctx.Context, jobID uuid.UUID) ([]*domain.Artifact, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.Artifact
	err := transaction.WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *artifactRepo) CreateMediaAsset(dbc dbctx.Context, a *domain.MediaAsset) (*domain.MediaAsset, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if err := transaction.WithContext(dbc.Ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

func (r *artifactRepo) GetMediaAssetByID(dbc dbctx.Context, id uuid.UUID) (*domain.MediaAsset, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var a domain.MediaAsset
	if err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *artifactRepo) ListMediaAssetsByUser(dbc dbctx.Context, userID uuid.UUID, kind string) ([]*domain.MediaAsset, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(dbc.Ctx).Where("user_id = ?", userID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var out []*domain.MediaAsset
	err := q.Order("created_at DESC").Find(&out).Error
	return out, err
}
