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

// LongformRepo backs the Long-form Coordinator (spec.md §4.7): the
// parent row, its ordered segments, the per-parent in-flight claim, and
// the stitcher's skip-locked claim of parents in status="stitching".
type LongformRepo interface {
	CreateParent(dbc dbctx.Context, lf *domain.LongformJob) (*domain.LongformJob, error)
	GetParent(dbc dbctx.Context, jobID uuid.UUID) (*domain.LongformJob, error)
	CreateSegments(dbc dbctx.Context, segments []*domain.LongformSegment) ([]*domain.LongformSegment, error)
	ListSegmentsOrdered(dbc dbctx.Context, longformJobID uuid.UUID) ([]*domain.LongformSegment, error)

	// ClaimNextSegment claims one queued segment for longformJobID,
	// respecting maxInflight currently in audio_running/video_running for
	// the same parent (spec.md §4.7 step 3's per-job in-flight cap).
	ClaimNextSegment(dbc dbctx.Context, longformJobID uuid.UUID, maxInflight int) (*domain.LongformSegment, error)
	UpdateSegment(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error

	// RecountCompleted re-derives completed_segments from the segments
	// table. It does not change the job's status; the longform handler
	// moves the job to stitching via runtime.Context.Stitching.
	RecountCompleted(dbc dbctx.Context, longformJobID uuid.UUID) error
	UpdateParent(dbc dbctx.Context, jobID uuid.UUID, updates map[string]interface{}) error

	// ClaimNextStitching selects one parent job currently in "stitching"
	// under SELECT ... FOR UPDATE SKIP LOCKED, matching the raw-SQL shape
	// of the stitch worker's claim query.
	ClaimNextStitching(dbc dbctx.Context) (*domain.LongformJob, error)
}

type longformRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLongformRepo(db *gorm.DB, baseLog *logger.Logger) LongformRepo {
	return &longformRepo{db: db, log: baseLog.With("repo", "LongformRepo")}
}

func (r *longformRepo) CreateParent(dbc dbctx.Context, lf *domain.LongformJob) (*domain.LongformJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(dbc.Ctx).Create(lf).Error; err != nil {
		return nil, err
	}
	return lf, nil
}

func (r *longformRepo) GetParent(dbc dbctx.Context, jobID uuid.UUID) (*domain.LongformJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var lf domain.LongformJob
	if err := transaction.WithContext(dbc.Ctx).Where("job_id = ?", jobID).First(&lf).Error; err != nil {
		return nil, err
	}
	return &lf, nil
}

func (r *longformRepo) CreateSegments(dbc dbctx.Context, segments []*domain.LongformSegment) ([]*domain.LongformSegment, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(segments) == 0 {
		return segments, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&segments).Error; err != nil {
		return nil, err
	}
	return segments, nil
}

func (r *longformRepo) ListSegmentsOrdered(dbc dbctx.Context, longformJobID uuid.UUID) ([]*domain.LongformSegment, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.LongformSegment
	err := transaction.WithContext(dbc.Ctx).
		Where("longform_job_id = ?", longformJobID).
		Order("segment_index ASC").
		Find(&out).Error
	return out, err
}

// ClaimNextSegment implements the in-flight cap as a count subquery: a
// candidate segment is claimable only if fewer than maxInflight sibling
// segments are currently audio_running/video_running.
func (r *longformRepo) ClaimNextSegment(dbc dbctx.Context, longformJobID uuid.UUID, maxInflight int) (*domain.LongformSegment, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var claimed *domain.LongformSegment
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var inflight int64
		if cErr := txx.Model(&domain.LongformSegment{}).
			Where("longform_job_id = ? AND status IN ?", longformJobID, []string{domain.SegmentAudioRunning, domain.SegmentVideoRunning}).
			Count(&inflight).Error; cErr != nil {
			return cErr
		}
		if maxInflight > 0 && inflight >= int64(maxInflight) {
			return nil
		}

		var seg domain.LongformSegment
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("longform_job_id = ? AND status = ?", longformJobID, domain.SegmentQueued).
			Order("segment_index ASC").
			First(&seg).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		uErr := txx.Model(&domain.LongformSegment{}).
			Where("id = ?", seg.ID).
			Updates(map[string]interface{}{
				"status":     domain.SegmentAudioRunning,
				"updated_at": time.Now(),
			}).Error
		if uErr != nil {
			return uErr
		}
		seg.Status = domain.SegmentAudioRunning
		claimed = &seg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *longformRepo) UpdateSegment(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&domain.LongformSegment{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *longformRepo) RecountCompleted(dbc dbctx.Context, longformJobID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var completed int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&domain.LongformSegment{}).
		Where("longform_job_id = ? AND status = ?", longformJobID, domain.SegmentSucceeded).
		Count(&completed).Error; err != nil {
		return err
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&domain.LongformJob{}).
		Where("job_id = ?", longformJobID).
		Updates(map[string]interface{}{
			"completed_segments": completed,
			"updated_at":         time.Now(),
		}).Error
}

func (r *longformRepo) UpdateParent(dbc dbctx.Context, jobID uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&domain.LongformJob{}).
		Where("job_id = ?", jobID).
		Updates(updates).Error
}

// ClaimNextStitching mirrors stitch_worker.py's
// "WITH cte AS (... FOR UPDATE SKIP LOCKED LIMIT 1) UPDATE ... RETURNING"
// shape: lock one stitching-status parent job and touch it so a second
// claimer's SKIP LOCKED reliably passes over it.
func (r *longformRepo) ClaimNextStitching(dbc dbctx.Context) (*domain.LongformJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var claimed *domain.LongformJob
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var lf domain.LongformJob
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Joins("JOIN job ON job.id = longform_job.job_id").
			Where("job.status = ?", domain.JobStitching).
			Order("job.created_at ASC").
			First(&lf).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		if uErr := txx.Model(&domain.LongformJob{}).
			Where("job_id = ?", lf.JobID).
			Updates(map[string]interface{}{"updated_at": time.Now()}).Error; uErr != nil {
			return uErr
		}
		claimed = &lf
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
