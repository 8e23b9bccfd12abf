// Package repo holds the data-access layer for the studio job system: the
// Job Store and Claim Engine (spec.md §4.1, §4.2), the Provider Runs
// Ledger (§4.5), artifacts, long-form parent/segment rows, the support
// audit log, and the dashboard cache.
package repo

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	"github.com/kestrelmedia/studioforge/internal/platform/logger"
)

// JobRepo is the Job Store: idempotent submit, skip-locked claim, and the
// field updates runtime.Context uses to report progress/failure/success.
type JobRepo interface {
	// Submit upserts on (user_id, studio_type, request_hash): if a row
	// already exists it is returned unchanged (only updated_at bumps);
	// otherwise a new queued row is inserted. Satisfies spec.md invariant 1.
	Submit(dbc dbctx.Context, userID uuid.UUID, studioType string, payload []byte, meta []byte) (*domain.Job, error)

	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Job, error)
	GetStatus(dbc dbctx.Context, id uuid.UUID) (*domain.Job, error)

	// ListByUser returns a user's jobs newest-first, optionally filtered
	// to one studio_type, for the GET /jobs listing route.
	ListByUser(dbc dbctx.Context, userID uuid.UUID, studioType string, limit int) ([]domain.Job, error)

	// ClaimNextRunnable selects and claims up to one queued/ready job for
	// the given studio under SELECT ... FOR UPDATE SKIP LOCKED, per
	// spec.md §4.2. attempt_count increments at claim time (the recommended
	// default from spec.md §9's open question on stale reclaim).
	ClaimNextRunnable(dbc dbctx.Context, studioType string, staleAfter time.Duration) (*domain.Job, error)

	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error

	// Requeue transitions a running job back to queued with a future
	// next_run_at, recording the recoverable error that triggered it.
	Requeue(dbc dbctx.Context, id uuid.UUID, delay time.Duration, errorCode, errorMessage string) error

	// SelectCandidate resolves the Music studio's human-in-the-loop pause
	// (spec.md §9 open question): a job blocked with
	// meta.required_action="select_candidate" is cleared and re-queued so
	// the worker loop picks it back up and the processor finishes using
	// the chosen candidate index. Rejects unless the job is actually
	// waiting on a selection.
	SelectCandidate(dbc dbctx.Context, id uuid.UUID, candidateIndex int) error
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: baseLog.With("repo", "JobRepo")}
}

// RequestHash computes sha256(user_id ‖ canonical_json(payload)), the
// idempotency key for submit, per spec.md §4.1. It hashes the payload
// bytes as given; Submit first passes them through canonicalize (below),
// which re-marshals them with a stable key order.
func RequestHash(userID uuid.UUID, canonicalPayload []byte) string {
	h := sha256.New()
	h.Write([]byte(userID.String()))
	h.Write([]byte{0})
	h.Write(canonicalPayload)
	return hex.EncodeToString(h.Sum(nil))
}

func (r *jobRepo) Submit(dbc dbctx.Context, userID uuid.UUID, studioType string, payload []byte, meta []byte) (*domain.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if len(meta) == 0 {
		meta = []byte("{}")
	}
	requestHash := RequestHash(userID, canonicalize(payload))

	now := time.Now()
	job := &domain.Job{
		ID:          uuid.New(),
		StudioType:  studioType,
		UserID:      userID,
		RequestHash: requestHash,
		Status:      domain.JobQueued,
		Payload:     payload,
		Meta:        meta,
		NextRunAt:   &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "studio_type"}, {Name: "request_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
		}).
		Create(job).Error
	if err != nil {
		return nil, err
	}

	var existing domain.Job
	findErr := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND studio_type = ? AND request_hash = ?", userID, studioType, requestHash).
		First(&existing).Error
	if findErr != nil {
		return nil, findErr
	}
	return &existing, nil
}

// canonicalize re-marshals payload with sorted object keys so that
// semantically identical JSON produces the same bytes for hashing.
func canonicalize(payload []byte) []byte {
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return payload
	}
	out, err := json.Marshal(sortedValue(v))
	if err != nil {
		return payload
	}
	return out
}

func sortedValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, vv := range t {
			m[k] = sortedValue(vv)
		}
		return orderedMap(m)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, vv := range t {
			out[i] = sortedValue(vv)
		}
		return out
	default:
		return v
	}
}

// orderedMap relies on encoding/json sorting map[string]interface{} keys
// alphabetically when marshaling, which is Go's documented behavior.
func orderedMap(m map[string]interface{}) map[string]interface{} { return m }

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var job domain.Job
	err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) GetStatus(dbc dbctx.Context, id uuid.UUID) (*domain.Job, error) {
	return r.GetByID(dbc, id)
}

func (r *jobRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, studioType string, limit int) ([]domain.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 20
	}
	q := transaction.WithContext(dbc.Ctx).Where("user_id = ?", userID)
	if studioType != "" {
		q = q.Where("studio_type = ?", studioType)
	}
	var jobs []domain.Job
	if err := q.Order("created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepo) ClaimNextRunnable(dbc dbctx.Context, studioType string, staleAfter time.Duration) (*domain.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()

	var claimed *domain.Job
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("studio_type = ?", studioType).
			Where("status = ? AND (next_run_at IS NULL OR next_run_at <= ?)", domain.JobQueued, now)

		if staleAfter > 0 {
			staleCutoff := now.Add(-staleAfter)
			q = txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
				Where("studio_type = ?", studioType).
				Where(`
					(status = ? AND (next_run_at IS NULL OR next_run_at <= ?))
					OR (status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?)
				`, domain.JobQueued, now, domain.JobRunning, staleCutoff)
		}

		var job domain.Job
		qErr := q.Order("next_run_at ASC NULLS FIRST, created_at ASC").First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		uErr := txx.Model(&domain.Job{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":        domain.JobRunning,
				"attempt_count": gorm.Expr("attempt_count + 1"),
				"locked_at":     now,
				"heartbeat_at":  now,
				"updated_at":    now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = domain.JobRunning
		job.AttemptCount++
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *jobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	q := transaction.WithContext(dbc.Ctx).Model(&domain.Job{}).Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *jobRepo) Requeue(dbc dbctx.Context, id uuid.UUID, delay time.Duration, errorCode, errorMessage string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	nextRun := now.Add(delay)
	_, err := r.updateUnlessCanceled(transaction, dbc, id, map[string]interface{}{
		"status":        domain.JobQueued,
		"error_code":    errorCode,
		"error_message": errorMessage,
		"last_error_at": now,
		"locked_at":     nil,
		"next_run_at":   nextRun,
		"updated_at":    now,
	})
	return err
}

// RequiredActionSelectCandidate is the meta.required_action value the
// Music processor sets when it pauses for a human pick among generated
// candidates (spec.md §9 open question on Music HITL).
const RequiredActionSelectCandidate = "select_candidate"

func (r *jobRepo) SelectCandidate(dbc dbctx.Context, id uuid.UUID, candidateIndex int) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}

	var job domain.Job
	if err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return err
	}

	meta := map[string]interface{}{}
	if len(job.Meta) > 0 {
		if err := json.Unmarshal(job.Meta, &meta); err != nil {
			meta = map[string]interface{}{}
		}
	}
	if meta["required_action"] != RequiredActionSelectCandidate {
		return errors.New("job is not waiting on a candidate selection")
	}
	delete(meta, "required_action")
	meta["selected_candidate_index"] = candidateIndex

	newMeta, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = r.updateUnlessCanceled(transaction, dbc, id, map[string]interface{}{
		"status":      domain.JobQueued,
		"meta":        newMeta,
		"next_run_at": now,
		"updated_at":  now,
	})
	return err
}

func (r *jobRepo) updateUnlessCanceled(transaction *gorm.DB, dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	res := transaction.WithContext(dbc.Ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status <> ?", id, domain.JobCanceled).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
