// Package runtime is the execution contract between the studio worker
// loop and studio processor code. Context is a capability-scoped handle
// for a single claimed job: it wraps the transaction boundary, the
// mutable job row, and the only sanctioned ways to report progress or
// terminate execution (Progress/Fail/Succeed/Update). Processors never
// touch the job row directly.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	studiorepo "github.com/kestrelmedia/studioforge/internal/studio/repo"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	"github.com/kestrelmedia/studioforge/internal/platform/ctxutil"
)

// Context is handed to a Handler's Run for the lifetime of one claimed
// job. It decodes the job payload eagerly so handlers access inputs via
// Payload()/PayloadUUID() instead of reparsing raw JSON.
type Context struct {
	Ctx    context.Context
	DB     *gorm.DB
	Job    *domain.Job
	Repo   studiorepo.JobRepo
	Notify Notifier

	LastMessage string
	payload     map[string]any
}

func NewContext(ctx context.Context, db *gorm.DB, job *domain.Job, repo studiorepo.JobRepo, notify Notifier) *Context {
	c := &Context{
		Ctx:    ctx,
		DB:     db,
		Job:    job,
		Repo:   repo,
		Notify: notify,
	}
	_ = c.decodePayload()
	c.applyTraceData()
	return c
}

// decodePayload parses Job.Payload into a map for access. A malformed
// payload yields an empty map plus the decode error, letting the caller
// decide whether to fail the job.
func (c *Context) decodePayload() error {
	if c.Job == nil {
		return nil
	}
	if len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

func (c *Context) applyTraceData() {
	if c == nil || c.Ctx == nil {
		return
	}
	payload := c.Payload()
	traceID := strings.TrimSpace(fmt.Sprint(payload["trace_id"]))
	reqID := strings.TrimSpace(fmt.Sprint(payload["request_id"]))
	if traceID == "" && reqID == "" {
		return
	}
	c.Ctx = ctxutil.WithTraceData(c.Ctx, &ctxutil.TraceData{
		TraceID:   traceID,
		RequestID: reqID,
	})
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *Context) PayloadString(key string) (string, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Update applies arbitrary field updates to the job row, guarded so a
// canceled job is never overwritten. Prefer Progress/Fail/Succeed for
// lifecycle transitions; Update is for rare custom writes (e.g. stashing
// orchestrator state into meta).
func (c *Context) Update(updates map[string]any) error {
	if c.Job == nil || c.Job.ID == uuid.Nil {
		return nil
	}
	if c.Repo == nil {
		applyUpdatesInPlace(c.Job, updates)
		return nil
	}
	ok, err := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.Ctx}, c.Job.ID, []string{domain.JobCanceled}, toIfaceMap(updates))
	if err != nil {
		return err
	}
	if ok {
		applyUpdatesInPlace(c.Job, updates)
	}
	return nil
}

// applyUpdatesInPlace mirrors a subset of arbitrary field updates onto
// the in-memory Job, covering the columns processors actually pass to
// Update (meta, stage, message). Unknown keys are ignored rather than
// reflected, since Update's updates map is otherwise opaque to Context.
func applyUpdatesInPlace(job *domain.Job, updates map[string]any) {
	if job == nil {
		return
	}
	if v, ok := updates["meta"]; ok {
		switch b := v.(type) {
		case []byte:
			job.Meta = b
		case datatypes.JSON:
			job.Meta = b
		}
	}
	if v, ok := updates["stage"].(string); ok {
		job.Stage = v
	}
	if v, ok := updates["message"].(string); ok {
		job.Message = v
	}
}

// Progress publishes a non-terminal status update: persists
// stage/progress/message plus a heartbeat, then notifies.
func (c *Context) Progress(stage string, pct int, msg string) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Job.ID, []string{domain.JobCanceled}, map[string]interface{}{
			"stage":        stage,
			"progress":     pct,
			"message":      msg,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Stage = stage
		c.Job.Progress = pct
		c.Job.Message = msg
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}

	if c.Notify != nil && c.Job != nil {
		c.Notify.JobProgress(c.Job.UserID, c.Job, stage, pct, msg)
	}
}

// Fail marks the job terminally failed: status=failed, error recorded,
// locked_at cleared. A canceled job is left untouched.
func (c *Context) Fail(stage, code string, err error) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Job.ID, []string{domain.JobCanceled}, map[string]interface{}{
			"status":        domain.JobFailed,
			"stage":         stage,
			"message":       "",
			"error_code":    code,
			"error_message": msg,
			"last_error_at": now,
			"locked_at":     nil,
			"updated_at":    now,
		})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Status = domain.JobFailed
		c.Job.Stage = stage
		c.Job.Message = ""
		c.Job.ErrorCode = code
		c.Job.ErrorMessage = msg
		c.Job.LastErrorAt = &now
		c.Job.LockedAt = nil
		c.Job.UpdatedAt = now
	}

	if c.Notify != nil && c.Job != nil {
		c.Notify.JobFailed(c.Job.UserID, c.Job, stage, msg)
	}
}

// Succeed marks the job terminally succeeded and persists result.
func (c *Context) Succeed(finalStage string, result any) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Job.ID, []string{domain.JobCanceled}, map[string]interface{}{
			"status":        domain.JobSucceeded,
			"stage":         finalStage,
			"progress":      100,
			"message":       "",
			"error_code":    "",
			"error_message": "",
			"result":        res,
			"locked_at":     nil,
			"heartbeat_at":  now,
			"updated_at":    now,
		})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Status = domain.JobSucceeded
		c.Job.Stage = finalStage
		c.Job.Progress = 100
		c.Job.Message = ""
		c.Job.ErrorCode = ""
		c.Job.ErrorMessage = ""
		c.Job.Result = res
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}

	if c.Notify != nil && c.Job != nil {
		c.Notify.JobDone(c.Job.UserID, c.Job)
	}
}

// Stitching transitions a long-form parent job from running to stitching
// without touching progress/message, used once all segments complete.
func (c *Context) Stitching() {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	if c.Repo != nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Job.ID, []string{domain.JobCanceled}, map[string]interface{}{
			"status":     domain.JobStitching,
			"stage":      "stitching",
			"updated_at": now,
		})
		if !ok {
			return
		}
	}
	if c.Job != nil {
		c.Job.Status = domain.JobStitching
		c.Job.Stage = "stitching"
		c.Job.UpdatedAt = now
	}
}

func toIfaceMap(in map[string]any) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
