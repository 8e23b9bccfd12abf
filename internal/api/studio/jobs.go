package studio

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	studiorepo "github.com/kestrelmedia/studioforge/internal/studio/repo"
)

var validStudioTypes = map[string]bool{
	domain.StudioAudio:    true,
	domain.StudioFusion:   true,
	domain.StudioFace:     true,
	domain.StudioCommerce: true,
	domain.StudioMusic:    true,
	domain.StudioLongform: true,
}

// JobsHandler implements the studio-agnostic submit/get_status/list
// operations (spec.md §6) plus the Music HITL candidate-selection poll.
type JobsHandler struct {
	DB      *gorm.DB
	JobRepo studiorepo.JobRepo
}

func NewJobsHandler(db *gorm.DB, jobRepo studiorepo.JobRepo) *JobsHandler {
	return &JobsHandler{DB: db, JobRepo: jobRepo}
}

type jobView struct {
	JobID        uuid.UUID       `json:"job_id"`
	StudioType   string          `json:"studio_type"`
	Status       string          `json:"status"`
	Stage        string          `json:"stage,omitempty"`
	Progress     int             `json:"progress"`
	Message      string          `json:"message,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func toJobView(j *domain.Job) jobView {
	v := jobView{
		JobID:        j.ID,
		StudioType:   j.StudioType,
		Status:       j.Status,
		Stage:        j.Stage,
		Progress:     j.Progress,
		Message:      j.Message,
		ErrorCode:    j.ErrorCode,
		ErrorMessage: j.ErrorMessage,
	}
	if len(j.Result) > 0 {
		v.Result = json.RawMessage(j.Result)
	}
	return v
}

// POST /api/studio/:studio_type/jobs
//
// submit(payload) -> {job_id, status}, idempotent by request_hash
// (spec.md §6's studio-agnostic inbound contract).
func (h *JobsHandler) Submit(c *gin.Context) {
	userID, ok := actorUserID(c)
	if !ok {
		writeAPIErr(c, apierr.New(http.StatusUnauthorized, string(apierr.CodeMissingToken), nil))
		return
	}
	studioType := c.Param("studio_type")
	if !validStudioTypes[studioType] {
		writeAPIErr(c, apierr.New(http.StatusBadRequest, string(apierr.CodeBadRequest), nil))
		return
	}

	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIErr(c, apierr.New(http.StatusBadRequest, string(apierr.CodeBadRequest), err))
		return
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		writeAPIErr(c, apierr.New(http.StatusBadRequest, string(apierr.CodeBadRequest), err))
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context(), Tx: h.DB}
	job, err := h.JobRepo.Submit(dbc, userID, studioType, payloadJSON, nil)
	if err != nil {
		writeAPIErr(c, apierr.New(http.StatusInternalServerError, string(apierr.CodeWorkerCrash), err))
		return
	}
	c.JSON(http.StatusAccepted, toJobView(job))
}

// GET /api/studio/jobs/:job_id
//
// get_status(job_id) -> jobView {job_id, studio_type, status, stage,
// progress, message, result, error_code?, error_message?}. The job's
// artifacts are not part of the response.
func (h *JobsHandler) GetStatus(c *gin.Context) {
	userID, ok := actorUserID(c)
	if !ok {
		writeAPIErr(c, apierr.New(http.StatusUnauthorized, string(apierr.CodeMissingToken), nil))
		return
	}
	jobID, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		writeAPIErr(c, apierr.New(http.StatusBadRequest, string(apierr.CodeInvalidUUID), err))
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context(), Tx: h.DB}
	job, err := h.JobRepo.GetStatus(dbc, jobID)
	if err != nil {
		writeAPIErr(c, apierr.New(http.StatusInternalServerError, string(apierr.CodeWorkerCrash), err))
		return
	}
	if job == nil {
		writeAPIErr(c, apierr.New(http.StatusNotFound, "job_not_found", nil))
		return
	}
	if job.UserID != userID {
		writeAPIErr(c, apierr.New(http.StatusForbidden, "forbidden", nil))
		return
	}
	c.JSON(http.StatusOK, toJobView(job))
}

// GET /api/studio/jobs?studio_type=&limit=
func (h *JobsHandler) List(c *gin.Context) {
	userID, ok := actorUserID(c)
	if !ok {
		writeAPIErr(c, apierr.New(http.StatusUnauthorized, string(apierr.CodeMissingToken), nil))
		return
	}
	studioType := c.Query("studio_type")
	limit := 20
	if v := c.Query("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}

	dbc := dbctx.Context{Ctx: c.Request.Context(), Tx: h.DB}
	jobs, err := h.JobRepo.ListByUser(dbc, userID, studioType, limit)
	if err != nil {
		writeAPIErr(c, apierr.New(http.StatusInternalServerError, string(apierr.CodeWorkerCrash), err))
		return
	}
	views := make([]jobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, toJobView(&jobs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

// POST /api/studio/jobs/:job_id/select-candidate
//
// Resolves the Music studio's human-in-the-loop pause (spec.md §9).
func (h *JobsHandler) SelectCandidate(c *gin.Context) {
	userID, ok := actorUserID(c)
	if !ok {
		writeAPIErr(c, apierr.New(http.StatusUnauthorized, string(apierr.CodeMissingToken), nil))
		return
	}
	jobID, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		writeAPIErr(c, apierr.New(http.StatusBadRequest, string(apierr.CodeInvalidUUID), err))
		return
	}
	var req struct {
		CandidateIndex int `json:"candidate_index"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIErr(c, apierr.New(http.StatusBadRequest, string(apierr.CodeBadRequest), err))
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context(), Tx: h.DB}
	job, err := h.JobRepo.GetByID(dbc, jobID)
	if err != nil {
		writeAPIErr(c, apierr.New(http.StatusInternalServerError, string(apierr.CodeWorkerCrash), err))
		return
	}
	if job == nil {
		writeAPIErr(c, apierr.New(http.StatusNotFound, "job_not_found", nil))
		return
	}
	if job.UserID != userID {
		writeAPIErr(c, apierr.New(http.StatusForbidden, "forbidden", nil))
		return
	}

	if err := h.JobRepo.SelectCandidate(dbc, jobID, req.CandidateIndex); err != nil {
		writeAPIErr(c, apierr.New(http.StatusConflict, string(apierr.CodeBadRequest), err))
		return
	}
	c.Status(http.StatusNoContent)
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, &invalidIntError{s}
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, &invalidIntError{s}
	}
	return n, nil
}

type invalidIntError struct{ s string }

func (e *invalidIntError) Error() string { return "invalid integer: " + e.s }
