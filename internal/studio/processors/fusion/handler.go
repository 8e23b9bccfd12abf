// Package fusion implements the Fusion (talking-face-video) studio
// processor (spec.md §4.4): resolve a face input and an audio input,
// submit to the face-animation provider once idempotent by job id, poll
// to completion, persist the video Artifact, and record a
// FusionPerformance row for analytics, adapted from the original
// svc-fusion-extension client's create_fusion_job/get_fusion_job shape.
package fusion

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/facevideo"
	studiorepo "github.com/kestrelmedia/studioforge/internal/studio/repo"
	studioruntime "github.com/kestrelmedia/studioforge/internal/studio/runtime"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
)

type Handler struct {
	DB           *gorm.DB
	ArtifactRepo studiorepo.ArtifactRepo
	ProviderRuns studiorepo.ProviderRunRepo
	FaceVideo    facevideo.Client
	PollInterval time.Duration
	TotalTimeout time.Duration
}

func (h *Handler) Type() string { return domain.StudioFusion }

func (h *Handler) Run(jc *studioruntime.Context) error {
	dbc := dbctx.Context{Ctx: jc.Ctx, Tx: h.DB}

	req, err := h.resolveRequest(jc, dbc)
	if err != nil {
		return err
	}

	idemKey := jc.Job.ID.String()
	run, err := h.ProviderRuns.CreateOrGet(dbc, jc.Job.ID, "facevideo", idemKey, []byte(fmt.Sprintf(`{"aspect_ratio":%q}`, req.AspectRatio)))
	if err != nil {
		return &runErr{code: apierr.CodeWorkerCrash, msg: "provider run ledger: " + err.Error()}
	}

	jc.Progress("submit", 10, "submitting to fusion provider")
	submitted, err := h.FaceVideo.Submit(jc.Ctx, idemKey, req)
	if err != nil {
		_ = h.ProviderRuns.MarkFailed(dbc, run.ID, nil)
		return translateErr(err)
	}
	if submitted.ProviderJobID != "" {
		if err := h.ProviderRuns.MarkSubmitted(dbc, run.ID, submitted.ProviderJobID); err != nil {
			return &runErr{code: apierr.CodeWorkerCrash, msg: "mark submitted: " + err.Error()}
		}
	}

	pollInterval := h.PollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	totalTimeout := h.TotalTimeout
	if totalTimeout <= 0 {
		totalTimeout = 15 * time.Minute
	}
	deadline := time.Now().Add(totalTimeout)

	var status facevideo.StatusResult
	for {
		status, err = h.FaceVideo.Poll(jc.Ctx, submitted.ProviderJobID)
		if err != nil {
			_ = h.ProviderRuns.MarkFailed(dbc, run.ID, nil)
			return translateErr(err)
		}
		if status.Status == "succeeded" || status.Status == "success" || status.Status == "done" {
			break
		}
		if status.Status == "failed" || status.Status == "error" {
			_ = h.ProviderRuns.MarkFailed(dbc, run.ID, nil)
			return &runErr{code: apierr.CodeProviderFourXX, msg: "fusion provider job failed"}
		}
		jc.Progress("poll", 50, "waiting for fusion provider")
		if time.Now().After(deadline) {
			return &runErr{code: apierr.CodeTimeout, msg: "fusion poll deadline exceeded"}
		}
		select {
		case <-jc.Ctx.Done():
			return jc.Ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	if err := h.ProviderRuns.MarkStatus(dbc, run.ID, domain.ProviderRunSucceeded, nil); err != nil {
		return &runErr{code: apierr.CodeWorkerCrash, msg: "mark succeeded: " + err.Error()}
	}
	if status.VideoURL == "" {
		return &runErr{code: apierr.CodeProviderFourXX, msg: "fusion provider returned no video url"}
	}

	artifact, err := h.ArtifactRepo.Create(dbc, &domain.Artifact{
		JobID:       &jc.Job.ID,
		Kind:        domain.ArtifactVideo,
		URL:         status.VideoURL,
		ContentType: "video/mp4",
	})
	if err != nil {
		return &runErr{code: apierr.CodeWorkerCrash, msg: "persist artifact: " + err.Error()}
	}

	if _, err := h.ProviderRuns.UpsertFusionPerformance(dbc, &domain.FusionPerformance{
		JobID:         jc.Job.ID,
		Provider:      "facevideo",
		ProviderJobID: &submitted.ProviderJobID,
		VideoURL:      status.VideoURL,
		ArtifactID:    &artifact.ID,
	}); err != nil {
		return &runErr{code: apierr.CodeWorkerCrash, msg: "upsert fusion performance: " + err.Error()}
	}

	jc.Succeed("done", map[string]any{
		"artifact_id": artifact.ID,
		"video_url":   artifact.URL,
	})
	return nil
}

// resolveRequest builds the provider request from the job payload,
// looking up a face/audio Artifact by id when a raw URL wasn't supplied
// directly — mirroring svc-fusion-extension's create_fusion_job, which
// accepts either a *_artifact_id or a *_url for both inputs.
func (h *Handler) resolveRequest(jc *studioruntime.Context, dbc dbctx.Context) (facevideo.Request, error) {
	req := facevideo.Request{}

	if imageKey, ok := jc.PayloadString("face_image_url"); ok && imageKey != "" {
		req.ImageKey = imageKey
	}
	if req.ImageKey == "" {
		if faceArtifactID, ok := jc.PayloadUUID("face_artifact_id"); ok {
			a, err := h.ArtifactRepo.GetByID(dbc, faceArtifactID)
			if err != nil || a == nil {
				return req, &runErr{code: apierr.CodeInvalidFaceInput, msg: "face_artifact_id not found"}
			}
			req.ImageKey = a.URL
		}
	}
	if talkingPhotoID, ok := jc.PayloadString("talking_photo_id"); ok && talkingPhotoID != "" {
		req.TalkingPhotoID = talkingPhotoID
	}
	if req.ImageKey == "" && req.TalkingPhotoID == "" {
		return req, &runErr{code: apierr.CodeInvalidFaceInput, msg: "either face_artifact_id, face_image_url, or talking_photo_id is required"}
	}

	if audioURL, ok := jc.PayloadString("audio_url"); ok && audioURL != "" {
		req.AudioURL = audioURL
	}
	if req.AudioURL == "" {
		if audioArtifactID, ok := jc.PayloadUUID("audio_artifact_id"); ok {
			a, err := h.ArtifactRepo.GetByID(dbc, audioArtifactID)
			if err != nil || a == nil {
				return req, &runErr{code: apierr.CodeBadRequest, msg: "audio_artifact_id not found"}
			}
			req.AudioURL = a.URL
		}
	}
	if voiceID, ok := jc.PayloadString("voice_id"); ok && voiceID != "" {
		req.VoiceID = voiceID
	}
	if script, ok := jc.PayloadString("script"); ok && script != "" {
		req.Script = script
	}
	if req.AudioURL == "" && (req.VoiceID == "" || req.Script == "") {
		return req, &runErr{code: apierr.CodeBadRequest, msg: "either audio_url, audio_artifact_id, or voice_id+script is required"}
	}

	req.AspectRatio = "9:16"
	if ar, ok := jc.PayloadString("aspect_ratio"); ok && ar != "" {
		req.AspectRatio = ar
	}
	if dim, ok := jc.PayloadString("dimension"); ok && dim != "" {
		req.Dimension = dim
	}

	return req, nil
}

type runErr struct {
	code apierr.Code
	msg  string
}

func (e *runErr) Error() string        { return e.msg }
func (e *runErr) ErrCode() apierr.Code { return e.code }

func translateErr(err error) error {
	type httpStatusCoder interface{ HTTPStatusCode() int }
	if coder, ok := err.(httpStatusCoder); ok {
		if coder.HTTPStatusCode() >= 500 {
			return &runErr{code: apierr.CodeProviderFiveXX, msg: err.Error()}
		}
		return &runErr{code: apierr.CodeProviderFourXX, msg: err.Error()}
	}
	return &runErr{code: apierr.CodeNetworkError, msg: err.Error()}
}
