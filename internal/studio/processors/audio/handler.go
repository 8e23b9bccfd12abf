// Package audio implements the Audio (TTS) studio processor (spec.md
// §4.4): compose TTS parameters, call the provider once idempotent by
// (job_id), and record the provider's audio URL as an Artifact. The audio
// bytes are not downloaded or stored; the Artifact's SHA256 is the hash
// of the URL string.
package audio

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/tts"
	studiorepo "github.com/kestrelmedia/studioforge/internal/studio/repo"
	studioruntime "github.com/kestrelmedia/studioforge/internal/studio/runtime"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
)

type Handler struct {
	DB           *gorm.DB
	ArtifactRepo studiorepo.ArtifactRepo
	ProviderRuns studiorepo.ProviderRunRepo
	TTS          tts.Client
	PollInterval time.Duration
	TotalTimeout time.Duration
}

func (h *Handler) Type() string { return domain.StudioAudio }

func (h *Handler) Run(jc *studioruntime.Context) error {
	text, _ := jc.PayloadString("text")
	if text == "" {
		return &handlerErr{code: apierr.CodeBadRequest, msg: "text is required"}
	}
	voice, _ := jc.PayloadString("voice")
	style, _ := jc.PayloadString("style")
	rate, _ := jc.PayloadString("rate")
	pitch, _ := jc.PayloadString("pitch")
	locale, _ := jc.PayloadString("target_locale")

	dbc := dbctx.Context{Ctx: jc.Ctx, Tx: h.DB}
	idemKey := jc.Job.ID.String()

	run, err := h.ProviderRuns.CreateOrGet(dbc, jc.Job.ID, "tts", idemKey, []byte(fmt.Sprintf(`{"text_len":%d}`, len(text))))
	if err != nil {
		return &handlerErr{code: apierr.CodeWorkerCrash, msg: "provider run ledger: " + err.Error()}
	}

	jc.Progress("submit", 10, "submitting to TTS provider")
	submitted, err := h.TTS.Submit(jc.Ctx, idemKey, tts.Request{
		Text:         text,
		TargetLocale: locale,
		Voice:        voice,
		Style:        style,
		Rate:         rate,
		Pitch:        pitch,
		OutputFormat: tts.FormatMP3,
	})
	if err != nil {
		_ = h.ProviderRuns.MarkFailed(dbc, run.ID, nil)
		return translateErr(err)
	}
	if submitted.ProviderJobID != "" {
		if err := h.ProviderRuns.MarkSubmitted(dbc, run.ID, submitted.ProviderJobID); err != nil {
			return &handlerErr{code: apierr.CodeWorkerCrash, msg: "mark submitted: " + err.Error()}
		}
	}

	pollInterval := h.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	totalTimeout := h.TotalTimeout
	if totalTimeout <= 0 {
		totalTimeout = 5 * time.Minute
	}
	deadline := time.Now().Add(totalTimeout)

	var status tts.StatusResult
	for {
		status, err = h.TTS.Poll(jc.Ctx, submitted.ProviderJobID)
		if err != nil {
			_ = h.ProviderRuns.MarkFailed(dbc, run.ID, nil)
			return translateErr(err)
		}
		if status.Status == "succeeded" || status.Status == "completed" {
			break
		}
		if status.Status == "failed" {
			_ = h.ProviderRuns.MarkFailed(dbc, run.ID, nil)
			return &handlerErr{code: apierr.CodeProviderFourXX, msg: "tts provider job failed"}
		}
		jc.Progress("poll", 40, "waiting for tts provider")
		if time.Now().After(deadline) {
			return &handlerErr{code: apierr.CodeTimeout, msg: "tts poll deadline exceeded"}
		}
		select {
		case <-jc.Ctx.Done():
			return jc.Ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	if err := h.ProviderRuns.MarkStatus(dbc, run.ID, domain.ProviderRunSucceeded, nil); err != nil {
		return &handlerErr{code: apierr.CodeWorkerCrash, msg: "mark succeeded: " + err.Error()}
	}
	if len(status.Variants) == 0 {
		return &handlerErr{code: apierr.CodeProviderFourXX, msg: "tts provider returned no variants"}
	}
	variant := status.Variants[0]

	artifact, err := h.ArtifactRepo.Create(dbc, &domain.Artifact{
		JobID:       &jc.Job.ID,
		Kind:        domain.ArtifactAudio,
		URL:         variant.AudioURL,
		ContentType: variant.ContentType,
		Bytes:       variant.Bytes,
		SHA256:      sha256Hex(variant.AudioURL),
	})
	if err != nil {
		return &handlerErr{code: apierr.CodeWorkerCrash, msg: "persist artifact: " + err.Error()}
	}

	jc.Succeed("done", map[string]any{
		"artifact_id": artifact.ID,
		"audio_url":   artifact.URL,
	})
	return nil
}

func sha256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

type handlerErr struct {
	code apierr.Code
	msg  string
}

func (e *handlerErr) Error() string        { return e.msg }
func (e *handlerErr) ErrCode() apierr.Code { return e.code }

func translateErr(err error) error {
	type httpStatusCoder interface{ HTTPStatusCode() int }
	if coder, ok := err.(httpStatusCoder); ok {
		if coder.HTTPStatusCode() >= 500 {
			return &handlerErr{code: apierr.CodeProviderFiveXX, msg: err.Error()}
		}
		return &handlerErr{code: apierr.CodeProviderFourXX, msg: err.Error()}
	}
	return &handlerErr{code: apierr.CodeNetworkError, msg: err.Error()}
}
