// Package music implements the Music studio processor (spec.md §4.4):
// generate N candidate tracks from one provider call, then either
// auto-select deterministically or pause for a human pick — the Music
// HITL open question from spec.md §9, resolved as: the job sits in
// running with meta.required_action="select_candidate" until
// JobRepo.SelectCandidate clears the flag and re-queues it, at which
// point Run resumes from the stored candidate list instead of
// re-submitting to the provider.
package music

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/music"
	studiorepo "github.com/kestrelmedia/studioforge/internal/studio/repo"
	studioruntime "github.com/kestrelmedia/studioforge/internal/studio/runtime"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
)

// DefaultCandidateCount is used when the payload doesn't specify one.
const DefaultCandidateCount = 3

type Handler struct {
	DB           *gorm.DB
	ArtifactRepo studiorepo.ArtifactRepo
	Music        music.Client
}

func (h *Handler) Type() string { return domain.StudioMusic }

func (h *Handler) Run(jc *studioruntime.Context) error {
	meta := decodeMeta(jc.Job.Meta)

	if raw, ok := meta["selected_candidate_index"]; ok {
		return h.finalizeSelection(jc, meta, raw)
	}
	if meta["required_action"] == "select_candidate" {
		return nil
	}

	prompt, _ := jc.PayloadString("prompt")
	if prompt == "" {
		return &runErr{code: apierr.CodeBadRequest, msg: "prompt is required"}
	}
	lyrics, _ := jc.PayloadString("lyrics")
	instrumental, _ := jc.Payload()["instrumental"].(bool)
	candidateCount := DefaultCandidateCount
	if n, ok := jc.Payload()["candidate_count"].(float64); ok && int(n) > 0 {
		candidateCount = int(n)
	}
	hitlEnabled, _ := jc.Payload()["hitl_enabled"].(bool)

	idemKey := jc.Job.ID.String()
	jc.Progress("submit", 20, "submitting to music provider")
	submitted, err := h.Music.Submit(jc.Ctx, idemKey, music.Request{
		Prompt:       prompt,
		Lyrics:       lyrics,
		Instrumental: instrumental,
		OutputFormat: "mp3",
	})
	if err != nil {
		return translateErr(err)
	}

	jc.Progress("poll", 50, "waiting for music candidates")
	status, err := h.Music.Poll(jc.Ctx, submitted.ProviderJobID)
	if err != nil {
		return translateErr(err)
	}
	if status.Status == "failed" || status.Status == "error" {
		return &runErr{code: apierr.CodeProviderFourXX, msg: "music provider job failed"}
	}
	if len(status.Candidates) == 0 {
		return &runErr{code: apierr.CodeProviderFourXX, msg: "music provider returned no candidates"}
	}

	candidates := make([]any, 0, len(status.Candidates))
	for _, c := range status.Candidates {
		if len(candidates) == candidateCount {
			break
		}
		candidates = append(candidates, map[string]any{"audio_url": c.AudioURL, "bytes": c.Bytes})
	}
	meta["music_candidates"] = candidates

	if !hitlEnabled {
		return h.finalizeSelection(jc, meta, float64(0))
	}

	meta["required_action"] = "select_candidate"
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return &runErr{code: apierr.CodeWorkerCrash, msg: "marshal candidate pause meta: " + err.Error()}
	}
	if err := jc.Update(map[string]any{"meta": metaBytes}); err != nil {
		return &runErr{code: apierr.CodeWorkerCrash, msg: "persist candidate pause: " + err.Error()}
	}
	jc.Progress("awaiting_selection", 80, fmt.Sprintf("%d candidates ready, awaiting user selection", len(candidates)))
	return nil
}

// finalizeSelection persists the Artifact for the chosen candidate and
// terminates the job. Reached either immediately (HITL disabled,
// deterministic index 0) or after JobRepo.SelectCandidate resumes a
// paused job.
func (h *Handler) finalizeSelection(jc *studioruntime.Context, meta map[string]any, rawIndex any) error {
	index, ok := toInt(rawIndex)
	if !ok {
		return &runErr{code: apierr.CodeWorkerCrash, msg: "selected_candidate_index is not a number"}
	}

	rawCandidates, ok := meta["music_candidates"].([]any)
	if !ok {
		return &runErr{code: apierr.CodeWorkerCrash, msg: "music_candidates missing from job meta at selection time"}
	}
	if index < 0 || index >= len(rawCandidates) {
		return &runErr{code: apierr.CodeBadRequest, msg: "selected_candidate_index out of range"}
	}
	chosen, ok := rawCandidates[index].(map[string]any)
	if !ok {
		return &runErr{code: apierr.CodeWorkerCrash, msg: "malformed candidate entry"}
	}
	audioURL, _ := chosen["audio_url"].(string)
	if audioURL == "" {
		return &runErr{code: apierr.CodeWorkerCrash, msg: "chosen candidate has no audio_url"}
	}

	dbc := dbctx.Context{Ctx: jc.Ctx, Tx: h.DB}
	artifact, err := h.ArtifactRepo.Create(dbc, &domain.Artifact{
		JobID:       &jc.Job.ID,
		Kind:        domain.ArtifactAudio,
		URL:         audioURL,
		ContentType: "audio/mpeg",
	})
	if err != nil {
		return &runErr{code: apierr.CodeWorkerCrash, msg: "persist artifact: " + err.Error()}
	}

	jc.Succeed("done", map[string]any{
		"artifact_id":       artifact.ID,
		"audio_url":         artifact.URL,
		"candidate_index":   index,
		"candidate_count":   len(rawCandidates),
	})
	return nil
}

func decodeMeta(raw []byte) map[string]any {
	meta := map[string]any{}
	if len(raw) == 0 {
		return meta
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return map[string]any{}
	}
	return meta
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
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
