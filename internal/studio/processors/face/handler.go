// Package face implements the Face studio processor (spec.md §4.4):
// compose four diverse prompt variants from region/style/context inputs,
// generate each image idempotent by (job_id, variant_index), persist a
// MediaAsset plus a job Artifact per variant, adapted from the
// original svc-face's four-variant generate_faces flow
// (face_jobs.py/face_orchestrator.py) around this module's abstract
// image.Client instead of a direct model call.
package face

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"gorm.io/gorm"

	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/image"
	studiorepo "github.com/kestrelmedia/studioforge/internal/studio/repo"
	studioruntime "github.com/kestrelmedia/studioforge/internal/studio/runtime"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
)

// VariantCount is the fixed number of diverse faces generated per job,
// matching the original service's "Generate 4 diverse face images."
const VariantCount = 4

// safetyBlockedWords is a minimal reject-list; spec.md §4.4 calls for a
// keyword-based safety gate ahead of any provider call, not a full
// classifier.
var safetyBlockedWords = []string{"nsfw", "nude", "explicit"}

type Handler struct {
	DB           *gorm.DB
	ArtifactRepo studiorepo.ArtifactRepo
	Image        image.Client
}

func (h *Handler) Type() string { return domain.StudioFace }

func (h *Handler) Run(jc *studioruntime.Context) error {
	region, _ := jc.PayloadString("region")
	style, _ := jc.PayloadString("style")
	context, _ := jc.PayloadString("context")
	basePrompt, _ := jc.PayloadString("prompt")
	negativePrompt, _ := jc.PayloadString("negative_prompt")
	size, _ := jc.PayloadString("size")

	if basePrompt == "" {
		return &runErr{code: apierr.CodeBadRequest, msg: "prompt is required"}
	}
	if violatesContentPolicy(basePrompt) {
		return &runErr{code: apierr.CodeUnsafePrompt, msg: "prompt violates content policy"}
	}

	dbc := dbctx.Context{Ctx: jc.Ctx, Tx: h.DB}
	size = image.CoerceSize(size)

	mediaAssets := make([]*domain.MediaAsset, 0, VariantCount)
	for variant := 0; variant < VariantCount; variant++ {
		jc.Progress("generate", 10+variant*20, fmt.Sprintf("generating variant %d/%d", variant+1, VariantCount))

		idemKey := fmt.Sprintf("%s:%d", jc.Job.ID.String(), variant)
		result, err := h.Image.Generate(jc.Ctx, idemKey, image.Request{
			Prompt:         composeVariantPrompt(basePrompt, region, style, context, variant),
			NegativePrompt: negativePrompt,
			Seed:           int64(variant),
		})
		if err != nil {
			return translateErr(err)
		}
		if result.URL == "" {
			return &runErr{code: apierr.CodeProviderFourXX, msg: "image provider returned no url"}
		}

		asset, err := h.ArtifactRepo.CreateMediaAsset(dbc, &domain.MediaAsset{
			UserID:      jc.Job.UserID,
			Kind:        domain.ArtifactFace,
			URL:         result.URL,
			ContentType: "image/png",
			SHA256:      sha256Hex(result.URL),
			Meta:        variantMeta(variant, region, style, context),
		})
		if err != nil {
			return &runErr{code: apierr.CodeWorkerCrash, msg: "persist media asset: " + err.Error()}
		}
		mediaAssets = append(mediaAssets, asset)

		if _, err := h.ArtifactRepo.Create(dbc, &domain.Artifact{
			JobID:       &jc.Job.ID,
			Kind:        domain.ArtifactFace,
			URL:         result.URL,
			ContentType: "image/png",
			SHA256:      sha256Hex(result.URL),
			Meta:        variantMeta(variant, region, style, context),
		}); err != nil {
			return &runErr{code: apierr.CodeWorkerCrash, msg: "persist artifact: " + err.Error()}
		}
	}

	faceIDs := make([]string, 0, len(mediaAssets))
	urls := make([]string, 0, len(mediaAssets))
	for _, a := range mediaAssets {
		faceIDs = append(faceIDs, a.ID.String())
		urls = append(urls, a.URL)
	}

	jc.Succeed("done", map[string]any{
		"face_profile_ids": faceIDs,
		"face_urls":        urls,
	})
	return nil
}

func composeVariantPrompt(base, region, style, context string, variant int) string {
	p := base
	if region != "" {
		p += ", region: " + region
	}
	if style != "" {
		p += ", style: " + style
	}
	if context != "" {
		p += ", context: " + context
	}
	return fmt.Sprintf("%s (variant %d)", p, variant)
}

func variantMeta(variant int, region, style, context string) []byte {
	return []byte(fmt.Sprintf(
		`{"variant":%d,"region":%q,"style":%q,"context":%q}`,
		variant, region, style, context,
	))
}

func violatesContentPolicy(prompt string) bool {
	lower := make([]byte, len(prompt))
	for i := 0; i < len(prompt); i++ {
		c := prompt[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		lower[i] = c
	}
	s := string(lower)
	for _, word := range safetyBlockedWords {
		if containsWord(s, word) {
			return true
		}
	}
	return false
}

func containsWord(s, word string) bool {
	if word == "" {
		return false
	}
	for i := 0; i+len(word) <= len(s); i++ {
		if s[i:i+len(word)] == word {
			return true
		}
	}
	return false
}

func sha256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
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
