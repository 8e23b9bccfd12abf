// Package commerce implements the Commerce studio processor (spec.md
// §4.4): quote -> confirm -> campaign -> studio job chain. Pricing
// itself is an external collaborator out of scope (spec.md §1); this
// processor only persists/re-runs the quote it was handed, advances the
// campaign through its pipeline steps, and tolerates partial per-step
// failure by recording outcomes in job meta rather than failing the
// whole campaign outright, per spec.md §5's commerce partial-failure
// note. Adapted from commerce_processor.py's stub campaign
// running->succeeded transition, generalized into a real multi-step
// pipeline (product shots via the image provider, promo clip via the
// fusion provider) wherever those inputs are present on the quote.
package commerce

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/facevideo"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/image"
	studiorepo "github.com/kestrelmedia/studioforge/internal/studio/repo"
	studioruntime "github.com/kestrelmedia/studioforge/internal/studio/runtime"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
)

type Handler struct {
	DB           *gorm.DB
	ArtifactRepo studiorepo.ArtifactRepo
	// Image and FaceVideo are optional: a commerce quote that requests
	// neither product shots nor a promo clip skips those steps entirely.
	Image     image.Client
	FaceVideo facevideo.Client
}

func (h *Handler) Type() string { return domain.StudioCommerce }

func (h *Handler) Run(jc *studioruntime.Context) error {
	quoteID, _ := jc.PayloadString("quote_id")
	if quoteID == "" {
		return &runErr{code: apierr.CodeBadRequest, msg: "quote_id is required"}
	}
	if expiresAt, ok := jc.PayloadString("quote_expires_at"); ok && expiresAt != "" {
		if t, err := time.Parse(time.RFC3339, expiresAt); err == nil && time.Now().After(t) {
			return &runErr{code: apierr.CodeQuoteExpired, msg: "commerce quote expired before the campaign ran"}
		}
	}

	dbc := dbctx.Context{Ctx: jc.Ctx, Tx: h.DB}
	outcomes := map[string]any{}

	jc.Progress("catalog", 10, "resolving catalog entries")
	outcomes["catalog"] = map[string]any{"status": "succeeded", "quote_id": quoteID}

	if prompts := stringSlice(jc.Payload()["product_shot_prompts"]); len(prompts) > 0 {
		outcome := h.runProductShots(jc, dbc, prompts)
		outcomes["product_shots"] = outcome
	} else {
		outcomes["product_shots"] = map[string]any{"status": "skipped", "reason": "no product_shot_prompts on quote"}
	}

	if promoImageURL, _ := jc.PayloadString("promo_image_url"); promoImageURL != "" {
		outcome := h.runPromoVideo(jc, dbc, promoImageURL)
		outcomes["promo_video"] = outcome
	} else {
		outcomes["promo_video"] = map[string]any{"status": "skipped", "reason": "no promo_image_url on quote"}
	}

	jc.Succeed("done", map[string]any{
		"quote_id": quoteID,
		"steps":    outcomes,
	})
	return nil
}

// runProductShots generates one image per requested prompt. A single
// prompt failing does not fail the campaign (spec.md §5 partial
// failure) — it is recorded as a failed sub-outcome alongside whatever
// shots did succeed.
func (h *Handler) runProductShots(jc *studioruntime.Context, dbc dbctx.Context, prompts []string) map[string]any {
	if h.Image == nil {
		return map[string]any{"status": "skipped", "reason": "image provider not configured"}
	}
	jc.Progress("product_shots", 40, "generating product shots")

	urls := make([]string, 0, len(prompts))
	failed := 0
	for i, prompt := range prompts {
		idemKey := fmt.Sprintf("%s:shot:%d", jc.Job.ID.String(), i)
		result, err := h.Image.Generate(jc.Ctx, idemKey, image.Request{Prompt: prompt})
		if err != nil || result.URL == "" {
			failed++
			continue
		}
		if _, err := h.ArtifactRepo.Create(dbc, &domain.Artifact{
			JobID:       &jc.Job.ID,
			Kind:        domain.ArtifactImage,
			URL:         result.URL,
			ContentType: "image/png",
			SHA256:      sha256Hex(result.URL),
		}); err != nil {
			failed++
			continue
		}
		urls = append(urls, result.URL)
	}

	status := "succeeded"
	if failed > 0 && len(urls) == 0 {
		status = "failed"
	} else if failed > 0 {
		status = "partial"
	}
	return map[string]any{"status": status, "urls": urls, "failed_count": failed}
}

func (h *Handler) runPromoVideo(jc *studioruntime.Context, dbc dbctx.Context, imageURL string) map[string]any {
	if h.FaceVideo == nil {
		return map[string]any{"status": "skipped", "reason": "fusion provider not configured"}
	}
	jc.Progress("promo_video", 70, "rendering promo clip")

	idemKey := jc.Job.ID.String() + ":promo"
	submitted, err := h.FaceVideo.Submit(jc.Ctx, idemKey, facevideo.Request{
		ImageKey:    imageURL,
		AspectRatio: "1:1",
	})
	if err != nil {
		return map[string]any{"status": "failed", "error": err.Error()}
	}

	deadline := time.Now().Add(2 * time.Minute)
	for {
		status, err := h.FaceVideo.Poll(jc.Ctx, submitted.ProviderJobID)
		if err != nil {
			return map[string]any{"status": "failed", "error": err.Error()}
		}
		switch status.Status {
		case "succeeded", "success", "done":
			if _, err := h.ArtifactRepo.Create(dbc, &domain.Artifact{
				JobID:       &jc.Job.ID,
				Kind:        domain.ArtifactVideo,
				URL:         status.VideoURL,
				ContentType: "video/mp4",
			}); err != nil {
				return map[string]any{"status": "failed", "error": err.Error()}
			}
			return map[string]any{"status": "succeeded", "video_url": status.VideoURL}
		case "failed", "error":
			return map[string]any{"status": "failed", "error": "promo provider job failed"}
		}
		if time.Now().After(deadline) {
			return map[string]any{"status": "failed", "error": "promo poll deadline exceeded"}
		}
		select {
		case <-jc.Ctx.Done():
			return map[string]any{"status": "failed", "error": jc.Ctx.Err().Error()}
		case <-time.After(2 * time.Second):
		}
	}
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
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
