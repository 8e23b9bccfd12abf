package music

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	studiomusic "github.com/kestrelmedia/studioforge/internal/studio/providers/music"
	studioruntime "github.com/kestrelmedia/studioforge/internal/studio/runtime"
)

type fakeArtifactRepo struct {
	mu      sync.Mutex
	created []*domain.Artifact
}

func (f *fakeArtifactRepo) Create(_ dbctx.Context, a *domain.Artifact) (*domain.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	f.created = append(f.created, a)
	return a, nil
}
func (f *fakeArtifactRepo) GetByID(dbctx.Context, uuid.UUID) (*domain.Artifact, error) { return nil, nil }
func (f *fakeArtifactRepo) ListByJobID(dbctx.Context, uuid.UUID) ([]*domain.Artifact, error) {
	return nil, nil
}
func (f *fakeArtifactRepo) CreateMediaAsset(dbctx.Context, *domain.MediaAsset) (*domain.MediaAsset, error) {
	return nil, nil
}
func (f *fakeArtifactRepo) GetMediaAssetByID(dbctx.Context, uuid.UUID) (*domain.MediaAsset, error) {
	return nil, nil
}
func (f *fakeArtifactRepo) ListMediaAssetsByUser(dbctx.Context, uuid.UUID, string) ([]*domain.MediaAsset, error) {
	return nil, nil
}

type fakeMusic struct{}

func (f fakeMusic) Submit(context.Context, string, studiomusic.Request) (studiomusic.SubmitResult, error) {
	return studiomusic.SubmitResult{ProviderJobID: "music-job-1"}, nil
}
func (f fakeMusic) Poll(context.Context, string) (studiomusic.StatusResult, error) {
	return studiomusic.StatusResult{
		Status: "succeeded",
		Candidates: []studiomusic.Candidate{
			{AudioURL: "https://cdn/c0.mp3", Bytes: 100},
			{AudioURL: "https://cdn/c1.mp3", Bytes: 200},
			{AudioURL: "https://cdn/c2.mp3", Bytes: 300},
		},
	}, nil
}

func newTestContext(payload map[string]any) *studioruntime.Context {
	job := &domain.Job{ID: uuid.New(), Status: domain.JobRunning}
	jc := studioruntime.NewContext(context.Background(), nil, job, nil, nil)
	for k, v := range payload {
		jc.Payload()[k] = v
	}
	return jc
}

func TestHandlerRunAutoSelectsWithoutHITL(t *testing.T) {
	artifactRepo := &fakeArtifactRepo{}
	h := &Handler{ArtifactRepo: artifactRepo, Music: fakeMusic{}}
	jc := newTestContext(map[string]any{"prompt": "upbeat intro jingle"})

	if err := h.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if jc.Job.Status != domain.JobSucceeded {
		t.Fatalf("want succeeded, got=%s", jc.Job.Status)
	}
	if len(artifactRepo.created) != 1 || artifactRepo.created[0].URL != "https://cdn/c0.mp3" {
		t.Fatalf("want deterministic candidate 0 selected, got=%+v", artifactRepo.created)
	}
}

func TestHandlerRunPausesForSelectionWithHITL(t *testing.T) {
	artifactRepo := &fakeArtifactRepo{}
	h := &Handler{ArtifactRepo: artifactRepo, Music: fakeMusic{}}
	jc := newTestContext(map[string]any{"prompt": "upbeat intro jingle", "hitl_enabled": true})

	if err := h.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if jc.Job.Status != domain.JobRunning {
		t.Fatalf("a HITL pause must leave the job running, not terminal, got=%s", jc.Job.Status)
	}
	if len(artifactRepo.created) != 0 {
		t.Fatalf("no artifact should be persisted before a candidate is chosen, got=%d", len(artifactRepo.created))
	}

	var meta map[string]any
	if err := json.Unmarshal(jc.Job.Meta, &meta); err != nil {
		t.Fatalf("job meta should be valid json after pausing: %v", err)
	}
	if meta["required_action"] != "select_candidate" {
		t.Fatalf("want required_action=select_candidate, got=%v", meta["required_action"])
	}
	candidates, ok := meta["music_candidates"].([]any)
	if !ok || len(candidates) != 3 {
		t.Fatalf("want 3 candidates stashed in meta, got=%+v", meta["music_candidates"])
	}
}

func TestHandlerRunResumesAfterSelection(t *testing.T) {
	artifactRepo := &fakeArtifactRepo{}
	h := &Handler{ArtifactRepo: artifactRepo, Music: fakeMusic{}}

	jc := newTestContext(map[string]any{"prompt": "upbeat intro jingle", "hitl_enabled": true})
	if err := h.Run(jc); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Simulate JobRepo.SelectCandidate: clear required_action, stash the
	// chosen index, and hand the job back to Run as the worker would
	// after re-claiming a requeued job.
	var meta map[string]any
	_ = json.Unmarshal(jc.Job.Meta, &meta)
	delete(meta, "required_action")
	meta["selected_candidate_index"] = float64(1)
	metaBytes, _ := json.Marshal(meta)
	jc.Job.Meta = metaBytes

	if err := h.Run(jc); err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if jc.Job.Status != domain.JobSucceeded {
		t.Fatalf("want succeeded after resuming with a selection, got=%s", jc.Job.Status)
	}
	if len(artifactRepo.created) != 1 || artifactRepo.created[0].URL != "https://cdn/c1.mp3" {
		t.Fatalf("want candidate 1 selected, got=%+v", artifactRepo.created)
	}
}

func TestHandlerRunRequiresPrompt(t *testing.T) {
	h := &Handler{ArtifactRepo: &fakeArtifactRepo{}, Music: fakeMusic{}}
	jc := newTestContext(map[string]any{})
	err := h.Run(jc)
	re, ok := err.(*runErr)
	if !ok {
		t.Fatalf("want *runErr, got=%T", err)
	}
	if re.ErrCode() != apierr.CodeBadRequest {
		t.Fatalf("want CodeBadRequest, got=%s", re.ErrCode())
	}
}
