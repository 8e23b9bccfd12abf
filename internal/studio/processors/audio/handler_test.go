package audio

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
	"github.com/kestrelmedia/studioforge/internal/studio/providers/tts"
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

type fakeProviderRunRepo struct {
	mu   sync.Mutex
	runs map[string]*domain.ProviderRun
}

func newFakeProviderRunRepo() *fakeProviderRunRepo {
	return &fakeProviderRunRepo{runs: map[string]*domain.ProviderRun{}}
}

func (f *fakeProviderRunRepo) CreateOrGet(_ dbctx.Context, jobID uuid.UUID, provider, idempotencyKey string, request []byte) (*domain.ProviderRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[idempotencyKey]; ok {
		return r, nil
	}
	r := &domain.ProviderRun{ID: uuid.New(), JobID: jobID, Provider: provider, IdempotencyKey: idempotencyKey, ProviderStatus: domain.ProviderRunCreated}
	f.runs[idempotencyKey] = r
	return r, nil
}
func (f *fakeProviderRunRepo) GetByIdempotencyKey(_ dbctx.Context, idempotencyKey string) (*domain.ProviderRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[idempotencyKey], nil
}
func (f *fakeProviderRunRepo) MarkSubmitted(_ dbctx.Context, id uuid.UUID, providerJobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.ID == id {
			r.ProviderJobID = &providerJobID
			r.ProviderStatus = domain.ProviderRunSubmitted
		}
	}
	return nil
}
func (f *fakeProviderRunRepo) MarkStatus(_ dbctx.Context, id uuid.UUID, status string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.ID == id {
			r.ProviderStatus = status
		}
	}
	return nil
}
func (f *fakeProviderRunRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, response []byte) error {
	return f.MarkStatus(dbc, id, domain.ProviderRunFailed, response)
}
func (f *fakeProviderRunRepo) UpsertFusionPerformance(dbctx.Context, *domain.FusionPerformance) (*domain.FusionPerformance, error) {
	return nil, nil
}

type fakeTTS struct {
	submitErr error
	variants  []tts.Variant
	pollErr   error
}

func (f fakeTTS) Submit(context.Context, string, tts.Request) (tts.SubmitResult, error) {
	if f.submitErr != nil {
		return tts.SubmitResult{}, f.submitErr
	}
	return tts.SubmitResult{ProviderJobID: "tts-job-1", Status: "queued"}, nil
}
func (f fakeTTS) Poll(context.Context, string) (tts.StatusResult, error) {
	if f.pollErr != nil {
		return tts.StatusResult{}, f.pollErr
	}
	variants := f.variants
	if variants == nil {
		variants = []tts.Variant{{AudioURL: "https://cdn/audio.mp3", ContentType: "audio/mpeg", Bytes: 2048}}
	}
	return tts.StatusResult{Status: "succeeded", Variants: variants}, nil
}

func newTestContext(payload map[string]any) *studioruntime.Context {
	job := &domain.Job{ID: uuid.New(), Status: domain.JobRunning}
	jc := studioruntime.NewContext(context.Background(), nil, job, nil, nil)
	for k, v := range payload {
		jc.Payload()[k] = v
	}
	return jc
}

func TestHandlerRunSucceeds(t *testing.T) {
	artifactRepo := &fakeArtifactRepo{}
	h := &Handler{
		ArtifactRepo: artifactRepo,
		ProviderRuns: newFakeProviderRunRepo(),
		TTS:          fakeTTS{},
	}

	jc := newTestContext(map[string]any{"text": "hello world", "voice": "en-US-Jenny"})
	if err := h.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if jc.Job.Status != domain.JobSucceeded {
		t.Fatalf("want succeeded, got=%s", jc.Job.Status)
	}
	if len(artifactRepo.created) != 1 {
		t.Fatalf("want exactly one audio artifact persisted, got=%d", len(artifactRepo.created))
	}
	if artifactRepo.created[0].Kind != domain.ArtifactAudio {
		t.Fatalf("want audio artifact kind, got=%s", artifactRepo.created[0].Kind)
	}
}

func TestHandlerRunRequiresText(t *testing.T) {
	h := &Handler{
		ArtifactRepo: &fakeArtifactRepo{},
		ProviderRuns: newFakeProviderRunRepo(),
		TTS:          fakeTTS{},
	}
	jc := newTestContext(map[string]any{})
	err := h.Run(jc)
	if err == nil {
		t.Fatalf("expected error for missing text")
	}
	he, ok := err.(*handlerErr)
	if !ok {
		t.Fatalf("want *handlerErr, got=%T", err)
	}
	if he.ErrCode() != apierr.CodeBadRequest {
		t.Fatalf("want CodeBadRequest, got=%s", he.ErrCode())
	}
}

func TestHandlerRunSubmitFailureIsClassified(t *testing.T) {
	h := &Handler{
		ArtifactRepo: &fakeArtifactRepo{},
		ProviderRuns: newFakeProviderRunRepo(),
		TTS:          fakeTTS{submitErr: &fakeHTTPErr{status: 503}},
	}
	jc := newTestContext(map[string]any{"text": "hello"})
	err := h.Run(jc)
	if err == nil {
		t.Fatalf("expected provider error")
	}
	he, ok := err.(*handlerErr)
	if !ok {
		t.Fatalf("want *handlerErr, got=%T", err)
	}
	if he.ErrCode() != apierr.CodeProviderFiveXX {
		t.Fatalf("a 5xx provider failure should classify as retryable, got=%s", he.ErrCode())
	}
}

type fakeHTTPErr struct{ status int }

func (e *fakeHTTPErr) Error() string      { return "provider error" }
func (e *fakeHTTPErr) HTTPStatusCode() int { return e.status }
