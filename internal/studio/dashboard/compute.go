package dashboard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
)

// computeHome rebuilds one user's cache row from the live Job/Artifact/
// MediaAsset tables, standing in for the original's SQL view join
// (v_dashboard_home) plus stored procedure.
func (s *Service) computeHome(ctx context.Context, userID uuid.UUID) (*domain.DashboardCache, error) {
	gauges, err := s.computeGauges(ctx, userID)
	if err != nil {
		return nil, err
	}
	alerts, err := s.computeAlerts(ctx, userID)
	if err != nil {
		return nil, err
	}
	faceCarousel, err := s.computeFaceCarousel(ctx, userID)
	if err != nil {
		return nil, err
	}
	videoCarousel, err := s.computeVideoCarousel(ctx, userID)
	if err != nil {
		return nil, err
	}
	header := map[string]any{
		"active_jobs": gauges["running"],
		"queued_jobs": gauges["queued"],
	}

	return &domain.DashboardCache{
		UserID:            userID,
		GaugesJSON:        mustJSON(gauges),
		AlertsJSON:        mustJSON(alerts),
		FaceCarouselJSON:  mustJSON(faceCarousel),
		VideoCarouselJSON: mustJSON(videoCarousel),
		HeaderJSON:        mustJSON(header),
		UpdatedAt:         time.Now(),
	}, nil
}

// computeGauges counts the user's jobs per status, the dashboard's
// at-a-glance summary tiles.
func (s *Service) computeGauges(ctx context.Context, userID uuid.UUID) (map[string]any, error) {
	rows := []struct {
		Status string
		Count  int64
	}{}
	err := s.DB.WithContext(ctx).Model(&domain.Job{}).
		Select("status, count(*) as count").
		Where("user_id = ?", userID).
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"queued": int64(0), "running": int64(0), "stitching": int64(0),
		"succeeded": int64(0), "failed": int64(0), "canceled": int64(0),
	}
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// computeAlerts surfaces the user's most recently failed jobs.
func (s *Service) computeAlerts(ctx context.Context, userID uuid.UUID) ([]map[string]any, error) {
	var jobs []domain.Job
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, domain.JobFailed).
		Order("last_error_at DESC").
		Limit(AlertLimit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, map[string]any{
			"job_id":        j.ID,
			"studio_type":   j.StudioType,
			"error_code":    j.ErrorCode,
			"error_message": j.ErrorMessage,
			"created_at":    j.CreatedAt,
		})
	}
	return out, nil
}

// computeFaceCarousel lists the user's most recent face MediaAssets.
// image_url is left for enrichCarousels to mint from meta.storage_path.
func (s *Service) computeFaceCarousel(ctx context.Context, userID uuid.UUID) ([]map[string]any, error) {
	var assets []domain.MediaAsset
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND kind = ?", userID, domain.ArtifactFace).
		Order("created_at DESC").
		Limit(FaceCarouselLimit).
		Find(&assets).Error
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(assets))
	for _, a := range assets {
		item := map[string]any{
			"media_asset_id": a.ID,
			"created_at":     a.CreatedAt,
			"url":            a.URL,
		}
		if meta := decodeObj(a.Meta); meta != nil {
			item["meta"] = meta
		}
		out = append(out, item)
	}
	return out, nil
}

// computeVideoCarousel lists video Artifacts produced by the user's jobs.
func (s *Service) computeVideoCarousel(ctx context.Context, userID uuid.UUID) ([]map[string]any, error) {
	var rows []domain.Artifact
	err := s.DB.WithContext(ctx).
		Joins("JOIN job ON job.id = artifact.job_id").
		Where("job.user_id = ? AND artifact.kind = ?", userID, domain.ArtifactVideo).
		Order("artifact.created_at DESC").
		Limit(VideoCarouselLimit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(rows))
	for _, a := range rows {
		item := map[string]any{
			"artifact_id": a.ID,
			"job_id":      a.JobID,
			"created_at":  a.CreatedAt,
			"url":         a.URL,
		}
		if meta := decodeObj(a.Meta); meta != nil {
			item["meta"] = meta
		}
		out = append(out, item)
	}
	return out, nil
}

// enrichCarousels mints fresh signed URLs from each item's
// meta.storage_path, falling back to re-signing an existing url if no
// storage_path is recorded — mirroring dashboard_service.py's
// _enrich_carousels_with_sas.
func (s *Service) enrichCarousels(ctx context.Context, home *Home) {
	if s.Signer == nil {
		return
	}
	faceContainer := s.Containers[domain.ArtifactFace]
	videoContainer := s.Containers[domain.ArtifactVideo]

	for _, item := range home.FaceCarousel {
		s.signItem(ctx, item, "image_url", faceContainer, s.TTL.FaceTTL)
	}
	for _, item := range home.VideoCarousel {
		ttl := s.TTL.DefaultVideoTTL
		if isRecent(item, s.TTL.RecentWindow) {
			ttl = s.TTL.RecentVideoTTL
		}
		s.signItem(ctx, item, "video_url", videoContainer, ttl)
	}
}

func (s *Service) signItem(ctx context.Context, item map[string]any, urlKey, container string, ttl time.Duration) {
	if sp := storagePathOf(item); sp != "" {
		if signed, err := s.Signer.Sign(ctx, container, sp, ttl); err == nil {
			item[urlKey] = signed
		}
		return
	}
	existing, _ := item[urlKey].(string)
	if existing == "" {
		existing, _ = item["url"].(string)
	}
	if existing == "" {
		return
	}
	if c, sp, ok := s.Signer.SplitBlobURL(existing); ok {
		if signed, err := s.Signer.Sign(ctx, c, sp, ttl); err == nil {
			item[urlKey] = signed
		}
	}
}

func storagePathOf(item map[string]any) string {
	if meta, ok := item["meta"].(map[string]any); ok {
		if sp, ok := meta[domain.AssetMetaStoragePath].(string); ok {
			return sp
		}
	}
	if sp, ok := item["storage_path"].(string); ok {
		return sp
	}
	return ""
}

// isRecent treats an item with no parseable timestamp as recent, matching
// _is_recent's "safer for UX" default.
func isRecent(item map[string]any, window time.Duration) bool {
	raw, ok := item["created_at"]
	if !ok {
		return true
	}
	t, ok := raw.(time.Time)
	if !ok {
		return true
	}
	return time.Since(t) <= window
}

func decodeObj(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func decodeArr(raw []byte) []map[string]any {
	if len(raw) == 0 {
		return []map[string]any{}
	}
	var arr []map[string]any
	if err := json.Unmarshal(raw, &arr); err != nil {
		return []map[string]any{}
	}
	return arr
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}
