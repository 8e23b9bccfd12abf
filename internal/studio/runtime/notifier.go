package runtime

import (
	"context"

	"github.com/google/uuid"

	redisbus "github.com/kestrelmedia/studioforge/internal/platform/redis"
	"github.com/kestrelmedia/studioforge/internal/sse"
	domain "github.com/kestrelmedia/studioforge/internal/studio/domain"
)

// SSE event names for studio job lifecycle, broadcast on the owning
// user's channel. Reuses the existing sse.SSEHub transport; these are
// new event names, not a change to the hub's existing event set.
const (
	EventJobCreated  sse.SSEEvent = "StudioJobCreated"
	EventJobProgress sse.SSEEvent = "StudioJobProgress"
	EventJobFailed   sse.SSEEvent = "StudioJobFailed"
	EventJobDone     sse.SSEEvent = "StudioJobDone"
)

// Notifier is the side-channel the job system uses to push job lifecycle
// events to connected clients. A nil Notifier is valid; Context guards
// every call site.
type Notifier interface {
	JobCreated(userID uuid.UUID, job *domain.Job)
	JobProgress(userID uuid.UUID, job *domain.Job, stage string, progress int, message string)
	JobFailed(userID uuid.UUID, job *domain.Job, stage string, errorMessage string)
	JobDone(userID uuid.UUID, job *domain.Job)
}

// hubNotifier broadcasts locally on hub (when this process holds the
// HTTP-facing SSEHub clients are connected to) and/or publishes on bus
// (when this process is cmd/studioworker, with no local subscribers of
// its own). Either may be nil; cmd/studioworker passes hub=nil,
// bus=<redis>. The API process builds no Notifier: it relays redis-origin
// events into its hub via its own forwarder.
type hubNotifier struct {
	hub *sse.SSEHub
	bus redisbus.SSEBus
}

func NewNotifier(hub *sse.SSEHub, bus redisbus.SSEBus) Notifier {
	return &hubNotifier{hub: hub, bus: bus}
}

func (n *hubNotifier) publish(msg sse.SSEMessage) {
	if n.hub != nil {
		n.hub.Broadcast(msg)
	}
	if n.bus != nil {
		_ = n.bus.Publish(context.Background(), msg)
	}
}

func (n *hubNotifier) JobCreated(userID uuid.UUID, job *domain.Job) {
	n.publish(sse.SSEMessage{
		Channel: userID.String(),
		Event:   EventJobCreated,
		Data:    map[string]any{"job": job},
	})
}

func (n *hubNotifier) JobProgress(userID uuid.UUID, job *domain.Job, stage string, progress int, message string) {
	n.publish(sse.SSEMessage{
		Channel: userID.String(),
		Event:   EventJobProgress,
		Data: map[string]any{
			"job_id":      job.ID,
			"studio_type": job.StudioType,
			"stage":       stage,
			"progress":    progress,
			"message":     message,
			"job":         job,
		},
	})
}

func (n *hubNotifier) JobFailed(userID uuid.UUID, job *domain.Job, stage string, errorMessage string) {
	n.publish(sse.SSEMessage{
		Channel: userID.String(),
		Event:   EventJobFailed,
		Data: map[string]any{
			"job_id":      job.ID,
			"studio_type": job.StudioType,
			"stage":       stage,
			"error":       errorMessage,
			"job":         job,
		},
	})
}

func (n *hubNotifier) JobDone(userID uuid.UUID, job *domain.Job) {
	n.publish(sse.SSEMessage{
		Channel: userID.String(),
		Event:   EventJobDone,
		Data: map[string]any{
			"job_id":      job.ID,
			"studio_type": job.StudioType,
			"job":         job,
		},
	})
}
