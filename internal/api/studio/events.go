package studio

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	"github.com/kestrelmedia/studioforge/internal/sse"
)

// EventsHandler serves the studio job/dashboard live-update stream over
// SSE, subscribed on the caller's own user channel. Events are published
// by internal/studio/runtime.Notifier (job lifecycle) in the separate
// cmd/studioworker process and reach this process through the Redis
// forwarder app.mountStudioRoutes starts; nothing in this process
// publishes job events itself.
type EventsHandler struct {
	Hub *sse.SSEHub
}

func NewEventsHandler(hub *sse.SSEHub) *EventsHandler {
	return &EventsHandler{Hub: hub}
}

// GET /api/studio/events
func (h *EventsHandler) Stream(c *gin.Context) {
	userID, ok := actorUserID(c)
	if !ok {
		writeAPIErr(c, apierr.New(http.StatusUnauthorized, string(apierr.CodeMissingToken), nil))
		return
	}

	client := h.Hub.NewSSEClient(userID)
	h.Hub.AddChannel(client, userID.String())
	defer h.Hub.RemoveClient(client)

	h.Hub.ServeHTTP(c.Writer, c.Request, client)
}
