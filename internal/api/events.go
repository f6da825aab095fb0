package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/lokmanager/internal/events"
)

// registerSSERoutes registers the profile event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time profile lifecycle changes and status snapshots",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"profile-created":       events.ProfileCreatedEvent{},
		"profile-deleted":       events.ProfileDeletedEvent{},
		"profile-state-changed": events.ProfileStateChangedEvent{},
		"status":                events.StatusSnapshotEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)
		unsubscribers := []func(){
			events.SubscribeToChannel[events.ProfileCreatedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ProfileDeletedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ProfileStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StatusSnapshotEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Current state first so clients need no separate fetch.
		if s.status != nil {
			if err := send.Data(s.status.Snapshot().Event()); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
