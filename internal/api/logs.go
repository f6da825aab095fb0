package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/lokmanager/internal/api/models"
	"github.com/smazurov/lokmanager/internal/events"
	"github.com/smazurov/lokmanager/internal/logging"
)

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Logs",
		Description: "Read buffered supervisor and worker log entries",
		Tags:        []string{"logs"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.LogsQuery) (*models.LogsResponse, error) {
		entries := filterLogs(s.logs.Since(input.Since), input.Profile)
		if input.Limit > 0 && len(entries) > input.Limit {
			entries = entries[len(entries)-input.Limit:]
		}
		if entries == nil {
			entries = []logging.LogEvent{}
		}
		return &models.LogsResponse{
			Body: models.LogsData{
				Entries: entries,
				Count:   len(entries),
				LastSeq: s.logs.LastSeq(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "clear-logs",
		Method:      http.MethodDelete,
		Path:        "/api/logs",
		Summary:     "Clear Logs",
		Description: "Empty the log buffer. Sequence numbers keep increasing.",
		Tags:        []string{"logs"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.CountResponse, error) {
		n := s.logs.Len()
		s.logs.Clear()
		s.logger.Info("Log buffer cleared", "entries", n)

		resp := &models.CountResponse{}
		resp.Body.Cleared = n
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "export-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs/export",
		Summary:     "Export Logs",
		Description: "Download the log buffer as plain text, one formatted line per entry",
		Tags:        []string{"logs"},
		Errors:      []int{401, 500},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.LogsExportResponse, error) {
		var buf bytes.Buffer
		if err := s.logs.WriteText(&buf); err != nil {
			return nil, huma.Error500InternalServerError("failed to export logs", err)
		}
		filename := fmt.Sprintf("lokmanager_logs_%s.txt", time.Now().Format("20060102_150405"))
		return &models.LogsExportResponse{
			ContentType:        "text/plain; charset=utf-8",
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", filename),
			Body:               buf.Bytes(),
		}, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Replays buffered entries after `since`, then streams new entries via Server-Sent Events",
		Tags:        []string{"logs"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, input *models.LogStreamQuery, send sse.Sender) {
		// Subscribe before replaying so nothing falls between the two.
		eventCh := make(chan any, 256)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		last := input.Since
		for _, entry := range filterLogs(s.logs.Since(input.Since), input.Profile) {
			if err := send.Data(events.NewLogEntryEvent(entry)); err != nil {
				return
			}
			last = entry.Seq
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				entry, ok := ev.(events.LogEntryEvent)
				if !ok || entry.Seq <= last {
					continue
				}
				if input.Profile != "" && entry.Profile != input.Profile {
					continue
				}
				last = entry.Seq
				if err := send.Data(entry); err != nil {
					return
				}
			}
		}
	})
}

func filterLogs(entries []logging.LogEvent, profile string) []logging.LogEvent {
	if profile == "" {
		return entries
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Profile == profile {
			out = append(out, e)
		}
	}
	return out
}
