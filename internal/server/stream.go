package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"hyvve/internal/engine"
)

const (
	streamPollInterval = time.Second
	streamBatch        = 100
)

// registerEventStream exposes a websocket that tails the project event log.
// Clients pass ?cursor=<event id> to resume after a disconnect; without a
// cursor the stream starts at the log tail.
func registerEventStream(r chi.Router, basePath string, e engine.Engine) {
	route := path.Join(basePath, "projects/{project_id}/events/stream")
	r.Get(route, func(w http.ResponseWriter, req *http.Request) {
		projectID := chi.URLParam(req, "project_id")
		if projectID == "" {
			http.Error(w, "project_id required", http.StatusBadRequest)
			return
		}
		cursor, err := streamCursor(req, e, projectID)
		if err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		ws, err := websocket.Accept(w, req, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			log.Printf("stream: accept failed: %v", err)
			return
		}
		defer ws.Close(websocket.StatusNormalClosure, "stream ended")

		ctx := req.Context()
		// Reads are only needed to observe client close.
		go func() {
			for {
				if _, _, err := ws.Read(ctx); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(streamPollInterval)
		defer ticker.Stop()
		for {
			events, err := e.Repo.EventsAfter(ctx, streamBatch, cursor, projectID)
			if err != nil {
				log.Printf("stream: fetch events failed: %v", err)
				return
			}
			for _, evt := range events {
				data, err := json.Marshal(eventResponse(evt))
				if err != nil {
					continue
				}
				if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
					return
				}
				cursor = evt.ID
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}

func streamCursor(req *http.Request, e engine.Engine, projectID string) (int64, error) {
	raw := strings.TrimSpace(req.URL.Query().Get("cursor"))
	if raw == "" {
		return e.Repo.LatestEventID(context.Background(), projectID)
	}
	return strconv.ParseInt(raw, 10, 64)
}
