package streaming

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rendis/flowforge/internal/logging"
)

// Handler streams run events as Server-Sent Events:
//
//	GET /events                  every event, ?workflow_id= narrows
//	GET /runs/{id}/events        one run, closed after run.finished
func Handler(hub EventHub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &sseServer{hub: hub, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, EventFilter{WorkflowID: r.URL.Query().Get("workflow_id")}, false)
	})
	mux.HandleFunc("GET /runs/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, EventFilter{RunID: r.PathValue("id")}, true)
	})
	return mux
}

type sseServer struct {
	hub    EventHub
	logger *slog.Logger
}

func (s *sseServer) serve(w http.ResponseWriter, r *http.Request, filter EventFilter, untilFinished bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, err := s.hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.logger.Error("SSE subscribe failed", slog.String("error", err.Error()))
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			flusher.Flush()
			if untilFinished && event.EventType == EventRunFinished {
				return
			}
		}
	}
}
