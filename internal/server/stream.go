package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleAPIEventStream streams new events and job state as server-sent
// events until the client goes away.
func (s *Server) handleAPIEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// The stream outlives the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	sendEvent := func(event string, data interface{}) {
		jsonData, _ := json.Marshal(data)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
		flusher.Flush()
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	var lastSeq int64
	ctx := r.Context()
	for {
		// Take the wait channel before reading so no update is missed.
		changed := s.controller.Wait()

		events := s.controller.EventsAfter(lastSeq)
		for _, ev := range events {
			sendEvent("event", ev)
			lastSeq = ev.Seq
		}
		sendEvent("state", s.controller.Snapshot())

		select {
		case <-ctx.Done():
			return
		case <-changed:
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
