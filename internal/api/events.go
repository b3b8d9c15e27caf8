package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// handleEvents streams job snapshots as Server-Sent Events. The event id
// is the snapshot Seq and the event name its event type. The stream ends
// after the final snapshot.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	ch, unsub, err := s.jobs.Subscribe(chi.URLParam(r, "id"))
	if err != nil {
		writeRegistryErr(w, r, err)
		return
	}
	defer unsub()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	var lastSeq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if snap.Seq <= lastSeq {
				continue
			}
			lastSeq = snap.Seq

			data, err := json.Marshal(snap)
			if err != nil {
				zap.L().Error("api: marshal snapshot", zap.Error(err))
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", snap.Seq, snap.Event, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
