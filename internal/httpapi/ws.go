package httpapi

import (
	"net/http"
	"time"
)

// handlePipelineWS streams pipeline feed events to the client as JSON
// messages. The subscription is dropped when the client goes away.
func (s *Server) handlePipelineWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	feed, cancel := s.pipeline.Feed().Subscribe()
	defer cancel()

	ctx := r.Context()

	// Reads are only consumed to notice client close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-feed:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
