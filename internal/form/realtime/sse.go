package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

var ErrStreamingUnsupported = errors.New("streaming unsupported")

// ServeSSE streams messages as Server-Sent Events until the client goes away.
// SSE is one-way, so subscriptions come from the taskId / companyId query
// params only.
func (s *Server) ServeSSE(w http.ResponseWriter, r *http.Request, client Client) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrStreamingUnsupported
	}

	connID := uuid.New().String()
	conn := s.registry.Register(connID, client.UserID, client.CompanyID, TransportSSE)
	defer s.registry.Unregister(connID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s.coord.Reply(connID, TypeConnectionEstablished, ConnectionPayload{ConnectionID: connID, UserID: client.UserID})
	s.subscribeFromQuery(r, conn)

	heartbeat := time.NewTicker(s.pingInterval)
	defer heartbeat.Stop()

	clientGone := r.Context().Done()
	for {
		select {
		case <-clientGone:
			return nil
		case frame, ok := <-conn.Send():
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frameType(frame), frame); err != nil {
				return err
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

func frameType(frame []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(frame, &head) != nil || head.Type == "" {
		return "message"
	}
	return head.Type
}
