package api

import (
	"log"
	"net/http"
	"time"

	"civicsync/internal/eventbus"
	"civicsync/internal/models"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

var feedEventTypes = []string{
	models.FeedBillCreated,
	models.FeedBillMovement,
	models.FeedVoteResult,
	models.FeedAttendanceRecord,
	models.FeedAnalysisReady,
}

type wsMessage struct {
	Type      string      `json:"type"`
	TenantID  int64       `json:"tenant_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// handleFeedWebSocket streams feed posts to the client as they are emitted.
// A slow client has events dropped by the bus rather than blocking emitters.
func (s *Server) handleFeedWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		http.Error(w, "feed stream unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	events := make(chan eventbus.Event, 64)
	s.bus.Subscribe(events, feedEventTypes...)
	defer s.bus.Unsubscribe(events, feedEventTypes...)

	// Drain reads so close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt := <-events:
			msg := wsMessage{
				Type:      evt.Post.Type,
				TenantID:  evt.Post.TenantID,
				Timestamp: evt.At,
				Payload:   evt.Post,
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
