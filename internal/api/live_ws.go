package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Live WebSocket endpoint: clients join circle channels and receive position
// and alert events as they happen.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type  string          `json:"type"`
	Group string          `json:"group,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// LiveWSHandler handles /v1/live/ws
func (s *Server) LiveWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// Track joined circles: group -> channel
	subs := map[string]chan Event{}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	// gorilla allows one concurrent writer; the keepalive and the
	// per-group fan-out goroutines all go through write.
	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	// Keepalive
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := write(wsMessage{Type: "ping"}); err != nil {
				return
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "join":
			if msg.Group == "" {
				_ = write(wsMessage{Type: "error", Data: []byte(`{"message":"group required"}`)})
				continue
			}
			if _, ok := subs[msg.Group]; ok {
				continue // already joined
			}
			ch := s.Broker.Subscribe(msg.Group)
			subs[msg.Group] = ch
			_ = write(wsMessage{Type: "joined", Group: msg.Group})
			go func(group string, c chan Event) {
				for evt := range c {
					data, _ := json.Marshal(evt.Data)
					_ = write(wsMessage{Type: "event", Group: group, Event: evt.Type, Data: data})
				}
			}(msg.Group, ch)
		case "leave":
			if ch, ok := subs[msg.Group]; ok {
				s.Broker.Unsubscribe(msg.Group, ch)
				delete(subs, msg.Group)
				_ = write(wsMessage{Type: "left", Group: msg.Group})
			}
		default:
			// ignore
		}
	}
	for group, ch := range subs {
		s.Broker.Unsubscribe(group, ch)
		delete(subs, group)
	}
}
