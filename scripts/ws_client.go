// Package main runs a demo WebSocket client for circle live events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type  string          `json:"type"`
	Group string          `json:"group,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	group := os.Getenv("GROUP")
	if group == "" {
		group = "demo"
	}
	tripID := os.Getenv("TRIP_ID")

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/live/ws"}
	hdr := http.Header{}
	hdr.Set("X-User-Id", "u_demo")
	hdr.Set("X-Role", "guardian")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "join", Group: group}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s %s: %s", m.Type, m.Event, string(m.Data))
		}
	}()

	// Optionally trigger a position event by posting a ping
	if tripID != "" {
		time.Sleep(500 * time.Millisecond)
		body := []byte(fmt.Sprintf(`{"tripId":%q,"lat":12.9716,"lng":77.5946,"isMoving":true}`, tripID))
		req, _ := http.NewRequest(http.MethodPost, base+"/v1/pings", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-Id", "u_demo")
		_, _ = http.DefaultClient.Do(req)
	}

	// Wait briefly to receive a few messages
	select {
	case <-time.After(5 * time.Second):
	case <-done:
	}
}
