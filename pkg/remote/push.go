package remote

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/timeline/pkg/timeline"
)

const writeWait = 10 * time.Second

// ReadDocument blocks until the next document arrives on the feed. Non-text frames
// are skipped.
func ReadDocument(conn *websocket.Conn) (*timeline.Document, error) {
	for {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		doc := new(timeline.Document)
		if err := json.Unmarshal(p, doc); err != nil {
			// undecodable payloads are delivered as invalid documents and dropped downstream
			slog.Warn("undecodable push payload", "err", err)
			return &timeline.Document{}, nil
		}
		return doc, nil
	}
}

func WriteDocument(conn *websocket.Conn, doc *timeline.Document) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(doc); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
