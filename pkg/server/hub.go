package server

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/astromechza/timeline/pkg/remote"
	"github.com/astromechza/timeline/pkg/timeline"
)

type listener struct {
	conn *websocket.Conn
	// send is buffered so a slow reader never blocks a writer's request.
	send chan *timeline.Document
}

// hub fans documents out to the websocket listeners attached to each owner.
type hub struct {
	mu        sync.Mutex
	listeners map[string]map[*listener]struct{}
}

func newHub() *hub {
	return &hub{listeners: make(map[string]map[*listener]struct{})}
}

// attach registers conn for uid and queues the current document, if any, as the
// first delivery. Loading under the hub lock keeps the snapshot ordered before any
// later write.
func (h *hub) attach(uid string, conn *websocket.Conn, current func() (*timeline.Document, error)) (*listener, error) {
	l := &listener{conn: conn, send: make(chan *timeline.Document, 8)}
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, err := current()
	if err != nil {
		return nil, err
	}
	if doc != nil {
		l.send <- doc
	}
	if h.listeners[uid] == nil {
		h.listeners[uid] = make(map[*listener]struct{})
	}
	h.listeners[uid][l] = struct{}{}
	return l, nil
}

func (h *hub) detach(uid string, l *listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.listeners[uid]; ok {
		delete(set, l)
		if len(set) == 0 {
			delete(h.listeners, uid)
		}
	}
}

func (h *hub) count(uid string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners[uid])
}

// write runs persist and fans its result out under the hub lock, so listeners see
// writes to one owner in the order they were stored.
func (h *hub) write(uid string, persist func() (*timeline.Document, error)) (*timeline.Document, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, err := persist()
	if err != nil {
		return nil, err
	}
	h.publishLocked(uid, doc)
	return doc, nil
}

func (h *hub) publishLocked(uid string, doc *timeline.Document) {
	for l := range h.listeners[uid] {
		select {
		case l.send <- doc:
		default:
			// the listener is too far behind; dropping it forces a resubscribe
			slog.Warn("dropping slow listener", "uid", uid)
			_ = l.conn.Close()
		}
	}
}

// pump writes queued documents until the connection fails or done is closed.
func (l *listener) pump(done <-chan struct{}) {
	for {
		select {
		case doc := <-l.send:
			if err := remote.WriteDocument(l.conn, doc); err != nil {
				slog.Error("failed to push", "err", err)
				_ = l.conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

// closeAll disconnects every listener. Hijacked connections are not closed by
// http.Server.Shutdown.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for uid, set := range h.listeners {
		for l := range set {
			_ = l.conn.Close()
		}
		delete(h.listeners, uid)
	}
}
