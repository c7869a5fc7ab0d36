package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/astromechza/timeline/pkg/remote"
	"github.com/astromechza/timeline/pkg/timeline"
)

type refreshMsg struct{ entries []timeline.Entry }

type statusMsg struct{ text string }

type identityMsg struct{ id *remote.Identity }

// Bridge forwards session callbacks into a running program. Local edits call back
// from inside Update, so messages are queued and delivered in order by a separate
// goroutine rather than sent inline. Callbacks made before Attach are dropped; the
// model reads the session directly on start.
type Bridge struct {
	mu      sync.Mutex
	p       *tea.Program
	queue   []tea.Msg
	wake    chan struct{}
	stopped chan struct{}
}

func NewBridge() *Bridge {
	return &Bridge{wake: make(chan struct{}, 1), stopped: make(chan struct{})}
}

// Attach starts forwarding to p until Detach.
func (b *Bridge) Attach(p *tea.Program) {
	b.mu.Lock()
	b.p = p
	b.mu.Unlock()
	go b.forward()
}

func (b *Bridge) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.p == nil {
		return
	}
	b.p = nil
	close(b.stopped)
}

func (b *Bridge) forward() {
	for {
		select {
		case <-b.stopped:
			return
		case <-b.wake:
		}
		b.mu.Lock()
		p, pending := b.p, b.queue
		b.queue = nil
		b.mu.Unlock()
		if p == nil {
			return
		}
		for _, msg := range pending {
			p.Send(msg)
		}
	}
}

func (b *Bridge) send(msg tea.Msg) {
	b.mu.Lock()
	if b.p == nil {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, msg)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) Refresh(entries []timeline.Entry) { b.send(refreshMsg{entries}) }

func (b *Bridge) Status(msg string) { b.send(statusMsg{msg}) }

func (b *Bridge) SessionChanged(id *remote.Identity) { b.send(identityMsg{id}) }
