package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/astromechza/timeline/pkg/remote"
	"github.com/astromechza/timeline/pkg/timeline"
)

const commandTimeout = 20 * time.Second

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}

// statusView prints status messages and lets a command wait for a push.
type statusView struct {
	out       io.Writer
	refreshed chan struct{}
}

func newStatusView(out io.Writer) *statusView {
	return &statusView{out: out, refreshed: make(chan struct{}, 1)}
}

func (v *statusView) Refresh([]timeline.Entry) {
	select {
	case v.refreshed <- struct{}{}:
	default:
	}
}

func (v *statusView) Status(msg string) {
	fmt.Fprintln(v.out, msg)
}

func (v *statusView) SessionChanged(*remote.Identity) {}

func (v *statusView) waitRefresh(ctx context.Context) bool {
	select {
	case <-v.refreshed:
		return true
	case <-ctx.Done():
		return false
	}
}
