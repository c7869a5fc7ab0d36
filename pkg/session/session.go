// Package session owns the live entry list of one client and keeps the local slot,
// the debounced remote writer and the push listener in step with it.
//
// A Session holds at most one pending remote write and at most one push listener.
// Every mutation, timer fire and push delivery is serialized by the session mutex.
// Refresh callbacks are made outside it, in the order the lists were installed.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/astromechza/timeline/pkg/debounce"
	"github.com/astromechza/timeline/pkg/remote"
	"github.com/astromechza/timeline/pkg/timeline"
)

const (
	DefaultQuietPeriod = 700 * time.Millisecond
	writeTimeout       = 15 * time.Second
)

var ErrNoSession = errors.New("sign in first")

// Cache is the durable local slot.
type Cache interface {
	Load() []timeline.Entry
	Save(entries []timeline.Entry)
	LoadCredentials() (*remote.Credentials, bool)
	SaveCredentials(creds remote.Credentials)
	ClearCredentials()
}

// View receives render refreshes and user-visible status messages. Refresh must
// not call back into the Session.
type View interface {
	Refresh(entries []timeline.Entry)
	Status(msg string)
	SessionChanged(id *remote.Identity)
}

type nopView struct{}

func (nopView) Refresh([]timeline.Entry)       {}
func (nopView) Status(string)                  {}
func (nopView) SessionChanged(*remote.Identity) {}

type Options struct {
	QuietPeriod time.Duration
	View        View
}

type Session struct {
	cache Cache
	store remote.Store
	view  View

	mu      sync.Mutex
	entries []timeline.Entry
	creds   *remote.Credentials
	writer  *debounce.Debouncer

	// viewMu orders Refresh calls; it is taken before mu is released.
	viewMu sync.Mutex

	sub      remote.Subscription
	subOwner string
	// generation identifies the current listener; deliveries tagged with an older
	// generation come from a detached listener and are dropped.
	generation uint64
}

// New loads the local slot and returns a session with no active remote session.
func New(cache Cache, store remote.Store, opts Options) *Session {
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = DefaultQuietPeriod
	}
	if opts.View == nil {
		opts.View = nopView{}
	}
	s := &Session{
		cache:   cache,
		store:   store,
		view:    opts.View,
		entries: cache.Load(),
	}
	s.writer = debounce.New(opts.QuietPeriod, s.writeRemote)
	return s
}

func (s *Session) Entries() []timeline.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return timeline.Clone(s.entries)
}

// Identity returns the signed-in user, or nil.
func (s *Session) Identity() *remote.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return nil
	}
	id := s.creds.Identity
	return &id
}

// Watching returns the owner whose document the listener is attached to.
func (s *Session) Watching() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return ""
	}
	return s.subOwner
}

func (s *Session) PendingWrite() bool {
	return s.writer.Pending()
}

// commit applies transition to the current list, saves the result locally and
// optionally schedules the remote write, all under one hold of the session lock.
func (s *Session) commit(transition func([]timeline.Entry) ([]timeline.Entry, error), push bool) error {
	s.mu.Lock()
	next, err := transition(s.entries)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.entries = next
	s.cache.Save(next)
	if push {
		s.writer.Trigger()
	}
	s.refreshAndUnlock(next)
	return nil
}

// refreshAndUnlock hands the lock over to the view lock before releasing it, so
// refreshes reach the view in the order the lists were installed.
func (s *Session) refreshAndUnlock(entries []timeline.Entry) {
	snapshot := timeline.Clone(entries)
	s.viewMu.Lock()
	s.mu.Unlock()
	defer s.viewMu.Unlock()
	s.view.Refresh(snapshot)
}

func (s *Session) OnEntryFieldEdited(index int, field timeline.Field, value string) error {
	return s.commit(func(entries []timeline.Entry) ([]timeline.Entry, error) {
		return timeline.Edit(entries, index, field, value)
	}, true)
}

func (s *Session) OnReorder(from, to int) error {
	return s.commit(func(entries []timeline.Entry) ([]timeline.Entry, error) {
		return timeline.Reorder(entries, from, to)
	}, true)
}

func (s *Session) OnAdd(e timeline.Entry) error {
	return s.commit(func(entries []timeline.Entry) ([]timeline.Entry, error) {
		return timeline.Add(entries, e)
	}, true)
}

// OnReset restores the defaults locally. It does not touch the remote document.
func (s *Session) OnReset() {
	_ = s.commit(func([]timeline.Entry) ([]timeline.Entry, error) {
		return timeline.Reset(), nil
	}, false)
}

// writeRemote is the debounced fire. Without a session it does nothing.
func (s *Session) writeRemote() {
	s.mu.Lock()
	creds := s.creds
	entries := timeline.Clone(s.entries)
	s.mu.Unlock()
	if creds == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if _, err := s.store.PutTimeline(ctx, creds.Token, creds.UID, entries); err != nil {
		slog.Error("remote write failed", "uid", creds.UID, "err", err)
		s.view.Status(fmt.Sprintf("Sync failed: %v", err))
		return
	}
	slog.Info("remote write", "uid", creds.UID, "entries", len(entries))
}

// Flush performs a pending remote write now instead of waiting for the quiet period.
func (s *Session) Flush() {
	s.writer.Flush()
}

// Subscribe attaches the push listener to ownerUID, detaching any previous one first.
func (s *Session) Subscribe(ctx context.Context, ownerUID string) error {
	s.mu.Lock()
	if s.creds == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	token := s.creds.Token
	old := s.detachLocked()
	generation := s.generation
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	sub, err := s.store.Subscribe(ctx, token, ownerUID, remote.Listener{
		OnDocument: func(doc *timeline.Document) { s.deliver(generation, doc) },
		OnError:    func(err error) { s.feedFailed(generation, err) },
	})
	if err != nil {
		s.view.Status(fmt.Sprintf("Live updates unavailable: %v", err))
		return fmt.Errorf("failed to subscribe to %s: %w", ownerUID, err)
	}

	s.mu.Lock()
	if s.generation != generation {
		// superseded while dialing
		s.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	s.sub = sub
	s.subOwner = ownerUID
	s.mu.Unlock()
	slog.Info("listening", "owner", ownerUID)
	return nil
}

// detachLocked bumps the generation and hands back the listener to close. The
// caller closes it after releasing the lock, since a delivery in progress may be
// waiting on it.
func (s *Session) detachLocked() remote.Subscription {
	old := s.sub
	s.sub = nil
	s.subOwner = ""
	s.generation++
	return old
}

// Unsubscribe detaches the push listener. It is safe to call when none is attached.
func (s *Session) Unsubscribe() {
	s.mu.Lock()
	old := s.detachLocked()
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

func (s *Session) deliver(generation uint64, doc *timeline.Document) {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	next, applied := timeline.Reconcile(s.entries, doc)
	if !applied {
		s.mu.Unlock()
		return
	}
	s.entries = next
	s.cache.Save(next)
	s.refreshAndUnlock(next)
}

func (s *Session) feedFailed(generation uint64, err error) {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	// the connection is already gone; only forget the handle
	s.sub = nil
	s.subOwner = ""
	s.mu.Unlock()
	s.view.Status(fmt.Sprintf("Live updates stopped: %v", err))
}

func (s *Session) setCredentials(creds *remote.Credentials) {
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
	if creds == nil {
		s.cache.ClearCredentials()
		s.view.SessionChanged(nil)
		return
	}
	s.cache.SaveCredentials(*creds)
	id := creds.Identity
	s.view.SessionChanged(&id)
}

// SignIn opens a session, listens to the user's own document and seeds it from the
// local list when the user has no remote document yet.
func (s *Session) SignIn(ctx context.Context, email string) error {
	creds, err := s.store.SignIn(ctx, email)
	if err != nil {
		s.view.Status(fmt.Sprintf("Sign-in failed: %v", err))
		return err
	}
	s.setCredentials(creds)
	if err := s.attachOwn(ctx, *creds); err != nil {
		return err
	}
	s.view.Status("Signed in: " + creds.Email)
	return nil
}

func (s *Session) attachOwn(ctx context.Context, creds remote.Credentials) error {
	if err := s.Subscribe(ctx, creds.UID); err != nil {
		return err
	}
	if _, err := s.store.GetTimeline(ctx, creds.Token, creds.UID); err != nil {
		if !errors.Is(err, remote.ErrNotFound) {
			s.view.Status(fmt.Sprintf("Failed to read remote timeline: %v", err))
			return nil
		}
		s.writer.Stop()
		s.writeRemote()
	}
	return nil
}

// Restore resumes the session persisted in the local slot, if any. It reports
// whether a session was resumed.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	creds, ok := s.cache.LoadCredentials()
	if !ok {
		return false, nil
	}
	s.setCredentials(creds)
	if err := s.attachOwn(ctx, *creds); err != nil {
		if errors.Is(err, remote.ErrUnauthorized) {
			s.setCredentials(nil)
			return false, nil
		}
		return true, err
	}
	return true, nil
}

// Resume adopts the persisted session without attaching the push listener, for
// one-shot commands that only need their writes to reach the remote document.
func (s *Session) Resume() bool {
	creds, ok := s.cache.LoadCredentials()
	if !ok {
		return false
	}
	s.setCredentials(creds)
	return true
}

// SignOut ends the session. Any pending remote write is dropped.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	creds := s.creds
	s.mu.Unlock()
	if creds == nil {
		return nil
	}
	s.writer.Stop()
	s.Unsubscribe()
	if err := s.store.SignOut(ctx, creds.Token); err != nil {
		slog.Warn("failed to revoke session", "err", err)
	}
	s.setCredentials(nil)
	s.view.Status("Signed out")
	return nil
}

func (s *Session) token() (string, remote.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return "", remote.Identity{}, ErrNoSession
	}
	return s.creds.Token, s.creds.Identity, nil
}

// Share lets viewerEmail load this user's timeline, replacing whichever owner that
// email pointed at before.
func (s *Session) Share(ctx context.Context, viewerEmail string) (*remote.Share, error) {
	token, _, err := s.token()
	if err != nil {
		s.view.Status("Sign in first!")
		return nil, err
	}
	email, err := remote.NormalizeEmail(viewerEmail)
	if err != nil {
		s.view.Status("Enter email")
		return nil, err
	}
	share, err := s.store.PutShare(ctx, token, email)
	if err != nil {
		s.view.Status(fmt.Sprintf("Share failed: %v", err))
		return nil, err
	}
	s.view.Status("Shared with " + email)
	return share, nil
}

// ResolveOwner returns the owner uid shared with viewerEmail, or remote.ErrNotFound.
func (s *Session) ResolveOwner(ctx context.Context, viewerEmail string) (string, error) {
	token, _, err := s.token()
	if err != nil {
		return "", err
	}
	email, err := remote.NormalizeEmail(viewerEmail)
	if err != nil {
		return "", err
	}
	share, err := s.store.GetShare(ctx, token, email)
	if err != nil {
		return "", err
	}
	return share.OwnerUID, nil
}

// LoadShared points the listener at the timeline shared with email.
func (s *Session) LoadShared(ctx context.Context, email string) error {
	owner, err := s.ResolveOwner(ctx, email)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		s.view.Status("No shared timeline found")
		return err
	case errors.Is(err, ErrNoSession):
		s.view.Status("Sign in first!")
		return err
	case errors.Is(err, remote.ErrInvalidEmail):
		s.view.Status("Enter email")
		return err
	case err != nil:
		s.view.Status(fmt.Sprintf("Lookup failed: %v", err))
		return err
	}
	if err := s.Subscribe(ctx, owner); err != nil {
		return err
	}
	s.view.Status("Loaded timeline from " + email)
	return nil
}

// Close detaches the listener and drops any pending write.
func (s *Session) Close() {
	s.writer.Stop()
	s.Unsubscribe()
}
