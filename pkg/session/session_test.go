package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/timeline/pkg/localcache"
	"github.com/astromechza/timeline/pkg/remote"
	"github.com/astromechza/timeline/pkg/timeline"
)

const quiet = 40 * time.Millisecond

type fakeSub struct {
	store *fakeStore
	owner string
	l     remote.Listener
}

func (f *fakeSub) Close() error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	subs := f.store.subs[f.owner]
	for i, s := range subs {
		if s == f {
			f.store.subs[f.owner] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// fakeStore is an in-memory hosted store. Deliveries happen synchronously on the
// caller's goroutine.
type fakeStore struct {
	mu     sync.Mutex
	users  map[string]remote.Identity
	tokens map[string]remote.Identity
	docs   map[string]*timeline.Document
	shares map[string]remote.Share
	subs   map[string][]*fakeSub
	writes int
	putErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  map[string]remote.Identity{},
		tokens: map[string]remote.Identity{},
		docs:   map[string]*timeline.Document{},
		shares: map[string]remote.Share{},
		subs:   map[string][]*fakeSub{},
	}
}

func (f *fakeStore) identify(token string) (remote.Identity, error) {
	id, ok := f.tokens[token]
	if !ok {
		return remote.Identity{}, remote.ErrUnauthorized
	}
	return id, nil
}

func (f *fakeStore) SignIn(_ context.Context, email string) (*remote.Credentials, error) {
	email, err := remote.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.users[email]
	if !ok {
		id = remote.Identity{UID: uuid.NewString(), Email: email}
		f.users[email] = id
	}
	token := uuid.NewString()
	f.tokens[token] = id
	return &remote.Credentials{Identity: id, Token: token}, nil
}

func (f *fakeStore) SignOut(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
	return nil
}

func (f *fakeStore) GetTimeline(_ context.Context, token, ownerUID string) (*timeline.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.identify(token); err != nil {
		return nil, err
	}
	doc, ok := f.docs[ownerUID]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return &timeline.Document{Entries: timeline.Clone(doc.Entries), UpdatedAt: doc.UpdatedAt}, nil
}

func (f *fakeStore) PutTimeline(_ context.Context, token, ownerUID string, entries []timeline.Entry) (*timeline.Document, error) {
	f.mu.Lock()
	id, err := f.identify(token)
	if err == nil && id.UID != ownerUID {
		err = remote.ErrUnauthorized
	}
	if err == nil {
		err = f.putErr
	}
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.writes++
	doc := &timeline.Document{Entries: timeline.Clone(entries), UpdatedAt: time.Now().UTC()}
	f.docs[ownerUID] = doc
	f.mu.Unlock()
	f.push(ownerUID, doc)
	return doc, nil
}

func (f *fakeStore) PutShare(_ context.Context, token, viewerEmail string) (*remote.Share, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, err := f.identify(token)
	if err != nil {
		return nil, err
	}
	email, err := remote.NormalizeEmail(viewerEmail)
	if err != nil {
		return nil, err
	}
	share := remote.Share{OwnerUID: id.UID, OwnerEmail: id.Email, UpdatedAt: time.Now().UTC()}
	f.shares[email] = share
	return &share, nil
}

func (f *fakeStore) GetShare(_ context.Context, token, viewerEmail string) (*remote.Share, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.identify(token); err != nil {
		return nil, err
	}
	email, err := remote.NormalizeEmail(viewerEmail)
	if err != nil {
		return nil, err
	}
	share, ok := f.shares[email]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return &share, nil
}

func (f *fakeStore) Subscribe(_ context.Context, token, ownerUID string, l remote.Listener) (remote.Subscription, error) {
	f.mu.Lock()
	if _, err := f.identify(token); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	sub := &fakeSub{store: f, owner: ownerUID, l: l}
	f.subs[ownerUID] = append(f.subs[ownerUID], sub)
	snapshot := f.docs[ownerUID]
	f.mu.Unlock()
	if snapshot != nil {
		l.OnDocument(snapshot)
	}
	return sub, nil
}

func (f *fakeStore) push(ownerUID string, doc *timeline.Document) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs[ownerUID]...)
	f.mu.Unlock()
	for _, s := range subs {
		s.l.OnDocument(doc)
	}
}

func (f *fakeStore) listeners(ownerUID string) []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSub(nil), f.subs[ownerUID]...)
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeStore) resetWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = 0
}

func (f *fakeStore) setPutErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putErr = err
}

type recordingView struct {
	mu        sync.Mutex
	refreshes int
	latest    []timeline.Entry
	statuses  []string
	identity  *remote.Identity
}

func (v *recordingView) Refresh(entries []timeline.Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.refreshes++
	v.latest = entries
}

func (v *recordingView) Status(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses = append(v.statuses, msg)
}

func (v *recordingView) SessionChanged(id *remote.Identity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.identity = id
}

func (v *recordingView) last() []timeline.Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.latest
}

func (v *recordingView) refreshCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.refreshes
}

func (v *recordingView) lastStatus() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.statuses) == 0 {
		return ""
	}
	return v.statuses[len(v.statuses)-1]
}

func openCache(t *testing.T, path string) *localcache.Cache {
	t.Helper()
	c, err := localcache.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newTestSession(t *testing.T, store *fakeStore) (*Session, *localcache.Cache, *recordingView) {
	t.Helper()
	c := openCache(t, filepath.Join(t.TempDir(), "cache.sqlite3"))
	v := &recordingView{}
	s := New(c, store, Options{QuietPeriod: quiet, View: v})
	t.Cleanup(s.Close)
	return s, c, v
}

func TestAddPersistsLocally(t *testing.T) {
	s, c, v := newTestSession(t, newFakeStore())
	before := s.Entries()
	e := timeline.Entry{Emoji: "🎉", Title: "Test", Date: "01.01.2026"}

	require.NoError(t, s.OnAdd(e))
	after := s.Entries()
	require.Len(t, after, len(before)+1)
	assert.Equal(t, e, after[len(after)-1])
	assert.Equal(t, after, c.Load())
	assert.Equal(t, 1, v.refreshCount())

	assert.ErrorIs(t, s.OnAdd(timeline.Entry{Emoji: "x", Title: " "}), timeline.ErrIncompleteEntry)
	assert.Len(t, s.Entries(), len(after))
}

func TestConcurrentAddsAreAllKept(t *testing.T) {
	s, c, v := newTestSession(t, newFakeStore())
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.OnAdd(timeline.Entry{Emoji: "🎉", Title: uuid.NewString(), Date: "01.01.2026"}))
		}()
	}
	wg.Wait()

	entries := s.Entries()
	require.Len(t, entries, len(timeline.Defaults())+n)
	assert.Equal(t, entries, c.Load())
	assert.Equal(t, n, v.refreshCount())
	assert.Equal(t, entries, v.last())
}

func TestEditAndReorderRejectBadIndexes(t *testing.T) {
	s, _, _ := newTestSession(t, newFakeStore())
	assert.ErrorIs(t, s.OnEntryFieldEdited(99, timeline.FieldTitle, "x"), timeline.ErrIndexOutOfRange)
	assert.ErrorIs(t, s.OnReorder(0, 99), timeline.ErrIndexOutOfRange)
	assert.Equal(t, timeline.Defaults(), s.Entries())
	assert.False(t, s.PendingWrite())
}

func TestNoSessionNoWrite(t *testing.T) {
	store := newFakeStore()
	s, _, _ := newTestSession(t, store)
	require.NoError(t, s.OnEntryFieldEdited(0, timeline.FieldTitle, "offline"))
	assert.True(t, s.PendingWrite())
	time.Sleep(4 * quiet)
	assert.False(t, s.PendingWrite())
	assert.Equal(t, 0, store.writeCount())
}

func TestRapidEditsCoalesceIntoOneWrite(t *testing.T) {
	store := newFakeStore()
	s, _, _ := newTestSession(t, store)
	require.NoError(t, s.SignIn(context.Background(), "alice@example.com"))
	store.resetWrites()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.OnEntryFieldEdited(0, timeline.FieldTitle, strings.Repeat("x", i+1)))
	}
	assert.Eventually(t, func() bool { return store.writeCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(4 * quiet)
	assert.Equal(t, 1, store.writeCount())

	doc, err := store.GetTimeline(context.Background(), s.creds.Token, s.Identity().UID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 10), doc.Entries[0].Title)
}

func TestSpacedEditsEachWrite(t *testing.T) {
	store := newFakeStore()
	s, _, _ := newTestSession(t, store)
	require.NoError(t, s.SignIn(context.Background(), "alice@example.com"))
	store.resetWrites()

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.OnReorder(0, 1))
		assert.Eventually(t, func() bool { return store.writeCount() == i }, time.Second, 5*time.Millisecond)
	}
}

func TestResetDoesNotWrite(t *testing.T) {
	store := newFakeStore()
	s, c, _ := newTestSession(t, store)
	require.NoError(t, s.SignIn(context.Background(), "alice@example.com"))
	store.resetWrites()

	require.NoError(t, s.OnAdd(timeline.Entry{Emoji: "a", Title: "b", Date: "c"}))
	s.Flush()
	require.Equal(t, 1, store.writeCount())

	s.OnReset()
	assert.False(t, s.PendingWrite())
	assert.Equal(t, timeline.Defaults(), s.Entries())
	assert.Equal(t, timeline.Defaults(), c.Load())
	time.Sleep(4 * quiet)
	assert.Equal(t, 1, store.writeCount())
}

func TestWriteFailureReachesStatus(t *testing.T) {
	store := newFakeStore()
	s, _, v := newTestSession(t, store)
	require.NoError(t, s.SignIn(context.Background(), "alice@example.com"))
	store.setPutErr(errors.New("boom"))

	require.NoError(t, s.OnEntryFieldEdited(1, timeline.FieldDate, "01.01.2030"))
	s.Flush()
	assert.True(t, strings.HasPrefix(v.lastStatus(), "Sync failed"), v.lastStatus())
	assert.Equal(t, "01.01.2030", s.Entries()[1].Date)
}

func TestSignInSeedsMissingRemoteDocument(t *testing.T) {
	store := newFakeStore()
	s, _, v := newTestSession(t, store)
	require.NoError(t, s.OnAdd(timeline.Entry{Emoji: "🎉", Title: "Seed", Date: "01.01.2026"}))

	require.NoError(t, s.SignIn(context.Background(), "Alice@Example.com"))
	assert.Equal(t, "Signed in: alice@example.com", v.lastStatus())
	assert.False(t, s.PendingWrite())
	id := s.Identity()
	require.NotNil(t, id)
	assert.Equal(t, id, v.identity)
	assert.Equal(t, id.UID, s.Watching())

	doc := store.docs[id.UID]
	require.NotNil(t, doc)
	assert.Equal(t, s.Entries(), doc.Entries)

	// a second device adopts the existing document rather than overwriting it
	other, _, _ := newTestSession(t, store)
	require.NoError(t, other.SignIn(context.Background(), "alice@example.com"))
	assert.Equal(t, s.Entries(), other.Entries())
	assert.Equal(t, 1, store.writeCount())
}

func TestSubscribeTwiceKeepsOneListener(t *testing.T) {
	store := newFakeStore()
	s, _, v := newTestSession(t, store)
	ctx := context.Background()
	require.NoError(t, s.SignIn(ctx, "alice@example.com"))
	uid := s.Identity().UID

	require.NoError(t, s.Subscribe(ctx, uid))
	require.NoError(t, s.Subscribe(ctx, uid))
	require.Len(t, store.listeners(uid), 1)

	before := v.refreshCount()
	pushed := []timeline.Entry{{Emoji: "1", Title: "pushed", Date: "d"}}
	store.push(uid, &timeline.Document{Entries: pushed})
	assert.Equal(t, before+1, v.refreshCount())
	assert.Equal(t, pushed, s.Entries())
}

func TestInvalidPushIsIgnored(t *testing.T) {
	store := newFakeStore()
	s, c, v := newTestSession(t, store)
	require.NoError(t, s.SignIn(context.Background(), "alice@example.com"))
	uid := s.Identity().UID
	before := s.Entries()
	refreshes := v.refreshCount()

	store.push(uid, &timeline.Document{})
	store.push(uid, nil)
	assert.Equal(t, before, s.Entries())
	assert.Equal(t, before, c.Load())
	assert.Equal(t, refreshes, v.refreshCount())
}

func TestPushReplacesLocalAndPendingWriteStillFires(t *testing.T) {
	store := newFakeStore()
	s, c, _ := newTestSession(t, store)
	require.NoError(t, s.SignIn(context.Background(), "alice@example.com"))
	uid := s.Identity().UID
	store.resetWrites()

	require.NoError(t, s.OnEntryFieldEdited(0, timeline.FieldTitle, "local"))
	pushed := []timeline.Entry{{Emoji: "r", Title: "remote", Date: "d"}}
	store.push(uid, &timeline.Document{Entries: pushed})
	assert.Equal(t, pushed, s.Entries())
	assert.Equal(t, pushed, c.Load())

	assert.Eventually(t, func() bool { return store.writeCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, pushed, store.docs[uid].Entries)
}

func TestDetachedListenerDeliveryIsDropped(t *testing.T) {
	store := newFakeStore()
	s, _, _ := newTestSession(t, store)
	ctx := context.Background()
	require.NoError(t, s.SignIn(ctx, "alice@example.com"))
	uid := s.Identity().UID
	old := store.listeners(uid)
	require.Len(t, old, 1)

	require.NoError(t, s.Subscribe(ctx, uid))
	before := s.Entries()
	old[0].l.OnDocument(&timeline.Document{Entries: []timeline.Entry{{Emoji: "l", Title: "late", Date: "d"}}})
	assert.Equal(t, before, s.Entries())

	s.Unsubscribe()
	s.Unsubscribe()
	assert.Empty(t, store.listeners(uid))
	assert.Equal(t, "", s.Watching())
}

func TestFeedFailureForgetsListener(t *testing.T) {
	store := newFakeStore()
	s, _, v := newTestSession(t, store)
	require.NoError(t, s.SignIn(context.Background(), "alice@example.com"))
	uid := s.Identity().UID

	store.listeners(uid)[0].l.OnError(errors.New("connection reset"))
	assert.Equal(t, "", s.Watching())
	assert.True(t, strings.HasPrefix(v.lastStatus(), "Live updates stopped"))
}

func TestSubscribeWithoutSession(t *testing.T) {
	s, _, _ := newTestSession(t, newFakeStore())
	assert.ErrorIs(t, s.Subscribe(context.Background(), "someone"), ErrNoSession)
}

func TestShareAndLoadShared(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	alice, _, av := newTestSession(t, store)
	bob, _, bv := newTestSession(t, store)

	_, err := alice.Share(ctx, "foo@bar.com")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, "Sign in first!", av.lastStatus())

	require.NoError(t, alice.SignIn(ctx, "alice@example.com"))
	require.NoError(t, bob.SignIn(ctx, "foo@bar.com"))

	_, err = alice.Share(ctx, "   ")
	assert.ErrorIs(t, err, remote.ErrInvalidEmail)
	assert.Equal(t, "Enter email", av.lastStatus())

	_, err = alice.Share(ctx, "Foo@Bar.com")
	require.NoError(t, err)
	assert.Equal(t, "Shared with foo@bar.com", av.lastStatus())

	owner, err := bob.ResolveOwner(ctx, "foo@bar.com")
	require.NoError(t, err)
	assert.Equal(t, alice.Identity().UID, owner)

	require.NoError(t, bob.LoadShared(ctx, "FOO@bar.com"))
	assert.Equal(t, alice.Identity().UID, bob.Watching())
	assert.Equal(t, alice.Entries(), bob.Entries())

	require.NoError(t, alice.OnEntryFieldEdited(0, timeline.FieldTitle, "from alice"))
	alice.Flush()
	assert.Equal(t, "from alice", bob.Entries()[0].Title)

	assert.ErrorIs(t, bob.LoadShared(ctx, "nobody@example.com"), remote.ErrNotFound)
	assert.Equal(t, "No shared timeline found", bv.lastStatus())
}

func TestRestore(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.sqlite3")

	first := New(openCache(t, path), store, Options{QuietPeriod: quiet})
	require.NoError(t, first.SignIn(ctx, "alice@example.com"))
	id := first.Identity()
	first.Close()

	second := New(openCache(t, path), store, Options{QuietPeriod: quiet})
	defer second.Close()
	ok, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, second.Identity())
	assert.Equal(t, id.UID, second.Watching())

	// a revoked token is forgotten
	require.NoError(t, second.SignOut(ctx))
	assert.Nil(t, second.Identity())
	third := New(openCache(t, path), store, Options{QuietPeriod: quiet})
	defer third.Close()
	ok, err = third.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRestoreWithRevokedToken(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	s, c, _ := newTestSession(t, store)
	c.SaveCredentials(remote.Credentials{Identity: remote.Identity{UID: "u", Email: "a@b.c"}, Token: "revoked"})

	ok, err := s.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, s.Identity())
	_, ok = c.LoadCredentials()
	assert.False(t, ok)
}

func TestSignOutDropsPendingWrite(t *testing.T) {
	store := newFakeStore()
	s, _, v := newTestSession(t, store)
	ctx := context.Background()
	require.NoError(t, s.SignIn(ctx, "alice@example.com"))
	uid := s.Identity().UID
	store.resetWrites()

	require.NoError(t, s.OnEntryFieldEdited(0, timeline.FieldEmoji, "🌙"))
	require.NoError(t, s.SignOut(ctx))
	assert.Equal(t, "Signed out", v.lastStatus())
	assert.Nil(t, v.identity)
	assert.Empty(t, store.listeners(uid))
	time.Sleep(4 * quiet)
	assert.Equal(t, 0, store.writeCount())
}

func TestResumeWritesWithoutListening(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.sqlite3")

	first := New(openCache(t, path), store, Options{QuietPeriod: quiet})
	require.NoError(t, first.SignIn(ctx, "alice@example.com"))
	uid := first.Identity().UID
	first.Close()
	store.resetWrites()

	second := New(openCache(t, path), store, Options{QuietPeriod: quiet})
	defer second.Close()
	require.True(t, second.Resume())
	assert.Equal(t, "", second.Watching())
	assert.Empty(t, store.listeners(uid))

	require.NoError(t, second.OnEntryFieldEdited(0, timeline.FieldTitle, "one-shot"))
	second.Flush()
	assert.Equal(t, 1, store.writeCount())
	assert.Equal(t, "one-shot", store.docs[uid].Entries[0].Title)
}
