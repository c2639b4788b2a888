package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/crisari666/wamon/internal/bus"
	"github.com/crisari666/wamon/internal/cache"
	"github.com/crisari666/wamon/internal/model"
	"github.com/crisari666/wamon/internal/registry"
	"go.uber.org/zap"
)

type fakeSessionArchive struct {
	mu       sync.Mutex
	sessions map[string]model.Session
	chats    []model.Chat
	deleted  []string
	applied  chan struct{}
}

func newFakeSessionArchive() *fakeSessionArchive {
	return &fakeSessionArchive{
		sessions: make(map[string]model.Session),
		applied:  make(chan struct{}, 16),
	}
}

func (f *fakeSessionArchive) UpsertSession(_ context.Context, s model.Session) error {
	f.mu.Lock()
	f.sessions[s.SessionID] = s
	f.mu.Unlock()
	f.applied <- struct{}{}
	return nil
}

func (f *fakeSessionArchive) DeleteSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	delete(f.sessions, sessionID)
	f.deleted = append(f.deleted, sessionID)
	f.mu.Unlock()
	f.applied <- struct{}{}
	return nil
}

func (f *fakeSessionArchive) SaveChat(_ context.Context, c model.Chat) error {
	f.mu.Lock()
	f.chats = append(f.chats, c)
	f.mu.Unlock()
	f.applied <- struct{}{}
	return nil
}

type fakeSource struct {
	mu       sync.Mutex
	sessions map[string]model.Session
}

func (f *fakeSource) Get(id string) (model.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	return s, ok
}

type recorderFixture struct {
	bus     *bus.Bus
	chats   *cache.ChatList
	archive *fakeSessionArchive
	source  *fakeSource
}

func newRecorderFixture(t *testing.T) *recorderFixture {
	t.Helper()
	f := &recorderFixture{
		bus:     bus.New(),
		chats:   cache.NewChatList(),
		archive: newFakeSessionArchive(),
		source:  &fakeSource{sessions: make(map[string]model.Session)},
	}
	r := NewRecorder(f.source, f.chats, f.archive, f.bus, zap.NewNop())
	r.Start(context.Background())
	t.Cleanup(r.Stop)
	return f
}

func (f *recorderFixture) publish(kind string, payload any) {
	f.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func (f *recorderFixture) waitApplied(t *testing.T) {
	t.Helper()
	select {
	case <-f.archive.applied:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for archive write")
	}
}

func TestRecorderArchivesDiscoveredSessions(t *testing.T) {
	f := newRecorderFixture(t)

	f.publish("session.discovered", model.Session{SessionID: "s1", Status: model.StatusReady})
	f.waitApplied(t)

	f.archive.mu.Lock()
	defer f.archive.mu.Unlock()
	if s, ok := f.archive.sessions["s1"]; !ok || s.Status != model.StatusReady {
		t.Errorf("archived sessions = %+v", f.archive.sessions)
	}
}

func TestRecorderArchivesStatusChanges(t *testing.T) {
	f := newRecorderFixture(t)
	f.source.sessions["s1"] = model.Session{SessionID: "s1", Status: model.StatusDisconnected, LastSeen: 42}

	f.publish("session.status_changed", registry.StatusChange{
		SessionID: "s1", From: model.StatusReady, To: model.StatusDisconnected,
	})
	f.waitApplied(t)

	f.archive.mu.Lock()
	defer f.archive.mu.Unlock()
	s := f.archive.sessions["s1"]
	if s.Status != model.StatusDisconnected || s.LastSeen != 42 {
		t.Errorf("archived session = %+v, want full current record", s)
	}
}

func TestRecorderRemovesDestroyedSessions(t *testing.T) {
	f := newRecorderFixture(t)

	f.publish("session.discovered", model.Session{SessionID: "s1"})
	f.waitApplied(t)
	f.publish("session.removed", model.Session{SessionID: "s1"})
	f.waitApplied(t)

	f.archive.mu.Lock()
	defer f.archive.mu.Unlock()
	if _, ok := f.archive.sessions["s1"]; ok {
		t.Error("destroyed session still archived")
	}
	if len(f.archive.deleted) != 1 || f.archive.deleted[0] != "s1" {
		t.Errorf("deletions = %v", f.archive.deleted)
	}
}

func TestRecorderSnapshotsLoadedChatList(t *testing.T) {
	f := newRecorderFixture(t)
	f.chats.Load("s1", []model.Chat{
		{ChatID: "A", Name: "Alice"},
		{ChatID: "B", Name: "Bob"},
	})

	f.publish("chat.list_loaded", "s1")
	f.waitApplied(t)
	f.waitApplied(t)

	f.archive.mu.Lock()
	defer f.archive.mu.Unlock()
	if len(f.archive.chats) != 2 {
		t.Fatalf("archived chats = %d, want 2", len(f.archive.chats))
	}
	for _, c := range f.archive.chats {
		if c.SessionID != "s1" {
			t.Errorf("chat %s archived under session %q", c.ChatID, c.SessionID)
		}
	}
}

func TestRecorderSkipsStaleChatListEvent(t *testing.T) {
	f := newRecorderFixture(t)
	// The cache has moved to s2 by the time the s1 event is handled.
	f.chats.Load("s2", []model.Chat{{ChatID: "C"}})

	f.publish("chat.list_loaded", "s1")

	// Negative check: give the loop time to handle the event, then confirm
	// nothing was written.
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		f.archive.mu.Lock()
		n := len(f.archive.chats)
		f.archive.mu.Unlock()
		if n != 0 {
			t.Fatalf("archived %d chats for a stale event", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
