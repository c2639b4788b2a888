package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/crisari666/wamon/internal/bus"
	"github.com/crisari666/wamon/internal/cache"
	"github.com/crisari666/wamon/internal/model"
	"go.uber.org/zap"
)

type fakeBackend struct {
	mu       sync.Mutex
	sessions map[string]model.Session
	chats    map[string][]model.Chat
	messages map[string][]model.Message

	sessionErr error
	chatsErr   error
}

func (f *fakeBackend) GetSession(_ context.Context, id string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &s, nil
}

func (f *fakeBackend) ListChats(_ context.Context, id string) ([]model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatsErr != nil {
		return nil, f.chatsErr
	}
	return f.chats[id], nil
}

func (f *fakeBackend) ListMessages(_ context.Context, _, chatID string, _ bool) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[chatID], nil
}

type fakeProjects struct {
	projects map[string]model.Project
	groups   map[string]model.Project
	err      error
}

func (f *fakeProjects) GetProject(_ context.Context, id string) (*model.Project, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.projects[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &p, nil
}

func (f *fakeProjects) GetGroup(_ context.Context, id string) (*model.Project, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.groups[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &p, nil
}

type fakePrefetcher struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func (f *fakePrefetcher) Prefetch(_ context.Context, sessionID, chatID string) error {
	f.mu.Lock()
	f.calls = append(f.calls, sessionID+"/"+chatID)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return nil
}

type fixture struct {
	coord     *Coordinator
	backend   *fakeBackend
	transport *recordingTransport
	rooms     *RoomSet
	chats     *cache.ChatList
	messages  *cache.MessageLog
	prefetch  *fakePrefetcher
}

func newFixture() *fixture {
	backend := &fakeBackend{
		sessions: map[string]model.Session{
			"s1": {SessionID: "s1", Status: model.StatusReady},
			"s2": {SessionID: "s2", Status: model.StatusReady, RefID: "p1"},
			"s3": {SessionID: "s3", Status: model.StatusReady, RefID: "g1"},
		},
		chats: map[string][]model.Chat{
			"s1": {{ChatID: "A", Name: "Alice"}, {ChatID: "B", Name: "Bob"}},
			"s2": {{ChatID: "C", Name: "Carol"}},
		},
		messages: map[string][]model.Message{
			"A": {{MessageID: "m1", ChatID: "A", Timestamp: 10}},
			"C": {{MessageID: "m2", ChatID: "C", Timestamp: 20}},
		},
	}
	projects := &fakeProjects{
		projects: map[string]model.Project{"p1": {ID: "p1", Name: "Acme"}},
		groups:   map[string]model.Project{"g1": {ID: "p2", Name: "Field Ops", GroupID: "g1"}},
	}
	transport := &recordingTransport{}
	rooms := NewRoomSet(transport)
	chats := cache.NewChatList()
	messages := cache.NewMessageLog()
	prefetch := &fakePrefetcher{done: make(chan struct{}, 4)}
	coord := New(backend, projects, prefetch, rooms, chats, messages, bus.New(), zap.NewNop())
	return &fixture{coord, backend, transport, rooms, chats, messages, prefetch}
}

func TestActivateSessionLoadsChatsAndJoinsRoom(t *testing.T) {
	f := newFixture()

	if err := f.coord.ActivateSession(context.Background(), "s1"); err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}

	if got := f.coord.ActiveSession(); got != "s1" {
		t.Errorf("ActiveSession = %q", got)
	}
	if !f.rooms.Holds("session:s1") {
		t.Error("session room not held")
	}
	if f.chats.Len() != 2 {
		t.Errorf("chat list len = %d, want 2", f.chats.Len())
	}
}

func TestActivateSecondSessionSwapsRoom(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.coord.ActivateSession(ctx, "s1"); err != nil {
		t.Fatalf("ActivateSession s1: %v", err)
	}
	if err := f.coord.ActivateSession(ctx, "s2"); err != nil {
		t.Fatalf("ActivateSession s2: %v", err)
	}

	rooms := f.rooms.Rooms()
	if len(rooms) != 1 || rooms[0] != "session:s2" {
		t.Errorf("rooms = %v, want exactly [session:s2]", rooms)
	}
	if f.chats.SessionID() != "s2" {
		t.Errorf("chat list bound to %q, want s2", f.chats.SessionID())
	}
}

func TestActivateSameSessionIsNoOp(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.coord.ActivateSession(ctx, "s1"); err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}
	before := len(f.transport.log())
	if err := f.coord.ActivateSession(ctx, "s1"); err != nil {
		t.Fatalf("ActivateSession again: %v", err)
	}
	if got := len(f.transport.log()); got != before {
		t.Errorf("room traffic on re-activation: %v", f.transport.log())
	}
}

func TestActivateSessionFetchFailureAborts(t *testing.T) {
	f := newFixture()
	f.backend.sessionErr = errors.New("boom")

	if err := f.coord.ActivateSession(context.Background(), "s1"); err == nil {
		t.Fatal("expected error")
	}
	if f.coord.ActiveSession() != "" {
		t.Error("failed activation left a session active")
	}
	if len(f.transport.log()) != 0 {
		t.Errorf("failed activation touched rooms: %v", f.transport.log())
	}
}

func TestActivateSessionResolvesLinkedProject(t *testing.T) {
	f := newFixture()

	if err := f.coord.ActivateSession(context.Background(), "s2"); err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}
	p := f.coord.Project()
	if p == nil || p.Name != "Acme" {
		t.Errorf("project = %+v, want Acme", p)
	}
}

func TestActivateSessionResolvesGroupRef(t *testing.T) {
	f := newFixture()

	// s3's refId is not a project id; the group lookup resolves it.
	if err := f.coord.ActivateSession(context.Background(), "s3"); err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}
	p := f.coord.Project()
	if p == nil || p.Name != "Field Ops" || p.GroupID != "g1" {
		t.Errorf("project = %+v, want group-resolved Field Ops", p)
	}
}

func TestProjectFetchFailureIsNonFatal(t *testing.T) {
	f := newFixture()
	f.coord.projects = &fakeProjects{err: errors.New("boom")}

	if err := f.coord.ActivateSession(context.Background(), "s2"); err != nil {
		t.Fatalf("ActivateSession should tolerate project failure: %v", err)
	}
	if f.coord.Project() != nil {
		t.Error("project should be nil after failed fetch")
	}
	if f.coord.ActiveSession() != "s2" {
		t.Error("session not activated")
	}
}

func TestOpenChatLoadsMessagesAndPrefetchesAlerts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.coord.ActivateSession(ctx, "s1"); err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}
	if err := f.coord.OpenChat(ctx, "A"); err != nil {
		t.Fatalf("OpenChat: %v", err)
	}

	if f.coord.ActiveChat() != "A" {
		t.Errorf("ActiveChat = %q", f.coord.ActiveChat())
	}
	if f.messages.Len() != 1 {
		t.Errorf("message log len = %d, want 1", f.messages.Len())
	}

	<-f.prefetch.done
	f.prefetch.mu.Lock()
	defer f.prefetch.mu.Unlock()
	if len(f.prefetch.calls) != 1 || f.prefetch.calls[0] != "s1/A" {
		t.Errorf("prefetch calls = %v", f.prefetch.calls)
	}
}

func TestOpenChatRequiresActiveSession(t *testing.T) {
	f := newFixture()
	if err := f.coord.OpenChat(context.Background(), "A"); err == nil {
		t.Fatal("expected error without an active session")
	}
}

func TestOpenUnknownChatFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if err := f.coord.ActivateSession(ctx, "s1"); err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}
	if err := f.coord.OpenChat(ctx, "ghost"); err == nil {
		t.Fatal("expected error for a chat outside the session")
	}
}

func TestDeactivateReleasesEverything(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if err := f.coord.ActivateSession(ctx, "s1"); err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}
	if err := f.coord.OpenChat(ctx, "A"); err != nil {
		t.Fatalf("OpenChat: %v", err)
	}

	f.coord.Deactivate()

	if f.coord.ActiveSession() != "" || f.coord.ActiveChat() != "" {
		t.Error("selection survived Deactivate")
	}
	if len(f.rooms.Rooms()) != 0 {
		t.Errorf("rooms still held: %v", f.rooms.Rooms())
	}
	if f.chats.Len() != 0 || f.messages.Len() != 0 {
		t.Error("caches not cleared")
	}
}

func TestRestoreViewActivatesSessionAndChat(t *testing.T) {
	f := newFixture()

	if err := f.coord.RestoreView(context.Background(), "session=s1&chat=A"); err != nil {
		t.Fatalf("RestoreView: %v", err)
	}

	if f.coord.ActiveSession() != "s1" || f.coord.ActiveChat() != "A" {
		t.Errorf("view = %s/%s, want s1/A", f.coord.ActiveSession(), f.coord.ActiveChat())
	}
	if f.messages.Len() != 1 {
		t.Errorf("message log len = %d, want 1", f.messages.Len())
	}
}

func TestRestoreViewDropsVanishedChat(t *testing.T) {
	f := newFixture()

	if err := f.coord.RestoreView(context.Background(), "session=s1&chat=ghost"); err != nil {
		t.Fatalf("RestoreView: %v", err)
	}
	if f.coord.ActiveSession() != "s1" {
		t.Error("session not restored")
	}
	if f.coord.ActiveChat() != "" {
		t.Errorf("vanished chat selected: %q", f.coord.ActiveChat())
	}
}

func TestRestoreViewSameSessionOpensChat(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if err := f.coord.ActivateSession(ctx, "s1"); err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}

	// The session is already active: the chat parameter must still be
	// reconciled against the loaded list, not dropped.
	if err := f.coord.RestoreView(ctx, "session=s1&chat=A"); err != nil {
		t.Fatalf("RestoreView: %v", err)
	}
	if f.coord.ActiveChat() != "A" {
		t.Errorf("ActiveChat = %q, want A", f.coord.ActiveChat())
	}
	if f.messages.Len() != 1 {
		t.Errorf("message log len = %d, want 1", f.messages.Len())
	}

	// An unknown chat on the active session is dropped without error.
	if err := f.coord.RestoreView(ctx, "session=s1&chat=ghost"); err != nil {
		t.Fatalf("RestoreView: %v", err)
	}
	if f.coord.ActiveChat() != "A" {
		t.Errorf("ActiveChat = %q, want A untouched", f.coord.ActiveChat())
	}
}

func TestRestoreViewFailureDoesNotLeakChatSelection(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.coord.RestoreView(ctx, "session=ghost&chat=A"); err == nil {
		t.Fatal("expected error for unknown session")
	}

	// A later activation must not consume the failed restore's chat.
	if err := f.coord.ActivateSession(ctx, "s1"); err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}
	if f.coord.ActiveChat() != "" {
		t.Errorf("ActiveChat = %q, want none", f.coord.ActiveChat())
	}
}

func TestRestoreViewWithoutSessionIsNoOp(t *testing.T) {
	f := newFixture()
	if err := f.coord.RestoreView(context.Background(), ""); err != nil {
		t.Fatalf("RestoreView: %v", err)
	}
	if f.coord.ActiveSession() != "" {
		t.Error("empty query activated a session")
	}
}

func TestViewQueryRoundTrips(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if err := f.coord.ActivateSession(ctx, "s1"); err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}
	if err := f.coord.OpenChat(ctx, "A"); err != nil {
		t.Fatalf("OpenChat: %v", err)
	}

	q := f.coord.ViewQuery()

	restored := newFixture()
	if err := restored.coord.RestoreView(ctx, q); err != nil {
		t.Fatalf("RestoreView(%q): %v", q, err)
	}
	if restored.coord.ActiveSession() != "s1" || restored.coord.ActiveChat() != "A" {
		t.Errorf("restored view = %s/%s", restored.coord.ActiveSession(), restored.coord.ActiveChat())
	}
}
