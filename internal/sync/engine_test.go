package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crisari666/wamon/internal/bus"
	"github.com/crisari666/wamon/internal/cache"
	"github.com/crisari666/wamon/internal/model"
	"github.com/crisari666/wamon/internal/push"
	"go.uber.org/zap"
)

type fakeReflector struct {
	mu       sync.Mutex
	statuses map[string]model.SessionStatus
}

func (f *fakeReflector) Reflect(sessionID string, status model.SessionStatus, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = make(map[string]model.SessionStatus)
	}
	f.statuses[sessionID] = status
}

func (f *fakeReflector) status(sessionID string) model.SessionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[sessionID]
}

type fakeFetcher struct {
	mu    sync.Mutex
	chats map[string]model.Chat
	err   error
	calls int
}

func (f *fakeFetcher) GetChat(_ context.Context, _, chatID string) (*model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.chats[chatID]
	if !ok {
		return nil, errors.New("not found")
	}
	return &c, nil
}

type fakeArchive struct {
	mu   sync.Mutex
	ops  []string
	fail bool
}

func (f *fakeArchive) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	if f.fail {
		return errors.New("archive down")
	}
	return nil
}

func (f *fakeArchive) SaveChat(_ context.Context, c model.Chat) error {
	return f.record("chat " + c.ChatID)
}

func (f *fakeArchive) SaveMessage(_ context.Context, _ string, m model.Message) error {
	return f.record("message " + m.MessageID)
}

func (f *fakeArchive) AppendEdition(_ context.Context, _, _, messageID, _, _ string) error {
	return f.record("edition " + messageID)
}

func (f *fakeArchive) MarkMessageDeleted(_ context.Context, _, _, messageID string, _ int64) error {
	return f.record("delete " + messageID)
}

func (f *fakeArchive) MarkChatDeleted(_ context.Context, _, chatID string) error {
	return f.record("remove " + chatID)
}

func (f *fakeArchive) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

type engineFixture struct {
	engine   *Engine
	bus      *bus.Bus
	chats    *cache.ChatList
	messages *cache.MessageLog
	registry *fakeReflector
	fetcher  *fakeFetcher
	archive  *fakeArchive
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		bus:      bus.New(),
		chats:    cache.NewChatList(),
		messages: cache.NewMessageLog(),
		registry: &fakeReflector{},
		fetcher:  &fakeFetcher{chats: map[string]model.Chat{}},
		archive:  &fakeArchive{},
	}
	f.engine = NewEngine(f.chats, f.messages, f.registry, f.fetcher, f.archive, f.bus, zap.NewNop())
	f.engine.Start(context.Background())
	t.Cleanup(f.engine.Stop)
	return f
}

func (f *engineFixture) pushEvent(kind string, payload any) {
	f.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func waitEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return bus.Event{}
	}
}

func TestEngineAppliesNewMessage(t *testing.T) {
	f := newEngineFixture(t)
	f.chats.Load("s1", []model.Chat{{ChatID: "A"}, {ChatID: "B"}})
	f.messages.Bind("A")

	out, unsub := f.bus.Subscribe("message.applied", 8)
	defer unsub()

	msg := model.Message{MessageID: "m1", ChatID: "A", Body: "hi", Timestamp: 10}
	f.pushEvent("push.new_message", push.NewMessagePayload{SessionID: "s1", Message: msg})
	waitEvent(t, out)

	if f.chats.Snapshot()[0].ChatID != "A" {
		t.Error("chat not moved to front")
	}
	if f.messages.Len() != 1 {
		t.Errorf("message log len = %d, want 1", f.messages.Len())
	}
	if ops := f.archive.log(); len(ops) != 1 || ops[0] != "message m1" {
		t.Errorf("archive ops = %v", ops)
	}
}

func TestEnginePlaceholderBackfill(t *testing.T) {
	f := newEngineFixture(t)
	f.chats.Load("s1", []model.Chat{{ChatID: "A"}})
	f.fetcher.chats["Z"] = model.Chat{ChatID: "Z", SessionID: "s1", Name: "Zara", IsGroup: true}

	out, unsub := f.bus.Subscribe("chat.updated", 8)
	defer unsub()

	f.pushEvent("push.new_message", push.NewMessagePayload{
		SessionID: "s1",
		Message:   model.Message{MessageID: "m1", ChatID: "Z", Body: "hello", Timestamp: 7},
	})

	// First chat.updated is the placeholder apply, second is the reconcile.
	waitEvent(t, out)
	waitEvent(t, out)

	chat, ok := f.chats.Get("Z")
	if !ok {
		t.Fatal("chat Z missing")
	}
	if chat.Placeholder || chat.Name != "Zara" || !chat.IsGroup {
		t.Errorf("chat after backfill = %+v", chat)
	}
	if chat.LastMessage != "hello" {
		t.Errorf("recency lost in reconcile: %+v", chat)
	}
}

func TestEngineBackfillFailureKeepsPlaceholder(t *testing.T) {
	f := newEngineFixture(t)
	f.chats.Load("s1", []model.Chat{{ChatID: "A"}})
	f.fetcher.err = errors.New("boom")

	out, unsub := f.bus.Subscribe("chat.updated", 8)
	defer unsub()

	f.pushEvent("push.new_message", push.NewMessagePayload{
		SessionID: "s1",
		Message:   model.Message{MessageID: "m1", ChatID: "Z", Timestamp: 7},
	})
	waitEvent(t, out)

	// Give the failed backfill goroutine a beat to run.
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.fetcher.mu.Lock()
		calls := f.fetcher.calls
		f.fetcher.mu.Unlock()
		if calls > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	chat, ok := f.chats.Get("Z")
	if !ok {
		t.Fatal("placeholder dropped after failed backfill")
	}
	if !chat.Placeholder || chat.Name != "Z" {
		t.Errorf("chat = %+v, want intact placeholder", chat)
	}
}

func TestEngineAppliesEdit(t *testing.T) {
	f := newEngineFixture(t)
	f.messages.Bind("A")
	f.messages.ApplyIncoming(model.Message{MessageID: "m1", ChatID: "A", Body: "old", Timestamp: 10})

	out, unsub := f.bus.Subscribe("message.edited", 8)
	defer unsub()

	f.pushEvent("push.message_edited", push.MessageEditedPayload{
		SessionID: "s1", ChatID: "A", MessageID: "m1", NewBody: "new", PreviousBody: "old",
	})
	waitEvent(t, out)

	m, _ := f.messages.Get("m1")
	if m.Body != "new" {
		t.Errorf("body = %q, want new", m.Body)
	}
	if len(m.Edition) != 1 || m.Edition[0] != "old" {
		t.Errorf("edition = %v, want [old]", m.Edition)
	}
	if ops := f.archive.log(); len(ops) != 1 || ops[0] != "edition m1" {
		t.Errorf("archive ops = %v", ops)
	}
}

func TestEngineAppliesSoftDelete(t *testing.T) {
	f := newEngineFixture(t)
	f.messages.Bind("A")
	f.messages.ApplyIncoming(model.Message{MessageID: "m1", ChatID: "A", Timestamp: 10})

	out, unsub := f.bus.Subscribe("message.deleted", 8)
	defer unsub()

	f.pushEvent("push.message_deleted", push.MessageDeletedPayload{
		SessionID: "s1", ChatID: "A", MessageID: "m1", DeletedAt: 99,
	})
	waitEvent(t, out)

	m, _ := f.messages.Get("m1")
	if !m.IsDeleted || m.DeletedAt != 99 {
		t.Errorf("message = %+v, want soft-deleted", m)
	}
	if f.messages.Len() != 1 {
		t.Error("soft delete removed the entry")
	}
}

func TestEngineAppliesChatRemoval(t *testing.T) {
	f := newEngineFixture(t)
	f.chats.Load("s1", []model.Chat{{ChatID: "A"}})

	out, unsub := f.bus.Subscribe("chat.removed", 8)
	defer unsub()

	f.pushEvent("push.chat_removed", push.ChatRemovedPayload{SessionID: "s1", ChatID: "A"})
	waitEvent(t, out)

	chat, _ := f.chats.Get("A")
	if !chat.Deleted {
		t.Error("chat not flagged deleted")
	}
	if ops := f.archive.log(); len(ops) != 1 || ops[0] != "remove A" {
		t.Errorf("archive ops = %v", ops)
	}
}

func TestEngineReflectsStatusEvents(t *testing.T) {
	f := newEngineFixture(t)

	out, unsub := f.bus.Subscribe("message.", 8)
	defer unsub()

	f.pushEvent("push.disconnected", push.DisconnectedPayload{SessionID: "s1"})
	f.pushEvent("push.ready", push.ReadyPayload{SessionID: "s2"})
	f.pushEvent("push.qr", push.QRPayload{SessionID: "s3", QR: "data"})
	// Flush: a delete for a message nobody has still round-trips the loop.
	f.pushEvent("push.message_deleted", push.MessageDeletedPayload{MessageID: "x"})
	waitEvent(t, out)

	if got := f.registry.status("s1"); got != model.StatusDisconnected {
		t.Errorf("s1 status = %s", got)
	}
	if got := f.registry.status("s2"); got != model.StatusReady {
		t.Errorf("s2 status = %s", got)
	}
	if got := f.registry.status("s3"); got != model.StatusQRGenerated {
		t.Errorf("s3 status = %s", got)
	}
}

func TestEngineArchiveFailureDoesNotBlockCache(t *testing.T) {
	f := newEngineFixture(t)
	f.archive.fail = true
	f.chats.Load("s1", []model.Chat{{ChatID: "A"}})
	f.messages.Bind("A")

	out, unsub := f.bus.Subscribe("message.applied", 8)
	defer unsub()

	f.pushEvent("push.new_message", push.NewMessagePayload{
		SessionID: "s1",
		Message:   model.Message{MessageID: "m1", ChatID: "A", Timestamp: 10},
	})
	waitEvent(t, out)

	if f.messages.Len() != 1 {
		t.Error("cache apply blocked by archive failure")
	}
}
