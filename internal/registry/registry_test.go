package registry

import (
	"context"
	"testing"
	"time"

	"github.com/crisari666/wamon/internal/bus"
	"github.com/crisari666/wamon/internal/model"
	"github.com/crisari666/wamon/internal/rest"
	"go.uber.org/zap"
)

type fakeAPI struct {
	sessions []model.Session
	err      error
}

func (f *fakeAPI) ListSessions(context.Context) ([]model.Session, error) {
	return f.sessions, f.err
}

func newTestRegistry(api *fakeAPI) (*Registry, *bus.Bus) {
	b := bus.New()
	return New(api, b, zap.NewNop()), b
}

func drain(ch <-chan bus.Event) []bus.Event {
	var out []bus.Event
	for {
		select {
		case evt := <-ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestRefreshDiscoversSessions(t *testing.T) {
	api := &fakeAPI{sessions: []model.Session{
		{SessionID: "s1", Status: model.StatusReady},
		{SessionID: "s2", Status: model.StatusInitializing},
	}}
	r, b := newTestRegistry(api)
	ch, unsub := b.Subscribe("session.discovered", 8)
	defer unsub()

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if got := len(r.List()); got != 2 {
		t.Errorf("List len = %d, want 2", got)
	}
	if got := len(drain(ch)); got != 2 {
		t.Errorf("discovered events = %d, want 2", got)
	}
}

func TestRefreshPublishesStatusChanges(t *testing.T) {
	api := &fakeAPI{sessions: []model.Session{{SessionID: "s1", Status: model.StatusInitializing}}}
	r, b := newTestRegistry(api)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	ch, unsub := b.Subscribe("session.status_changed", 8)
	defer unsub()

	api.sessions = []model.Session{{SessionID: "s1", Status: model.StatusReady}}
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	evts := drain(ch)
	if len(evts) != 1 {
		t.Fatalf("status_changed events = %d, want 1", len(evts))
	}
	change := evts[0].Payload.(StatusChange)
	if change.From != model.StatusInitializing || change.To != model.StatusReady {
		t.Errorf("change = %+v", change)
	}

	// Unchanged snapshot publishes nothing.
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if evts := drain(ch); len(evts) != 0 {
		t.Errorf("unexpected events on unchanged refresh: %v", evts)
	}
}

func TestRefreshRemovesDestroyedSessions(t *testing.T) {
	api := &fakeAPI{sessions: []model.Session{
		{SessionID: "s1", Status: model.StatusReady},
		{SessionID: "s2", Status: model.StatusReady},
	}}
	r, b := newTestRegistry(api)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	ch, unsub := b.Subscribe("session.removed", 8)
	defer unsub()

	api.sessions = api.sessions[:1]
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if _, ok := r.Get("s2"); ok {
		t.Error("destroyed session still present")
	}
	evts := drain(ch)
	if len(evts) != 1 || evts[0].Payload.(model.Session).SessionID != "s2" {
		t.Errorf("removed events = %v", evts)
	}
}

func TestReflectUpdatesStatusAndLastSeen(t *testing.T) {
	api := &fakeAPI{sessions: []model.Session{{SessionID: "s1", Status: model.StatusReady}}}
	r, b := newTestRegistry(api)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	ch, unsub := b.Subscribe("session.status_changed", 8)
	defer unsub()

	at := time.Now()
	r.Reflect("s1", model.StatusDisconnected, at)

	s, _ := r.Get("s1")
	if s.Status != model.StatusDisconnected {
		t.Errorf("status = %s, want disconnected", s.Status)
	}
	if s.LastSeen != at.UnixMilli() {
		t.Errorf("lastSeen = %d, want %d", s.LastSeen, at.UnixMilli())
	}
	if len(drain(ch)) != 1 {
		t.Error("no status_changed event published")
	}

	// Unknown session is ignored, not invented.
	r.Reflect("ghost", model.StatusReady, at)
	if _, ok := r.Get("ghost"); ok {
		t.Error("Reflect created a session")
	}
}

func TestRefreshUnauthorizedPublishesAuthInvalid(t *testing.T) {
	api := &fakeAPI{err: rest.ErrUnauthorized}
	r, b := newTestRegistry(api)
	ch, unsub := b.Subscribe("auth.", 8)
	defer unsub()

	if err := r.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh should propagate the error")
	}
	evts := drain(ch)
	if len(evts) != 1 || evts[0].Kind != "auth.invalid" {
		t.Errorf("auth events = %v, want one auth.invalid", evts)
	}
}

func TestListSorted(t *testing.T) {
	api := &fakeAPI{sessions: []model.Session{
		{SessionID: "s3"}, {SessionID: "s1"}, {SessionID: "s2"},
	}}
	r, _ := newTestRegistry(api)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	list := r.List()
	for i, want := range []string{"s1", "s2", "s3"} {
		if list[i].SessionID != want {
			t.Fatalf("list[%d] = %s, want %s", i, list[i].SessionID, want)
		}
	}
}
