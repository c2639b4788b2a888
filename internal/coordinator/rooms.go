// Package coordinator owns the monitoring view state: which session is
// active, which chat is open, and which push rooms the client must be
// subscribed to. All room traffic funnels through RoomSet so overlapping
// consumers (the active view, an in-flight linking flow) can never leak a
// subscription or tear down each other's.
package coordinator

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// RoomTransport is the slice of the push client the room set drives.
type RoomTransport interface {
	JoinRoom(room string)
	LeaveRoom(room string)
}

// RoomSet tracks room subscriptions by holder token. The physical join is
// emitted when the first token for a room is acquired and the leave when the
// last one is released, so two holders of the same room never race each other
// off the channel.
type RoomSet struct {
	mu        sync.Mutex
	transport RoomTransport
	holders   map[string]map[string]struct{} // room -> token set
}

// NewRoomSet creates an empty room set over the given transport.
func NewRoomSet(transport RoomTransport) *RoomSet {
	return &RoomSet{
		transport: transport,
		holders:   make(map[string]map[string]struct{}),
	}
}

// Acquire registers interest in a room and returns the holder token to
// release it with. The first holder triggers the join.
func (s *RoomSet) Acquire(room string) string {
	token := uuid.NewString()

	s.mu.Lock()
	set, ok := s.holders[room]
	if !ok {
		set = make(map[string]struct{})
		s.holders[room] = set
	}
	set[token] = struct{}{}
	first := len(set) == 1
	s.mu.Unlock()

	if first {
		s.transport.JoinRoom(room)
	}
	return token
}

// Release drops one holder. The last holder triggers the leave. Releasing an
// unknown token is a no-op so callers may release defensively on teardown.
func (s *RoomSet) Release(room, token string) {
	s.mu.Lock()
	set, ok := s.holders[room]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, held := set[token]; !held {
		s.mu.Unlock()
		return
	}
	delete(set, token)
	last := len(set) == 0
	if last {
		delete(s.holders, room)
	}
	s.mu.Unlock()

	if last {
		s.transport.LeaveRoom(room)
	}
}

// Rooms returns the rooms with at least one holder, sorted.
func (s *RoomSet) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.holders))
	for room := range s.holders {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Holds reports whether the room currently has any holder.
func (s *RoomSet) Holds(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.holders[room]
	return ok
}
