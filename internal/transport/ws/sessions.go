package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/CoreyShupe/BentoBox/internal/protocol"
)

var (
	ErrOffline   = errors.New("player is offline")
	ErrQueueFull = errors.New("player send queue is full")
)

type session struct {
	id        string
	requester uuid.UUID
	out       chan []byte
}

// Sessions tracks connected players. It is the allocator's Teleporter: a
// teleport or notice becomes a message on the player's connection.
type Sessions struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*session
}

func NewSessions() *Sessions {
	return &Sessions{byID: map[uuid.UUID]*session{}}
}

// attach registers sess and returns the session it replaced, if any.
func (s *Sessions) attach(sess *session) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.byID[sess.requester]
	s.byID[sess.requester] = sess
	return old
}

func (s *Sessions) detach(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID[sess.requester] == sess {
		delete(s.byID, sess.requester)
	}
}

func (s *Sessions) IsOnline(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	return ok
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *Sessions) TeleportHome(ctx context.Context, world string, id uuid.UUID) error {
	return s.send(id, protocol.TeleportMsg{
		Type:            protocol.TypeTeleport,
		ProtocolVersion: protocol.Version,
		World:           world,
	})
}

func (s *Sessions) Notify(id uuid.UUID, key string) {
	_ = s.send(id, protocol.NoticeMsg{
		Type:            protocol.TypeNotice,
		ProtocolVersion: protocol.Version,
		MessageKey:      key,
	})
}

func (s *Sessions) send(id uuid.UUID, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	sess, ok := s.byID[id]
	s.mu.Unlock()
	if !ok {
		return ErrOffline
	}
	return sess.enqueue(b)
}

func (sess *session) enqueue(b []byte) error {
	select {
	case sess.out <- b:
		return nil
	default:
		return ErrQueueFull
	}
}
