// Package peer describes what the authentication protocols need from the host's connections.
package peer

import (
	"context"
	"sync"
)

// ConnID identifies one connection for as long as it is open.
type ConnID uint64

// Channel exchanges opaque messages with the peer on a named side channel.
type Channel interface {
	// Query sends payload on the named channel and blocks for the peer's answer. understood is
	// false if the peer does not know the channel; answer is empty then.
	Query(ctx context.Context, channel string, payload []byte) (answer []byte, understood bool, err error)
}

// SkipSet remembers connections that completed fallback authentication, so the key sync that
// normally follows a login can be skipped for them.
type SkipSet struct {
	µ     sync.Mutex
	conns map[ConnID]struct{}
}

func NewSkipSet() *SkipSet {
	return &SkipSet{conns: map[ConnID]struct{}{}}
}

func (s *SkipSet) Mark(id ConnID) {
	s.µ.Lock()
	defer s.µ.Unlock()
	s.conns[id] = struct{}{}
}

// Consume reports whether id was marked and removes the mark.
func (s *SkipSet) Consume(id ConnID) bool {
	s.µ.Lock()
	defer s.µ.Unlock()
	_, ok := s.conns[id]
	delete(s.conns, id)
	return ok
}

// Forget drops the mark of a closed connection.
func (s *SkipSet) Forget(id ConnID) { s.Consume(id) }

func (s *SkipSet) Len() int {
	s.µ.Lock()
	defer s.µ.Unlock()
	return len(s.conns)
}
