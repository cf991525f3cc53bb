// Package store holds the client's off-chain view of its payment
// channels.
//
// A Store is owned by one client transport.  Each state it holds is
// the state the next request on that channel must be signed with.
package store

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/selesy/x402-gate/pkg/api"
)

// Store is an in-memory map from channel id to channel state.  It is
// safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	channels map[string]api.ChannelState
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		channels: make(map[string]api.ChannelState),
	}
}

// Add registers state under id, replacing any state already held for
// it.
func (s *Store) Add(id string, state api.ChannelState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.channels[id] = state.Clone()
}

// Get returns a copy of the current state of channel id.
func (s *Store) Get(id string) (api.ChannelState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.channels[id]
	if !ok {
		return api.ChannelState{}, false
	}

	return state.Clone(), true
}

// Update replaces the state of an existing channel.
func (s *Store) Update(id string, state api.ChannelState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[id]; !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}

	s.channels[id] = state.Clone()

	return nil
}

// Remove forgets channel id, typically after it was closed on-chain.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.channels, id)
}

// IDs returns the ids of all channels in ascending order.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Advance atomically reads the state to sign the next request with and
// moves the channel on by one request costing price.  Pipelined calls
// therefore each sign a distinct nonce.
func (s *Store) Advance(id string, price *big.Int) (api.ChannelState, api.ChannelState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.channels[id]
	if !ok {
		return api.ChannelState{}, api.ChannelState{}, fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}

	next := prev.Next(price)
	s.channels[id] = next

	return prev.Clone(), next.Clone(), nil
}

// Revert restores prev if the channel is still at next, undoing an
// Advance whose request was not paid for.  It reports whether the state
// was restored.
func (s *Store) Revert(id string, prev, next api.ChannelState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.channels[id]
	if !ok || !cur.Equal(next) {
		return false
	}

	s.channels[id] = prev.Clone()

	return true
}

// Reconcile overwrites a known channel with the state echoed by the
// server, which is authoritative.  An echo that is behind the stored
// nonce is ignored since later pipelined requests have already moved
// the channel past it.  It reports whether the state was replaced.
func (s *Store) Reconcile(state api.ChannelState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := state.ID()

	cur, ok := s.channels[id]
	if !ok || state.Nonce < cur.Nonce {
		return false
	}

	s.channels[id] = state.Clone()

	return true
}
