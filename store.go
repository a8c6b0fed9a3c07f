package main

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store holds all game sessions in memory.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Game
	newGame  func(id string) *Game
}

// NewStore creates an empty store. newGame builds the game for a fresh
// session ID.
func NewStore(newGame func(id string) *Game) *Store {
	return &Store{
		sessions: make(map[string]*Game),
		newGame:  newGame,
	}
}

// Create registers a new session and starts its game.
func (s *Store) Create() *Game {
	game := s.newGame(uuid.NewString())

	s.mu.Lock()
	s.sessions[game.ID] = game
	s.mu.Unlock()

	game.Start()
	return game
}

// Get returns a session by ID, or nil if not found.
func (s *Store) Get(id string) *Game {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// List returns all sessions, most recent first.
func (s *Store) List() []*Game {
	s.mu.RLock()
	list := make([]*Game, 0, len(s.sessions))
	for _, g := range s.sessions {
		list = append(list, g)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Reap removes sessions idle for longer than maxIdle and returns their IDs.
// Sessions with a clue in flight are kept.
func (s *Store) Reap(maxIdle time.Duration) []string {
	cutoff := time.Now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	var reaped []string
	for id, g := range s.sessions {
		if g.Busy() || g.IdleSince().After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		reaped = append(reaped, id)
	}
	return reaped
}
