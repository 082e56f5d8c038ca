/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package state tracks which job ids are executing right now.
package state

import (
	"sort"
	"sync"
	"time"
)

// Store serializes runs per job id. A run that arrives while the same id is
// executing is parked and handed back when the current run finishes; only
// the latest parked run is kept.
type Store struct {
	mu       sync.Mutex
	running  map[string]time.Time // id -> started at
	deferred map[string]time.Time // id -> run_at of the parked run
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		running:  make(map[string]time.Time),
		deferred: make(map[string]time.Time),
	}
}

// Begin marks id as running and returns true, or parks runAt and returns
// false if id is already running.
func (s *Store) Begin(id string, runAt time.Time, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[id]; busy {
		s.deferred[id] = runAt
		return false
	}
	s.running[id] = now
	return true
}

// Finish clears id and returns the parked run, if any.
func (s *Store) Finish(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
	runAt, ok := s.deferred[id]
	delete(s.deferred, id)
	return runAt, ok
}

// Running returns the ids currently executing, sorted.
func (s *Store) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.running))
	for id := range s.running {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
