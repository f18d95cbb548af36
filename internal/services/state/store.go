// Package state holds the latest detection state for status readers.
package state

import (
	"sync"
	"sync/atomic"
	"time"

	"ppe-safety-worker/internal/models"
)

// Store publishes immutable DetectionState values. Writers build a new value
// and swap the pointer, so readers never observe a partially updated state.
type Store struct {
	current atomic.Pointer[models.DetectionState]
	frames  atomic.Int64

	mu     sync.Mutex
	nextID int
	subs   map[int]chan models.DetectionState
}

// NewStore returns a store holding the UNKNOWN state
func NewStore() *Store {
	s := &Store{subs: make(map[int]chan models.DetectionState)}
	initial := models.UnknownState()
	s.current.Store(&initial)
	return s
}

// Publish replaces the current state and notifies subscribers
func (s *Store) Publish(summary models.FrameSummary, helmetAny, jacketAny bool, overall models.OverallStatus) models.DetectionState {
	next := &models.DetectionState{
		Summary:           summary,
		HelmetDetectedAny: helmetAny,
		JacketDetectedAny: jacketAny,
		OverallStatus:     overall,
		UpdatedAt:         time.Now(),
		FrameID:           s.frames.Add(1),
	}
	s.current.Store(next)
	s.notify(*next)
	return *next
}

// Snapshot returns the last published state without blocking
func (s *Store) Snapshot() models.DetectionState {
	return *s.current.Load()
}

// Subscribe returns a channel that receives every published state. Slow
// subscribers miss intermediate values rather than blocking the publisher.
func (s *Store) Subscribe() (<-chan models.DetectionState, func()) {
	ch := make(chan models.DetectionState, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) notify(st models.DetectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- st:
		default:
			// drop the stale value and keep the newest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}
