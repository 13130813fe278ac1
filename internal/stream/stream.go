// Package stream fans committed disbursement changes out to live subscribers
// and optional external sinks.
package stream

import (
	"context"
	"sync"
	"time"

	"disbursa.org/internal/models"
)

// Kind names what happened to a disbursement.
type Kind string

const (
	KindCreated       Kind = "disbursement.created"
	KindStatusChanged Kind = "disbursement.statusChanged"
)

// Event describes one committed disbursement change.
type Event struct {
	Kind           Kind                      `json:"kind"`
	OrgID          string                    `json:"org_id"`
	DisbursementID string                    `json:"disbursement_id"`
	Type           models.DisbursementType   `json:"type"`
	Status         models.DisbursementStatus `json:"status"`
	PreviousStatus models.DisbursementStatus `json:"previous_status,omitempty"`
	Token          string                    `json:"token"`
	Amount         string                    `json:"amount"`
	ActorID        string                    `json:"actor_id"`
	Timestamp      time.Time                 `json:"timestamp"`
}

// Publisher accepts events after their transaction committed.
type Publisher interface {
	Publish(evt Event)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Multi publishes to every non-nil publisher in order.
func Multi(pubs ...Publisher) Publisher {
	out := make(multi, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

type multi []Publisher

func (m multi) Publish(evt Event) {
	for _, p := range m {
		p.Publish(evt)
	}
}

type subscriber struct {
	orgID string
	ch    chan Event
}

// Stream fans events out to subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

// New returns an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for events of orgID and returns a channel
// receiving them. The channel is closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, orgID string) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{orgID: orgID, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish delivers evt to subscribers of its organization.
func (s *Stream) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.orgID != evt.OrgID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Slow subscriber, drop.
		}
	}
}

// Subscribers returns the number of live subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
