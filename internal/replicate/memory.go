package replicate

import (
	"context"
	"sync"

	"fieldproof/internal/audit"
	"fieldproof/internal/delivery"
)

// MemoryStore is a test double with the same idempotence contract as the
// real store. InsertCalls counts raw calls, Events holds the deduped effect.
type MemoryStore struct {
	mu sync.Mutex

	events     map[string]audit.Event
	deliveries map[string]delivery.Item

	InsertCalls int
	UpsertCalls int
	PingErr     error
	InsertErr   error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:     map[string]audit.Event{},
		deliveries: map[string]delivery.Item{},
	}
}

func (s *MemoryStore) InsertEvents(_ context.Context, events []audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InsertCalls++
	if s.InsertErr != nil {
		return s.InsertErr
	}
	for _, ev := range events {
		if _, exists := s.events[ev.ID]; exists {
			continue
		}
		s.events[ev.ID] = ev
	}
	return nil
}

func (s *MemoryStore) UpsertDeliveryRecord(_ context.Context, item delivery.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpsertCalls++
	s.deliveries[item.ID] = item
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return s.PingErr }

func (s *MemoryStore) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}
	return out
}

func (s *MemoryStore) Delivery(id string) (delivery.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.deliveries[id]
	return it, ok
}
