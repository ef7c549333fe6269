package storage

import (
	"context"
	"sync"
	"time"

	"github.com/flashcur/marketpulse/internal/domain"
)

// MemoryStore is an in-process AlertStore with the same semantics as the
// sqlite backend. It exists for tests and wiring that does not need
// durability.
type MemoryStore struct {
	mu          sync.Mutex
	instruments map[string]*domain.Instrument
	snapshots   []domain.InstrumentSnapshot
	alerts      map[string]*domain.AlertRecord
	subscribers map[string]*domain.Subscriber
	nextID      int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instruments: make(map[string]*domain.Instrument),
		alerts:      make(map[string]*domain.AlertRecord),
		subscribers: make(map[string]*domain.Subscriber),
	}
}

func (s *MemoryStore) FindOrCreateInstrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inst, ok := s.instruments[symbol]; ok {
		copied := *inst
		return &copied, nil
	}
	s.nextID++
	inst := &domain.Instrument{ID: s.nextID, Symbol: symbol, CreatedAt: time.Now().UTC()}
	s.instruments[symbol] = inst
	copied := *inst
	return &copied, nil
}

func (s *MemoryStore) InsertSnapshots(ctx context.Context, snaps []domain.InstrumentSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snaps...)
	return nil
}

func (s *MemoryStore) CreateAlert(ctx context.Context, alert *domain.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *alert
	s.alerts[alert.ID] = &copied
	return nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alert, ok := s.alerts[alertID]; ok {
		alert.Delivered = true
	}
	return nil
}

func (s *MemoryStore) Subscriber(ctx context.Context, userID string) (*domain.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[userID]
	if !ok {
		return nil, nil
	}
	copied := *sub
	return &copied, nil
}

func (s *MemoryStore) SubscribersForSymbol(ctx context.Context, symbol string) ([]*domain.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var subs []*domain.Subscriber
	for _, sub := range s.subscribers {
		if sub.Watches(symbol) {
			copied := *sub
			subs = append(subs, &copied)
		}
	}
	return subs, nil
}

func (s *MemoryStore) UpsertSubscriber(ctx context.Context, sub *domain.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sub
	s.subscribers[sub.UserID] = &copied
	return nil
}

// Alert returns the stored alert record, or nil when unknown.
func (s *MemoryStore) Alert(ctx context.Context, alertID string) (*domain.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[alertID]
	if !ok {
		return nil, nil
	}
	copied := *alert
	return &copied, nil
}

// SnapshotCount reports how many archive rows have been written.
func (s *MemoryStore) SnapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

// Alerts returns copies of every stored alert record.
func (s *MemoryStore) Alerts() []domain.AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AlertRecord, 0, len(s.alerts))
	for _, alert := range s.alerts {
		out = append(out, *alert)
	}
	return out
}
