package booking

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no booking matches.
var ErrNotFound = errors.New("booking not found")

// Store persists booking records.
type Store interface {
	Create(ctx context.Context, b *Booking) error
	Update(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id string) (*Booking, error)
	// FindByReference returns the most recent booking for an idempotency reference.
	FindByReference(ctx context.Context, reference string) (*Booking, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu          sync.RWMutex
	bookings    map[string]*Booking
	byReference map[string][]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:    make(map[string]*Booking),
		byReference: make(map[string][]string),
	}
}

// Create stores a new booking.
func (s *MemoryStore) Create(ctx context.Context, b *Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b.Clone()
	s.byReference[b.Reference] = append(s.byReference[b.Reference], b.ID)
	return nil
}

// Update replaces a stored booking.
func (s *MemoryStore) Update(ctx context.Context, b *Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[b.ID]; !ok {
		return ErrNotFound
	}
	s.bookings[b.ID] = b.Clone()
	return nil
}

// Get returns the booking with id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

// FindByReference returns the latest booking created for reference.
func (s *MemoryStore) FindByReference(ctx context.Context, reference string) (*Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byReference[reference]
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return s.bookings[ids[len(ids)-1]].Clone(), nil
}

var _ Store = (*MemoryStore)(nil)
