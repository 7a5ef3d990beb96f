package bookings

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and local development.
// Transactions are serialized and run against a private copy of the rows that
// replaces the live set on commit.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*Booking

	txMu *sync.Mutex
	inTx bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[uuid.UUID]*Booking), txMu: &sync.Mutex{}}
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, q Query) ([]*Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Booking
	for _, b := range s.rows {
		if matches(b, q) {
			out = append(out, b.Clone())
		}
	}
	sortByStart(out)
	return out, nil
}

func matches(b *Booking, q Query) bool {
	if len(q.Centers) > 0 && !slices.Contains(q.Centers, b.Center) {
		return false
	}
	if !q.From.IsZero() && b.Date.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && b.Date.After(q.To) {
		return false
	}
	if q.Category != "" && b.Category != q.Category {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, b.Status) {
		return false
	}
	if q.UnconfirmedOnly && b.SessionConfirmed {
		return false
	}
	return true
}

func (s *MemoryStore) FindActiveByPhone(ctx context.Context, digits string) ([]*Booking, error) {
	return s.findActive(func(b *Booking) bool {
		return digits != "" && strings.Contains(b.PhoneNormalized, digits)
	}), nil
}

func (s *MemoryStore) FindActiveByName(ctx context.Context, name string) ([]*Booking, error) {
	return s.findActive(func(b *Booking) bool {
		return name != "" && strings.EqualFold(strings.TrimSpace(b.ClientName), name)
	}), nil
}

func (s *MemoryStore) findActive(pred func(*Booking) bool) []*Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Booking
	for _, b := range s.rows {
		if b.IsActive() && pred(b) {
			out = append(out, b.Clone())
		}
	}
	sortByStart(out)
	return out
}

func (s *MemoryStore) Insert(ctx context.Context, b *Booking) error {
	return s.write(func() error {
		if _, exists := s.rows[b.ID]; exists {
			return fmt.Errorf("bookings: insert %s: %w: duplicate id", b.ID, ErrStore)
		}
		if err := s.checkSlotKey(b); err != nil {
			return err
		}
		s.rows[b.ID] = b.Clone()
		return nil
	})
}

func (s *MemoryStore) Update(ctx context.Context, b *Booking) error {
	return s.write(func() error {
		if _, exists := s.rows[b.ID]; !exists {
			return ErrNotFound
		}
		if err := s.checkSlotKey(b); err != nil {
			return err
		}
		s.rows[b.ID] = b.Clone()
		return nil
	})
}

func (s *MemoryStore) MarkNotified(ctx context.Context, id uuid.UUID) error {
	return s.write(func() error {
		b, ok := s.rows[id]
		if !ok {
			return ErrNotFound
		}
		b.NotificationSent = true
		b.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// checkSlotKey mirrors the exclusion constraint on booked, non-shared rows:
// no two may overlap at the same center. Inside a transaction the check is
// deferred to commit.
func (s *MemoryStore) checkSlotKey(b *Booking) error {
	if s.inTx || !b.IsActive() || b.SharedSlot {
		return nil
	}
	for id, other := range s.rows {
		if id == b.ID || !holdsSlot(other) {
			continue
		}
		if other.Center == b.Center && other.Interval().Overlaps(b.Interval()) {
			return fmt.Errorf("bookings: slot key %s %s: %w", b.Center, b.SlotStartUTC.Format(time.RFC3339), ErrSlotConflict)
		}
	}
	return nil
}

// checkAllSlots validates the constraint over a whole row set.
func checkAllSlots(rows map[uuid.UUID]*Booking) error {
	var held []*Booking
	for _, b := range rows {
		if holdsSlot(b) {
			held = append(held, b)
		}
	}
	sortByStart(held)
	last := make(map[string]*Booking)
	for _, b := range held {
		key := string(b.Center)
		if prev, ok := last[key]; ok && prev.Interval().Overlaps(b.Interval()) {
			return fmt.Errorf("bookings: commit %s %s: %w", b.Center, b.SlotStartUTC.Format(time.RFC3339), ErrSlotConflict)
		}
		if prev, ok := last[key]; !ok || b.SlotEndUTC.After(prev.SlotEndUTC) {
			last[key] = b
		}
	}
	return nil
}

func holdsSlot(b *Booking) bool { return b.IsActive() && !b.SharedSlot }

// write applies a mutation. Outside a transaction it waits for any running
// transaction so commits never overwrite it.
func (s *MemoryStore) write(fn func() error) error {
	if !s.inTx {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := make(map[uuid.UUID]*Booking, len(s.rows))
	for id, b := range s.rows {
		snapshot[id] = b.Clone()
	}
	s.mu.RUnlock()

	tx := &MemoryStore{rows: snapshot, txMu: s.txMu, inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("bookings: commit: %w", err)
	}
	if err := checkAllSlots(tx.rows); err != nil {
		return err
	}

	s.mu.Lock()
	s.rows = tx.rows
	s.mu.Unlock()
	return nil
}

func sortByStart(list []*Booking) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].SlotStartUTC.Equal(list[j].SlotStartUTC) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].SlotStartUTC.Before(list[j].SlotStartUTC)
	})
}
