package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for single-instance deployments. State
// is lost on restart; distributed deployments should implement Store on a
// shared backend.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
	byKey   map[string]int
	byTx    map[string]int
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey: make(map[string]int),
		byTx:  make(map[string]int),
	}
}

func key(transaction, resource string) string {
	return transaction + "\x00" + resource
}

// InsertIfAbsent appends rec unless its transaction and resource pair is
// already present. Records with an empty Transaction are free-route audit
// entries and are always appended without deduplication.
func (s *MemoryStore) InsertIfAbsent(ctx context.Context, rec Record) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Transaction != "" {
		if idx, ok := s.byKey[key(rec.Transaction, rec.Resource)]; ok {
			existing := s.records[idx]
			return &existing, ErrDuplicate
		}
	}

	rec.ID = uuid.NewString()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.records = append(s.records, rec)
	if rec.Transaction != "" {
		s.byKey[key(rec.Transaction, rec.Resource)] = len(s.records) - 1
		if _, ok := s.byTx[rec.Transaction]; !ok {
			s.byTx[rec.Transaction] = len(s.records) - 1
		}
	}
	stored := rec
	return &stored, nil
}

func (s *MemoryStore) Find(ctx context.Context, transaction, resource string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byKey[key(transaction, resource)]
	if !ok {
		return nil, nil
	}
	rec := s.records[idx]
	return &rec, nil
}

func (s *MemoryStore) FindTransaction(ctx context.Context, transaction string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if transaction == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byTx[transaction]
	if !ok {
		return nil, nil
	}
	rec := s.records[idx]
	return &rec, nil
}

func (s *MemoryStore) ByResource(ctx context.Context, resource string) ([]Record, error) {
	return s.filter(ctx, func(r Record) bool { return r.Resource == resource })
}

func (s *MemoryStore) ByPayer(ctx context.Context, payer string) ([]Record, error) {
	return s.filter(ctx, func(r Record) bool { return r.Payer == payer })
}

func (s *MemoryStore) filter(ctx context.Context, match func(Record) bool) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, rec := range s.records {
		if match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Scan visits records in insertion order on a snapshot taken at call time,
// so fn may run without holding the store lock.
func (s *MemoryStore) Scan(ctx context.Context, fn func(Record) bool) error {
	s.mu.Lock()
	snapshot := make([]Record, len(s.records))
	copy(snapshot, s.records)
	s.mu.Unlock()

	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(rec) {
			return nil
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
