package workflow

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/rynzz22/digital.talibon/model"
)

type recordKey struct {
	kind model.Kind
	id   string
}

// memRecord guards one record. Commits on different records never share a
// lock.
type memRecord struct {
	mu  sync.Mutex
	rec model.Record
}

// MemoryRepository is an in-process Repository for single-node deployments
// and tests. Records are deep-copied on every read and write.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[recordKey]*memRecord
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[recordKey]*memRecord),
	}
}

// Create stores a new record.
func (s *MemoryRepository) Create(_ context.Context, rec model.Record) error {
	key := recordKey{rec.Kind, rec.ID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[key]; exists {
		return model.NewConflictError(fmt.Sprintf("%s %q already exists", rec.Kind, rec.ID))
	}
	s.records[key] = &memRecord{rec: rec.Clone()}
	return nil
}

// Get returns a copy of the record.
func (s *MemoryRepository) Get(_ context.Context, kind model.Kind, id string) (model.Record, error) {
	entry, err := s.lookup(kind, id)
	if err != nil {
		return model.Record{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.rec.Clone(), nil
}

// Commit applies c if the stored version equals c.ExpectedVersion.
func (s *MemoryRepository) Commit(_ context.Context, c Commit) error {
	entry, err := s.lookup(c.Kind, c.ID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.rec.Version != c.ExpectedVersion {
		return model.NewVersionConflictError(c.ID, c.ExpectedVersion, entry.rec.Version)
	}

	rec := entry.rec
	rec.Stage = c.Stage
	rec.Custodian = c.Custodian
	rec.Attributes = model.CloneAttributes(c.Attributes)
	rec.History = append(slices.Clone(rec.History), c.Entry)
	rec.Version++
	rec.UpdatedAt = c.UpdatedAt
	entry.rec = rec
	return nil
}

// History returns a copy of the record's audit entries.
func (s *MemoryRepository) History(_ context.Context, kind model.Kind, id string) ([]model.AuditEntry, error) {
	entry, err := s.lookup(kind, id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return slices.Clone(entry.rec.History), nil
}

// List returns matching records ordered by creation time, then ID.
func (s *MemoryRepository) List(_ context.Context, filter Filter) ([]model.Record, error) {
	s.mu.RLock()
	entries := make([]*memRecord, 0, len(s.records))
	for key, entry := range s.records {
		if filter.Kind != "" && key.kind != filter.Kind {
			continue
		}
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	var matched []model.Record
	for _, entry := range entries {
		entry.mu.Lock()
		rec := entry.rec
		if filter.Department != "" && rec.Custodian.Department != filter.Department {
			entry.mu.Unlock()
			continue
		}
		if len(filter.Stages) > 0 && !slices.Contains(filter.Stages, rec.Stage) {
			entry.mu.Unlock()
			continue
		}
		summary := rec.Clone()
		summary.History = nil
		entry.mu.Unlock()
		matched = append(matched, summary)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if filter.Offset >= len(matched) {
		return []model.Record{}, nil
	}
	end := filter.Offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], nil
}

// HealthCheck always succeeds.
func (s *MemoryRepository) HealthCheck(context.Context) error { return nil }

// Len returns the number of stored records.
func (s *MemoryRepository) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryRepository) lookup(kind model.Kind, id string) (*memRecord, error) {
	s.mu.RLock()
	entry, ok := s.records[recordKey{kind, id}]
	s.mu.RUnlock()
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("%s %q not found", kind, id))
	}
	return entry, nil
}
