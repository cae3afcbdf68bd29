// Package memory provides an in-memory Metadata Store used in tests and in
// dev mode when no database is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"certvault/internal/certificate"
	"certvault/pkg/platform/sentinel"
)

// Clock is an injectable time source for deterministic tests.
type Clock func() time.Time

// Store is a mutex-guarded in-memory implementation of certificate.Store.
type Store struct {
	mu      sync.RWMutex
	byKey   map[certificate.Key]*certificate.CertificateRecord
	byID    map[uuid.UUID]*certificate.CertificateRecord
	entries []certificate.ProcessingLogEntry
	clock   Clock
}

// Option configures a Store instance.
type Option func(*Store)

// WithClock sets the clock function for testability.
func WithClock(clock Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New constructs an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		byKey: make(map[certificate.Key]*certificate.CertificateRecord),
		byID:  make(map[uuid.UUID]*certificate.CertificateRecord),
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) UpsertIfAbsent(_ context.Context, key certificate.Key, locator string) (*certificate.CertificateRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byKey[key]; ok {
		return clone(existing), false, nil
	}
	now := s.clock()
	record := &certificate.CertificateRecord{
		ID:              uuid.New(),
		IdempotencyKey:  key,
		Status:          certificate.StatusPending,
		DocumentLocator: locator,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.byKey[key] = record
	s.byID[record.ID] = record
	return clone(record), true, nil
}

func (s *Store) TransitionStatus(_ context.Context, id uuid.UUID, expected, next certificate.Status, mut certificate.Mutation) (bool, error) {
	if !certificate.CanTransition(expected, next) {
		return false, fmt.Errorf("transition %s -> %s: %w", expected, next, sentinel.ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok {
		return false, fmt.Errorf("certificate %s: %w", id, sentinel.ErrNotFound)
	}
	if record.Status != expected {
		return false, nil
	}
	record.Status = next
	if mut.Fields != nil {
		record.Fields = *mut.Fields
	}
	if mut.AttemptCount != nil {
		record.AttemptCount = *mut.AttemptCount
	}
	record.UpdatedAt = s.clock()
	return true, nil
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*certificate.CertificateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("certificate %s: %w", id, sentinel.ErrNotFound)
	}
	return clone(record), nil
}

func (s *Store) Search(_ context.Context, filters certificate.SearchFilters) ([]*certificate.CertificateRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]*certificate.CertificateRecord, 0, len(s.byID))
	for _, record := range s.byID {
		if matchesFilters(record, filters) {
			matches = append(matches, record)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID.String() > matches[j].ID.String()
	})

	total := len(matches)
	start := (filters.Page - 1) * filters.PageSize
	if start >= total {
		return []*certificate.CertificateRecord{}, total, nil
	}
	end := start + filters.PageSize
	if end > total {
		end = total
	}
	page := make([]*certificate.CertificateRecord, 0, end-start)
	for _, record := range matches[start:end] {
		page = append(page, clone(record))
	}
	return page, total, nil
}

func (s *Store) AppendLog(_ context.Context, entry certificate.ProcessingLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.clock()
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *Store) ListLog(_ context.Context, certificateID uuid.UUID) ([]certificate.ProcessingLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []certificate.ProcessingLogEntry
	for _, entry := range s.entries {
		if entry.CertificateID != nil && *entry.CertificateID == certificateID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func matchesFilters(record *certificate.CertificateRecord, filters certificate.SearchFilters) bool {
	if filters.StudentID != "" && record.Fields.StudentID != filters.StudentID {
		return false
	}
	if filters.StudentName != "" &&
		!strings.Contains(strings.ToLower(record.Fields.StudentName), strings.ToLower(filters.StudentName)) {
		return false
	}
	if filters.CertificateType != "" && record.Fields.CertificateType != filters.CertificateType {
		return false
	}
	if filters.GraduationYear != 0 {
		if record.Fields.GraduationDate == nil || record.Fields.GraduationDate.Year() != filters.GraduationYear {
			return false
		}
	}
	return true
}

func clone(record *certificate.CertificateRecord) *certificate.CertificateRecord {
	copied := *record
	if record.Fields.GPA != nil {
		gpa := *record.Fields.GPA
		copied.Fields.GPA = &gpa
	}
	if record.Fields.GraduationDate != nil {
		date := *record.Fields.GraduationDate
		copied.Fields.GraduationDate = &date
	}
	if record.Fields.ConfidenceScore != nil {
		score := *record.Fields.ConfidenceScore
		copied.Fields.ConfidenceScore = &score
	}
	return &copied
}
