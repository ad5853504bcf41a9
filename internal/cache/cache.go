package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is a process-local read-through cache with a fixed TTL counted from
// insertion. Expiry is independent of explicit invalidation: a Delete that is
// never called still cannot keep an entry alive past the TTL.
//
// The clock is injectable so tests can drive expiry deterministically.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

type entry struct {
	value      any
	insertedAt time.Time
}

func New(ttl time.Duration) *Store {
	return NewWithClock(ttl, time.Now)
}

func NewWithClock(ttl time.Duration, now func() time.Time) *Store {
	return &Store{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     now,
	}
}

// Get returns the cached value for key, or false if the key is absent or its
// entry has outlived the TTL. Expired entries are dropped on access.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.now().Sub(e.insertedAt) >= s.ttl {
		delete(s.entries, key)
		return nil, false
	}
	return e.value, true
}

func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{value: value, insertedAt: s.now()}
}

// Delete removes the given keys. Missing keys are ignored.
func (s *Store) Delete(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.entries, k)
	}
}

// Len reports the number of entries, including any that have expired but not
// yet been swept by a Get.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Key builders. Every read path and its invalidating writes must agree on
// these, so they live here rather than in the callers.

func PatientAppointmentsKey(patientID uuid.UUID) string {
	return fmt.Sprintf("appointments:patient:%s", patientID)
}

func DoctorAppointmentsKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("appointments:doctor:%s", doctorID)
}

func RecordKey(recordID uuid.UUID) string {
	return fmt.Sprintf("record:%s", recordID)
}

func PatientRecordsKey(patientID uuid.UUID) string {
	return fmt.Sprintf("records:patient:%s", patientID)
}
