package records

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/telehealth-booking/internal/cache"
)

type Service struct {
	repo  Repository
	cache *cache.Store
	log   zerolog.Logger
}

func NewService(repo Repository, store *cache.Store, log zerolog.Logger) *Service {
	return &Service{repo: repo, cache: store, log: log}
}

// ListByPatient returns the patient's visible records, cache-first.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Record, error) {
	key := cache.PatientRecordsKey(patientID)
	if cached, ok := s.cache.Get(key); ok {
		if recs, ok := cached.([]Record); ok {
			return recs, nil
		}
	}

	recs, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	s.cache.Set(key, recs)
	return recs, nil
}

// Get returns one record, cache-first. Soft-deleted records read as missing.
func (s *Service) Get(ctx context.Context, recordID uuid.UUID) (*Record, error) {
	key := cache.RecordKey(recordID)
	if cached, ok := s.cache.Get(key); ok {
		if rec, ok := cached.(*Record); ok {
			return rec, nil
		}
	}

	rec, err := s.repo.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.IsDeleted {
		return nil, ErrRecordNotFound
	}

	s.cache.Set(key, rec)
	return rec, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput, uploadedBy uuid.UUID) (*Record, error) {
	rec, err := s.repo.Create(ctx, in, uploadedBy)
	if err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}

	s.cache.Delete(cache.PatientRecordsKey(in.PatientID))
	return rec, nil
}

// Update mutates a record, re-primes its single-record cache entry with the
// fresh value, and invalidates the patient's list.
func (s *Service) Update(ctx context.Context, recordID uuid.UUID, in UpdateInput, updatedBy uuid.UUID) (*Record, error) {
	rec, err := s.repo.Update(ctx, recordID, in, updatedBy)
	if err != nil {
		return nil, err
	}

	s.cache.Set(cache.RecordKey(recordID), rec)
	s.cache.Delete(cache.PatientRecordsKey(rec.PatientID))
	return rec, nil
}

func (s *Service) Delete(ctx context.Context, recordID uuid.UUID, deletedBy uuid.UUID) (*Record, error) {
	rec, err := s.repo.SoftDelete(ctx, recordID, deletedBy)
	if err != nil {
		return nil, err
	}

	s.cache.Delete(
		cache.RecordKey(recordID),
		cache.PatientRecordsKey(rec.PatientID),
	)
	return rec, nil
}

// FileURL returns the stored file location for a visible record.
func (s *Service) FileURL(ctx context.Context, recordID uuid.UUID) (*string, error) {
	rec, err := s.repo.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.IsDeleted {
		return nil, ErrRecordNotFound
	}
	return rec.FileURL, nil
}
