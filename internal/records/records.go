// Package records is the medical-record read/write path. File contents live
// in external storage; this service only tracks the record row and its URL.
package records

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrRecordNotFound = errors.New("record not found")

type Record struct {
	ID            uuid.UUID  `json:"recordId"`
	PatientID     uuid.UUID  `json:"patientId"`
	Title         string     `json:"title"`
	Type          string     `json:"type"`
	Notes         string     `json:"notes"`
	FileURL       *string    `json:"fileUrl,omitempty"`
	UploadedBy    uuid.UUID  `json:"uploadedBy"`
	LastUpdatedBy *uuid.UUID `json:"lastUpdatedBy,omitempty"`
	IsDeleted     bool       `json:"-"`
	DeletedBy     *uuid.UUID `json:"-"`
	DeletedAt     *time.Time `json:"-"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type CreateInput struct {
	PatientID uuid.UUID
	Title     string
	Type      string
	Notes     string
	FileURL   *string
}

// UpdateInput carries the mutable fields; nil means leave unchanged.
type UpdateInput struct {
	Title *string
	Type  *string
	Notes *string
}

type Repository interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Record, error)
	// GetByID returns soft-deleted rows too; callers decide visibility.
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	Create(ctx context.Context, in CreateInput, uploadedBy uuid.UUID) (*Record, error)
	Update(ctx context.Context, id uuid.UUID, in UpdateInput, updatedBy uuid.UUID) (*Record, error)
	SoftDelete(ctx context.Context, id uuid.UUID, deletedBy uuid.UUID) (*Record, error)
}
