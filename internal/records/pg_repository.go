package records

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is satisfied by *pgxpool.Pool and by pgxmock pools in tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const recordColumns = `id, patient_id, title, type, notes, file_url, uploaded_by, last_updated_by, is_deleted, deleted_by, deleted_at, created_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record

	err := row.Scan(
		&r.ID,
		&r.PatientID,
		&r.Title,
		&r.Type,
		&r.Notes,
		&r.FileURL,
		&r.UploadedBy,
		&r.LastUpdatedBy,
		&r.IsDeleted,
		&r.DeletedBy,
		&r.DeletedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	return &r, nil
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+recordColumns+`
		FROM medical_records
		WHERE patient_id = $1 AND NOT is_deleted
		ORDER BY created_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM medical_records
		WHERE id = $1
	`, id)
	return scanRecord(row)
}

func (r *PgRepository) Create(ctx context.Context, in CreateInput, uploadedBy uuid.UUID) (*Record, error) {
	id := uuid.New()

	row := r.db.QueryRow(ctx, `
		INSERT INTO medical_records (id, patient_id, title, type, notes, file_url, uploaded_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+recordColumns+`
	`, id, in.PatientID, in.Title, in.Type, in.Notes, in.FileURL, uploadedBy)

	return scanRecord(row)
}

func (r *PgRepository) Update(ctx context.Context, id uuid.UUID, in UpdateInput, updatedBy uuid.UUID) (*Record, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE medical_records
		SET title = COALESCE($2, title),
		    type = COALESCE($3, type),
		    notes = COALESCE($4, notes),
		    last_updated_by = $5,
		    updated_at = now()
		WHERE id = $1 AND NOT is_deleted
		RETURNING `+recordColumns+`
	`, id, in.Title, in.Type, in.Notes, updatedBy)

	return scanRecord(row)
}

func (r *PgRepository) SoftDelete(ctx context.Context, id uuid.UUID, deletedBy uuid.UUID) (*Record, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE medical_records
		SET is_deleted = true,
		    deleted_by = $2,
		    deleted_at = now(),
		    updated_at = now()
		WHERE id = $1 AND NOT is_deleted
		RETURNING `+recordColumns+`
	`, id, deletedBy)

	return scanRecord(row)
}
