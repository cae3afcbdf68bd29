// Package postgres persists certificate records and the processing log in
// PostgreSQL. The unique constraint on idempotency_key and conditional
// UPDATE ... WHERE status = $expected are the pipeline's only concurrency
// control; no advisory locks are taken.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"certvault/internal/certificate"
	"certvault/pkg/platform/sentinel"
)

// Clock is an injectable time source for testability.
type Clock func() time.Time

// Store is a PostgreSQL-backed certificate.Store.
type Store struct {
	db    *sql.DB
	clock Clock
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

// New constructs a PostgreSQL-backed store.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

const recordColumns = `id, idempotency_key, status, student_name, student_id, date_of_birth,
	certificate_type, degree_program, gpa, issuing_institution, graduation_date,
	transcript_number, confidence_score, document_locator, attempt_count, created_at, updated_at`

func (s *Store) UpsertIfAbsent(ctx context.Context, key certificate.Key, locator string) (*certificate.CertificateRecord, bool, error) {
	now := s.clock()
	id := uuid.New()
	query := `
		INSERT INTO certificate_records (id, idempotency_key, status, document_locator, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING ` + recordColumns
	record, err := s.scanRecord(s.db.QueryRowContext(ctx, query, id, string(key), certificate.StatusPending, locator, now))
	if err == nil {
		return record, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert certificate record: %w", err)
	}

	// Lost the insert race; the winner's row must exist by now.
	existing, err := s.getByKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Store) getByKey(ctx context.Context, key certificate.Key) (*certificate.CertificateRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM certificate_records WHERE idempotency_key = $1`
	record, err := s.scanRecord(s.db.QueryRowContext(ctx, query, string(key)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("certificate key %s: %w", key, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("select certificate by key: %w", err)
	}
	return record, nil
}

func (s *Store) TransitionStatus(ctx context.Context, id uuid.UUID, expected, next certificate.Status, mut certificate.Mutation) (bool, error) {
	if !certificate.CanTransition(expected, next) {
		return false, fmt.Errorf("transition %s -> %s: %w", expected, next, sentinel.ErrInvalidState)
	}

	set := []string{"status = $3", "updated_at = $4"}
	args := []any{id, expected, next, s.clock()}
	if mut.AttemptCount != nil {
		args = append(args, *mut.AttemptCount)
		set = append(set, fmt.Sprintf("attempt_count = $%d", len(args)))
	}
	if mut.Fields != nil {
		f := mut.Fields
		for _, col := range []struct {
			name  string
			value any
		}{
			{"student_name", nullString(f.StudentName)},
			{"student_id", nullString(f.StudentID)},
			{"date_of_birth", nullString(f.DateOfBirth)},
			{"certificate_type", nullString(f.CertificateType)},
			{"degree_program", nullString(f.DegreeProgram)},
			{"gpa", f.GPA},
			{"issuing_institution", nullString(f.IssuingInstitution)},
			{"graduation_date", f.GraduationDate},
			{"transcript_number", nullString(f.TranscriptNumber)},
			{"confidence_score", f.ConfidenceScore},
		} {
			args = append(args, col.value)
			set = append(set, fmt.Sprintf("%s = $%d", col.name, len(args)))
		}
	}

	query := "UPDATE certificate_records SET "
	for i, clause := range set {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += " WHERE id = $1 AND status = $2"

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return false, fmt.Errorf("certificate %s: %w", id, sentinel.ErrConflict)
		}
		return false, fmt.Errorf("transition certificate status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition certificate status: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*certificate.CertificateRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM certificate_records WHERE id = $1`
	record, err := s.scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("certificate %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("select certificate: %w", err)
	}
	return record, nil
}

func (s *Store) Search(ctx context.Context, filters certificate.SearchFilters) ([]*certificate.CertificateRecord, int, error) {
	where := "WHERE 1=1"
	var args []any
	if filters.StudentID != "" {
		args = append(args, filters.StudentID)
		where += fmt.Sprintf(" AND student_id = $%d", len(args))
	}
	if filters.StudentName != "" {
		args = append(args, "%"+filters.StudentName+"%")
		where += fmt.Sprintf(" AND student_name ILIKE $%d", len(args))
	}
	if filters.CertificateType != "" {
		args = append(args, filters.CertificateType)
		where += fmt.Sprintf(" AND certificate_type = $%d", len(args))
	}
	if filters.GraduationYear != 0 {
		args = append(args, filters.GraduationYear)
		where += fmt.Sprintf(" AND EXTRACT(YEAR FROM graduation_date) = $%d", len(args))
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM certificate_records " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count certificates: %w", err)
	}

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize
	query := `SELECT ` + recordColumns + ` FROM certificate_records ` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ` + strconv.Itoa(limit) + ` OFFSET ` + strconv.Itoa(offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search certificates: %w", err)
	}
	defer rows.Close()

	records := make([]*certificate.CertificateRecord, 0, limit)
	for rows.Next() {
		record, err := s.scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan certificate row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate certificate rows: %w", err)
	}
	return records, total, nil
}

func (s *Store) AppendLog(ctx context.Context, entry certificate.ProcessingLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.clock()
	}
	var certID any
	if entry.CertificateID != nil {
		certID = *entry.CertificateID
	}
	query := `
		INSERT INTO processing_log (id, certificate_id, occurred_at, message, outcome)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.db.ExecContext(ctx, query, entry.ID, certID, entry.Timestamp, entry.Message, entry.Outcome); err != nil {
		return fmt.Errorf("append processing log: %w", err)
	}
	return nil
}

func (s *Store) ListLog(ctx context.Context, certificateID uuid.UUID) ([]certificate.ProcessingLogEntry, error) {
	query := `
		SELECT id, certificate_id, occurred_at, message, outcome
		FROM processing_log
		WHERE certificate_id = $1
		ORDER BY occurred_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, certificateID)
	if err != nil {
		return nil, fmt.Errorf("list processing log: %w", err)
	}
	defer rows.Close()

	var entries []certificate.ProcessingLogEntry
	for rows.Next() {
		var entry certificate.ProcessingLogEntry
		var certID uuid.NullUUID
		if err := rows.Scan(&entry.ID, &certID, &entry.Timestamp, &entry.Message, &entry.Outcome); err != nil {
			return nil, fmt.Errorf("scan processing log row: %w", err)
		}
		if certID.Valid {
			id := certID.UUID
			entry.CertificateID = &id
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processing log rows: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRecord(row rowScanner) (*certificate.CertificateRecord, error) {
	var (
		record          certificate.CertificateRecord
		key             string
		studentName     sql.NullString
		studentID       sql.NullString
		dateOfBirth     sql.NullString
		certificateType sql.NullString
		degreeProgram   sql.NullString
		gpa             sql.NullFloat64
		institution     sql.NullString
		graduationDate  sql.NullTime
		transcriptNo    sql.NullString
		confidence      sql.NullFloat64
	)
	err := row.Scan(
		&record.ID, &key, &record.Status, &studentName, &studentID, &dateOfBirth,
		&certificateType, &degreeProgram, &gpa, &institution, &graduationDate,
		&transcriptNo, &confidence, &record.DocumentLocator, &record.AttemptCount,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.IdempotencyKey = certificate.Key(key)
	record.Fields.StudentName = studentName.String
	record.Fields.StudentID = studentID.String
	record.Fields.DateOfBirth = dateOfBirth.String
	record.Fields.CertificateType = certificateType.String
	record.Fields.DegreeProgram = degreeProgram.String
	record.Fields.IssuingInstitution = institution.String
	record.Fields.TranscriptNumber = transcriptNo.String
	if gpa.Valid {
		record.Fields.GPA = &gpa.Float64
	}
	if graduationDate.Valid {
		date := graduationDate.Time
		record.Fields.GraduationDate = &date
	}
	if confidence.Valid {
		record.Fields.ConfidenceScore = &confidence.Float64
	}
	return &record, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
