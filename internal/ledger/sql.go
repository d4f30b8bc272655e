package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dialect selects placeholder style and schema types.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS attendance_records (
	id          TEXT PRIMARY KEY,
	student_id  TEXT NOT NULL,
	class_id    TEXT NOT NULL,
	day         TEXT NOT NULL,
	recorded_at DATETIME NOT NULL,
	method      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'present',
	location    TEXT,
	network_id  TEXT,
	confidence  REAL,
	UNIQUE (student_id, class_id, day)
);
CREATE INDEX IF NOT EXISTS idx_attendance_class_day ON attendance_records(class_id, day);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS attendance_records (
	id          TEXT PRIMARY KEY,
	student_id  TEXT NOT NULL,
	class_id    TEXT NOT NULL,
	day         TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	method      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'present',
	location    TEXT,
	network_id  TEXT,
	confidence  DOUBLE PRECISION,
	UNIQUE (student_id, class_id, day)
);
CREATE INDEX IF NOT EXISTS idx_attendance_class_day ON attendance_records(class_id, day);
`

const selectColumns = `SELECT id, student_id, class_id, day, recorded_at, method, status, location, network_id, confidence FROM attendance_records`

// SQL persists the ledger in SQLite or Postgres. The unique constraint on
// (student_id, class_id, day) is the serialization point for appends.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQL wraps an open database handle.
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect}
}

// Migrate creates the table and index if missing.
func (s *SQL) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == Postgres {
		schema = postgresSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
	}
	return nil
}

func (s *SQL) placeholder(n int) string {
	if s.dialect == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQL) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

// HasMarked reports whether a record exists for the key.
func (s *SQL) HasMarked(ctx context.Context, studentID, classID, date string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM attendance_records
			WHERE student_id = %s AND class_id = %s AND day = %s
		)`, s.placeholder(1), s.placeholder(2), s.placeholder(3)),
		studentID, classID, date).Scan(&exists)
	return exists, err
}

// Append inserts r, relying on ON CONFLICT to drop duplicates atomically.
func (s *SQL) Append(ctx context.Context, r Record) (bool, error) {
	if err := r.validate(); err != nil {
		return false, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = StatusPresent
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, class_id, day, recorded_at, method, status, location, network_id, confidence)
		VALUES (`+s.placeholders(10)+`)
		ON CONFLICT (student_id, class_id, day) DO NOTHING`,
		r.ID, r.StudentID, r.ClassID, r.Date, r.Timestamp.UTC(), string(r.Method), r.Status, r.Location, r.NetworkID, r.Confidence)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Query returns matching records ordered by time.
func (s *SQL) Query(ctx context.Context, f Filter) ([]Record, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v string) {
		args = append(args, v)
		clauses = append(clauses, clause+" "+s.placeholder(len(args)))
	}
	if f.ClassID != "" {
		add("class_id =", f.ClassID)
	}
	if f.StudentID != "" {
		add("student_id =", f.StudentID)
	}
	if f.Date != "" {
		add("day =", f.Date)
	}
	if f.From != "" {
		add("day >=", f.From)
	}
	if f.To != "" {
		add("day <=", f.To)
	}
	query := selectColumns
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY recorded_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			r      Record
			method string
		)
		if err := rows.Scan(&r.ID, &r.StudentID, &r.ClassID, &r.Date, &r.Timestamp, &method, &r.Status, &r.Location, &r.NetworkID, &r.Confidence); err != nil {
			return nil, err
		}
		r.Method = Method(method)
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
