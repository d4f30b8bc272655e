// Package ledger is the append-only attendance store. It guarantees at most
// one record per (student, class, day), including under concurrent appends.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Method is how a student proved presence.
type Method string

const (
	MethodQR        Method = "qr"
	MethodPhoto     Method = "photo"
	MethodFace      Method = "face_verification"
	MethodBiometric Method = "biometric"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodQR, MethodPhoto, MethodFace, MethodBiometric:
		return true
	}
	return false
}

// StatusPresent is the only status the recorder writes.
const StatusPresent = "present"

// DateLayout is the calendar-day format used for Record.Date.
const DateLayout = "2006-01-02"

// Day formats t as a calendar day in UTC.
func Day(t time.Time) string { return t.UTC().Format(DateLayout) }

// Record is one presence entry.
type Record struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	ClassID    string    `json:"class_id"`
	Date       string    `json:"date"`
	Timestamp  time.Time `json:"timestamp"`
	Method     Method    `json:"method"`
	Status     string    `json:"status"`
	Location   *string   `json:"location,omitempty"`
	NetworkID  *string   `json:"network_id,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
}

func (r Record) validate() error {
	if r.StudentID == "" || r.ClassID == "" || r.Date == "" {
		return errors.New("ledger: student, class and date required")
	}
	if !r.Method.Valid() {
		return errors.New("ledger: unknown method " + string(r.Method))
	}
	return nil
}

// Filter selects records by equality on the set fields. From and To bound
// Date inclusively.
type Filter struct {
	ClassID   string
	StudentID string
	Date      string
	From      string
	To        string
}

// Match reports whether r satisfies f.
func (f Filter) Match(r Record) bool {
	switch {
	case f.ClassID != "" && r.ClassID != f.ClassID:
		return false
	case f.StudentID != "" && r.StudentID != f.StudentID:
		return false
	case f.Date != "" && r.Date != f.Date:
		return false
	case f.From != "" && r.Date < f.From:
		return false
	case f.To != "" && r.Date > f.To:
		return false
	}
	return true
}

// Ledger is implemented by every storage backend.
type Ledger interface {
	HasMarked(ctx context.Context, studentID, classID, date string) (bool, error)
	// Append inserts r unless a record for the same (student, class, date)
	// exists. It returns false, nil in that case.
	Append(ctx context.Context, r Record) (bool, error)
	Query(ctx context.Context, f Filter) ([]Record, error)
}
