package ledger

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLite(t *testing.T) *SQL {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	l := NewSQL(db, SQLite)
	require.NoError(t, l.Migrate(context.Background()))
	return l
}

func backends(t *testing.T) map[string]func(t *testing.T) Ledger {
	b := map[string]func(t *testing.T) Ledger{
		"memory": func(t *testing.T) Ledger { return NewMemory() },
		"sqlite": func(t *testing.T) Ledger { return setupSQLite(t) },
	}
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		b["postgres"] = func(t *testing.T) Ledger {
			db, err := sql.Open("pgx", dsn)
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			l := NewSQL(db, Postgres)
			require.NoError(t, l.Migrate(context.Background()))
			_, err = db.Exec(`TRUNCATE attendance_records`)
			require.NoError(t, err)
			return l
		}
	}
	return b
}

func record(student, class, date string) Record {
	return Record{
		StudentID: student,
		ClassID:   class,
		Date:      date,
		Timestamp: time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC),
		Method:    MethodQR,
		Status:    StatusPresent,
	}
}

func TestLedgerAppendIsIdempotent(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := open(t)

			ok, err := l.Append(ctx, record("STU001", "CS101", "2024-09-02"))
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = l.Append(ctx, record("STU001", "CS101", "2024-09-02"))
			require.NoError(t, err)
			assert.False(t, ok)

			marked, err := l.HasMarked(ctx, "STU001", "CS101", "2024-09-02")
			require.NoError(t, err)
			assert.True(t, marked)

			marked, err = l.HasMarked(ctx, "STU001", "CS101", "2024-09-03")
			require.NoError(t, err)
			assert.False(t, marked)

			recs, err := l.Query(ctx, Filter{StudentID: "STU001"})
			require.NoError(t, err)
			assert.Len(t, recs, 1)
		})
	}
}

func TestLedgerConcurrentAppend(t *testing.T) {
	const n = 50
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := open(t)

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				appended int
				errs     []error
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := l.Append(ctx, record("STU001", "CS101", "2024-09-02"))
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = append(errs, err)
					}
					if ok {
						appended++
					}
				}()
			}
			wg.Wait()

			assert.Empty(t, errs)
			assert.Equal(t, 1, appended)
			recs, err := l.Query(ctx, Filter{ClassID: "CS101"})
			require.NoError(t, err)
			assert.Len(t, recs, 1)
		})
	}
}

func TestLedgerQueryFilters(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := open(t)

			conf := 0.91
			net := "CollegeWiFi"
			photo := record("STU002", "CS101", "2024-09-03")
			photo.Method = MethodPhoto
			photo.Confidence = &conf
			qr := record("STU001", "MATH201", "2024-09-04")
			qr.NetworkID = &net

			for _, r := range []Record{record("STU001", "CS101", "2024-09-02"), photo, qr} {
				ok, err := l.Append(ctx, r)
				require.NoError(t, err)
				require.True(t, ok)
			}

			tests := []struct {
				name   string
				filter Filter
				want   int
			}{
				{"all", Filter{}, 3},
				{"class", Filter{ClassID: "CS101"}, 2},
				{"student", Filter{StudentID: "STU001"}, 2},
				{"date", Filter{Date: "2024-09-03"}, 1},
				{"class and student", Filter{ClassID: "CS101", StudentID: "STU001"}, 1},
				{"range", Filter{From: "2024-09-03", To: "2024-09-04"}, 2},
				{"none", Filter{ClassID: "ENG101"}, 0},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					recs, err := l.Query(ctx, tt.filter)
					require.NoError(t, err)
					assert.Len(t, recs, tt.want)
				})
			}

			recs, err := l.Query(ctx, Filter{StudentID: "STU002"})
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, MethodPhoto, recs[0].Method)
			require.NotNil(t, recs[0].Confidence)
			assert.InDelta(t, 0.91, *recs[0].Confidence, 1e-9)
			assert.Nil(t, recs[0].NetworkID)
			assert.NotEmpty(t, recs[0].ID)
		})
	}
}

func TestLedgerRejectsInvalidRecord(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			l := open(t)
			bad := record("", "CS101", "2024-09-02")
			_, err := l.Append(context.Background(), bad)
			assert.Error(t, err)

			bad = record("STU001", "CS101", "2024-09-02")
			bad.Method = "smoke_signal"
			_, err = l.Append(context.Background(), bad)
			assert.Error(t, err)
		})
	}
}

func TestFilterMatch(t *testing.T) {
	r := record("STU001", "CS101", "2024-09-02")
	assert.True(t, Filter{}.Match(r))
	assert.True(t, Filter{From: "2024-09-02", To: "2024-09-02"}.Match(r))
	assert.False(t, Filter{From: "2024-09-03"}.Match(r))
	assert.False(t, Filter{To: "2024-09-01"}.Match(r))
}
