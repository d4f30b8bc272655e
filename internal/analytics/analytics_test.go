package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classattend/internal/directory"
	"classattend/internal/ledger"
)

func seed(t *testing.T, l ledger.Ledger, recs ...ledger.Record) {
	t.Helper()
	for _, r := range recs {
		ok, err := l.Append(context.Background(), r)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func rec(student, class, date string, m ledger.Method) ledger.Record {
	ts, _ := time.Parse(ledger.DateLayout, date)
	return ledger.Record{StudentID: student, ClassID: class, Date: date, Timestamp: ts.Add(10 * time.Hour), Method: m}
}

func TestReportSingleDay(t *testing.T) {
	l := ledger.NewMemory()
	seed(t, l,
		rec("STU001", "CS101", "2024-09-02", ledger.MethodQR),
		rec("STU002", "CS101", "2024-09-02", ledger.MethodQR),
		rec("STU003", "CS101", "2024-09-02", ledger.MethodPhoto),
	)

	rep, err := New(l, directory.Default()).Report(context.Background(), Filter{ClassID: "CS101"})
	require.NoError(t, err)

	assert.Equal(t, 3, rep.TotalRecords)
	assert.Equal(t, 3, rep.UniqueStudents)
	assert.Equal(t, Count{Present: 3, Total: 5, Rate: 60}, rep.ByDate["2024-09-02"])
	assert.Equal(t, 60.0, rep.OverallRate)
	assert.Equal(t, 2, rep.ByMethod[ledger.MethodQR])
	assert.Equal(t, 1, rep.ByMethod[ledger.MethodPhoto])
	assert.Equal(t, Count{Present: 1, Total: 1, Rate: 100}, rep.ByStudent["STU001"])
	assert.Equal(t, Count{Present: 0, Total: 1, Rate: 0}, rep.ByStudent["STU004"])
	assert.Equal(t, []string{"STU004", "STU005"}, rep.AtRisk)
}

func TestReportAcrossDaysAndRange(t *testing.T) {
	l := ledger.NewMemory()
	seed(t, l,
		rec("STU001", "CS101", "2024-09-02", ledger.MethodQR),
		rec("STU001", "CS101", "2024-09-04", ledger.MethodQR),
		rec("STU001", "CS101", "2024-09-06", ledger.MethodFace),
		rec("STU001", "CS101", "2024-09-09", ledger.MethodQR),
		rec("STU002", "CS101", "2024-09-02", ledger.MethodQR),
		rec("STU002", "CS101", "2024-09-04", ledger.MethodBiometric),
		rec("STU002", "CS101", "2024-09-06", ledger.MethodQR),
		rec("STU003", "CS101", "2024-09-02", ledger.MethodQR),
		rec("STU003", "MATH201", "2024-09-03", ledger.MethodQR),
	)
	a := New(l, directory.Default())

	rep, err := a.Report(context.Background(), Filter{ClassID: "CS101", From: "2024-09-02", To: "2024-09-06"})
	require.NoError(t, err)
	assert.Len(t, rep.ByDate, 3)
	assert.Equal(t, Count{Present: 3, Total: 3, Rate: 100}, rep.ByStudent["STU001"])
	assert.Equal(t, Count{Present: 3, Total: 3, Rate: 100}, rep.ByStudent["STU002"])
	assert.Equal(t, Count{Present: 1, Total: 3, Rate: 33.33}, rep.ByStudent["STU003"])
	assert.Equal(t, []string{"STU003", "STU004", "STU005"}, rep.AtRisk)
	// 7 of 15 expected attendances
	assert.Equal(t, 46.67, rep.OverallRate)

	all, err := a.Report(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 9, all.TotalRecords)
	assert.Equal(t, Count{Present: 1, Total: 5, Rate: 20}, all.ByDate["2024-09-03"])
	assert.Equal(t, Count{Present: 2, Total: 5, Rate: 40}, all.ByStudent["STU003"])
}

func TestReportEmpty(t *testing.T) {
	rep, err := New(ledger.NewMemory(), directory.Default()).Report(context.Background(), Filter{ClassID: "CS101"})
	require.NoError(t, err)
	assert.Zero(t, rep.TotalRecords)
	assert.Zero(t, rep.OverallRate)
	assert.Empty(t, rep.AtRisk)
}

func TestReportCountsStudentsOffRoster(t *testing.T) {
	dir := directory.New(
		[]directory.Student{{ID: "A"}, {ID: "B"}},
		[]directory.Class{{ID: "LAB", Roster: []string{"A"}}},
		nil,
	)
	l := ledger.NewMemory()
	seed(t, l,
		rec("A", "LAB", "2024-09-02", ledger.MethodQR),
		rec("B", "LAB", "2024-09-02", ledger.MethodQR),
	)

	rep, err := New(l, dir).Report(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, Count{Present: 2, Total: 2, Rate: 100}, rep.ByDate["2024-09-02"])
}

type failingLedger struct{ ledger.Ledger }

func (failingLedger) Query(context.Context, ledger.Filter) ([]ledger.Record, error) {
	return nil, errors.New("boom")
}

func TestReportPropagatesStorageError(t *testing.T) {
	_, err := New(failingLedger{}, directory.Default()).Report(context.Background(), Filter{})
	assert.Error(t, err)
	_, err = New(failingLedger{}, directory.Default()).Dashboard(context.Background(), time.Now())
	assert.Error(t, err)
}

func TestDashboard(t *testing.T) {
	l := ledger.NewMemory()
	seed(t, l,
		rec("STU001", "CS101", "2024-09-06", ledger.MethodQR),
		rec("STU001", "MATH201", "2024-09-06", ledger.MethodQR),
		rec("STU002", "CS101", "2024-09-06", ledger.MethodQR),
		rec("STU001", "CS101", "2024-09-04", ledger.MethodQR),
		rec("STU002", "CS101", "2024-09-04", ledger.MethodQR),
		rec("STU003", "CS101", "2024-09-04", ledger.MethodQR),
		rec("STU001", "CS101", "2024-08-20", ledger.MethodQR),
	)
	today := time.Date(2024, 9, 6, 15, 0, 0, 0, time.UTC)

	d, err := New(l, directory.Default()).Dashboard(context.Background(), today)
	require.NoError(t, err)

	assert.Equal(t, 5, d.TotalStudents)
	assert.Equal(t, 3, d.TotalClasses)
	assert.Equal(t, 2, d.TodayAttendance)
	assert.Equal(t, 40.0, d.TodayAttendanceRate)

	require.Len(t, d.WeeklyStats, 7)
	assert.Equal(t, "2024-08-31", d.WeeklyStats[0].Date)
	last := d.WeeklyStats[6]
	assert.Equal(t, "2024-09-06", last.Date)
	assert.Equal(t, "Fri", last.Day)
	assert.Equal(t, 2, last.Present)
	assert.Equal(t, 40.0, last.Rate)
	assert.Equal(t, 3, d.WeeklyStats[4].Present)

	// two held days: STU003 attended one, STU004 and STU005 none
	assert.Equal(t, 3, d.AtRiskStudentsCount)
	ids := make([]string, 0, len(d.AtRiskStudents))
	for _, s := range d.AtRiskStudents {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"STU003", "STU004", "STU005"}, ids)
}

func TestRate(t *testing.T) {
	assert.Equal(t, 0.0, rate(3, 0))
	assert.Equal(t, 66.67, rate(2, 3))
	assert.Equal(t, 100.0, rate(4, 4))
}
