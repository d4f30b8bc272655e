// Package analytics computes read-only attendance projections from a full
// ledger scan on every call.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"classattend/internal/directory"
	"classattend/internal/ledger"
)

// AtRiskThreshold is the attendance rate, in percent, below which a student is flagged.
const AtRiskThreshold = 75.0

// Directory is the enrollment data the aggregator needs.
type Directory interface {
	Students(ctx context.Context) ([]directory.Student, error)
	Classes(ctx context.Context) ([]directory.Class, error)
	Roster(ctx context.Context, classID string) ([]string, error)
}

// Filter narrows a report to one class and an inclusive date range.
type Filter struct {
	ClassID string
	From    string
	To      string
}

// Count is a present/total pair with its rate in percent.
type Count struct {
	Present int     `json:"present"`
	Total   int     `json:"total"`
	Rate    float64 `json:"rate"`
}

// Report is the analytics projection for a filter.
type Report struct {
	TotalRecords   int                   `json:"totalRecords"`
	UniqueStudents int                   `json:"uniqueStudents"`
	OverallRate    float64               `json:"overallAttendanceRate"`
	ByDate         map[string]Count      `json:"attendanceByDate"`
	ByMethod       map[ledger.Method]int `json:"attendanceByMethod"`
	ByStudent      map[string]Count      `json:"studentAttendance"`
	AtRisk         []string              `json:"atRiskStudents"`
}

// DayStat is one point of the weekly series.
type DayStat struct {
	Date    string  `json:"date"`
	Day     string  `json:"day"`
	Present int     `json:"present"`
	Total   int     `json:"total"`
	Rate    float64 `json:"rate"`
}

// Dashboard is the landing-page summary.
type Dashboard struct {
	TotalStudents       int                 `json:"totalStudents"`
	TotalClasses        int                 `json:"totalClasses"`
	TodayAttendance     int                 `json:"todayAttendance"`
	TodayAttendanceRate float64             `json:"todayAttendanceRate"`
	AtRiskStudentsCount int                 `json:"atRiskStudentsCount"`
	WeeklyStats         []DayStat           `json:"weeklyStats"`
	AtRiskStudents      []directory.Student `json:"atRiskStudents"`
}

// Aggregator builds projections over a ledger.
type Aggregator struct {
	ledger ledger.Ledger
	dir    Directory
}

// New creates an aggregator.
func New(l ledger.Ledger, dir Directory) *Aggregator {
	return &Aggregator{ledger: l, dir: dir}
}

type held struct{ date, class string }

// Report computes per-date, per-method and per-student counts. A (date, class)
// pair with at least one record counts as a held session; every student on that
// class roster is expected to attend it.
func (a *Aggregator) Report(ctx context.Context, f Filter) (Report, error) {
	recs, err := a.ledger.Query(ctx, ledger.Filter{ClassID: f.ClassID, From: f.From, To: f.To})
	if err != nil {
		return Report{}, fmt.Errorf("query ledger: %w", err)
	}

	rep := Report{
		TotalRecords: len(recs),
		ByDate:       map[string]Count{},
		ByMethod:     map[ledger.Method]int{},
		ByStudent:    map[string]Count{},
		AtRisk:       []string{},
	}

	present := make(map[held]map[string]bool)
	for _, r := range recs {
		k := held{r.Date, r.ClassID}
		if present[k] == nil {
			present[k] = map[string]bool{}
		}
		present[k][r.StudentID] = true
		rep.ByMethod[r.Method]++
	}

	rosters := map[string][]string{}
	for k, attendees := range present {
		roster, ok := rosters[k.class]
		if !ok {
			roster, err = a.dir.Roster(ctx, k.class)
			if err != nil && !errors.Is(err, directory.ErrNotFound) {
				return Report{}, fmt.Errorf("load roster %s: %w", k.class, err)
			}
			rosters[k.class] = roster
		}
		expected := make(map[string]bool, len(roster)+len(attendees))
		for _, id := range roster {
			expected[id] = true
		}
		// students marked present but missing from the roster still count
		for id := range attendees {
			expected[id] = true
		}

		day := rep.ByDate[k.date]
		for id := range expected {
			st := rep.ByStudent[id]
			st.Total++
			day.Total++
			if attendees[id] {
				st.Present++
				day.Present++
			}
			rep.ByStudent[id] = st
		}
		rep.ByDate[k.date] = day
	}

	var sumPresent, sumTotal int
	for date, c := range rep.ByDate {
		c.Rate = rate(c.Present, c.Total)
		rep.ByDate[date] = c
		sumPresent += c.Present
		sumTotal += c.Total
	}
	for id, c := range rep.ByStudent {
		c.Rate = rate(c.Present, c.Total)
		rep.ByStudent[id] = c
		if c.Present > 0 {
			rep.UniqueStudents++
		}
		if c.Rate < AtRiskThreshold {
			rep.AtRisk = append(rep.AtRisk, id)
		}
	}
	sort.Strings(rep.AtRisk)
	rep.OverallRate = rate(sumPresent, sumTotal)
	return rep, nil
}

// Dashboard summarizes today and the seven days ending today. Daily presence
// counts distinct students with any record, against the whole enrollment.
func (a *Aggregator) Dashboard(ctx context.Context, today time.Time) (Dashboard, error) {
	students, err := a.dir.Students(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("list students: %w", err)
	}
	classes, err := a.dir.Classes(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("list classes: %w", err)
	}

	today = today.UTC()
	from := ledger.Day(today.AddDate(0, 0, -6))
	to := ledger.Day(today)
	recs, err := a.ledger.Query(ctx, ledger.Filter{From: from, To: to})
	if err != nil {
		return Dashboard{}, fmt.Errorf("query ledger: %w", err)
	}

	daily := map[string]map[string]bool{}
	for _, r := range recs {
		if daily[r.Date] == nil {
			daily[r.Date] = map[string]bool{}
		}
		daily[r.Date][r.StudentID] = true
	}

	total := len(students)
	d := Dashboard{
		TotalStudents:   total,
		TotalClasses:    len(classes),
		TodayAttendance: len(daily[to]),
		WeeklyStats:     make([]DayStat, 0, 7),
		AtRiskStudents:  []directory.Student{},
	}
	d.TodayAttendanceRate = round(rate(d.TodayAttendance, total), 1)

	heldDays := 0
	for i := 6; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		date := ledger.Day(day)
		n := len(daily[date])
		if n > 0 {
			heldDays++
		}
		d.WeeklyStats = append(d.WeeklyStats, DayStat{
			Date:    date,
			Day:     day.Weekday().String()[:3],
			Present: n,
			Total:   total,
			Rate:    rate(n, total),
		})
	}

	if heldDays > 0 {
		for _, s := range students {
			days := 0
			for _, attendees := range daily {
				if attendees[s.ID] {
					days++
				}
			}
			if rate(days, heldDays) < AtRiskThreshold {
				d.AtRiskStudentsCount++
				if len(d.AtRiskStudents) < 5 {
					d.AtRiskStudents = append(d.AtRiskStudents, s)
				}
			}
		}
	}
	return d, nil
}

// rate returns present/total in percent rounded to two decimals, 0 when total is 0.
func rate(present, total int) float64 {
	if total <= 0 {
		return 0
	}
	return round(float64(present)/float64(total)*100, 2)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
