package attendance

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"classattend/internal/directory"
	"classattend/internal/ledger"
	"classattend/internal/session"
)

// ConfidenceThreshold is the recognition score a photo candidate must exceed.
const ConfidenceThreshold = 0.85

// DefaultVerifyTimeout bounds a single oracle call.
const DefaultVerifyTimeout = 20 * time.Second

// Outcome is the successful result of a redemption.
type Outcome string

const (
	OutcomeCommitted     Outcome = "committed"
	OutcomeAlreadyMarked Outcome = "already_marked"
)

// Evidence is whatever the student's device captured alongside the scan.
type Evidence struct {
	ImageURL   string
	Credential string
	Location   string
	NetworkID  string
}

// VerificationContext is the claim forwarded to a verification oracle.
type VerificationContext struct {
	ClassID   string
	Token     string
	StudentID string
	Method    ledger.Method
	Evidence  Evidence
}

// Verifier is the face/biometric oracle. It answers allow or deny.
// Implementations must return once ctx is done; the recorder stops waiting
// at the verify timeout but cannot stop a call that ignores ctx.
type Verifier interface {
	Verify(ctx context.Context, vc VerificationContext) (bool, error)
}

// Sessions is the subset of the session registry the recorder uses.
type Sessions interface {
	Issue(ctx context.Context, classID, issuedBy string) (session.Session, error)
	Validate(ctx context.Context, classID, token string, now time.Time) (session.Session, error)
	Revoke(ctx context.Context, classID, token string) error
}

// Directory resolves enrollment and class identifiers.
type Directory interface {
	Student(ctx context.Context, id string) (directory.Student, error)
	Class(ctx context.Context, id string) (directory.Class, error)
	Teacher(ctx context.Context, id string) (directory.Teacher, error)
	Roster(ctx context.Context, classID string) ([]string, error)
}

// Observer receives lifecycle events, typically for metrics.
type Observer interface {
	SessionIssued(classID string)
	Redemption(method ledger.Method, result string)
	Verification(method ledger.Method, d time.Duration, allowed bool)
}

type nopObserver struct{}

func (nopObserver) SessionIssued(string)                            {}
func (nopObserver) Redemption(ledger.Method, string)                {}
func (nopObserver) Verification(ledger.Method, time.Duration, bool) {}

// Request is one student's redemption attempt.
type Request struct {
	ClassID   string
	Token     string
	StudentID string
	Method    ledger.Method
	Evidence  Evidence
}

// Result is returned for Committed and AlreadyMarked outcomes.
type Result struct {
	Outcome Outcome       `json:"outcome"`
	Record  ledger.Record `json:"record"`
}

// Candidate is one recognized face from a class photo.
type Candidate struct {
	StudentID  string  `json:"student_id"`
	Confidence float64 `json:"confidence"`
}

// BatchResult summarizes a photo redemption.
type BatchResult struct {
	MarkedStudents  []string `json:"markedStudents"`
	AlreadyMarked   []string `json:"alreadyMarked"`
	Skipped         []string `json:"skipped"`
	TotalCandidates int      `json:"totalCandidates"`
}

// RosterStatus splits a class roster into marked and unmarked students for a day.
type RosterStatus struct {
	ClassID  string   `json:"class_id"`
	Date     string   `json:"date"`
	Marked   []string `json:"marked"`
	Unmarked []string `json:"unmarked"`
	Total    int      `json:"total"`
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithCampusNetworks sets the network identifiers accepted for QR redemption.
func WithCampusNetworks(ids []string) Option {
	return func(s *Service) {
		s.campus = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				s.campus[id] = struct{}{}
			}
		}
	}
}

// WithVerifyTimeout bounds oracle calls.
func WithVerifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.verifyTimeout = d
		}
	}
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// Service is the attendance recorder. It validates redemptions against the
// session registry and commits them to the ledger.
type Service struct {
	sessions      Sessions
	ledger        ledger.Ledger
	dir           Directory
	verifier      Verifier
	observer      Observer
	log           *slog.Logger
	campus        map[string]struct{}
	verifyTimeout time.Duration
	now           func() time.Time
}

// NewService wires the recorder. verifier may be nil, in which case every
// face and biometric redemption is denied.
func NewService(sessions Sessions, l ledger.Ledger, dir Directory, verifier Verifier, opts ...Option) *Service {
	s := &Service{
		sessions:      sessions,
		ledger:        l,
		dir:           dir,
		verifier:      verifier,
		observer:      nopObserver{},
		log:           slog.Default(),
		verifyTimeout: DefaultVerifyTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
	WithCampusNetworks([]string{"CollegeWiFi", "Campus-Network", "EduNet"})(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueSession creates a redeemable session for an existing class. A
// non-empty teacherID must be a known teacher and is stored on the session.
func (s *Service) IssueSession(ctx context.Context, classID, teacherID string) (session.Session, error) {
	if classID == "" {
		return session.Session{}, malformed("class id required")
	}
	if err := s.classExists(ctx, classID); err != nil {
		return session.Session{}, err
	}
	if teacherID != "" {
		if _, err := s.dir.Teacher(ctx, teacherID); err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				return session.Session{}, malformed("unknown teacher " + teacherID)
			}
			return session.Session{}, unavailable("lookup teacher", err)
		}
	}
	sess, err := s.sessions.Issue(ctx, classID, teacherID)
	if err != nil {
		return session.Session{}, unavailable("issue session", err)
	}
	s.observer.SessionIssued(classID)
	s.log.Info("session issued", "class_id", classID, "issued_by", teacherID, "expires_at", sess.ExpiresAt)
	return sess, nil
}

// RevokeSession ends a session before its TTL.
func (s *Service) RevokeSession(ctx context.Context, classID, token string) error {
	err := s.sessions.Revoke(ctx, classID, token)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound):
		return ErrInvalidSession
	default:
		return unavailable("revoke session", err)
	}
}

// Redeem runs one attempt through the session, method, duplicate and commit
// gates in that order. The first failing gate decides the error.
func (s *Service) Redeem(ctx context.Context, req Request) (Result, error) {
	res, err := s.redeem(ctx, req)
	if err != nil {
		s.observer.Redemption(req.Method, Reason(err))
		s.log.Info("redemption rejected", "class_id", req.ClassID, "student_id", req.StudentID,
			"method", req.Method, "reason", Reason(err))
		return Result{}, err
	}
	s.observer.Redemption(req.Method, string(res.Outcome))
	s.log.Info("redemption accepted", "class_id", req.ClassID, "student_id", req.StudentID,
		"method", req.Method, "outcome", res.Outcome)
	return res, nil
}

func (s *Service) redeem(ctx context.Context, req Request) (Result, error) {
	switch {
	case req.ClassID == "" || req.Token == "":
		return Result{}, malformed("class id and token required")
	case req.StudentID == "":
		return Result{}, malformed("student id required")
	case !req.Method.Valid():
		return Result{}, malformed("unknown method " + string(req.Method))
	case req.Method == ledger.MethodPhoto:
		return Result{}, malformed("photo attendance is recorded in batch")
	}

	now := s.now()
	if _, err := s.sessions.Validate(ctx, req.ClassID, req.Token, now); err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			return Result{}, ErrInvalidSession
		case errors.Is(err, session.ErrExpired):
			return Result{}, ErrSessionExpired
		default:
			return Result{}, unavailable("validate session", err)
		}
	}
	if err := s.studentExists(ctx, req.StudentID); err != nil {
		return Result{}, err
	}

	switch req.Method {
	case ledger.MethodQR:
		if id := req.Evidence.NetworkID; id != "" {
			if _, ok := s.campus[id]; !ok {
				return Result{}, ErrOffCampus
			}
		}
	case ledger.MethodFace, ledger.MethodBiometric:
		if err := s.verify(ctx, VerificationContext{
			ClassID:   req.ClassID,
			Token:     req.Token,
			StudentID: req.StudentID,
			Method:    req.Method,
			Evidence:  req.Evidence,
		}); err != nil {
			return Result{}, err
		}
	}

	rec := ledger.Record{
		StudentID: req.StudentID,
		ClassID:   req.ClassID,
		Date:      ledger.Day(now),
		Timestamp: now,
		Method:    req.Method,
		Status:    ledger.StatusPresent,
		Location:  optional(req.Evidence.Location),
		NetworkID: optional(req.Evidence.NetworkID),
	}
	return s.commit(ctx, rec)
}

type verdict struct {
	allowed bool
	err     error
}

// verify asks the oracle and gives up after verifyTimeout even if the oracle
// ignores its context.
func (s *Service) verify(ctx context.Context, vc VerificationContext) error {
	if s.verifier == nil {
		return ErrVerificationFailed
	}
	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan verdict, 1)
	go func() {
		ok, err := s.verifier.Verify(vctx, vc)
		done <- verdict{allowed: ok, err: err}
	}()

	var v verdict
	select {
	case v = <-done:
	case <-vctx.Done():
		v = verdict{err: vctx.Err()}
	}
	s.observer.Verification(vc.Method, time.Since(start), v.err == nil && v.allowed)
	if v.err != nil {
		s.log.Warn("verification error", "student_id", vc.StudentID, "method", vc.Method, "err", v.err)
		return ErrVerificationFailed
	}
	if !v.allowed {
		return ErrVerificationFailed
	}
	return nil
}

// commit is the duplicate gate plus append. A lost race inside Append lands
// on the same AlreadyMarked outcome as the explicit check.
func (s *Service) commit(ctx context.Context, rec ledger.Record) (Result, error) {
	marked, err := s.ledger.HasMarked(ctx, rec.StudentID, rec.ClassID, rec.Date)
	if err != nil {
		return Result{}, unavailable("check ledger", err)
	}
	if marked {
		return s.alreadyMarked(ctx, rec), nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	ok, err := s.ledger.Append(ctx, rec)
	if err != nil {
		return Result{}, unavailable("append record", err)
	}
	if !ok {
		return s.alreadyMarked(ctx, rec), nil
	}
	return Result{Outcome: OutcomeCommitted, Record: rec}, nil
}

func (s *Service) alreadyMarked(ctx context.Context, rec ledger.Record) Result {
	existing, err := s.ledger.Query(ctx, ledger.Filter{
		StudentID: rec.StudentID,
		ClassID:   rec.ClassID,
		Date:      rec.Date,
	})
	if err != nil {
		s.log.Warn("load existing record failed", "student_id", rec.StudentID, "class_id", rec.ClassID, "err", err)
		return Result{Outcome: OutcomeAlreadyMarked}
	}
	if len(existing) == 0 {
		return Result{Outcome: OutcomeAlreadyMarked}
	}
	return Result{Outcome: OutcomeAlreadyMarked, Record: existing[0]}
}

// BatchRedeem records the candidates of a class photo. Each candidate above
// ConfidenceThreshold is committed independently; unknown students are skipped.
// On a storage fault the partial result is returned with the error.
func (s *Service) BatchRedeem(ctx context.Context, classID, teacherID string, candidates []Candidate) (BatchResult, error) {
	out := BatchResult{
		MarkedStudents:  []string{},
		AlreadyMarked:   []string{},
		Skipped:         []string{},
		TotalCandidates: len(candidates),
	}
	if classID == "" || teacherID == "" {
		return out, malformed("class id and teacher id required")
	}
	if err := s.classExists(ctx, classID); err != nil {
		return out, err
	}
	if _, err := s.dir.Teacher(ctx, teacherID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return out, malformed("unknown teacher " + teacherID)
		}
		return out, unavailable("lookup teacher", err)
	}

	for _, c := range candidates {
		if c.StudentID == "" || !(c.Confidence > ConfidenceThreshold) {
			out.Skipped = append(out.Skipped, c.StudentID)
			s.observer.Redemption(ledger.MethodPhoto, "low_confidence")
			continue
		}
		if err := s.studentExists(ctx, c.StudentID); err != nil {
			if errors.Is(err, ErrMalformedRequest) {
				out.Skipped = append(out.Skipped, c.StudentID)
				s.observer.Redemption(ledger.MethodPhoto, Reason(err))
				continue
			}
			return out, err
		}
		now := s.now()
		conf := c.Confidence
		res, err := s.commit(ctx, ledger.Record{
			StudentID:  c.StudentID,
			ClassID:    classID,
			Date:       ledger.Day(now),
			Timestamp:  now,
			Method:     ledger.MethodPhoto,
			Status:     ledger.StatusPresent,
			Confidence: &conf,
		})
		if err != nil {
			s.observer.Redemption(ledger.MethodPhoto, Reason(err))
			return out, err
		}
		s.observer.Redemption(ledger.MethodPhoto, string(res.Outcome))
		if res.Outcome == OutcomeCommitted {
			out.MarkedStudents = append(out.MarkedStudents, c.StudentID)
		} else {
			out.AlreadyMarked = append(out.AlreadyMarked, c.StudentID)
		}
	}
	s.log.Info("photo attendance processed", "class_id", classID, "teacher_id", teacherID,
		"candidates", len(candidates), "marked", len(out.MarkedStudents))
	return out, nil
}

// QueryAttendance returns matching records ordered by timestamp.
func (s *Service) QueryAttendance(ctx context.Context, f ledger.Filter) ([]ledger.Record, error) {
	recs, err := s.ledger.Query(ctx, f)
	if err != nil {
		return nil, unavailable("query ledger", err)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.Before(recs[j].Timestamp) })
	if recs == nil {
		recs = []ledger.Record{}
	}
	return recs, nil
}

// UnmarkedRoster compares a class roster with the ledger for date. An empty
// date means today.
func (s *Service) UnmarkedRoster(ctx context.Context, classID, date string) (RosterStatus, error) {
	if date == "" {
		date = ledger.Day(s.now())
	} else if _, err := time.Parse(ledger.DateLayout, date); err != nil {
		return RosterStatus{}, malformed("date must be YYYY-MM-DD")
	}
	roster, err := s.dir.Roster(ctx, classID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return RosterStatus{}, malformed("unknown class " + classID)
		}
		return RosterStatus{}, unavailable("load roster", err)
	}
	recs, err := s.ledger.Query(ctx, ledger.Filter{ClassID: classID, Date: date})
	if err != nil {
		return RosterStatus{}, unavailable("query ledger", err)
	}
	present := make(map[string]bool, len(recs))
	for _, r := range recs {
		present[r.StudentID] = true
	}
	st := RosterStatus{ClassID: classID, Date: date, Marked: []string{}, Unmarked: []string{}, Total: len(roster)}
	for _, id := range roster {
		if present[id] {
			st.Marked = append(st.Marked, id)
		} else {
			st.Unmarked = append(st.Unmarked, id)
		}
	}
	return st, nil
}

func (s *Service) classExists(ctx context.Context, classID string) error {
	if _, err := s.dir.Class(ctx, classID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return malformed("unknown class " + classID)
		}
		return unavailable("lookup class", err)
	}
	return nil
}

func (s *Service) studentExists(ctx context.Context, studentID string) error {
	if _, err := s.dir.Student(ctx, studentID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return malformed("unknown student " + studentID)
		}
		return unavailable("lookup student", err)
	}
	return nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
