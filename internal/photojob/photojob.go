// Package photojob turns queued class photos into batch attendance.
package photojob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"classattend/internal/attendance"
	"classattend/internal/faceclient"
	"classattend/internal/queue"
)

// MessageType tags photo attendance jobs on the queue.
const MessageType = "photo_attendance"

// searchTopK bounds how many faces a single class photo can match.
const searchTopK = 100

// Job is the queued request to recognize a class photo.
type Job struct {
	ClassID   string `json:"class_id"`
	TeacherID string `json:"teacher_id"`
	ImageURL  string `json:"image_url"`
}

// NewMessage wraps j for publishing.
func NewMessage(j Job) (queue.Message, error) {
	return queue.NewMessage(MessageType, j)
}

// Searcher identifies enrolled faces in an image.
type Searcher interface {
	Search(ctx context.Context, imageURL string, topK int, threshold float64) (*faceclient.SearchResult, error)
}

// Recorder commits batch attendance.
type Recorder interface {
	BatchRedeem(ctx context.Context, classID, teacherID string, candidates []attendance.Candidate) (attendance.BatchResult, error)
}

// Processor consumes photo jobs.
type Processor struct {
	search   Searcher
	recorder Recorder
	log      *slog.Logger
}

// NewProcessor wires a processor.
func NewProcessor(search Searcher, recorder Recorder, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{search: search, recorder: recorder, log: log}
}

// Handle processes one job.
func (p *Processor) Handle(ctx context.Context, j Job) (attendance.BatchResult, error) {
	if j.ImageURL == "" {
		return attendance.BatchResult{}, errors.New("photo job without image url")
	}
	res, err := p.search.Search(ctx, j.ImageURL, searchTopK, 0)
	if err != nil {
		return attendance.BatchResult{}, fmt.Errorf("face search: %w", err)
	}
	return p.recorder.BatchRedeem(ctx, j.ClassID, j.TeacherID, Candidates(res))
}

// Candidates reduces search matches to one candidate per student, keeping
// the best similarity.
func Candidates(res *faceclient.SearchResult) []attendance.Candidate {
	if res == nil {
		return []attendance.Candidate{}
	}
	best := map[string]int{}
	out := make([]attendance.Candidate, 0, len(res.Matches))
	for _, m := range res.Matches {
		if m.UserID == "" {
			continue
		}
		if i, ok := best[m.UserID]; ok {
			if m.Similarity > out[i].Confidence {
				out[i].Confidence = m.Similarity
			}
			continue
		}
		best[m.UserID] = len(out)
		out = append(out, attendance.Candidate{StudentID: m.UserID, Confidence: m.Similarity})
	}
	return out
}

// Run handles messages until the channel closes. Failed jobs are logged and
// dropped.
func (p *Processor) Run(ctx context.Context, msgs <-chan queue.Message) {
	for msg := range msgs {
		if msg.Type != MessageType {
			continue
		}
		var j Job
		if err := json.Unmarshal(msg.Body, &j); err != nil {
			p.log.Warn("bad photo job", "err", err)
			continue
		}
		res, err := p.Handle(ctx, j)
		if err != nil {
			p.log.Error("photo job failed", "class_id", j.ClassID, "err", err)
			continue
		}
		p.log.Info("photo job done", "class_id", j.ClassID,
			"marked", len(res.MarkedStudents), "already_marked", len(res.AlreadyMarked),
			"skipped", len(res.Skipped))
	}
}
