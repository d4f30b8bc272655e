package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/ledger"
	"classattend/internal/photojob"
)

type redeemRequest struct {
	StudentID  string `json:"student_id"`
	QRData     string `json:"qr_data"`
	ClassID    string `json:"class_id"`
	Token      string `json:"token"`
	Method     string `json:"method"`
	Location   string `json:"location"`
	NetworkID  string `json:"network_id"`
	ImageURL   string `json:"image_url"`
	Credential string `json:"credential"`
}

func (h *Handler) redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	classID, token := req.ClassID, req.Token
	if req.QRData != "" {
		var err error
		if classID, token, err = attendance.ParseQRData(req.QRData); err != nil {
			h.fail(c, err)
			return
		}
		if req.Method == "" {
			req.Method = string(ledger.MethodQR)
		}
	}

	res, err := h.Service.Redeem(c.Request.Context(), attendance.Request{
		ClassID:   classID,
		Token:     token,
		StudentID: req.StudentID,
		Method:    ledger.Method(req.Method),
		Evidence: attendance.Evidence{
			ImageURL:   req.ImageURL,
			Credential: req.Credential,
			Location:   req.Location,
			NetworkID:  req.NetworkID,
		},
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusCreated
	if res.Outcome == attendance.OutcomeAlreadyMarked {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *Handler) issueSession(c *gin.Context) {
	var req struct {
		ClassID string `json:"class_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	claims, _ := auth.FromContext(c)
	s, err := h.Service.IssueSession(c.Request.Context(), req.ClassID, claims.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"class_id":   s.ClassID,
		"token":      s.Token,
		"issued_at":  s.IssuedAt,
		"expires_at": s.ExpiresAt,
		"issued_by":  s.IssuedBy,
		"qr_data":    attendance.EncodeQRData(s.ClassID, s.Token),
	})
}

func (h *Handler) revokeSession(c *gin.Context) {
	if err := h.Service.RevokeSession(c.Request.Context(), c.Param("class_id"), c.Param("token")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type photoRequest struct {
	ClassID    string                 `json:"class_id" binding:"required"`
	Candidates []attendance.Candidate `json:"candidates"`
	ImageURL   string                 `json:"image_url"`
	Async      bool                   `json:"async"`
}

func (h *Handler) photoAttendance(c *gin.Context) {
	var req photoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	claims, _ := auth.FromContext(c)
	teacherID := claims.Subject
	ctx := c.Request.Context()

	var (
		res attendance.BatchResult
		err error
	)
	switch {
	case req.Candidates != nil:
		res, err = h.Service.BatchRedeem(ctx, req.ClassID, teacherID, req.Candidates)
	case req.ImageURL == "":
		badRequest(c, "candidates or image_url required")
		return
	case req.Async:
		if h.Queue == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": "photo queue not configured"})
			return
		}
		msg, merr := photojob.NewMessage(photojob.Job{ClassID: req.ClassID, TeacherID: teacherID, ImageURL: req.ImageURL})
		if merr == nil {
			merr = h.Queue.Publish(ctx, msg)
		}
		if merr != nil {
			h.Log.Error("queue publish failed", "class_id", req.ClassID, "err", merr)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": "could not queue photo"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "class_id": req.ClassID})
		return
	default:
		if h.Photos == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": "face recognition not configured"})
			return
		}
		res, err = h.Photos.Handle(ctx, photojob.Job{ClassID: req.ClassID, TeacherID: teacherID, ImageURL: req.ImageURL})
		if err != nil && !errors.Is(err, attendance.ErrMalformedRequest) && !errors.Is(err, attendance.ErrUnavailable) {
			h.Log.Error("photo recognition failed", "class_id", req.ClassID, "err", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "face_service", "message": err.Error()})
			return
		}
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":         fmt.Sprintf("Marked %d of %d recognized students present", len(res.MarkedStudents), res.TotalCandidates),
		"markedStudents":  res.MarkedStudents,
		"alreadyMarked":   res.AlreadyMarked,
		"skipped":         res.Skipped,
		"totalCandidates": res.TotalCandidates,
	})
}

func (h *Handler) queryAttendance(c *gin.Context) {
	f := ledger.Filter{
		ClassID:   c.Query("class_id"),
		StudentID: c.Query("student_id"),
		Date:      c.Query("date"),
	}
	if f.Date != "" && !validDate(f.Date) {
		badRequest(c, "date must be YYYY-MM-DD")
		return
	}
	recs, err := h.Service.QueryAttendance(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs, "count": len(recs)})
}

func (h *Handler) unmarked(c *gin.Context) {
	st, err := h.Service.UnmarkedRoster(c.Request.Context(), c.Param("class_id"), c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func validDate(s string) bool {
	_, err := time.Parse(ledger.DateLayout, s)
	return err == nil
}
