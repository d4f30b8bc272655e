// Package handler exposes the attendance service over HTTP with gin.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classattend/internal/analytics"
	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/cloudinary"
	"classattend/internal/directory"
	"classattend/internal/photojob"
	"classattend/internal/queue"
)

// Directory is the read side of enrollment data used by the API.
type Directory interface {
	Students(ctx context.Context) ([]directory.Student, error)
	Classes(ctx context.Context) ([]directory.Class, error)
	Teachers(ctx context.Context) ([]directory.Teacher, error)
	TeacherByEmail(ctx context.Context, email string) (directory.Teacher, error)
}

// Uploader stores evidence images.
type Uploader interface {
	UploadBase64(ctx context.Context, data string, tags cloudinary.Tags) (*cloudinary.UploadResult, error)
	UploadBytes(ctx context.Context, data []byte, filename string, tags cloudinary.Tags) (*cloudinary.UploadResult, error)
}

// AuthConfig holds teacher login settings.
type AuthConfig struct {
	SigningKey      string
	Issuer          string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	TeacherPassword string
}

// Deps are the collaborators of the API. Photos, Queue and Uploader are optional.
type Deps struct {
	Service   *attendance.Service
	Analytics *analytics.Aggregator
	Directory Directory
	Photos    *photojob.Processor
	Queue     queue.Queue
	Uploader  Uploader
	Auth      AuthConfig
	// Checks are named dependency health checks reported by /healthz.
	Checks  map[string]func(context.Context) bool
	Metrics http.Handler
	Now     func() time.Time
	Log     *slog.Logger
}

// Handler serves the API routes.
type Handler struct {
	Deps
}

// New fills defaults for unset optional deps.
func New(d Deps) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = promhttp.Handler()
	}
	return &Handler{Deps: d}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(h.Metrics))

	v1 := r.Group("/v1")
	v1.POST("/teacher/login", h.login)
	v1.GET("/students", h.listStudents)
	v1.GET("/classes", h.listClasses)
	v1.GET("/teachers", h.listTeachers)
	v1.POST("/attendance", h.redeem)

	teacher := v1.Group("", auth.RequireRole(h.Auth.SigningKey, h.Auth.Issuer, auth.RoleTeacher))
	teacher.POST("/sessions", h.issueSession)
	teacher.DELETE("/sessions/:class_id/:token", h.revokeSession)
	teacher.POST("/attendance/photo", h.photoAttendance)
	teacher.GET("/attendance", h.queryAttendance)
	teacher.GET("/analytics", h.analytics)
	teacher.GET("/dashboard", h.dashboard)
	teacher.GET("/classes/:class_id/unmarked", h.unmarked)
	teacher.POST("/upload", h.upload)
}

func (h *Handler) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, attendance.ErrInvalidSession):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, attendance.ErrVerificationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, attendance.ErrOffCampus):
		return http.StatusForbidden
	case errors.Is(err, attendance.ErrMalformedRequest):
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		h.Log.Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(status, gin.H{"error": attendance.Reason(err), "message": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_request", "message": msg})
}
