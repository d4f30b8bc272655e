package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classattend/internal/analytics"
)

func (h *Handler) listStudents(c *gin.Context) {
	students, err := h.Directory.Students(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, students)
}

func (h *Handler) listClasses(c *gin.Context) {
	classes, err := h.Directory.Classes(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, classes)
}

func (h *Handler) listTeachers(c *gin.Context) {
	teachers, err := h.Directory.Teachers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, teachers)
}

func (h *Handler) analytics(c *gin.Context) {
	f := analytics.Filter{
		ClassID: c.Query("class_id"),
		From:    c.Query("start_date"),
		To:      c.Query("end_date"),
	}
	if (f.From != "" && !validDate(f.From)) || (f.To != "" && !validDate(f.To)) {
		badRequest(c, "start_date and end_date must be YYYY-MM-DD")
		return
	}
	rep, err := h.Analytics.Report(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) dashboard(c *gin.Context) {
	d, err := h.Analytics.Dashboard(c.Request.Context(), h.Now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
