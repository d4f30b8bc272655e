package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"classattend/internal/auth"
	"classattend/internal/directory"
)

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password required")
		return
	}

	t, err := h.Directory.TeacherByEmail(c.Request.Context(), strings.TrimSpace(req.Email))
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		h.fail(c, err)
		return
	}
	if err != nil || subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.Auth.TeacherPassword)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	tokens, err := auth.Issue(t.ID, auth.RoleTeacher, h.Auth.Issuer, h.Auth.SigningKey, h.Auth.AccessTTL, h.Auth.RefreshTTL)
	if err != nil {
		h.Log.Error("token issue failed", "teacher_id", t.ID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
		"teacher":       t,
	})
}
