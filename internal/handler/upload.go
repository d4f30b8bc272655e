package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"classattend/internal/cloudinary"
)

const maxUploadBytes = 10 << 20

// upload stores a base64 or multipart image and returns its URL, which
// clients pass as image_url evidence.
func (h *Handler) upload(c *gin.Context) {
	if h.Uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}
	ctx := c.Request.Context()
	tags := cloudinary.Tags{ClassID: c.Query("class_id"), StudentID: c.Query("student_id")}

	var (
		result *cloudinary.UploadResult
		err    error
	)
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, header, ferr := c.Request.FormFile("file")
		if ferr != nil {
			badRequest(c, "file field required")
			return
		}
		defer file.Close()
		data, ferr := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if ferr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
			return
		}
		result, err = h.Uploader.UploadBytes(ctx, data, header.Filename, tags)
	} else {
		var body struct {
			Data string `json:"data" binding:"required"`
		}
		if berr := c.ShouldBindJSON(&body); berr != nil {
			badRequest(c, `provide {"data": "<base64 data URL>"}`)
			return
		}
		result, err = h.Uploader.UploadBase64(ctx, body.Data, tags)
	}
	if err != nil {
		h.Log.Error("image upload failed", "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":       result.SecureURL,
		"public_id": result.PublicID,
		"width":     result.Width,
		"height":    result.Height,
		"bytes":     result.Bytes,
	})
}
