package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.cloudinary.com/v1_1"

// Client uploads evidence images to Cloudinary using their REST API.
type Client struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	APIBase   string
	HTTP      *http.Client
	now       func() time.Time
}

// New creates a Cloudinary client.
func New(cloudName, apiKey, apiSecret, folder string) *Client {
	return &Client{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    folder,
		APIBase:   defaultAPIBase,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// UploadResult holds the response from Cloudinary after a successful upload.
type UploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int    `json:"bytes"`
}

// Tags label an evidence image with the attendance it supports. Empty
// fields are left out.
type Tags struct {
	ClassID   string
	StudentID string
}

// String renders the comma-separated tag list.
func (t Tags) String() string {
	var out []string
	if t.ClassID != "" {
		out = append(out, "class_"+t.ClassID)
	}
	if t.StudentID != "" {
		out = append(out, "student_"+t.StudentID)
	}
	return strings.Join(out, ",")
}

// UploadBase64 uploads a data URL ("data:image/jpeg;base64,...") or raw base64.
func (c *Client) UploadBase64(ctx context.Context, data string, tags Tags) (*UploadResult, error) {
	if data == "" {
		return nil, errors.New("cloudinary: empty image data")
	}
	return c.upload(ctx, tags, func(w *multipart.Writer) error {
		return w.WriteField("file", data)
	})
}

// UploadBytes uploads raw image bytes.
func (c *Client) UploadBytes(ctx context.Context, data []byte, filename string, tags Tags) (*UploadResult, error) {
	if len(data) == 0 {
		return nil, errors.New("cloudinary: empty image data")
	}
	return c.upload(ctx, tags, func(w *multipart.Writer) error {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			return err
		}
		_, err = part.Write(data)
		return err
	})
}

func (c *Client) upload(ctx context.Context, tags Tags, writeFile func(*multipart.Writer) error) (*UploadResult, error) {
	params := map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
		"api_key":   c.APIKey,
	}
	if c.Folder != "" {
		params["folder"] = c.Folder
	}
	if t := tags.String(); t != "" {
		params["tags"] = t
	}
	params["signature"] = c.sign(params)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		_ = w.WriteField(k, v)
	}
	if err := writeFile(w); err != nil {
		return nil, fmt.Errorf("cloudinary: write file failed: %w", err)
	}
	w.Close()

	url := fmt.Sprintf("%s/%s/image/upload", strings.TrimSuffix(c.APIBase, "/"), c.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cloudinary: upload failed (%d): %s", resp.StatusCode, string(body))
	}

	var result UploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("cloudinary: decode response failed: %w", err)
	}
	return &result, nil
}

// sign computes the API signature; api_key and file are not signed.
func (c *Client) sign(params map[string]string) string {
	excludeKeys := map[string]bool{"api_key": true, "file": true, "resource_type": true}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !excludeKeys[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	h := sha1.New()
	h.Write([]byte(strings.Join(pairs, "&") + c.APISecret))
	return fmt.Sprintf("%x", h.Sum(nil))
}
