// Package cloudinary is a minimal client for the image upload API the
// service stores report photos in.
package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"report-service/models"
)

const baseURL = "https://api.cloudinary.com/v1_1"

// Client performs signed uploads into a fixed folder.
type Client struct {
	cloudName string
	apiKey    string
	apiSecret string
	folder    string
	http      *http.Client
	now       func() time.Time
}

// Config holds the account settings.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

func New(cfg Config) *Client {
	folder := cfg.Folder
	if folder == "" {
		folder = "reports"
	}
	return &Client{
		cloudName: cfg.CloudName,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		folder:    folder,
		// No client-side timeout: the admission controller races the
		// upload against its own deadline and abandons the loser.
		http: &http.Client{},
		now:  time.Now,
	}
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload stores image bytes and returns the resulting URL and public id.
func (c *Client) Upload(ctx context.Context, image []byte) (models.StoredObject, error) {
	params := map[string]string{
		"folder":         c.folder,
		"format":         "jpg",
		"timestamp":      fmt.Sprintf("%d", c.now().Unix()),
		"transformation": "c_limit,w_1920,h_1920",
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "report.jpg")
	if err != nil {
		return models.StoredObject{}, fmt.Errorf("failed to build upload body: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return models.StoredObject{}, fmt.Errorf("failed to build upload body: %w", err)
	}
	for k, v := range params {
		if err := w.WriteField(k, v); err != nil {
			return models.StoredObject{}, fmt.Errorf("failed to build upload body: %w", err)
		}
	}
	if err := w.WriteField("api_key", c.apiKey); err != nil {
		return models.StoredObject{}, fmt.Errorf("failed to build upload body: %w", err)
	}
	if err := w.WriteField("signature", c.sign(params)); err != nil {
		return models.StoredObject{}, fmt.Errorf("failed to build upload body: %w", err)
	}
	if err := w.Close(); err != nil {
		return models.StoredObject{}, fmt.Errorf("failed to build upload body: %w", err)
	}

	url := fmt.Sprintf("%s/%s/image/upload", baseURL, c.cloudName)
	out, err := c.post(ctx, url, &body, w.FormDataContentType())
	if err != nil {
		return models.StoredObject{}, err
	}
	return models.StoredObject{URL: out.SecureURL, ID: out.PublicID}, nil
}

// Destroy removes a previously uploaded image. Best effort; callers may
// ignore the error.
func (c *Client) Destroy(ctx context.Context, publicID string) error {
	params := map[string]string{
		"public_id": publicID,
		"timestamp": fmt.Sprintf("%d", c.now().Unix()),
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range params {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to build destroy body: %w", err)
		}
	}
	if err := w.WriteField("api_key", c.apiKey); err != nil {
		return fmt.Errorf("failed to build destroy body: %w", err)
	}
	if err := w.WriteField("signature", c.sign(params)); err != nil {
		return fmt.Errorf("failed to build destroy body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to build destroy body: %w", err)
	}

	url := fmt.Sprintf("%s/%s/image/destroy", baseURL, c.cloudName)
	_, err := c.post(ctx, url, &body, w.FormDataContentType())
	return err
}

func (c *Client) post(ctx context.Context, url string, body io.Reader, contentType string) (*uploadResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call storage service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("storage service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var out uploadResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to parse storage response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("storage service error: %s", out.Error.Message)
	}
	return &out, nil
}

// sign produces the API signature: parameters sorted by name, joined as
// a query string, with the secret appended, hashed with SHA-1.
func (c *Client) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + c.apiSecret))
	return hex.EncodeToString(sum[:])
}
