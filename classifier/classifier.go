// Package classifier calls the external waste-detection service and
// normalizes its responses into a single classification verdict.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"report-service/cache"
	"report-service/metrics"
	"report-service/models"
)

// DefaultTimeout is the hard wall-clock bound on a detection call.
const DefaultTimeout = 30 * time.Second

// Fixed inference parameters sent with every detection request.
const (
	inferenceImageSize = "640"
	// detectorConfidence is the detector's own floor; it is looser than
	// any admission threshold so borderline detections still come back.
	detectorConfidence = "0.20"
	detectorOverlap    = "0.30"
)

// ErrKind distinguishes the classifier failure modes.
type ErrKind string

const (
	KindTimeout ErrKind = "SERVICE_TIMEOUT"
	KindDown    ErrKind = "SERVICE_DOWN"
	KindError   ErrKind = "SERVICE_ERROR"
)

// ServiceError is a typed classification failure. Kind identifies the
// stage: timeout, unreachable host, or an upstream error response.
type ServiceError struct {
	Kind       ErrKind
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Client is the detection service client. Successful verdicts are
// cached under the image fingerprint before returning.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	wasteClass string
	http       *http.Client
	cache      *cache.VerdictCache
}

// Config holds the client settings.
type Config struct {
	Endpoint   string
	APIKey     string
	Model      string
	WasteClass string
	Timeout    time.Duration
}

// NewClient creates a detection client. verdicts may be nil to disable
// caching.
func NewClient(cfg Config, verdicts *cache.VerdictCache) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	wasteClass := cfg.WasteClass
	if wasteClass == "" {
		wasteClass = "waste"
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		wasteClass: wasteClass,
		http:       &http.Client{Timeout: timeout},
		cache:      verdicts,
	}
}

// detection is one normalized {class, confidence} pair.
type detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// detectResponse accepts both documented response shapes: a flat
// predictions list, or the same list nested under "result".
type detectResponse struct {
	Predictions []detection `json:"predictions"`
	Result      *struct {
		Predictions []detection `json:"predictions"`
	} `json:"result"`
}

func (r *detectResponse) detections() []detection {
	if r.Predictions != nil {
		return r.Predictions
	}
	if r.Result != nil {
		return r.Result.Predictions
	}
	return nil
}

// Classify runs the image through the detection service and returns the
// normalized verdict. Identical bytes within the cache TTL are answered
// from the cache without a second upstream call.
func (c *Client) Classify(ctx context.Context, image []byte) (models.ClassificationVerdict, error) {
	fp := cache.Fingerprint(image)
	if c.cache != nil {
		if v, ok := c.cache.Get(fp); ok {
			metrics.CacheHitsTotal.Inc()
			return v, nil
		}
		metrics.CacheMissesTotal.Inc()
	}

	start := time.Now()
	verdict, err := c.detect(ctx, image)
	metrics.ClassifierDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return models.ClassificationVerdict{}, err
	}

	if c.cache != nil {
		c.cache.Put(fp, verdict)
	}
	return verdict, nil
}

func (c *Client) detect(ctx context.Context, image []byte) (models.ClassificationVerdict, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "report.jpg")
	if err != nil {
		return models.ClassificationVerdict{}, &ServiceError{Kind: KindError, Message: err.Error()}
	}
	if _, err := part.Write(image); err != nil {
		return models.ClassificationVerdict{}, &ServiceError{Kind: KindError, Message: err.Error()}
	}
	fields := map[string]string{
		"model":      c.model,
		"size":       inferenceImageSize,
		"confidence": detectorConfidence,
		"overlap":    detectorOverlap,
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return models.ClassificationVerdict{}, &ServiceError{Kind: KindError, Message: err.Error()}
		}
	}
	if err := w.Close(); err != nil {
		return models.ClassificationVerdict{}, &ServiceError{Kind: KindError, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return models.ClassificationVerdict{}, &ServiceError{Kind: KindError, Message: err.Error()}
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return models.ClassificationVerdict{}, transportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.ClassificationVerdict{}, transportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.ClassificationVerdict{}, &ServiceError{
			Kind:       KindError,
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	var dr detectResponse
	if err := json.Unmarshal(respBody, &dr); err != nil {
		return models.ClassificationVerdict{}, &ServiceError{
			Kind:       KindError,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("malformed response: %v", err),
		}
	}

	return c.verdictFrom(dr.detections()), nil
}

// verdictFrom reduces detections to a verdict: the confidence is the
// maximum among waste-class detections, zero when there are none.
func (c *Client) verdictFrom(dets []detection) models.ClassificationVerdict {
	maxConf := 0.0
	for _, d := range dets {
		if d.Class == c.wasteClass && d.Confidence > maxConf {
			maxConf = d.Confidence
		}
	}
	return models.ClassificationVerdict{
		IsWaste:      maxConf >= models.WasteThreshold,
		Confidence:   maxConf,
		Tier:         models.TierFor(maxConf),
		ModelVersion: c.model,
	}
}

// transportError maps a transport failure onto the error taxonomy:
// exceeded deadline -> SERVICE_TIMEOUT, unreachable host -> SERVICE_DOWN.
func transportError(err error) *ServiceError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ServiceError{Kind: KindTimeout, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ServiceError{Kind: KindTimeout, Message: err.Error()}
	}
	return &ServiceError{Kind: KindDown, Message: err.Error()}
}
