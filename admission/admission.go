// Package admission decides whether a submitted report is accepted and
// persisted. It orchestrates field validation, image verification,
// the deadline-bounded storage upload and the final report creation.
package admission

import (
	"context"
	"encoding/base64"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"report-service/apperrors"
	"report-service/metrics"
	"report-service/models"
)

const (
	// MaxImageBytes is the inclusive limit on decoded image size.
	MaxImageBytes = 5 * 1024 * 1024
	// AdmissionConfidence is the minimum waste confidence a verdict
	// needs to be admitted. Deliberately stricter than, and independent
	// of, the classifier's 0.65 medium-tier boundary.
	AdmissionConfidence = 0.70
	// DefaultUploadTimeout bounds the storage upload race.
	DefaultUploadTimeout = 15 * time.Second
)

// Classifier produces a verdict for raw image bytes.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (models.ClassificationVerdict, error)
}

// Uploader stores image bytes and returns the stored object.
type Uploader interface {
	Upload(ctx context.Context, image []byte) (models.StoredObject, error)
}

// ReportStore persists admitted reports.
type ReportStore interface {
	CreateReport(ctx context.Context, report *models.Report) error
}

// PointsLedger applies the points / report-count side effect.
type PointsLedger interface {
	ApplyReportDelta(ctx context.Context, userID string, points, reports int) error
}

// Controller is the admission pipeline.
type Controller struct {
	classifier    Classifier
	uploader      Uploader
	store         ReportStore
	ledger        PointsLedger
	uploadTimeout time.Duration
	now           func() time.Time
}

// NewController wires the pipeline. A non-positive uploadTimeout falls
// back to the default.
func NewController(classifier Classifier, uploader Uploader, store ReportStore,
	ledger PointsLedger, uploadTimeout time.Duration) *Controller {
	if uploadTimeout <= 0 {
		uploadTimeout = DefaultUploadTimeout
	}
	return &Controller{
		classifier:    classifier,
		uploader:      uploader,
		store:         store,
		ledger:        ledger,
		uploadTimeout: uploadTimeout,
		now:           time.Now,
	}
}

// Submit runs the full admission pipeline for one report submission.
// On success exactly one report has been persisted in status pending;
// on failure nothing user-visible has been created.
func (ctl *Controller) Submit(ctx context.Context, userID string, req models.CreateReportRequest) (*models.Report, error) {
	report, err := ctl.submit(ctx, userID, req)
	result := "accepted"
	if err != nil {
		result = apperrors.AsAppError(err).Code
	}
	metrics.AdmissionTotal.WithLabelValues(result).Inc()
	return report, err
}

func (ctl *Controller) submit(ctx context.Context, userID string, req models.CreateReportRequest) (*models.Report, error) {
	// 1. Required fields, aggregated into a single failure.
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"title", req.Title},
		{"image", req.Image},
		{"details", req.Details},
		{"address", req.Address},
		{"latitude", req.Latitude},
		{"longitude", req.Longitude},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.MissingFields(missing)
	}

	// 2-3. Image payload: syntactically base64 (optionally data-URL
	// prefixed) and within the decoded size limit.
	image, err := decodeImage(req.Image)
	if err != nil {
		return nil, err
	}
	if len(image) > MaxImageBytes {
		return nil, apperrors.ImageTooLarge(MaxImageBytes, len(image))
	}

	// 4. Coordinates.
	location, err := parseCoordinates(req.Latitude, req.Longitude)
	if err != nil {
		return nil, err
	}

	category := models.ParseCategory(req.Category)

	// 5. Image verification, unless explicitly bypassed.
	var verdict *models.ClassificationVerdict
	if !req.ForceSubmit {
		v, err := ctl.classifier.Classify(ctx, image)
		if err != nil {
			return nil, apperrors.ServiceUnavailable(err.Error())
		}
		if !v.IsWaste {
			return nil, apperrors.NotWaste()
		}
		if v.Confidence < AdmissionConfidence {
			return nil, apperrors.LowConfidence(v.Confidence)
		}
		verdict = &v
	}

	// 6. Upload, raced against the deadline. The loser is abandoned:
	// a late upload completes into a buffered channel nobody reads.
	stored, err := ctl.upload(ctx, image)
	if err != nil {
		return nil, err
	}

	// 7. Persist in initial status pending.
	now := ctl.now()
	report := &models.Report{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     strings.TrimSpace(req.Title),
		Details:   req.Details,
		Address:   req.Address,
		Location:  location,
		PhotoURL:  stored.URL,
		StorageID: stored.ID,
		Category:  category,
		Status:    models.StatusPending,
		Verdict:   verdict,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.PhotoTakenAt != "" {
		if ts, err := time.Parse(time.RFC3339, req.PhotoTakenAt); err == nil {
			report.PhotoTakenAt = &ts
		}
	}
	if err := ctl.store.CreateReport(ctx, report); err != nil {
		return nil, err
	}

	// 8. Points are best effort: admission already succeeded.
	if err := ctl.ledger.ApplyReportDelta(ctx, userID, models.PointsFor(category), 1); err != nil {
		log.Warnf("Failed to award points to user %s for report %s: %v", userID, report.ID, err)
	}

	return report, nil
}

type uploadOutcome struct {
	stored models.StoredObject
	err    error
}

func (ctl *Controller) upload(ctx context.Context, image []byte) (models.StoredObject, error) {
	done := make(chan uploadOutcome, 1)
	go func() {
		stored, err := ctl.uploader.Upload(ctx, image)
		done <- uploadOutcome{stored: stored, err: err}
	}()

	timer := time.NewTimer(ctl.uploadTimeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			return models.StoredObject{}, apperrors.CloudinaryError(out.err.Error())
		}
		return out.stored, nil
	case <-timer.C:
		metrics.UploadTimeoutsTotal.Inc()
		return models.StoredObject{}, apperrors.CloudinaryTimeout()
	}
}

// decodeImage accepts plain base64 or a data URL and returns the raw
// bytes.
func decodeImage(payload string) ([]byte, error) {
	raw := payload
	if strings.HasPrefix(raw, "data:") {
		idx := strings.Index(raw, "base64,")
		if idx < 0 {
			return nil, apperrors.InvalidImageFormat("data URL is missing a base64 payload")
		}
		raw = raw[idx+len("base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, apperrors.InvalidImageFormat("image payload is not valid base64")
	}
	return data, nil
}

func parseCoordinates(latStr, lonStr string) (models.GeoPoint, error) {
	lat, latErr := strconv.ParseFloat(latStr, 64)
	lon, lonErr := strconv.ParseFloat(lonStr, 64)
	if latErr != nil || lonErr != nil {
		return models.GeoPoint{}, apperrors.InvalidCoordinates("coordinates must be numeric")
	}
	// ParseFloat accepts NaN and Inf, which would slip past the range checks.
	if !isFinite(lat) || !isFinite(lon) {
		return models.GeoPoint{}, apperrors.InvalidCoordinates("coordinates must be finite numbers")
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return models.GeoPoint{}, apperrors.InvalidCoordinateRange(lat, lon)
	}
	return models.GeoPoint{Latitude: lat, Longitude: lon}, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
