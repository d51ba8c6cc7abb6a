// Package handlers exposes the inbound HTTP API. Handlers stay thin:
// admission and lifecycle rules live in their own packages.
package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	geojson "github.com/paulmach/go.geojson"

	"report-service/admission"
	"report-service/apperrors"
	"report-service/database"
	"report-service/lifecycle"
	"report-service/metrics"
	"report-service/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	mapExportLimit  = 500
)

// Destroyer removes a stored image; deletion uses it best effort.
type Destroyer interface {
	Destroy(ctx context.Context, publicID string) error
}

// Publisher forwards accepted reports to downstream consumers.
type Publisher interface {
	Publish(message interface{}) error
}

// Handlers holds all HTTP handlers
type Handlers struct {
	db         *database.Service
	controller *admission.Controller
	storage    Destroyer
	publisher  Publisher // nil when messaging is disabled
}

// New creates a new handlers instance
func New(db *database.Service, controller *admission.Controller, storage Destroyer, publisher Publisher) *Handlers {
	return &Handlers{
		db:         db,
		controller: controller,
		storage:    storage,
		publisher:  publisher,
	}
}

// HealthCheck reports service liveness.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:    "ok",
		Service:   "report-service",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateReport runs the admission pipeline for a submitted report.
func (h *Handlers) CreateReport(c *gin.Context) {
	var req models.CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}

	userID := c.GetString("user_id")
	report, err := h.controller.Submit(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	if h.publisher != nil {
		if err := h.publisher.Publish(report); err != nil {
			log.Warnf("Failed to publish report %s: %v", report.ID, err)
		}
	}

	c.JSON(http.StatusCreated, report)
}

// ListReports returns all reports, paginated.
func (h *Handlers) ListReports(c *gin.Context) {
	limit, offset := pagination(c)
	reports, err := h.db.ListReports(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "limit": limit, "offset": offset})
}

// MyReports returns the calling user's reports.
func (h *Handlers) MyReports(c *gin.Context) {
	limit, offset := pagination(c)
	reports, err := h.db.ListReportsByUser(c.Request.Context(), c.GetString("user_id"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "limit": limit, "offset": offset})
}

// DeleteReport removes the caller's own unresolved report, reverses the
// point award and best-effort deletes the stored image.
func (h *Handlers) DeleteReport(c *gin.Context) {
	userID := c.GetString("user_id")
	report, err := h.db.GetReportByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if report.UserID != userID {
		respondError(c, apperrors.New(apperrors.CodeForbidden, http.StatusForbidden,
			"a report can only be deleted by its owner"))
		return
	}

	if err := h.db.DeleteOwnReport(c.Request.Context(), report.Seq, userID); err != nil {
		var ae *apperrors.AppError
		if errors.As(err, &ae) && ae.Code == apperrors.CodeStaleStatus {
			respondError(c, apperrors.InvalidTransition("only unresolved reports can be deleted"))
			return
		}
		respondError(c, err)
		return
	}

	// Reverse exactly the delta the category originally granted.
	if err := h.db.ApplyReportDelta(c.Request.Context(), userID,
		-models.PointsFor(report.Category), -1); err != nil {
		log.Warnf("Failed to reverse points for user %s: %v", userID, err)
	}
	if h.storage != nil && report.StorageID != "" {
		if err := h.storage.Destroy(c.Request.Context(), report.StorageID); err != nil {
			log.Warnf("Failed to destroy stored image %s: %v", report.StorageID, err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"deleted": report.ID})
}

// NearbyReports returns the reports closest to a point.
func (h *Handlers) NearbyReports(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Query("latitude"), 64)
	lon, lonErr := strconv.ParseFloat(c.Query("longitude"), 64)
	if latErr != nil || lonErr != nil {
		respondError(c, apperrors.InvalidCoordinates("latitude and longitude query parameters must be numeric"))
		return
	}
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		respondError(c, apperrors.InvalidCoordinates("latitude and longitude must be finite numbers"))
		return
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		respondError(c, apperrors.InvalidCoordinateRange(lat, lon))
		return
	}
	limit, _ := pagination(c)

	reports, err := h.db.ListReportsNearby(c.Request.Context(), lat, lon, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// MapReports exports reports as a GeoJSON FeatureCollection for map
// rendering.
func (h *Handlers) MapReports(c *gin.Context) {
	reports, err := h.db.ListReports(c.Request.Context(), mapExportLimit, 0)
	if err != nil {
		respondError(c, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, rep := range reports {
		f := geojson.NewPointFeature([]float64{rep.Location.Longitude, rep.Location.Latitude})
		f.SetProperty("id", rep.ID)
		f.SetProperty("status", string(rep.Status))
		f.SetProperty("category", string(rep.Category))
		f.SetProperty("title", rep.Title)
		fc.AddFeature(f)
	}
	c.JSON(http.StatusOK, fc)
}

// ListByStatus returns supervisor work queues: pending, in-progress or
// resolved reports.
func (h *Handlers) ListByStatus(c *gin.Context) {
	status := models.ReportStatus(c.Query("status"))
	switch status {
	case models.StatusPending, models.StatusInProgress, models.StatusResolved:
	default:
		respondError(c, apperrors.Validation("status must be one of pending, in-progress, resolved"))
		return
	}
	limit, offset := pagination(c)

	reports, err := h.db.ListReportsByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "limit": limit, "offset": offset})
}

// GetResolvedReport returns the detail of a resolved report.
func (h *Handlers) GetResolvedReport(c *gin.Context) {
	report, err := h.db.GetReportByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if report.Status != models.StatusResolved && report.Status != models.StatusPermanentResolved {
		respondError(c, apperrors.ReportNotFound())
		return
	}
	c.JSON(http.StatusOK, report)
}

// SupervisorProfile returns the calling supervisor's profile and stats.
func (h *Handlers) SupervisorProfile(c *gin.Context) {
	userID := c.GetString("user_id")
	stats, err := h.db.SupervisorStats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	user, err := h.db.GetUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if user == nil {
		user = &models.User{ID: userID, Role: c.GetString("role")}
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "stats": stats})
}

// Assign moves a report to in-progress and records the assignee.
func (h *Handlers) Assign(c *gin.Context) {
	var req models.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}
	h.applyTransition(c, lifecycle.Request{
		Kind:       lifecycle.KindAssign,
		ActorID:    c.GetString("user_id"),
		AssigneeID: req.AssigneeID,
		Message:    req.Message,
	})
}

// Resolve closes a report with resolution evidence.
func (h *Handlers) Resolve(c *gin.Context) {
	var req models.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}
	var location *models.GeoPoint
	if req.Latitude != nil && req.Longitude != nil {
		location = &models.GeoPoint{Latitude: *req.Latitude, Longitude: *req.Longitude}
	}
	h.applyTransition(c, lifecycle.Request{
		Kind:    lifecycle.KindResolve,
		ActorID: c.GetString("user_id"),
		Evidence: &lifecycle.Evidence{
			PhotoURL: req.PhotoURL,
			Location: location,
			Address:  req.Address,
		},
	})
}

// Reject declines a report with a reason.
func (h *Handlers) Reject(c *gin.Context) {
	var req models.ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}
	h.applyTransition(c, lifecycle.Request{
		Kind:    lifecycle.KindReject,
		ActorID: c.GetString("user_id"),
		Reason:  req.Reason,
	})
}

// MarkOutOfScope escalates a report out of the resolution workflow.
func (h *Handlers) MarkOutOfScope(c *gin.Context) {
	var req models.ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}
	h.applyTransition(c, lifecycle.Request{
		Kind:    lifecycle.KindOutOfScope,
		ActorID: c.GetString("user_id"),
		Reason:  req.Reason,
	})
}

// PermanentResolve seals a resolved report against further mutation.
func (h *Handlers) PermanentResolve(c *gin.Context) {
	h.applyTransition(c, lifecycle.Request{
		Kind:    lifecycle.KindPermanentResolve,
		ActorID: c.GetString("user_id"),
	})
}

// applyTransition is the single guarded path every lifecycle transition
// goes through: load, validate against current state, then apply as a
// conditional update on that state.
func (h *Handlers) applyTransition(c *gin.Context, req lifecycle.Request) {
	ctx := c.Request.Context()
	report, err := h.db.GetReportByID(ctx, c.Param("id"))
	if err != nil {
		metrics.TransitionsTotal.WithLabelValues(string(req.Kind), "error").Inc()
		respondError(c, err)
		return
	}

	if err := lifecycle.Validate(report, req); err != nil {
		metrics.TransitionsTotal.WithLabelValues(string(req.Kind), "rejected").Inc()
		respondError(c, err)
		return
	}

	if err := h.db.ApplyTransition(ctx, report, req, time.Now()); err != nil {
		result := "error"
		var ae *apperrors.AppError
		if errors.As(err, &ae) && ae.Code == apperrors.CodeStaleStatus {
			result = "conflict"
		}
		metrics.TransitionsTotal.WithLabelValues(string(req.Kind), result).Inc()
		respondError(c, err)
		return
	}
	metrics.TransitionsTotal.WithLabelValues(string(req.Kind), "applied").Inc()

	updated, err := h.db.GetReportByID(ctx, report.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v, err := strconv.Atoi(c.Query("skip")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func respondError(c *gin.Context, err error) {
	ae := apperrors.AsAppError(err)
	if ae.Status >= http.StatusInternalServerError {
		log.Errorf("Request failed: %v", err)
	}
	c.JSON(ae.Status, ae)
}
