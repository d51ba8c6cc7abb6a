// Package database persists reports and users in MySQL. Lifecycle
// transitions are applied as conditional updates matching the expected
// current status, so concurrent supervisors cannot double-apply one.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/go-sql-driver/mysql"

	"report-service/apperrors"
	"report-service/lifecycle"
	"report-service/models"
)

// Service owns the database access for reports and users.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

const reportColumns = `seq, id, user_id, title, details, address, latitude, longitude,
	photo_url, storage_id, photo_taken_at, category, status,
	is_waste, confidence, tier, model_version,
	assigned_to, assigned_at, assignment_message,
	resolved_by, resolved_at, resolved_photo_url, resolved_latitude, resolved_longitude,
	resolved_address, distance_to_reported,
	rejected_by, rejected_at, rejection_reason,
	out_of_scope_by, out_of_scope_at, out_of_scope_reason,
	permanent_resolved_by, permanent_resolved_at,
	created_at, updated_at`

// CreateReport inserts an admitted report and fills in its seq.
func (s *Service) CreateReport(ctx context.Context, r *models.Report) error {
	var isWaste sql.NullBool
	var confidence sql.NullFloat64
	var tier, modelVersion sql.NullString
	if r.Verdict != nil {
		isWaste = sql.NullBool{Bool: r.Verdict.IsWaste, Valid: true}
		confidence = sql.NullFloat64{Float64: r.Verdict.Confidence, Valid: true}
		tier = sql.NullString{String: string(r.Verdict.Tier), Valid: true}
		modelVersion = sql.NullString{String: r.Verdict.ModelVersion, Valid: true}
	}
	var photoTakenAt sql.NullTime
	if r.PhotoTakenAt != nil {
		photoTakenAt = sql.NullTime{Time: *r.PhotoTakenAt, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `INSERT INTO reports
		(id, user_id, title, details, address, latitude, longitude,
		 photo_url, storage_id, photo_taken_at, category, status,
		 is_waste, confidence, tier, model_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Title, r.Details, r.Address,
		r.Location.Latitude, r.Location.Longitude,
		r.PhotoURL, r.StorageID, photoTakenAt, string(r.Category), string(r.Status),
		isWaste, confidence, tier, modelVersion, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if ve := validationError(err); ve != nil {
			return ve
		}
		log.Errorf("Failed to insert report %s: %v", r.ID, err)
		return fmt.Errorf("failed to insert report: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read report seq: %w", err)
	}
	r.Seq = seq
	return nil
}

// GetReportByID fetches a report by its public id.
func (s *Service) GetReportByID(ctx context.Context, id string) (*models.Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	rep, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.ReportNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read report %s: %w", id, err)
	}
	return rep, nil
}

// ListReports returns reports ordered newest first.
func (s *Service) ListReports(ctx context.Context, limit, offset int) ([]models.Report, error) {
	return s.queryReports(ctx,
		`SELECT `+reportColumns+` FROM reports
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
}

// ListReportsByStatus returns reports in one lifecycle state, newest first.
func (s *Service) ListReportsByStatus(ctx context.Context, status models.ReportStatus, limit, offset int) ([]models.Report, error) {
	return s.queryReports(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE status = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`, string(status), limit, offset)
}

// ListReportsByUser returns a user's own reports, newest first.
func (s *Service) ListReportsByUser(ctx context.Context, userID string, limit, offset int) ([]models.Report, error) {
	return s.queryReports(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`, userID, limit, offset)
}

// ListReportsNearby returns the reports closest to a point.
func (s *Service) ListReportsNearby(ctx context.Context, lat, lon float64, limit int) ([]models.Report, error) {
	return s.queryReports(ctx,
		`SELECT `+reportColumns+` FROM reports
		 ORDER BY ST_Distance_Sphere(POINT(longitude, latitude), POINT(?, ?)) ASC
		 LIMIT ?`, lon, lat, limit)
}

func (s *Service) queryReports(ctx context.Context, query string, args ...any) ([]models.Report, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Errorf("Failed to query reports: %v", err)
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	reports := make([]models.Report, 0, 16)
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		reports = append(reports, *rep)
	}
	return reports, rows.Err()
}

// ApplyTransition applies a validated lifecycle transition as a single
// conditional update matching the report's expected current status.
// Zero affected rows means another actor moved the report concurrently.
func (s *Service) ApplyTransition(ctx context.Context, report *models.Report, req lifecycle.Request, now time.Time) error {
	var query string
	var args []any

	switch req.Kind {
	case lifecycle.KindAssign:
		query = `UPDATE reports
			SET status = ?, assigned_to = ?, assigned_at = ?, assignment_message = ?
			WHERE seq = ? AND status = ?`
		args = []any{string(models.StatusInProgress), req.AssigneeID, now,
			nullableString(req.Message), report.Seq, string(report.Status)}
	case lifecycle.KindResolve:
		distance := lifecycle.DistanceMeters(report.Location, *req.Evidence.Location)
		query = `UPDATE reports
			SET status = ?, resolved_by = ?, resolved_at = ?, resolved_photo_url = ?,
			    resolved_latitude = ?, resolved_longitude = ?, resolved_address = ?,
			    distance_to_reported = ?
			WHERE seq = ? AND status = ?`
		args = []any{string(models.StatusResolved), req.ActorID, now,
			req.Evidence.PhotoURL, req.Evidence.Location.Latitude,
			req.Evidence.Location.Longitude, req.Evidence.Address,
			distance, report.Seq, string(report.Status)}
	case lifecycle.KindReject:
		query = `UPDATE reports
			SET status = ?, rejected_by = ?, rejected_at = ?, rejection_reason = ?
			WHERE seq = ? AND status = ?`
		args = []any{string(models.StatusRejected), req.ActorID, now,
			req.Reason, report.Seq, string(report.Status)}
	case lifecycle.KindOutOfScope:
		query = `UPDATE reports
			SET status = ?, out_of_scope_by = ?, out_of_scope_at = ?, out_of_scope_reason = ?
			WHERE seq = ? AND status = ?`
		args = []any{string(models.StatusOutOfScope), req.ActorID, now,
			req.Reason, report.Seq, string(report.Status)}
	case lifecycle.KindPermanentResolve:
		query = `UPDATE reports
			SET status = ?, permanent_resolved_by = ?, permanent_resolved_at = ?
			WHERE seq = ? AND status = ?`
		args = []any{string(models.StatusPermanentResolved), req.ActorID, now,
			report.Seq, string(report.Status)}
	default:
		return apperrors.Validation(fmt.Sprintf("unknown transition %q", req.Kind))
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Errorf("Failed to apply %s transition on report %d: %v", req.Kind, report.Seq, err)
		return fmt.Errorf("failed to apply transition: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transition result: %w", err)
	}
	if rows == 0 {
		return apperrors.StaleStatus()
	}
	return nil
}

// DeleteOwnReport removes a user's unresolved report. It returns
// StaleStatus when the report is no longer deletable and ReportNotFound
// when it does not belong to the user.
func (s *Service) DeleteOwnReport(ctx context.Context, seq int64, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reports
		WHERE seq = ? AND user_id = ? AND status IN (?, ?)`,
		seq, userID, string(models.StatusPending), string(models.StatusInProgress))
	if err != nil {
		log.Errorf("Failed to delete report %d: %v", seq, err)
		return fmt.Errorf("failed to delete report: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return apperrors.StaleStatus()
	}
	return nil
}

// ApplyReportDelta adjusts a user's points and report count, creating
// the user row on first contact.
func (s *Service) ApplyReportDelta(ctx context.Context, userID string, points, reports int) error {
	result, err := s.db.ExecContext(ctx, `INSERT INTO users (id, points, report_count)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE points = points + ?, report_count = report_count + ?`,
		userID, points, reports, points, reports)
	if err != nil {
		log.Errorf("Failed to update points for user %s: %v", userID, err)
		return fmt.Errorf("failed to update points: %w", err)
	}
	_, err = result.RowsAffected()
	return err
}

// GetUser fetches a user row. A user with no activity yet yields nil.
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, role, report_count, points FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Role, &u.ReportCount, &u.Points)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user %s: %w", id, err)
	}
	return &u, nil
}

// SupervisorStats summarizes a supervisor's workflow activity.
func (s *Service) SupervisorStats(ctx context.Context, actorID string) (*models.SupervisorStats, error) {
	stats := &models.SupervisorStats{UserID: actorID}
	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM reports WHERE assigned_to = ?),
		(SELECT COUNT(*) FROM reports WHERE resolved_by = ?),
		(SELECT COUNT(*) FROM reports WHERE rejected_by = ?),
		(SELECT COUNT(*) FROM reports WHERE out_of_scope_by = ?)`,
		actorID, actorID, actorID, actorID)
	if err := row.Scan(&stats.Assigned, &stats.Resolved, &stats.Rejected, &stats.OutOfScope); err != nil {
		return nil, fmt.Errorf("failed to read supervisor stats: %w", err)
	}
	return stats, nil
}

// MySQL error numbers that indicate bad input data rather than a
// database fault.
const (
	mysqlErrBadNull     = 1048 // column cannot be null
	mysqlErrDupEntry    = 1062 // duplicate entry for a unique key
	mysqlErrDataTooLong = 1406 // data too long for column
)

// validationError maps schema constraint violations to a client error,
// or returns nil when err is not one.
func validationError(err error) *apperrors.AppError {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return nil
	}
	switch me.Number {
	case mysqlErrBadNull, mysqlErrDupEntry, mysqlErrDataTooLong:
		return apperrors.Validation("report fields violate storage constraints").
			WithDetails(map[string]any{"cause": me.Message})
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*models.Report, error) {
	var r models.Report
	var photoTakenAt sql.NullTime
	var category, status string
	var isWaste sql.NullBool
	var confidence sql.NullFloat64
	var tier, modelVersion sql.NullString
	var assignedTo, assignmentMessage sql.NullString
	var assignedAt sql.NullTime
	var resolvedBy, resolvedPhotoURL, resolvedAddress sql.NullString
	var resolvedAt sql.NullTime
	var resolvedLat, resolvedLon, distance sql.NullFloat64
	var rejectedBy, rejectionReason sql.NullString
	var rejectedAt sql.NullTime
	var oosBy, oosReason sql.NullString
	var oosAt sql.NullTime
	var permBy sql.NullString
	var permAt sql.NullTime

	err := row.Scan(&r.Seq, &r.ID, &r.UserID, &r.Title, &r.Details, &r.Address,
		&r.Location.Latitude, &r.Location.Longitude,
		&r.PhotoURL, &r.StorageID, &photoTakenAt, &category, &status,
		&isWaste, &confidence, &tier, &modelVersion,
		&assignedTo, &assignedAt, &assignmentMessage,
		&resolvedBy, &resolvedAt, &resolvedPhotoURL, &resolvedLat, &resolvedLon,
		&resolvedAddress, &distance,
		&rejectedBy, &rejectedAt, &rejectionReason,
		&oosBy, &oosAt, &oosReason,
		&permBy, &permAt,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.Category = models.ReportCategory(category)
	r.Status = models.ReportStatus(status)
	if photoTakenAt.Valid {
		r.PhotoTakenAt = &photoTakenAt.Time
	}
	if isWaste.Valid {
		r.Verdict = &models.ClassificationVerdict{
			IsWaste:      isWaste.Bool,
			Confidence:   confidence.Float64,
			Tier:         models.ConfidenceTier(tier.String),
			ModelVersion: modelVersion.String,
		}
	}
	r.AssignedTo = strPtr(assignedTo)
	r.AssignedAt = timePtr(assignedAt)
	r.AssignmentMessage = strPtr(assignmentMessage)
	r.ResolvedBy = strPtr(resolvedBy)
	r.ResolvedAt = timePtr(resolvedAt)
	r.ResolvedPhotoURL = strPtr(resolvedPhotoURL)
	if resolvedLat.Valid && resolvedLon.Valid {
		r.ResolvedLocation = &models.GeoPoint{
			Latitude:  resolvedLat.Float64,
			Longitude: resolvedLon.Float64,
		}
	}
	r.ResolvedAddress = strPtr(resolvedAddress)
	if distance.Valid {
		r.DistanceToReported = &distance.Float64
	}
	r.RejectedBy = strPtr(rejectedBy)
	r.RejectedAt = timePtr(rejectedAt)
	r.RejectionReason = strPtr(rejectionReason)
	r.OutOfScopeBy = strPtr(oosBy)
	r.OutOfScopeAt = timePtr(oosAt)
	r.OutOfScopeReason = strPtr(oosReason)
	r.PermanentResolvedBy = strPtr(permBy)
	r.PermanentResolvedAt = timePtr(permAt)
	return &r, nil
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}

func nullableString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
