package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jknair0/beforeeach"

	"report-service/apperrors"
	"report-service/lifecycle"
	"report-service/models"
)

var (
	db      *sql.DB
	mock    sqlmock.Sqlmock
	service *Service
)

func setUp() {
	db, mock, _ = sqlmock.New()
	service = NewService(db)
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

func pendingReport() *models.Report {
	return &models.Report{
		Seq:    42,
		ID:     "report-42",
		UserID: "u-1",
		Status: models.StatusPending,
		Location: models.GeoPoint{
			Latitude:  52.52,
			Longitude: 13.405,
		},
	}
}

func TestCreateReport(t *testing.T) {
	it(func() {
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		rep := &models.Report{
			ID:        "report-1",
			UserID:    "u-1",
			Title:     "Overflowing bin",
			Details:   "details",
			Address:   "Main St 12",
			Location:  models.GeoPoint{Latitude: 52.52, Longitude: 13.405},
			PhotoURL:  "https://img.example/x.jpg",
			StorageID: "reports/x",
			Category:  models.CategoryStandard,
			Status:    models.StatusPending,
			Verdict: &models.ClassificationVerdict{
				IsWaste:      true,
				Confidence:   0.91,
				Tier:         models.TierHigh,
				ModelVersion: "waste-detector-2",
			},
			CreatedAt: now,
			UpdatedAt: now,
		}

		mock.ExpectExec("INSERT INTO reports").
			WillReturnResult(sqlmock.NewResult(7, 1))

		if err := service.CreateReport(context.Background(), rep); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rep.Seq != 7 {
			t.Errorf("expected seq filled from insert id, got %d", rep.Seq)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})
}

func TestCreateReportConstraintViolation(t *testing.T) {
	it(func() {
		mock.ExpectExec("INSERT INTO reports").
			WillReturnError(&mysql.MySQLError{Number: 1406,
				Message: "Data too long for column 'title' at row 1"})

		err := service.CreateReport(context.Background(), &models.Report{ID: "report-1", UserID: "u-1"})
		var ae *apperrors.AppError
		if !errors.As(err, &ae) || ae.Code != apperrors.CodeValidation {
			t.Fatalf("expected VALIDATION_ERROR for a constraint violation, got %v", err)
		}
	})
}

func TestCreateReportDatabaseFaultStaysInternal(t *testing.T) {
	it(func() {
		mock.ExpectExec("INSERT INTO reports").
			WillReturnError(errors.New("connection lost"))

		err := service.CreateReport(context.Background(), &models.Report{ID: "report-1", UserID: "u-1"})
		var ae *apperrors.AppError
		if err == nil || errors.As(err, &ae) {
			t.Fatalf("expected a plain wrapped error, got %v", err)
		}
	})
}

func TestApplyTransitionConditionalUpdate(t *testing.T) {
	it(func() {
		rep := pendingReport()
		rep.Status = models.StatusInProgress
		req := lifecycle.Request{
			Kind:    lifecycle.KindResolve,
			ActorID: "sup-1",
			Evidence: &lifecycle.Evidence{
				PhotoURL: "https://img.example/after.jpg",
				Location: &models.GeoPoint{Latitude: 52.521, Longitude: 13.406},
				Address:  "Alexanderplatz 1",
			},
		}

		// The update must match on the expected current status.
		mock.ExpectExec("UPDATE reports SET status = (.+) WHERE seq = (.+) AND status = (.+)").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := service.ApplyTransition(context.Background(), rep, req, time.Now())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})
}

func TestApplyTransitionStaleStatus(t *testing.T) {
	it(func() {
		rep := pendingReport()
		rep.Status = models.StatusInProgress
		req := lifecycle.Request{Kind: lifecycle.KindReject, ActorID: "sup-1", Reason: "duplicate"}

		// A concurrent transition already moved the report: 0 rows match.
		mock.ExpectExec("UPDATE reports SET status = (.+)").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.ApplyTransition(context.Background(), rep, req, time.Now())
		var ae *apperrors.AppError
		if !errors.As(err, &ae) || ae.Code != apperrors.CodeStaleStatus {
			t.Fatalf("expected STALE_STATUS, got %v", err)
		}
	})
}

func TestApplyTransitionKinds(t *testing.T) {
	it(func() {
		cases := []struct {
			name string
			from models.ReportStatus
			req  lifecycle.Request
		}{
			{"assign", models.StatusPending,
				lifecycle.Request{Kind: lifecycle.KindAssign, ActorID: "s", AssigneeID: "sup-2", Message: "take this"}},
			{"reject", models.StatusInProgress,
				lifecycle.Request{Kind: lifecycle.KindReject, ActorID: "s", Reason: "duplicate"}},
			{"out of scope", models.StatusPending,
				lifecycle.Request{Kind: lifecycle.KindOutOfScope, ActorID: "s", Reason: "private land"}},
			{"permanent resolve", models.StatusResolved,
				lifecycle.Request{Kind: lifecycle.KindPermanentResolve, ActorID: "s"}},
		}

		for _, tc := range cases {
			rep := pendingReport()
			rep.Status = tc.from

			mock.ExpectExec("UPDATE reports SET status = (.+)").
				WillReturnResult(sqlmock.NewResult(0, 1))

			if err := service.ApplyTransition(context.Background(), rep, tc.req, time.Now()); err != nil {
				t.Errorf("%s: unexpected error: %v", tc.name, err)
			}
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})
}

func TestDeleteOwnReport(t *testing.T) {
	it(func() {
		mock.ExpectExec("DELETE FROM reports WHERE seq = (.+) AND user_id = (.+) AND status IN (.+)").
			WithArgs(int64(42), "u-1", "pending", "in-progress").
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := service.DeleteOwnReport(context.Background(), 42, "u-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})
}

func TestDeleteOwnReportNotDeletable(t *testing.T) {
	it(func() {
		mock.ExpectExec("DELETE FROM reports").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.DeleteOwnReport(context.Background(), 42, "u-1")
		var ae *apperrors.AppError
		if !errors.As(err, &ae) || ae.Code != apperrors.CodeStaleStatus {
			t.Fatalf("expected STALE_STATUS for a non-deletable report, got %v", err)
		}
	})
}

func TestApplyReportDelta(t *testing.T) {
	it(func() {
		mock.ExpectExec("INSERT INTO users \\(id, points, report_count\\)").
			WithArgs("u-1", 20, 1, 20, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := service.ApplyReportDelta(context.Background(), "u-1", 20, 1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Deletion reverses exactly the granted delta.
		mock.ExpectExec("INSERT INTO users \\(id, points, report_count\\)").
			WithArgs("u-1", -20, -1, -20, -1).
			WillReturnResult(sqlmock.NewResult(0, 2))

		if err := service.ApplyReportDelta(context.Background(), "u-1", -20, -1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})
}

func TestGetReportByIDNotFound(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT (.+) FROM reports WHERE id = (.+)").
			WillReturnError(sql.ErrNoRows)

		_, err := service.GetReportByID(context.Background(), "missing")
		var ae *apperrors.AppError
		if !errors.As(err, &ae) || ae.Code != apperrors.CodeReportNotFound {
			t.Fatalf("expected REPORT_NOT_FOUND, got %v", err)
		}
	})
}

func TestListReportsByStatus(t *testing.T) {
	it(func() {
		now := time.Now()
		rows := sqlmock.NewRows([]string{
			"seq", "id", "user_id", "title", "details", "address", "latitude", "longitude",
			"photo_url", "storage_id", "photo_taken_at", "category", "status",
			"is_waste", "confidence", "tier", "model_version",
			"assigned_to", "assigned_at", "assignment_message",
			"resolved_by", "resolved_at", "resolved_photo_url", "resolved_latitude",
			"resolved_longitude", "resolved_address", "distance_to_reported",
			"rejected_by", "rejected_at", "rejection_reason",
			"out_of_scope_by", "out_of_scope_at", "out_of_scope_reason",
			"permanent_resolved_by", "permanent_resolved_at",
			"created_at", "updated_at",
		}).AddRow(
			1, "report-1", "u-1", "Overflowing bin", "details", "Main St 12", 52.52, 13.405,
			"https://img.example/x.jpg", "reports/x", nil, "standard", "pending",
			true, 0.91, "high", "waste-detector-2",
			nil, nil, nil,
			nil, nil, nil, nil,
			nil, nil, nil,
			nil, nil, nil,
			nil, nil, nil,
			nil, nil,
			now, now,
		)

		mock.ExpectQuery("SELECT (.+) FROM reports WHERE status = (.+)").
			WithArgs("pending", 20, 0).
			WillReturnRows(rows)

		reports, err := service.ListReportsByStatus(context.Background(), models.StatusPending, 20, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(reports) != 1 {
			t.Fatalf("expected 1 report, got %d", len(reports))
		}
		rep := reports[0]
		if rep.Status != models.StatusPending || rep.Verdict == nil || rep.Verdict.Tier != models.TierHigh {
			t.Errorf("unexpected report: %+v", rep)
		}
		if rep.AssignedTo != nil || rep.DistanceToReported != nil {
			t.Errorf("expected empty lifecycle metadata, got %+v", rep)
		}
	})
}

func TestSupervisorStats(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT").
			WithArgs("sup-1", "sup-1", "sup-1", "sup-1").
			WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c", "d"}).AddRow(5, 3, 1, 1))

		stats, err := service.SupervisorStats(context.Background(), "sup-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats.Assigned != 5 || stats.Resolved != 3 || stats.Rejected != 1 || stats.OutOfScope != 1 {
			t.Errorf("unexpected stats: %+v", stats)
		}
	})
}
