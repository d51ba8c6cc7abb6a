package lifecycle

import (
	"errors"
	"math"
	"testing"

	"report-service/apperrors"
	"report-service/models"
)

func reportIn(status models.ReportStatus) *models.Report {
	return &models.Report{
		Seq:    7,
		ID:     "r-7",
		UserID: "u-1",
		Status: status,
		Location: models.GeoPoint{
			Latitude:  52.52,
			Longitude: 13.405,
		},
	}
}

func validResolve() Request {
	return Request{
		Kind:    KindResolve,
		ActorID: "sup-1",
		Evidence: &Evidence{
			PhotoURL: "https://img.example/after.jpg",
			Location: &models.GeoPoint{Latitude: 52.521, Longitude: 13.406},
			Address:  "Alexanderplatz 1",
		},
	}
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var ae *apperrors.AppError
	if !errors.As(err, &ae) {
		t.Fatalf("expected an AppError, got %v", err)
	}
	return ae.Code
}

func TestTransitionGuards(t *testing.T) {
	cases := []struct {
		name    string
		status  models.ReportStatus
		req     Request
		wantErr string // empty means allowed
	}{
		{"assign from pending", models.StatusPending,
			Request{Kind: KindAssign, ActorID: "s", AssigneeID: "a"}, ""},
		{"reassign in progress", models.StatusInProgress,
			Request{Kind: KindAssign, ActorID: "s", AssigneeID: "a"}, ""},
		{"assign resolved", models.StatusResolved,
			Request{Kind: KindAssign, ActorID: "s", AssigneeID: "a"}, apperrors.CodeInvalidTransition},
		{"assign rejected", models.StatusRejected,
			Request{Kind: KindAssign, ActorID: "s", AssigneeID: "a"}, apperrors.CodeInvalidTransition},
		{"resolve in progress", models.StatusInProgress, validResolve(), ""},
		{"resolve pending", models.StatusPending, validResolve(), apperrors.CodeInvalidTransition},
		{"resolve resolved again", models.StatusResolved, validResolve(), apperrors.CodeInvalidTransition},
		{"reject in progress", models.StatusInProgress,
			Request{Kind: KindReject, ActorID: "s", Reason: "duplicate"}, ""},
		{"reject pending", models.StatusPending,
			Request{Kind: KindReject, ActorID: "s", Reason: "duplicate"}, apperrors.CodeInvalidTransition},
		{"out of scope from pending", models.StatusPending,
			Request{Kind: KindOutOfScope, ActorID: "s", Reason: "private land"}, ""},
		{"out of scope from in progress", models.StatusInProgress,
			Request{Kind: KindOutOfScope, ActorID: "s", Reason: "private land"}, ""},
		{"out of scope from resolved", models.StatusResolved,
			Request{Kind: KindOutOfScope, ActorID: "s", Reason: "private land"}, ""},
		{"out of scope from terminal", models.StatusPermanentResolved,
			Request{Kind: KindOutOfScope, ActorID: "s", Reason: "private land"}, apperrors.CodeInvalidTransition},
		{"permanent resolve from resolved", models.StatusResolved,
			Request{Kind: KindPermanentResolve, ActorID: "s"}, ""},
		{"permanent resolve from in progress", models.StatusInProgress,
			Request{Kind: KindPermanentResolve, ActorID: "s"}, apperrors.CodeInvalidTransition},
		{"permanent resolve twice", models.StatusPermanentResolved,
			Request{Kind: KindPermanentResolve, ActorID: "s"}, apperrors.CodeInvalidTransition},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(reportIn(tc.status), tc.req)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("expected transition allowed, got %v", err)
				}
				return
			}
			if got := codeOf(t, err); got != tc.wantErr {
				t.Errorf("expected code %s, got %s", tc.wantErr, got)
			}
		})
	}
}

func TestValidateRequiresActor(t *testing.T) {
	req := Request{Kind: KindAssign, AssigneeID: "a"}
	if err := Validate(reportIn(models.StatusPending), req); err == nil {
		t.Fatal("expected an error without an actor")
	}
}

func TestAssignSameAssigneeRejected(t *testing.T) {
	rep := reportIn(models.StatusInProgress)
	assignee := "sup-2"
	rep.AssignedTo = &assignee

	err := Validate(rep, Request{Kind: KindAssign, ActorID: "s", AssigneeID: "sup-2"})
	if got := codeOf(t, err); got != apperrors.CodeInvalidTransition {
		t.Errorf("expected INVALID_TRANSITION for repeated assignment, got %s", got)
	}

	// A different assignee is a legitimate reassignment.
	if err := Validate(rep, Request{Kind: KindAssign, ActorID: "s", AssigneeID: "sup-3"}); err != nil {
		t.Errorf("expected reassignment allowed, got %v", err)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	err := Validate(reportIn(models.StatusInProgress), Request{Kind: KindReject, ActorID: "s"})
	if got := codeOf(t, err); got != apperrors.CodeValidation {
		t.Errorf("expected VALIDATION_ERROR, got %s", got)
	}
}

func TestResolveEvidenceValidation(t *testing.T) {
	rep := reportIn(models.StatusInProgress)

	err := Validate(rep, Request{Kind: KindResolve, ActorID: "s"})
	if got := codeOf(t, err); got != apperrors.CodeValidation {
		t.Errorf("expected VALIDATION_ERROR without evidence, got %s", got)
	}

	req := validResolve()
	req.Evidence.PhotoURL = ""
	req.Evidence.Address = ""
	err = Validate(rep, req)
	var ae *apperrors.AppError
	if !errors.As(err, &ae) {
		t.Fatalf("expected an AppError, got %v", err)
	}
	details, ok := ae.Details.(map[string]any)
	if !ok {
		t.Fatalf("expected structured details, got %T", ae.Details)
	}
	missing, _ := details["missing"].([]string)
	if len(missing) != 2 {
		t.Errorf("expected both missing evidence fields named, got %v", details["missing"])
	}

	req = validResolve()
	req.Evidence.Location.Latitude = 91
	err = Validate(rep, req)
	if got := codeOf(t, err); got != apperrors.CodeValidation {
		t.Errorf("expected VALIDATION_ERROR for out-of-range evidence location, got %s", got)
	}

	// An omitted location must not read as a resolution at (0, 0).
	req = validResolve()
	req.Evidence.Location = nil
	err = Validate(rep, req)
	if !errors.As(err, &ae) {
		t.Fatalf("expected an AppError for missing location, got %v", err)
	}
	details, ok = ae.Details.(map[string]any)
	if !ok {
		t.Fatalf("expected structured details, got %T", ae.Details)
	}
	missing, _ = details["missing"].([]string)
	if len(missing) != 1 || missing[0] != "location" {
		t.Errorf("expected missing location named, got %v", details["missing"])
	}

	// A genuine resolution at the origin stays expressible.
	req = validResolve()
	req.Evidence.Location = &models.GeoPoint{}
	if err := Validate(rep, req); err != nil {
		t.Errorf("expected origin resolution accepted, got %v", err)
	}
}

func TestDistanceMeters(t *testing.T) {
	a := models.GeoPoint{Latitude: 52.52, Longitude: 13.405}
	if d := DistanceMeters(a, a); d != 0 {
		t.Errorf("distance to self should be 0, got %f", d)
	}

	// Roughly one degree of latitude, about 111 km.
	b := models.GeoPoint{Latitude: 53.52, Longitude: 13.405}
	d := DistanceMeters(a, b)
	if math.Abs(d-111195) > 500 {
		t.Errorf("expected ~111.2 km, got %f m", d)
	}

	if d, e := DistanceMeters(a, b), DistanceMeters(b, a); math.Abs(d-e) > 1e-6 {
		t.Errorf("distance should be symmetric: %f vs %f", d, e)
	}
}
