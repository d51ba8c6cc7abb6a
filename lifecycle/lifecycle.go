// Package lifecycle models the report state machine: the states a
// report moves through after admission and the guarded transitions
// between them. Guards are pure; applying a transition to storage is
// the database layer's concern.
package lifecycle

import (
	"fmt"

	"report-service/apperrors"
	"report-service/models"
)

// Kind tags a transition request.
type Kind string

const (
	KindAssign           Kind = "assign"
	KindResolve          Kind = "resolve"
	KindReject           Kind = "reject"
	KindOutOfScope       Kind = "out-of-scope"
	KindPermanentResolve Kind = "permanent-resolve"
)

// Evidence is the proof of resolution required by a resolve transition.
// Location is nil when the request carried no resolution coordinates.
type Evidence struct {
	PhotoURL string
	Location *models.GeoPoint
	Address  string
}

// Request is a tagged transition request. Exactly the fields relevant
// to its Kind are consulted.
type Request struct {
	Kind    Kind
	ActorID string

	// assign
	AssigneeID string
	Message    string

	// resolve
	Evidence *Evidence

	// reject / out-of-scope
	Reason string
}

// Target returns the status the transition moves the report into.
func (r Request) Target() models.ReportStatus {
	switch r.Kind {
	case KindAssign:
		return models.StatusInProgress
	case KindResolve:
		return models.StatusResolved
	case KindReject:
		return models.StatusRejected
	case KindOutOfScope:
		return models.StatusOutOfScope
	case KindPermanentResolve:
		return models.StatusPermanentResolved
	}
	return ""
}

// allowedFrom lists the states each transition may start from.
var allowedFrom = map[Kind][]models.ReportStatus{
	KindAssign:           {models.StatusPending, models.StatusInProgress},
	KindResolve:          {models.StatusInProgress},
	KindReject:           {models.StatusInProgress},
	KindOutOfScope:       {models.StatusPending, models.StatusInProgress, models.StatusResolved},
	KindPermanentResolve: {models.StatusResolved},
}

// Validate checks a transition request against the report's current
// state and its required evidence. It never mutates the report; a nil
// return means the transition may be applied conditionally on the
// report still being in report.Status.
func Validate(report *models.Report, req Request) error {
	if req.ActorID == "" {
		return apperrors.Validation("acting supervisor is required")
	}

	allowed, ok := allowedFrom[req.Kind]
	if !ok {
		return apperrors.Validation(fmt.Sprintf("unknown transition %q", req.Kind))
	}
	if !statusIn(report.Status, allowed) {
		return apperrors.InvalidTransition(fmt.Sprintf(
			"cannot %s a report in status %q", req.Kind, report.Status))
	}

	switch req.Kind {
	case KindAssign:
		if req.AssigneeID == "" {
			return apperrors.Validation("assignee is required")
		}
		// Idempotency check: re-applying an identical assignment is
		// rejected rather than silently repeated.
		if report.AssignedTo != nil && *report.AssignedTo == req.AssigneeID {
			return apperrors.InvalidTransition("report is already assigned to this supervisor")
		}
	case KindResolve:
		if req.Evidence == nil {
			return apperrors.Validation("resolution evidence is required")
		}
		var missing []string
		if req.Evidence.PhotoURL == "" {
			missing = append(missing, "photo_url")
		}
		if req.Evidence.Address == "" {
			missing = append(missing, "address")
		}
		if req.Evidence.Location == nil || !validPoint(*req.Evidence.Location) {
			missing = append(missing, "location")
		}
		if len(missing) > 0 {
			return apperrors.Validation("resolution evidence is incomplete").
				WithDetails(map[string]any{"missing": missing})
		}
	case KindReject:
		if req.Reason == "" {
			return apperrors.Validation("a rejection reason is required")
		}
	case KindOutOfScope:
		if req.Reason == "" {
			return apperrors.Validation("an out-of-scope reason is required")
		}
	}
	return nil
}

func statusIn(s models.ReportStatus, set []models.ReportStatus) bool {
	for _, allowed := range set {
		if s == allowed {
			return true
		}
	}
	return false
}

func validPoint(p models.GeoPoint) bool {
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}
