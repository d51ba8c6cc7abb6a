package models

// CreateReportRequest is the inbound payload for report submission.
// Coordinates arrive as strings so that non-numeric input can be
// reported distinctly from out-of-range input.
type CreateReportRequest struct {
	Title        string `json:"title"`
	Details      string `json:"details"`
	Address      string `json:"address"`
	Image        string `json:"image"` // base64, optionally data-URL prefixed
	Latitude     string `json:"latitude"`
	Longitude    string `json:"longitude"`
	Category     string `json:"category"`
	PhotoTakenAt string `json:"photo_taken_at"`
	ForceSubmit  bool   `json:"force_submit"`
}

// AssignRequest assigns a report to a supervisor.
type AssignRequest struct {
	AssigneeID string `json:"assignee_id"`
	Message    string `json:"message"`
}

// ResolveRequest carries the resolution evidence. Coordinates are
// pointers so an omitted location is distinguishable from a genuine
// resolution at (0, 0).
type ResolveRequest struct {
	PhotoURL  string   `json:"photo_url"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Address   string   `json:"address"`
}

// ReasonRequest carries a reason for reject / out-of-scope transitions.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// SupervisorStats summarizes a supervisor's activity.
type SupervisorStats struct {
	UserID     string `json:"user_id"`
	Assigned   int    `json:"assigned"`
	Resolved   int    `json:"resolved"`
	Rejected   int    `json:"rejected"`
	OutOfScope int    `json:"out_of_scope"`
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}
