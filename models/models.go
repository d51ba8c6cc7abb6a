package models

import "time"

// ReportStatus is the lifecycle state of a report.
type ReportStatus string

const (
	StatusPending           ReportStatus = "pending"
	StatusInProgress        ReportStatus = "in-progress"
	StatusResolved          ReportStatus = "resolved"
	StatusRejected          ReportStatus = "rejected"
	StatusPermanentResolved ReportStatus = "permanent-resolved"
	StatusOutOfScope        ReportStatus = "out-of-scope"
)

// IsTerminal reports whether no further transition is permitted from s.
func (s ReportStatus) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusOutOfScope, StatusPermanentResolved:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known lifecycle states.
func (s ReportStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusResolved,
		StatusRejected, StatusPermanentResolved, StatusOutOfScope:
		return true
	}
	return false
}

// ReportCategory classifies the kind of waste reported.
type ReportCategory string

const (
	CategoryStandard  ReportCategory = "standard"
	CategoryHazardous ReportCategory = "hazardous"
	CategoryLarge     ReportCategory = "large"
)

// ParseCategory maps a raw category string to a known category,
// defaulting to standard.
func ParseCategory(raw string) ReportCategory {
	switch ReportCategory(raw) {
	case CategoryHazardous:
		return CategoryHazardous
	case CategoryLarge:
		return CategoryLarge
	default:
		return CategoryStandard
	}
}

// ConfidenceTier buckets a classification confidence score.
type ConfidenceTier string

const (
	TierUnverified ConfidenceTier = "unverified"
	TierMedium     ConfidenceTier = "medium"
	TierHigh       ConfidenceTier = "high"
)

// Thresholds used by the classification verdict.
const (
	// WasteThreshold is the minimum waste-class confidence for a
	// detection to count as waste at all.
	WasteThreshold = 0.25
	// MediumTierThreshold is the lower bound of the medium tier.
	MediumTierThreshold = 0.65
	// HighTierThreshold is the lower bound of the high tier; also gates
	// IsHighConfidence and IsVerifiedWaste.
	HighTierThreshold = 0.85
)

// TierFor returns the confidence tier for a score in [0,1].
func TierFor(confidence float64) ConfidenceTier {
	switch {
	case confidence >= HighTierThreshold:
		return TierHigh
	case confidence >= MediumTierThreshold:
		return TierMedium
	default:
		return TierUnverified
	}
}

// ClassificationVerdict is the normalized output of the classification
// step. It is embedded on the report as a snapshot at creation time.
type ClassificationVerdict struct {
	IsWaste      bool           `json:"is_waste"`
	Confidence   float64        `json:"confidence"`
	Tier         ConfidenceTier `json:"tier"`
	ModelVersion string         `json:"model_version"`
}

// IsHighConfidence reports whether the verdict clears the high tier.
func (v ClassificationVerdict) IsHighConfidence() bool {
	return v.Confidence >= HighTierThreshold
}

// IsVerifiedWaste reports whether the image is waste at high confidence.
func (v ClassificationVerdict) IsVerifiedWaste() bool {
	return v.IsWaste && v.Confidence >= HighTierThreshold
}

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// StoredObject identifies an uploaded binary in object storage.
type StoredObject struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

// Report is the central entity: a citizen waste sighting and the
// state it has reached in the supervisor workflow.
type Report struct {
	Seq    int64  `json:"seq"`
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	Title        string         `json:"title"`
	Details      string         `json:"details"`
	Address      string         `json:"address"`
	Location     GeoPoint       `json:"location"`
	PhotoURL     string         `json:"photo_url"`
	StorageID    string         `json:"storage_id"`
	PhotoTakenAt *time.Time     `json:"photo_taken_at,omitempty"`
	Category     ReportCategory `json:"category"`
	Status       ReportStatus   `json:"status"`

	// Verdict is nil when verification was bypassed via force submit.
	Verdict *ClassificationVerdict `json:"ai_verification,omitempty"`

	AssignedTo        *string    `json:"assigned_to,omitempty"`
	AssignedAt        *time.Time `json:"assigned_at,omitempty"`
	AssignmentMessage *string    `json:"assignment_message,omitempty"`

	ResolvedBy         *string    `json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	ResolvedPhotoURL   *string    `json:"resolved_photo_url,omitempty"`
	ResolvedLocation   *GeoPoint  `json:"resolved_location,omitempty"`
	ResolvedAddress    *string    `json:"resolved_address,omitempty"`
	DistanceToReported *float64   `json:"distance_to_reported,omitempty"`

	RejectedBy      *string    `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`

	OutOfScopeBy     *string    `json:"out_of_scope_by,omitempty"`
	OutOfScopeAt     *time.Time `json:"out_of_scope_at,omitempty"`
	OutOfScopeReason *string    `json:"out_of_scope_reason,omitempty"`

	PermanentResolvedBy *string    `json:"permanent_resolved_by,omitempty"`
	PermanentResolvedAt *time.Time `json:"permanent_resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is the collaborator entity referenced by reports.
type User struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	ReportCount int    `json:"report_count"`
	Points      int    `json:"points"`
}

const (
	RoleUser       = "user"
	RoleSupervisor = "supervisor"
)
