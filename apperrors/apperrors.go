// Package apperrors defines the stable machine-readable failure codes
// the API exposes. The code is the contract consumers program against;
// the message is for humans only.
package apperrors

import "net/http"

// Error codes, one per distinct failure stage.
const (
	CodeMissingFields          = "MISSING_FIELDS"
	CodeImageTooLarge          = "IMAGE_TOO_LARGE"
	CodeInvalidImageFormat     = "INVALID_IMAGE_FORMAT"
	CodeInvalidCoordinates     = "INVALID_COORDINATES"
	CodeInvalidCoordinateRange = "INVALID_COORDINATES_RANGE"
	CodeNotWaste               = "NOT_WASTE"
	CodeLowConfidence          = "LOW_CONFIDENCE"
	CodeServiceUnavailable     = "SERVICE_UNAVAILABLE"
	CodeCloudinaryTimeout      = "CLOUDINARY_TIMEOUT"
	CodeCloudinaryError        = "CLOUDINARY_ERROR"
	CodeValidation             = "VALIDATION_ERROR"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeStaleStatus            = "STALE_STATUS"
	CodeReportNotFound         = "REPORT_NOT_FOUND"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeInternal               = "INTERNAL_ERROR"
)

// AppError is a failure with a stable code and an HTTP status.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Details any    `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return e.Code + ": " + e.Message
}

// New builds an AppError with an explicit HTTP status.
func New(code string, status int, message string) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// WithDetails attaches structured diagnostics and returns e.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

func MissingFields(fields []string) *AppError {
	return New(CodeMissingFields, http.StatusBadRequest,
		"required fields are missing").WithDetails(map[string]any{"missing": fields})
}

func ImageTooLarge(limit, got int) *AppError {
	return New(CodeImageTooLarge, http.StatusBadRequest,
		"image exceeds the maximum allowed size").
		WithDetails(map[string]any{"limit_bytes": limit, "received_bytes": got})
}

func InvalidImageFormat(msg string) *AppError {
	return New(CodeInvalidImageFormat, http.StatusBadRequest, msg)
}

func InvalidCoordinates(msg string) *AppError {
	return New(CodeInvalidCoordinates, http.StatusBadRequest, msg)
}

// InvalidCoordinateRange reports out-of-range coordinates together with
// the valid ranges and the values actually received.
func InvalidCoordinateRange(lat, lon float64) *AppError {
	return New(CodeInvalidCoordinateRange, http.StatusBadRequest,
		"coordinates are out of range").WithDetails(map[string]any{
		"valid_latitude":  "[-90, 90]",
		"valid_longitude": "[-180, 180]",
		"received": map[string]float64{
			"latitude":  lat,
			"longitude": lon,
		},
	})
}

func NotWaste() *AppError {
	return New(CodeNotWaste, http.StatusBadRequest,
		"the submitted image does not appear to depict waste")
}

func LowConfidence(confidence float64) *AppError {
	return New(CodeLowConfidence, http.StatusBadRequest,
		"waste detection confidence is below the admission threshold").
		WithDetails(map[string]any{"confidence": confidence})
}

func ServiceUnavailable(cause string) *AppError {
	return New(CodeServiceUnavailable, http.StatusServiceUnavailable,
		"image verification service is unavailable").
		WithDetails(map[string]any{"cause": cause})
}

func CloudinaryTimeout() *AppError {
	return New(CodeCloudinaryTimeout, http.StatusGatewayTimeout,
		"image upload timed out")
}

func CloudinaryError(cause string) *AppError {
	return New(CodeCloudinaryError, http.StatusBadGateway,
		"image upload failed").WithDetails(map[string]any{"cause": cause})
}

func Validation(msg string) *AppError {
	return New(CodeValidation, http.StatusBadRequest, msg)
}

func InvalidTransition(msg string) *AppError {
	return New(CodeInvalidTransition, http.StatusConflict, msg)
}

func StaleStatus() *AppError {
	return New(CodeStaleStatus, http.StatusConflict,
		"report status changed concurrently, transition not applied")
}

func ReportNotFound() *AppError {
	return New(CodeReportNotFound, http.StatusNotFound, "report not found")
}

func Internal(msg string) *AppError {
	return New(CodeInternal, http.StatusInternalServerError, msg)
}

// AsAppError unwraps err into an *AppError, or wraps it as an internal
// error so handlers always have a code to return.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*AppError); ok {
		return ae
	}
	return Internal(err.Error())
}
