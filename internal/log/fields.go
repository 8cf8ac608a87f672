package log

// Canonical field name constants for structured logging.
const (
	FieldComponent = "component"
	FieldRequestID = "request_id"
	FieldAttemptID = "attempt_id"
	FieldEvent     = "event"

	FieldEndpoint   = "endpoint"
	FieldStatus     = "status"
	FieldErrorKind  = "error_kind"
	FieldErrorCode  = "error_code"
	FieldProvenance = "provenance"

	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldVariant  = "variant_id"
	FieldTitleID  = "title_id"
)
