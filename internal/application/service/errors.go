package service

import "errors"

// Typed errors surfaced by the application services. The HTTP layer maps
// these to response codes; none of them is retried automatically except
// ErrConflict, which is retried internally by one re-read before surfacing.
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrForbidden indicates the caller does not own the record
	ErrForbidden = errors.New("access denied")

	// ErrPreconditionFailed indicates the task is in the wrong status for
	// the requested operation
	ErrPreconditionFailed = errors.New("operation not allowed in current status")

	// ErrMissingPhoneNumber indicates neither the contact nor the task
	// resolves to a destination number
	ErrMissingPhoneNumber = errors.New("no phone number available for this task")

	// ErrInvalidPhoneNumber indicates a supplied number failed normalization
	ErrInvalidPhoneNumber = errors.New("invalid phone number")

	// ErrTelephonyNotConfigured indicates the telephony provider has no
	// credentials; the task is left untouched so the call can be retried
	ErrTelephonyNotConfigured = errors.New("telephony provider not configured")

	// ErrConflict indicates a concurrent update race was lost twice
	ErrConflict = errors.New("concurrent update conflict")

	// ErrExternalService indicates a planner or telephony failure that
	// survived the retry policy
	ErrExternalService = errors.New("external service failure")
)
