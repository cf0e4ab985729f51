package merger

import "errors"

var (
	// ErrMissingAlertID is returned at construction when detection usage has no alert to look up.
	ErrMissingAlertID = errors.New("merger: alert id is required for DETECTION usage")
	// ErrUnsupportedUsage is returned at construction for an unknown usage value.
	ErrUnsupportedUsage = errors.New("merger: unsupported usage")
	// ErrInvalidPeriod is returned at construction when a gap or duration does not parse.
	ErrInvalidPeriod = errors.New("merger: invalid period")
	// ErrIgnoreStateMismatch aborts a batch: a parent and a candidate from different
	// ignore tracks reached the merge decision.
	ErrIgnoreStateMismatch = errors.New("merger: ignore state mismatch between parent and candidate")
)
