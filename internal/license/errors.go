package license

import "errors"

var (
	// ErrNoLicenseKey means the instance has no license key configured
	ErrNoLicenseKey = errors.New("no license key configured")

	// ErrAuthorityUnavailable covers transport failures, timeouts and an
	// open circuit breaker
	ErrAuthorityUnavailable = errors.New("license authority unavailable")

	// ErrUnexpectedStatus is returned when the authority answers with a
	// non-200 status
	ErrUnexpectedStatus = errors.New("unexpected authority response status")

	// ErrMalformedResponse is returned when the authority body cannot be decoded
	ErrMalformedResponse = errors.New("malformed authority response")

	// ErrSettingNotFound is returned by a KV store for a missing key
	ErrSettingNotFound = errors.New("setting not found")
)
