package store

import "errors"

var (
	// ErrNotFound is returned when no license matches the key
	ErrNotFound = errors.New("license not found")
	// ErrDuplicateKey is returned when issuing a key that already exists
	ErrDuplicateKey = errors.New("license key already exists")
	// ErrBindingChanged is returned when a check-in finds the license no
	// longer bound to the calling installation
	ErrBindingChanged = errors.New("license binding changed")
)
