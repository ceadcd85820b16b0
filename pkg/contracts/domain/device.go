package domain

import "time"

// Device is a managed network device on a monitored instance. Its count is
// what the license quota limits.
type Device struct {
	ID         uint      `json:"id"`
	Name       string    `json:"name"`
	IPAddress  string    `json:"ip_address"`
	DeviceType string    `json:"device_type"`
	Location   string    `json:"location,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DeviceInput is the validated payload for creating a device
type DeviceInput struct {
	Name       string `json:"name" validate:"required,max=255"`
	IPAddress  string `json:"ip_address" validate:"required,ip|hostname"`
	DeviceType string `json:"device_type" validate:"omitempty,max=64"`
	Location   string `json:"location" validate:"omitempty,max=255"`
}

// ImportResult reports the outcome of a bulk device import
type ImportResult struct {
	Imported int    `json:"imported"`
	Rejected int    `json:"rejected"`
	Invalid  int    `json:"invalid"`
	Stopped  bool   `json:"stopped"`
	Message  string `json:"message,omitempty"`
}
