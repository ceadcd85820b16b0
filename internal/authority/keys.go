package authority

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/pranto48/text-sub000/internal/config"
)

var keyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateLicenseKey returns a new opaque license key: 20 random bytes,
// base32 encoded and grouped with dashes (XXXX-XXXX-...).
func GenerateLicenseKey() (string, error) {
	buf := make([]byte, config.LicenseKeyEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	raw := keyEncoding.EncodeToString(buf)
	groups := make([]string, 0, len(raw)/config.LicenseKeyGroupSize+1)
	for i := 0; i < len(raw); i += config.LicenseKeyGroupSize {
		end := i + config.LicenseKeyGroupSize
		if end > len(raw) {
			end = len(raw)
		}
		groups = append(groups, raw[i:end])
	}
	return strings.Join(groups, "-"), nil
}
