package license

import (
	"context"

	"github.com/google/uuid"
)

// EnsureInstallationID returns the stored installation id, generating and
// persisting a new one on first boot. The id never changes afterwards.
func EnsureInstallationID(ctx context.Context, s *Settings) (string, error) {
	id, err := s.InstallationID(ctx)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := s.SetInstallationID(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}
