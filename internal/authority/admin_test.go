package authority

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/pranto48/text-sub000/internal/config"
	apperrors "github.com/pranto48/text-sub000/internal/errors"
	"github.com/pranto48/text-sub000/internal/infrastructure"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

func newTestAdmin(t *testing.T, repo AdminStore, reaper *Reaper, metrics *Metrics) *Admin {
	t.Helper()
	a := NewAdmin(repo, reaper, metrics, infrastructure.NewLogger(&bytes.Buffer{}, "error"))
	a.now = func() time.Time { return testNow }
	return a
}

func TestAdmin_Issue(t *testing.T) {
	repo := setupStore(t)
	reader := sdkmetric.NewManualReader()
	metrics, err := NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
	require.NoError(t, err)
	admin := newTestAdmin(t, repo, nil, metrics)
	ctx := context.Background()

	expires := testNow.Add(365 * 24 * time.Hour)
	lic, err := admin.Issue(ctx, domain.IssueLicenseRequest{
		OwnerID:    "owner-1",
		Status:     domain.LicenseStatusActive,
		MaxDevices: 20,
		ExpiresAt:  &expires,
	})
	require.NoError(t, err)
	assert.False(t, lic.Bound())

	stored, err := admin.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", stored.OwnerID)
	assert.Equal(t, 20, stored.MaxDevices)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "licenses_issued_total" {
				found = true
			}
		}
	}
	assert.True(t, found)
}

func TestAdmin_IssueValidation(t *testing.T) {
	admin := newTestAdmin(t, setupStore(t), nil, nil)
	past := testNow.Add(-time.Hour)

	tests := []struct {
		name string
		req  domain.IssueLicenseRequest
	}{
		{"missing owner", domain.IssueLicenseRequest{Status: domain.LicenseStatusActive, MaxDevices: 1}},
		{"bad status", domain.IssueLicenseRequest{OwnerID: "o", Status: domain.LicenseStatusRevoked, MaxDevices: 1}},
		{"zero devices", domain.IssueLicenseRequest{OwnerID: "o", Status: domain.LicenseStatusFree}},
		{"expiry in past", domain.IssueLicenseRequest{OwnerID: "o", Status: domain.LicenseStatusFree, MaxDevices: 1, ExpiresAt: &past}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := admin.Issue(context.Background(), tt.req)
			var apiErr *apperrors.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, 400, apiErr.StatusCode)
		})
	}
}

func TestAdmin_IssueRetriesOnCollision(t *testing.T) {
	repo := setupStore(t)
	seed(t, repo, domain.License{Key: "DUP"})
	admin := newTestAdmin(t, repo, nil, nil)

	keys := []string{"DUP", "DUP", "FRESH"}
	admin.keygen = func() (string, error) {
		k := keys[0]
		keys = keys[1:]
		return k, nil
	}

	lic, err := admin.Issue(context.Background(), domain.IssueLicenseRequest{
		OwnerID: "o", Status: domain.LicenseStatusFree, MaxDevices: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "FRESH", lic.Key)

	admin.keygen = func() (string, error) { return "DUP", nil }
	_, err = admin.Issue(context.Background(), domain.IssueLicenseRequest{
		OwnerID: "o", Status: domain.LicenseStatusFree, MaxDevices: 1,
	})
	assert.Error(t, err)
}

func TestAdmin_ReleaseAndRevoke(t *testing.T) {
	repo := setupStore(t)
	seed(t, repo, domain.License{Key: "BOUND", BoundInstallationID: "inst-a"})
	admin := newTestAdmin(t, repo, nil, nil)
	ctx := context.Background()

	released, err := admin.Release(ctx, "BOUND")
	require.NoError(t, err)
	assert.False(t, released.Bound())

	revoked, err := admin.Revoke(ctx, "BOUND")
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseStatusRevoked, revoked.Status)
	assert.NotNil(t, revoked.RevokedAt)

	_, err = admin.Release(ctx, "MISSING")
	assert.ErrorIs(t, err, apperrors.ErrLicenseNotFound)
	_, err = admin.Revoke(ctx, "MISSING")
	assert.ErrorIs(t, err, apperrors.ErrLicenseNotFound)
	_, err = admin.Get(ctx, "MISSING")
	assert.ErrorIs(t, err, apperrors.ErrLicenseNotFound)
}

func TestAdmin_List(t *testing.T) {
	repo := setupStore(t)
	seed(t, repo, domain.License{Key: "A"})
	seed(t, repo, domain.License{Key: "B", Status: domain.LicenseStatusRevoked})
	admin := newTestAdmin(t, repo, nil, nil)
	ctx := context.Background()

	all, err := admin.List(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	revoked, err := admin.List(ctx, domain.LicenseStatusRevoked, 10, 0)
	require.NoError(t, err)
	require.Len(t, revoked, 1)
	assert.Equal(t, "B", revoked[0].Key)

	_, err = admin.List(ctx, "gold", 10, 0)
	assert.Error(t, err)
}

func TestAdmin_RunReaper(t *testing.T) {
	repo := setupStore(t)
	dormant := testNow.Add(-400 * 24 * time.Hour)
	seed(t, repo, domain.License{Key: "OLD", LastActiveAt: &dormant})

	withoutReaper := newTestAdmin(t, repo, nil, nil)
	_, err := withoutReaper.RunReaper(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavailable)

	reaper := NewReaper(repo, config.ReaperConfig{DormancyPeriod: config.DefaultDormancyPeriod}, nil,
		infrastructure.NewLogger(&bytes.Buffer{}, "error"))
	reaper.now = func() time.Time { return testNow }

	result, err := newTestAdmin(t, repo, reaper, nil).RunReaper(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Revoked)
}
