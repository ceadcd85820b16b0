package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pranto48/text-sub000/internal/config"
	"github.com/pranto48/text-sub000/internal/infrastructure"
	customMiddleware "github.com/pranto48/text-sub000/internal/middleware"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

const adminToken = "s3cret-admin-token"

func testLogger() *slog.Logger {
	return infrastructure.NewLogger(io.Discard, "error")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(dir, "records.db")
	cfg.Database.RetryAttempts = 1
	cfg.LocalStore.Backend = config.LocalStoreSQLite
	cfg.LocalStore.SQLitePath = filepath.Join(dir, "instance.db")
	cfg.Telemetry.TraceExporter = "none"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	return cfg
}

func newTestAuthority(t *testing.T) (*Authority, *httptest.Server) {
	t.Helper()
	cfg := testConfig(t)

	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	require.NoError(t, err)
	cfg.Security.AdminTokenHash = string(hash)

	auth, err := NewAuthority(context.Background(), cfg, testLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(auth.Router)
	t.Cleanup(func() {
		srv.Close()
		_ = auth.Close(context.Background())
	})
	return auth, srv
}

func newTestMonitor(t *testing.T, authorityURL, key string) (*Monitor, *httptest.Server) {
	t.Helper()
	cfg := testConfig(t)
	cfg.License.AuthorityURL = authorityURL
	cfg.License.Key = key
	cfg.License.CheckTimeout = 2 * time.Second

	mon, err := NewMonitor(context.Background(), cfg, testLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(mon.Router)
	t.Cleanup(func() {
		srv.Close()
		mon.License.Wait()
		_ = mon.Close(context.Background())
	})
	return mon, srv
}

func doJSON(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func issueLicense(t *testing.T, authorityURL string, maxDevices int) string {
	t.Helper()
	resp := doJSON(t, http.MethodPost, authorityURL+"/api/v1/admin/licenses", adminToken,
		domain.IssueLicenseRequest{OwnerID: "owner-1", Status: domain.LicenseStatusActive, MaxDevices: maxDevices})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var lic domain.License
	decode(t, resp, &lic)
	require.NotEmpty(t, lic.Key)
	return lic.Key
}

func TestAuthority_HealthAndMetrics(t *testing.T) {
	_, srv := newTestAuthority(t)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var health struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, resp, &health)
	assert.Equal(t, "ok", health.Status)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthority_AdminRequiresToken(t *testing.T) {
	_, srv := newTestAuthority(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/admin/licenses", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/admin/licenses", "wrong", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthority_VerifyBindsOnFirstUse(t *testing.T) {
	_, srv := newTestAuthority(t)
	key := issueLicense(t, srv.URL, 3)

	verify := func(installation string) domain.VerifyResponse {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/license/verify", "", domain.VerifyRequest{
			LicenseKey:     key,
			CallerID:       "user-1",
			InstallationID: installation,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out domain.VerifyResponse
		decode(t, resp, &out)
		return out
	}

	first := verify("inst-a")
	assert.True(t, first.Success)
	assert.Equal(t, domain.ActualStatusActive, first.ActualStatus)
	require.NotNil(t, first.MaxDevices)
	assert.Equal(t, 3, *first.MaxDevices)

	other := verify("inst-b")
	assert.False(t, other.Success)
	assert.Equal(t, domain.ActualStatusInUse, other.ActualStatus)
}

func TestAuthority_UnknownRouteIsProblem(t *testing.T) {
	_, srv := newTestAuthority(t)

	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var problem map[string]interface{}
	decode(t, resp, &problem)
	assert.Equal(t, "/nope", problem["instance"])
	assert.NotEmpty(t, problem["trace_id"])
}

func TestMonitor_EnforcesQuotaFromAuthority(t *testing.T) {
	_, authSrv := newTestAuthority(t)
	key := issueLicense(t, authSrv.URL, 1)
	_, monSrv := newTestMonitor(t, authSrv.URL, key)

	resp := doJSON(t, http.MethodGet, monSrv.URL+"/api/license/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status domain.LicenseStatusView
	decode(t, resp, &status)
	assert.Equal(t, domain.StatusActive, status.LicenseStatusCode)
	assert.Equal(t, 1, status.MaxDevices)
	assert.True(t, status.CanAddDevice)
	assert.NotEmpty(t, status.InstallationID)

	device := domain.DeviceInput{Name: "core-switch", IPAddress: "10.0.0.1", DeviceType: "switch"}
	resp = doJSON(t, http.MethodPost, monSrv.URL+"/api/devices", "", device)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	device.Name = "edge-router"
	device.IPAddress = "10.0.0.2"
	resp = doJSON(t, http.MethodPost, monSrv.URL+"/api/devices", "", device)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, monSrv.URL+"/api/devices", "", nil)
	var list []domain.Device
	decode(t, resp, &list)
	assert.Len(t, list, 1)
}

func TestMonitor_WithoutKeyAnnotatesResponses(t *testing.T) {
	_, authSrv := newTestAuthority(t)
	_, monSrv := newTestMonitor(t, authSrv.URL, "")

	resp := doJSON(t, http.MethodGet, monSrv.URL+"/api/devices", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(customMiddleware.HeaderLicenseStatus))

	resp = doJSON(t, http.MethodPost, monSrv.URL+"/api/devices", "",
		domain.DeviceInput{Name: "core-switch", IPAddress: "10.0.0.1"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestMonitor_UpdateKeyRechecks(t *testing.T) {
	_, authSrv := newTestAuthority(t)
	key := issueLicense(t, authSrv.URL, 5)
	_, monSrv := newTestMonitor(t, authSrv.URL, "")

	resp := doJSON(t, http.MethodPut, monSrv.URL+"/api/license/key", "",
		domain.UpdateLicenseKeyRequest{LicenseKey: key})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status domain.LicenseStatusView
	decode(t, resp, &status)
	assert.Equal(t, domain.StatusActive, status.LicenseStatusCode)
	assert.Equal(t, key, status.AppLicenseKey)
	assert.Equal(t, 5, status.MaxDevices)
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = 0
	cfg.License.AuthorityURL = "http://127.0.0.1:1"

	mon, err := NewMonitor(context.Background(), cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestRunReaperOnce_EmptyStore(t *testing.T) {
	cfg := testConfig(t)

	result, err := RunReaperOnce(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Revoked)
}
