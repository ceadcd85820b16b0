package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pranto48/text-sub000/internal/errors"
	"github.com/pranto48/text-sub000/internal/license"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

type MockLicenseService struct {
	mock.Mock
}

func (m *MockLicenseService) Status(ctx context.Context) (domain.LicenseStatusView, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.LicenseStatusView), args.Error(1)
}

func (m *MockLicenseService) ForceRecheck(ctx context.Context) domain.Verdict {
	return m.Called(ctx).Get(0).(domain.Verdict)
}

func (m *MockLicenseService) UpdateKey(ctx context.Context, key string) (domain.LicenseStatusView, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(domain.LicenseStatusView), args.Error(1)
}

func (m *MockLicenseService) Cached() domain.Verdict {
	return m.Called().Get(0).(domain.Verdict)
}

type MockDeviceService struct {
	mock.Mock
}

func (m *MockDeviceService) List(ctx context.Context) ([]domain.Device, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Device), args.Error(1)
}

func (m *MockDeviceService) Get(ctx context.Context, id uint) (*domain.Device, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Device), args.Error(1)
}

func (m *MockDeviceService) Create(ctx context.Context, in domain.DeviceInput) (*domain.Device, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Device), args.Error(1)
}

func (m *MockDeviceService) Delete(ctx context.Context, id uint) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockDeviceService) Import(ctx context.Context, filename string, r io.Reader) (*domain.ImportResult, error) {
	content, _ := io.ReadAll(r)
	args := m.Called(ctx, filename, string(content))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ImportResult), args.Error(1)
}

func instanceRouter(lic LicenseService, dev DeviceService, maxUpload int64) http.Handler {
	r := chi.NewRouter()
	lh := NewLicenseHandler(lic, testErrorHandler(), quietLogger())
	r.Mount("/api/license", lh.Routes())
	r.Mount("/api/devices", NewDeviceHandler(dev, testErrorHandler(), maxUpload, quietLogger()).Routes())
	r.Get("/license/expired", lh.ExpiredPage)
	return r
}

func activeView() domain.LicenseStatusView {
	return domain.LicenseStatusView{
		AppLicenseKey:     "KEY-1",
		CanAddDevice:      true,
		MaxDevices:        10,
		DeviceCount:       2,
		LicenseMessage:    "License is active.",
		LicenseStatusCode: domain.StatusActive,
		InstallationID:    "inst-1",
	}
}

func TestLicenseHandler_Status(t *testing.T) {
	lic := new(MockLicenseService)
	lic.On("Status", mock.Anything).Return(activeView(), nil).Once()

	rec := httptest.NewRecorder()
	instanceRouter(lic, new(MockDeviceService), 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "KEY-1", body["app_license_key"])
	assert.Equal(t, true, body["can_add_device"])
	assert.Equal(t, "active", body["license_status_code"])
	assert.Contains(t, body, "license_grace_period_end")
	assert.Nil(t, body["license_grace_period_end"])
	lic.AssertExpectations(t)
}

func TestLicenseHandler_Recheck(t *testing.T) {
	lic := new(MockLicenseService)
	lic.On("ForceRecheck", mock.Anything).Return(domain.Verdict{StatusCode: domain.StatusActive}).Once()
	lic.On("Status", mock.Anything).Return(activeView(), nil).Once()

	rec := httptest.NewRecorder()
	instanceRouter(lic, new(MockDeviceService), 0).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/license/recheck", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	lic.AssertExpectations(t)
}

func TestLicenseHandler_UpdateKey(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(*MockLicenseService)
		wantStatus int
	}{
		{
			name: "stores key and returns status",
			body: `{"app_license_key":"NEW-KEY"}`,
			setup: func(m *MockLicenseService) {
				m.On("UpdateKey", mock.Anything, "NEW-KEY").Return(activeView(), nil).Once()
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing key",
			body:       `{}`,
			setup:      func(*MockLicenseService) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "blank key",
			body: `{"app_license_key":"   "}`,
			setup: func(m *MockLicenseService) {
				m.On("UpdateKey", mock.Anything, "   ").Return(domain.LicenseStatusView{}, license.ErrNoLicenseKey).Once()
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{"app_license_key":`,
			setup:      func(*MockLicenseService) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "store failure",
			body: `{"app_license_key":"NEW-KEY"}`,
			setup: func(m *MockLicenseService) {
				m.On("UpdateKey", mock.Anything, "NEW-KEY").Return(domain.LicenseStatusView{}, errors.New("disk full")).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lic := new(MockLicenseService)
			tt.setup(lic)

			rec := httptest.NewRecorder()
			instanceRouter(lic, new(MockDeviceService), 0).ServeHTTP(rec,
				httptest.NewRequest(http.MethodPut, "/api/license/key", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			lic.AssertExpectations(t)
		})
	}
}

func TestLicenseHandler_ExpiredPage(t *testing.T) {
	end := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	lic := new(MockLicenseService)
	lic.On("Cached").Return(domain.Verdict{
		StatusCode:     domain.StatusDisabled,
		Message:        "Device management is <disabled>.",
		GracePeriodEnd: &end,
	}).Once()

	rec := httptest.NewRecorder()
	instanceRouter(lic, new(MockDeviceService), 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/license/expired", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Device management is &lt;disabled&gt;.")
	assert.Contains(t, rec.Body.String(), "2026-03-08 12:00 UTC")
}

func TestDeviceHandler_CreateQuotaRefusal(t *testing.T) {
	dev := new(MockDeviceService)
	in := domain.DeviceInput{Name: "sw1", IPAddress: "10.0.0.1"}
	dev.On("Create", mock.Anything, in).Return(nil, &apperrors.QuotaError{
		Message:     "License is active.",
		StatusCode:  "active",
		MaxDevices:  2,
		DeviceCount: 2,
	}).Once()

	rec := httptest.NewRecorder()
	instanceRouter(new(MockLicenseService), dev, 0).ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/api/devices", strings.NewReader(`{"name":"sw1","ip_address":"10.0.0.1"}`)))

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decodeProblem(t, rec)
	assert.Equal(t, "License is active.", body["detail"])
	assert.Equal(t, "DEVICE_QUOTA_EXCEEDED", body["error_code"])
	assert.Equal(t, float64(2), body["max_devices"])
	dev.AssertExpectations(t)
}

func TestDeviceHandler_CreateListDelete(t *testing.T) {
	dev := new(MockDeviceService)
	created := &domain.Device{ID: 4, Name: "sw1", IPAddress: "10.0.0.1"}
	dev.On("Create", mock.Anything, domain.DeviceInput{Name: "sw1", IPAddress: "10.0.0.1"}).Return(created, nil).Once()
	dev.On("List", mock.Anything).Return(nil, nil).Once()
	dev.On("Delete", mock.Anything, uint(4)).Return(nil).Once()
	dev.On("Delete", mock.Anything, uint(5)).Return(apperrors.ErrDeviceNotFound).Once()
	router := instanceRouter(new(MockLicenseService), dev, 0)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/devices", strings.NewReader(`{"name":"sw1","ip_address":"10.0.0.1"}`)))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/devices", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/devices/4", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/devices/5", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/devices/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	dev.AssertExpectations(t)
}

func multipartUpload(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestDeviceHandler_Import(t *testing.T) {
	csv := "name,ip_address\na,10.0.0.1\nb,10.0.0.2\n"
	dev := new(MockDeviceService)
	dev.On("Import", mock.Anything, "devices.csv", csv).
		Return(&domain.ImportResult{Imported: 1, Rejected: 1, Stopped: true, Message: "License is active."}, nil).Once()

	body, contentType := multipartUpload(t, "file", "devices.csv", csv)
	req := httptest.NewRequest(http.MethodPost, "/api/devices/import", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	instanceRouter(new(MockLicenseService), dev, 1<<20).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result domain.ImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.Rejected)
	assert.True(t, result.Stopped)
	dev.AssertExpectations(t)
}

func TestDeviceHandler_ImportErrors(t *testing.T) {
	t.Run("missing file field", func(t *testing.T) {
		body, contentType := multipartUpload(t, "upload", "devices.csv", "name,ip\n")
		req := httptest.NewRequest(http.MethodPost, "/api/devices/import", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		instanceRouter(new(MockLicenseService), new(MockDeviceService), 1<<20).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/devices/import", strings.NewReader("name,ip"))
		req.Header.Set("Content-Type", "text/csv")
		rec := httptest.NewRecorder()
		instanceRouter(new(MockLicenseService), new(MockDeviceService), 1<<20).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		dev := new(MockDeviceService)
		dev.On("Import", mock.Anything, "devices.pdf", "%PDF").Return(nil, apperrors.ErrUnsupportedImport).Once()
		body, contentType := multipartUpload(t, "file", "devices.pdf", "%PDF")
		req := httptest.NewRequest(http.MethodPost, "/api/devices/import", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		instanceRouter(new(MockLicenseService), dev, 1<<20).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})
}
