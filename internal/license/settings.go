package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

// Setting keys persisted by the instance
const (
	SettingLicenseKey     = "app_license_key"
	SettingInstallationID = "installation_id"
	SettingLastCheckedAt  = "license_last_checked_at"
	SettingLastGood       = "license_last_good"
	SettingVerdict        = "license_verdict"
)

// KV is a durable string key-value store
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Settings gives typed access to the instance's license settings
type Settings struct {
	kv KV
}

// NewSettings wraps kv
func NewSettings(kv KV) *Settings {
	return &Settings{kv: kv}
}

// Close closes the underlying store
func (s *Settings) Close() error {
	return s.kv.Close()
}

func (s *Settings) get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrSettingNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Settings) set(ctx context.Context, key, value string) error {
	if err := s.kv.Set(ctx, key, value); err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}

func (s *Settings) del(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

// LicenseKey returns the configured key, or "" when none is set
func (s *Settings) LicenseKey(ctx context.Context) (string, error) {
	v, _, err := s.get(ctx, SettingLicenseKey)
	return v, err
}

// SetLicenseKey stores the license key
func (s *Settings) SetLicenseKey(ctx context.Context, key string) error {
	return s.set(ctx, SettingLicenseKey, key)
}

// InstallationID returns the stored installation id, or "" when none is set
func (s *Settings) InstallationID(ctx context.Context) (string, error) {
	v, _, err := s.get(ctx, SettingInstallationID)
	return v, err
}

// SetInstallationID stores the installation id
func (s *Settings) SetInstallationID(ctx context.Context, id string) error {
	return s.set(ctx, SettingInstallationID, id)
}

// LastCheckedAt returns the time of the last evaluation, or nil
func (s *Settings) LastCheckedAt(ctx context.Context) (*time.Time, error) {
	v, ok, err := s.get(ctx, SettingLastCheckedAt)
	if err != nil || !ok {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		// unreadable marker behaves like a cleared one
		return nil, nil
	}
	return &t, nil
}

// SetLastCheckedAt stores the time of the last evaluation
func (s *Settings) SetLastCheckedAt(ctx context.Context, t time.Time) error {
	return s.set(ctx, SettingLastCheckedAt, t.UTC().Format(time.RFC3339Nano))
}

// ClearLastCheckedAt removes the marker so the next read performs a live check
func (s *Settings) ClearLastCheckedAt(ctx context.Context) error {
	return s.del(ctx, SettingLastCheckedAt)
}

// LastGood returns the last successful verification snapshot, or nil
func (s *Settings) LastGood(ctx context.Context) (*domain.LastGood, error) {
	var lg domain.LastGood
	ok, err := s.getJSON(ctx, SettingLastGood, &lg)
	if err != nil || !ok {
		return nil, err
	}
	return &lg, nil
}

// SetLastGood stores the snapshot; nil removes it
func (s *Settings) SetLastGood(ctx context.Context, lg *domain.LastGood) error {
	if lg == nil {
		return s.del(ctx, SettingLastGood)
	}
	return s.setJSON(ctx, SettingLastGood, lg)
}

// Verdict returns the persisted verdict of the last evaluation, or nil
func (s *Settings) Verdict(ctx context.Context) (*domain.Verdict, error) {
	var v domain.Verdict
	ok, err := s.getJSON(ctx, SettingVerdict, &v)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

// SetVerdict persists the verdict of the last evaluation
func (s *Settings) SetVerdict(ctx context.Context, v domain.Verdict) error {
	return s.setJSON(ctx, SettingVerdict, v)
}

func (s *Settings) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := s.get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *Settings) setJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	return s.set(ctx, key, string(raw))
}
