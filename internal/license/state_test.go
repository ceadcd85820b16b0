package license

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

var (
	baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	grace    = 7 * 24 * time.Hour
)

func ok(status domain.ActualStatus, maxDevices int) Attempt {
	return Attempt{Response: &domain.VerifyResponse{
		Success:      true,
		Message:      "License is valid.",
		ActualStatus: status,
		MaxDevices:   &maxDevices,
	}}
}

func rejected(status domain.ActualStatus, msg string) Attempt {
	return Attempt{Response: &domain.VerifyResponse{Message: msg, ActualStatus: status}}
}

func unreachable() Attempt {
	return Attempt{Err: fmt.Errorf("%w: dial tcp: connection refused", ErrAuthorityUnavailable)}
}

func lastGoodAt(t time.Time, maxDevices int) *domain.LastGood {
	return &domain.LastGood{CheckedAt: t, MaxDevices: maxDevices, ActualStatus: domain.ActualStatusActive}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name         string
		lastGood     *domain.LastGood
		attempt      Attempt
		now          time.Time
		wantCode     domain.StatusCode
		wantMax      int
		wantLastGood bool
		wantGraceEnd *time.Time
	}{
		{
			name:         "active",
			attempt:      ok(domain.ActualStatusActive, 10),
			now:          baseTime,
			wantCode:     domain.StatusActive,
			wantMax:      10,
			wantLastGood: true,
		},
		{
			name:         "free counts as active",
			attempt:      ok(domain.ActualStatusFree, 1),
			now:          baseTime,
			wantCode:     domain.StatusActive,
			wantMax:      1,
			wantLastGood: true,
		},
		{
			name:         "unreachable inside grace window",
			lastGood:     lastGoodAt(baseTime, 10),
			attempt:      unreachable(),
			now:          baseTime.Add(grace - time.Second),
			wantCode:     domain.StatusGracePeriod,
			wantMax:      10,
			wantLastGood: true,
			wantGraceEnd: timePtr(baseTime.Add(grace)),
		},
		{
			name:         "unreachable at grace boundary",
			lastGood:     lastGoodAt(baseTime, 10),
			attempt:      unreachable(),
			now:          baseTime.Add(grace),
			wantCode:     domain.StatusDisabled,
			wantLastGood: true,
			wantGraceEnd: timePtr(baseTime.Add(grace)),
		},
		{
			name:     "unreachable without prior good check",
			attempt:  unreachable(),
			now:      baseTime,
			wantCode: domain.StatusError,
		},
		{
			name:         "authority error is transient",
			lastGood:     lastGoodAt(baseTime, 4),
			attempt:      rejected(domain.ActualStatusError, "License server error."),
			now:          baseTime.Add(time.Hour),
			wantCode:     domain.StatusGracePeriod,
			wantMax:      4,
			wantLastGood: true,
			wantGraceEnd: timePtr(baseTime.Add(grace)),
		},
		{
			name:         "non-200 is transient",
			lastGood:     lastGoodAt(baseTime, 4),
			attempt:      Attempt{Err: fmt.Errorf("%w: 502", ErrUnexpectedStatus)},
			now:          baseTime.Add(time.Hour),
			wantCode:     domain.StatusGracePeriod,
			wantMax:      4,
			wantLastGood: true,
			wantGraceEnd: timePtr(baseTime.Add(grace)),
		},
		{
			name:     "success without max devices is malformed",
			attempt:  Attempt{Response: &domain.VerifyResponse{Success: true, ActualStatus: domain.ActualStatusActive}},
			now:      baseTime,
			wantCode: domain.StatusError,
		},
		{
			name:     "unknown rejection status is transient",
			attempt:  rejected("suspended", "?"),
			now:      baseTime,
			wantCode: domain.StatusError,
		},
		{
			name:     "revoked discards last good",
			lastGood: lastGoodAt(baseTime, 10),
			attempt:  rejected(domain.ActualStatusRevoked, "License has been revoked."),
			now:      baseTime.Add(time.Hour),
			wantCode: domain.StatusRevoked,
		},
		{
			name:     "expired",
			lastGood: lastGoodAt(baseTime, 10),
			attempt:  rejected(domain.ActualStatusExpired, "License has expired."),
			now:      baseTime.Add(time.Hour),
			wantCode: domain.StatusExpired,
		},
		{
			name:     "in use",
			attempt:  rejected(domain.ActualStatusInUse, "License is already in use by another installation."),
			now:      baseTime,
			wantCode: domain.StatusInUse,
		},
		{
			name:     "not found surfaced verbatim",
			attempt:  rejected(domain.ActualStatusNotFound, "License key not found."),
			now:      baseTime,
			wantCode: domain.StatusNotFound,
		},
		{
			name:     "invalid request surfaced verbatim",
			attempt:  rejected(domain.ActualStatusInvalidRequest, "Missing license key."),
			now:      baseTime,
			wantCode: domain.StatusInvalidRequest,
		},
		{
			name:     "no key configured",
			lastGood: lastGoodAt(baseTime, 10),
			attempt:  Attempt{Err: ErrNoLicenseKey},
			now:      baseTime,
			wantCode: domain.StatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(EvaluationInput{
				LastGood:    tt.lastGood,
				Attempt:     tt.attempt,
				Now:         tt.now,
				GraceWindow: grace,
			})

			assert.Equal(t, tt.wantCode, got.Verdict.StatusCode)
			assert.Equal(t, tt.wantMax, got.Verdict.MaxDevices)
			assert.NotEmpty(t, got.Verdict.Message)
			assert.True(t, tt.now.Equal(got.Verdict.LastCheckedAt))
			assert.Equal(t, tt.wantLastGood, got.LastGood != nil)
			if tt.wantGraceEnd != nil {
				require.NotNil(t, got.Verdict.GracePeriodEnd)
				assert.True(t, tt.wantGraceEnd.Equal(*got.Verdict.GracePeriodEnd))
			} else {
				assert.Nil(t, got.Verdict.GracePeriodEnd)
			}
		})
	}
}

func TestEvaluate_RejectionMessageIsVerbatim(t *testing.T) {
	got := Evaluate(EvaluationInput{
		Attempt:     rejected(domain.ActualStatusInUse, "License is already in use by another installation."),
		Now:         baseTime,
		GraceWindow: grace,
	})
	assert.Equal(t, "License is already in use by another installation.", got.Verdict.Message)
	assert.False(t, got.Verdict.CanAddDevice(0))
}

func TestEvaluate_SuccessRefreshesLastGood(t *testing.T) {
	now := baseTime.Add(3 * 24 * time.Hour)
	got := Evaluate(EvaluationInput{
		LastGood:    lastGoodAt(baseTime, 2),
		Attempt:     ok(domain.ActualStatusActive, 8),
		Now:         now,
		GraceWindow: grace,
	})
	require.NotNil(t, got.LastGood)
	assert.True(t, now.Equal(got.LastGood.CheckedAt))
	assert.Equal(t, 8, got.LastGood.MaxDevices)
}

func TestEvaluate_GraceIsMeasuredFromLastGood(t *testing.T) {
	lg := lastGoodAt(baseTime, 3)

	// repeated failures must not slide the window forward
	first := Evaluate(EvaluationInput{LastGood: lg, Attempt: unreachable(), Now: baseTime.Add(24 * time.Hour), GraceWindow: grace})
	second := Evaluate(EvaluationInput{LastGood: first.LastGood, Attempt: unreachable(), Now: baseTime.Add(6 * 24 * time.Hour), GraceWindow: grace})

	require.NotNil(t, second.Verdict.GracePeriodEnd)
	assert.True(t, baseTime.Add(grace).Equal(*second.Verdict.GracePeriodEnd))
	assert.True(t, second.Verdict.CanAddDevice(2))
	assert.False(t, second.Verdict.CanAddDevice(3))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(Attempt{}))
	assert.True(t, isTransient(Attempt{Err: errors.New("boom")}))
	assert.True(t, isTransient(ok("gold", 1)))
	assert.False(t, isTransient(ok(domain.ActualStatusActive, 1)))
	assert.False(t, isTransient(rejected(domain.ActualStatusExpired, "")))
}

func timePtr(t time.Time) *time.Time { return &t }
