package license

import (
	"errors"
	"fmt"
	"time"

	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

// Messages shown to the instance operator for derived states
const (
	MsgActive       = "License is active."
	MsgFreeActive   = "Free license is active."
	MsgNoKey        = "No license key configured. Enter a license key to enable device management."
	MsgUnverified   = "License has not been verified yet."
	MsgUnreachable  = "Unable to verify the license: the license server could not be reached."
	MsgDisabled     = "The license server has been unreachable for too long and the grace period has ended. Device management is disabled until the license can be verified."
	graceMsgFormat  = "Unable to reach the license server. Device management remains available until %s."
	graceTimeLayout = "2006-01-02 15:04 MST"
)

// Attempt is the outcome of one call to the authority. Exactly one of
// Response and Err is normally set.
type Attempt struct {
	Response *domain.VerifyResponse
	Err      error
}

// EvaluationInput carries everything the state transition depends on
type EvaluationInput struct {
	LastGood    *domain.LastGood
	Attempt     Attempt
	Now         time.Time
	GraceWindow time.Duration
}

// Evaluation is the new verdict plus the last-good snapshot to keep
type Evaluation struct {
	Verdict  domain.Verdict
	LastGood *domain.LastGood
}

// Evaluate derives the instance verdict from a verification attempt. It is
// a pure function of its input.
func Evaluate(in EvaluationInput) Evaluation {
	now := in.Now.UTC()

	if errors.Is(in.Attempt.Err, ErrNoLicenseKey) {
		return Evaluation{Verdict: domain.Verdict{
			StatusCode:    domain.StatusError,
			Message:       MsgNoKey,
			LastCheckedAt: now,
		}}
	}

	if isTransient(in.Attempt) {
		return evaluateTransient(in.LastGood, now, in.GraceWindow)
	}

	resp := in.Attempt.Response
	if resp.Success {
		good := &domain.LastGood{
			CheckedAt:    now,
			MaxDevices:   *resp.MaxDevices,
			ActualStatus: resp.ActualStatus,
		}
		msg := MsgActive
		if resp.ActualStatus == domain.ActualStatusFree {
			msg = MsgFreeActive
		}
		return Evaluation{
			Verdict: domain.Verdict{
				StatusCode:    domain.StatusActive,
				Message:       msg,
				MaxDevices:    good.MaxDevices,
				LastCheckedAt: now,
			},
			LastGood: good,
		}
	}

	// authoritative rejection: surfaced verbatim, last-good discarded
	code, _ := rejectionCode(resp.ActualStatus)
	msg := resp.Message
	if msg == "" {
		msg = fmt.Sprintf("License check failed: %s.", resp.ActualStatus)
	}
	return Evaluation{Verdict: domain.Verdict{
		StatusCode:    code,
		Message:       msg,
		LastCheckedAt: now,
	}}
}

func evaluateTransient(lastGood *domain.LastGood, now time.Time, grace time.Duration) Evaluation {
	if lastGood == nil {
		return Evaluation{Verdict: domain.Verdict{
			StatusCode:    domain.StatusError,
			Message:       MsgUnreachable,
			LastCheckedAt: now,
		}}
	}

	end := lastGood.CheckedAt.Add(grace).UTC()
	kept := *lastGood
	if now.Before(end) {
		return Evaluation{
			Verdict: domain.Verdict{
				StatusCode:     domain.StatusGracePeriod,
				Message:        fmt.Sprintf(graceMsgFormat, end.Format(graceTimeLayout)),
				MaxDevices:     lastGood.MaxDevices,
				GracePeriodEnd: &end,
				LastCheckedAt:  now,
			},
			LastGood: &kept,
		}
	}

	return Evaluation{
		Verdict: domain.Verdict{
			StatusCode:     domain.StatusDisabled,
			Message:        MsgDisabled,
			GracePeriodEnd: &end,
			LastCheckedAt:  now,
		},
		LastGood: &kept,
	}
}

// isTransient reports whether the attempt says nothing authoritative about
// the license
func isTransient(a Attempt) bool {
	if a.Err != nil || a.Response == nil {
		return true
	}
	resp := a.Response
	if resp.ActualStatus == domain.ActualStatusError {
		return true
	}
	if resp.Success {
		return !resp.ActualStatus.Usable() || resp.MaxDevices == nil
	}
	_, known := rejectionCode(resp.ActualStatus)
	return !known
}

func rejectionCode(s domain.ActualStatus) (domain.StatusCode, bool) {
	switch s {
	case domain.ActualStatusExpired:
		return domain.StatusExpired, true
	case domain.ActualStatusRevoked:
		return domain.StatusRevoked, true
	case domain.ActualStatusInUse:
		return domain.StatusInUse, true
	case domain.ActualStatusNotFound:
		return domain.StatusNotFound, true
	case domain.ActualStatusInvalidRequest:
		return domain.StatusInvalidRequest, true
	}
	return domain.StatusError, false
}
