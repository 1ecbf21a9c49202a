package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/keyshop-app/keyshop/app/models"
	"github.com/keyshop-app/keyshop/internal/pkg/provisioning"
)

var (
	// ErrTrialDisabled is returned when the operator turned trials off.
	ErrTrialDisabled = errors.New("trial keys are disabled")
	// ErrTrialUsed is returned when the user already consumed their trial.
	ErrTrialUsed = errors.New("trial already used")
)

const bytesPerGB = int64(1) << 30

// IssueTrial provisions a free trial credential, once per user. No payment
// and no claim are involved; the trial_used flag on the user row is the
// idempotency marker.
func (s *Service) IssueTrial(ctx context.Context, userID int64, hostName string) (*Result, error) {
	res := &Result{}

	snap, err := s.settings.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("trial for user %d: load settings: %w", userID, err)
	}
	if !snap.TrialEnabled {
		return nil, ErrTrialDisabled
	}

	payer, err := s.users.GetByTelegramID(userID)
	if err != nil {
		return nil, fmt.Errorf("trial for user %d: load user: %w", userID, err)
	}
	if payer.TrialUsed {
		return nil, ErrTrialUsed
	}

	host, err := s.catalog.GetHost(hostName)
	if err != nil {
		return nil, fmt.Errorf("trial for user %d: host %q: %w", userID, hostName, err)
	}

	days := snap.TrialDurationDays
	if days <= 0 {
		days = 3
	}

	identity := newIdentity(userID, host.Name)
	params := provisioning.CreateParams{
		Identity:          identity,
		DaysToAdd:         days,
		TrafficLimitBytes: int64(snap.TrialTrafficGB) * bytesPerGB,
		DeviceLimit:       snap.TrialDeviceLimit,
	}

	provCtx, cancel := context.WithTimeout(ctx, provisionTimeout)
	defer cancel()
	remote, err := s.prov.CreateOrExtend(provCtx, host, params)
	if err != nil {
		res.record(EffectProvision, err, "")
		res.ErrorCode = ClassifyProvisioningError(err)
		return res, fmt.Errorf("trial for user %d: provision: %w", userID, err)
	}
	res.record(EffectProvision, nil, remote.RemoteUUID)

	cred := &models.Credential{
		UserID:          payer.TelegramID,
		HostName:        host.Name,
		RemoteUUID:      remote.RemoteUUID,
		Identity:        identity,
		SubscriptionURL: remote.SubscriptionURL,
		ExpiresAt:       remote.ExpiresAt,
		OriginSource:    models.OriginTrial,
		OriginDays:      days,
	}
	if err := s.creds.Create(cred); err != nil {
		res.record(EffectAuditLog, err, "credential row")
		s.alertOperators(ctx, fmt.Sprintf("trial for user %d provisioned remotely but local credential write failed: %v; resolve manually", userID, err))
		return res, fmt.Errorf("trial for user %d: save credential: %w", userID, err)
	}
	res.Fulfilled = true
	res.Credential = cred

	if err := s.users.SetTrialUsed(userID); err != nil {
		// The key exists; failing to stamp the flag risks a second trial.
		res.record(EffectAuditLog, err, "trial flag")
		s.alertOperators(ctx, fmt.Sprintf("trial key issued for user %d but trial flag not set: %v", userID, err))
	}

	if err := s.notifier.NotifyPayer(ctx, userID, fmt.Sprintf("Your trial key is ready. It is valid until %s.", cred.ExpiresAt.Format("2006-01-02"))); err != nil {
		res.record(EffectNotify, err, "")
	}
	return res, nil
}
