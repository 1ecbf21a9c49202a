package provisioning

import (
	"context"
	"time"

	"github.com/keyshop-app/keyshop/app/models"
)

// Presence is the result of a remote existence check. Unknown means the
// panel could not be asked reliably; callers must treat it as "no
// information", never as absence.
type Presence int

const (
	PresenceUnknown Presence = iota
	PresencePresent
	PresenceAbsent
)

func (p Presence) String() string {
	switch p {
	case PresencePresent:
		return "present"
	case PresenceAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// CreateParams describes a create-or-extend request against a panel.
// Exactly one of DaysToAdd or AbsoluteExpiry is used; AbsoluteExpiry wins
// when set.
type CreateParams struct {
	Identity          string
	DaysToAdd         int
	AbsoluteExpiry    *time.Time
	TrafficLimitBytes int64
	DeviceLimit       int
}

// Result is the panel's view of a credential after a successful
// create-or-extend.
type Result struct {
	RemoteUUID      string
	ExpiresAt       time.Time
	SubscriptionURL string
}

// Client is the seam to the external credential-provisioning panel. All
// calls are bounded by the context; implementations never block past their
// configured timeout.
type Client interface {
	CreateOrExtend(ctx context.Context, host *models.Host, params CreateParams) (*Result, error)
	Exists(ctx context.Context, host *models.Host, identity string) (Presence, error)
	Delete(ctx context.Context, host *models.Host, identity string) (bool, error)
}
