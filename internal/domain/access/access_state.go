package access

import (
	"time"

	"bookstore-backend/internal/domain/subscriptions"
)

// ComputeAccessState maps the caller's latest subscription to an access state.
// A subscription past its end date locks access even before the sweep flips it.
func ComputeAccessState(now time.Time, sub *subscriptions.Subscription) AccessState {
	if sub == nil || sub.Status != subscriptions.StatusActive {
		return AccessLocked
	}
	if sub.Due(now) {
		return AccessLocked
	}
	return AccessFull
}
