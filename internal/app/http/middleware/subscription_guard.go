package middleware

import (
	"context"
	"net/http"
	"time"

	"bookstore-backend/internal/apperr"
	"bookstore-backend/internal/domain/access"
	"bookstore-backend/internal/domain/subscriptions"

	"github.com/gin-gonic/gin"
)

type SubscriptionReader interface {
	GetMine(ctx context.Context, userID uint) (*subscriptions.Subscription, error)
}

// RequireActiveSubscription lets through callers whose latest subscription
// is active. It must run after AuthMiddleware.
func RequireActiveSubscription(subs SubscriptionReader, now func() time.Time) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(c *gin.Context) {
		policy := access.FromContext(c.Request.Context())
		sub, err := subs.GetMine(c.Request.Context(), policy.UserID)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			abort(c, http.StatusInternalServerError, apperr.Message(err))
			return
		}
		if sub == nil {
			abort(c, http.StatusForbidden, "Subscription not found or expired")
			return
		}

		state := access.ComputeAccessState(now(), sub)
		if state != access.AccessFull {
			abort(c, http.StatusPaymentRequired, "Your subscription has expired")
			return
		}

		c.Set("access", string(state))
		c.Set("subscription", sub)
		c.Next()
	}
}
