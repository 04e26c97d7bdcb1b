package billing

import (
	"net/http"
	"time"

	"bookstore-backend/internal/api/respond"
	"bookstore-backend/internal/domain/access"
	"bookstore-backend/internal/domain/subscriptions"

	"github.com/gin-gonic/gin"
)

type subscribeRequest struct {
	PlanID    uint  `json:"plan_id" binding:"required"`
	PaymentID *uint `json:"payment_id"`
}

// Subscribe activates free plans right away. Paid plans answer 202 with the
// order and pending payment to settle by bank transfer.
func (h *Handler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "plan_id is required")
		return
	}

	out, err := h.activator.Create(c.Request.Context(), access.FromContext(c.Request.Context()).UserID, req.PlanID, req.PaymentID)
	if err != nil {
		respond.Error(c, err)
		return
	}

	switch out.Kind {
	case subscriptions.PaymentRequired:
		c.JSON(http.StatusAccepted, gin.H{
			"success":          true,
			"payment_required": true,
			"data":             gin.H{"order_id": out.OrderID, "payment_id": out.PaymentID},
		})
	default:
		respond.OK(c, http.StatusCreated, out.Subscription)
	}
}

func (h *Handler) GetMySubscription(c *gin.Context) {
	sub, err := h.activator.GetMine(c.Request.Context(), access.FromContext(c.Request.Context()).UserID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, gin.H{
		"subscription": sub,
		"access":       access.ComputeAccessState(time.Now(), sub),
	})
}

// GetAccess runs behind the subscription guard, which already loaded the subscription.
func (h *Handler) GetAccess(c *gin.Context) {
	sub, _ := c.Get("subscription")
	respond.OK(c, http.StatusOK, gin.H{"access": c.GetString("access"), "subscription": sub})
}

func (h *Handler) CancelSubscription(c *gin.Context) {
	id, ok := respond.ID(c, "id")
	if !ok {
		return
	}
	sub, err := h.activator.Cancel(c.Request.Context(), id, access.FromContext(c.Request.Context()).UserID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, sub)
}

type activateRequest struct {
	SubscriptionID *uint `json:"subscription_id"`
	PaymentID      uint  `json:"payment_id" binding:"required"`
}

// ActivateSubscription re-affirms the subscription bought by a paid payment.
// Safe to repeat.
func (h *Handler) ActivateSubscription(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "payment_id is required")
		return
	}
	policy := access.FromContext(c.Request.Context())

	pay, err := h.payments.GetOne(c.Request.Context(), req.PaymentID, policy.Scope())
	if err != nil {
		respond.Error(c, err)
		return
	}
	sub, err := h.activator.ActivateSubscription(c.Request.Context(), req.SubscriptionID, pay.ID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, sub)
}

// ExpireSubscriptions runs the expiry sweep on demand.
func (h *Handler) ExpireSubscriptions(c *gin.Context) {
	n, err := h.activator.ExpireSubscriptions(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, gin.H{"expired": n})
}
