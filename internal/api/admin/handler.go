package admin

import (
	"context"
	"net/http"

	"bookstore-backend/internal/api/respond"
	"bookstore-backend/internal/domain/billing"
	"bookstore-backend/internal/domain/orders"
	"bookstore-backend/internal/domain/settlement"

	"github.com/gin-gonic/gin"
)

type OrderCounter interface {
	List(ctx context.Context, f orders.Filter) ([]orders.Order, int64, error)
}

type PaymentCounter interface {
	GetMany(ctx context.Context, f billing.Filter) ([]billing.Payment, int64, error)
}

type Handler struct {
	orders   OrderCounter
	payments PaymentCounter
}

func NewHandler(o OrderCounter, p PaymentCounter) *Handler {
	return &Handler{orders: o, payments: p}
}

type AdminStats struct {
	TotalOrders          int64            `json:"total_orders"`
	OrdersByPayment      map[string]int64 `json:"orders_by_payment_status"`
	PaymentsAwaitingBank int64            `json:"payments_awaiting_bank"`
}

// AdminDashboard summarises the reconciliation backlog.
func (h *Handler) AdminDashboard(c *gin.Context) {
	ctx := c.Request.Context()
	stats := AdminStats{OrdersByPayment: map[string]int64{}}

	_, total, err := h.orders.List(ctx, orders.Filter{Limit: 1})
	if err != nil {
		respond.Error(c, err)
		return
	}
	stats.TotalOrders = total

	for _, s := range []settlement.Status{settlement.Pending, settlement.Paid, settlement.Failed, settlement.Refunded} {
		_, n, err := h.orders.List(ctx, orders.Filter{PaymentStatus: s, Limit: 1})
		if err != nil {
			respond.Error(c, err)
			return
		}
		stats.OrdersByPayment[string(s)] = n
	}

	_, stats.PaymentsAwaitingBank, err = h.payments.GetMany(ctx, billing.Filter{
		Method: settlement.MethodBankTransfer,
		Status: settlement.Pending,
		Limit:  1,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	respond.OK(c, http.StatusOK, stats)
}
