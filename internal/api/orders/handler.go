package orders

import (
	"net/http"
	"strconv"

	"bookstore-backend/internal/api/respond"
	"bookstore-backend/internal/domain/access"
	"bookstore-backend/internal/domain/orders"
	"bookstore-backend/internal/domain/settlement"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	ledger *orders.Ledger
}

func NewHandler(ledger *orders.Ledger) *Handler {
	return &Handler{ledger: ledger}
}

type checkoutRequest struct {
	Items           []orders.CheckoutLine `json:"items" binding:"required,min=1"`
	PaymentMethod   string                `json:"payment_method"`
	ShippingAddress string                `json:"shipping_address" binding:"required"`
}

func (h *Handler) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "Invalid checkout request")
		return
	}
	policy := access.FromContext(c.Request.Context())

	created, err := h.ledger.Checkout(c.Request.Context(), orders.CheckoutInput{
		UserID:          policy.UserID,
		Lines:           req.Items,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusCreated, created)
}

func (h *Handler) ListMine(c *gin.Context) {
	page, limit := respond.Paging(c)
	policy := access.FromContext(c.Request.Context())

	list, total, err := h.ledger.ListMine(c.Request.Context(), policy.UserID, page, limit)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.Page(c, list, total, page, limit)
}

// GetOne returns an order with its status history. Customers only see their own.
func (h *Handler) GetOne(c *gin.Context) {
	id, ok := respond.ID(c, "id")
	if !ok {
		return
	}
	policy := access.FromContext(c.Request.Context())

	var (
		order *orders.Order
		err   error
	)
	if policy.IsAdmin() {
		order, err = h.ledger.GetOne(c.Request.Context(), id)
	} else {
		order, err = h.ledger.GetOwned(c.Request.Context(), id, policy.UserID)
	}
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, order)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c *gin.Context) {
	id, ok := respond.ID(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)

	order, err := h.ledger.CancelMyOrder(c.Request.Context(), id, access.FromContext(c.Request.Context()).UserID, req.Reason)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, order)
}

func (h *Handler) RequestReturn(c *gin.Context) {
	id, ok := respond.ID(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		respond.BadRequest(c, "A return reason is required")
		return
	}

	order, err := h.ledger.RequestReturn(c.Request.Context(), id, access.FromContext(c.Request.Context()).UserID, req.Reason)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, order)
}

// List is the admin view over all orders.
func (h *Handler) List(c *gin.Context) {
	page, limit := respond.Paging(c)
	f := orders.Filter{
		Status:        orders.Status(c.Query("status")),
		PaymentStatus: settlement.Status(c.Query("payment_status")),
		Page:          page,
		Limit:         limit,
	}
	if raw := c.Query("user_id"); raw != "" {
		uid, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respond.BadRequest(c, "Invalid user_id")
			return
		}
		id := uint(uid)
		f.UserID = &id
	}

	list, total, err := h.ledger.List(c.Request.Context(), f)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.Page(c, list, total, page, limit)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	id, ok := respond.ID(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "status is required")
		return
	}
	status, err := orders.ParseStatus(req.Status)
	if err != nil {
		respond.BadRequest(c, err.Error())
		return
	}

	order, err := h.ledger.UpdateStatus(c.Request.Context(), id, status, req.Notes, access.FromContext(c.Request.Context()).UserID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, order)
}

type paymentStatusRequest struct {
	PaymentStatus string `json:"payment_status" binding:"required"`
}

func (h *Handler) UpdatePaymentStatus(c *gin.Context) {
	id, ok := respond.ID(c, "id")
	if !ok {
		return
	}
	var req paymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "payment_status is required")
		return
	}
	status, err := settlement.Parse(req.PaymentStatus)
	if err != nil {
		respond.BadRequest(c, err.Error())
		return
	}

	order, err := h.ledger.UpdatePaymentStatus(c.Request.Context(), id, status, access.FromContext(c.Request.Context()).UserID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, order)
}

type trackingRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

func (h *Handler) AddTrackingNumber(c *gin.Context) {
	id, ok := respond.ID(c, "id")
	if !ok {
		return
	}
	var req trackingRequest
	_ = c.ShouldBindJSON(&req)

	order, err := h.ledger.AddTrackingNumber(c.Request.Context(), id, req.TrackingNumber, access.FromContext(c.Request.Context()).UserID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, order)
}
