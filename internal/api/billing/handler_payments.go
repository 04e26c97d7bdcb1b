package billing

import (
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"bookstore-backend/internal/api/respond"
	"bookstore-backend/internal/apperr"
	"bookstore-backend/internal/domain/access"
	"bookstore-backend/internal/domain/billing"
	"bookstore-backend/internal/domain/settlement"

	"github.com/gin-gonic/gin"
)

// GetPaymentHistory lists the caller's payments; admins see everyone's.
func (h *Handler) GetPaymentHistory(c *gin.Context) {
	f, ok := paymentFilter(c)
	if !ok {
		return
	}
	if scope := access.FromContext(c.Request.Context()).Scope(); scope != nil {
		f.UserID = scope
	}

	list, total, err := h.payments.GetMany(c.Request.Context(), f)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.Page(c, list, total, f.Page, f.Limit)
}

func paymentFilter(c *gin.Context) (billing.Filter, bool) {
	page, limit := respond.Paging(c)
	f := billing.Filter{
		Method: c.Query("method"),
		Status: settlement.Status(c.Query("status")),
		Search: c.Query("search"),
		Page:   page,
		Limit:  limit,
	}
	for _, q := range []struct {
		name string
		dst  **uint
	}{{"order_id", &f.OrderID}, {"user_id", &f.UserID}} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respond.BadRequest(c, "Invalid "+q.name)
			return f, false
		}
		id := uint(v)
		*q.dst = &id
	}
	for _, q := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respond.BadRequest(c, "Invalid "+q.name+", expected RFC3339")
			return f, false
		}
		*q.dst = &t
	}
	return f, true
}

func (h *Handler) GetPayment(c *gin.Context) {
	id, ok := respond.ID(c, "id")
	if !ok {
		return
	}
	p, err := h.payments.GetOne(c.Request.Context(), id, access.FromContext(c.Request.Context()).Scope())
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, p)
}

func (h *Handler) DeletePayment(c *gin.Context) {
	id, ok := respond.ID(c, "id")
	if !ok {
		return
	}
	if err := h.payments.Delete(c.Request.Context(), id, access.FromContext(c.Request.Context()).Scope()); err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, gin.H{"id": id})
}

type paymentStatusRequest struct {
	Status   string         `json:"status" binding:"required"`
	Metadata map[string]any `json:"metadata"`
}

// UpdatePaymentStatus is the admin override, used for refunds and manual approvals.
func (h *Handler) UpdatePaymentStatus(c *gin.Context) {
	id, ok := respond.ID(c, "id")
	if !ok {
		return
	}
	var req paymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "status is required")
		return
	}
	status, err := settlement.Parse(req.Status)
	if err != nil {
		respond.BadRequest(c, err.Error())
		return
	}
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}
	req.Metadata["updated_by"] = access.FromContext(c.Request.Context()).UserID

	p, err := h.payments.UpdateStatus(c.Request.Context(), id, status, req.Metadata)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, p)
}

// DownloadReceipt serves the bank receipt stored when the payment was verified.
func (h *Handler) DownloadReceipt(c *gin.Context) {
	id, ok := respond.ID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	p, err := h.payments.GetOne(ctx, id, access.FromContext(ctx).Scope())
	if err != nil {
		respond.Error(c, err)
		return
	}
	name, _ := p.Metadata["receipt_path"].(string)
	if name == "" {
		respond.Error(c, apperr.NotFound("Payment %d has no stored receipt", id))
		return
	}

	data, err := h.receipts.Open(ctx, name)
	if errors.Is(err, fs.ErrNotExist) {
		respond.Error(c, apperr.NotFound("Receipt %s not found", name))
		return
	}
	if err != nil {
		respond.Error(c, apperr.Internal(err, "Failed to read receipt"))
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}
