package billing

import (
	"net/http"

	"bookstore-backend/internal/api/respond"
	"bookstore-backend/internal/domain/access"
	"bookstore-backend/internal/receipts"
	"bookstore-backend/internal/reconciliation"

	"github.com/gin-gonic/gin"
)

type completeRequest struct {
	OrderID         uint   `json:"order_id" binding:"required"`
	BankCode        string `json:"bank_code" binding:"required"`
	ReferenceNumber string `json:"reference_number" binding:"required"`
	BankAccountID   uint   `json:"bank_account_id" binding:"required"`
}

// CompletePayment reconciles a bank transfer reference against an order.
func (h *Handler) CompletePayment(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "order_id, bank_code, reference_number and bank_account_id are required")
		return
	}

	res, err := h.reconciler.CompletePayment(c.Request.Context(), reconciliation.CompleteInput{
		OrderID:         req.OrderID,
		BankCode:        req.BankCode,
		ReferenceNumber: req.ReferenceNumber,
		BankAccountID:   req.BankAccountID,
		UserID:          access.FromContext(c.Request.Context()).UserID,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, res)
}

type confirmRequest struct {
	OrderID         uint                  `json:"order_id" binding:"required"`
	UserID          uint                  `json:"user_id" binding:"required"`
	ReferenceNumber string                `json:"reference_number" binding:"required"`
	ReceiptData     *receipts.ReceiptData `json:"receipt_data" binding:"required"`
}

// ConfirmBankTransfer is the admin path for receipts parsed outside the
// request, e.g. a resumed verification. UserID names the order's owner.
func (h *Handler) ConfirmBankTransfer(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "order_id, user_id, reference_number and receipt_data are required")
		return
	}

	res, err := h.reconciler.ConfirmBankTransfer(c.Request.Context(), req.OrderID, req.ReferenceNumber, req.ReceiptData, req.UserID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, res)
}
