package billing

import (
	"net/http"

	"bookstore-backend/internal/api/respond"
	"bookstore-backend/internal/domain/billing"

	"github.com/gin-gonic/gin"
)

// ListBankAccounts shows the merchant accounts customers can transfer to.
func (h *Handler) ListBankAccounts(c *gin.Context) {
	list, err := h.accounts.ListActive(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, list)
}

type bankAccountRequest struct {
	BankCode      string `json:"bank_code" binding:"required"`
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
}

func (h *Handler) CreateBankAccount(c *gin.Context) {
	var req bankAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "bank_code, account_name and account_number are required")
		return
	}

	acc, err := h.accounts.Create(c.Request.Context(), &billing.BankAccount{
		BankCode:      req.BankCode,
		BankName:      req.BankName,
		AccountName:   req.AccountName,
		AccountNumber: req.AccountNumber,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusCreated, acc)
}
