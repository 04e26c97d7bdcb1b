package plans

import (
	"net/http"

	"bookstore-backend/internal/api/respond"
	"bookstore-backend/internal/domain/plans"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type Handler struct {
	catalog *plans.Catalog
}

func NewHandler(catalog *plans.Catalog) *Handler {
	return &Handler{catalog: catalog}
}

func (h *Handler) ListPlans(c *gin.Context) {
	list, err := h.catalog.ListActive(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, list)
}

func (h *Handler) GetPlan(c *gin.Context) {
	id, ok := respond.ID(c, "id")
	if !ok {
		return
	}
	p, err := h.catalog.Get(c.Request.Context(), id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, p)
}

type planRequest struct {
	Name         string          `json:"name" binding:"required"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	DurationDays *int            `json:"duration_days"`
	IsLifetime   bool            `json:"is_lifetime"`
}

func (h *Handler) CreatePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "Invalid plan")
		return
	}

	p, err := h.catalog.Create(c.Request.Context(), &plans.Plan{
		Name:         req.Name,
		Description:  req.Description,
		Price:        req.Price,
		Currency:     req.Currency,
		DurationDays: req.DurationDays,
		IsLifetime:   req.IsLifetime,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusCreated, p)
}
