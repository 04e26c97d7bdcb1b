package routes

import (
	adminapi "bookstore-backend/internal/api/admin"
	"bookstore-backend/internal/api/billing"
	ordersapi "bookstore-backend/internal/api/orders"
	"bookstore-backend/internal/api/plans"
	"bookstore-backend/internal/app/http/middleware"
	"bookstore-backend/internal/domain/access"
	"bookstore-backend/internal/infra/metrics"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	JWTSecret     string
	Orders        *ordersapi.Handler
	Billing       *billing.Handler
	Plans         *plans.Handler
	Admin         *adminapi.Handler
	Subscriptions middleware.SubscriptionReader
}

func RegisterRoutes(r *gin.Engine, h Handlers) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())

	public := r.Group("/")
	public.GET("/plans", h.Plans.ListPlans)
	public.GET("/plans/:id", h.Plans.GetPlan)
	public.GET("/bank-accounts", h.Billing.ListBankAccounts)

	// Authenticated
	auth := r.Group("/")
	auth.Use(middleware.AuthMiddleware(h.JWTSecret), middleware.SanitizeAndCleanInputMiddleware())

	auth.POST("/checkout", h.Orders.Checkout)
	auth.GET("/orders", h.Orders.ListMine)
	auth.GET("/orders/:id", h.Orders.GetOne)
	auth.POST("/orders/:id/cancel", h.Orders.Cancel)
	auth.POST("/orders/:id/return", h.Orders.RequestReturn)

	auth.POST("/payments/complete", h.Billing.CompletePayment)
	auth.GET("/payments", h.Billing.GetPaymentHistory)
	auth.GET("/payments/:id", h.Billing.GetPayment)
	auth.DELETE("/payments/:id", h.Billing.DeletePayment)

	auth.POST("/subscriptions", h.Billing.Subscribe)
	auth.GET("/subscriptions/me", h.Billing.GetMySubscription)
	auth.POST("/subscriptions/activate", h.Billing.ActivateSubscription)
	auth.POST("/subscriptions/:id/cancel", h.Billing.CancelSubscription)

	// Subscribed users
	subscribed := auth.Group("/")
	subscribed.Use(middleware.RequireActiveSubscription(h.Subscriptions, nil))
	subscribed.GET("/subscriptions/me/access", h.Billing.GetAccess)

	// Admin routes
	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(h.JWTSecret), middleware.RequireRole(access.RoleAdmin), middleware.SanitizeAndCleanInputMiddleware())
	admin.GET("/dashboard", h.Admin.AdminDashboard)

	admin.GET("/orders", h.Orders.List)
	admin.GET("/orders/:id", h.Orders.GetOne)
	admin.PATCH("/orders/:id/status", h.Orders.UpdateStatus)
	admin.PATCH("/orders/:id/payment-status", h.Orders.UpdatePaymentStatus)
	admin.PATCH("/orders/:id/tracking", h.Orders.AddTrackingNumber)

	admin.GET("/payments", h.Billing.GetPaymentHistory)
	admin.PATCH("/payments/:id/status", h.Billing.UpdatePaymentStatus)
	admin.POST("/payments/confirm", h.Billing.ConfirmBankTransfer)
	admin.GET("/payments/:id/receipt", h.Billing.DownloadReceipt)

	admin.POST("/plans", h.Plans.CreatePlan)
	admin.POST("/bank-accounts", h.Billing.CreateBankAccount)
	admin.POST("/subscriptions/expire", h.Billing.ExpireSubscriptions)
}
