package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookstore-backend/config"
	"bookstore-backend/database"
	adminapi "bookstore-backend/internal/api/admin"
	billingapi "bookstore-backend/internal/api/billing"
	ordersapi "bookstore-backend/internal/api/orders"
	plansapi "bookstore-backend/internal/api/plans"
	routes "bookstore-backend/internal/app/http"
	"bookstore-backend/internal/banktransfer"
	"bookstore-backend/internal/domain/billing"
	"bookstore-backend/internal/domain/catalog"
	"bookstore-backend/internal/domain/orders"
	"bookstore-backend/internal/domain/plans"
	"bookstore-backend/internal/domain/subscriptions"
	"bookstore-backend/internal/infra/dbtx"
	"bookstore-backend/internal/infra/locks"
	"bookstore-backend/internal/infra/logging"
	"bookstore-backend/internal/infra/storage"
	"bookstore-backend/internal/jobs"
	"bookstore-backend/internal/receipts"
	"bookstore-backend/internal/reconciliation"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	// gin.SetMode(gin.ReleaseMode) uncomment only in production
	config.LoadEnv()
	logging.Init(logging.Config{Level: config.LOG_LEVEL, Format: config.LOG_FORMAT})

	if err := database.InitDB(config.DB_URL); err != nil {
		slog.Error("database init failed", "err", err)
		os.Exit(1)
	}
	db := database.DB
	tx := dbtx.New(db)

	store, err := storage.NewLocal(config.RECEIPT_STORAGE_DIR)
	if err != nil {
		slog.Error("receipt storage init failed", "err", err)
		os.Exit(1)
	}

	var locker locks.Locker = locks.NewLocal()
	if config.REDIS_ADDR != "" {
		rdb := redis.NewClient(&redis.Options{Addr: config.REDIS_ADDR})
		defer rdb.Close()
		locker = locks.NewRedis(rdb, "bookstore:lock:", 2*config.RECEIPT_FETCH_TIMEOUT)
		slog.Info("reference locks backed by redis", "addr", config.REDIS_ADDR)
	}

	validator := receipts.NewValidator(&http.Client{Timeout: config.RECEIPT_FETCH_TIMEOUT}, receipts.DefaultBanks()...)
	coordinator := banktransfer.NewCoordinator(validator, store, banktransfer.Options{
		Tolerance:    config.PAYMENT_AMOUNT_TOLERANCE,
		FetchTimeout: config.RECEIPT_FETCH_TIMEOUT,
	})

	planCatalog := plans.NewCatalog(plans.NewGormRepository(db), config.DEFAULT_CURRENCY)
	orderLedger := orders.NewLedger(orders.NewGormRepository(db), catalog.NewGormBooks(db), tx, orders.Options{
		ReturnWindow: time.Duration(config.RETURN_WINDOW_DAYS) * 24 * time.Hour,
		TaxRate:      config.CHECKOUT_TAX_RATE,
		ShippingFee:  config.CHECKOUT_SHIPPING_FEE,
	})
	paymentLedger := billing.NewLedger(billing.NewGormRepository(db), orderLedger, tx, nil)
	accounts := billing.NewAccounts(billing.NewGormBankAccounts(db), validator)
	activator := subscriptions.NewActivator(subscriptions.NewGormRepository(db), planCatalog, orderLedger, paymentLedger, tx, nil)

	reconciler := reconciliation.New(reconciliation.Deps{
		Orders:        orderLedger,
		Payments:      paymentLedger,
		Accounts:      accounts,
		Verifier:      coordinator,
		Subscriptions: activator,
		Locker:        locker,
		Tx:            tx,
	})

	scheduler, err := jobs.NewScheduler(config.SUBSCRIPTION_SWEEP_CRON, activator)
	if err != nil {
		slog.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop(30 * time.Second)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{config.CORS_ORIGIN},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, routes.Handlers{
		JWTSecret:     config.JWT_SECRET,
		Orders:        ordersapi.NewHandler(orderLedger),
		Billing:       billingapi.NewHandler(paymentLedger, accounts, reconciler, activator, store),
		Plans:         plansapi.NewHandler(planCatalog),
		Admin:         adminapi.NewHandler(orderLedger, paymentLedger),
		Subscriptions: activator,
	})

	srv := &http.Server{Addr: ":" + config.PORT, Handler: r}
	go func() {
		slog.Info("http server listening", "port", config.PORT)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown failed", "err", err)
	}
	slog.Info("server stopped")
}
