package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"

	"github.com/trm-platform/trm-backend/internal/config"
	"github.com/trm-platform/trm-backend/internal/db"
	"github.com/trm-platform/trm-backend/internal/handlers"
	"github.com/trm-platform/trm-backend/internal/middleware"
	"github.com/trm-platform/trm-backend/internal/models"
	"github.com/trm-platform/trm-backend/internal/realtime"
	"github.com/trm-platform/trm-backend/internal/services/commission"
	"github.com/trm-platform/trm-backend/internal/services/ledger"
	"github.com/trm-platform/trm-backend/internal/services/notify"
	"github.com/trm-platform/trm-backend/internal/services/payment"
	"github.com/trm-platform/trm-backend/internal/services/reconcile"
	"github.com/trm-platform/trm-backend/internal/services/referral"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}

	rdb := realtime.NewRedis(cfg)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Redis not reachable:", err)
	}

	hub := realtime.NewHub()
	go hub.Run()

	if err := gdb.AutoMigrate(
		&models.User{},
		&models.ReferrerProfile{},
		&models.Company{},
		&models.Job{},
		&models.Referral{},
		&models.ReferralStatusChange{},
		&models.PaymentTransaction{},
	); err != nil {
		log.Fatal(err)
	}

	gateway := payment.NewClient(cfg)
	ledgerSvc := ledger.NewService(gdb, gateway)
	calculator := commission.NewCalculator(ledgerSvc, cfg)
	notifier := notify.New(rdb, hub)
	transitions := referral.NewService(gdb, calculator, ledgerSvc, notifier)

	store := reconcile.NewGormStore(gdb, ledgerSvc)
	worker := reconcile.NewWorker(store, gateway,
		time.Duration(cfg.StaleAfterMin)*time.Minute,
		time.Duration(cfg.ReconcileDelayMs)*time.Millisecond,
	)
	worker.Start(time.Duration(cfg.ReconcileIntervalMin) * time.Minute)

	app := fiber.New()

	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://127.0.0.1:3000, http://localhost:3000",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Callback-Signature",
		ExposeHeaders:    "Content-Length",
		AllowCredentials: true,
	}))

	app.Options("/*", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	authH := &handlers.AuthHandler{
		DB:        gdb,
		JWTSecret: cfg.JWTSecret,
		Expires:   cfg.JWTExpiresMin,
	}
	googleH := &handlers.GoogleOAuthHandler{
		DB:              gdb,
		JWTSecret:       cfg.JWTSecret,
		Expires:         cfg.JWTExpiresMin,
		GoogleClientID:  cfg.GoogleClientID,
		GoogleSecret:    cfg.GoogleSecret,
		GoogleRedirect:  cfg.GoogleRedirect,
		FrontendBaseURL: cfg.FrontendBaseURL,
	}
	jobH := handlers.NewJobHandler(gdb, rdb)
	companyH := handlers.NewCompanyHandler(gdb)
	referralH := handlers.NewReferralHandler(gdb, transitions, cfg.StatusTokenKey)
	paymentH := handlers.NewPaymentHandler(gdb, ledgerSvc, gateway, worker, notifier)
	dashboardH := handlers.NewReferrerDashboardHandler(gdb)
	wsH := handlers.NewWSHandler(hub, cfg.JWTSecret)

	api := app.Group("/api")

	// public
	api.Post("/auth/register", authH.Register)
	api.Post("/auth/login", authH.Login)
	api.Post("/auth/logout", authH.Logout)
	api.Get("/auth/google/start", googleH.GoogleStart)
	api.Get("/auth/google/callback", googleH.GoogleCallback)
	api.Get("/jobs", jobH.ListPublic)
	api.Get("/jobs/:id", jobH.GetDetail)
	api.Get("/categories", jobH.GetCategories)
	api.Get("/track/:token", referralH.Track)

	// provider callback, authenticated by signature instead of JWT
	api.Post("/payments/callback", paymentH.Callback)

	// protected (JWT)
	protected := api.Group("/",
		middleware.JWTFromCookie(cfg.JWTSecret),
		middleware.AttachJWTLocals(),
	)

	protected.Get("/me", func(c *fiber.Ctx) error {
		uid := c.Locals("userId")

		var user models.User
		if err := gdb.First(&user, "id = ?", uid).Error; err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "User not found",
			})
		}

		return c.JSON(fiber.Map{
			"success": true,
			"data": fiber.Map{
				"id":          user.ID,
				"name":        user.Name,
				"email":       user.Email,
				"role":        user.Role,
				"invite_code": user.InviteCode,
			},
		})
	})

	// referrer side
	protected.Post("/referrals",
		middleware.RequireRoles("referrer"),
		referralH.CreateReferral,
	)
	protected.Get("/referrals/mine",
		middleware.RequireRoles("referrer"),
		referralH.ListMine,
	)
	protected.Get("/referrer/earnings",
		middleware.RequireRoles("referrer"),
		dashboardH.Earnings,
	)
	protected.Get("/referrer/network",
		middleware.RequireRoles("referrer"),
		dashboardH.Network,
	)
	protected.Put("/referrer/payout-settings",
		middleware.RequireRoles("referrer"),
		dashboardH.UpdatePayoutSettings,
	)

	// company side
	protected.Put("/company/profile",
		middleware.RequireRoles("company"),
		companyH.UpsertProfile,
	)
	protected.Get("/company/profile",
		middleware.RequireRoles("company"),
		companyH.MyProfile,
	)
	protected.Post("/company/jobs",
		middleware.RequireRoles("company"),
		jobH.CreateJob,
	)
	protected.Get("/company/jobs",
		middleware.RequireRoles("company"),
		companyH.MyJobs,
	)
	protected.Patch("/company/jobs/:id/close",
		middleware.RequireRoles("company"),
		jobH.CloseJob,
	)
	protected.Get("/company/referrals",
		middleware.RequireRoles("company"),
		referralH.CompanyInbox,
	)

	// shared
	protected.Get("/referrals/:id", referralH.GetOne)
	protected.Patch("/referrals/:id/status", referralH.UpdateStatus)
	protected.Get("/payments/:id", paymentH.GetOne)

	// admin only
	protected.Get("/admin/payments",
		middleware.RequireRoles("admin"),
		paymentH.AdminList,
	)
	protected.Post("/admin/reconcile",
		middleware.RequireRoles("admin"),
		paymentH.AdminReconcile,
	)
	protected.Post("/admin/payments/:id/reverse",
		middleware.RequireRoles("admin"),
		paymentH.AdminReverse,
	)

	// WebSocket endpoint (no JWT middleware, authenticated via query token)
	app.Get("/ws/updates", websocket.New(wsH.Updates))

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}
	log.Fatal(app.Listen(":" + port))
}
