package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	apiv1 "github.com/memberloop/memberpay/internal/api/v1"
	"github.com/memberloop/memberpay/internal/pkg/billing"
	"github.com/memberloop/memberpay/internal/pkg/cache"
	"github.com/memberloop/memberpay/internal/pkg/database"
	"github.com/memberloop/memberpay/internal/pkg/env"
	"github.com/memberloop/memberpay/internal/pkg/gateway"
	"github.com/memberloop/memberpay/internal/pkg/jobs"
	"github.com/memberloop/memberpay/internal/pkg/notify"
	"github.com/memberloop/memberpay/internal/pkg/renewal"
	"github.com/memberloop/memberpay/internal/pkg/router"
)

func main() {
	app, manager := NewApplication()

	// Stop the scheduler and drain in-flight passes before the listener
	// goes away.
	shutdownDone := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		manager.Shutdown()
		_ = app.ShutdownWithTimeout(10 * time.Second)
		close(shutdownDone)
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
	<-shutdownDone
}

// NewApplication wires the whole service: storage, gateway adapter, renewal
// job, job manager and HTTP surface. Everything is constructed here and
// passed down; no package holds a process-global job instance.
func NewApplication() (*fiber.App, *jobs.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repo := billing.NewRepository(db)

	adapter, err := gateway.NewAdapter(gateway.Config{
		BaseURL:    env.GetEnv("VNPAY_BASE_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
		TmnCode:    env.GetEnv("VNPAY_TMN_CODE", ""),
		HashSecret: env.GetEnv("VNPAY_HASH_SECRET", ""),
		ReturnURL:  env.GetEnv("VNPAY_RETURN_URL", "http://localhost:4000/api/v1/payment/return"),
	}, nil)
	if err != nil {
		log.Fatalf("payment gateway configuration: %v", err)
	}

	job := renewal.NewJob(repo, adapter, notify.NewSuspensionNotifier(db), renewalConfigFromEnv())
	job.SetLease(renewal.NewCacheLease())

	manager := jobs.NewManager(job, jobs.Config{
		EnableRenewalJob:  env.GetEnv("RENEWAL_JOB_ENABLED", "true") == "true",
		RenewalJob:        job.Config(),
		ReconcileInterval: envDuration("RENEWAL_RECONCILE_INTERVAL_MINUTES", jobs.DefaultConfig().ReconcileInterval),
	})
	manager.Initialize()

	app := fiber.New(fiber.Config{
		AppName: "MemberPay",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app, apiv1.NewAPIServer(manager, repo, adapter))

	return app, manager
}

func renewalConfigFromEnv() renewal.Config {
	cfg := renewal.DefaultConfig()
	cfg.CheckInterval = envDuration("RENEWAL_CHECK_INTERVAL_MINUTES", cfg.CheckInterval)
	cfg.RetryDelay = envDuration("RENEWAL_RETRY_DELAY_MINUTES", cfg.RetryDelay)
	if v, err := strconv.Atoi(env.GetEnv("RENEWAL_DAYS_BEFORE_EXPIRY", "")); err == nil {
		cfg.DaysBeforeExpiry = v
	}
	if v, err := strconv.Atoi(env.GetEnv("RENEWAL_MAX_RETRY_ATTEMPTS", "")); err == nil {
		cfg.MaxRetryAttempts = v
	}
	return cfg
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := strconv.Atoi(env.GetEnv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return time.Duration(v) * time.Minute
}
