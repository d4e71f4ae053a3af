package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	apiv1 "github.com/memberloop/memberpay/internal/api/v1"
	"github.com/memberloop/memberpay/internal/pkg/middleware"
)

type ApiRouter struct {
	server *apiv1.APIServer
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	v1.Get("/ping", h.server.GetPing)

	// Job administration, key-protected. Checkout is key-protected as well:
	// it is a server-to-server call from the storefront, not a browser form.
	adminKey := middleware.AdminAPIKeyMiddleware()
	jobs := v1.Group("/jobs", adminKey)
	jobs.Get("/status", h.server.GetJobsStatus)
	jobs.Post("/renewal/run", h.server.PostRenewalRun)
	jobs.Patch("/config", h.server.PatchJobsConfig)

	payment := v1.Group("/payment")
	payment.Post("/checkout", adminKey, h.server.PostPaymentCheckout)
	// The return callback is hit by the user's browser; the signature check
	// inside the handler is its authentication.
	payment.Get("/return", h.server.GetPaymentReturn)
}

func NewApiRouter(server *apiv1.APIServer) *ApiRouter {
	return &ApiRouter{server: server}
}
