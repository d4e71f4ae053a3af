package router

import (
	"github.com/gofiber/fiber/v2"

	apiv1 "github.com/memberloop/memberpay/internal/api/v1"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App, server *apiv1.APIServer) {
	setup(app, NewApiRouter(server))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
