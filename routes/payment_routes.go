package routes

import (
	"github.com/fadovn/fado_crm/handlers"
	"github.com/fadovn/fado_crm/middleware"
	"github.com/gofiber/fiber/v2"
)

func PaymentRoutes(app *fiber.App, h *handlers.PaymentHandler) {
	pay := app.Group("/payments")

	// Gateway-facing callbacks stay unauthenticated; the signature is the
	// only credential the gateway presents.
	pay.Get("/return", h.HandleReturn)
	pay.Post("/webhook", h.HandleWebhook)
	pay.Get("/banks", h.ListBanks)

	// Internal API consumed by the order-checkout flow.
	pay.Post("/create", middleware.Protected(), middleware.StaffRequired(), h.CreatePayment)
}
