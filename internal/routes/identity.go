package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/identity"
)

// RegisterIdentityRoutes wires the user directory endpoints under the /user group.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("", h.Register)
	r.Get("/:cpf", h.GetByDocument)
}
