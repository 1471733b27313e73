package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints under the /wallet group.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("", h.Create)
	r.Get("/:id/balance", h.Balance)
	r.Get("/:id/balance/history", h.History)
	r.Post("/:id/deposit", h.Deposit)
	r.Post("/:id/withdraw", h.Withdraw)
	r.Post("/:sourceId/transfer/:destId", h.Transfer)
}
