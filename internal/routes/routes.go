package routes

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/congo-pay/walletledger/internal/identity"
	"github.com/congo-pay/walletledger/internal/middleware"
	"github.com/congo-pay/walletledger/internal/wallet"
)

// Deps aggregates the handlers and probes required to wire routes.
type Deps struct {
	Wallets  *wallet.Handler
	Users    *identity.Handler
	Checks   map[string]Check
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Setup configures middlewares and all application routes. The app should be
// created with ErrorHandler so domain errors reach clients as JSON.
func Setup(app *fiber.App, d Deps) {
	app.Use(recover.New())
	app.Use(middleware.Audit(d.Logger, StatusFor))

	RegisterHealthRoutes(app, d.Checks)
	if d.Gatherer != nil {
		RegisterMetricsRoute(app, d.Gatherer)
	}

	RegisterIdentityRoutes(app.Group("/user", middleware.RequestTransactionID()), d.Users)
	RegisterWalletRoutes(app.Group("/wallet", middleware.RequestTransactionID()), d.Wallets)
}
