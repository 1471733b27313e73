package wallet

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/middleware"
)

// Handler exposes wallet HTTP endpoints. Domain errors are returned as-is and
// mapped to status codes by the application error handler.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	UserID string `json:"userId"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Create provisions a wallet for a registered user.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid userId")
	}

	w, err := h.service.CreateWallet(c.UserContext(), middleware.RequestTransaction(c), userID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(ToWalletDTO(w))
}

// Balance returns the wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	walletID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	balance, err := h.service.GetBalance(c.UserContext(), walletID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(BalanceDTO{
		WalletID:  walletID,
		Balance:   balance,
		Timestamp: time.Now().UTC(),
	})
}

// History returns the ledger entries that moved the wallet's balance in the
// last daysBefore days. Entries are selected by the wallet they move, so a
// transfer credit is listed under the destination wallet even though it is
// stored in the source wallet's partition.
func (h *Handler) History(c *fiber.Ctx) error {
	walletID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	report, err := h.service.GetHistoricalTransactions(c.UserContext(), walletID, c.QueryInt("daysBefore", 0))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(report)
}

// Deposit admits a deposit.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	walletID, amount, err := walletAndAmount(c)
	if err != nil {
		return err
	}
	dto, err := h.service.Deposit(c.UserContext(), middleware.RequestTransaction(c), walletID, amount)
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(dto)
}

// Withdraw admits a withdrawal.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	walletID, amount, err := walletAndAmount(c)
	if err != nil {
		return err
	}
	dto, err := h.service.Withdraw(c.UserContext(), middleware.RequestTransaction(c), walletID, amount)
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(dto)
}

// Transfer admits a transfer between two wallets.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	sourceID, err := pathID(c, "sourceId")
	if err != nil {
		return err
	}
	destinationID, err := pathID(c, "destId")
	if err != nil {
		return err
	}
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	dto, err := h.service.Transfer(c.UserContext(), middleware.RequestTransaction(c), sourceID, destinationID, req.Amount)
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(dto)
}

func walletAndAmount(c *fiber.Ctx) (uuid.UUID, decimal.Decimal, error) {
	walletID, err := pathID(c, "id")
	if err != nil {
		return uuid.Nil, decimal.Zero, err
	}
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return uuid.Nil, decimal.Zero, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return walletID, req.Amount, nil
}

func pathID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}
