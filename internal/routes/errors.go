package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/idempotency"
	"github.com/congo-pay/walletledger/internal/identity"
	"github.com/congo-pay/walletledger/internal/store"
	"github.com/congo-pay/walletledger/internal/wallet"
)

type errorResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Path      string    `json:"path"`
}

var statusByError = []struct {
	err    error
	status int
}{
	{wallet.ErrWalletNotFound, http.StatusNotFound},
	{wallet.ErrSourceWalletNotFound, http.StatusNotFound},
	{wallet.ErrDestinationWalletNotFound, http.StatusNotFound},
	{identity.ErrUserNotRegistered, http.StatusNotFound},
	{wallet.ErrInsufficientFunds, http.StatusPaymentRequired},
	{wallet.ErrWalletInactive, http.StatusPaymentRequired},
	{wallet.ErrDestinationWalletInactive, http.StatusPaymentRequired},
	{idempotency.ErrDuplicateTransaction, http.StatusConflict},
	{wallet.ErrConcurrentModification, http.StatusConflict},
	{wallet.ErrWalletAlreadyExists, http.StatusConflict},
	{identity.ErrDocumentAlreadyExists, http.StatusConflict},
	{wallet.ErrInvalidAmount, http.StatusBadRequest},
	{identity.ErrInvalidRegistration, http.StatusBadRequest},
	{wallet.ErrSameWallet, http.StatusBadRequest},
	{wallet.ErrInvalidPeriod, http.StatusBadRequest},
	{store.ErrTimeout, http.StatusGatewayTimeout},
}

// StatusFor maps a handler error to an HTTP status code.
func StatusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders domain errors as JSON bodies.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := StatusFor(err)
		message := err.Error()
		if status == http.StatusInternalServerError {
			logger.Error("unhandled error",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.Any("error", err))
			message = "internal server error"
		}
		return c.Status(status).JSON(errorResponse{
			Timestamp: time.Now().UTC(),
			Status:    status,
			Error:     http.StatusText(status),
			Message:   message,
			Path:      c.Path(),
		})
	}
}
