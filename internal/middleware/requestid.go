package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	// RequestTransactionHeader carries the client idempotency identifier.
	RequestTransactionHeader = "requestTransactionId"

	requestTransactionLocal = "request_transaction_id"
	minRequestIDLength      = 5
)

// RequestTransactionID rejects requests without a usable requestTransactionId
// header and exposes the value to later handlers.
func RequestTransactionID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := strings.TrimSpace(c.Get(RequestTransactionHeader))
		if len(reqID) < minRequestIDLength {
			return fiber.NewError(fiber.StatusBadRequest, "requestTransactionId header must have at least 5 characters")
		}

		c.Locals(requestTransactionLocal, reqID)

		return c.Next()
	}
}

// RequestTransaction returns the identifier stored by RequestTransactionID.
func RequestTransaction(c *fiber.Ctx) string {
	reqID, _ := c.Locals(requestTransactionLocal).(string)
	return reqID
}
