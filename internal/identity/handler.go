package identity

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/congo-pay/walletledger/internal/middleware"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	CPF      string `json:"cpf"`
}

type userResponse struct {
	ID                   uuid.UUID `json:"id"`
	RequestTransactionID string    `json:"requestTransactionId"`
	Username             string    `json:"username"`
	Name                 string    `json:"name"`
	Email                string    `json:"email"`
	CPF                  string    `json:"cpf"`
	CreatedAt            time.Time `json:"createdAt"`
}

func toResponse(u User) userResponse {
	return userResponse{
		ID:                   u.ID,
		RequestTransactionID: u.RequestTransactionID,
		Username:             u.Username,
		Name:                 u.Name,
		Email:                u.Email,
		CPF:                  u.Document,
		CreatedAt:            u.CreatedAt,
	}
}

// Register handles user onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.Username == "" || req.CPF == "" {
		return fiber.NewError(http.StatusBadRequest, "username and cpf are required")
	}
	user, err := h.service.Register(c.UserContext(), middleware.RequestTransaction(c), Registration{
		Username: req.Username,
		Name:     req.Name,
		Email:    req.Email,
		Document: req.CPF,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(user))
}

// GetByDocument looks a user up by CPF.
func (h *Handler) GetByDocument(c *fiber.Ctx) error {
	user, err := h.service.GetByDocument(c.UserContext(), c.Params("cpf"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(user))
}
