package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUserNotRegistered is returned when a user lookup misses.
	ErrUserNotRegistered = errors.New("user not registered")
	// ErrDocumentAlreadyExists is returned when a document number is already taken.
	ErrDocumentAlreadyExists = errors.New("document already registered")
	// ErrInvalidRegistration is returned when username or document is blank.
	ErrInvalidRegistration = errors.New("username and document are required")
)

// User represents a registered wallet owner. Document is the national
// taxpayer number (CPF) and is unique.
type User struct {
	ID                   uuid.UUID
	RequestTransactionID string
	Username             string
	Name                 string
	Email                string
	Document             string
	CreatedAt            time.Time
}

// Registration is the input of Service.Register.
type Registration struct {
	Username string
	Name     string
	Email    string
	Document string
}
