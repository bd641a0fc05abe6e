package handlers

import (
	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new CustomValidator.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// ListClientsRequest holds the query parameters of GET /api/clients.
type ListClientsRequest struct {
	// Prefix keeps only clients whose name starts with it.
	Prefix string `query:"prefix" validate:"max=215"`
	Limit  int    `query:"limit" validate:"gte=0,lte=1000"`
}
