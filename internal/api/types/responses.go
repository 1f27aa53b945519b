package types

import "github.com/ryde/accounts/internal/models"

// UserResponse is the success body of the user endpoints.
type UserResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	User    *models.User `json:"user"`
}

// ErrorResponse is the failure body of the user endpoints. User is set on
// conflicts so callers can treat them as already provisioned.
type ErrorResponse struct {
	Error   string       `json:"error"`
	Details string       `json:"details,omitempty"`
	User    *models.User `json:"user,omitempty"`
}

// StatusResponse is returned by the health endpoints.
type StatusResponse struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
}
