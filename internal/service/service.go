// Package service implements the admin operations on endpoints, variants,
// environments, collections and settings. Every mutation is persisted,
// applied to the route registry and broadcast to live clients.
package service

import (
	"errors"
	"fmt"

	"github.com/prasenjit/mockpit/internal/models"
)

// ErrInvalid is returned when input fails validation
var ErrInvalid = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalid)
}

// RouteTable is the part of the route registry the services keep in sync
type RouteTable interface {
	Add(ep *models.Endpoint)
	Update(ep *models.Endpoint)
	Remove(endpointID string)
	Reload() error
}

// IDResponse is the payload of deletion events
type IDResponse struct {
	ID string `json:"id"`
}
