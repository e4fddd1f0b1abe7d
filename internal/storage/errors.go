package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an entity clashes with an existing one
	ErrConflict = errors.New("conflict")
)

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func routeConflict(method, path string) error {
	return fmt.Errorf("endpoint %s %s already exists: %w", method, path, ErrConflict)
}
