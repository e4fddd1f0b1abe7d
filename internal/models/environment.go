package models

import "time"

// Environment is a named set of variables substituted into templates
type Environment struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Variables map[string]string `json:"variables"`
	IsActive  bool              `json:"isActive"`
	SortOrder int               `json:"sortOrder"`
	CreatedAt time.Time         `json:"createdAt"`
}

// EnvironmentUpdate represents a partial environment update
type EnvironmentUpdate struct {
	Name      *string            `json:"name,omitempty"`
	Variables *map[string]string `json:"variables,omitempty"`
	SortOrder *int               `json:"sortOrder,omitempty"`
}
