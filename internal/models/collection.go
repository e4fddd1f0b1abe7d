package models

import "time"

// Collection groups endpoints in the admin UI
type Collection struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	IsExpanded  bool      `json:"isExpanded"`
	SortOrder   int       `json:"sortOrder"`
	CreatedAt   time.Time `json:"createdAt"`
	EndpointIDs []string  `json:"endpointIds"` // Ordered
}

// HasEndpoint reports whether the collection contains the endpoint
func (c *Collection) HasEndpoint(endpointID string) bool {
	for _, id := range c.EndpointIDs {
		if id == endpointID {
			return true
		}
	}
	return false
}

// MoveEndpointInput represents a drag-and-drop move between collections
type MoveEndpointInput struct {
	EndpointID       string `json:"endpointId" binding:"required"`
	FromCollectionID string `json:"fromCollectionId"`
	ToCollectionID   string `json:"toCollectionId" binding:"required"`
	SortOrder        int    `json:"sortOrder"`
}
