package models

import (
	"strings"
	"time"
)

// Supported HTTP methods for mock endpoints
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
	MethodPatch  = "PATCH"
)

// ValidMethods returns all methods an endpoint can be registered for
func ValidMethods() []string {
	return []string{MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch}
}

// IsValidMethod reports whether method is one of ValidMethods (case-insensitive)
func IsValidMethod(method string) bool {
	upper := strings.ToUpper(method)
	for _, m := range ValidMethods() {
		if m == upper {
			return true
		}
	}
	return false
}

// Endpoint represents a virtual HTTP endpoint served by the mock server
type Endpoint struct {
	ID                     string            `json:"id"`
	Method                 string            `json:"method"`
	Path                   string            `json:"path"` // May contain :name or {name} parameters
	Name                   string            `json:"name"`
	ActiveVariantID        *string           `json:"activeVariantId"`
	IsEnabled              bool              `json:"isEnabled"`
	RequestBodyContentType string            `json:"requestBodyContentType"`
	RequestBodyRaw         string            `json:"requestBodyRaw"`
	CreatedAt              time.Time         `json:"createdAt"`
	UpdatedAt              time.Time         `json:"updatedAt"`
	QueryParams            []KeyValueRow     `json:"queryParams"`
	RequestHeaders         []KeyValueRow     `json:"requestHeaders"`
	ResponseVariants       []ResponseVariant `json:"responseVariants"`
}

// KeyValueRow is a documentation row for a query parameter or request header
type KeyValueRow struct {
	ID         string `json:"id"`
	EndpointID string `json:"endpointId"`
	Key        string `json:"key"`
	Value      string `json:"value"`
	IsEnabled  bool   `json:"isEnabled"`
	SortOrder  int    `json:"sortOrder"`
}

// EndpointInput represents input for creating an endpoint
type EndpointInput struct {
	Method       string `json:"method" binding:"required"`
	Path         string `json:"path" binding:"required"`
	Name         string `json:"name"`
	CollectionID string `json:"collectionId"`
}

// EndpointUpdate represents a partial endpoint update
type EndpointUpdate struct {
	Method                 *string        `json:"method,omitempty"`
	Path                   *string        `json:"path,omitempty"`
	Name                   *string        `json:"name,omitempty"`
	IsEnabled              *bool          `json:"isEnabled,omitempty"`
	RequestBodyContentType *string        `json:"requestBodyContentType,omitempty"`
	RequestBodyRaw         *string        `json:"requestBodyRaw,omitempty"`
	QueryParams            *[]KeyValueRow `json:"queryParams,omitempty"`
	RequestHeaders         *[]KeyValueRow `json:"requestHeaders,omitempty"`
}

// Variant returns the response variant with the given ID, or nil
func (e *Endpoint) Variant(id string) *ResponseVariant {
	for i := range e.ResponseVariants {
		if e.ResponseVariants[i].ID == id {
			return &e.ResponseVariants[i]
		}
	}
	return nil
}

// ActiveVariant returns the active variant, falling back to the first one.
// It returns nil when the endpoint has no variants.
func (e *Endpoint) ActiveVariant() *ResponseVariant {
	if e.ActiveVariantID != nil {
		if v := e.Variant(*e.ActiveVariantID); v != nil {
			return v
		}
	}
	if len(e.ResponseVariants) > 0 {
		return &e.ResponseVariants[0]
	}
	return nil
}

// RouteKey returns the "METHOD /path" key identifying the endpoint's route
func (e *Endpoint) RouteKey() string {
	return RouteKey(e.Method, e.Path)
}

// RouteKey builds the registry key for a method and path
func RouteKey(method, path string) string {
	return strings.ToUpper(method) + " " + NormalizePath(path)
}

// NormalizePath strips trailing slashes, keeping the root path intact
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}
