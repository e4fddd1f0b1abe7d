package storage

import (
	"github.com/prasenjit/mockpit/internal/models"
)

// Storage defines the interface for data persistence
type Storage interface {
	// Endpoint operations. Endpoints are returned with their variants and
	// documentation rows. UpdateEndpoint never touches variants or the
	// active variant; use the variant operations and SetActiveVariant.
	CreateEndpoint(ep *models.Endpoint) error
	GetEndpoint(id string) (*models.Endpoint, error)
	GetEndpointByRoute(method, path string) (*models.Endpoint, error)
	GetAllEndpoints() ([]*models.Endpoint, error)
	GetEnabledEndpoints() ([]*models.Endpoint, error)
	UpdateEndpoint(ep *models.Endpoint) error
	SetActiveVariant(endpointID string, variantID *string) error
	DeleteEndpoint(id string) error

	// Variant operations. DeleteVariant reassigns the endpoint's active
	// variant in the same critical section when the deleted one was active.
	CreateVariant(v *models.ResponseVariant) error
	GetVariant(id string) (*models.ResponseVariant, error)
	UpdateVariant(v *models.ResponseVariant) error
	DeleteVariant(id string) error

	// Environment operations. At most one environment is active.
	CreateEnvironment(env *models.Environment) error
	GetEnvironment(id string) (*models.Environment, error)
	GetAllEnvironments() ([]*models.Environment, error)
	GetActiveEnvironment() (*models.Environment, error)
	UpdateEnvironment(env *models.Environment) error
	SetActiveEnvironment(id string) error // "" deactivates all
	DeleteEnvironment(id string) error

	// Collection operations
	CreateCollection(c *models.Collection) error
	GetCollection(id string) (*models.Collection, error)
	GetAllCollections() ([]*models.Collection, error)
	UpdateCollection(c *models.Collection) error
	DeleteCollection(id string) error
	ReorderCollections(orderedIDs []string) error
	AddEndpointToCollection(collectionID, endpointID string, position int) error
	RemoveEndpointFromCollection(collectionID, endpointID string) error
	ReorderCollectionEndpoints(collectionID string, orderedEndpointIDs []string) error

	// Request history, newest first
	AppendRecord(rec *models.RequestRecord) error
	GetRecords(filter models.RecordFilter) ([]*models.RequestRecord, error)
	ClearRecords() error

	// Settings
	GetSettings() (*models.Settings, error)
	SaveSettings(s *models.Settings) error

	// Utility
	Close() error
}
