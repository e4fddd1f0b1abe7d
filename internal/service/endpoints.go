package service

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/prasenjit/mockpit/internal/events"
	"github.com/prasenjit/mockpit/internal/models"
	"github.com/prasenjit/mockpit/internal/storage"
)

// Endpoints manages endpoints and their response variants
type Endpoints struct {
	store  storage.Storage
	routes RouteTable
	bc     events.Broadcaster
	log    logrus.FieldLogger
	now    func() time.Time

	// mu orders store writes and registry updates so the registry never
	// ends up with an older state than storage
	mu sync.Mutex
}

// NewEndpoints creates the endpoint service
func NewEndpoints(store storage.Storage, routes RouteTable, bc events.Broadcaster, log logrus.FieldLogger) *Endpoints {
	if bc == nil {
		bc = events.Discard{}
	}
	return &Endpoints{
		store:  store,
		routes: routes,
		bc:     bc,
		log:    log.WithField("component", "endpoints"),
		now:    time.Now,
	}
}

// List returns all endpoints in creation order
func (s *Endpoints) List() ([]*models.Endpoint, error) {
	return s.store.GetAllEndpoints()
}

// Get returns a single endpoint
func (s *Endpoints) Get(id string) (*models.Endpoint, error) {
	return s.store.GetEndpoint(id)
}

func validateRoute(method, path string) error {
	if !models.IsValidMethod(method) {
		return invalid("unsupported method %q", method)
	}
	if strings.TrimSpace(path) == "" {
		return invalid("path is required")
	}
	return nil
}

// Create adds an enabled endpoint with a default 200 variant that is
// active. A collection ID links the endpoint into that collection.
func (s *Endpoints) Create(in models.EndpointInput) (*models.Endpoint, error) {
	if err := validateRoute(in.Method, in.Path); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	id := uuid.New().String()
	variantID := uuid.New().String()

	ep := &models.Endpoint{
		ID:                     id,
		Method:                 strings.ToUpper(in.Method),
		Path:                   models.NormalizePath(strings.TrimSpace(in.Path)),
		Name:                   in.Name,
		ActiveVariantID:        &variantID,
		IsEnabled:              true,
		RequestBodyContentType: "application/json",
		CreatedAt:              now,
		UpdatedAt:              now,
		QueryParams:            []models.KeyValueRow{},
		RequestHeaders:         []models.KeyValueRow{},
		ResponseVariants: []models.ResponseVariant{{
			ID:          variantID,
			EndpointID:  id,
			StatusCode:  http.StatusOK,
			Description: models.DefaultVariantDescription,
			Body:        models.DefaultVariantBody,
			Headers:     models.DefaultVariantHeaders,
		}},
	}

	if err := s.store.CreateEndpoint(ep); err != nil {
		return nil, fmt.Errorf("creating endpoint: %w", err)
	}
	created, err := s.store.GetEndpoint(id)
	if err != nil {
		return nil, err
	}
	s.routes.Add(created)

	if in.CollectionID != "" {
		s.linkToCollection(in.CollectionID, id)
	}
	s.bc.Broadcast(events.EndpointCreated, created)

	s.log.WithFields(logrus.Fields{"id": id, "route": created.RouteKey()}).Info("Endpoint created")
	return created, nil
}

func (s *Endpoints) linkToCollection(collectionID, endpointID string) {
	if err := s.store.AddEndpointToCollection(collectionID, endpointID, -1); err != nil {
		s.log.WithError(err).WithField("collection", collectionID).Warn("Could not add endpoint to collection")
		return
	}
	if c, err := s.store.GetCollection(collectionID); err == nil {
		s.bc.Broadcast(events.CollectionUpdated, c)
	}
}

// Update applies a partial update. Method, path and enabled changes take
// effect in the registry before Update returns.
func (s *Endpoints) Update(id string, upd models.EndpointUpdate) (*models.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, err := s.store.GetEndpoint(id)
	if err != nil {
		return nil, err
	}

	if upd.Method != nil {
		ep.Method = strings.ToUpper(*upd.Method)
	}
	if upd.Path != nil {
		ep.Path = models.NormalizePath(strings.TrimSpace(*upd.Path))
	}
	if err := validateRoute(ep.Method, ep.Path); err != nil {
		return nil, err
	}
	if upd.Name != nil {
		ep.Name = *upd.Name
	}
	if upd.IsEnabled != nil {
		ep.IsEnabled = *upd.IsEnabled
	}
	if upd.RequestBodyContentType != nil {
		ep.RequestBodyContentType = *upd.RequestBodyContentType
	}
	if upd.RequestBodyRaw != nil {
		ep.RequestBodyRaw = *upd.RequestBodyRaw
	}
	if upd.QueryParams != nil {
		ep.QueryParams = normalizeRows(id, *upd.QueryParams)
	}
	if upd.RequestHeaders != nil {
		ep.RequestHeaders = normalizeRows(id, *upd.RequestHeaders)
	}
	ep.UpdatedAt = s.now().UTC()

	return s.saveLocked(ep)
}

// normalizeRows assigns IDs, owner and sort order to documentation rows
func normalizeRows(endpointID string, rows []models.KeyValueRow) []models.KeyValueRow {
	out := make([]models.KeyValueRow, len(rows))
	for i, row := range rows {
		if row.ID == "" {
			row.ID = uuid.New().String()
		}
		row.EndpointID = endpointID
		row.SortOrder = i
		out[i] = row
	}
	return out
}

func (s *Endpoints) saveLocked(ep *models.Endpoint) (*models.Endpoint, error) {
	if err := s.store.UpdateEndpoint(ep); err != nil {
		return nil, fmt.Errorf("updating endpoint: %w", err)
	}
	return s.refreshLocked(ep.ID)
}

// refreshLocked reloads an endpoint from storage into the registry and
// announces the new state
func (s *Endpoints) refreshLocked(id string) (*models.Endpoint, error) {
	updated, err := s.store.GetEndpoint(id)
	if err != nil {
		return nil, err
	}
	s.routes.Update(updated)
	s.bc.Broadcast(events.EndpointUpdated, updated)
	return updated, nil
}

// Delete removes an endpoint with its variants
func (s *Endpoints) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteEndpoint(id); err != nil {
		return err
	}
	s.routes.Remove(id)
	s.bc.Broadcast(events.EndpointDeleted, IDResponse{ID: id})

	s.log.WithField("id", id).Info("Endpoint deleted")
	return nil
}

// ToggleEnabled flips the enabled flag
func (s *Endpoints) ToggleEnabled(id string) (*models.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, err := s.store.GetEndpoint(id)
	if err != nil {
		return nil, err
	}
	ep.IsEnabled = !ep.IsEnabled
	ep.UpdatedAt = s.now().UTC()
	return s.saveLocked(ep)
}

// SetActiveVariant makes variantID the active variant; nil clears it
func (s *Endpoints) SetActiveVariant(id string, variantID *string) (*models.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SetActiveVariant(id, variantID); err != nil {
		return nil, err
	}
	return s.refreshLocked(id)
}

// AddVariant appends a new variant with an empty JSON body
func (s *Endpoints) AddVariant(endpointID string, in models.VariantInput) (*models.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, err := s.store.GetEndpoint(endpointID)
	if err != nil {
		return nil, err
	}

	v := &models.ResponseVariant{
		ID:          uuid.New().String(),
		EndpointID:  endpointID,
		StatusCode:  http.StatusOK,
		Description: models.NewVariantDescription,
		Body:        models.DefaultVariantBody,
		Headers:     models.DefaultVariantHeaders,
		SortOrder:   nextSortOrder(ep.ResponseVariants),
	}
	if in.StatusCode != nil {
		v.StatusCode = *in.StatusCode
	}
	if in.Description != nil {
		v.Description = *in.Description
	}
	if err := validateStatus(v.StatusCode); err != nil {
		return nil, err
	}

	if err := s.store.CreateVariant(v); err != nil {
		return nil, fmt.Errorf("creating variant: %w", err)
	}
	return s.refreshLocked(endpointID)
}

func nextSortOrder(variants []models.ResponseVariant) int {
	next := len(variants)
	for _, v := range variants {
		if v.SortOrder >= next {
			next = v.SortOrder + 1
		}
	}
	return next
}

func validateStatus(code int) error {
	if code < 100 || code > 599 {
		return invalid("status code %d out of range", code)
	}
	return nil
}

// UpdateVariant applies a partial update to a variant
func (s *Endpoints) UpdateVariant(variantID string, upd models.VariantUpdate) (*models.ResponseVariant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.store.GetVariant(variantID)
	if err != nil {
		return nil, err
	}
	upd.Apply(v)
	if err := validateStatus(v.StatusCode); err != nil {
		return nil, err
	}
	if v.Delay != nil && *v.Delay < 0 {
		return nil, invalid("delay must not be negative")
	}

	if err := s.store.UpdateVariant(v); err != nil {
		return nil, fmt.Errorf("updating variant: %w", err)
	}
	updated, err := s.store.GetVariant(variantID)
	if err != nil {
		return nil, err
	}
	if ep, err := s.store.GetEndpoint(updated.EndpointID); err == nil {
		s.routes.Update(ep)
	}
	s.bc.Broadcast(events.VariantUpdated, updated)
	return updated, nil
}

// DeleteVariant removes a variant. Deleting the active variant makes the
// next remaining one active.
func (s *Endpoints) DeleteVariant(variantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.store.GetVariant(variantID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteVariant(variantID); err != nil {
		return err
	}
	if ep, err := s.store.GetEndpoint(v.EndpointID); err == nil {
		s.routes.Update(ep)
	}
	s.bc.Broadcast(events.VariantDeleted, IDResponse{ID: variantID})
	return nil
}

// Reload rebuilds the route registry from storage
func (s *Endpoints) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.routes.Reload()
}
