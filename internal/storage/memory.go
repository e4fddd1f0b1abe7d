package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mohae/deepcopy"
	"github.com/samber/lo"

	"github.com/prasenjit/mockpit/internal/models"
)

// MemoryStorage implements Storage interface with in-memory storage.
// Values are copied on the way in and out so callers never share state
// with the store.
type MemoryStorage struct {
	mu            sync.RWMutex
	endpoints     map[string]*models.Endpoint
	variantOwners map[string]string // variantID -> endpointID
	environments  map[string]*models.Environment
	collections   map[string]*models.Collection
	records       []*models.RequestRecord // oldest first
	maxRecords    int
	settings      models.Settings
}

// NewMemoryStorage creates a new in-memory storage. maxRecords caps the
// request history; zero or less keeps everything.
func NewMemoryStorage(maxRecords int) *MemoryStorage {
	return &MemoryStorage{
		endpoints:     make(map[string]*models.Endpoint),
		variantOwners: make(map[string]string),
		environments:  make(map[string]*models.Environment),
		collections:   make(map[string]*models.Collection),
		records:       make([]*models.RequestRecord, 0),
		maxRecords:    maxRecords,
		settings:      models.DefaultSettings(),
	}
}

func clone[T any](v T) T {
	return deepcopy.Copy(v).(T)
}

func sortVariants(variants []models.ResponseVariant) {
	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].SortOrder < variants[j].SortOrder
	})
}

// routeTaken reports whether another endpoint already owns the route
func (m *MemoryStorage) routeTaken(method, path, exceptID string) bool {
	key := models.RouteKey(method, path)
	for id, ep := range m.endpoints {
		if id != exceptID && ep.RouteKey() == key {
			return true
		}
	}
	return false
}

// CreateEndpoint creates a new endpoint together with its variants
func (m *MemoryStorage) CreateEndpoint(ep *models.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.endpoints[ep.ID]; exists {
		return fmt.Errorf("endpoint with ID %s already exists: %w", ep.ID, ErrConflict)
	}
	if m.routeTaken(ep.Method, ep.Path, "") {
		return routeConflict(ep.Method, ep.Path)
	}

	stored := clone(ep)
	for i := range stored.ResponseVariants {
		stored.ResponseVariants[i].EndpointID = stored.ID
		m.variantOwners[stored.ResponseVariants[i].ID] = stored.ID
	}
	sortVariants(stored.ResponseVariants)
	m.endpoints[stored.ID] = stored
	return nil
}

// GetEndpoint retrieves an endpoint by ID
func (m *MemoryStorage) GetEndpoint(id string) (*models.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ep, exists := m.endpoints[id]
	if !exists {
		return nil, notFound("endpoint", id)
	}
	return clone(ep), nil
}

// GetEndpointByRoute retrieves the endpoint registered for method and path
func (m *MemoryStorage) GetEndpointByRoute(method, path string) (*models.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := models.RouteKey(method, path)
	for _, ep := range m.endpoints {
		if ep.RouteKey() == key {
			return clone(ep), nil
		}
	}
	return nil, notFound("endpoint", key)
}

// GetAllEndpoints retrieves all endpoints in creation order
func (m *MemoryStorage) GetAllEndpoints() ([]*models.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sortedEndpoints(func(*models.Endpoint) bool { return true }), nil
}

// GetEnabledEndpoints retrieves all enabled endpoints
func (m *MemoryStorage) GetEnabledEndpoints() ([]*models.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sortedEndpoints(func(ep *models.Endpoint) bool { return ep.IsEnabled }), nil
}

func (m *MemoryStorage) sortedEndpoints(keep func(*models.Endpoint) bool) []*models.Endpoint {
	endpoints := make([]*models.Endpoint, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		if keep(ep) {
			endpoints = append(endpoints, clone(ep))
		}
	}

	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].CreatedAt.Equal(endpoints[j].CreatedAt) {
			return endpoints[i].ID < endpoints[j].ID
		}
		return endpoints[i].CreatedAt.Before(endpoints[j].CreatedAt)
	})
	return endpoints
}

// UpdateEndpoint updates the scalar fields and documentation rows of an endpoint
func (m *MemoryStorage) UpdateEndpoint(ep *models.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.endpoints[ep.ID]
	if !exists {
		return notFound("endpoint", ep.ID)
	}
	if m.routeTaken(ep.Method, ep.Path, ep.ID) {
		return routeConflict(ep.Method, ep.Path)
	}

	stored := clone(ep)
	stored.ResponseVariants = existing.ResponseVariants
	stored.ActiveVariantID = existing.ActiveVariantID
	m.endpoints[ep.ID] = stored
	return nil
}

// SetActiveVariant sets or clears the active variant of an endpoint
func (m *MemoryStorage) SetActiveVariant(endpointID string, variantID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ep, exists := m.endpoints[endpointID]
	if !exists {
		return notFound("endpoint", endpointID)
	}
	if variantID == nil {
		ep.ActiveVariantID = nil
		return nil
	}
	if ep.Variant(*variantID) == nil {
		return notFound("variant", *variantID)
	}
	id := *variantID
	ep.ActiveVariantID = &id
	return nil
}

// DeleteEndpoint deletes an endpoint, its variants and collection memberships
func (m *MemoryStorage) DeleteEndpoint(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ep, exists := m.endpoints[id]
	if !exists {
		return notFound("endpoint", id)
	}

	for _, v := range ep.ResponseVariants {
		delete(m.variantOwners, v.ID)
	}
	for _, c := range m.collections {
		c.EndpointIDs = lo.Without(c.EndpointIDs, id)
	}
	delete(m.endpoints, id)
	return nil
}

// CreateVariant adds a variant to its endpoint
func (m *MemoryStorage) CreateVariant(v *models.ResponseVariant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ep, exists := m.endpoints[v.EndpointID]
	if !exists {
		return notFound("endpoint", v.EndpointID)
	}
	if _, exists := m.variantOwners[v.ID]; exists {
		return fmt.Errorf("variant with ID %s already exists: %w", v.ID, ErrConflict)
	}

	ep.ResponseVariants = append(ep.ResponseVariants, *clone(v))
	sortVariants(ep.ResponseVariants)
	m.variantOwners[v.ID] = ep.ID
	return nil
}

// GetVariant retrieves a variant by ID
func (m *MemoryStorage) GetVariant(id string) (*models.ResponseVariant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v := m.findVariant(id)
	if v == nil {
		return nil, notFound("variant", id)
	}
	return clone(v), nil
}

func (m *MemoryStorage) findVariant(id string) *models.ResponseVariant {
	endpointID, ok := m.variantOwners[id]
	if !ok {
		return nil
	}
	ep, ok := m.endpoints[endpointID]
	if !ok {
		return nil
	}
	return ep.Variant(id)
}

// UpdateVariant replaces a variant. The owning endpoint cannot change.
func (m *MemoryStorage) UpdateVariant(v *models.ResponseVariant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.findVariant(v.ID)
	if existing == nil {
		return notFound("variant", v.ID)
	}

	updated := clone(v)
	updated.EndpointID = existing.EndpointID
	*existing = *updated
	sortVariants(m.endpoints[existing.EndpointID].ResponseVariants)
	return nil
}

// DeleteVariant deletes a variant and reassigns the active variant if needed
func (m *MemoryStorage) DeleteVariant(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	endpointID, ok := m.variantOwners[id]
	if !ok {
		return notFound("variant", id)
	}
	ep := m.endpoints[endpointID]

	ep.ResponseVariants = lo.Filter(ep.ResponseVariants, func(v models.ResponseVariant, _ int) bool {
		return v.ID != id
	})
	delete(m.variantOwners, id)

	if ep.ActiveVariantID != nil && *ep.ActiveVariantID == id {
		ep.ActiveVariantID = nil
		if len(ep.ResponseVariants) > 0 {
			next := ep.ResponseVariants[0].ID
			ep.ActiveVariantID = &next
		}
	}
	return nil
}

// CreateEnvironment creates a new environment
func (m *MemoryStorage) CreateEnvironment(env *models.Environment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.environments[env.ID]; exists {
		return fmt.Errorf("environment with ID %s already exists: %w", env.ID, ErrConflict)
	}

	stored := clone(env)
	if stored.Variables == nil {
		stored.Variables = make(map[string]string)
	}
	if stored.IsActive {
		m.deactivateEnvironments()
	}
	m.environments[env.ID] = stored
	return nil
}

func (m *MemoryStorage) deactivateEnvironments() {
	for _, e := range m.environments {
		e.IsActive = false
	}
}

// GetEnvironment retrieves an environment by ID
func (m *MemoryStorage) GetEnvironment(id string) (*models.Environment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	env, exists := m.environments[id]
	if !exists {
		return nil, notFound("environment", id)
	}
	return clone(env), nil
}

// GetAllEnvironments retrieves all environments ordered by sort order
func (m *MemoryStorage) GetAllEnvironments() ([]*models.Environment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	envs := make([]*models.Environment, 0, len(m.environments))
	for _, env := range m.environments {
		envs = append(envs, clone(env))
	}
	sort.Slice(envs, func(i, j int) bool {
		if envs[i].SortOrder == envs[j].SortOrder {
			return envs[i].CreatedAt.Before(envs[j].CreatedAt)
		}
		return envs[i].SortOrder < envs[j].SortOrder
	})
	return envs, nil
}

// GetActiveEnvironment retrieves the active environment
func (m *MemoryStorage) GetActiveEnvironment() (*models.Environment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, env := range m.environments {
		if env.IsActive {
			return clone(env), nil
		}
	}
	return nil, notFound("environment", "active")
}

// UpdateEnvironment updates name, variables and sort order of an environment
func (m *MemoryStorage) UpdateEnvironment(env *models.Environment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.environments[env.ID]
	if !exists {
		return notFound("environment", env.ID)
	}

	stored := clone(env)
	stored.IsActive = existing.IsActive
	stored.CreatedAt = existing.CreatedAt
	if stored.Variables == nil {
		stored.Variables = make(map[string]string)
	}
	m.environments[env.ID] = stored
	return nil
}

// SetActiveEnvironment activates one environment and deactivates the rest
func (m *MemoryStorage) SetActiveEnvironment(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		m.deactivateEnvironments()
		return nil
	}

	env, exists := m.environments[id]
	if !exists {
		return notFound("environment", id)
	}
	m.deactivateEnvironments()
	env.IsActive = true
	return nil
}

// DeleteEnvironment deletes an environment
func (m *MemoryStorage) DeleteEnvironment(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.environments[id]; !exists {
		return notFound("environment", id)
	}
	delete(m.environments, id)
	return nil
}

// CreateCollection creates a new collection
func (m *MemoryStorage) CreateCollection(c *models.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.collections[c.ID]; exists {
		return fmt.Errorf("collection with ID %s already exists: %w", c.ID, ErrConflict)
	}

	stored := clone(c)
	if stored.EndpointIDs == nil {
		stored.EndpointIDs = []string{}
	}
	m.collections[c.ID] = stored
	return nil
}

// GetCollection retrieves a collection by ID
func (m *MemoryStorage) GetCollection(id string) (*models.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, exists := m.collections[id]
	if !exists {
		return nil, notFound("collection", id)
	}
	return clone(c), nil
}

// GetAllCollections retrieves all collections ordered by sort order
func (m *MemoryStorage) GetAllCollections() ([]*models.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	collections := make([]*models.Collection, 0, len(m.collections))
	for _, c := range m.collections {
		collections = append(collections, clone(c))
	}
	sort.Slice(collections, func(i, j int) bool {
		if collections[i].SortOrder == collections[j].SortOrder {
			return collections[i].CreatedAt.Before(collections[j].CreatedAt)
		}
		return collections[i].SortOrder < collections[j].SortOrder
	})
	return collections, nil
}

// UpdateCollection updates name, expansion state and sort order
func (m *MemoryStorage) UpdateCollection(c *models.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.collections[c.ID]
	if !exists {
		return notFound("collection", c.ID)
	}

	existing.Name = c.Name
	existing.IsExpanded = c.IsExpanded
	existing.SortOrder = c.SortOrder
	return nil
}

// DeleteCollection deletes a collection. Its endpoints are kept.
func (m *MemoryStorage) DeleteCollection(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.collections[id]; !exists {
		return notFound("collection", id)
	}
	delete(m.collections, id)
	return nil
}

// ReorderCollections assigns sort orders following orderedIDs. Unknown IDs are ignored.
func (m *MemoryStorage) ReorderCollections(orderedIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, id := range orderedIDs {
		if c, ok := m.collections[id]; ok {
			c.SortOrder = i
		}
	}
	return nil
}

// AddEndpointToCollection inserts the endpoint at position, moving it if already present
func (m *MemoryStorage) AddEndpointToCollection(collectionID, endpointID string, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.collections[collectionID]
	if !exists {
		return notFound("collection", collectionID)
	}
	if _, exists := m.endpoints[endpointID]; !exists {
		return notFound("endpoint", endpointID)
	}

	c.EndpointIDs = insertAt(lo.Without(c.EndpointIDs, endpointID), endpointID, position)
	return nil
}

func insertAt(ids []string, id string, position int) []string {
	if position < 0 || position > len(ids) {
		position = len(ids)
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:position]...)
	out = append(out, id)
	return append(out, ids[position:]...)
}

// RemoveEndpointFromCollection unlinks an endpoint from a collection
func (m *MemoryStorage) RemoveEndpointFromCollection(collectionID, endpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.collections[collectionID]
	if !exists {
		return notFound("collection", collectionID)
	}
	c.EndpointIDs = lo.Without(c.EndpointIDs, endpointID)
	return nil
}

// ReorderCollectionEndpoints orders the collection's endpoints following
// orderedEndpointIDs. Members missing from the list keep their relative order
// after the listed ones.
func (m *MemoryStorage) ReorderCollectionEndpoints(collectionID string, orderedEndpointIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.collections[collectionID]
	if !exists {
		return notFound("collection", collectionID)
	}
	c.EndpointIDs = reorderMembers(c.EndpointIDs, orderedEndpointIDs)
	return nil
}

func reorderMembers(current, ordered []string) []string {
	listed := lo.Filter(lo.Uniq(ordered), func(id string, _ int) bool {
		return lo.Contains(current, id)
	})
	return append(listed, lo.Without(current, listed...)...)
}

// AppendRecord appends a request record, trimming the oldest past the cap
func (m *MemoryStorage) AppendRecord(rec *models.RequestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, clone(rec))
	if m.maxRecords > 0 && len(m.records) > m.maxRecords {
		m.records = m.records[len(m.records)-m.maxRecords:]
	}
	return nil
}

// GetRecords returns records matching the filter, newest first
func (m *MemoryStorage) GetRecords(filter models.RecordFilter) ([]*models.RequestRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	limit := filter.EffectiveLimit()
	skipped := 0

	result := make([]*models.RequestRecord, 0)
	for i := len(m.records) - 1; i >= 0; i-- {
		rec := m.records[i]

		if filter.Method != "" && !strings.EqualFold(rec.Method, filter.Method) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(rec.Path), search) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}

		result = append(result, clone(rec))
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// ClearRecords removes all request records
func (m *MemoryStorage) ClearRecords() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make([]*models.RequestRecord, 0)
	return nil
}

// GetSettings returns the current settings
func (m *MemoryStorage) GetSettings() (*models.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.settings
	return &s, nil
}

// SaveSettings replaces the settings
func (m *MemoryStorage) SaveSettings(s *models.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings = *s
	return nil
}

// Close is a no-op for memory storage
func (m *MemoryStorage) Close() error {
	return nil
}
