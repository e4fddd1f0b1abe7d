package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/prasenjit/mockpit/internal/events"
	"github.com/prasenjit/mockpit/internal/models"
	"github.com/prasenjit/mockpit/internal/storage"
)

// CollectionUpdate represents a partial collection update
type CollectionUpdate struct {
	Name       *string `json:"name,omitempty"`
	IsExpanded *bool   `json:"isExpanded,omitempty"`
}

// Collections manages the grouping and ordering of endpoints
type Collections struct {
	store storage.Storage
	bc    events.Broadcaster
	log   logrus.FieldLogger
	now   func() time.Time

	mu sync.Mutex
}

// NewCollections creates the collection service
func NewCollections(store storage.Storage, bc events.Broadcaster, log logrus.FieldLogger) *Collections {
	if bc == nil {
		bc = events.Discard{}
	}
	return &Collections{
		store: store,
		bc:    bc,
		log:   log.WithField("component", "collections"),
		now:   time.Now,
	}
}

// List returns all collections ordered by sort order
func (s *Collections) List() ([]*models.Collection, error) {
	return s.store.GetAllCollections()
}

// Create appends an expanded, empty collection
func (s *Collections) Create(name string) (*models.Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("collection name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.GetAllCollections()
	if err != nil {
		return nil, err
	}

	c := &models.Collection{
		ID:          uuid.New().String(),
		Name:        name,
		IsExpanded:  true,
		SortOrder:   len(existing),
		CreatedAt:   s.now().UTC(),
		EndpointIDs: []string{},
	}
	if err := s.store.CreateCollection(c); err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}

	s.bc.Broadcast(events.CollectionCreated, c)
	return c, nil
}

// Update renames a collection or sets its expansion state
func (s *Collections) Update(id string, upd CollectionUpdate) (*models.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.GetCollection(id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, invalid("collection name is required")
		}
		c.Name = name
	}
	if upd.IsExpanded != nil {
		c.IsExpanded = *upd.IsExpanded
	}
	return s.saveLocked(c)
}

// ToggleExpanded flips the expansion state shown in the UI
func (s *Collections) ToggleExpanded(id string) (*models.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.GetCollection(id)
	if err != nil {
		return nil, err
	}
	c.IsExpanded = !c.IsExpanded
	return s.saveLocked(c)
}

func (s *Collections) saveLocked(c *models.Collection) (*models.Collection, error) {
	if err := s.store.UpdateCollection(c); err != nil {
		return nil, fmt.Errorf("updating collection: %w", err)
	}
	return s.announceLocked(c.ID)
}

func (s *Collections) announceLocked(id string) (*models.Collection, error) {
	c, err := s.store.GetCollection(id)
	if err != nil {
		return nil, err
	}
	s.bc.Broadcast(events.CollectionUpdated, c)
	return c, nil
}

// Delete removes a collection. Its endpoints are kept.
func (s *Collections) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteCollection(id); err != nil {
		return err
	}
	s.bc.Broadcast(events.CollectionDeleted, IDResponse{ID: id})
	return nil
}

// Reorder assigns collection sort orders following orderedIDs
func (s *Collections) Reorder(orderedIDs []string) ([]*models.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.ReorderCollections(orderedIDs); err != nil {
		return nil, err
	}
	all, err := s.store.GetAllCollections()
	if err != nil {
		return nil, err
	}
	s.bc.Broadcast(events.CollectionsReordered, all)
	return all, nil
}

// ReorderEndpoints sets the order of endpoints inside a collection
func (s *Collections) ReorderEndpoints(id string, orderedEndpointIDs []string) (*models.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.ReorderCollectionEndpoints(id, orderedEndpointIDs); err != nil {
		return nil, err
	}
	return s.announceLocked(id)
}

// MoveEndpoint takes an endpoint out of its source collection, if any, and
// inserts it into the target collection at the given position
func (s *Collections) MoveEndpoint(in models.MoveEndpointInput) ([]*models.Collection, error) {
	if in.EndpointID == "" || in.ToCollectionID == "" {
		return nil, invalid("endpointId and toCollectionId are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.GetCollection(in.ToCollectionID); err != nil {
		return nil, err
	}
	if in.FromCollectionID != "" && in.FromCollectionID != in.ToCollectionID {
		if err := s.store.RemoveEndpointFromCollection(in.FromCollectionID, in.EndpointID); err != nil {
			return nil, err
		}
	}
	if err := s.store.AddEndpointToCollection(in.ToCollectionID, in.EndpointID, in.SortOrder); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"endpoint": in.EndpointID,
		"from":     in.FromCollectionID,
		"to":       in.ToCollectionID,
	}).Debug("Endpoint moved")

	var changed []*models.Collection
	for _, id := range lo.Uniq(lo.Compact([]string{in.FromCollectionID, in.ToCollectionID})) {
		c, err := s.announceLocked(id)
		if err != nil {
			return nil, err
		}
		changed = append(changed, c)
	}
	return changed, nil
}

// RemoveEndpoint unlinks an endpoint from a collection without deleting it
func (s *Collections) RemoveEndpoint(collectionID, endpointID string) (*models.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.RemoveEndpointFromCollection(collectionID, endpointID); err != nil {
		return nil, err
	}
	return s.announceLocked(collectionID)
}
