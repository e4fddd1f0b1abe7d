package service

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohae/deepcopy"
	"github.com/sirupsen/logrus"

	"github.com/prasenjit/mockpit/internal/events"
	"github.com/prasenjit/mockpit/internal/models"
	"github.com/prasenjit/mockpit/internal/storage"
)

// ActiveChange is the payload of the environment:active-changed event
type ActiveChange struct {
	ActiveID *string `json:"activeId"`
}

// Environments manages variable sets. The variables of the active
// environment are cached for the mock handler and dropped on every write.
type Environments struct {
	store storage.Storage
	bc    events.Broadcaster
	log   logrus.FieldLogger
	now   func() time.Time

	mu     sync.Mutex
	cached map[string]string // nil until loaded
}

// NewEnvironments creates the environment service
func NewEnvironments(store storage.Storage, bc events.Broadcaster, log logrus.FieldLogger) *Environments {
	if bc == nil {
		bc = events.Discard{}
	}
	return &Environments{
		store: store,
		bc:    bc,
		log:   log.WithField("component", "environments"),
		now:   time.Now,
	}
}

// List returns all environments ordered by sort order
func (s *Environments) List() ([]*models.Environment, error) {
	return s.store.GetAllEnvironments()
}

// Get returns a single environment
func (s *Environments) Get(id string) (*models.Environment, error) {
	return s.store.GetEnvironment(id)
}

// Create adds an environment. The first environment becomes active.
func (s *Environments) Create(name string, variables map[string]string) (*models.Environment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("environment name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.GetAllEnvironments()
	if err != nil {
		return nil, err
	}
	if variables == nil {
		variables = map[string]string{}
	}

	env := &models.Environment{
		ID:        uuid.New().String(),
		Name:      name,
		Variables: variables,
		IsActive:  len(existing) == 0,
		SortOrder: len(existing),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateEnvironment(env); err != nil {
		return nil, fmt.Errorf("creating environment: %w", err)
	}
	s.cached = nil

	s.bc.Broadcast(events.EnvironmentCreated, env)
	return env, nil
}

// Update renames an environment or replaces its variables
func (s *Environments) Update(id string, upd models.EnvironmentUpdate) (*models.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.store.GetEnvironment(id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, invalid("environment name is required")
		}
		env.Name = name
	}
	if upd.Variables != nil {
		env.Variables = *upd.Variables
		if env.Variables == nil {
			env.Variables = map[string]string{}
		}
	}
	if upd.SortOrder != nil {
		env.SortOrder = *upd.SortOrder
	}

	if err := s.store.UpdateEnvironment(env); err != nil {
		return nil, fmt.Errorf("updating environment: %w", err)
	}
	s.cached = nil

	s.bc.Broadcast(events.EnvironmentUpdated, env)
	return env, nil
}

// SetActive activates one environment, or none for an empty ID, and
// returns the resulting list
func (s *Environments) SetActive(id string) ([]*models.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SetActiveEnvironment(id); err != nil {
		return nil, err
	}
	s.cached = nil

	change := ActiveChange{}
	if id != "" {
		change.ActiveID = &id
	}
	s.bc.Broadcast(events.EnvironmentActiveChanged, change)
	s.log.WithField("id", id).Info("Active environment changed")

	return s.store.GetAllEnvironments()
}

// Delete removes an environment. Deleting the active one leaves no
// environment active.
func (s *Environments) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteEnvironment(id); err != nil {
		return err
	}
	s.cached = nil

	s.bc.Broadcast(events.EnvironmentDeleted, IDResponse{ID: id})
	return nil
}

// ActiveVariables returns a copy of the active environment's variables.
// It returns an empty map when no environment is active.
func (s *Environments) ActiveVariables() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached == nil {
		vars, err := s.loadActive()
		if err != nil {
			s.log.WithError(err).Warn("Failed to load active environment")
			return map[string]string{}
		}
		s.cached = vars
	}
	return deepcopy.Copy(s.cached).(map[string]string)
}

func (s *Environments) loadActive() (map[string]string, error) {
	env, err := s.store.GetActiveEnvironment()
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if env.Variables == nil {
		return map[string]string{}, nil
	}
	return env.Variables, nil
}
