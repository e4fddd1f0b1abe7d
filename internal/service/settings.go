package service

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/prasenjit/mockpit/internal/events"
	"github.com/prasenjit/mockpit/internal/models"
	"github.com/prasenjit/mockpit/internal/storage"
)

// Settings reads and updates the runtime settings
type Settings struct {
	store storage.Storage
	bc    events.Broadcaster
	log   logrus.FieldLogger

	mu sync.Mutex
}

// NewSettings creates the settings service
func NewSettings(store storage.Storage, bc events.Broadcaster, log logrus.FieldLogger) *Settings {
	if bc == nil {
		bc = events.Discard{}
	}
	return &Settings{
		store: store,
		bc:    bc,
		log:   log.WithField("component", "settings"),
	}
}

// Get returns the current settings
func (s *Settings) Get() (*models.Settings, error) {
	return s.store.GetSettings()
}

// Update applies a partial update. A port change only takes effect when
// the mock server is restarted.
func (s *Settings) Update(upd models.SettingsUpdate) (*models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.GetSettings()
	if err != nil {
		return nil, err
	}
	upd.Apply(current)

	if current.Port < 1 || current.Port > 65535 {
		return nil, invalid("port %d out of range", current.Port)
	}
	if current.ResponseDelay < 0 {
		return nil, invalid("response delay must not be negative")
	}

	if err := s.store.SaveSettings(current); err != nil {
		return nil, fmt.Errorf("saving settings: %w", err)
	}
	s.bc.Broadcast(events.SettingsUpdated, current)
	s.log.WithFields(logrus.Fields{"port": current.Port, "delay": current.ResponseDelay}).Info("Settings updated")
	return current, nil
}
