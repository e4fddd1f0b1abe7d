package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prasenjit/mockpit/internal/logging"
	"github.com/prasenjit/mockpit/internal/registry"
	"github.com/prasenjit/mockpit/internal/storage"
)

type sent struct {
	name string
	data any
}

type captureBroadcaster struct {
	mu     sync.Mutex
	events []sent
}

func (c *captureBroadcaster) Broadcast(name string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, sent{name, data})
}

func (c *captureBroadcaster) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.name
	}
	return out
}

func (c *captureBroadcaster) last() sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

func (c *captureBroadcaster) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

type fixture struct {
	store       *storage.MemoryStorage
	routes      *registry.Registry
	bc          *captureBroadcaster
	endpoints   *Endpoints
	envs        *Environments
	collections *Collections
	settings    *Settings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStorage(100)
	routes := registry.New(store)
	require.NoError(t, routes.Reload())
	bc := &captureBroadcaster{}
	log := logging.Discard()

	return &fixture{
		store:       store,
		routes:      routes,
		bc:          bc,
		endpoints:   NewEndpoints(store, routes, bc, log),
		envs:        NewEnvironments(store, bc, log),
		collections: NewCollections(store, bc, log),
		settings:    NewSettings(store, bc, log),
	}
}

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
