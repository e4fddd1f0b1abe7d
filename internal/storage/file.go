package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prasenjit/mockpit/internal/models"
)

const (
	endpointsDir    = "endpoints"
	environmentsDir = "environments"
	collectionsDir  = "collections"
	settingsFile    = "settings.json"
	historyFile     = "history.jsonl"
)

// FileStorage implements Storage interface with file-based persistence.
// Entities live in memory and are written through to one JSON file each;
// request history is an append-only JSON lines file.
type FileStorage struct {
	mu          sync.Mutex
	basePath    string
	memory      *MemoryStorage
	maxRecords  int
	diskRecords int
}

// NewFileStorage creates a new file-based storage
func NewFileStorage(basePath string, maxRecords int) (*FileStorage, error) {
	dirs := []string{
		basePath,
		filepath.Join(basePath, endpointsDir),
		filepath.Join(basePath, environmentsDir),
		filepath.Join(basePath, collectionsDir),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fs := &FileStorage{
		basePath:   basePath,
		memory:     NewMemoryStorage(maxRecords),
		maxRecords: maxRecords,
	}

	if err := fs.loadAll(); err != nil {
		return nil, err
	}

	return fs, nil
}

// loadJSONDir decodes every *.json file of dir. Unreadable files are skipped.
func loadJSONDir[T any](dir string) ([]*T, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	items := make([]*T, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}

		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			continue
		}
		items = append(items, &item)
	}
	return items, nil
}

// loadAll loads all data from disk
func (f *FileStorage) loadAll() error {
	endpoints, err := loadJSONDir[models.Endpoint](filepath.Join(f.basePath, endpointsDir))
	if err != nil {
		return err
	}
	for _, ep := range endpoints {
		sortVariants(ep.ResponseVariants)
		f.memory.endpoints[ep.ID] = ep
		for _, v := range ep.ResponseVariants {
			f.memory.variantOwners[v.ID] = ep.ID
		}
	}

	envs, err := loadJSONDir[models.Environment](filepath.Join(f.basePath, environmentsDir))
	if err != nil {
		return err
	}
	for _, env := range envs {
		if env.Variables == nil {
			env.Variables = make(map[string]string)
		}
		f.memory.environments[env.ID] = env
	}

	collections, err := loadJSONDir[models.Collection](filepath.Join(f.basePath, collectionsDir))
	if err != nil {
		return err
	}
	for _, c := range collections {
		if c.EndpointIDs == nil {
			c.EndpointIDs = []string{}
		}
		f.memory.collections[c.ID] = c
	}

	if data, err := os.ReadFile(filepath.Join(f.basePath, settingsFile)); err == nil {
		settings := models.DefaultSettings()
		if err := json.Unmarshal(data, &settings); err == nil {
			f.memory.settings = settings
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	return f.loadHistory()
}

func (f *FileStorage) loadHistory() error {
	file, err := os.Open(filepath.Join(f.basePath, historyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var rec models.RequestRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		f.diskRecords++
		f.memory.records = append(f.memory.records, &rec)
	}
	if f.maxRecords > 0 && len(f.memory.records) > f.maxRecords {
		f.memory.records = f.memory.records[len(f.memory.records)-f.maxRecords:]
	}
	return scanner.Err()
}

func (f *FileStorage) writeJSON(dir, id string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(f.basePath, dir, id+".json")
	return os.WriteFile(path, data, 0644)
}

func (f *FileStorage) removeJSON(dir, id string) error {
	err := os.Remove(filepath.Join(f.basePath, dir, id+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// saveEndpoint writes the current in-memory state of an endpoint to disk
func (f *FileStorage) saveEndpoint(id string) error {
	ep, err := f.memory.GetEndpoint(id)
	if err != nil {
		return err
	}
	return f.writeJSON(endpointsDir, id, ep)
}

func (f *FileStorage) saveAllEnvironments() error {
	envs, _ := f.memory.GetAllEnvironments()
	for _, env := range envs {
		if err := f.writeJSON(environmentsDir, env.ID, env); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileStorage) saveCollection(id string) error {
	c, err := f.memory.GetCollection(id)
	if err != nil {
		return err
	}
	return f.writeJSON(collectionsDir, id, c)
}

func (f *FileStorage) saveAllCollections() error {
	collections, _ := f.memory.GetAllCollections()
	for _, c := range collections {
		if err := f.writeJSON(collectionsDir, c.ID, c); err != nil {
			return err
		}
	}
	return nil
}

// CreateEndpoint creates a new endpoint
func (f *FileStorage) CreateEndpoint(ep *models.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.CreateEndpoint(ep); err != nil {
		return err
	}
	return f.saveEndpoint(ep.ID)
}

// GetEndpoint retrieves an endpoint by ID
func (f *FileStorage) GetEndpoint(id string) (*models.Endpoint, error) {
	return f.memory.GetEndpoint(id)
}

// GetEndpointByRoute retrieves the endpoint registered for method and path
func (f *FileStorage) GetEndpointByRoute(method, path string) (*models.Endpoint, error) {
	return f.memory.GetEndpointByRoute(method, path)
}

// GetAllEndpoints retrieves all endpoints
func (f *FileStorage) GetAllEndpoints() ([]*models.Endpoint, error) {
	return f.memory.GetAllEndpoints()
}

// GetEnabledEndpoints retrieves all enabled endpoints
func (f *FileStorage) GetEnabledEndpoints() ([]*models.Endpoint, error) {
	return f.memory.GetEnabledEndpoints()
}

// UpdateEndpoint updates an endpoint
func (f *FileStorage) UpdateEndpoint(ep *models.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.UpdateEndpoint(ep); err != nil {
		return err
	}
	return f.saveEndpoint(ep.ID)
}

// SetActiveVariant sets or clears the active variant of an endpoint
func (f *FileStorage) SetActiveVariant(endpointID string, variantID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.SetActiveVariant(endpointID, variantID); err != nil {
		return err
	}
	return f.saveEndpoint(endpointID)
}

// DeleteEndpoint deletes an endpoint
func (f *FileStorage) DeleteEndpoint(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.DeleteEndpoint(id); err != nil {
		return err
	}
	if err := f.removeJSON(endpointsDir, id); err != nil {
		return err
	}
	return f.saveAllCollections()
}

// CreateVariant adds a variant to its endpoint
func (f *FileStorage) CreateVariant(v *models.ResponseVariant) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.CreateVariant(v); err != nil {
		return err
	}
	return f.saveEndpoint(v.EndpointID)
}

// GetVariant retrieves a variant by ID
func (f *FileStorage) GetVariant(id string) (*models.ResponseVariant, error) {
	return f.memory.GetVariant(id)
}

// UpdateVariant updates a variant
func (f *FileStorage) UpdateVariant(v *models.ResponseVariant) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.UpdateVariant(v); err != nil {
		return err
	}
	stored, err := f.memory.GetVariant(v.ID)
	if err != nil {
		return err
	}
	return f.saveEndpoint(stored.EndpointID)
}

// DeleteVariant deletes a variant
func (f *FileStorage) DeleteVariant(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, err := f.memory.GetVariant(id)
	if err != nil {
		return err
	}
	if err := f.memory.DeleteVariant(id); err != nil {
		return err
	}
	return f.saveEndpoint(v.EndpointID)
}

// CreateEnvironment creates a new environment
func (f *FileStorage) CreateEnvironment(env *models.Environment) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.CreateEnvironment(env); err != nil {
		return err
	}
	return f.saveAllEnvironments()
}

// GetEnvironment retrieves an environment by ID
func (f *FileStorage) GetEnvironment(id string) (*models.Environment, error) {
	return f.memory.GetEnvironment(id)
}

// GetAllEnvironments retrieves all environments
func (f *FileStorage) GetAllEnvironments() ([]*models.Environment, error) {
	return f.memory.GetAllEnvironments()
}

// GetActiveEnvironment retrieves the active environment
func (f *FileStorage) GetActiveEnvironment() (*models.Environment, error) {
	return f.memory.GetActiveEnvironment()
}

// UpdateEnvironment updates an environment
func (f *FileStorage) UpdateEnvironment(env *models.Environment) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.UpdateEnvironment(env); err != nil {
		return err
	}
	stored, err := f.memory.GetEnvironment(env.ID)
	if err != nil {
		return err
	}
	return f.writeJSON(environmentsDir, env.ID, stored)
}

// SetActiveEnvironment activates one environment
func (f *FileStorage) SetActiveEnvironment(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.SetActiveEnvironment(id); err != nil {
		return err
	}
	return f.saveAllEnvironments()
}

// DeleteEnvironment deletes an environment
func (f *FileStorage) DeleteEnvironment(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.DeleteEnvironment(id); err != nil {
		return err
	}
	return f.removeJSON(environmentsDir, id)
}

// CreateCollection creates a new collection
func (f *FileStorage) CreateCollection(c *models.Collection) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.CreateCollection(c); err != nil {
		return err
	}
	return f.saveCollection(c.ID)
}

// GetCollection retrieves a collection by ID
func (f *FileStorage) GetCollection(id string) (*models.Collection, error) {
	return f.memory.GetCollection(id)
}

// GetAllCollections retrieves all collections
func (f *FileStorage) GetAllCollections() ([]*models.Collection, error) {
	return f.memory.GetAllCollections()
}

// UpdateCollection updates a collection
func (f *FileStorage) UpdateCollection(c *models.Collection) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.UpdateCollection(c); err != nil {
		return err
	}
	return f.saveCollection(c.ID)
}

// DeleteCollection deletes a collection
func (f *FileStorage) DeleteCollection(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.DeleteCollection(id); err != nil {
		return err
	}
	return f.removeJSON(collectionsDir, id)
}

// ReorderCollections assigns sort orders following orderedIDs
func (f *FileStorage) ReorderCollections(orderedIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.ReorderCollections(orderedIDs); err != nil {
		return err
	}
	return f.saveAllCollections()
}

// AddEndpointToCollection links an endpoint to a collection
func (f *FileStorage) AddEndpointToCollection(collectionID, endpointID string, position int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.AddEndpointToCollection(collectionID, endpointID, position); err != nil {
		return err
	}
	return f.saveCollection(collectionID)
}

// RemoveEndpointFromCollection unlinks an endpoint from a collection
func (f *FileStorage) RemoveEndpointFromCollection(collectionID, endpointID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.RemoveEndpointFromCollection(collectionID, endpointID); err != nil {
		return err
	}
	return f.saveCollection(collectionID)
}

// ReorderCollectionEndpoints orders the endpoints of a collection
func (f *FileStorage) ReorderCollectionEndpoints(collectionID string, orderedEndpointIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.ReorderCollectionEndpoints(collectionID, orderedEndpointIDs); err != nil {
		return err
	}
	return f.saveCollection(collectionID)
}

// AppendRecord appends a request record to memory and the history file
func (f *FileStorage) AppendRecord(rec *models.RequestRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.AppendRecord(rec); err != nil {
		return err
	}

	if f.maxRecords > 0 && f.diskRecords >= 2*f.maxRecords {
		return f.compactHistory()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(filepath.Join(f.basePath, historyFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return err
	}
	f.diskRecords++
	return nil
}

// compactHistory rewrites the history file with the records kept in memory
func (f *FileStorage) compactHistory() error {
	f.memory.mu.RLock()
	records := make([]*models.RequestRecord, len(f.memory.records))
	copy(records, f.memory.records)
	f.memory.mu.RUnlock()

	tmp := filepath.Join(f.basePath, historyFile+".tmp")
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			file.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmp, filepath.Join(f.basePath, historyFile)); err != nil {
		return err
	}
	f.diskRecords = len(records)
	return nil
}

// GetRecords returns records matching the filter
func (f *FileStorage) GetRecords(filter models.RecordFilter) ([]*models.RequestRecord, error) {
	return f.memory.GetRecords(filter)
}

// ClearRecords removes all request records
func (f *FileStorage) ClearRecords() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.ClearRecords(); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(f.basePath, historyFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	f.diskRecords = 0
	return nil
}

// GetSettings returns the current settings
func (f *FileStorage) GetSettings() (*models.Settings, error) {
	return f.memory.GetSettings()
}

// SaveSettings replaces the settings
func (f *FileStorage) SaveSettings(s *models.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memory.SaveSettings(s); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(f.basePath, settingsFile), data, 0644)
}

// Close closes the storage
func (f *FileStorage) Close() error {
	return nil
}
