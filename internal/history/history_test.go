package history

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasenjit/mockpit/internal/events"
	"github.com/prasenjit/mockpit/internal/logging"
	"github.com/prasenjit/mockpit/internal/models"
	"github.com/prasenjit/mockpit/internal/storage"
)

type recordedEvent struct {
	name string
	data any
}

type captureBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (c *captureBroadcaster) Broadcast(name string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, recordedEvent{name, data})
}

type failingStore struct{ storage.Storage }

func (failingStore) AppendRecord(*models.RequestRecord) error { return errors.New("disk full") }
func (failingStore) ClearRecords() error                      { return errors.New("disk full") }
func (failingStore) GetRecords(models.RecordFilter) ([]*models.RequestRecord, error) {
	return nil, errors.New("disk full")
}

func TestRecord_AssignsIDAndTimestamp(t *testing.T) {
	store := storage.NewMemoryStorage(0)
	bc := &captureBroadcaster{}
	svc := NewService(store, bc, logging.Discard())

	rec := &models.RequestRecord{Method: "GET", Path: "/a?x=1", StatusCode: 200}
	svc.Record(rec)
	svc.Flush()

	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.Timestamp.IsZero())

	records, err := svc.List(models.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "/a?x=1", records[0].Path)

	require.Len(t, bc.events, 1)
	assert.Equal(t, events.RequestReceived, bc.events[0].name)
}

func TestRecord_StoreFailureIsSwallowed(t *testing.T) {
	bc := &captureBroadcaster{}
	svc := NewService(failingStore{}, bc, logging.Discard())

	assert.NotPanics(t, func() {
		svc.Record(&models.RequestRecord{Method: "GET", Path: "/a"})
		svc.Flush()
	})
	assert.Empty(t, bc.events)

	_, err := svc.List(models.RecordFilter{})
	assert.Error(t, err)
	assert.Error(t, svc.Clear())
}

func TestClear(t *testing.T) {
	store := storage.NewMemoryStorage(0)
	bc := &captureBroadcaster{}
	svc := NewService(store, bc, logging.Discard())

	svc.Record(&models.RequestRecord{Method: "GET", Path: "/a"})
	svc.Record(&models.RequestRecord{Method: "POST", Path: "/b"})
	require.NoError(t, svc.Clear())

	records, err := svc.List(models.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, events.HistoryCleared, bc.events[len(bc.events)-1].name)
}

// slowStore delays every append until release is closed
type slowStore struct {
	*storage.MemoryStorage
	release chan struct{}
}

func (s *slowStore) AppendRecord(rec *models.RequestRecord) error {
	<-s.release
	return s.MemoryStorage.AppendRecord(rec)
}

func TestRecord_DoesNotWaitForStore(t *testing.T) {
	store := &slowStore{MemoryStorage: storage.NewMemoryStorage(0), release: make(chan struct{})}
	svc := NewService(store, nil, logging.Discard())
	defer svc.Close()

	returned := make(chan struct{})
	go func() {
		svc.Record(&models.RequestRecord{Method: "GET", Path: "/first"})
		svc.Record(&models.RequestRecord{Method: "GET", Path: "/second"})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on the store")
	}

	close(store.release)
	require.Eventually(t, func() bool {
		records, err := svc.List(models.RecordFilter{})
		return err == nil && len(records) == 2
	}, time.Second, 10*time.Millisecond)

	records, err := svc.List(models.RecordFilter{})
	require.NoError(t, err)
	assert.Equal(t, "/second", records[0].Path, "newest first keeps arrival order")
}

func TestClose_DrainsQueue(t *testing.T) {
	store := storage.NewMemoryStorage(0)
	svc := NewService(store, nil, logging.Discard())

	for i := 0; i < 10; i++ {
		svc.Record(&models.RequestRecord{Method: "GET", Path: "/a"})
	}
	svc.Close()

	records, err := store.GetRecords(models.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 10)

	assert.NotPanics(t, func() {
		svc.Record(&models.RequestRecord{Method: "GET", Path: "/late"})
		svc.Flush()
		svc.Close()
	})
}

func TestNewService_NilBroadcaster(t *testing.T) {
	svc := NewService(storage.NewMemoryStorage(0), nil, logging.Discard())
	assert.NotPanics(t, func() {
		svc.Record(&models.RequestRecord{Method: "GET", Path: "/a"})
	})
}

func TestBodyOrParams(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		pathParams map[string]string
		expected   string
	}{
		{"nil body without params", nil, nil, `{}`},
		{"object without params", map[string]any{"a": 1}, nil, `{"a":1}`},
		{"string without params", "raw", nil, `"raw"`},
		{"object with params", map[string]any{"a": 1}, map[string]string{"id": "42"}, `{"_pathParams":{"id":"42"},"a":1}`},
		{"nil body with params", nil, map[string]string{"id": "42"}, `{"_body":null,"_pathParams":{"id":"42"}}`},
		{"array with params", []any{1, 2}, map[string]string{"id": "1"}, `{"_body":[1,2],"_pathParams":{"id":"1"}}`},
		{"string with params", "hi", map[string]string{"id": "1"}, `{"_body":"hi","_pathParams":{"id":"1"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.expected, BodyOrParams(tt.body, tt.pathParams))
		})
	}
}

func TestEncodeJSON_Unencodable(t *testing.T) {
	assert.Equal(t, "{}", EncodeJSON(make(chan int)))
}
