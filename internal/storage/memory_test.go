package storage

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasenjit/mockpit/internal/models"
)

func TestMemoryStorage(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage {
		return NewMemoryStorage(100)
	})
}

func TestNewMemoryStorage(t *testing.T) {
	s := NewMemoryStorage(10)
	require.NotNil(t, s)
	assert.NotNil(t, s.endpoints)
	assert.NotNil(t, s.environments)
	assert.NotNil(t, s.collections)
	assert.Equal(t, models.DefaultSettings(), s.settings)
}

func TestMemoryStorage_DuplicateIDs(t *testing.T) {
	s := NewMemoryStorage(10)

	require.NoError(t, s.CreateEndpoint(newTestEndpoint("ep-1", "GET", "/a", newTestVariant("v-1", 200, 0))))
	assert.ErrorIs(t, s.CreateEndpoint(newTestEndpoint("ep-1", "GET", "/b")), ErrConflict)

	dup := newTestVariant("v-1", 200, 0)
	dup.EndpointID = "ep-1"
	assert.ErrorIs(t, s.CreateVariant(&dup), ErrConflict)
}

func TestMemoryStorage_VariantsSortedBySortOrder(t *testing.T) {
	s := NewMemoryStorage(10)

	ep := newTestEndpoint("ep-1", "GET", "/sorted",
		newTestVariant("v-late", 200, 5),
		newTestVariant("v-early", 201, 1),
	)
	require.NoError(t, s.CreateEndpoint(ep))

	got, err := s.GetEndpoint("ep-1")
	require.NoError(t, err)
	require.Len(t, got.ResponseVariants, 2)
	assert.Equal(t, "v-early", got.ResponseVariants[0].ID)

	v := got.ResponseVariants[1]
	v.SortOrder = 0
	require.NoError(t, s.UpdateVariant(&v))

	got, err = s.GetEndpoint("ep-1")
	require.NoError(t, err)
	assert.Equal(t, "v-late", got.ResponseVariants[0].ID)
}

func TestMemoryStorage_RecordCap(t *testing.T) {
	s := NewMemoryStorage(3)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendRecord(&models.RequestRecord{
			ID:        fmt.Sprintf("r-%d", i),
			Method:    "GET",
			Path:      "/cap",
			Timestamp: time.Now(),
		}))
	}

	records, err := s.GetRecords(models.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "r-4", records[0].ID)
	assert.Equal(t, "r-2", records[2].ID)
}

func TestMemoryStorage_UnlimitedRecords(t *testing.T) {
	s := NewMemoryStorage(0)

	for i := 0; i < 150; i++ {
		require.NoError(t, s.AppendRecord(&models.RequestRecord{ID: fmt.Sprintf("r-%d", i), Method: "GET"}))
	}

	records, err := s.GetRecords(models.RecordFilter{Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, records, 150)

	records, err = s.GetRecords(models.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, records, models.DefaultRecordLimit)
}

func TestReorderMembers(t *testing.T) {
	tests := []struct {
		name    string
		current []string
		ordered []string
		want    []string
	}{
		{"full order", []string{"a", "b", "c"}, []string{"c", "b", "a"}, []string{"c", "b", "a"}},
		{"partial order keeps the rest", []string{"a", "b", "c"}, []string{"c"}, []string{"c", "a", "b"}},
		{"unknown ids ignored", []string{"a", "b"}, []string{"x", "b"}, []string{"b", "a"}},
		{"duplicates collapsed", []string{"a", "b"}, []string{"b", "b"}, []string{"b", "a"}},
		{"empty order", []string{"a", "b"}, nil, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reorderMembers(tt.current, tt.ordered))
		})
	}
}

func TestInsertAt(t *testing.T) {
	assert.Equal(t, []string{"x", "a", "b"}, insertAt([]string{"a", "b"}, "x", 0))
	assert.Equal(t, []string{"a", "x", "b"}, insertAt([]string{"a", "b"}, "x", 1))
	assert.Equal(t, []string{"a", "b", "x"}, insertAt([]string{"a", "b"}, "x", 2))
	assert.Equal(t, []string{"a", "b", "x"}, insertAt([]string{"a", "b"}, "x", -1))
	assert.Equal(t, []string{"a", "b", "x"}, insertAt([]string{"a", "b"}, "x", 99))
}

// Concurrency tests
func TestConcurrentEndpointAccess(t *testing.T) {
	s := NewMemoryStorage(10)

	var wg sync.WaitGroup
	iterations := 100

	for i := 0; i < iterations; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("ep-%d", n)
			_ = s.CreateEndpoint(newTestEndpoint(id, "GET", "/concurrent/"+id, newTestVariant("v-"+id, 200, 0)))
		}(i)
	}
	wg.Wait()

	for i := 0; i < iterations; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.GetEnabledEndpoints()
		}()
		go func(n int) {
			defer wg.Done()
			_ = s.DeleteVariant(fmt.Sprintf("v-ep-%d", n))
		}(i)
	}
	wg.Wait()

	all, err := s.GetAllEndpoints()
	require.NoError(t, err)
	assert.Len(t, all, iterations)
	for _, ep := range all {
		assert.Nil(t, ep.ActiveVariantID)
	}
}

func TestConcurrentRecordAccess(t *testing.T) {
	s := NewMemoryStorage(50)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_ = s.AppendRecord(&models.RequestRecord{ID: fmt.Sprintf("r-%d", n), Method: "GET"})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = s.GetRecords(models.RecordFilter{Limit: 10})
		}()
	}
	wg.Wait()

	records, err := s.GetRecords(models.RecordFilter{Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, records, 50)
}
