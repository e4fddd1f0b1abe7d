// Package history keeps the log of requests answered by the mock server.
package history

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/prasenjit/mockpit/internal/events"
	"github.com/prasenjit/mockpit/internal/models"
)

// Store persists request records
type Store interface {
	AppendRecord(rec *models.RequestRecord) error
	GetRecords(filter models.RecordFilter) ([]*models.RequestRecord, error)
	ClearRecords() error
}

// queueSize bounds the records waiting to be written
const queueSize = 1024

// Service records, lists and clears request history. Records are written
// by a background goroutine in arrival order; call Close to drain it.
type Service struct {
	store       Store
	broadcaster events.Broadcaster
	log         logrus.FieldLogger
	now         func() time.Time

	mu     sync.RWMutex // guards closed against sends on queue
	closed bool
	queue  chan task
	done   chan struct{}
}

// task is a record to persist, or a flush marker when rec is nil
type task struct {
	rec     *models.RequestRecord
	flushed chan struct{}
}

// NewService creates a history service and starts its writer
func NewService(store Store, broadcaster events.Broadcaster, log logrus.FieldLogger) *Service {
	if broadcaster == nil {
		broadcaster = events.Discard{}
	}
	s := &Service{
		store:       store,
		broadcaster: broadcaster,
		log:         log.WithField("component", "history"),
		now:         time.Now,
		queue:       make(chan task, queueSize),
		done:        make(chan struct{}),
	}
	go s.run()
	return s
}

// Record queues rec for storage and returns immediately. Subscribers are
// notified once it is stored. Failures are logged and never reach the
// caller; when the queue is full the record is dropped.
func (s *Service) Record(rec *models.RequestRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- task{rec: rec}:
	default:
		s.log.WithFields(logrus.Fields{
			"method": rec.Method,
			"path":   rec.Path,
		}).Warn("History queue full, dropping record")
	}
}

// Flush blocks until every record queued before the call is stored
func (s *Service) Flush() {
	flushed := make(chan struct{})

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.queue <- task{flushed: flushed}
	s.mu.RUnlock()

	<-flushed
}

// Close stores the queued records and stops the writer. Later records are
// ignored.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
}

func (s *Service) run() {
	defer close(s.done)
	for t := range s.queue {
		if t.rec == nil {
			close(t.flushed)
			continue
		}
		s.persist(t.rec)
	}
}

func (s *Service) persist(rec *models.RequestRecord) {
	if err := s.store.AppendRecord(rec); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"method": rec.Method,
			"path":   rec.Path,
		}).Warn("Failed to record request")
		return
	}
	s.broadcaster.Broadcast(events.RequestReceived, rec)
}

// List returns records matching filter, newest first
func (s *Service) List(filter models.RecordFilter) ([]*models.RequestRecord, error) {
	records, err := s.store.GetRecords(filter)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return records, nil
}

// Clear removes every record, including those still queued
func (s *Service) Clear() error {
	s.Flush()
	if err := s.store.ClearRecords(); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	s.broadcaster.Broadcast(events.HistoryCleared, nil)
	return nil
}

// EncodeJSON returns the JSON text of v, or "{}" when v is nil or cannot
// be encoded
func EncodeJSON(v any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// BodyOrParams builds the recorded request payload. When the route had path
// parameters they are injected under _pathParams; bodies that are not JSON
// objects are wrapped as {"_body": ...} first.
func BodyOrParams(body any, pathParams map[string]string) string {
	if len(pathParams) == 0 {
		return EncodeJSON(body)
	}

	merged := make(map[string]any)
	if obj, ok := body.(map[string]any); ok {
		for k, v := range obj {
			merged[k] = v
		}
	} else {
		merged["_body"] = body
	}
	merged["_pathParams"] = pathParams
	return EncodeJSON(merged)
}
