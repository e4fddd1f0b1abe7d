package stats

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/prasenjit/mockpit/internal/models"
)

// Observation describes one request answered by the mock server
type Observation struct {
	EndpointID string // Empty when no route matched
	Method     string
	Path       string
	StatusCode int
	Duration   time.Duration
}

// Observer receives an observation for every served mock request
type Observer interface {
	ObserveRequest(obs Observation)
}

// Collector collects and aggregates statistics
type Collector struct {
	mu             sync.RWMutex
	startTime      time.Time
	endpoints      map[string]*models.AtomicEndpointStat // endpointID -> stats
	unmatched      int64
	recentErrors   []models.ErrorStat
	hourlyStats    map[string]*hourlyCounter // "YYYY-MM-DD-HH" -> counter
	maxErrors      int
	maxHourlySlots int
	now            func() time.Time
}

type hourlyCounter struct {
	Hour     string
	Requests int64
	Errors   int64
}

// NewCollector creates a new statistics collector
func NewCollector() *Collector {
	return &Collector{
		startTime:      time.Now(),
		endpoints:      make(map[string]*models.AtomicEndpointStat),
		recentErrors:   make([]models.ErrorStat, 0),
		hourlyStats:    make(map[string]*hourlyCounter),
		maxErrors:      100,
		maxHourlySlots: 168, // 7 days
		now:            time.Now,
	}
}

// ObserveRequest implements Observer
func (c *Collector) ObserveRequest(obs Observation) {
	isError := obs.StatusCode >= http.StatusBadRequest
	if obs.EndpointID == "" {
		c.recordUnmatched(obs)
	} else {
		c.RecordRequest(obs.EndpointID, obs.Method, obs.Path, obs.Duration, isError)
	}
	if isError {
		c.RecordError(obs.EndpointID, obs.Path, obs.Method, obs.StatusCode, http.StatusText(obs.StatusCode))
	}
}

func (c *Collector) recordUnmatched(obs Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unmatched++
	c.countHourly(true)
}

// RecordRequest records a request served by an endpoint
func (c *Collector) RecordRequest(endpointID, method, path string, duration time.Duration, isError bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	epStats, ok := c.endpoints[endpointID]
	if !ok {
		epStats = &models.AtomicEndpointStat{
			EndpointID: endpointID,
			Method:     method,
			Path:       path,
		}
		epStats.MinTimeNs.Store(duration.Nanoseconds())
		c.endpoints[endpointID] = epStats
	}

	epStats.TotalRequests.Add(1)
	epStats.TotalTimeNs.Add(duration.Nanoseconds())
	epStats.LastRequestTime.Store(c.now())

	durationNs := duration.Nanoseconds()
	for {
		currentMin := epStats.MinTimeNs.Load()
		if durationNs >= currentMin || epStats.MinTimeNs.CompareAndSwap(currentMin, durationNs) {
			break
		}
	}
	for {
		currentMax := epStats.MaxTimeNs.Load()
		if durationNs <= currentMax || epStats.MaxTimeNs.CompareAndSwap(currentMax, durationNs) {
			break
		}
	}

	if isError {
		epStats.TotalErrors.Add(1)
	}
	c.countHourly(isError)
}

// countHourly must be called with mu held
func (c *Collector) countHourly(isError bool) {
	hourKey := c.now().Format("2006-01-02-15")
	hourly, ok := c.hourlyStats[hourKey]
	if !ok {
		hourly = &hourlyCounter{Hour: hourKey}
		c.hourlyStats[hourKey] = hourly
		c.cleanupOldHourlyStats()
	}
	hourly.Requests++
	if isError {
		hourly.Errors++
	}
}

// RecordError records a request answered with an error status
func (c *Collector) RecordError(endpointID, path, method string, statusCode int, err string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recentErrors = append(c.recentErrors, models.ErrorStat{
		Timestamp:  c.now(),
		EndpointID: endpointID,
		Path:       path,
		Method:     method,
		StatusCode: statusCode,
		Error:      err,
	})
	if len(c.recentErrors) > c.maxErrors {
		c.recentErrors = c.recentErrors[1:]
	}
}

// cleanupOldHourlyStats removes hourly stats older than maxHourlySlots
func (c *Collector) cleanupOldHourlyStats() {
	if len(c.hourlyStats) <= c.maxHourlySlots {
		return
	}

	keys := make([]string, 0, len(c.hourlyStats))
	for k := range c.hourlyStats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	toRemove := len(keys) - c.maxHourlySlots
	for i := 0; i < toRemove; i++ {
		delete(c.hourlyStats, keys[i])
	}
}

// GetGlobalStats returns global statistics
func (c *Collector) GetGlobalStats(activeEndpoints, totalEndpoints int) *models.GlobalStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var totalRequests, totalErrors, totalTimeNs int64

	epStats := make([]models.EndpointStat, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		stat := ep.ToEndpointStat()
		epStats = append(epStats, stat)
		totalRequests += stat.TotalRequests
		totalErrors += stat.TotalErrors
		totalTimeNs += ep.TotalTimeNs.Load()
	}

	sort.Slice(epStats, func(i, j int) bool {
		if epStats[i].TotalRequests == epStats[j].TotalRequests {
			return epStats[i].EndpointID < epStats[j].EndpointID
		}
		return epStats[i].TotalRequests > epStats[j].TotalRequests
	})

	topEndpoints := epStats
	if len(topEndpoints) > 10 {
		topEndpoints = topEndpoints[:10]
	}

	var avgResponseTimeMs float64
	if totalRequests > 0 {
		avgResponseTimeMs = float64(totalTimeNs) / float64(totalRequests) / 1e6
	}

	// Unmatched requests count as traffic and as errors
	allRequests := totalRequests + c.unmatched
	uptime := c.now().Sub(c.startTime)
	var requestsPerSecond float64
	if uptime.Seconds() > 0 {
		requestsPerSecond = float64(allRequests) / uptime.Seconds()
	}

	return &models.GlobalStats{
		TotalRequests:     allRequests,
		TotalErrors:       totalErrors + c.unmatched,
		UnmatchedRequests: c.unmatched,
		ActiveEndpoints:   activeEndpoints,
		TotalEndpoints:    totalEndpoints,
		AvgResponseTimeMs: avgResponseTimeMs,
		RequestsPerSecond: requestsPerSecond,
		StartTime:         c.startTime,
		Uptime:            formatUptime(c.startTime, c.now()),
		TopEndpoints:      topEndpoints,
		RecentErrors:      append([]models.ErrorStat(nil), c.recentErrors...),
		RequestsByHour:    c.buildHourlyStats(),
	}
}

// GetEndpointStats returns statistics for a specific endpoint
func (c *Collector) GetEndpointStats(endpointID string) *models.EndpointStat {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if ep, ok := c.endpoints[endpointID]; ok {
		stat := ep.ToEndpointStat()
		return &stat
	}
	return nil
}

// ForgetEndpoint drops the statistics of a deleted endpoint
func (c *Collector) ForgetEndpoint(endpointID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.endpoints, endpointID)
}

// buildHourlyStats builds the statistics of the last 24 hours, oldest first
func (c *Collector) buildHourlyStats() []models.HourlyStat {
	now := c.now()
	stats := make([]models.HourlyStat, 0, 24)

	for i := 23; i >= 0; i-- {
		hour := now.Add(-time.Duration(i) * time.Hour)
		stat := models.HourlyStat{Hour: hour.Format("15:00")}
		if hourly, ok := c.hourlyStats[hour.Format("2006-01-02-15")]; ok {
			stat.Requests = hourly.Requests
			stat.Errors = hourly.Errors
		}
		stats = append(stats, stat)
	}

	return stats
}

// Reset resets all statistics
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = c.now()
	c.endpoints = make(map[string]*models.AtomicEndpointStat)
	c.unmatched = 0
	c.recentErrors = make([]models.ErrorStat, 0)
	c.hourlyStats = make(map[string]*hourlyCounter)
}

// formatUptime renders the time since start, e.g. "3 hours"
func formatUptime(start, now time.Time) string {
	if now.Sub(start) < time.Second {
		return "just started"
	}
	return strings.TrimSpace(humanize.RelTime(start, now, "", ""))
}

// String is used in log lines
func (o Observation) String() string {
	return fmt.Sprintf("%s %s -> %d (%s)", o.Method, o.Path, o.StatusCode, o.Duration)
}
