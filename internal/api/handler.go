package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/prasenjit/mockpit/internal/events"
	"github.com/prasenjit/mockpit/internal/history"
	"github.com/prasenjit/mockpit/internal/mock"
	"github.com/prasenjit/mockpit/internal/models"
	"github.com/prasenjit/mockpit/internal/portability"
	"github.com/prasenjit/mockpit/internal/registry"
	"github.com/prasenjit/mockpit/internal/service"
	"github.com/prasenjit/mockpit/internal/stats"
	"github.com/prasenjit/mockpit/internal/storage"
	"github.com/prasenjit/mockpit/internal/template"
)

// MockServer is the lifecycle surface of the mock server
type MockServer interface {
	Status() mock.Status
	Restart(ctx context.Context) (mock.Status, error)
}

// Services bundles everything the admin API operates on
type Services struct {
	Endpoints    *service.Endpoints
	Collections  *service.Collections
	Environments *service.Environments
	Settings     *service.Settings
	History      *history.Service
	Portability  *portability.Service
	Stats        *stats.Collector
	Routes       *registry.Registry
	Hub          *events.Hub
	MockServer   MockServer
}

// Handler handles API requests
type Handler struct {
	svc       Services
	log       logrus.FieldLogger
	startedAt time.Time
}

// NewHandler creates a new API handler
func NewHandler(svc Services, log logrus.FieldLogger) *Handler {
	return &Handler{
		svc:       svc,
		log:       log.WithField("component", "admin-api"),
		startedAt: time.Now(),
	}
}

// respondError maps service and storage errors to status codes
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalid),
		errors.Is(err, portability.ErrInvalidDocument),
		errors.Is(err, portability.ErrUnsupportedVersion):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log.WithError(err).WithField("path", c.FullPath()).Error("Admin request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// Endpoints

// ListEndpoints returns all endpoints with their variants
func (h *Handler) ListEndpoints(c *gin.Context) {
	endpoints, err := h.svc.Endpoints.List()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, endpoints)
}

// CreateEndpoint creates an endpoint with a default variant
func (h *Handler) CreateEndpoint(c *gin.Context) {
	var input models.EndpointInput
	if !bindJSON(c, &input) {
		return
	}

	ep, err := h.svc.Endpoints.Create(input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ep)
}

// GetEndpoint returns a single endpoint
func (h *Handler) GetEndpoint(c *gin.Context) {
	ep, err := h.svc.Endpoints.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ep)
}

// UpdateEndpoint applies a partial update
func (h *Handler) UpdateEndpoint(c *gin.Context) {
	var upd models.EndpointUpdate
	if !bindJSON(c, &upd) {
		return
	}

	ep, err := h.svc.Endpoints.Update(c.Param("id"), upd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ep)
}

// DeleteEndpoint deletes an endpoint and forgets its statistics
func (h *Handler) DeleteEndpoint(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.Endpoints.Delete(id); err != nil {
		h.respondError(c, err)
		return
	}
	h.svc.Stats.ForgetEndpoint(id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ToggleEndpoint flips the enabled flag
func (h *Handler) ToggleEndpoint(c *gin.Context) {
	ep, err := h.svc.Endpoints.ToggleEnabled(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ep)
}

// SetActiveVariant selects the variant served by default. A null
// variantId clears the selection.
func (h *Handler) SetActiveVariant(c *gin.Context) {
	var input struct {
		VariantID *string `json:"variantId"`
	}
	if !bindJSON(c, &input) {
		return
	}

	ep, err := h.svc.Endpoints.SetActiveVariant(c.Param("id"), input.VariantID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ep)
}

// Variants

// CreateVariant adds a response variant to an endpoint
func (h *Handler) CreateVariant(c *gin.Context) {
	var input models.VariantInput
	// An empty body adds a variant with defaults
	if c.Request.ContentLength != 0 && !bindJSON(c, &input) {
		return
	}

	ep, err := h.svc.Endpoints.AddVariant(c.Param("id"), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ep)
}

// UpdateVariant applies a partial update to a variant
func (h *Handler) UpdateVariant(c *gin.Context) {
	var upd models.VariantUpdate
	if !bindJSON(c, &upd) {
		return
	}

	v, err := h.svc.Endpoints.UpdateVariant(c.Param("id"), upd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// DeleteVariant removes a variant
func (h *Handler) DeleteVariant(c *gin.Context) {
	if err := h.svc.Endpoints.DeleteVariant(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Collections

// ListCollections returns collections in display order
func (h *Handler) ListCollections(c *gin.Context) {
	collections, err := h.svc.Collections.List()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, collections)
}

// CreateCollection creates an empty collection
func (h *Handler) CreateCollection(c *gin.Context) {
	var input struct {
		Name string `json:"name" binding:"required"`
	}
	if !bindJSON(c, &input) {
		return
	}

	col, err := h.svc.Collections.Create(input.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, col)
}

// UpdateCollection renames or expands a collection
func (h *Handler) UpdateCollection(c *gin.Context) {
	var upd service.CollectionUpdate
	if !bindJSON(c, &upd) {
		return
	}

	col, err := h.svc.Collections.Update(c.Param("id"), upd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, col)
}

// ToggleCollection flips the expanded flag
func (h *Handler) ToggleCollection(c *gin.Context) {
	col, err := h.svc.Collections.ToggleExpanded(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, col)
}

// DeleteCollection deletes a collection but keeps its endpoints
func (h *Handler) DeleteCollection(c *gin.Context) {
	if err := h.svc.Collections.Delete(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ReorderCollections stores a new collection order
func (h *Handler) ReorderCollections(c *gin.Context) {
	var input struct {
		OrderedIDs []string `json:"orderedIds" binding:"required"`
	}
	if !bindJSON(c, &input) {
		return
	}

	collections, err := h.svc.Collections.Reorder(input.OrderedIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, collections)
}

// ReorderCollectionEndpoints stores a new endpoint order inside a collection
func (h *Handler) ReorderCollectionEndpoints(c *gin.Context) {
	var input struct {
		OrderedEndpointIDs []string `json:"orderedEndpointIds" binding:"required"`
	}
	if !bindJSON(c, &input) {
		return
	}

	col, err := h.svc.Collections.ReorderEndpoints(c.Param("id"), input.OrderedEndpointIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, col)
}

// MoveEndpoint moves an endpoint between (or within) collections
func (h *Handler) MoveEndpoint(c *gin.Context) {
	var input models.MoveEndpointInput
	if !bindJSON(c, &input) {
		return
	}

	collections, err := h.svc.Collections.MoveEndpoint(input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, collections)
}

// RemoveCollectionEndpoint unlinks an endpoint from a collection
func (h *Handler) RemoveCollectionEndpoint(c *gin.Context) {
	col, err := h.svc.Collections.RemoveEndpoint(c.Param("id"), c.Param("endpointId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, col)
}

// Environments

// ListEnvironments returns all environments
func (h *Handler) ListEnvironments(c *gin.Context) {
	envs, err := h.svc.Environments.List()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, envs)
}

// CreateEnvironment creates an environment
func (h *Handler) CreateEnvironment(c *gin.Context) {
	var input struct {
		Name      string            `json:"name" binding:"required"`
		Variables map[string]string `json:"variables"`
	}
	if !bindJSON(c, &input) {
		return
	}

	env, err := h.svc.Environments.Create(input.Name, input.Variables)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, env)
}

// UpdateEnvironment applies a partial update
func (h *Handler) UpdateEnvironment(c *gin.Context) {
	var upd models.EnvironmentUpdate
	if !bindJSON(c, &upd) {
		return
	}

	env, err := h.svc.Environments.Update(c.Param("id"), upd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, env)
}

// SetActiveEnvironment activates one environment; a null or empty id
// deactivates all of them
func (h *Handler) SetActiveEnvironment(c *gin.Context) {
	var input struct {
		ID *string `json:"id"`
	}
	if !bindJSON(c, &input) {
		return
	}

	envs, err := h.svc.Environments.SetActive(lo.FromPtr(input.ID))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, envs)
}

// DeleteEnvironment deletes an environment
func (h *Handler) DeleteEnvironment(c *gin.Context) {
	if err := h.svc.Environments.Delete(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// History

// ListHistory returns recorded requests, newest first
func (h *Handler) ListHistory(c *gin.Context) {
	var filter models.RecordFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := h.svc.History.List(filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// ClearHistory removes all recorded requests
func (h *Handler) ClearHistory(c *gin.Context) {
	if err := h.svc.History.Clear(); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Settings

// GetSettings returns the runtime settings
func (h *Handler) GetSettings(c *gin.Context) {
	settings, err := h.svc.Settings.Get()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateSettings applies a partial settings update. A changed port takes
// effect on the next server restart.
func (h *Handler) UpdateSettings(c *gin.Context) {
	var upd models.SettingsUpdate
	if !bindJSON(c, &upd) {
		return
	}

	settings, err := h.svc.Settings.Update(upd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// Mock server

// ServerStatus reports the mock server listener
func (h *Handler) ServerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.MockServer.Status())
}

// RestartServer restarts the mock server on the port from the settings
func (h *Handler) RestartServer(c *gin.Context) {
	status, err := h.svc.MockServer.Restart(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Warn("Mock server restart failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "status": status})
		return
	}
	c.JSON(http.StatusOK, status)
}

// Statistics

// GetGlobalStats returns global statistics
func (h *Handler) GetGlobalStats(c *gin.Context) {
	endpoints, err := h.svc.Endpoints.List()
	if err != nil {
		h.respondError(c, err)
		return
	}
	active := lo.CountBy(endpoints, func(ep *models.Endpoint) bool { return ep.IsEnabled })

	c.JSON(http.StatusOK, h.svc.Stats.GetGlobalStats(active, len(endpoints)))
}

// GetEndpointStats returns statistics for a single endpoint
func (h *Handler) GetEndpointStats(c *gin.Context) {
	id := c.Param("id")
	if stat := h.svc.Stats.GetEndpointStats(id); stat != nil {
		c.JSON(http.StatusOK, stat)
		return
	}
	ep, err := h.svc.Endpoints.Get(id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.EndpointStat{EndpointID: id, Method: ep.Method, Path: ep.Path})
}

// ResetStats resets all statistics
func (h *Handler) ResetStats(c *gin.Context) {
	h.svc.Stats.Reset()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Misc

// GetRoutes returns the routes the mock server currently answers
func (h *Handler) GetRoutes(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Routes.Routes())
}

// GetVariables returns the dynamic template variables for autocomplete
func (h *Handler) GetVariables(c *gin.Context) {
	c.JSON(http.StatusOK, template.Catalogue())
}

// HealthCheck returns health status
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"uptime":      time.Since(h.startedAt).Round(time.Second).String(),
		"routes":      h.svc.Routes.Len(),
		"subscribers": h.svc.Hub.SubscriberCount(),
		"mockServer":  h.svc.MockServer.Status(),
	})
}
