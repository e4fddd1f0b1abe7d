package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/prasenjit/mockpit/internal/events"
	"github.com/prasenjit/mockpit/internal/logging"
)

// Options configures the admin router
type Options struct {
	CORSOrigins []string
	// Metrics is served on /metrics when set
	Metrics *prometheus.Registry
}

// Router handles HTTP routing of the admin server
type Router struct {
	engine  *gin.Engine
	handler *Handler
	cors    *cors.Cors
	svc     Services
	log     logrus.FieldLogger
}

// NewRouter creates a new router
func NewRouter(svc Services, opts Options, log logrus.FieldLogger) *Router {
	gin.SetMode(gin.ReleaseMode)

	r := &Router{
		engine:  gin.New(),
		handler: NewHandler(svc, log),
		svc:     svc,
		log:     log,
		cors: cors.New(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{
				http.MethodGet, http.MethodPost, http.MethodPut,
				http.MethodPatch, http.MethodDelete, http.MethodOptions,
			},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"Content-Disposition"},
			MaxAge:         86400,
		}),
	}

	r.engine.Use(gin.Recovery())
	r.engine.Use(logging.Middleware(log.WithField("component", "admin-http")))

	r.setupRoutes()
	if opts.Metrics != nil {
		r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Metrics, promhttp.HandlerOpts{Registry: opts.Metrics})))
	}

	return r
}

// setupRoutes configures all routes
func (r *Router) setupRoutes() {
	h := r.handler

	api := r.engine.Group("/api")
	{
		// Endpoints
		api.GET("/endpoints", h.ListEndpoints)
		api.POST("/endpoints", h.CreateEndpoint)
		api.GET("/endpoints/:id", h.GetEndpoint)
		api.PUT("/endpoints/:id", h.UpdateEndpoint)
		api.DELETE("/endpoints/:id", h.DeleteEndpoint)
		api.PATCH("/endpoints/:id/toggle", h.ToggleEndpoint)
		api.PATCH("/endpoints/:id/active-variant", h.SetActiveVariant)
		api.POST("/endpoints/:id/variants", h.CreateVariant)

		// Variants
		api.PUT("/variants/:id", h.UpdateVariant)
		api.DELETE("/variants/:id", h.DeleteVariant)

		// Collections
		api.GET("/collections", h.ListCollections)
		api.POST("/collections", h.CreateCollection)
		api.PUT("/collections/reorder", h.ReorderCollections)
		api.PUT("/collections/move-endpoint", h.MoveEndpoint)
		api.PUT("/collections/:id", h.UpdateCollection)
		api.DELETE("/collections/:id", h.DeleteCollection)
		api.PATCH("/collections/:id/toggle", h.ToggleCollection)
		api.PUT("/collections/:id/reorder-endpoints", h.ReorderCollectionEndpoints)
		api.DELETE("/collections/:id/endpoints/:endpointId", h.RemoveCollectionEndpoint)

		// Environments
		api.GET("/environments", h.ListEnvironments)
		api.POST("/environments", h.CreateEnvironment)
		api.PATCH("/environments/active", h.SetActiveEnvironment)
		api.PUT("/environments/:id", h.UpdateEnvironment)
		api.DELETE("/environments/:id", h.DeleteEnvironment)

		// History
		api.GET("/history", h.ListHistory)
		api.DELETE("/history", h.ClearHistory)

		// Settings
		api.GET("/settings", h.GetSettings)
		api.PUT("/settings", h.UpdateSettings)

		// Import / export
		api.POST("/export", h.Export)
		api.POST("/import", h.Import)
		api.POST("/import/openapi", h.ImportOpenAPI)

		// Mock server
		api.GET("/server/status", h.ServerStatus)
		api.POST("/server/restart", h.RestartServer)

		// Statistics
		api.GET("/stats", h.GetGlobalStats)
		api.GET("/stats/endpoints/:id", h.GetEndpointStats)
		api.POST("/stats/reset", h.ResetStats)

		api.GET("/routes", h.GetRoutes)
		api.GET("/variables", h.GetVariables)
		api.GET("/health", h.HealthCheck)
	}

	// Live events for the admin UI
	r.engine.GET("/ws", gin.WrapH(events.NewWebSocketHandler(r.svc.Hub, r.log)))
}

// ServeUIFromFS serves a built admin UI from dir at the root path. Unknown
// non-API paths get index.html so client-side routes survive reloads.
func (r *Router) ServeUIFromFS(dir string) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		r.log.WithField("dir", dir).Warn("UI directory not found, serving the API only")
		return
	}

	indexPath := filepath.Join(dir, "index.html")
	files := http.FileServer(http.Dir(dir))

	r.engine.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/") || c.Request.Method != http.MethodGet {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}

		if info, err := os.Stat(filepath.Join(dir, filepath.Clean("/"+path))); err == nil && !info.IsDir() {
			files.ServeHTTP(c.Writer, c.Request)
			return
		}
		c.File(indexPath)
	})
}

// Handler returns the http.Handler with CORS applied
func (r *Router) Handler() http.Handler {
	return r.cors.Handler(r.engine)
}
