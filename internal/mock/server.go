package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/prasenjit/mockpit/internal/events"
	"github.com/prasenjit/mockpit/internal/logging"
	"github.com/prasenjit/mockpit/internal/template"
)

const (
	maxBodyBytes    = 10 << 20
	shutdownTimeout = 5 * time.Second
)

// Status describes the mock server listener
type Status struct {
	Running bool   `json:"running"`
	Port    int    `json:"port"`
	LocalIP string `json:"localIp"`
	Error   string `json:"error,omitempty"`
}

// Server owns the HTTP listener of the mock server
type Server struct {
	handler      *Handler
	settings     SettingsSource
	broadcaster  events.Broadcaster
	log          logrus.FieldLogger
	host         string
	portOverride int

	mu      sync.Mutex
	srv     *http.Server
	port    int
	lastErr string
}

// NewServer creates a mock server bound to host. A positive portOverride
// wins over the port in the settings at first start.
func NewServer(handler *Handler, settings SettingsSource, broadcaster events.Broadcaster, log logrus.FieldLogger, host string, portOverride int) *Server {
	if broadcaster == nil {
		broadcaster = events.Discard{}
	}
	return &Server{
		handler:      handler,
		settings:     settings,
		broadcaster:  broadcaster,
		log:          log.WithField("component", "mock-server"),
		host:         host,
		portOverride: portOverride,
	}
}

// Engine builds the gin engine answering every path with the mock handler
func (s *Server) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.Middleware(s.log))
	r.Use(corsMiddleware())
	r.NoRoute(s.serve)
	return r
}

// corsMiddleware opens the mock server to every origin and answers
// preflight requests without consulting the routes
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) serve(c *gin.Context) {
	resp := s.handler.Handle(c.Request.Context(), Request{
		Method:  c.Request.Method,
		URL:     c.Request.URL.RequestURI(),
		Body:    ParseBody(c.Request),
		Headers: FlattenHeaders(c.Request),
	})

	for name, value := range resp.Headers {
		c.Header(name, value)
	}
	contentType := c.Writer.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, []byte(resp.Body))
}

// Start listens on the configured port and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	port := s.portOverride
	if port <= 0 {
		port = s.settingsPort()
	}
	return s.startLocked(port)
}

// Restart stops the server and starts it again on the port from the
// current settings
func (s *Server) Restart(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.stopLocked(ctx); err != nil {
		s.log.WithError(err).Warn("Error stopping mock server")
	}

	err := s.startLocked(s.settingsPort())
	status := s.statusLocked()
	s.broadcaster.Broadcast(events.ServerStatus, status)
	return status, err
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stopLocked(ctx)
}

// Status reports whether the server is listening and on which port
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.statusLocked()
}

func (s *Server) statusLocked() Status {
	return Status{
		Running: s.srv != nil,
		Port:    s.port,
		LocalIP: LocalIP(),
		Error:   s.lastErr,
	}
}

func (s *Server) settingsPort() int {
	settings, err := s.settings.GetSettings()
	if err != nil || settings.Port <= 0 {
		return 8080
	}
	return settings.Port
}

func (s *Server) startLocked(port int) error {
	addr := net.JoinHostPort(s.host, fmt.Sprint(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.port = port
		s.lastErr = err.Error()
		return fmt.Errorf("mock server listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srv = srv
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.lastErr = ""

	log := s.log.WithField("port", s.port)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Mock server stopped")
		}
	}()

	log.Infof("Mock server listening on http://localhost:%d and http://%s:%d", s.port, LocalIP(), s.port)
	return nil
}

func (s *Server) stopLocked(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	srv := s.srv
	s.srv = nil

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// FlattenHeaders returns request headers with lowercased names. Repeated
// headers are joined with ", ".
func FlattenHeaders(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header)+1)
	for name, values := range r.Header {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	if r.Host != "" {
		out["host"] = r.Host
	}
	return out
}

// ParseBody decodes the request body by content type. Requests without a
// body yield their query parameters instead.
func ParseBody(r *http.Request) any {
	var raw []byte
	if r.Body != nil {
		raw, _ = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	}
	if len(raw) == 0 {
		return queryMap(r.URL.RequestURI())
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "multipart/form-data":
		return map[string]any{"raw": string(raw)}
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return string(raw)
		}
		form := make(map[string]any, len(values))
		for k, v := range values {
			if len(v) == 1 {
				form[k] = v[0]
			} else {
				form[k] = v
			}
		}
		return form
	case mediaType == "" || mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			return decoded
		}
	}
	return string(raw)
}

func queryMap(rawURL string) map[string]any {
	params := template.ParseQuery(rawURL)
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// LocalIP returns the first non-loopback IPv4 address, or 127.0.0.1
func LocalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					return ip4.String()
				}
			}
		}
	}
	return "127.0.0.1"
}
