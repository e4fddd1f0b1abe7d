// Package mock answers requests sent to the mock server.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/prasenjit/mockpit/internal/history"
	"github.com/prasenjit/mockpit/internal/matcher"
	"github.com/prasenjit/mockpit/internal/models"
	"github.com/prasenjit/mockpit/internal/registry"
	"github.com/prasenjit/mockpit/internal/stats"
	"github.com/prasenjit/mockpit/internal/template"
)

// Override headers, matched case-insensitively
const (
	HeaderResponseCode  = "x-mock-response-code"
	HeaderResponseName  = "x-mock-response-name"
	HeaderResponseDelay = "x-mock-response-delay"
)

const noVariantBody = `{"error":"No response variant configured"}`

// MaxDelay caps every response delay
const MaxDelay = 10 * time.Minute

// Router finds the endpoint serving a request
type Router interface {
	Match(method, rawPath string) (*registry.Match, bool)
}

// EnvironmentSource provides the variables of the active environment
type EnvironmentSource interface {
	ActiveVariables() map[string]string
}

// SettingsSource provides runtime settings
type SettingsSource interface {
	GetSettings() (*models.Settings, error)
}

// Recorder stores served requests. Record is called on the response path
// and must hand the record off without waiting for storage.
type Recorder interface {
	Record(rec *models.RequestRecord)
}

// Request is an incoming mock request
type Request struct {
	Method  string
	URL     string            // Path plus query string
	Body    any               // Parsed body, or the query parameters when there is none
	Headers map[string]string // Keys are lowercased
}

// Response is the resolved answer to a Request
type Response struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
	EndpointID string
	VariantID  string
}

// Handler resolves mock requests: route, variant, delay, templates, history
type Handler struct {
	routes    Router
	env       EnvironmentSource
	settings  SettingsSource
	history   Recorder
	evaluator *matcher.Evaluator
	pipeline  *template.Pipeline
	observers []stats.Observer
	log       logrus.FieldLogger
}

// NewHandler creates a mock request handler
func NewHandler(routes Router, env EnvironmentSource, settings SettingsSource, history Recorder, log logrus.FieldLogger) *Handler {
	return &Handler{
		routes:    routes,
		env:       env,
		settings:  settings,
		history:   history,
		evaluator: matcher.NewEvaluator(),
		pipeline:  template.NewPipeline(nil),
		log:       log.WithField("component", "mock"),
	}
}

// Observe adds observers notified after every request
func (h *Handler) Observe(observers ...stats.Observer) {
	h.observers = append(h.observers, observers...)
}

// Handle answers req. It never fails: unmatched routes and endpoints
// without variants produce ordinary error responses.
func (h *Handler) Handle(ctx context.Context, req Request) *Response {
	start := time.Now()
	method := strings.ToUpper(req.Method)
	path, _, _ := strings.Cut(req.URL, "?")

	headers := lowerKeys(req.Headers)
	var resp *Response
	var pathParams map[string]string

	if m, ok := h.routes.Match(method, req.URL); !ok {
		message := fmt.Sprintf("No mock endpoint configured for %s %s", method, path)
		resp = &Response{
			StatusCode: http.StatusNotFound,
			Body:       history.EncodeJSON(map[string]string{"error": message}),
			Headers:    map[string]string{},
		}
	} else {
		pathParams = m.PathParams
		resp = h.respond(ctx, m, req, headers)
	}

	h.history.Record(&models.RequestRecord{
		Method:         method,
		Path:           req.URL,
		StatusCode:     resp.StatusCode,
		BodyOrParams:   history.BodyOrParams(req.Body, pathParams),
		RequestHeaders: history.EncodeJSON(req.Headers),
		ResponseBody:   resp.Body,
	})

	obs := stats.Observation{
		EndpointID: resp.EndpointID,
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Duration:   time.Since(start),
	}
	for _, o := range h.observers {
		o.ObserveRequest(obs)
	}
	h.log.WithField("variant", resp.VariantID).Debug(obs.String())

	return resp
}

func (h *Handler) respond(ctx context.Context, m *registry.Match, req Request, headers map[string]string) *Response {
	ep := m.Endpoint
	reqCtx := template.NewRequestContext(req.URL, req.Body, headers, m.PathParams)

	variant := h.selectVariant(ep, headers, matcher.Input{
		Body:       reqCtx.Body,
		Headers:    reqCtx.Headers,
		Query:      reqCtx.QueryParams,
		PathParams: reqCtx.PathParams,
	})
	if variant == nil {
		return &Response{
			StatusCode: http.StatusInternalServerError,
			Body:       noVariantBody,
			Headers:    map[string]string{},
			EndpointID: ep.ID,
		}
	}

	delay := h.resolveDelay(headers, variant)
	if delay > 0 {
		if err := sleep(ctx, delay); err != nil {
			h.log.WithField("endpoint", ep.ID).Debug("Client went away during delay")
		}
	}

	env := h.env.ActiveVariables()
	return &Response{
		StatusCode: variant.StatusCode,
		Body:       h.pipeline.RenderBody(variant.Body, env, reqCtx),
		Headers:    h.pipeline.RenderHeaders(ParseHeaders(variant.Headers), env),
		Delay:      delay,
		EndpointID: ep.ID,
		VariantID:  variant.ID,
	}
}

// selectVariant applies the variant cascade: status override header, name
// override header, conditional rules in stored order, then the active or
// first variant
func (h *Handler) selectVariant(ep *models.Endpoint, headers map[string]string, in matcher.Input) *models.ResponseVariant {
	variants := ep.ResponseVariants

	return firstOf(
		func() (*models.ResponseVariant, bool) {
			code, err := strconv.Atoi(strings.TrimSpace(headers[HeaderResponseCode]))
			if err != nil {
				return nil, false
			}
			return findVariant(variants, func(v models.ResponseVariant) bool { return v.StatusCode == code })
		},
		func() (*models.ResponseVariant, bool) {
			name := strings.TrimSpace(headers[HeaderResponseName])
			if name == "" {
				return nil, false
			}
			return findVariant(variants, func(v models.ResponseVariant) bool { return strings.EqualFold(v.Description, name) })
		},
		func() (*models.ResponseVariant, bool) {
			return findVariant(variants, func(v models.ResponseVariant) bool {
				return v.MatchRules != nil && h.evaluator.Matches(v.MatchRules, in)
			})
		},
		func() (*models.ResponseVariant, bool) {
			v := ep.ActiveVariant()
			return v, v != nil
		},
	)
}

// firstOf returns the result of the first selector that finds a variant
func firstOf(selectors ...func() (*models.ResponseVariant, bool)) *models.ResponseVariant {
	for _, sel := range selectors {
		if v, ok := sel(); ok {
			return v
		}
	}
	return nil
}

func findVariant(variants []models.ResponseVariant, pred func(models.ResponseVariant) bool) (*models.ResponseVariant, bool) {
	_, idx, ok := lo.FindIndexOf(variants, pred)
	if !ok {
		return nil, false
	}
	return &variants[idx], true
}

// resolveDelay picks the delay header, then the variant delay, then the
// global default
func (h *Handler) resolveDelay(headers map[string]string, v *models.ResponseVariant) time.Duration {
	if raw, ok := headers[HeaderResponseDelay]; ok {
		if ms, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			return millis(ms)
		}
	}
	if v.Delay != nil {
		return millis(*v.Delay)
	}

	settings, err := h.settings.GetSettings()
	if err != nil {
		h.log.WithError(err).Debug("Settings unavailable, using no delay")
		return 0
	}
	return millis(settings.ResponseDelay)
}

// millis converts a delay in milliseconds, clamped to [0, MaxDelay]
func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	if ms >= int(MaxDelay/time.Millisecond) {
		return MaxDelay
	}
	return time.Duration(ms) * time.Millisecond
}

// sleep waits for d without holding any lock. It returns early with the
// context error when ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ParseHeaders decodes a variant's header template. Invalid JSON yields no
// headers; non-string values are rendered as JSON and nulls are dropped.
func ParseHeaders(raw string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return out
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return out
	}
	for name, value := range decoded {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			out[name] = v
		default:
			out[name] = history.EncodeJSON(v)
		}
	}
	return out
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
