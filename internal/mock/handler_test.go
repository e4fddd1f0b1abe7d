package mock

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasenjit/mockpit/internal/history"
	"github.com/prasenjit/mockpit/internal/logging"
	"github.com/prasenjit/mockpit/internal/models"
	"github.com/prasenjit/mockpit/internal/registry"
	"github.com/prasenjit/mockpit/internal/stats"
	"github.com/prasenjit/mockpit/internal/storage"
	"github.com/prasenjit/mockpit/internal/template"
)

type staticEnv map[string]string

func (e staticEnv) ActiveVariables() map[string]string { return e }

type captureObserver struct {
	mu  sync.Mutex
	obs []stats.Observation
}

func (c *captureObserver) ObserveRequest(o stats.Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.obs = append(c.obs, o)
}

type fixture struct {
	store   *storage.MemoryStorage
	routes  *registry.Registry
	hist    *history.Service
	handler *Handler
	env     staticEnv
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStorage(0)
	routes := registry.New(store)
	env := staticEnv{}
	hist := history.NewService(store, nil, logging.Discard())
	t.Cleanup(hist.Close)

	h := NewHandler(routes, env, store, hist, logging.Discard())
	h.pipeline = template.NewPipeline(template.NewSeededGenerator(1, func() time.Time {
		return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	}))

	return &fixture{store: store, routes: routes, hist: hist, handler: h, env: env}
}

var seq int

func variant(status int, description, body string) models.ResponseVariant {
	seq++
	return models.ResponseVariant{
		ID:          uuid.NewString(),
		StatusCode:  status,
		Description: description,
		Body:        body,
		Headers:     "{}",
		SortOrder:   seq,
	}
}

func (f *fixture) addEndpoint(t *testing.T, method, path string, variants ...models.ResponseVariant) *models.Endpoint {
	t.Helper()
	ep := &models.Endpoint{
		ID:               "ep-" + method + path,
		Method:           method,
		Path:             path,
		IsEnabled:        true,
		CreatedAt:        time.Now(),
		ResponseVariants: variants,
	}
	if len(variants) > 0 {
		active := variants[0].ID
		ep.ActiveVariantID = &active
	}
	require.NoError(t, f.store.CreateEndpoint(ep))
	stored, err := f.store.GetEndpoint(ep.ID)
	require.NoError(t, err)
	f.routes.Add(stored)
	return stored
}

func (f *fixture) records(t *testing.T) []*models.RequestRecord {
	t.Helper()
	f.hist.Flush()
	recs, err := f.store.GetRecords(models.RecordFilter{})
	require.NoError(t, err)
	return recs
}

func get(url string, headers map[string]string) Request {
	return Request{Method: "GET", URL: url, Body: map[string]any{}, Headers: headers}
}

func TestHandle_UnregisteredPath(t *testing.T) {
	f := newFixture(t)

	resp := f.handler.Handle(context.Background(), get("/nope?x=1", nil))

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"No mock endpoint configured for GET /nope"}`, resp.Body)
	assert.Empty(t, resp.EndpointID)

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, 404, recs[0].StatusCode)
	assert.Equal(t, "/nope?x=1", recs[0].Path)
	assert.Equal(t, resp.Body, recs[0].ResponseBody)
}

func TestHandle_NoVariants(t *testing.T) {
	f := newFixture(t)
	f.addEndpoint(t, "GET", "/empty")

	resp := f.handler.Handle(context.Background(), get("/empty", nil))

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"No response variant configured"}`, resp.Body)
	require.Len(t, f.records(t), 1)
	assert.Equal(t, 500, f.records(t)[0].StatusCode)
}

func TestHandle_PathParamsScenario(t *testing.T) {
	f := newFixture(t)
	f.addEndpoint(t, "GET", "/api/users/:id", variant(200, "ok", `{"id":"{{$pathParams 'id'}}"}`))

	resp := f.handler.Handle(context.Background(), get("/api/users/42", nil))

	assert.Equal(t, 200, resp.StatusCode)
	assert.JSONEq(t, `{"id":"42"}`, resp.Body)

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.JSONEq(t, `{"_pathParams":{"id":"42"}}`, recs[0].BodyOrParams)
	assert.JSONEq(t, `{"id":"42"}`, recs[0].ResponseBody)
}

func TestHandle_BodyEchoScenario(t *testing.T) {
	f := newFixture(t)
	f.addEndpoint(t, "POST", "/echo", variant(201, "created", `{"hello":"{{$body 'user.name' 'stranger'}}"}`))

	resp := f.handler.Handle(context.Background(), Request{
		Method: "POST",
		URL:    "/echo",
		Body:   map[string]any{"user": map[string]any{"name": "Ann"}},
	})
	assert.Equal(t, 201, resp.StatusCode)
	assert.JSONEq(t, `{"hello":"Ann"}`, resp.Body)

	resp = f.handler.Handle(context.Background(), Request{Method: "POST", URL: "/echo", Body: map[string]any{}})
	assert.JSONEq(t, `{"hello":"stranger"}`, resp.Body)
}

func TestHandle_HeaderRuleScenario(t *testing.T) {
	f := newFixture(t)
	ok := variant(200, "ok", `{"role":"member"}`)
	forbidden := variant(403, "forbidden", `{"error":"guests not allowed"}`)
	forbidden.MatchRules = &models.MatchRules{
		CombineWith: models.CombineAnd,
		HeaderRules: []models.MatchRule{{Field: "X-Role", Operator: models.OpEquals, Value: "guest"}},
	}
	f.addEndpoint(t, "GET", "/profile", ok, forbidden)

	resp := f.handler.Handle(context.Background(), get("/profile", map[string]string{"X-Role": "guest"}))
	assert.Equal(t, 403, resp.StatusCode)

	resp = f.handler.Handle(context.Background(), get("/profile", map[string]string{"X-Role": "admin"}))
	assert.Equal(t, 200, resp.StatusCode)

	resp = f.handler.Handle(context.Background(), get("/profile", nil))
	assert.Equal(t, 200, resp.StatusCode)
}

func TestHandle_StatusOverrideScenario(t *testing.T) {
	f := newFixture(t)
	ok := variant(200, "ok", `{}`)
	notFound := variant(404, "missing", `{"error":"nope"}`)
	f.addEndpoint(t, "GET", "/items", ok, notFound)

	resp := f.handler.Handle(context.Background(), get("/items", map[string]string{"x-mock-response-code": "404"}))
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, notFound.ID, resp.VariantID)

	// Unknown code falls through to the active variant
	resp = f.handler.Handle(context.Background(), get("/items", map[string]string{"X-Mock-Response-Code": "418"}))
	assert.Equal(t, 200, resp.StatusCode)

	resp = f.handler.Handle(context.Background(), get("/items", map[string]string{"x-mock-response-code": "abc"}))
	assert.Equal(t, 200, resp.StatusCode)
}

func TestHandle_NameOverride(t *testing.T) {
	f := newFixture(t)
	f.addEndpoint(t, "GET", "/items", variant(200, "ok", `{}`), variant(503, "Maintenance Mode", `{}`))

	resp := f.handler.Handle(context.Background(), get("/items", map[string]string{"x-mock-response-name": "maintenance mode"}))
	assert.Equal(t, 503, resp.StatusCode)
}

func TestHandle_Precedence(t *testing.T) {
	f := newFixture(t)
	def := variant(200, "default", `{}`)
	ruled := variant(202, "ruled", `{}`)
	ruled.MatchRules = &models.MatchRules{
		QueryParamRules: []models.MatchRule{{Field: "mode", Operator: models.OpEquals, Value: "async"}},
	}
	named := variant(409, "conflict", `{}`)
	coded := variant(500, "boom", `{}`)
	f.addEndpoint(t, "GET", "/jobs", def, ruled, named, coded)

	tests := []struct {
		name     string
		url      string
		headers  map[string]string
		expected int
	}{
		{"code header beats name and rules", "/jobs?mode=async", map[string]string{"x-mock-response-code": "500", "x-mock-response-name": "conflict"}, 500},
		{"name header beats rules", "/jobs?mode=async", map[string]string{"x-mock-response-name": "conflict"}, 409},
		{"rules beat active", "/jobs?mode=async", nil, 202},
		{"active when nothing matches", "/jobs?mode=sync", nil, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.handler.Handle(context.Background(), get(tt.url, tt.headers))
			assert.Equal(t, tt.expected, resp.StatusCode)
		})
	}
}

func TestHandle_FirstMatchingRuleInStoredOrder(t *testing.T) {
	f := newFixture(t)
	first := variant(201, "first", `{}`)
	first.MatchRules = &models.MatchRules{BodyRules: []models.MatchRule{{Field: "type", Operator: models.OpStartsWith, Value: "pre"}}}
	second := variant(202, "second", `{}`)
	second.MatchRules = &models.MatchRules{BodyRules: []models.MatchRule{{Field: "type", Operator: models.OpContains, Value: "premium"}}}
	f.addEndpoint(t, "POST", "/orders", variant(200, "default", `{}`), first, second)

	resp := f.handler.Handle(context.Background(), Request{Method: "POST", URL: "/orders", Body: map[string]any{"type": "premium"}})
	assert.Equal(t, 201, resp.StatusCode)
}

func TestHandle_ActiveVariant(t *testing.T) {
	f := newFixture(t)
	a := variant(200, "a", `"a"`)
	b := variant(201, "b", `"b"`)
	ep := f.addEndpoint(t, "GET", "/x", a, b)

	require.NoError(t, f.store.SetActiveVariant(ep.ID, &b.ID))
	stored, err := f.store.GetEndpoint(ep.ID)
	require.NoError(t, err)
	f.routes.Update(stored)

	resp := f.handler.Handle(context.Background(), get("/x", nil))
	assert.Equal(t, 201, resp.StatusCode)
}

func TestHandle_Delay(t *testing.T) {
	f := newFixture(t)
	slow := variant(200, "slow", `{}`)
	d := 40
	slow.Delay = &d
	f.addEndpoint(t, "GET", "/slow", slow)
	f.addEndpoint(t, "GET", "/fast", variant(200, "fast", `{}`))

	start := time.Now()
	resp := f.handler.Handle(context.Background(), get("/slow", nil))
	assert.Equal(t, 40*time.Millisecond, resp.Delay)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	resp = f.handler.Handle(context.Background(), get("/slow", map[string]string{"x-mock-response-delay": "0"}))
	assert.Zero(t, resp.Delay)

	resp = f.handler.Handle(context.Background(), get("/fast", map[string]string{"x-mock-response-delay": "15"}))
	assert.Equal(t, 15*time.Millisecond, resp.Delay)

	resp = f.handler.Handle(context.Background(), get("/fast", map[string]string{"x-mock-response-delay": "soon"}))
	assert.Zero(t, resp.Delay)

	settings := models.DefaultSettings()
	settings.ResponseDelay = 5
	require.NoError(t, f.store.SaveSettings(&settings))
	resp = f.handler.Handle(context.Background(), get("/fast", nil))
	assert.Equal(t, 5*time.Millisecond, resp.Delay)
}

func TestResolveDelay_Clamped(t *testing.T) {
	f := newFixture(t)
	huge := math.MaxInt
	negative := -50
	v := &models.ResponseVariant{}

	tests := []struct {
		name     string
		headers  map[string]string
		delay    *int
		expected time.Duration
	}{
		{"huge header", map[string]string{HeaderResponseDelay: strconv.Itoa(math.MaxInt)}, nil, MaxDelay},
		{"header past the cap", map[string]string{HeaderResponseDelay: "600001"}, nil, MaxDelay},
		{"negative header", map[string]string{HeaderResponseDelay: "-5"}, nil, 0},
		{"huge variant delay", nil, &huge, MaxDelay},
		{"negative variant delay", nil, &negative, 0},
		{"at the cap", map[string]string{HeaderResponseDelay: "600000"}, nil, MaxDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v.Delay = tt.delay
			got := f.handler.resolveDelay(tt.headers, v)
			assert.Equal(t, tt.expected, got)
			assert.GreaterOrEqual(t, got, time.Duration(0))
		})
	}
}

func TestHandle_DelayDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	slow := variant(200, "slow", `{}`)
	d := 300
	slow.Delay = &d
	f.addEndpoint(t, "GET", "/slow", slow)
	f.addEndpoint(t, "GET", "/fast", variant(200, "fast", `{}`))

	go f.handler.Handle(context.Background(), get("/slow", nil))
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	f.handler.Handle(context.Background(), get("/fast", nil))
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestHandle_DelayCancelled(t *testing.T) {
	f := newFixture(t)
	slow := variant(200, "slow", `{}`)
	d := 5000
	slow.Delay = &d
	f.addEndpoint(t, "GET", "/slow", slow)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	resp := f.handler.Handle(ctx, get("/slow", nil))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Len(t, f.records(t), 1)
}

func TestHandle_EnvironmentAndVariables(t *testing.T) {
	f := newFixture(t)
	f.env["region"] = "eu-west-1"
	f.env["token"] = "abc"
	v := variant(200, "ok", `{"region":"{{region}}","at":{{$timestamp}},"unknown":"{{missing}}"}`)
	v.Headers = `{"X-Region":"{{region}}","Authorization":"Bearer {{token}}","X-Count":3,"X-Null":null}`
	f.addEndpoint(t, "GET", "/env", v)

	resp := f.handler.Handle(context.Background(), get("/env", nil))

	assert.JSONEq(t, `{"region":"eu-west-1","at":1704164645,"unknown":"{{missing}}"}`, resp.Body)
	assert.Equal(t, map[string]string{
		"X-Region":      "eu-west-1",
		"Authorization": "Bearer abc",
		"X-Count":       "3",
	}, resp.Headers)
}

func TestHandle_RecordsHeadersAndBody(t *testing.T) {
	f := newFixture(t)
	f.addEndpoint(t, "POST", "/things/{kind}", variant(201, "ok", `{}`))

	f.handler.Handle(context.Background(), Request{
		Method:  "post",
		URL:     "/things/widget?dry=1",
		Body:    []any{1, 2},
		Headers: map[string]string{"content-type": "application/json"},
	})

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "POST", recs[0].Method)
	assert.Equal(t, "/things/widget?dry=1", recs[0].Path)
	assert.JSONEq(t, `{"_body":[1,2],"_pathParams":{"kind":"widget"}}`, recs[0].BodyOrParams)

	var headers map[string]string
	require.NoError(t, json.Unmarshal([]byte(recs[0].RequestHeaders), &headers))
	assert.Equal(t, "application/json", headers["content-type"])
}

func TestHandle_NotifiesObservers(t *testing.T) {
	f := newFixture(t)
	ep := f.addEndpoint(t, "GET", "/seen", variant(200, "ok", `{}`))
	obs := &captureObserver{}
	f.handler.Observe(obs)

	f.handler.Handle(context.Background(), get("/seen", nil))
	f.handler.Handle(context.Background(), get("/unseen", nil))

	require.Len(t, obs.obs, 2)
	assert.Equal(t, ep.ID, obs.obs[0].EndpointID)
	assert.Equal(t, 200, obs.obs[0].StatusCode)
	assert.Empty(t, obs.obs[1].EndpointID)
	assert.Equal(t, 404, obs.obs[1].StatusCode)
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected map[string]string
	}{
		{"empty", "", map[string]string{}},
		{"empty object", "{}", map[string]string{}},
		{"invalid json", "{not json", map[string]string{}},
		{"array", `["a"]`, map[string]string{}},
		{"strings", `{"X-A":"1","Content-Type":"text/plain"}`, map[string]string{"X-A": "1", "Content-Type": "text/plain"}},
		{"non-strings", `{"X-N":42,"X-B":true,"X-O":{"a":1}}`, map[string]string{"X-N": "42", "X-B": "true", "X-O": `{"a":1}`}},
		{"null dropped", `{"X-Null":null}`, map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseHeaders(tt.raw))
		})
	}
}

// blockingStore holds every history append until release is closed
type blockingStore struct {
	*storage.MemoryStorage
	release chan struct{}
}

func (s *blockingStore) AppendRecord(rec *models.RequestRecord) error {
	<-s.release
	return s.MemoryStorage.AppendRecord(rec)
}

func TestHandle_DoesNotWaitForHistoryStore(t *testing.T) {
	f := newFixture(t)
	f.addEndpoint(t, "GET", "/fast", variant(200, "ok", `{"ok":true}`))

	slow := &blockingStore{MemoryStorage: f.store, release: make(chan struct{})}
	hist := history.NewService(slow, nil, logging.Discard())
	f.handler.history = hist

	start := time.Now()
	resp := f.handler.Handle(context.Background(), get("/fast", nil))
	elapsed := time.Since(start)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Less(t, elapsed, 200*time.Millisecond, "response waited for history storage")

	close(slow.release)
	hist.Close()
	assert.Len(t, f.records(t), 1)
}
