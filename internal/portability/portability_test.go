package portability

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasenjit/mockpit/internal/events"
	"github.com/prasenjit/mockpit/internal/logging"
	"github.com/prasenjit/mockpit/internal/models"
	"github.com/prasenjit/mockpit/internal/registry"
	"github.com/prasenjit/mockpit/internal/storage"
)

type captureBroadcaster struct {
	mu    sync.Mutex
	names []string
	data  []any
}

func (c *captureBroadcaster) Broadcast(name string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
	c.data = append(c.data, data)
}

type fixture struct {
	store  *storage.MemoryStorage
	routes *registry.Registry
	bc     *captureBroadcaster
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStorage(0)
	routes := registry.New(store)
	bc := &captureBroadcaster{}
	return &fixture{
		store:  store,
		routes: routes,
		bc:     bc,
		svc:    NewService(store, routes, bc, logging.Discard()),
	}
}

func (f *fixture) seed(t *testing.T, method, path string, variants ...models.ResponseVariant) *models.Endpoint {
	t.Helper()
	id := method + path
	for i := range variants {
		variants[i].ID = id + "-v" + string(rune('0'+i))
		variants[i].SortOrder = i
	}
	ep := &models.Endpoint{
		ID:               id,
		Method:           method,
		Path:             path,
		IsEnabled:        true,
		ResponseVariants: variants,
	}
	if len(variants) > 0 {
		ep.ActiveVariantID = &variants[len(variants)-1].ID
	}
	require.NoError(t, f.store.CreateEndpoint(ep))
	stored, err := f.store.GetEndpoint(id)
	require.NoError(t, err)
	return stored
}

func (f *fixture) seedCollection(t *testing.T, name string, endpointIDs ...string) *models.Collection {
	t.Helper()
	c := &models.Collection{ID: "c-" + name, Name: name, IsExpanded: true}
	all, err := f.store.GetAllCollections()
	require.NoError(t, err)
	c.SortOrder = len(all)
	require.NoError(t, f.store.CreateCollection(c))
	for _, id := range endpointIDs {
		require.NoError(t, f.store.AddEndpointToCollection(c.ID, id, -1))
	}
	return c
}

func delay(ms int) *int { return &ms }

func TestExport_All(t *testing.T) {
	f := newFixture(t)
	users := f.seed(t, "GET", "/users",
		models.ResponseVariant{StatusCode: 200, Description: "ok", Body: `[]`, Headers: "{}"},
		models.ResponseVariant{StatusCode: 500, Description: "boom", Body: `{}`, Headers: "{}", Delay: delay(100)},
	)
	orders := f.seed(t, "POST", "/orders", models.ResponseVariant{StatusCode: 201, Description: "created"})
	f.seedCollection(t, "Shop", orders.ID, users.ID)

	doc, err := f.svc.Export(nil)
	require.NoError(t, err)

	assert.Equal(t, DocumentVersion, doc.Version)
	require.Len(t, doc.Endpoints, 2)
	require.Len(t, doc.Collections, 1)

	byPath := map[string]int{}
	for i, ep := range doc.Endpoints {
		byPath[ep.Path] = i
	}
	exported := doc.Endpoints[byPath["/users"]]
	assert.Equal(t, 1, exported.ActiveVariantIndex)
	require.Len(t, exported.ResponseVariants, 2)
	assert.Equal(t, 100, *exported.ResponseVariants[1].Delay)
	assert.True(t, *exported.IsEnabled)

	assert.Equal(t, []int{byPath["/orders"], byPath["/users"]}, doc.Collections[0].EndpointIndices)
}

func TestExport_ByCollection(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, "GET", "/a", models.ResponseVariant{StatusCode: 200})
	b := f.seed(t, "GET", "/b", models.ResponseVariant{StatusCode: 200})
	f.seed(t, "GET", "/c", models.ResponseVariant{StatusCode: 200})
	first := f.seedCollection(t, "First", a.ID)
	f.seedCollection(t, "Second", b.ID)

	doc, err := f.svc.Export([]string{first.ID})
	require.NoError(t, err)

	require.Len(t, doc.Endpoints, 1)
	assert.Equal(t, "/a", doc.Endpoints[0].Path)
	require.Len(t, doc.Collections, 1)
	assert.Equal(t, "First", doc.Collections[0].Name)
	assert.Equal(t, []int{0}, doc.Collections[0].EndpointIndices)
}

func importDoc(endpoints ...Endpoint) *Document {
	return &Document{Version: DocumentVersion, Endpoints: endpoints}
}

func TestImport_CreatesEndpoints(t *testing.T) {
	f := newFixture(t)
	doc := importDoc(Endpoint{
		Method: "get",
		Path:   "/users/:id/",
		ResponseVariants: []Variant{
			{StatusCode: 200, Description: "ok", Body: `{"id":"{{$pathParams 'id'}}"}`},
			{StatusCode: 404, Description: "missing", Body: `{}`},
		},
		ActiveVariantIndex: 1,
		QueryParams:        []Row{{Key: "expand", Value: "true", IsEnabled: true}},
	})

	res, err := f.svc.Import(doc, PolicySkip)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Empty(t, res.Errors)

	m, ok := f.routes.Match("GET", "/users/7")
	require.True(t, ok)
	ep := m.Endpoint
	assert.True(t, ep.IsEnabled)
	assert.Equal(t, "application/json", ep.RequestBodyContentType)
	assert.Equal(t, 404, ep.ActiveVariant().StatusCode)
	assert.Equal(t, "{}", ep.ResponseVariants[0].Headers)
	require.Len(t, ep.QueryParams, 1)
	assert.Equal(t, "expand", ep.QueryParams[0].Key)

	assert.Equal(t, []string{events.ImportCompleted}, f.bc.names)
	assert.Equal(t, res, f.bc.data[0])
}

func TestImport_InvalidMethod(t *testing.T) {
	f := newFixture(t)
	doc := importDoc(
		Endpoint{Method: "TRACE", Path: "/x"},
		Endpoint{Method: "GET", Path: "/y"},
	)

	res, err := f.svc.Import(doc, PolicySkip)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, []string{"Endpoint TRACE /x: invalid method"}, res.Errors)
}

func TestImport_RejectsOtherVersions(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Import(&Document{Version: 2}, PolicySkip)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.Empty(t, f.bc.names)
}

func TestImport_Policies(t *testing.T) {
	incoming := Endpoint{
		Method: "GET",
		Path:   "/users",
		ResponseVariants: []Variant{
			{StatusCode: 200, Description: "ok", Body: `{"new":true}`},
			{StatusCode: 503, Description: "down", Body: `{}`},
		},
	}

	t.Run("skip", func(t *testing.T) {
		f := newFixture(t)
		existing := f.seed(t, "GET", "/users", models.ResponseVariant{StatusCode: 200, Description: "ok", Body: `{"old":true}`})

		res, err := f.svc.Import(importDoc(incoming), PolicySkip)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Skipped)

		stored, err := f.store.GetEndpoint(existing.ID)
		require.NoError(t, err)
		require.Len(t, stored.ResponseVariants, 1)
		assert.Equal(t, `{"old":true}`, stored.ResponseVariants[0].Body)
	})

	t.Run("overwrite", func(t *testing.T) {
		f := newFixture(t)
		existing := f.seed(t, "GET", "/users", models.ResponseVariant{StatusCode: 200, Description: "ok", Body: `{"old":true}`})
		other := f.seed(t, "GET", "/other", models.ResponseVariant{StatusCode: 200})
		c := f.seedCollection(t, "Users", other.ID, existing.ID)

		res, err := f.svc.Import(importDoc(incoming), PolicyOverwrite)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Overwritten)

		_, err = f.store.GetEndpoint(existing.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		replaced, err := f.store.GetEndpointByRoute("GET", "/users")
		require.NoError(t, err)
		require.Len(t, replaced.ResponseVariants, 2)
		assert.Equal(t, `{"new":true}`, replaced.ActiveVariant().Body)

		stored, err := f.store.GetCollection(c.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{other.ID, replaced.ID}, stored.EndpointIDs)

		m, ok := f.routes.Match("GET", "/users")
		require.True(t, ok)
		assert.Equal(t, replaced.ID, m.Endpoint.ID)
	})

	t.Run("merge", func(t *testing.T) {
		f := newFixture(t)
		existing := f.seed(t, "GET", "/users", models.ResponseVariant{StatusCode: 200, Description: "ok", Body: `{"old":true}`})

		res, err := f.svc.Import(importDoc(incoming), PolicyMerge)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Merged)

		stored, err := f.store.GetEndpoint(existing.ID)
		require.NoError(t, err)
		require.Len(t, stored.ResponseVariants, 2)
		assert.Equal(t, `{"old":true}`, stored.ResponseVariants[0].Body)
		assert.Equal(t, 503, stored.ResponseVariants[1].StatusCode)
		assert.Equal(t, 1, stored.ResponseVariants[1].SortOrder)

		m, ok := f.routes.Match("GET", "/users")
		require.True(t, ok)
		assert.Len(t, m.Endpoint.ResponseVariants, 2)
	})
}

func TestImport_Collections(t *testing.T) {
	doc := importDoc(
		Endpoint{Method: "GET", Path: "/a", ResponseVariants: []Variant{{StatusCode: 200}}},
		Endpoint{Method: "GET", Path: "/b", ResponseVariants: []Variant{{StatusCode: 200}}},
	)
	doc.Collections = []Collection{{Name: "Shop", EndpointIndices: []int{1, 0, 7}}}

	t.Run("new collection", func(t *testing.T) {
		f := newFixture(t)

		res, err := f.svc.Import(doc, PolicySkip)
		require.NoError(t, err)
		assert.Equal(t, 1, res.CollectionsCreated)

		all, err := f.store.GetAllCollections()
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "Shop", all[0].Name)

		b, _ := f.store.GetEndpointByRoute("GET", "/b")
		a, _ := f.store.GetEndpointByRoute("GET", "/a")
		assert.Equal(t, []string{b.ID, a.ID}, all[0].EndpointIDs)
	})

	t.Run("skip links into existing", func(t *testing.T) {
		f := newFixture(t)
		a := f.seed(t, "GET", "/a", models.ResponseVariant{StatusCode: 200})
		c := f.seedCollection(t, "Shop", a.ID)

		res, err := f.svc.Import(doc, PolicySkip)
		require.NoError(t, err)
		assert.Equal(t, 1, res.CollectionsSkipped)
		assert.Zero(t, res.CollectionsCreated)

		stored, err := f.store.GetCollection(c.ID)
		require.NoError(t, err)
		b, _ := f.store.GetEndpointByRoute("GET", "/b")
		assert.Equal(t, []string{a.ID, b.ID}, stored.EndpointIDs)
	})

	t.Run("name clash gets suffix", func(t *testing.T) {
		f := newFixture(t)
		f.seedCollection(t, "Shop")

		res, err := f.svc.Import(doc, PolicyMerge)
		require.NoError(t, err)
		assert.Equal(t, 1, res.CollectionsCreated)

		all, err := f.store.GetAllCollections()
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "Shop (imported)", all[1].Name)
		assert.Equal(t, 1, all[1].SortOrder)
	})
}

func TestExportImport_RoundTripYAML(t *testing.T) {
	src := newFixture(t)
	ep := src.seed(t, "PUT", "/items/{id}",
		models.ResponseVariant{StatusCode: 200, Description: "ok", Body: `{"id":1}`, Headers: `{"X-A":"b"}`, Memo: "note"},
	)
	src.seedCollection(t, "Items", ep.ID)

	doc, err := src.svc.Export(nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, doc, FormatYAML))
	assert.True(t, strings.HasPrefix(buf.String(), "version: 1"))

	decoded, err := Decode(buf.Bytes())
	require.NoError(t, err)

	dst := newFixture(t)
	res, err := dst.svc.Import(decoded, PolicySkip)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.CollectionsCreated)

	m, ok := dst.routes.Match("PUT", "/items/9")
	require.True(t, ok)
	v := m.Endpoint.ActiveVariant()
	assert.Equal(t, `{"id":1}`, v.Body)
	assert.Equal(t, `{"X-A":"b"}`, v.Headers)
	assert.Equal(t, "note", v.Memo)
}

func TestImport_FromOpenAPI(t *testing.T) {
	f := newFixture(t)
	doc, err := FromOpenAPI([]byte(usersSpec), "/api")
	require.NoError(t, err)

	res, err := f.svc.Import(doc, PolicySkip)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Created)
	assert.Equal(t, 2, res.CollectionsCreated)

	m, ok := f.routes.Match("GET", "/api/users/15")
	require.True(t, ok)
	assert.Equal(t, "15", m.PathParams["id"])
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"json", `{"version":1,"endpoints":[]}`, nil},
		{"yaml", "version: 1\nendpoints: []\n", nil},
		{"wrong version", `{"version":2}`, ErrUnsupportedVersion},
		{"missing version", "endpoints: []\n", ErrUnsupportedVersion},
		{"garbage", `{"version":`, ErrInvalidDocument},
		{"empty", "  ", ErrInvalidDocument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Decode([]byte(tt.input))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DocumentVersion, doc.Version)
		})
	}
}

func TestParsePolicyAndFormat(t *testing.T) {
	assert.Equal(t, PolicyOverwrite, ParsePolicy("Overwrite"))
	assert.Equal(t, PolicyMerge, ParsePolicy("merge"))
	assert.Equal(t, PolicySkip, ParsePolicy("bogus"))
	assert.Equal(t, PolicySkip, ParsePolicy(""))

	format, err := ParseFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, format)
	assert.Equal(t, "application/yaml", format.ContentType())

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
