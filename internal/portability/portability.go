package portability

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/prasenjit/mockpit/internal/events"
	"github.com/prasenjit/mockpit/internal/models"
	"github.com/prasenjit/mockpit/internal/storage"
)

// Policy decides what happens to an imported endpoint whose route exists
type Policy string

// Conflict policies
const (
	PolicySkip      Policy = "skip"
	PolicyOverwrite Policy = "overwrite"
	PolicyMerge     Policy = "merge" // Adds variants whose status and description are new
)

// ParsePolicy returns the named policy, falling back to skip
func ParsePolicy(name string) Policy {
	switch p := Policy(strings.ToLower(strings.TrimSpace(name))); p {
	case PolicyOverwrite, PolicyMerge:
		return p
	default:
		return PolicySkip
	}
}

const importedSuffix = " (imported)"

// Result summarises an import
type Result struct {
	Created            int      `json:"created"`
	Skipped            int      `json:"skipped"`
	Overwritten        int      `json:"overwritten"`
	Merged             int      `json:"merged"`
	CollectionsCreated int      `json:"collectionsCreated"`
	CollectionsSkipped int      `json:"collectionsSkipped"`
	Errors             []string `json:"errors"`
}

// Reloader rebuilds the route table after an import
type Reloader interface {
	Reload() error
}

// Service exports and imports mock definitions
type Service struct {
	store  storage.Storage
	routes Reloader
	bc     events.Broadcaster
	log    logrus.FieldLogger
	now    func() time.Time

	mu sync.Mutex
}

// NewService creates the import/export service
func NewService(store storage.Storage, routes Reloader, bc events.Broadcaster, log logrus.FieldLogger) *Service {
	if bc == nil {
		bc = events.Discard{}
	}
	return &Service{
		store:  store,
		routes: routes,
		bc:     bc,
		log:    log.WithField("component", "portability"),
		now:    time.Now,
	}
}

// Export builds a document of all endpoints, or only of those belonging to
// the given collections
func (s *Service) Export(collectionIDs []string) (*Document, error) {
	endpoints, err := s.store.GetAllEndpoints()
	if err != nil {
		return nil, fmt.Errorf("loading endpoints: %w", err)
	}
	collections, err := s.store.GetAllCollections()
	if err != nil {
		return nil, fmt.Errorf("loading collections: %w", err)
	}

	if len(collectionIDs) > 0 {
		collections = lo.Filter(collections, func(c *models.Collection, _ int) bool {
			return lo.Contains(collectionIDs, c.ID)
		})
		included := lo.FlatMap(collections, func(c *models.Collection, _ int) []string {
			return c.EndpointIDs
		})
		endpoints = lo.Filter(endpoints, func(ep *models.Endpoint, _ int) bool {
			return lo.Contains(included, ep.ID)
		})
	}

	index := make(map[string]int, len(endpoints))
	doc := &Document{
		Version:     DocumentVersion,
		ExportedAt:  s.now().UTC(),
		Endpoints:   make([]Endpoint, len(endpoints)),
		Collections: make([]Collection, len(collections)),
	}
	for i, ep := range endpoints {
		index[ep.ID] = i
		doc.Endpoints[i] = exportEndpoint(ep)
	}
	for i, c := range collections {
		indices := lo.FilterMap(c.EndpointIDs, func(id string, _ int) (int, bool) {
			idx, ok := index[id]
			return idx, ok
		})
		doc.Collections[i] = Collection{Name: c.Name, SortOrder: c.SortOrder, EndpointIndices: indices}
	}
	return doc, nil
}

func exportEndpoint(ep *models.Endpoint) Endpoint {
	enabled := ep.IsEnabled
	active := 0
	if ep.ActiveVariantID != nil {
		if _, idx, ok := lo.FindIndexOf(ep.ResponseVariants, func(v models.ResponseVariant) bool {
			return v.ID == *ep.ActiveVariantID
		}); ok {
			active = idx
		}
	}

	return Endpoint{
		Method:                 ep.Method,
		Path:                   ep.Path,
		Name:                   ep.Name,
		IsEnabled:              &enabled,
		RequestBodyContentType: ep.RequestBodyContentType,
		RequestBodyRaw:         ep.RequestBodyRaw,
		QueryParams:            exportRows(ep.QueryParams),
		RequestHeaders:         exportRows(ep.RequestHeaders),
		ResponseVariants: lo.Map(ep.ResponseVariants, func(v models.ResponseVariant, _ int) Variant {
			return Variant{
				StatusCode:  v.StatusCode,
				Description: v.Description,
				Body:        v.Body,
				Headers:     v.Headers,
				Delay:       v.Delay,
				Memo:        v.Memo,
				SortOrder:   v.SortOrder,
				MatchRules:  v.MatchRules,
			}
		}),
		ActiveVariantIndex: active,
	}
}

func exportRows(rows []models.KeyValueRow) []Row {
	return lo.Map(rows, func(r models.KeyValueRow, _ int) Row {
		return Row{Key: r.Key, Value: r.Value, IsEnabled: r.IsEnabled, SortOrder: r.SortOrder}
	})
}

// Import stores the document's endpoints and collections and rebuilds the
// route table. Per-entry failures are reported in Result.Errors.
func (s *Service) Import(doc *Document, policy Policy) (*Result, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := &Result{Errors: []string{}}
	imported := make(map[int]string, len(doc.Endpoints))

	for i, in := range doc.Endpoints {
		id, err := s.importEndpoint(in, policy, res)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("Endpoint %s %s: %v", in.Method, in.Path, err))
			continue
		}
		imported[i] = id
	}

	for _, c := range doc.Collections {
		if err := s.importCollection(c, policy, imported, res); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("Collection %s: %v", c.Name, err))
		}
	}

	if err := s.routes.Reload(); err != nil {
		return res, fmt.Errorf("reloading routes: %w", err)
	}
	s.bc.Broadcast(events.ImportCompleted, res)

	s.log.WithFields(logrus.Fields{
		"created":     res.Created,
		"skipped":     res.Skipped,
		"overwritten": res.Overwritten,
		"merged":      res.Merged,
		"errors":      len(res.Errors),
	}).Info("Import completed")
	return res, nil
}

func (s *Service) importEndpoint(in Endpoint, policy Policy, res *Result) (string, error) {
	method := strings.ToUpper(strings.TrimSpace(in.Method))
	if !models.IsValidMethod(method) {
		return "", errors.New("invalid method")
	}
	in.Method = method
	in.Path = models.NormalizePath(strings.TrimSpace(in.Path))

	existing, err := s.store.GetEndpointByRoute(in.Method, in.Path)
	if errors.Is(err, storage.ErrNotFound) {
		id, err := s.createEndpoint(in)
		if err != nil {
			return "", err
		}
		res.Created++
		return id, nil
	}
	if err != nil {
		return "", err
	}

	switch policy {
	case PolicyOverwrite:
		id, err := s.overwriteEndpoint(existing, in)
		if err != nil {
			return "", err
		}
		res.Overwritten++
		return id, nil
	case PolicyMerge:
		if err := s.mergeVariants(existing, in.ResponseVariants); err != nil {
			return "", err
		}
		res.Merged++
		return existing.ID, nil
	default:
		res.Skipped++
		return existing.ID, nil
	}
}

func (s *Service) createEndpoint(in Endpoint) (string, error) {
	now := s.now().UTC()
	id := uuid.New().String()

	ep := &models.Endpoint{
		ID:                     id,
		Method:                 in.Method,
		Path:                   in.Path,
		Name:                   in.Name,
		IsEnabled:              in.IsEnabled == nil || *in.IsEnabled,
		RequestBodyContentType: lo.Ternary(in.RequestBodyContentType == "", "application/json", in.RequestBodyContentType),
		RequestBodyRaw:         in.RequestBodyRaw,
		CreatedAt:              now,
		UpdatedAt:              now,
		QueryParams:            importRows(id, in.QueryParams),
		RequestHeaders:         importRows(id, in.RequestHeaders),
		ResponseVariants: lo.Map(in.ResponseVariants, func(v Variant, _ int) models.ResponseVariant {
			return importVariant(id, v, v.SortOrder)
		}),
	}
	if len(ep.ResponseVariants) > 0 {
		active := in.ActiveVariantIndex
		if active < 0 || active >= len(ep.ResponseVariants) {
			active = 0
		}
		ep.ActiveVariantID = &ep.ResponseVariants[active].ID
	}

	if err := s.store.CreateEndpoint(ep); err != nil {
		return "", err
	}
	return id, nil
}

func importRows(endpointID string, rows []Row) []models.KeyValueRow {
	return lo.Map(rows, func(r Row, _ int) models.KeyValueRow {
		return models.KeyValueRow{
			ID:         uuid.New().String(),
			EndpointID: endpointID,
			Key:        r.Key,
			Value:      r.Value,
			IsEnabled:  r.IsEnabled,
			SortOrder:  r.SortOrder,
		}
	})
}

func importVariant(endpointID string, v Variant, sortOrder int) models.ResponseVariant {
	return models.ResponseVariant{
		ID:          uuid.New().String(),
		EndpointID:  endpointID,
		StatusCode:  lo.Ternary(v.StatusCode == 0, http.StatusOK, v.StatusCode),
		Description: v.Description,
		Body:        v.Body,
		Headers:     lo.Ternary(strings.TrimSpace(v.Headers) == "", models.DefaultVariantHeaders, v.Headers),
		Delay:       v.Delay,
		Memo:        v.Memo,
		SortOrder:   sortOrder,
		MatchRules:  models.NormalizeMatchRules(v.MatchRules),
	}
}

// overwriteEndpoint replaces an endpoint and links the replacement into the
// collections, and at the positions, the old one had
func (s *Service) overwriteEndpoint(existing *models.Endpoint, in Endpoint) (string, error) {
	collections, err := s.store.GetAllCollections()
	if err != nil {
		return "", err
	}
	type membership struct {
		collectionID string
		position     int
	}
	var memberships []membership
	for _, c := range collections {
		if pos := lo.IndexOf(c.EndpointIDs, existing.ID); pos >= 0 {
			memberships = append(memberships, membership{c.ID, pos})
		}
	}

	if err := s.store.DeleteEndpoint(existing.ID); err != nil {
		return "", err
	}
	id, err := s.createEndpoint(in)
	if err != nil {
		return "", err
	}
	for _, m := range memberships {
		if err := s.store.AddEndpointToCollection(m.collectionID, id, m.position); err != nil {
			s.log.WithError(err).WithField("collection", m.collectionID).Warn("Could not relink overwritten endpoint")
		}
	}
	return id, nil
}

func variantKey(status int, description string) string {
	return fmt.Sprintf("%d:%s", status, description)
}

func (s *Service) mergeVariants(existing *models.Endpoint, variants []Variant) error {
	known := lo.SliceToMap(existing.ResponseVariants, func(v models.ResponseVariant) (string, struct{}) {
		return variantKey(v.StatusCode, v.Description), struct{}{}
	})
	next := len(existing.ResponseVariants)
	for _, v := range existing.ResponseVariants {
		next = max(next, v.SortOrder+1)
	}

	for _, v := range variants {
		key := variantKey(lo.Ternary(v.StatusCode == 0, http.StatusOK, v.StatusCode), v.Description)
		if _, ok := known[key]; ok {
			continue
		}
		variant := importVariant(existing.ID, v, next)
		if err := s.store.CreateVariant(&variant); err != nil {
			return err
		}
		known[key] = struct{}{}
		next++
	}
	return nil
}

func (s *Service) importCollection(in Collection, policy Policy, imported map[int]string, res *Result) error {
	all, err := s.store.GetAllCollections()
	if err != nil {
		return err
	}
	endpointIDs := lo.FilterMap(in.EndpointIndices, func(idx int, _ int) (string, bool) {
		id, ok := imported[idx]
		return id, ok
	})

	existing, found := lo.Find(all, func(c *models.Collection) bool { return c.Name == in.Name })
	if found && policy == PolicySkip {
		for _, id := range endpointIDs {
			if existing.HasEndpoint(id) {
				continue
			}
			if err := s.store.AddEndpointToCollection(existing.ID, id, -1); err != nil {
				return err
			}
			existing.EndpointIDs = append(existing.EndpointIDs, id)
		}
		res.CollectionsSkipped++
		return nil
	}

	c := &models.Collection{
		ID:          uuid.New().String(),
		Name:        lo.Ternary(found, in.Name+importedSuffix, in.Name),
		IsExpanded:  true,
		SortOrder:   len(all),
		CreatedAt:   s.now().UTC(),
		EndpointIDs: []string{},
	}
	if err := s.store.CreateCollection(c); err != nil {
		return err
	}
	for _, id := range lo.Uniq(endpointIDs) {
		if err := s.store.AddEndpointToCollection(c.ID, id, -1); err != nil {
			return err
		}
	}
	res.CollectionsCreated++
	return nil
}
