package portability

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/samber/lo"

	"github.com/prasenjit/mockpit/internal/models"
)

// maxSchemaDepth bounds example generation for recursive schemas
const maxSchemaDepth = 6

// FromOpenAPI converts an OpenAPI 3 description into an import document.
// Every operation with a supported method becomes an endpoint, every
// documented response with a numeric status becomes a variant. Endpoints
// are grouped into one collection per first tag; untagged ones go to a
// collection named after the API.
func FromOpenAPI(content []byte, basePath string) (*Document, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OpenAPI spec: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI spec: %w", err)
	}

	title := "OpenAPI import"
	if doc.Info != nil && strings.TrimSpace(doc.Info.Title) != "" {
		title = doc.Info.Title
	}

	out := &Document{
		Version:     DocumentVersion,
		ExportedAt:  time.Now().UTC(),
		Endpoints:   []Endpoint{},
		Collections: []Collection{},
	}
	groups := map[string]int{} // collection name -> index in out.Collections

	base := normalizeBasePath(basePath)
	for _, pathPattern := range sortedPaths(doc.Paths) {
		item := doc.Paths.Value(pathPattern)
		if item == nil {
			continue
		}

		for _, method := range models.ValidMethods() {
			op := item.GetOperation(method)
			if op == nil {
				continue
			}

			ep := Endpoint{
				Method:             method,
				Path:               models.NormalizePath(base + pathPattern),
				Name:               operationName(op, method, pathPattern),
				QueryParams:        parameterRows(item.Parameters, op.Parameters, openapi3.ParameterInQuery),
				RequestHeaders:     parameterRows(item.Parameters, op.Parameters, openapi3.ParameterInHeader),
				ResponseVariants:   responseVariants(op),
				ActiveVariantIndex: 0,
			}
			if body := requestBodyExample(op); body != "" {
				ep.RequestBodyContentType = "application/json"
				ep.RequestBodyRaw = body
			}
			if _, idx, ok := lo.FindIndexOf(ep.ResponseVariants, func(v Variant) bool {
				return v.StatusCode >= 200 && v.StatusCode < 300
			}); ok {
				ep.ActiveVariantIndex = idx
			}

			group := title
			if len(op.Tags) > 0 && strings.TrimSpace(op.Tags[0]) != "" {
				group = op.Tags[0]
			}
			ci, ok := groups[group]
			if !ok {
				ci = len(out.Collections)
				groups[group] = ci
				out.Collections = append(out.Collections, Collection{Name: group, SortOrder: ci, EndpointIndices: []int{}})
			}
			out.Collections[ci].EndpointIndices = append(out.Collections[ci].EndpointIndices, len(out.Endpoints))
			out.Endpoints = append(out.Endpoints, ep)
		}
	}

	return out, nil
}

func sortedPaths(paths *openapi3.Paths) []string {
	if paths == nil {
		return nil
	}
	keys := lo.Keys(paths.Map())
	sort.Strings(keys)
	return keys
}

func operationName(op *openapi3.Operation, method, pathPattern string) string {
	switch {
	case strings.TrimSpace(op.Summary) != "":
		return op.Summary
	case op.OperationID != "":
		return op.OperationID
	default:
		return fmt.Sprintf("%s_%s", strings.ToLower(method), sanitizePath(pathPattern))
	}
}

// parameterRows turns documented parameters of one location into
// documentation rows. Operation parameters override path item ones.
func parameterRows(shared, own openapi3.Parameters, in string) []Row {
	byName := map[string]*openapi3.Parameter{}
	var order []string
	for _, ref := range append(append(openapi3.Parameters{}, shared...), own...) {
		if ref == nil || ref.Value == nil || ref.Value.In != in {
			continue
		}
		if _, seen := byName[ref.Value.Name]; !seen {
			order = append(order, ref.Value.Name)
		}
		byName[ref.Value.Name] = ref.Value
	}

	rows := make([]Row, 0, len(order))
	for i, name := range order {
		p := byName[name]
		value := ""
		switch {
		case p.Example != nil:
			value = formatExample(p.Example)
		case p.Schema != nil && p.Schema.Value != nil && p.Schema.Value.Example != nil:
			value = formatExample(p.Schema.Value.Example)
		}
		rows = append(rows, Row{Key: name, Value: value, IsEnabled: p.Required, SortOrder: i})
	}
	return rows
}

func responseVariants(op *openapi3.Operation) []Variant {
	if op.Responses == nil {
		return defaultVariants()
	}

	type coded struct {
		status int
		ref    *openapi3.ResponseRef
	}
	var responses []coded
	for code, ref := range op.Responses.Map() {
		status, err := strconv.Atoi(code)
		if err != nil || status < 100 || status > 599 || ref == nil || ref.Value == nil {
			continue
		}
		responses = append(responses, coded{status, ref})
	}
	if len(responses) == 0 {
		return defaultVariants()
	}
	sort.Slice(responses, func(i, j int) bool { return responses[i].status < responses[j].status })

	variants := make([]Variant, len(responses))
	for i, r := range responses {
		headers, body := exampleResponse(r.ref.Value)
		description := http.StatusText(r.status)
		if r.ref.Value.Description != nil && strings.TrimSpace(*r.ref.Value.Description) != "" {
			description = *r.ref.Value.Description
		}
		variants[i] = Variant{
			StatusCode:  r.status,
			Description: description,
			Body:        body,
			Headers:     headers,
			SortOrder:   i,
		}
	}
	return variants
}

func defaultVariants() []Variant {
	return []Variant{{
		StatusCode:  http.StatusOK,
		Description: models.DefaultVariantDescription,
		Body:        models.DefaultVariantBody,
		Headers:     models.DefaultVariantHeaders,
	}}
}

// exampleResponse returns the header JSON and body of a documented
// response, preferring explicit examples over schema-generated ones
func exampleResponse(resp *openapi3.Response) (string, string) {
	headers := map[string]string{}
	for name, header := range resp.Headers {
		if header == nil || header.Value == nil {
			continue
		}
		switch {
		case header.Value.Example != nil:
			headers[name] = formatExample(header.Value.Example)
		case header.Value.Schema != nil && header.Value.Schema.Value != nil && header.Value.Schema.Value.Example != nil:
			headers[name] = formatExample(header.Value.Schema.Value.Example)
		}
	}

	body := ""
	if mediaType, content := jsonContent(resp.Content); content != nil {
		headers["Content-Type"] = mediaType
		body = mediaExample(content)
	}

	encoded, err := json.Marshal(headers)
	if err != nil {
		return models.DefaultVariantHeaders, body
	}
	return string(encoded), body
}

func requestBodyExample(op *openapi3.Operation) string {
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return ""
	}
	_, content := jsonContent(op.RequestBody.Value.Content)
	if content == nil {
		return ""
	}
	return mediaExample(content)
}

// jsonContent picks the first JSON media type in name order
func jsonContent(content openapi3.Content) (string, *openapi3.MediaType) {
	types := lo.Keys(content)
	sort.Strings(types)
	for _, mediaType := range types {
		if strings.Contains(mediaType, "json") && content[mediaType] != nil {
			return mediaType, content[mediaType]
		}
	}
	return "", nil
}

func mediaExample(content *openapi3.MediaType) string {
	if content.Example != nil {
		return formatExample(content.Example)
	}
	if len(content.Examples) > 0 {
		names := lo.Keys(content.Examples)
		sort.Strings(names)
		for _, name := range names {
			if ex := content.Examples[name]; ex != nil && ex.Value != nil && ex.Value.Value != nil {
				return formatExample(ex.Value.Value)
			}
		}
	}
	if content.Schema != nil && content.Schema.Value != nil {
		return formatExample(exampleFromSchema(content.Schema.Value, 0))
	}
	return ""
}

// formatExample converts an example value to a JSON string. Strings are
// kept as they are.
func formatExample(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		if data, err := json.Marshal(val); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", val)
	}
}

// exampleFromSchema builds a placeholder value for a schema
func exampleFromSchema(schema *openapi3.Schema, depth int) any {
	if schema.Example != nil {
		return schema.Example
	}
	if len(schema.Enum) > 0 {
		return schema.Enum[0]
	}
	if depth >= maxSchemaDepth {
		return nil
	}

	if len(schema.AllOf) > 0 {
		merged := map[string]any{}
		for _, ref := range schema.AllOf {
			if ref == nil || ref.Value == nil {
				continue
			}
			if obj, ok := exampleFromSchema(ref.Value, depth+1).(map[string]any); ok {
				for k, v := range obj {
					merged[k] = v
				}
			}
		}
		return merged
	}
	for _, alternatives := range []openapi3.SchemaRefs{schema.OneOf, schema.AnyOf} {
		if len(alternatives) > 0 && alternatives[0] != nil && alternatives[0].Value != nil {
			return exampleFromSchema(alternatives[0].Value, depth+1)
		}
	}

	switch {
	case schema.Type.Is(openapi3.TypeObject) || (schema.Type == nil && len(schema.Properties) > 0):
		obj := make(map[string]any, len(schema.Properties))
		for name, prop := range schema.Properties {
			if prop != nil && prop.Value != nil {
				obj[name] = exampleFromSchema(prop.Value, depth+1)
			}
		}
		return obj
	case schema.Type.Is(openapi3.TypeArray):
		if schema.Items == nil || schema.Items.Value == nil {
			return []any{}
		}
		return []any{exampleFromSchema(schema.Items.Value, depth+1)}
	case schema.Type.Is(openapi3.TypeString):
		return stringExample(schema.Format)
	case schema.Type.Is(openapi3.TypeInteger):
		return 0
	case schema.Type.Is(openapi3.TypeNumber):
		return 0.0
	case schema.Type.Is(openapi3.TypeBoolean):
		return false
	default:
		return nil
	}
}

func stringExample(format string) string {
	switch format {
	case "date-time":
		return "2024-01-01T00:00:00Z"
	case "date":
		return "2024-01-01"
	case "uuid":
		return "00000000-0000-0000-0000-000000000000"
	case "email":
		return "user@example.com"
	case "uri", "url":
		return "https://example.com"
	default:
		return "string"
	}
}

// normalizeBasePath ensures a leading slash and no trailing slash
func normalizeBasePath(basePath string) string {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return ""
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	return strings.TrimRight(basePath, "/")
}

// sanitizePath converts a path to a valid identifier
func sanitizePath(pathPattern string) string {
	result := strings.NewReplacer("{", "", "}", "", "/", "_").Replace(pathPattern)
	return strings.Trim(result, "_")
}
