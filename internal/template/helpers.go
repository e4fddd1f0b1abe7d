package template

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/prasenjit/mockpit/internal/bodypath"
)

// Helper is a request-context placeholder kind
type Helper int

const (
	HelperBody Helper = iota + 1
	HelperQueryParams
	HelperPathSegments
	HelperHeaders
	HelperPathParams
)

var helperNames = map[string]Helper{
	"$body":         HelperBody,
	"$queryParams":  HelperQueryParams,
	"$pathSegments": HelperPathSegments,
	"$headers":      HelperHeaders,
	"$pathParams":   HelperPathParams,
}

// ParseHelper returns the helper named name, including its $ prefix
func ParseHelper(name string) (Helper, bool) {
	h, ok := helperNames[name]
	return h, ok
}

func (h Helper) String() string {
	for name, helper := range helperNames {
		if helper == h {
			return name
		}
	}
	return "unknown"
}

// helperPattern matches {{$helper 'arg'}} and {{$helper 'arg' 'default'}}
// with single or double quotes.
var helperPattern = regexp.MustCompile(`\{\{\s*(\$\w+)\s+['"]([^'"]*)['"]\s*(?:['"]([^'"]*)['"]\s*)?\}\}`)

// RequestContext is the live request data helpers resolve against
type RequestContext struct {
	Body         string            // JSON text of the parsed body
	QueryParams  map[string]string // Last value wins for repeated keys
	PathSegments []string
	Headers      map[string]string // Keys are lowercased
	PathParams   map[string]string
}

// NewRequestContext builds a context from the raw request URL
func NewRequestContext(rawURL string, body any, headers, pathParams map[string]string) *RequestContext {
	lowered := make(map[string]string, len(headers))
	for k, v := range headers {
		lowered[strings.ToLower(k)] = v
	}
	if pathParams == nil {
		pathParams = map[string]string{}
	}

	return &RequestContext{
		Body:         bodypath.Encode(body),
		QueryParams:  ParseQuery(rawURL),
		PathSegments: PathSegments(rawURL),
		Headers:      lowered,
		PathParams:   pathParams,
	}
}

// ParseQuery extracts query parameters from a URL. Undecodable pairs are kept raw.
func ParseQuery(rawURL string) map[string]string {
	params := make(map[string]string)
	idx := strings.IndexByte(rawURL, '?')
	if idx < 0 {
		return params
	}

	for _, pair := range strings.Split(rawURL[idx+1:], "&") {
		key, value, _ := strings.Cut(pair, "=")
		if key == "" {
			continue
		}
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		params[key] = value
	}
	return params
}

// PathSegments splits the path part of a URL into its non-empty segments
func PathSegments(rawURL string) []string {
	path, _, _ := strings.Cut(rawURL, "?")
	segments := make([]string, 0)
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}

// lookup returns the value the helper finds for arg
func (h Helper) lookup(ctx *RequestContext, arg string) (string, bool) {
	switch h {
	case HelperBody:
		return bodypath.Lookup(ctx.Body, arg)
	case HelperQueryParams:
		v, ok := ctx.QueryParams[arg]
		return v, ok
	case HelperPathSegments:
		idx, err := strconv.Atoi(arg)
		if err != nil || idx < 0 || idx >= len(ctx.PathSegments) {
			return "", false
		}
		return ctx.PathSegments[idx], true
	case HelperHeaders:
		v, ok := ctx.Headers[strings.ToLower(arg)]
		return v, ok
	case HelperPathParams:
		v, ok := ctx.PathParams[arg]
		return v, ok
	}
	return "", false
}

// ResolveHelpers replaces request-context helper placeholders. Unknown helper
// names are left untouched; a missing value without default becomes empty.
func ResolveHelpers(template string, ctx *RequestContext) string {
	return resolveHelpers(newSegments(template), ctx).String()
}

func resolveHelpers(s segments, ctx *RequestContext) segments {
	if ctx == nil {
		ctx = &RequestContext{}
	}
	return s.substitute(helperPattern, func(match []string) (string, bool) {
		helper, ok := ParseHelper(match[1])
		if !ok {
			return "", false
		}
		arg, fallback := match[2], match[3]
		return firstOf(
			func() (string, bool) { return helper.lookup(ctx, arg) },
			func() (string, bool) { return fallback, true },
		), true
	})
}

// firstOf returns the first result a resolver reports as found, or ""
func firstOf(resolvers ...func() (string, bool)) string {
	for _, resolve := range resolvers {
		if v, ok := resolve(); ok {
			return v
		}
	}
	return ""
}
