// Package template resolves response templates. Bodies go through three
// stages in a fixed order: environment variables, request-context helpers,
// then dynamic variables. Text produced by one stage is never rescanned by
// a later one.
package template

// Pipeline renders response bodies and headers
type Pipeline struct {
	generator *Generator
}

// NewPipeline creates a pipeline using generator for dynamic variables
func NewPipeline(generator *Generator) *Pipeline {
	if generator == nil {
		generator = NewGenerator()
	}
	return &Pipeline{generator: generator}
}

// RenderBody resolves all three placeholder kinds in a body template
func (p *Pipeline) RenderBody(body string, env map[string]string, req *RequestContext) string {
	s := newSegments(body)
	s = resolveEnv(s, env)
	s = resolveHelpers(s, req)
	s = p.generator.resolve(s)
	return s.String()
}

// RenderHeaders resolves environment variables in every header value
func (p *Pipeline) RenderHeaders(headers map[string]string, env map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		out[name] = ResolveEnv(value, env)
	}
	return out
}
