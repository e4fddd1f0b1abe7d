package template

import "regexp"

// envPattern matches {{name}}. Names never start with $, which keeps helpers
// and dynamic variables out of this stage.
var envPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}`)

// ResolveEnv replaces {{name}} placeholders with environment variables.
// Unknown names are left untouched.
func ResolveEnv(template string, vars map[string]string) string {
	return resolveEnv(newSegments(template), vars).String()
}

func resolveEnv(s segments, vars map[string]string) segments {
	if len(vars) == 0 {
		return s
	}
	return s.substitute(envPattern, func(match []string) (string, bool) {
		value, ok := vars[match[1]]
		return value, ok
	})
}
