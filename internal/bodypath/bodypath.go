// Package bodypath resolves dot-separated paths into JSON request bodies.
package bodypath

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Encode returns the JSON text of a parsed request body. Values that cannot
// be encoded yield an empty string, which never resolves any path.
func Encode(body any) string {
	if body == nil {
		return ""
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return string(data)
}

// Get looks up a dot path such as "user.address.city" in JSON text. Every
// segment is taken literally, so gjson wildcards and modifiers are not
// interpreted. Array elements are addressed by index ("items.0.id").
func Get(body, path string) gjson.Result {
	if body == "" || path == "" {
		return gjson.Result{}
	}

	segments := strings.Split(path, ".")
	for i, seg := range segments {
		segments[i] = gjson.Escape(seg)
	}
	return gjson.Get(body, strings.Join(segments, "."))
}

// Lookup returns the string form of the value at path. ok is false when the
// path is missing. A JSON null is present but renders as an empty string;
// objects and arrays render as compact JSON.
func Lookup(body, path string) (value string, ok bool) {
	res := Get(body, path)
	if !res.Exists() {
		return "", false
	}
	if res.Type == gjson.Null {
		return "", true
	}
	return res.String(), true
}
