package rules

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/lunaform/switchboard/internal/types"
)

/*
 * Dot-path resolution for event payloads.
 *
 * Resolves paths like "message.status" through nested objects and arrays.
 * Numeric segments index into arrays. When a traversed value is itself a
 * string and the path continues, the string is opportunistically re-parsed
 * as JSON before descending further; nested transport payloads frequently
 * arrive as encoded strings. A string that does not parse yields "not
 * found" rather than an error.
 *
 * Enforces MaxPathDepth (16) at resolution time.
 */

// Resolve traverses payload following the dot-separated path.
// Returns ErrFieldNotFound when the path does not exist and ErrPathTooDeep
// when it exceeds MaxPathDepth.
func Resolve(path string, payload types.Payload) (any, error) {
	segments := strings.Split(path, ".")
	if len(segments) > types.MaxPathDepth {
		return nil, types.ErrPathTooDeep
	}
	return resolveSegments(segments, map[string]any(payload))
}

func resolveSegments(segments []string, current any) (any, error) {
	if len(segments) == 0 {
		return current, nil
	}

	seg := segments[0]
	remaining := segments[1:]

	switch v := current.(type) {
	case map[string]any:
		val, ok := v[seg]
		if !ok {
			return nil, types.ErrFieldNotFound
		}
		return resolveSegments(remaining, val)

	case types.Payload:
		return resolveSegments(segments, map[string]any(v))

	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, types.ErrFieldNotFound
		}
		return resolveSegments(remaining, v[idx])

	case string:
		// Re-parse hop: the traversed value is an encoded document.
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return nil, types.ErrFieldNotFound
		}
		switch parsed.(type) {
		case map[string]any, []any:
			return resolveSegments(segments, parsed)
		default:
			return nil, types.ErrFieldNotFound
		}

	default:
		// Scalar or nil but path continues.
		return nil, types.ErrFieldNotFound
	}
}

// Stringify renders a resolved payload value for wildcard comparison.
// Strings pass through; numbers and booleans use their JSON rendering.
// Objects and arrays are not comparable and report not-ok.
func Stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
