package rules

import (
	"regexp"
	"strings"
	"sync"
)

/*
 * Wildcard string matching for simple conditions.
 *
 * Patterns are literal, case-sensitive strings except for '*', which matches
 * any substring (including the empty one). A pattern without '*' degrades to
 * plain equality and never touches the regexp engine.
 *
 * Compiled patterns are cached process-wide: rules are evaluated on every
 * event, and the pattern set is small and stable between rule reloads.
 */

var wildcardCache = struct {
	mu sync.RWMutex
	re map[string]*regexp.Regexp
}{re: make(map[string]*regexp.Regexp)}

// MatchWildcard reports whether value matches pattern. '*' converts to a
// match-any-substring anchor; everything else compares literally.
func MatchWildcard(pattern, value string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}

	re, err := compileWildcard(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

func compileWildcard(pattern string) (*regexp.Regexp, error) {
	wildcardCache.mu.RLock()
	re, ok := wildcardCache.re[pattern]
	wildcardCache.mu.RUnlock()
	if ok {
		return re, nil
	}

	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, err
	}

	wildcardCache.mu.Lock()
	wildcardCache.re[pattern] = re
	wildcardCache.mu.Unlock()
	return re, nil
}
