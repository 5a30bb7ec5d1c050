package permission

import (
	"strings"
)

// Match reports whether key matches pattern. A '*' in the pattern matches
// any run of characters, including an empty one; everything else compares
// exactly. A bare "*" matches any key.
func Match(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == key
	}

	// Common single-star shapes: "mcp:nmap:*" and "*:scan"
	if strings.Count(pattern, "*") == 1 {
		if strings.HasSuffix(pattern, "*") {
			return strings.HasPrefix(key, pattern[:len(pattern)-1])
		}
		if strings.HasPrefix(pattern, "*") {
			return strings.HasSuffix(key, pattern[1:])
		}
	}

	return matchSegments(pattern, key)
}

// matchSegments handles interior and multiple stars: the first and last
// literal segments are anchored, the rest are placed greedily left to
// right. Greedy-earliest placement is safe because every remaining
// segment is preceded by a star.
func matchSegments(pattern, key string) bool {
	parts := strings.Split(pattern, "*")

	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	pos := len(parts[0])

	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(key[pos:], part)
		if idx < 0 {
			return false
		}
		pos += idx + len(part)
	}

	last := parts[len(parts)-1]
	if last == "" {
		return true
	}
	return len(key)-len(last) >= pos && strings.HasSuffix(key, last)
}

// MatchAny reports whether key matches at least one of the patterns.
func MatchAny(key string, patterns []string) bool {
	for _, p := range patterns {
		if Match(p, key) {
			return true
		}
	}
	return false
}

// Covered reports whether every key is matched by at least one approved
// pattern. An empty key set is vacuously covered.
func Covered(keys, patterns []string) bool {
	for _, key := range keys {
		if !MatchAny(key, patterns) {
			return false
		}
	}
	return true
}
