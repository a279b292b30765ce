package manager

import "strings"

// wildcardMatch matches name against a glob-like pattern where '*' matches
// any substring. Matching is case-sensitive.
func wildcardMatch(name, pattern string) bool {
	switch {
	case pattern == "":
		return false
	case pattern == "*":
		return true
	case !strings.Contains(pattern, "*"):
		return name == pattern
	}
	parts := strings.Split(pattern, "*")
	head, tail := parts[0], parts[len(parts)-1]
	if !strings.HasPrefix(name, head) {
		return false
	}
	rest := name[len(head):]
	for _, p := range parts[1 : len(parts)-1] {
		j := strings.Index(rest, p)
		if j < 0 {
			return false
		}
		rest = rest[j+len(p):]
	}
	return strings.HasSuffix(rest, tail)
}

// isSafeID limits ids to characters that are safe in store keys and URLs.
func isSafeID(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}
