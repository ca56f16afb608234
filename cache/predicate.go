package cache

// MatchAll matches every key.
func MatchAll() Predicate {
	return func(QueryKey) bool { return true }
}

// MatchPrefix matches keys whose leading parts equal parts, compared by
// canonical encoding. MatchPrefix("todos") matches ["todos"] and ["todos", 1].
func MatchPrefix(parts ...any) Predicate {
	want := encodeParts(parts)
	return func(key QueryKey) bool {
		if len(key) < len(want) {
			return false
		}
		for i, w := range want {
			if CanonicalPart(key[i]) != w {
				return false
			}
		}
		return true
	}
}

// MatchExact matches only the key equal to parts.
func MatchExact(parts ...any) Predicate {
	prefix := MatchPrefix(parts...)
	n := len(parts)
	return func(key QueryKey) bool {
		return len(key) == n && prefix(key)
	}
}

// MatchAny matches keys accepted by at least one of preds.
func MatchAny(preds ...Predicate) Predicate {
	return func(key QueryKey) bool {
		for _, p := range preds {
			if p != nil && p(key) {
				return true
			}
		}
		return false
	}
}

func encodeParts(parts []any) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = CanonicalPart(p)
	}
	return out
}
