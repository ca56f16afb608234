package repositoryquery

import (
	"reflect"
	"strings"
	"unicode"
)

// namespaceOf returns the snake case name of T with pointers removed, e.g.
// "user_profile" for *UserProfile.
func namespaceOf[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	if ns := toSnake(name); ns != "" {
		return ns
	}
	return "record"
}

// toSnake converts s to snake_case using ASCII-aware rules. Punctuation from
// reflected names, such as generic brackets and package qualifiers, becomes a
// single separator so namespaces stay readable in logs and metric labels.
func toSnake(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	sep := false
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if b.Len() > 0 && !sep {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || nextLower {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			sep = false

		case unicode.IsLower(r):
			b.WriteRune(r)
			sep = false

		case unicode.IsDigit(r):
			if b.Len() > 0 && !sep && !unicode.IsDigit(runes[i-1]) {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			sep = false

		default:
			if b.Len() > 0 && !sep {
				b.WriteByte('_')
				sep = true
			}
		}
	}

	return strings.Trim(b.String(), "_")
}
