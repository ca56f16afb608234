package cache

import "testing"

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		pred Predicate
		key  QueryKey
		want bool
	}{
		{"all matches anything", MatchAll(), QueryKey{"x"}, true},
		{"prefix matches self", MatchPrefix("todos"), QueryKey{"todos"}, true},
		{"prefix matches longer key", MatchPrefix("todos"), QueryKey{"todos", 1}, true},
		{"prefix rejects other", MatchPrefix("todos"), QueryKey{"users"}, false},
		{"prefix rejects shorter", MatchPrefix("todos", 1), QueryKey{"todos"}, false},
		{"prefix normalizes numbers", MatchPrefix("user", int64(1)), QueryKey{"user", 1.0}, true},
		{"prefix distinguishes string from number", MatchPrefix("user", "1"), QueryKey{"user", 1}, false},
		{"prefix compares maps canonically", MatchPrefix("todos", map[string]any{"a": 1, "b": 2}), QueryKey{"todos", map[string]int{"b": 2, "a": 1}}, true},
		{"exact matches equal", MatchExact("user", 1), QueryKey{"user", 1}, true},
		{"exact rejects longer", MatchExact("user"), QueryKey{"user", 1}, false},
		{"any matches one", MatchAny(MatchExact("a"), MatchExact("b")), QueryKey{"b"}, true},
		{"any skips nil", MatchAny(nil, MatchExact("a")), QueryKey{"a"}, true},
		{"any of none", MatchAny(), QueryKey{"a"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred(tt.key); got != tt.want {
				t.Errorf("predicate(%v) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestEntry_IsStale(t *testing.T) {
	now := mustTime(t, "2024-01-01T00:00:00Z")

	tests := []struct {
		name  string
		entry Entry
		want  bool
	}{
		{"no data", Entry{}, true},
		{"fresh", Entry{HasData: true, StaleAt: now.Add(1)}, false},
		{"exactly at stale time", Entry{HasData: true, StaleAt: now}, true},
		{"invalidated", Entry{HasData: true, StaleAt: now.Add(1), Invalidated: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.IsStale(now); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMountPolicy_UnmarshalText(t *testing.T) {
	tests := []struct {
		in      string
		want    MountPolicy
		wantErr bool
	}{
		{"always", MountAlways, false},
		{"NEVER", MountNever, false},
		{"if_stale", MountIfStale, false},
		{"sometimes", MountIfStale, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var p MountPolicy
			err := p.UnmarshalText([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("UnmarshalText(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && p != tt.want {
				t.Errorf("UnmarshalText(%q) = %v, want %v", tt.in, p, tt.want)
			}
		})
	}
}
