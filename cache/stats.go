package cache

// Stats is a point-in-time snapshot of client counters.
type Stats struct {
	Entries   int
	Observers int
	Fetching  int
	Mutating  int

	Hits         uint64
	Deduplicated uint64
	Fetches      uint64
	FetchErrors  uint64
	Retries      uint64
	Discarded    uint64
	Aborted      uint64
	Evictions    uint64

	Mutations      uint64
	MutationErrors uint64
	Rollbacks      uint64
}
