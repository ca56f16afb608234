// Package repositoryquery serves go-repository-bun repositories through a
// query client.
//
// # Overview
//
// Queries wraps a repository and turns its reads into cached, deduplicated
// queries and its writes into mutations. Reads share the client's entries,
// observers and background refetching, so a record fetched by one component
// is visible to every other component observing the same key.
//
// # Basic Usage
//
//	client, _ := querycache.New(cache.Config{StaleTime: 30 * time.Second})
//	users := repositoryquery.New[User](client, userRepo)
//
//	u, err := users.GetByID(ctx, "user-123")
//	page, err := users.List(ctx, repositoryquery.Scope{
//		Key:      map[string]any{"active": true},
//		Criteria: []repository.SelectCriteria{activeOnly},
//	})
//
// # Keys
//
// Every key starts with the namespace, the snake case name of the record
// type, followed by the kind of read:
//
//	["user", "id", "user-123"]
//	["user", "identifier", "alice@example.com"]
//	["user", "list", {"active":true}]
//	["user", "count", {"active":true}]
//
// Select criteria are functions and cannot be compared, so they never enter
// a key. List and Count take a Scope whose Key describes the criteria.
//
// # Invalidation
//
//   - Create caches the created record by ID and invalidates list and count queries
//   - Update replaces the cached record optimistically, rolls it back on failure,
//     and invalidates identifier, list and count queries on success
//   - Delete evicts the record's ID and identifier entries and invalidates
//     list and count queries
//
// Extra prefixes can be invalidated per write with WithInvalidates.
//
// # Transactions
//
// Transactional and raw SQL methods are not wrapped. Call the repository
// directly, then InvalidateAll once the transaction commits.
package repositoryquery
