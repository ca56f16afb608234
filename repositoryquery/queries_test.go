package repositoryquery

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/fetchers"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
	"github.com/goliatone/go-query-cache/querycache"
)

type User struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type UserProfile struct {
	Id string
}

var errNotFound = errors.New("record not found")

// memoryRepo is an in-memory Source that records method calls.
type memoryRepo struct {
	mu      sync.Mutex
	records map[string]User
	calls   map[string]int

	updateErr error
	onUpdate  func(User)
}

func newMemoryRepo(t *testing.T) *memoryRepo {
	t.Helper()

	var users []User
	testsupport.LoadFixtureJSON(t, testsupport.FixturePath("users.json"), &users)

	repo := &memoryRepo{records: map[string]User{}, calls: map[string]int{}}
	for _, u := range users {
		repo.records[u.ID] = u
	}
	return repo
}

func (m *memoryRepo) record(method string) {
	m.mu.Lock()
	m.calls[method]++
	m.mu.Unlock()
}

func (m *memoryRepo) count(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *memoryRepo) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (User, error) {
	m.record("GetByID")
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.records[id]
	if !ok {
		return User{}, errNotFound
	}
	return u, nil
}

func (m *memoryRepo) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (User, error) {
	m.record("GetByIdentifier")
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.records {
		if u.Email == identifier {
			return u, nil
		}
	}
	return User{}, errNotFound
}

func (m *memoryRepo) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]User, int, error) {
	m.record("List")
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]User, 0, len(m.records))
	for _, u := range m.records {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memoryRepo) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	m.record("Count")
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

func (m *memoryRepo) Create(ctx context.Context, record User, criteria ...repository.InsertCriteria) (User, error) {
	m.record("Create")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = record
	return record, nil
}

func (m *memoryRepo) Update(ctx context.Context, record User, criteria ...repository.UpdateCriteria) (User, error) {
	m.record("Update")
	if m.onUpdate != nil {
		m.onUpdate(record)
	}
	if m.updateErr != nil {
		return User{}, m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = record
	return record, nil
}

func (m *memoryRepo) Delete(ctx context.Context, record User) error {
	m.record("Delete")
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, record.ID)
	return nil
}

func newTestQueries(t *testing.T, opts ...Option[User]) (*Queries[User], *memoryRepo, *querycache.Client) {
	t.Helper()

	client, err := querycache.New(cache.Config{
		StaleTime: cache.Infinity,
		Retry:     cache.RetryConfig{MaxRetries: cache.NoRetries},
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	repo := newMemoryRepo(t)
	return New[User](client, repo, opts...), repo, client
}

func TestNamespace(t *testing.T) {
	if ns := namespaceOf[User](); ns != "user" {
		t.Errorf("expected user, got %q", ns)
	}
	if ns := namespaceOf[*UserProfile](); ns != "user_profile" {
		t.Errorf("expected user_profile, got %q", ns)
	}

	q, _, _ := newTestQueries(t, WithNamespace[User]("accounts"))
	if q.Namespace() != "accounts" {
		t.Errorf("expected accounts, got %q", q.Namespace())
	}
}

func TestToSnake(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"User", "user"},
		{"UserProfile", "user_profile"},
		{"HTTPServer", "http_server"},
		{"Page[main.User]", "page_main_user"},
		{"OAuth2Token", "o_auth_2_token"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := toSnake(tt.in); got != tt.want {
				t.Errorf("toSnake(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractID(t *testing.T) {
	if id, err := extractID(User{ID: "u1"}); err != nil || id != "u1" {
		t.Errorf("expected u1, got %q %v", id, err)
	}
	if id, err := extractID(&UserProfile{Id: "p1"}); err != nil || id != "p1" {
		t.Errorf("expected p1, got %q %v", id, err)
	}
	if _, err := extractID[*User](nil); err == nil {
		t.Error("expected error for nil record")
	}
	if _, err := extractID("plain"); err == nil {
		t.Error("expected error for non struct record")
	}
}

func TestQueries_ReadsAreCached(t *testing.T) {
	q, repo, _ := newTestQueries(t)
	ctx := context.Background()
	scope := Scope{Key: "all"}

	for i := 0; i < 2; i++ {
		u, err := q.GetByID(ctx, "u1")
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if u.Name != "Ada" {
			t.Errorf("expected Ada, got %q", u.Name)
		}

		if _, err := q.GetByIdentifier(ctx, "grace@example.com"); err != nil {
			t.Fatalf("GetByIdentifier: %v", err)
		}

		page, err := q.List(ctx, scope)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if page.Total != 3 || len(page.Records) != 3 {
			t.Errorf("expected 3 records, got %d/%d", len(page.Records), page.Total)
		}

		n, err := q.Count(ctx, scope)
		if err != nil || n != 3 {
			t.Errorf("expected count 3, got %d %v", n, err)
		}
	}

	for _, method := range []string{"GetByID", "GetByIdentifier", "List", "Count"} {
		if got := repo.count(method); got != 1 {
			t.Errorf("expected one %s call, got %d", method, got)
		}
	}

	if _, err := q.List(ctx, Scope{Key: map[string]any{"active": true}}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if got := repo.count("List"); got != 2 {
		t.Errorf("expected a different scope to fetch, got %d calls", got)
	}
}

func TestQueries_CreateInvalidatesCollections(t *testing.T) {
	q, repo, _ := newTestQueries(t)
	ctx := context.Background()
	scope := Scope{Key: "all"}

	if _, err := q.List(ctx, scope); err != nil {
		t.Fatalf("List: %v", err)
	}

	created, err := q.Create(ctx, User{ID: "u4", Name: "Barbara", Email: "barbara@example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID != "u4" {
		t.Errorf("expected created record, got %+v", created)
	}

	page, err := q.List(ctx, scope)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 4 {
		t.Errorf("expected 4 records after create, got %d", page.Total)
	}
	if got := repo.count("List"); got != 2 {
		t.Errorf("expected list to refetch once, got %d calls", got)
	}

	u, err := q.GetByID(ctx, "u4")
	if err != nil || u.Name != "Barbara" {
		t.Errorf("expected seeded record, got %+v %v", u, err)
	}
	if got := repo.count("GetByID"); got != 0 {
		t.Errorf("expected created record to be served from cache, got %d calls", got)
	}
}

func TestQueries_UpdateOptimisticAndRollback(t *testing.T) {
	q, repo, client := newTestQueries(t)
	ctx := context.Background()

	if _, err := q.GetByID(ctx, "u1"); err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	var during User
	repo.onUpdate = func(User) {
		during, _, _ = querycache.GetQueryData[User](client, q.ByIDKey("u1"))
	}
	repo.updateErr = errors.New("constraint violation")

	_, err := q.Update(ctx, User{ID: "u1", Name: "Ada Lovelace"})
	var merr *cache.MutationError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MutationError, got %v", err)
	}
	if merr.RolledBack != 1 {
		t.Errorf("expected one rollback, got %d", merr.RolledBack)
	}
	if during.Name != "Ada Lovelace" {
		t.Errorf("expected optimistic value during update, got %q", during.Name)
	}

	u, err := q.GetByID(ctx, "u1")
	if err != nil || u.Name != "Ada" {
		t.Errorf("expected original record after rollback, got %+v %v", u, err)
	}
}

func TestQueries_UpdateInvalidatesIdentifierAndCollections(t *testing.T) {
	q, repo, _ := newTestQueries(t)
	ctx := context.Background()
	scope := Scope{Key: "all"}

	if _, err := q.GetByIdentifier(ctx, "ada@example.com"); err != nil {
		t.Fatalf("GetByIdentifier: %v", err)
	}
	if _, err := q.Count(ctx, scope); err != nil {
		t.Fatalf("Count: %v", err)
	}

	updated, err := q.Update(ctx, User{ID: "u1", Email: "ada@example.com", Name: "Countess"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "Countess" {
		t.Errorf("expected updated record, got %+v", updated)
	}

	u, err := q.GetByIdentifier(ctx, "ada@example.com")
	if err != nil || u.Name != "Countess" {
		t.Errorf("expected refetched identifier read, got %+v %v", u, err)
	}
	if _, err := q.Count(ctx, scope); err != nil {
		t.Fatalf("Count: %v", err)
	}
	if repo.count("GetByIdentifier") != 2 || repo.count("Count") != 2 {
		t.Errorf("expected identifier and count to refetch, got %d and %d",
			repo.count("GetByIdentifier"), repo.count("Count"))
	}

	if u, _ := q.GetByID(ctx, "u1"); u.Name != "Countess" {
		t.Errorf("expected updated record seeded by ID, got %q", u.Name)
	}
	if repo.count("GetByID") != 0 {
		t.Errorf("expected seeded record to be served from cache")
	}
}

func TestQueries_DeleteEvicts(t *testing.T) {
	q, repo, client := newTestQueries(t)
	ctx := context.Background()

	u, err := q.GetByID(ctx, "u2")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if err := q.Delete(ctx, u); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := client.Peek(q.ByIDKey("u2")); ok {
		t.Error("expected deleted record to be evicted")
	}

	page, err := q.List(ctx, Scope{Key: "all"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("expected 2 records after delete, got %d", page.Total)
	}
	if repo.count("Delete") != 1 {
		t.Errorf("expected one Delete call, got %d", repo.count("Delete"))
	}
}

func TestQueries_NotFoundIsNotRetried(t *testing.T) {
	client, err := querycache.New(cache.Config{
		Retry: cache.RetryConfig{MaxRetries: 3, Backoff: cache.ConstantBackoff(0)},
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	repo := newMemoryRepo(t)
	q := New[User](client, repo, WithNotFound[User](func(err error) bool { return errors.Is(err, errNotFound) }))

	_, err = q.GetByID(context.Background(), "missing")
	if !errors.Is(err, errNotFound) {
		t.Errorf("expected not found error, got %v", err)
	}
	if repo.count("GetByID") != 1 {
		t.Errorf("expected a single attempt, got %d", repo.count("GetByID"))
	}
}

func TestWithInvalidates(t *testing.T) {
	q, _, client := newTestQueries(t)
	team := cache.QueryKey{"team", 1, "members"}
	client.SetQueryData(team, func(any, bool) any { return 3 })

	ctx := WithInvalidates(context.Background(), cache.QueryKey{"team", 1}, cache.QueryKey{"team", 1}, nil)
	if got := invalidatesFromContext(ctx); len(got) != 1 {
		t.Fatalf("expected deduplicated prefixes, got %v", got)
	}

	if _, err := q.Create(ctx, User{ID: "u9"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	entry, ok := client.Peek(team)
	if !ok || !entry.Invalidated {
		t.Errorf("expected team entry to be invalidated, got %+v", entry)
	}
}

func TestQueries_WithSharedMemo(t *testing.T) {
	shared, err := fetchers.NewShared(fetchers.SharedConfig{
		Capacity:           100,
		NumShards:          2,
		TTL:                time.Minute,
		EvictionPercentage: 10,
	})
	if err != nil {
		t.Fatalf("failed to create shared memo: %v", err)
	}

	repo := newMemoryRepo(t)
	newQueries := func() *Queries[User] {
		client, err := querycache.New(cache.Config{Retry: cache.RetryConfig{MaxRetries: cache.NoRetries}})
		if err != nil {
			t.Fatalf("failed to create client: %v", err)
		}
		t.Cleanup(func() { _ = client.Close(context.Background()) })
		return New[User](client, repo, WithShared[User](shared))
	}
	a, b := newQueries(), newQueries()
	ctx := context.Background()
	scope := Scope{Key: "all"}

	if _, err := a.List(ctx, scope); err != nil {
		t.Fatalf("List: %v", err)
	}
	if _, err := b.List(ctx, scope); err != nil {
		t.Fatalf("List: %v", err)
	}
	if got := repo.count("List"); got != 1 {
		t.Errorf("expected clients to share one List call, got %d", got)
	}

	if _, err := a.Create(ctx, User{ID: "u5", Name: "Edsger"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	page, err := b.List(ctx, scope)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 4 {
		t.Errorf("expected memo to be dropped after create, got %d records", page.Total)
	}
	if got := repo.count("List"); got != 2 {
		t.Errorf("expected a second List call, got %d", got)
	}
}

func TestQueries_UpdateWithSharedRefetchesObservedIdentifier(t *testing.T) {
	shared, err := fetchers.NewShared(fetchers.SharedConfig{
		Capacity:           100,
		NumShards:          2,
		TTL:                time.Minute,
		EvictionPercentage: 10,
	})
	if err != nil {
		t.Fatalf("failed to create shared memo: %v", err)
	}
	q, repo, client := newTestQueries(t, WithShared[User](shared))
	ctx := context.Background()

	if _, err := q.GetByIdentifier(ctx, "ada@example.com"); err != nil {
		t.Fatalf("GetByIdentifier: %v", err)
	}

	var mu sync.Mutex
	var names []string
	sub := client.Query(q.IdentifierKey("ada@example.com"), nil, cache.QueryOptions{StaleTime: cache.Infinity}, func(e cache.Entry) {
		if e.Status != cache.StatusSuccess {
			return
		}
		if u, err := cache.As[User](e.Data); err == nil {
			mu.Lock()
			names = append(names, u.Name)
			mu.Unlock()
		}
	})
	defer sub.Unsubscribe()

	if _, err := q.Update(ctx, User{ID: "u1", Email: "ada@example.com", Name: "Countess"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for repo.count("GetByIdentifier") < 2 || client.IsFetching() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected the observed identifier to be refetched from the origin, got %d calls", repo.count("GetByIdentifier"))
		}
		time.Sleep(2 * time.Millisecond)
	}

	got, err := q.GetByIdentifier(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("GetByIdentifier: %v", err)
	}
	if got.Name != "Countess" {
		t.Errorf("expected refreshed identifier entry, got %q", got.Name)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(names) == 0 || names[len(names)-1] != "Countess" {
		t.Errorf("expected observer to end on the updated record, got %v", names)
	}
}
