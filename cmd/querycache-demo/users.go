package main

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

var errUserNotFound = errors.New("user not found")

// User is the record served by the in-memory repository.
type User struct {
	ID    string `json:"id" msgpack:"id" cbor:"id"`
	Name  string `json:"name" msgpack:"name" cbor:"name"`
	Email string `json:"email" msgpack:"email" cbor:"email"`
}

// userRepository is an in-memory stand-in for a go-repository-bun
// repository. Every call sleeps for latency to make origin round trips
// visible next to cached reads.
type userRepository struct {
	mu      sync.RWMutex
	users   map[string]User
	latency time.Duration
	calls   atomic.Int64
	failing atomic.Bool
}

func newUserRepository(latency time.Duration) *userRepository {
	return &userRepository{
		latency: latency,
		users: map[string]User{
			"1": {ID: "1", Name: "John Doe", Email: "john@example.com"},
			"2": {ID: "2", Name: "Jane Smith", Email: "jane@example.com"},
			"3": {ID: "3", Name: "Bob Johnson", Email: "bob@example.com"},
		},
	}
}

// Calls returns how many times the origin was reached.
func (r *userRepository) Calls() int64 { return r.calls.Load() }

func (r *userRepository) roundTrip(ctx context.Context) error {
	r.calls.Add(1)
	if r.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(r.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *userRepository) GetByID(ctx context.Context, id string, _ ...repository.SelectCriteria) (User, error) {
	if err := r.roundTrip(ctx); err != nil {
		return User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return User{}, errors.Wrapf(errUserNotFound, "id %s", id)
}

func (r *userRepository) GetByIdentifier(ctx context.Context, identifier string, _ ...repository.SelectCriteria) (User, error) {
	if err := r.roundTrip(ctx); err != nil {
		return User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == identifier {
			return u, nil
		}
	}
	return User{}, errors.Wrapf(errUserNotFound, "identifier %s", identifier)
}

func (r *userRepository) List(ctx context.Context, _ ...repository.SelectCriteria) ([]User, int, error) {
	if err := r.roundTrip(ctx); err != nil {
		return nil, 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, len(users), nil
}

func (r *userRepository) Count(ctx context.Context, _ ...repository.SelectCriteria) (int, error) {
	if err := r.roundTrip(ctx); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}

func (r *userRepository) Create(ctx context.Context, u User, _ ...repository.InsertCriteria) (User, error) {
	if err := r.roundTrip(ctx); err != nil {
		return User{}, err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	return u, nil
}

// Update fails while the repository is marked failing, which lets the demo
// show an optimistic update being rolled back.
func (r *userRepository) Update(ctx context.Context, u User, _ ...repository.UpdateCriteria) (User, error) {
	if err := r.roundTrip(ctx); err != nil {
		return User{}, err
	}
	if r.failing.Load() {
		return User{}, errors.New("database unavailable")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return User{}, errors.Wrapf(errUserNotFound, "id %s", u.ID)
	}
	r.users[u.ID] = u
	return u, nil
}

func (r *userRepository) Delete(ctx context.Context, u User) error {
	if err := r.roundTrip(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return errors.Wrapf(errUserNotFound, "id %s", u.ID)
	}
	delete(r.users, u.ID)
	return nil
}
