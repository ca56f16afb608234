package querycache

import (
	"reflect"
	"testing"
	"time"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/codec"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
)

type profile struct {
	ID    int      `msgpack:"id" cbor:"id"`
	Name  string   `msgpack:"name" cbor:"name"`
	Roles []string `msgpack:"roles" cbor:"roles"`
}

func TestDehydrateHydrate_RoundTrip(t *testing.T) {
	codecs := []struct {
		name  string
		codec cache.Codec
	}{
		{"msgpack", codec.Msgpack{}},
		{"cbor", codec.MustCBOR(true)},
	}

	for _, tc := range codecs {
		t.Run(tc.name, func(t *testing.T) {
			clock := testsupport.NewFakeClock(time.Time{})
			src := newTestClient(t, cache.Config{StaleTime: time.Minute}, WithClock(clock), WithCodec(tc.codec))
			dst := newTestClient(t, cache.Config{StaleTime: time.Minute}, WithClock(clock), WithCodec(tc.codec))

			alice := profile{ID: 1, Name: "alice", Roles: []string{"admin"}}
			src.SetQueryData(cache.QueryKey{"user", 1}, func(any, bool) any { return alice })
			src.SetQueryData(cache.QueryKey{"settings"}, func(any, bool) any { return "dark" })
			src.Query(cache.QueryKey{"empty"}, nil, cache.QueryOptions{Disabled: true}, nil)

			b, err := src.Dehydrate(cache.MatchPrefix("user"))
			if err != nil {
				t.Fatalf("Dehydrate: %v", err)
			}

			n, err := dst.Hydrate(b)
			if err != nil {
				t.Fatalf("Hydrate: %v", err)
			}
			if n != 1 {
				t.Errorf("expected 1 entry hydrated, got %d", n)
			}

			got, ok, err := GetQueryData[profile](dst, cache.QueryKey{"user", 1})
			if err != nil || !ok {
				t.Fatalf("expected hydrated profile, got ok=%t err=%v", ok, err)
			}
			if !reflect.DeepEqual(got, alice) {
				t.Errorf("expected %+v, got %+v", alice, got)
			}

			want, _ := src.Peek(cache.QueryKey{"user", 1})
			entry, ok := dst.Peek(cache.QueryKey{"user", 1})
			if !ok {
				t.Fatal("expected hydrated entry")
			}
			if entry.Key != want.Key {
				t.Errorf("expected key %q, got %q", want.Key, entry.Key)
			}
			if entry.Status != cache.StatusSuccess {
				t.Errorf("expected success, got %s", entry.Status)
			}
			if !want.UpdatedAt.Equal(entry.UpdatedAt) || !want.StaleAt.Equal(entry.StaleAt) {
				t.Errorf("expected timestamps to survive, got updated=%v stale=%v", entry.UpdatedAt, entry.StaleAt)
			}
			if got := len(dst.Entries(cache.MatchExact("user", 1))); got != 1 {
				t.Errorf("expected 1 matching entry, got %d", got)
			}

			if _, ok := dst.Peek(cache.QueryKey{"settings"}); ok {
				t.Error("expected filtered entry to be left out")
			}
		})
	}
}

func TestHydrate_RedehydratesRawData(t *testing.T) {
	src := newTestClient(t, cache.Config{})
	mid := newTestClient(t, cache.Config{})
	dst := newTestClient(t, cache.Config{})

	src.SetQueryData(cache.QueryKey{"user", 1}, func(any, bool) any { return profile{ID: 1, Name: "alice"} })
	b, err := src.Dehydrate(nil)
	if err != nil {
		t.Fatalf("Dehydrate: %v", err)
	}
	if _, err := mid.Hydrate(b); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	raw, _ := mid.GetQueryData(cache.QueryKey{"user", 1})
	if _, ok := raw.(cache.RawData); !ok {
		t.Errorf("expected hydrated data to stay encoded, got %T", raw)
	}

	b, err = mid.Dehydrate(nil)
	if err != nil {
		t.Fatalf("Dehydrate: %v", err)
	}
	if _, err := dst.Hydrate(b); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	got, ok, err := GetQueryData[profile](dst, cache.QueryKey{"user", 1})
	if err != nil || !ok {
		t.Fatalf("expected profile, got ok=%t err=%v", ok, err)
	}
	if got.Name != "alice" {
		t.Errorf("expected alice, got %q", got.Name)
	}
}

func TestHydrate_KeepsNewerData(t *testing.T) {
	srcClock := testsupport.NewFakeClock(time.Time{})
	dstClock := testsupport.NewFakeClock(srcClock.Now().Add(time.Hour))
	src := newTestClient(t, cache.Config{}, WithClock(srcClock))
	dst := newTestClient(t, cache.Config{}, WithClock(dstClock))
	key := cache.QueryKey{"user", 1}

	src.SetQueryData(key, func(any, bool) any { return "old" })
	dst.SetQueryData(key, func(any, bool) any { return "new" })

	b, err := src.Dehydrate(nil)
	if err != nil {
		t.Fatalf("Dehydrate: %v", err)
	}
	n, err := dst.Hydrate(b)
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if n != 0 {
		t.Errorf("expected older snapshot to be skipped, hydrated %d", n)
	}

	if data, _ := dst.GetQueryData(key); data != "new" {
		t.Errorf("expected new, got %v", data)
	}
}

func TestHydrate_NotifiesObservers(t *testing.T) {
	src := newTestClient(t, cache.Config{})
	dst := newTestClient(t, cache.Config{})
	key := cache.QueryKey{"user", 1}

	src.SetQueryData(key, func(any, bool) any { return profile{ID: 1, Name: "alice"} })
	b, err := src.Dehydrate(nil)
	if err != nil {
		t.Fatalf("Dehydrate: %v", err)
	}

	var got []Result[profile]
	sub := Observe(dst, key, nil, cache.QueryOptions{Disabled: true}, func(r Result[profile]) {
		got = append(got, r)
	})
	defer sub.Unsubscribe()

	if _, err := dst.Hydrate(b); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one notification, got %d", len(got))
	}
	if got[0].DecodeErr != nil {
		t.Fatalf("unexpected decode error: %v", got[0].DecodeErr)
	}
	if got[0].Value.Name != "alice" {
		t.Errorf("expected alice, got %q", got[0].Value.Name)
	}
}

func TestHydrate_Errors(t *testing.T) {
	msgpackClient := newTestClient(t, cache.Config{})
	cborClient := newTestClient(t, cache.Config{}, WithCodec(codec.MustCBOR(false)))

	msgpackClient.SetQueryData(cache.QueryKey{"a"}, func(any, bool) any { return 1 })
	b, err := msgpackClient.Dehydrate(nil)
	if err != nil {
		t.Fatalf("Dehydrate: %v", err)
	}

	if _, err := cborClient.Hydrate(b); err == nil {
		t.Error("expected codec mismatch error")
	}
	if _, err := msgpackClient.Hydrate([]byte("not a snapshot")); err == nil {
		t.Error("expected decode error")
	}
}
