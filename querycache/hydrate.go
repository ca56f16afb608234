package querycache

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-query-cache/cache"
)

const dehydrateVersion = 1

type dehydratedState struct {
	Version int                `msgpack:"version" cbor:"version"`
	Codec   string             `msgpack:"codec" cbor:"codec"`
	Entries []dehydratedRecord `msgpack:"entries" cbor:"entries"`
}

// dehydratedRecord keeps the canonical key next to the encoded parts so the
// entry is restored under the same key even if the parts decode into
// different Go types.
type dehydratedRecord struct {
	Key       string    `msgpack:"key" cbor:"key"`
	Parts     []byte    `msgpack:"parts" cbor:"parts"`
	Data      []byte    `msgpack:"data" cbor:"data"`
	UpdatedAt time.Time `msgpack:"updated_at" cbor:"updated_at"`
	StaleAt   time.Time `msgpack:"stale_at" cbor:"stale_at"`
}

// Dehydrate serializes the data of matching entries that hold data. Fetch
// state, errors and observers are not included.
func (c *Client) Dehydrate(pred cache.Predicate) ([]byte, error) {
	state := dehydratedState{Version: dehydrateVersion, Codec: c.codec.Name()}

	for _, e := range c.store.matching(pred) {
		e.mu.Lock()
		if e.removed || !e.hasData {
			e.mu.Unlock()
			continue
		}
		data, parts := e.data, e.parts
		updatedAt, staleAt := e.updatedAt, e.staleAt
		e.mu.Unlock()

		rawParts, err := c.codec.Marshal([]any(parts))
		if err != nil {
			return nil, errors.Wrapf(err, "dehydrate key %s", e.key)
		}
		rawData, err := c.encodeData(data)
		if err != nil {
			return nil, errors.Wrapf(err, "dehydrate data of %s", e.key)
		}
		state.Entries = append(state.Entries, dehydratedRecord{
			Key:       string(e.key),
			Parts:     rawParts,
			Data:      rawData,
			UpdatedAt: updatedAt,
			StaleAt:   staleAt,
		})
	}

	b, err := c.codec.Marshal(state)
	if err != nil {
		return nil, errors.Wrap(err, "dehydrate")
	}
	return b, nil
}

func (c *Client) encodeData(data any) ([]byte, error) {
	switch raw := data.(type) {
	case cache.RawData:
		if raw.Codec != nil && raw.Codec.Name() == c.codec.Name() {
			return raw.Bytes, nil
		}
	case *cache.RawData:
		if raw != nil && raw.Codec != nil && raw.Codec.Name() == c.codec.Name() {
			return raw.Bytes, nil
		}
	}
	return c.codec.Marshal(data)
}

// Hydrate restores entries produced by Dehydrate. Restored data is kept as
// cache.RawData until a typed accessor decodes it. Entries that already hold
// data at least as recent are left alone. It returns the number restored.
func (c *Client) Hydrate(b []byte) (int, error) {
	if c.closed.Load() {
		return 0, cache.ErrClosed
	}

	var state dehydratedState
	if err := c.codec.Unmarshal(b, &state); err != nil {
		return 0, errors.Wrap(err, "hydrate")
	}
	if state.Version != dehydrateVersion {
		return 0, errors.Newf("hydrate: unsupported snapshot version %d", state.Version)
	}
	if state.Codec != c.codec.Name() {
		return 0, errors.Newf("hydrate: snapshot encoded with %q, client uses %q", state.Codec, c.codec.Name())
	}

	restored := 0
	for _, rec := range state.Entries {
		var parts []any
		if err := c.codec.Unmarshal(rec.Parts, &parts); err != nil {
			return restored, errors.Wrapf(err, "hydrate key %s", rec.Key)
		}
		if c.hydrateRecord(rec, cache.QueryKey(parts)) {
			restored++
		}
	}
	c.logger.Debug("querycache.hydrated", cache.Fields{"entries": len(state.Entries), "restored": restored})
	return restored, nil
}

func (c *Client) hydrateRecord(rec dehydratedRecord, parts cache.QueryKey) bool {
	key := cache.Key(rec.Key)
	for {
		e := c.store.getOrCreate(key, parts, c.cfg.GCTime)

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		if e.hasData && !e.updatedAt.Before(rec.UpdatedAt) {
			e.mu.Unlock()
			return false
		}
		e.setDataLocked(cache.RawData{Codec: c.codec, Bytes: rec.Data}, true)
		if e.status != cache.StatusLoading {
			e.status = cache.StatusSuccess
			e.err = nil
		}
		e.updatedAt = rec.UpdatedAt
		e.staleAt = rec.StaleAt
		e.invalidated = false
		drain := e.publishLocked()
		e.mu.Unlock()

		if drain {
			c.deliver(e)
		}
		return true
	}
}
