// Package codec provides cache.Codec implementations used to dehydrate and
// hydrate query cache snapshots.
package codec

import (
	"reflect"

	"github.com/goliatone/go-query-cache/cache"
)

// reflectMapStringAny makes CBOR decode untyped maps like msgpack and JSON do,
// so decoded query key parts canonicalize the same way.
var reflectMapStringAny = reflect.TypeOf(map[string]any(nil))

// ByName returns the codec registered under name: "msgpack" or "cbor".
func ByName(name string) (cache.Codec, bool) {
	switch name {
	case "", "msgpack":
		return Msgpack{}, true
	case "cbor":
		return MustCBOR(true), true
	}
	return nil, false
}
