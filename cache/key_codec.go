package cache

import (
	"encoding"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeyCodec turns a structured QueryKey into the canonical Key used for map
// lookup and equality. Implementations must be pure and deterministic.
type KeyCodec interface {
	Canonicalize(parts QueryKey) Key
	Hash(key Key) uint64
}

// defaultKeyCodec implements KeyCodec using reflection-based serialization.
// Mapping keys are sorted, structs are encoded like mappings of their exported
// fields and numbers are normalized so 1, int8(1) and 1.0 encode identically.
type defaultKeyCodec struct{}

// NewDefaultKeyCodec creates a new instance of the default key codec.
func NewDefaultKeyCodec() KeyCodec {
	return &defaultKeyCodec{}
}

// Canonicalize encodes every part and joins them into a bracketed list,
// e.g. QueryKey{"user", 1} becomes `["user",1]`.
func (c *defaultKeyCodec) Canonicalize(parts QueryKey) Key {
	encoded := make([]string, len(parts))
	for i, part := range parts {
		encoded[i] = CanonicalPart(part)
	}
	return Key("[" + strings.Join(encoded, ",") + "]")
}

// Hash returns a compact fingerprint of the key, used for log redaction and
// metric labels.
func (c *defaultKeyCodec) Hash(key Key) uint64 {
	return xxhash.Sum64String(string(key))
}

// CanonicalPart encodes a single key part. It is the building block of the
// default codec and of the prefix predicates.
func CanonicalPart(v any) string {
	return serializeValue(reflect.ValueOf(v))
}

var textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()

// serializeValue handles individual part serialization based on kind.
func serializeValue(rv reflect.Value) string {
	if !rv.IsValid() {
		return "null"
	}

	if rv.Type().Implements(textMarshalerType) && !(rv.Kind() == reflect.Ptr && rv.IsNil()) && rv.CanInterface() {
		if text, err := rv.Interface().(encoding.TextMarshaler).MarshalText(); err == nil {
			return strconv.Quote(string(text))
		}
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "null"
		}
		return serializeValue(rv.Elem())

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		// Stable only for the lifetime of the process.
		if rv.IsNil() {
			return "null"
		}
		return fmt.Sprintf("%s:%#x", rv.Kind(), rv.Pointer())

	case reflect.Slice, reflect.Array:
		return serializeList(rv)

	case reflect.Map:
		return serializeMap(rv)

	case reflect.Struct:
		return serializeStruct(rv)

	case reflect.String:
		return strconv.Quote(rv.String())

	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)

	case reflect.Float32, reflect.Float64:
		return serializeFloat(rv.Float())

	default:
		return fmt.Sprintf("%v", rv)
	}
}

func serializeFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	case f == math.Trunc(f) && math.Abs(f) < 1<<53:
		return strconv.FormatInt(int64(f), 10)
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

// serializeList handles slices and arrays; a nil slice encodes like an empty one.
func serializeList(rv reflect.Value) string {
	length := rv.Len()
	parts := make([]string, length)
	for i := 0; i < length; i++ {
		parts[i] = serializeValue(rv.Index(i))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// serializeMap handles map serialization with sorted keys for determinism.
func serializeMap(rv reflect.Value) string {
	pairs := make([]keyValue, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, keyValue{
			key:   serializeMapKey(iter.Key()),
			value: serializeValue(iter.Value()),
		})
	}
	return joinPairs(pairs)
}

// serializeStruct encodes exported fields as a mapping keyed by their JSON
// name, so a struct and the equivalent map[string]any canonicalize alike.
func serializeStruct(rv reflect.Value) string {
	rt := rv.Type()
	pairs := make([]keyValue, 0, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		pairs = append(pairs, keyValue{
			key:   strconv.Quote(name),
			value: serializeValue(rv.Field(i)),
		})
	}
	return joinPairs(pairs)
}

// serializeMapKey quotes every key, JSON style, so numeric and string keys
// share one ordering. Keys held in interfaces are unwrapped first.
func serializeMapKey(rv reflect.Value) string {
	for (rv.Kind() == reflect.Interface || rv.Kind() == reflect.Ptr) && !rv.IsNil() {
		rv = rv.Elem()
	}
	encoded := serializeValue(rv)
	if rv.Kind() == reflect.String {
		return encoded
	}
	return strconv.Quote(encoded)
}

type keyValue struct {
	key   string
	value string
}

func joinPairs(pairs []keyValue) string {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.key + ":" + p.value
	}
	return "{" + strings.Join(parts, ",") + "}"
}
