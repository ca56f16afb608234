package cache

import "github.com/cockroachdb/errors"

// Codec serializes entry data for Dehydrate and Hydrate.
// See the codec package for msgpack and CBOR implementations.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, v any) error
}

// RawData is entry data restored by Hydrate that has not been decoded into a
// concrete type yet. The typed helpers decode it on first access; untyped
// readers receive it as is. A successful fetch replaces it.
type RawData struct {
	Codec Codec
	Bytes []byte
}

// Decode unmarshals the payload into v.
func (r RawData) Decode(v any) error {
	if r.Codec == nil {
		return errors.New("raw data has no codec")
	}
	return errors.Wrapf(r.Codec.Unmarshal(r.Bytes, v), "decode %s payload", r.Codec.Name())
}

// As decodes data into T. Values already of type T are returned directly and
// RawData is decoded through its codec.
func As[T any](data any) (T, error) {
	var zero T
	switch v := data.(type) {
	case T:
		return v, nil
	case nil:
		return zero, nil
	case RawData:
		var out T
		if err := v.Decode(&out); err != nil {
			return zero, err
		}
		return out, nil
	case *RawData:
		var out T
		if err := v.Decode(&out); err != nil {
			return zero, err
		}
		return out, nil
	}
	return zero, errors.Wrapf(ErrTypeMismatch, "have %T, want %T", data, zero)
}
