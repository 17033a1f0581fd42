package wire

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Codec encodes and decodes the opaque key/value byte payloads carried by
// the operation log (section 6). The core never inspects these bytes except
// during restore, where it uses the caller-supplied Codec to recover typed
// keys and values; the codec is injected rather than fixed, so a caller can
// swap in a denser binary format without touching the operation log itself.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

// JSONCodec is the default Codec, built on goccy/go-json: a schema-free,
// byte-in/byte-out codec for the opaque payloads the backing store stores.
type JSONCodec[T any] struct{}

// Encode marshals v to JSON.
func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return b, nil
}

// Decode unmarshals b into a T.
func (JSONCodec[T]) Decode(b []byte) (T, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("wire: decode: %w", err)
	}
	return v, nil
}
