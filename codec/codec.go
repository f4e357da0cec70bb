// Package codec converts cached values to and from their stored byte form.
// Backends only see bytes; the codec boundary is also where entry size is
// measured (len of the encoded payload) for size-based eviction.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
