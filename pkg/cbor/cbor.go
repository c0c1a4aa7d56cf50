// Package cbor provides helpers for encoding and decoding canonical CBOR.
//
// Canonical encodings are stable, so the same value always serializes to the same bytes
// and can be signed or used as a storage key.
package cbor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic("cbor: failed to create encoding mode: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}).DecMode(); err != nil {
		panic("cbor: failed to create decoding mode: " + err.Error())
	}
}

// Marshal serializes a given type into a canonical CBOR byte vector.
func Marshal(src interface{}) []byte {
	b, err := encMode.Marshal(src)
	if err != nil {
		panic("cbor: failed to marshal: " + err.Error())
	}
	return b
}

// Unmarshal deserializes a CBOR byte vector into a given type.
func Unmarshal(data []byte, dst interface{}) error {
	if data == nil {
		return nil
	}
	if err := decMode.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("cbor: failed to unmarshal %T: %w", dst, err)
	}
	return nil
}
