package mir

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Wire format for compiled MIR units. Units are encoded as canonical
// CBOR so a unit's bytes are deterministic for a given program, which
// keeps sysroot stores and build caches content-addressable.

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("mir: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// EncodeUnit serializes a Unit to CBOR bytes.
func EncodeUnit(u *Unit) ([]byte, error) {
	return cborEncMode.Marshal(u)
}

// DecodeUnit deserializes a Unit from CBOR bytes.
func DecodeUnit(data []byte) (*Unit, error) {
	var u Unit
	if err := cbor.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("mir: unmarshal unit: %w", err)
	}
	return &u, nil
}

// EncodeBody serializes a single Body to CBOR bytes. Sysroot stores
// hold bodies individually so they can be resolved lazily.
func EncodeBody(b *Body) ([]byte, error) {
	return cborEncMode.Marshal(b)
}

// DecodeBody deserializes a Body from CBOR bytes.
func DecodeBody(data []byte) (*Body, error) {
	var b Body
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("mir: unmarshal body: %w", err)
	}
	return &b, nil
}
