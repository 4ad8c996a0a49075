// Package codec implements the DID value codecs: decode(bytes) -> value and
// encode(value) -> bytes, treated as a closed family (spec.md Design Notes:
// "prefer a closed enum of codec variants over reflective lookup so catalog
// loading validates at boot").
package codec

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Kind names one of the fixed codec variants a DID descriptor may reference.
type Kind string

const (
	KindUint8   Kind = "uint8"
	KindUint16  Kind = "uint16be"
	KindInt16   Kind = "int16be"
	KindUint32  Kind = "uint32be"
	KindEnum    Kind = "enum8"
	KindBits    Kind = "bitfield8"
	KindASCII   Kind = "ascii"
	KindScaled  Kind = "scaled16be"
	KindRaw     Kind = "raw"
)

// Codec decodes a raw DID payload into a structured value and encodes a
// value back into the wire representation used for WriteByDid.
type Codec interface {
	Decode(raw []byte, args map[string]any) (any, error)
	Encode(value any, args map[string]any) ([]byte, error)
}

// Registry resolves a codec by name, failing closed on unknown names so
// catalog loading can reject a bad descriptor at boot rather than at decode
// time on the hot path.
type Registry struct {
	codecs map[Kind]Codec
}

// NewRegistry builds the standard registry covering every Kind above.
func NewRegistry() *Registry {
	return &Registry{codecs: map[Kind]Codec{
		KindUint8:  uintCodec{width: 1, signed: false},
		KindUint16: uintCodec{width: 2, signed: false},
		KindInt16:  uintCodec{width: 2, signed: true},
		KindUint32: uintCodec{width: 4, signed: false},
		KindEnum:   enumCodec{},
		KindBits:   bitfieldCodec{},
		KindASCII:  asciiCodec{},
		KindScaled: scaledCodec{},
		KindRaw:    rawCodec{},
	}}
}

// Resolve returns the codec for name, or an error if name is not a known
// Kind. Called once per DID at catalog-load time.
func (r *Registry) Resolve(name string) (Codec, error) {
	c, ok := r.codecs[Kind(name)]
	if !ok {
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
	return c, nil
}

// --- uintCodec: uint8/uint16be/uint32be/int16be ---

type uintCodec struct {
	width  int
	signed bool
}

func (c uintCodec) Decode(raw []byte, _ map[string]any) (any, error) {
	if len(raw) != c.width {
		return nil, fmt.Errorf("codec: expected %d bytes, got %d", c.width, len(raw))
	}
	switch c.width {
	case 1:
		return uint64(raw[0]), nil
	case 2:
		v := binary.BigEndian.Uint16(raw)
		if c.signed {
			return int64(int16(v)), nil
		}
		return uint64(v), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(raw)), nil
	}
	return nil, fmt.Errorf("codec: unsupported width %d", c.width)
}

func (c uintCodec) Encode(value any, _ map[string]any) ([]byte, error) {
	out := make([]byte, c.width)
	n, err := toInt64(value)
	if err != nil {
		return nil, err
	}
	switch c.width {
	case 1:
		out[0] = byte(n)
	case 2:
		binary.BigEndian.PutUint16(out, uint16(n))
	case 4:
		binary.BigEndian.PutUint32(out, uint32(n))
	}
	return out, nil
}

// --- enumCodec: single byte mapped through args["values"] map[int]string ---

type enumCodec struct{}

func (enumCodec) Decode(raw []byte, args map[string]any) (any, error) {
	if len(raw) != 1 {
		return nil, fmt.Errorf("codec: enum8 expects 1 byte, got %d", len(raw))
	}
	if values, ok := args["values"].(map[int]string); ok {
		if label, ok := values[int(raw[0])]; ok {
			return label, nil
		}
	}
	return fmt.Sprintf("0x%02X", raw[0]), nil
}

func (enumCodec) Encode(value any, args map[string]any) ([]byte, error) {
	label, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("codec: enum8 encode expects a string")
	}
	if values, ok := args["values"].(map[int]string); ok {
		for k, v := range values {
			if v == label {
				return []byte{byte(k)}, nil
			}
		}
	}
	return nil, fmt.Errorf("codec: enum8 unknown label %q", label)
}

// --- bitfieldCodec: single byte split into named bits (args["bits"] []string, lsb first) ---

type bitfieldCodec struct{}

func (bitfieldCodec) Decode(raw []byte, args map[string]any) (any, error) {
	if len(raw) != 1 {
		return nil, fmt.Errorf("codec: bitfield8 expects 1 byte, got %d", len(raw))
	}
	names, _ := args["bits"].([]string)
	out := make(map[string]any, len(names))
	for i, name := range names {
		if name == "" {
			continue
		}
		out[name] = raw[0]&(1<<uint(i)) != 0
	}
	return out, nil
}

func (bitfieldCodec) Encode(value any, args map[string]any) ([]byte, error) {
	bits, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("codec: bitfield8 encode expects a map")
	}
	names, _ := args["bits"].([]string)
	var b byte
	for i, name := range names {
		if name == "" {
			continue
		}
		if set, _ := bits[name].(bool); set {
			b |= 1 << uint(i)
		}
	}
	return []byte{b}, nil
}

// --- asciiCodec: fixed-length ASCII string, space-padded ---

type asciiCodec struct{}

func (asciiCodec) Decode(raw []byte, _ map[string]any) (any, error) {
	return strings.TrimRight(string(raw), " \x00"), nil
}

func (asciiCodec) Encode(value any, args map[string]any) ([]byte, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("codec: ascii encode expects a string")
	}
	width, _ := args["length"].(int)
	if width == 0 {
		width = len(s)
	}
	out := make([]byte, width)
	for i := range out {
		out[i] = ' '
	}
	n := copy(out, s)
	if n < len(s) {
		return nil, fmt.Errorf("codec: ascii value %q exceeds declared length %d", s, width)
	}
	return out, nil
}

// --- scaledCodec: 2-byte big-endian integer with args["scale"], args["offset"] float64 ---

type scaledCodec struct{}

func (scaledCodec) Decode(raw []byte, args map[string]any) (any, error) {
	if len(raw) != 2 {
		return nil, fmt.Errorf("codec: scaled16be expects 2 bytes, got %d", len(raw))
	}
	scale, _ := args["scale"].(float64)
	if scale == 0 {
		scale = 1
	}
	offset, _ := args["offset"].(float64)
	raw16 := binary.BigEndian.Uint16(raw)
	return float64(raw16)*scale + offset, nil
}

func (scaledCodec) Encode(value any, args map[string]any) ([]byte, error) {
	f, err := toFloat64(value)
	if err != nil {
		return nil, err
	}
	scale, _ := args["scale"].(float64)
	if scale == 0 {
		scale = 1
	}
	offset, _ := args["offset"].(float64)
	raw16 := uint16((f - offset) / scale)
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, raw16)
	return out, nil
}

// --- rawCodec: passthrough, used for DeviceSpecific / unknown-length fallback ---

type rawCodec struct{}

func (rawCodec) Decode(raw []byte, _ map[string]any) (any, error) {
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (rawCodec) Encode(value any, _ map[string]any) ([]byte, error) {
	b, ok := value.([]byte)
	if !ok {
		return nil, fmt.Errorf("codec: raw encode expects []byte")
	}
	return b, nil
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("codec: cannot convert %T to integer", value)
	}
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("codec: cannot convert %T to float64", value)
	}
}
