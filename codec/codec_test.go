package codec

import (
	"reflect"
	"testing"
)

func TestRegistryResolveUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Resolve("does-not-exist"); err == nil {
		t.Fatal("Resolve: expected error for unknown codec name")
	}
}

func TestUintCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		raw  []byte
		want any
	}{
		{"uint8", KindUint8, []byte{0x2A}, uint64(0x2A)},
		{"uint16be", KindUint16, []byte{0x01, 0x00}, uint64(256)},
		{"int16be negative", KindInt16, []byte{0xFF, 0xFF}, int64(-1)},
		{"uint32be", KindUint32, []byte{0x00, 0x00, 0x01, 0x00}, uint64(256)},
	}

	r := NewRegistry()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := r.Resolve(string(tc.kind))
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			got, err := c.Decode(tc.raw, nil)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Decode = %v (%T), want %v (%T)", got, got, tc.want, tc.want)
			}
			encoded, err := c.Encode(got, nil)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if !reflect.DeepEqual(encoded, tc.raw) {
				t.Errorf("Encode round-trip = % 02X, want % 02X", encoded, tc.raw)
			}
		})
	}
}

func TestEnumCodec(t *testing.T) {
	c := enumCodec{}
	args := map[string]any{"values": map[int]string{0: "Off", 1: "On"}}

	got, err := c.Decode([]byte{1}, args)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "On" {
		t.Errorf("Decode = %v, want On", got)
	}

	if _, err := c.Decode([]byte{1, 2}, args); err == nil {
		t.Error("Decode: expected error for wrong length")
	}

	encoded, err := c.Encode("Off", args)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if encoded[0] != 0 {
		t.Errorf("Encode = % 02X, want [00]", encoded)
	}
}

func TestBitfieldCodec(t *testing.T) {
	c := bitfieldCodec{}
	args := map[string]any{"bits": []string{"pump", "burner", "", "alarm"}}

	got, err := c.Decode([]byte{0b0000_1011}, args)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	bits := got.(map[string]any)
	if bits["pump"] != true || bits["burner"] != true || bits["alarm"] != true {
		t.Errorf("Decode = %v, want pump/burner/alarm set", bits)
	}

	encoded, err := c.Encode(bits, args)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if encoded[0] != 0b0000_1011 {
		t.Errorf("Encode = %08b, want 00001011", encoded[0])
	}
}

func TestScaledCodec(t *testing.T) {
	c := scaledCodec{}
	args := map[string]any{"scale": 0.1, "offset": -40.0}

	got, err := c.Decode([]byte{0x01, 0x90}, args)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := float64(400)*0.1 - 40
	if got.(float64) != want {
		t.Errorf("Decode = %v, want %v", got, want)
	}
}

func TestASCIICodecTrimsPadding(t *testing.T) {
	c := asciiCodec{}
	got, err := c.Decode([]byte("E3HK  "), nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "E3HK" {
		t.Errorf("Decode = %q, want %q", got, "E3HK")
	}
}
