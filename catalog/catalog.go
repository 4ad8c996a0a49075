// Package catalog loads and merges the DID catalog: a mapping from DID
// number to codec descriptor, plus the writable-DID set, versioned so a
// device-specific catalog can be diffed against a previously stored one.
package catalog

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/viess-e3/udsgw/codec"
)

// DidDescriptor names one DID's wire representation (spec.md §3).
type DidDescriptor struct {
	DidNumber   uint16         `yaml:"did"`
	SymbolicID  string         `yaml:"symbolic_id"`
	DeclaredLen uint16         `yaml:"declared_len"`
	CodecName   string         `yaml:"codec"`
	CodecArgs   map[string]any `yaml:"codec_args,omitempty"`
	Writable    bool           `yaml:"writable,omitempty"`
}

// file is the on-disk shape of one catalog document.
type file struct {
	Version string          `yaml:"version"`
	Dids    []DidDescriptor `yaml:"dids"`
}

// Catalog is the merged, queryable view used by the decode sink and the
// session engine's write-authorization check.
type Catalog struct {
	Version  string
	Dids     map[uint16]DidDescriptor
	Writable map[uint16]bool
}

// VariableLengthDids is the known fixed list of DIDs treated as
// variable-length (spec.md §4.4, Design Notes): their declared length is
// not trustworthy across catalog versions and they must be pre-deleted on
// a type-correction re-publish.
var VariableLengthDids = map[uint16]bool{
	0x0100: true,
	0x01F8: true,
	0x0230: true,
}

// Load reads and merges a common catalog and a device-specific catalog.
// The device-specific document wins on DID collisions; its version string
// becomes the merged catalog's version. Every merged descriptor's codec name
// is resolved against the codec registry; an unknown name fails the load.
func Load(commonPath, devicePath string) (*Catalog, error) {
	common, err := loadFile(commonPath)
	if err != nil {
		return nil, errors.Wrapf(err, "catalog: loading common catalog %s", commonPath)
	}
	device, err := loadFile(devicePath)
	if err != nil {
		return nil, errors.Wrapf(err, "catalog: loading device catalog %s", devicePath)
	}
	c := merge(common, device)
	reg := codec.NewRegistry()
	for did, d := range c.Dids {
		if _, err := reg.Resolve(d.CodecName); err != nil {
			return nil, errors.Wrapf(err, "catalog: did 0x%04X", did)
		}
	}
	return c, nil
}

func loadFile(path string) (*file, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "catalog: invalid YAML")
	}
	return &f, nil
}

func merge(common, device *file) *Catalog {
	c := &Catalog{
		Version:  device.Version,
		Dids:     make(map[uint16]DidDescriptor, len(common.Dids)+len(device.Dids)),
		Writable: make(map[uint16]bool),
	}
	for _, d := range common.Dids {
		c.Dids[d.DidNumber] = d
		if d.Writable {
			c.Writable[d.DidNumber] = true
		}
	}
	for _, d := range device.Dids {
		c.Dids[d.DidNumber] = d
		if d.Writable {
			c.Writable[d.DidNumber] = true
		} else {
			delete(c.Writable, d.DidNumber)
		}
	}
	return c
}

// Lookup returns the descriptor for did and whether it exists in the
// catalog, used by the decode sink's DeviceSpecific fallback (spec.md §4.3).
func (c *Catalog) Lookup(did uint16) (DidDescriptor, bool) {
	d, ok := c.Dids[did]
	return d, ok
}

// IsWritable reports whether did is authorized for WriteByDid.
func (c *Catalog) IsWritable(did uint16) bool {
	return c.Writable[did]
}

// VersionOlderThan compares two dotted version strings numerically
// component by component (e.g. "1.10" > "1.9"), falling back to a plain
// string compare if either side fails to parse as dotted integers.
func VersionOlderThan(a, b string) bool {
	pa, oka := splitVersion(a)
	pb, okb := splitVersion(b)
	if !oka || !okb {
		return a < b
	}
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var va, vb int
		if i < len(pa) {
			va = pa[i]
		}
		if i < len(pb) {
			vb = pb[i]
		}
		if va != vb {
			return va < vb
		}
	}
	return false
}

func splitVersion(v string) ([]int, bool) {
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}
