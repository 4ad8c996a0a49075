// Package sink implements the storage/decode sink: it turns a successfully
// read (did, raw bytes) pair into three published views (raw hex, flat
// JSON, hierarchical tree) and tracks per-session statistics (spec.md §4.3).
package sink

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/viess-e3/udsgw/catalog"
	"github.com/viess-e3/udsgw/codec"
)

// deviceSpecificSymbolicID is published when a DID's declared length
// disagrees with what came back on the wire, or the DID is unknown to the
// catalog (spec.md §4.3).
const deviceSpecificSymbolicID = "DeviceSpecific"

// treeChildCap bounds recursion through nested maps (spec.md §4.3: "a
// safety cap of 100 children per level").
const treeChildCap = 100

// Publisher is the external host automation framework's publish surface.
// The sink holds no other reference to host state.
type Publisher interface {
	PublishRaw(did uint16, symbolicID string, hexValue string)
	PublishJSON(did uint16, symbolicID string, jsonValue string)
	PublishTree(did uint16, symbolicID string, value any)
	DeleteTree(did uint16)
	PublishStats(stats Snapshot)
}

// Sink ties a catalog and codec registry to a publisher.
type Sink struct {
	Catalog  *catalog.Catalog
	Registry *codec.Registry
	Pub      Publisher
	Stats    *Statistics
}

func New(cat *catalog.Catalog, reg *codec.Registry, pub Publisher) *Sink {
	return &Sink{Catalog: cat, Registry: reg, Pub: pub, Stats: NewStatistics()}
}

// Publish handles a successful read of (did, raw). It publishes values only;
// statistics are published separately by Statistics.PublishIfDue.
func (s *Sink) Publish(did uint16, raw []byte) {
	symbolicID, value, ok := s.decode(did, raw)
	rawHex := hex.EncodeToString(raw)

	if !ok {
		s.Pub.PublishRaw(did, deviceSpecificSymbolicID, rawHex)
		return
	}

	s.Pub.PublishRaw(did, symbolicID, rawHex)

	if js, err := json.Marshal(value); err == nil {
		s.Pub.PublishJSON(did, symbolicID, string(js))
	}

	s.Pub.PublishTree(did, symbolicID, truncateTree(value, treeChildCap))
}

// decode resolves the descriptor and codec for did and decodes raw.
// The second bool reports whether a structured (non-raw-only) value was
// produced; false means the DeviceSpecific raw-only fallback applies.
func (s *Sink) decode(did uint16, raw []byte) (string, any, bool) {
	desc, ok := s.Catalog.Lookup(did)
	if !ok {
		return "", nil, false
	}
	if int(desc.DeclaredLen) != len(raw) {
		return "", nil, false
	}
	c, err := s.Registry.Resolve(desc.CodecName)
	if err != nil {
		return "", nil, false
	}
	value, err := c.Decode(raw, desc.CodecArgs)
	if err != nil {
		return "", nil, false
	}
	return sanitizeSymbolicID(desc.SymbolicID), value, true
}

// sanitizeSymbolicID replaces forbidden characters with '_' and '.' with
// '_' (spec.md §4.3).
func sanitizeSymbolicID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r == '.':
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// truncateTree recurses through nested maps up to cap children per level,
// publishing numeric leaves as numbers and everything else as strings, per
// spec.md §4.3.
func truncateTree(value any, cap int) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		i := 0
		for k, child := range v {
			if i >= cap {
				break
			}
			out[k] = truncateTree(child, cap)
			i++
		}
		return out
	case int, int64, uint64, float64:
		return v
	default:
		return toLeafString(v)
	}
}

func toLeafString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if b, ok := v.([]byte); ok {
		return hex.EncodeToString(b)
	}
	if b, ok := v.(bool); ok {
		return strconv.FormatBool(b)
	}
	return ""
}
