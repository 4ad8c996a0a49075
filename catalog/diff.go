package catalog

import "github.com/google/go-cmp/cmp"

// shape projects a DidDescriptor down to the fields that matter for the
// structural diff spec.md §4.4 calls for: codec name and declared length.
// Symbolic id and codec args can change across catalog versions without
// invalidating previously-decoded tree nodes.
type shape struct {
	CodecName   string
	DeclaredLen uint16
}

func toShape(d DidDescriptor) shape {
	return shape{CodecName: d.CodecName, DeclaredLen: d.DeclaredLen}
}

// Diff reports which DIDs changed shape between a stored and a shipped
// catalog. Per spec.md §4.4, a DID present in only one side counts as
// changed (it either needs a fresh publish or a stale one removed).
func Diff(stored, shipped *Catalog) []uint16 {
	var changed []uint16
	seen := make(map[uint16]bool)

	for did, sd := range stored.Dids {
		seen[did] = true
		nd, ok := shipped.Dids[did]
		if !ok || !cmp.Equal(toShape(sd), toShape(nd)) {
			changed = append(changed, did)
		}
	}
	for did := range shipped.Dids {
		if !seen[did] {
			changed = append(changed, did)
		}
	}
	return changed
}

// UpgradeInfo describes what a boot-time catalog load must do to reconcile
// a previously stored catalog version with the shipped one (spec.md §4.4).
type UpgradeInfo struct {
	// StructuralChanges lists DIDs whose (codecName, declaredLen) pair
	// diverged; their published tree must be deleted and re-published
	// from stored raw bytes with the new codec.
	StructuralChanges []uint16

	// TypeCorrectionOnly is true when the stored version predates the
	// known type-correction threshold but no structural change occurred;
	// tree leaves must be republished to fix element types, and the
	// known variable-length DIDs must be pre-deleted to avoid type
	// conflicts.
	TypeCorrectionOnly bool
}

// typeCorrectionThreshold is the catalog version at or after which tree
// leaf types were known to be correct. Versions older than this need the
// leaf-type correction pass even with no structural change.
const typeCorrectionThreshold = "2.0"

// Reconcile computes what must happen when booting with storedVersion
// already on disk and shipped as the new catalog.
func Reconcile(storedVersion string, stored, shipped *Catalog) UpgradeInfo {
	if !VersionOlderThan(storedVersion, shipped.Version) {
		return UpgradeInfo{}
	}
	changes := Diff(stored, shipped)
	if len(changes) > 0 {
		return UpgradeInfo{StructuralChanges: changes}
	}
	if VersionOlderThan(storedVersion, typeCorrectionThreshold) {
		return UpgradeInfo{TypeCorrectionOnly: true}
	}
	return UpgradeInfo{}
}
