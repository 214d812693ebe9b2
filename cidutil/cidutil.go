// Package cidutil holds the CID conventions used across scipfs: syntactic
// validation of addresses handed to the storage bridge, and a deterministic
// CIDv1 derivation used by the in-memory test bridge.
package cidutil

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Decode parses a content-address string, accepting both CIDv0 (Qm...) and
// CIDv1 forms. Helper output for file adds is CIDv1 by contract, but pinned
// sets listed from an existing repo may contain v0 addresses.
func Decode(s string) (cid.Cid, error) {
	return cid.Decode(s)
}

// Valid reports whether s parses as a CID. Used for argument validation
// before dispatching a helper invocation.
func Valid(s string) bool {
	_, err := cid.Decode(s)
	return err == nil
}

// CIDv1RawSHA256 returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash.
func CIDv1RawSHA256(data []byte) string {
	id, err := CIDv1RawSHA256CID(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// CIDv1RawSHA256CID returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		// multihash.Sum only errors for invalid inputs; with SHA2_256 and -1
		// length, this should be unreachable.
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}
