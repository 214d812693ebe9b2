// Package storage defines the narrow, typed operation set the rest of
// scipfs uses to drive the content-addressed storage network.
package storage

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"
)

// PinFilter selects which pin types ListPinned reports.
type PinFilter string

const (
	PinRecursive PinFilter = "recursive"
	PinDirect    PinFilter = "direct"
	PinIndirect  PinFilter = "indirect"
	PinAll       PinFilter = "all"
)

// KeyInfo describes one identity key held by the daemon keystore.
type KeyInfo struct {
	Alias  string
	PeerID string
}

// PublishResult reports the outcome of a name publication.
type PublishResult struct {
	// Name is the public name the record was published under (without
	// the /ipns/ prefix).
	Name string
	// Value is the /ipfs/ path the name now points to.
	Value string
}

// DaemonInfo identifies the daemon behind the helper.
type DaemonInfo struct {
	PeerID          string
	AgentVersion    string
	ProtocolVersion string
	Addresses       []string
}

// Bridge is the operation set over the storage network.
//
// Contract:
//   - Inputs are validated (address and path syntax) before any dispatch.
//   - Every call blocks until completion or its context deadline; callers
//     without a deadline get the implementation's default timeout.
//   - Failures carry a fault.Kind; no operation is retried internally.
//   - Implementations must be safe for sequential use by one goroutine;
//     concurrent use is not part of the contract.
type Bridge interface {
	// PutFile adds the bytes of a local file and returns their address.
	PutFile(ctx context.Context, path string) (cid.Cid, error)
	// PutJSON serializes v as JSON, adds it, and returns the address.
	// A json.RawMessage is stored byte-for-byte, letting callers fix the
	// exact stored bytes.
	PutJSON(ctx context.Context, v any) (cid.Cid, error)
	// GetToFile fetches the content at id into dest, replacing it.
	GetToFile(ctx context.Context, id cid.Cid, dest string) error
	// GetJSON fetches the content at id and unmarshals it into out.
	GetJSON(ctx context.Context, id cid.Cid, out any) error

	Pin(ctx context.Context, id cid.Cid) error
	Unpin(ctx context.Context, id cid.Cid) error
	// ListPinned returns pinned addresses mapped to their pin type.
	ListPinned(ctx context.Context, filter PinFilter) (map[string]string, error)

	// PublishName points keyAlias's public name at id for lifetime.
	PublishName(ctx context.Context, keyAlias string, id cid.Cid, lifetime time.Duration) (PublishResult, error)
	// ResolveName resolves a /ipns/ name to the address it points at.
	// A resolution miss is a fault.NotFound.
	ResolveName(ctx context.Context, publicName string) (cid.Cid, error)

	GenerateKey(ctx context.Context, alias string) (KeyInfo, error)
	ListKeys(ctx context.Context) ([]KeyInfo, error)

	// FindProviders returns up to limit peer IDs advertising id.
	FindProviders(ctx context.Context, id cid.Cid, limit int) ([]string, error)
	DaemonInfo(ctx context.Context) (DaemonInfo, error)
}
