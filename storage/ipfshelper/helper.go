// Package ipfshelper implements the storage bridge over an external
// helper executable that brokers every operation against a running
// storage daemon.
//
// The helper is invoked as:
//
//	<helper> -api <daemon-multiaddr> <operation> <flags...>
//
// and emits exactly one JSON envelope {success, data|error}. The bridge
// never retries; retry policy belongs to callers.
package ipfshelper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mborders/logmatic"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/scipfs/scipfs/fault"
	"github.com/scipfs/scipfs/storage"
)

const (
	// DefaultMetadataTimeout bounds pin, key, publish, and identity calls.
	DefaultMetadataTimeout = 30 * time.Second
	// DefaultTransferTimeout bounds bulk content upload and download.
	DefaultTransferTimeout = 300 * time.Second
	// DefaultDiscoveryTimeout bounds name resolution and provider walks,
	// which traverse the routing layer but move no content.
	DefaultDiscoveryTimeout = 60 * time.Second
)

// Options configure a Helper. The zero value plus APIAddr is usable.
type Options struct {
	// APIAddr is the daemon API multiaddress passed to every invocation.
	APIAddr string
	// Bin is an explicit helper path; when empty the helper is discovered
	// (working directory, install directory, PATH).
	Bin string
	// HelperName overrides the discovered executable name.
	HelperName string
	// MinDaemonVersion overrides the compiled-in version floor.
	MinDaemonVersion string

	MetadataTimeout  time.Duration
	TransferTimeout  time.Duration
	DiscoveryTimeout time.Duration

	Log *logmatic.Logger
}

// Helper is the subprocess-backed storage.Bridge.
//
// The helper path, its self-reported version, and the daemon identity are
// resolved once in New and immutable afterwards.
type Helper struct {
	bin     string
	apiAddr string

	helperVersion string
	daemon        storage.DaemonInfo

	metadataTimeout  time.Duration
	transferTimeout  time.Duration
	discoveryTimeout time.Duration

	log *logmatic.Logger
}

var _ storage.Bridge = (*Helper)(nil)

// New locates the helper, verifies it is functional via its version
// command, and gates on the daemon version floor. Any failure here is
// fatal for the bridge: it refuses to construct rather than operate
// against an unknown helper or an old daemon.
func New(ctx context.Context, opts Options) (*Helper, error) {
	const op = "bridge.New"

	if opts.APIAddr == "" {
		return nil, fault.New(fault.InvalidArgument, op, "daemon API address is required")
	}
	if _, err := ma.NewMultiaddr(opts.APIAddr); err != nil {
		return nil, fault.Wrap(fault.InvalidArgument, op, fmt.Sprintf("invalid daemon API address %q", opts.APIAddr), err)
	}

	bin, err := locateHelper(opts.Bin, opts.HelperName)
	if err != nil {
		return nil, err
	}

	log := opts.Log
	if log == nil {
		log = logmatic.NewLogger()
		log.SetLevel(logmatic.WARN)
		log.ExitOnFatal = false
	}

	h := &Helper{
		bin:              bin,
		apiAddr:          opts.APIAddr,
		metadataTimeout:  orDefault(opts.MetadataTimeout, DefaultMetadataTimeout),
		transferTimeout:  orDefault(opts.TransferTimeout, DefaultTransferTimeout),
		discoveryTimeout: orDefault(opts.DiscoveryTimeout, DefaultDiscoveryTimeout),
		log:              log,
	}

	wctx, cancel := withTimeout(ctx, h.metadataTimeout)
	defer cancel()

	// Handshake 1: the helper must answer its own version command with a
	// well-formed envelope, proving the executable is the one we expect.
	raw, err := h.run(wctx, nil, "version")
	if err != nil {
		if fault.IsKind(err, fault.OperationFailed) || fault.IsKind(err, fault.MalformedResponse) {
			return nil, fault.Wrap(fault.HelperUnavailable, op, "helper failed its version handshake", err)
		}
		return nil, err
	}
	var ver struct {
		Version string `json:"version"`
	}
	if jerr := json.Unmarshal(raw, &ver); jerr != nil || ver.Version == "" {
		return nil, fault.Wrap(fault.MalformedResponse, op, "helper version payload missing version field", jerr)
	}
	h.helperVersion = ver.Version

	// Handshake 2: the daemon behind the helper must be at or above the
	// version floor.
	info, err := h.DaemonInfo(ctx)
	if err != nil {
		return nil, err
	}
	h.daemon = info

	floor := opts.MinDaemonVersion
	if floor == "" {
		floor = MinDaemonVersion
	}
	release, err := daemonVersionFromAgent(info.AgentVersion)
	if err != nil {
		return nil, fault.Wrap(fault.MalformedResponse, op, "daemon identity has no parseable version", err)
	}
	below, err := versionBelow(release, floor)
	if err != nil {
		return nil, fault.Wrap(fault.MalformedResponse, op, "cannot compare daemon version", err)
	}
	if below {
		return nil, fault.New(fault.VersionIncompatible, op,
			fmt.Sprintf("daemon version %s is below required %s", release, floor))
	}

	log.Info("storage bridge ready: helper %s (v%s), daemon %s (%s)", bin, h.helperVersion, info.PeerID, release)
	return h, nil
}

// HelperVersion returns the helper's self-reported version.
func (h *Helper) HelperVersion() string { return h.helperVersion }

// Daemon returns the identity captured during the startup handshake.
func (h *Helper) Daemon() storage.DaemonInfo { return h.daemon }

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
