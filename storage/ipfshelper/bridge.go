package ipfshelper

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/scipfs/scipfs/cidutil"
	"github.com/scipfs/scipfs/fault"
	"github.com/scipfs/scipfs/storage"
)

func (h *Helper) PutFile(ctx context.Context, path string) (cid.Cid, error) {
	const op = "bridge.PutFile"

	info, err := os.Stat(path)
	if err != nil {
		return cid.Undef, fault.Wrap(fault.InvalidArgument, op, fmt.Sprintf("cannot read %s", path), err)
	}
	if info.IsDir() {
		return cid.Undef, fault.New(fault.InvalidArgument, op, fmt.Sprintf("%s is a directory", path))
	}

	ctx, cancel := withTimeout(ctx, h.transferTimeout)
	defer cancel()

	raw, err := h.run(ctx, nil, "add_file", "--file", path)
	if err != nil {
		return cid.Undef, err
	}
	return decodeCIDPayload(op, raw)
}

func (h *Helper) PutJSON(ctx context.Context, v any) (cid.Cid, error) {
	const op = "bridge.PutJSON"

	// A RawMessage is stored byte-for-byte so callers that pre-serialize
	// keep control of the exact stored bytes (and thus the address).
	var payload []byte
	switch p := v.(type) {
	case json.RawMessage:
		payload = p
	default:
		var err error
		payload, err = json.Marshal(v)
		if err != nil {
			return cid.Undef, fault.Wrap(fault.InvalidArgument, op, "value is not JSON-serializable", err)
		}
	}

	ctx, cancel := withTimeout(ctx, h.transferTimeout)
	defer cancel()

	raw, err := h.run(ctx, payload, "add_json")
	if err != nil {
		return cid.Undef, err
	}
	return decodeCIDPayload(op, raw)
}

func (h *Helper) GetToFile(ctx context.Context, id cid.Cid, dest string) error {
	const op = "bridge.GetToFile"

	if !id.Defined() {
		return fault.New(fault.InvalidArgument, op, "undefined content address")
	}
	if dest == "" {
		return fault.New(fault.InvalidArgument, op, "destination path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fault.Wrap(fault.InvalidArgument, op, fmt.Sprintf("cannot create directory for %s", dest), err)
	}

	ctx, cancel := withTimeout(ctx, h.transferTimeout)
	defer cancel()

	_, err := h.run(ctx, nil, "get_cid_to_file", "--cid", id.String(), "--output", dest)
	return err
}

func (h *Helper) GetJSON(ctx context.Context, id cid.Cid, out any) error {
	const op = "bridge.GetJSON"

	if !id.Defined() {
		return fault.New(fault.InvalidArgument, op, "undefined content address")
	}

	ctx, cancel := withTimeout(ctx, h.transferTimeout)
	defer cancel()

	raw, err := h.run(ctx, nil, "get_json_cid", "--cid", id.String())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fault.Wrap(fault.MalformedResponse, op, "payload does not match expected shape", err)
	}
	return nil
}

func (h *Helper) Pin(ctx context.Context, id cid.Cid) error {
	const op = "bridge.Pin"
	if !id.Defined() {
		return fault.New(fault.InvalidArgument, op, "undefined content address")
	}
	ctx, cancel := withTimeout(ctx, h.metadataTimeout)
	defer cancel()
	_, err := h.run(ctx, nil, "pin", id.String())
	return err
}

func (h *Helper) Unpin(ctx context.Context, id cid.Cid) error {
	const op = "bridge.Unpin"
	if !id.Defined() {
		return fault.New(fault.InvalidArgument, op, "undefined content address")
	}
	ctx, cancel := withTimeout(ctx, h.metadataTimeout)
	defer cancel()
	_, err := h.run(ctx, nil, "unpin", id.String())
	return err
}

func (h *Helper) ListPinned(ctx context.Context, filter storage.PinFilter) (map[string]string, error) {
	const op = "bridge.ListPinned"

	switch filter {
	case storage.PinRecursive, storage.PinDirect, storage.PinIndirect, storage.PinAll:
	case "":
		filter = storage.PinRecursive
	default:
		return nil, fault.New(fault.InvalidArgument, op, fmt.Sprintf("unknown pin filter %q", filter))
	}

	ctx, cancel := withTimeout(ctx, h.metadataTimeout)
	defer cancel()

	raw, err := h.run(ctx, nil, "list_pinned_cids", "--pin-type", string(filter))
	if err != nil {
		return nil, err
	}
	pinned := make(map[string]string)
	if err := json.Unmarshal(raw, &pinned); err != nil {
		return nil, fault.Wrap(fault.MalformedResponse, op, "pin listing is not a string map", err)
	}
	for id := range pinned {
		if !cidutil.Valid(id) {
			return nil, fault.New(fault.MalformedResponse, op, fmt.Sprintf("pin listing contains non-CID entry %q", id))
		}
	}
	return pinned, nil
}

func (h *Helper) PublishName(ctx context.Context, keyAlias string, id cid.Cid, lifetime time.Duration) (storage.PublishResult, error) {
	const op = "bridge.PublishName"

	var res storage.PublishResult
	if keyAlias == "" {
		return res, fault.New(fault.InvalidArgument, op, "key alias is required")
	}
	if !id.Defined() {
		return res, fault.New(fault.InvalidArgument, op, "undefined content address")
	}
	if lifetime <= 0 {
		return res, fault.New(fault.InvalidArgument, op, "record lifetime must be positive")
	}

	ctx, cancel := withTimeout(ctx, h.metadataTimeout)
	defer cancel()

	raw, err := h.run(ctx, nil, "publish_ipns",
		"--key-name", keyAlias,
		"--path", "/ipfs/"+id.String(),
		"--lifetime", formatLifetime(lifetime))
	if err != nil {
		return res, err
	}

	var payload struct {
		Name  string `json:"Name"`
		Value string `json:"Value"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Name == "" || payload.Value == "" {
		return res, fault.Wrap(fault.MalformedResponse, op, "publish payload missing Name/Value", err)
	}
	res.Name = payload.Name
	res.Value = payload.Value
	return res, nil
}

func (h *Helper) ResolveName(ctx context.Context, publicName string) (cid.Cid, error) {
	const op = "bridge.ResolveName"

	if !strings.HasPrefix(publicName, "/ipns/") {
		return cid.Undef, fault.New(fault.InvalidArgument, op, "public name must start with /ipns/")
	}

	ctx, cancel := withTimeout(ctx, h.discoveryTimeout)
	defer cancel()

	raw, err := h.run(ctx, nil, "resolve_ipns", "--ipns-name", publicName)
	if err != nil {
		return cid.Undef, err
	}

	var payload struct {
		Path string `json:"Path"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return cid.Undef, fault.Wrap(fault.MalformedResponse, op, "resolve payload missing Path", err)
	}
	rest, ok := strings.CutPrefix(payload.Path, "/ipfs/")
	if !ok {
		return cid.Undef, fault.New(fault.MalformedResponse, op,
			fmt.Sprintf("resolved to non-content path %q", payload.Path))
	}
	id, err := cidutil.Decode(rest)
	if err != nil {
		return cid.Undef, fault.Wrap(fault.MalformedResponse, op,
			fmt.Sprintf("resolved path %q has invalid address", payload.Path), err)
	}
	return id, nil
}

func (h *Helper) GenerateKey(ctx context.Context, alias string) (storage.KeyInfo, error) {
	const op = "bridge.GenerateKey"

	var info storage.KeyInfo
	if alias == "" {
		return info, fault.New(fault.InvalidArgument, op, "key alias is required")
	}

	ctx, cancel := withTimeout(ctx, h.metadataTimeout)
	defer cancel()

	raw, err := h.run(ctx, nil, "gen_ipns_key", "--key-name", alias)
	if err != nil {
		return info, err
	}
	var payload struct {
		Name string `json:"Name"`
		ID   string `json:"Id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ID == "" {
		return info, fault.Wrap(fault.MalformedResponse, op, "key payload missing Id", err)
	}
	info.Alias = payload.Name
	info.PeerID = payload.ID
	return info, nil
}

func (h *Helper) ListKeys(ctx context.Context) ([]storage.KeyInfo, error) {
	const op = "bridge.ListKeys"

	ctx, cancel := withTimeout(ctx, h.metadataTimeout)
	defer cancel()

	raw, err := h.run(ctx, nil, "list_ipns_keys_cmd")
	if err != nil {
		return nil, err
	}
	var payload []struct {
		Name string `json:"Name"`
		ID   string `json:"Id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fault.Wrap(fault.MalformedResponse, op, "key listing is not a list", err)
	}
	keys := make([]storage.KeyInfo, 0, len(payload))
	for _, k := range payload {
		keys = append(keys, storage.KeyInfo{Alias: k.Name, PeerID: k.ID})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Alias < keys[j].Alias })
	return keys, nil
}

func (h *Helper) FindProviders(ctx context.Context, id cid.Cid, limit int) ([]string, error) {
	const op = "bridge.FindProviders"

	if !id.Defined() {
		return nil, fault.New(fault.InvalidArgument, op, "undefined content address")
	}
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := withTimeout(ctx, h.discoveryTimeout)
	defer cancel()

	raw, err := h.run(ctx, nil, "dht_find_providers",
		"--cid", id.String(),
		"--num-providers", fmt.Sprintf("%d", limit))
	if err != nil {
		return nil, err
	}
	var payload struct {
		Providers []string `json:"providers"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fault.Wrap(fault.MalformedResponse, op, "provider payload missing providers list", err)
	}
	return payload.Providers, nil
}

func (h *Helper) DaemonInfo(ctx context.Context) (storage.DaemonInfo, error) {
	const op = "bridge.DaemonInfo"

	var info storage.DaemonInfo

	ctx, cancel := withTimeout(ctx, h.metadataTimeout)
	defer cancel()

	raw, err := h.run(ctx, nil, "daemon_info")
	if err != nil {
		return info, err
	}
	var payload struct {
		ID              string   `json:"ID"`
		AgentVersion    string   `json:"AgentVersion"`
		ProtocolVersion string   `json:"ProtocolVersion"`
		Addresses       []string `json:"Addresses"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ID == "" {
		return info, fault.Wrap(fault.MalformedResponse, op, "daemon identity payload missing ID", err)
	}
	info.PeerID = payload.ID
	info.AgentVersion = payload.AgentVersion
	info.ProtocolVersion = payload.ProtocolVersion
	info.Addresses = payload.Addresses
	return info, nil
}

func decodeCIDPayload(op string, raw json.RawMessage) (cid.Cid, error) {
	var payload struct {
		CID string `json:"cid"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.CID == "" {
		return cid.Undef, fault.Wrap(fault.MalformedResponse, op, "payload missing cid field", err)
	}
	id, err := cidutil.Decode(payload.CID)
	if err != nil {
		return cid.Undef, fault.Wrap(fault.MalformedResponse, op,
			fmt.Sprintf("helper returned invalid address %q", payload.CID), err)
	}
	return id, nil
}

func formatLifetime(d time.Duration) string {
	// The helper accepts Go duration syntax ("24h", "30m").
	return d.String()
}
