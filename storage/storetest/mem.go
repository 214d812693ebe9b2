// Package storetest provides an in-memory storage.Bridge for tests. It
// records per-operation call counts and supports fault injection, so
// tests can assert properties like "a follower never publishes" or
// "a timeout leaves the local record untouched".
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/scipfs/scipfs/cidutil"
	"github.com/scipfs/scipfs/fault"
	"github.com/scipfs/scipfs/storage"
)

// MemBridge implements storage.Bridge entirely in memory. Content is
// addressed with CIDv1 raw+sha2-256 over the exact bytes supplied, so
// address round-trip properties hold the same way they do against a
// real daemon.
type MemBridge struct {
	mu        sync.Mutex
	objects   map[cid.Cid][]byte
	pins      map[cid.Cid]string
	keys      map[string]storage.KeyInfo
	names     map[string]cid.Cid
	providers map[cid.Cid][]string
	calls     map[string]int
	failures  map[string]error
	keySeq    int
}

var _ storage.Bridge = (*MemBridge)(nil)

func NewMemBridge() *MemBridge {
	return &MemBridge{
		objects:   make(map[cid.Cid][]byte),
		pins:      make(map[cid.Cid]string),
		keys:      make(map[string]storage.KeyInfo),
		names:     make(map[string]cid.Cid),
		providers: make(map[cid.Cid][]string),
		calls:     make(map[string]int),
		failures:  make(map[string]error),
	}
}

// Calls returns how many times the named operation has run (including
// injected failures).
func (m *MemBridge) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// FailWith makes the named operation return err until cleared with a nil
// err.
func (m *MemBridge) FailWith(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// SetProviders seeds the provider list reported for id.
func (m *MemBridge) SetProviders(id cid.Cid, peers []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[id] = peers
}

// Pinned reports whether id is pinned.
func (m *MemBridge) Pinned(id cid.Cid) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pins[id]
	return ok
}

// Object returns the stored bytes for id, or nil.
func (m *MemBridge) Object(id cid.Cid) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[id]
}

func (m *MemBridge) enter(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	if err := m.failures[op]; err != nil {
		return err
	}
	return nil
}

func (m *MemBridge) putBytes(data []byte) (cid.Cid, error) {
	id, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[id] = append([]byte(nil), data...)
	return id, nil
}

func (m *MemBridge) PutFile(ctx context.Context, path string) (cid.Cid, error) {
	if err := m.enter("PutFile"); err != nil {
		return cid.Undef, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cid.Undef, fault.Wrap(fault.InvalidArgument, "bridge.PutFile", fmt.Sprintf("cannot read %s", path), err)
	}
	return m.putBytes(data)
}

func (m *MemBridge) PutJSON(ctx context.Context, v any) (cid.Cid, error) {
	if err := m.enter("PutJSON"); err != nil {
		return cid.Undef, err
	}
	var data []byte
	switch p := v.(type) {
	case json.RawMessage:
		data = p
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return cid.Undef, fault.Wrap(fault.InvalidArgument, "bridge.PutJSON", "value is not JSON-serializable", err)
		}
	}
	return m.putBytes(data)
}

func (m *MemBridge) GetToFile(ctx context.Context, id cid.Cid, dest string) error {
	if err := m.enter("GetToFile"); err != nil {
		return err
	}
	m.mu.Lock()
	data, ok := m.objects[id]
	m.mu.Unlock()
	if !ok {
		return fault.New(fault.NotFound, "bridge.GetToFile", fmt.Sprintf("no object %s", id))
	}
	return os.WriteFile(dest, data, 0o644)
}

func (m *MemBridge) GetJSON(ctx context.Context, id cid.Cid, out any) error {
	if err := m.enter("GetJSON"); err != nil {
		return err
	}
	m.mu.Lock()
	data, ok := m.objects[id]
	m.mu.Unlock()
	if !ok {
		return fault.New(fault.NotFound, "bridge.GetJSON", fmt.Sprintf("no object %s", id))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fault.Wrap(fault.MalformedResponse, "bridge.GetJSON", "payload does not match expected shape", err)
	}
	return nil
}

func (m *MemBridge) Pin(ctx context.Context, id cid.Cid) error {
	if err := m.enter("Pin"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins[id] = string(storage.PinRecursive)
	return nil
}

func (m *MemBridge) Unpin(ctx context.Context, id cid.Cid) error {
	if err := m.enter("Unpin"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pins[id]; !ok {
		return fault.New(fault.NotFound, "bridge.Unpin", fmt.Sprintf("%s is not pinned", id))
	}
	delete(m.pins, id)
	return nil
}

func (m *MemBridge) ListPinned(ctx context.Context, filter storage.PinFilter) (map[string]string, error) {
	if err := m.enter("ListPinned"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.pins))
	for id, typ := range m.pins {
		if filter == storage.PinAll || filter == "" || string(filter) == typ {
			out[id.String()] = typ
		}
	}
	return out, nil
}

func (m *MemBridge) PublishName(ctx context.Context, keyAlias string, id cid.Cid, lifetime time.Duration) (storage.PublishResult, error) {
	var res storage.PublishResult
	if err := m.enter("PublishName"); err != nil {
		return res, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[keyAlias]
	if !ok {
		return res, fault.New(fault.OperationFailed, "bridge.PublishName", fmt.Sprintf("no key named %q", keyAlias))
	}
	m.names["/ipns/"+key.PeerID] = id
	res.Name = key.PeerID
	res.Value = "/ipfs/" + id.String()
	return res, nil
}

func (m *MemBridge) ResolveName(ctx context.Context, publicName string) (cid.Cid, error) {
	if err := m.enter("ResolveName"); err != nil {
		return cid.Undef, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.names[publicName]
	if !ok {
		return cid.Undef, fault.New(fault.NotFound, "bridge.ResolveName",
			fmt.Sprintf("could not resolve name %s", publicName))
	}
	return id, nil
}

func (m *MemBridge) GenerateKey(ctx context.Context, alias string) (storage.KeyInfo, error) {
	var info storage.KeyInfo
	if err := m.enter("GenerateKey"); err != nil {
		return info, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.keys[alias]; ok {
		return existing, nil
	}
	m.keySeq++
	info = storage.KeyInfo{Alias: alias, PeerID: fmt.Sprintf("k51qmempeer%04d", m.keySeq)}
	m.keys[alias] = info
	return info, nil
}

func (m *MemBridge) ListKeys(ctx context.Context) ([]storage.KeyInfo, error) {
	if err := m.enter("ListKeys"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.KeyInfo, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, k)
	}
	return out, nil
}

func (m *MemBridge) FindProviders(ctx context.Context, id cid.Cid, limit int) ([]string, error) {
	if err := m.enter("FindProviders"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	provs := m.providers[id]
	if limit > 0 && len(provs) > limit {
		provs = provs[:limit]
	}
	return append([]string(nil), provs...), nil
}

func (m *MemBridge) DaemonInfo(ctx context.Context) (storage.DaemonInfo, error) {
	if err := m.enter("DaemonInfo"); err != nil {
		return storage.DaemonInfo{}, err
	}
	return storage.DaemonInfo{
		PeerID:       "12D3KooWMemBridge",
		AgentVersion: "kubo/0.34.1/mem",
	}, nil
}
