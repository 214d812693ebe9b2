// Package manifest defines the catalog record of one shared library:
// its file index and publishing identity. Pure data; all network and
// disk access lives in the library and storage packages.
package manifest

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/scipfs/scipfs/fault"
)

// FileRecord describes one file tracked by a library.
type FileRecord struct {
	// CID is the content address of the file bytes.
	CID string `json:"cid"`
	// Size is the file length in bytes.
	Size int64 `json:"size"`
	// AddedAt is an RFC 3339 UTC timestamp.
	AddedAt string `json:"added_at"`
	// AddedBy is free-text attribution; it is not authenticated.
	AddedBy string `json:"added_by"`
}

// NewFileRecord builds a record for a file added now.
func NewFileRecord(cid string, size int64, addedBy string, now time.Time) FileRecord {
	return FileRecord{
		CID:     cid,
		Size:    size,
		AddedAt: now.UTC().Format(time.RFC3339),
		AddedBy: addedBy,
	}
}

// Manifest is the shared catalog of one library.
//
// Field order is the canonical serialization order; the files map is
// serialized with sorted keys by encoding/json. Together this makes
// Encode deterministic, which the content-addressing layer relies on.
type Manifest struct {
	Name  string                `json:"name"`
	Files map[string]FileRecord `json:"files"`
	// PublishingKey is the identity-key alias used to publish this
	// catalog. Present only on the owning peer's copy.
	PublishingKey string `json:"ipns_key_name,omitempty"`
	// PublicName is the stable /ipns/ name this catalog is published
	// under. Present on owner and followers once known.
	PublicName string `json:"ipns_name,omitempty"`
}

// New returns an empty manifest for a library called name.
func New(name string) *Manifest {
	return &Manifest{Name: name, Files: make(map[string]FileRecord)}
}

// Encode returns the canonical byte form used for content addressing
// and publication. Encoding the same manifest twice yields identical
// bytes.
func (m *Manifest) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Decode parses and validates catalog bytes fetched from the network or
// read from local storage. Anything that is not a JSON mapping with a
// non-empty name and a files mapping is a MalformedCatalog fault.
func Decode(data []byte) (*Manifest, error) {
	const op = "manifest.Decode"

	var probe struct {
		Name  *string         `json:"name"`
		Files json.RawMessage `json:"files"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fault.Wrap(fault.MalformedCatalog, op, "catalog is not a JSON mapping", err)
	}
	if probe.Name == nil || *probe.Name == "" {
		return nil, fault.New(fault.MalformedCatalog, op, "catalog is missing a name")
	}
	if len(probe.Files) == 0 {
		return nil, fault.New(fault.MalformedCatalog, op, "catalog is missing a files mapping")
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fault.Wrap(fault.MalformedCatalog, op, "catalog fields have unexpected types", err)
	}
	if m.Files == nil {
		return nil, fault.New(fault.MalformedCatalog, op, "catalog is missing a files mapping")
	}
	return &m, nil
}

// SetFile records a file under its filename. An existing entry with the
// same name is overwritten; filenames are unique within one catalog.
func (m *Manifest) SetFile(name string, rec FileRecord) {
	if m.Files == nil {
		m.Files = make(map[string]FileRecord)
	}
	m.Files[name] = rec
}

// File looks up a record by filename.
func (m *Manifest) File(name string) (FileRecord, bool) {
	rec, ok := m.Files[name]
	return rec, ok
}

// FileNames returns the tracked filenames in sorted order.
func (m *Manifest) FileNames() []string {
	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StripPublishingKey removes any publish authority carried in fetched
// catalog bytes. A follower never inherits the owner's key alias.
func (m *Manifest) StripPublishingKey() {
	m.PublishingKey = ""
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	out := &Manifest{
		Name:          m.Name,
		Files:         make(map[string]FileRecord, len(m.Files)),
		PublishingKey: m.PublishingKey,
		PublicName:    m.PublicName,
	}
	for name, rec := range m.Files {
		out.Files[name] = rec
	}
	return out
}
