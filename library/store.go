package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"

	"github.com/scipfs/scipfs/fault"
	"github.com/scipfs/scipfs/manifest"
)

// Record is the locally persisted state of one library: the shared
// manifest plus two local-only fields that never enter the published
// payload.
type Record struct {
	Manifest *manifest.Manifest
	// SelfCID is the content address of the manifest's canonical bytes
	// as of the last durable store.
	SelfCID string
	// Owner is set at Create and cleared at Join. It is never re-derived
	// from the key alias or the library name.
	Owner bool
}

// localFields is the on-disk shape of the local-only additions. They sit
// beside the manifest fields in the same JSON object and are stripped
// before any content-address computation.
type localFields struct {
	SelfCID string `json:"latest_manifest_cid,omitempty"`
	Owner   bool   `json:"owner,omitempty"`
}

type diskRecord struct {
	*manifest.Manifest
	localFields
}

// Store keeps one record file per library under the configuration
// directory, named <name>_manifest.json like every other scipfs peer.
type Store struct {
	dir string
}

const (
	recordSuffix = "_manifest.json"
	lockSuffix   = "_manifest.lock"
)

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("library: store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// Path returns the record file for a library name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+recordSuffix)
}

func (s *Store) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && !info.IsDir()
}

// Lock takes the advisory lock guarding a library's record for the
// duration of a mutate-and-publish or replace sequence. Two processes
// on the same machine serialize here instead of interleaving writes.
func (s *Store) Lock(name string) (release func(), err error) {
	fl := flock.New(filepath.Join(s.dir, name+lockSuffix))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("library: lock %s: %w", name, err)
	}
	return func() { _ = fl.Unlock() }, nil
}

// Load reads and validates the record for name. A missing record is a
// NotFound fault; undecodable content is MalformedCatalog.
func (s *Store) Load(name string) (*Record, error) {
	const op = "library.Load"

	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fault.New(fault.NotFound, op, fmt.Sprintf("no local library named %q", name))
		}
		return nil, err
	}

	m, err := manifest.Decode(data)
	if err != nil {
		return nil, err
	}
	var locals localFields
	if err := json.Unmarshal(data, &locals); err != nil {
		return nil, fault.Wrap(fault.MalformedCatalog, op, "local record fields have unexpected types", err)
	}
	return &Record{Manifest: m, SelfCID: locals.SelfCID, Owner: locals.Owner}, nil
}

// Save durably writes the record. The write is atomic (temp file plus
// rename) so a crash mid-write leaves the previous record intact.
func (s *Store) Save(rec *Record) error {
	if rec == nil || rec.Manifest == nil || rec.Manifest.Name == "" {
		return errors.New("library: cannot save record without a name")
	}

	data, err := json.MarshalIndent(diskRecord{
		Manifest:    rec.Manifest,
		localFields: localFields{SelfCID: rec.SelfCID, Owner: rec.Owner},
	}, "", "  ")
	if err != nil {
		return err
	}

	path := s.Path(rec.Manifest.Name)
	tmp, err := os.CreateTemp(s.dir, rec.Manifest.Name+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Delete removes the record for name. Used for best-effort cleanup of a
// partially created library.
func (s *Store) Delete(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListNames returns the names of all locally configured libraries.
func (s *Store) ListNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), recordSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), recordSuffix))
	}
	sort.Strings(names)
	return names, nil
}
