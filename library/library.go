// Package library orchestrates the lifecycle of one shared file
// library: creating it, joining one published by another peer, adding
// files, and refreshing a local copy from the network.
package library

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/mborders/logmatic"

	"github.com/scipfs/scipfs/cidutil"
	"github.com/scipfs/scipfs/fault"
	"github.com/scipfs/scipfs/logging"
	"github.com/scipfs/scipfs/manifest"
	"github.com/scipfs/scipfs/storage"
)

// Options configure a Library manager.
type Options struct {
	// RecordLifetime is the lifetime for published name records.
	RecordLifetime time.Duration
	Log            *logmatic.Logger
	// now overrides the clock in tests.
	now func() time.Time
}

// Library manages one catalog instance against the local store and the
// storage bridge. Operations execute strictly in caller order; there is
// no internal queue and no concurrent mutation path.
type Library struct {
	bridge   storage.Bridge
	store    *Store
	lifetime time.Duration
	log      *logmatic.Logger
	now      func() time.Time

	rec *Record
}

// FileInfo pairs a filename with its manifest record for listings.
type FileInfo struct {
	Name   string
	Record manifest.FileRecord
}

// Info summarizes a local library.
type Info struct {
	Name       string
	PublicName string
	SelfCID    string
	Owner      bool
	FileCount  int
	Path       string
}

// CreateResult reports a successful Create.
type CreateResult struct {
	PublicName string
	SelfCID    string
	// PublishWarning is non-nil when the initial name publication
	// failed; the library exists and is durable locally regardless.
	PublishWarning error
}

// AddResult reports a successful AddFile.
type AddResult struct {
	FileName       string
	Record         manifest.FileRecord
	SelfCID        string
	PublishWarning error
}

func New(bridge storage.Bridge, store *Store, opts Options) *Library {
	log := opts.Log
	if log == nil {
		log = logging.New(logmatic.WARN)
	}
	lifetime := opts.RecordLifetime
	if lifetime <= 0 {
		lifetime = 24 * time.Hour
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}
	return &Library{bridge: bridge, store: store, lifetime: lifetime, log: log, now: now}
}

// Open loads an existing local library record. Required before AddFile,
// Refresh, and the read helpers.
func (l *Library) Open(name string) error {
	rec, err := l.store.Load(name)
	if err != nil {
		return err
	}
	l.rec = rec
	return nil
}

// Name returns the loaded library's name, or "".
func (l *Library) Name() string {
	if l.rec == nil {
		return ""
	}
	return l.rec.Manifest.Name
}

// Create initializes a new library owned by this peer: a fresh identity
// key aliased to the library name, a public name derived from its peer
// id, and a first published catalog version.
func (l *Library) Create(ctx context.Context, name string) (*CreateResult, error) {
	const op = "library.Create"

	if err := checkLibraryName(name); err != nil {
		return nil, err
	}
	if l.rec != nil {
		return nil, fault.New(fault.InvalidArgument, op, "manager already holds a library")
	}
	if l.store.Exists(name) {
		return nil, fault.New(fault.AlreadyExists, op, fmt.Sprintf("library %q already exists locally", name))
	}

	release, err := l.store.Lock(name)
	if err != nil {
		return nil, err
	}
	defer release()

	key, err := l.bridge.GenerateKey(ctx, name)
	if err != nil {
		return nil, err
	}

	m := manifest.New(name)
	m.PublishingKey = name
	m.PublicName = "/ipns/" + key.PeerID
	rec := &Record{Manifest: m, Owner: true}

	selfCID, warn, err := l.storeAndPublish(ctx, rec)
	if err != nil {
		// Best-effort cleanup of a partially created record; the error
		// that caused the failure is the one worth surfacing.
		if derr := l.store.Delete(name); derr != nil {
			l.log.Warn("cleanup of partial library %q failed: %v", name, derr)
		}
		return nil, err
	}

	l.rec = rec
	l.log.Info("created library %q at %s (manifest %s)", name, m.PublicName, selfCID)
	return &CreateResult{PublicName: m.PublicName, SelfCID: selfCID, PublishWarning: warn}, nil
}

// Join adopts a library published by another peer. The fetched catalog's
// own name becomes the local identifier, publish authority is stripped,
// and the fetched version is pinned and stored locally. Join never
// publishes.
func (l *Library) Join(ctx context.Context, publicName string) error {
	const op = "library.Join"

	if !strings.HasPrefix(publicName, "/ipns/") {
		return fault.New(fault.InvalidArgument, op, "public name must start with /ipns/")
	}
	if l.rec != nil {
		return fault.New(fault.InvalidArgument, op, "manager already holds a library")
	}

	id, err := l.bridge.ResolveName(ctx, publicName)
	if err != nil {
		return err
	}
	m, err := l.fetchManifest(ctx, id)
	if err != nil {
		return err
	}

	// A follower never inherits publish authority, and the name we
	// followed is the one recorded locally.
	m.StripPublishingKey()
	m.PublicName = publicName
	rec := &Record{Manifest: m, SelfCID: id.String(), Owner: false}

	release, err := l.store.Lock(m.Name)
	if err != nil {
		return err
	}
	defer release()

	if err := l.bridge.Pin(ctx, id); err != nil {
		return err
	}
	if err := l.store.Save(rec); err != nil {
		return err
	}

	l.rec = rec
	l.log.Info("joined library %q from %s (manifest %s)", m.Name, publicName, id)
	return nil
}

// AddFile uploads a local file, records it in the catalog under its base
// name (overwriting any previous entry of that name), and runs the
// mutate-and-publish sequence.
func (l *Library) AddFile(ctx context.Context, path, attributedUser string) (*AddResult, error) {
	const op = "library.AddFile"

	if l.rec == nil {
		return nil, fault.New(fault.InvalidArgument, op, "no library loaded")
	}
	if attributedUser == "" {
		return nil, fault.New(fault.InvalidArgument, op, "attribution username is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fault.Wrap(fault.InvalidArgument, op, fmt.Sprintf("cannot read %s", path), err)
	}
	if info.IsDir() {
		return nil, fault.New(fault.InvalidArgument, op, fmt.Sprintf("%s is a directory", path))
	}

	release, err := l.store.Lock(l.rec.Manifest.Name)
	if err != nil {
		return nil, err
	}
	defer release()

	fileCID, err := l.bridge.PutFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := l.bridge.Pin(ctx, fileCID); err != nil {
		return nil, err
	}

	// Mutate a copy; the manager's state advances only once the new
	// version is durable.
	work := &Record{Manifest: l.rec.Manifest.Clone(), Owner: l.rec.Owner}
	fileName := filepath.Base(path)
	fileRec := manifest.NewFileRecord(fileCID.String(), info.Size(), attributedUser, l.now())
	work.Manifest.SetFile(fileName, fileRec)

	selfCID, warn, err := l.storeAndPublish(ctx, work)
	if err != nil {
		return nil, err
	}

	l.rec = work
	l.log.Info("added %s (%d bytes) to library %q, manifest now %s", fileName, info.Size(), work.Manifest.Name, selfCID)
	return &AddResult{FileName: fileName, Record: fileRec, SelfCID: selfCID, PublishWarning: warn}, nil
}

// Refresh re-resolves the library's public name and, when it points at a
// newer catalog version, replaces the local state wholesale. The local
// ownership stance is preserved and nothing is ever republished; the
// returned bool reports whether anything changed.
func (l *Library) Refresh(ctx context.Context) (bool, error) {
	const op = "library.Refresh"

	if l.rec == nil {
		return false, fault.New(fault.InvalidArgument, op, "no library loaded")
	}
	if l.rec.Manifest.PublicName == "" {
		return false, fault.New(fault.InvalidArgument, op,
			fmt.Sprintf("library %q has no public name to refresh from", l.rec.Manifest.Name))
	}

	id, err := l.bridge.ResolveName(ctx, l.rec.Manifest.PublicName)
	if err != nil {
		return false, err
	}
	if id.String() == l.rec.SelfCID {
		return false, nil
	}

	m, err := l.fetchManifest(ctx, id)
	if err != nil {
		return false, err
	}
	if !l.rec.Owner {
		m.StripPublishingKey()
	}
	m.PublicName = l.rec.Manifest.PublicName

	work := &Record{Manifest: m, SelfCID: id.String(), Owner: l.rec.Owner}

	release, err := l.store.Lock(l.rec.Manifest.Name)
	if err != nil {
		return false, err
	}
	defer release()

	if err := l.bridge.Pin(ctx, id); err != nil {
		return false, err
	}
	if err := l.store.Save(work); err != nil {
		return false, err
	}

	l.rec = work
	l.log.Info("refreshed library %q to manifest %s", m.Name, id)
	return true, nil
}

// ListFiles returns the catalog's files sorted by name. It touches no
// network; a loaded record is the only requirement.
func (l *Library) ListFiles() ([]FileInfo, error) {
	if l.rec == nil {
		return nil, fault.New(fault.InvalidArgument, "library.ListFiles", "no library loaded")
	}
	names := l.rec.Manifest.FileNames()
	out := make([]FileInfo, 0, len(names))
	for _, name := range names {
		rec, _ := l.rec.Manifest.File(name)
		out = append(out, FileInfo{Name: name, Record: rec})
	}
	return out, nil
}

// FileRecord looks up one file by name.
func (l *Library) FileRecord(name string) (manifest.FileRecord, error) {
	const op = "library.FileRecord"
	if l.rec == nil {
		return manifest.FileRecord{}, fault.New(fault.InvalidArgument, op, "no library loaded")
	}
	rec, ok := l.rec.Manifest.File(name)
	if !ok {
		return manifest.FileRecord{}, fault.New(fault.NotFound, op,
			fmt.Sprintf("no file named %q in library %q", name, l.rec.Manifest.Name))
	}
	return rec, nil
}

// FetchFile downloads a cataloged file to dest.
func (l *Library) FetchFile(ctx context.Context, name, dest string) error {
	rec, err := l.FileRecord(name)
	if err != nil {
		return err
	}
	id, err := cidutil.Decode(rec.CID)
	if err != nil {
		return fault.Wrap(fault.MalformedCatalog, "library.FetchFile",
			fmt.Sprintf("file %q carries invalid address %q", name, rec.CID), err)
	}
	return l.bridge.GetToFile(ctx, id, dest)
}

// FileProviders reports peers currently advertising a cataloged file.
func (l *Library) FileProviders(ctx context.Context, name string, limit int) ([]string, error) {
	rec, err := l.FileRecord(name)
	if err != nil {
		return nil, err
	}
	id, err := cidutil.Decode(rec.CID)
	if err != nil {
		return nil, fault.Wrap(fault.MalformedCatalog, "library.FileProviders",
			fmt.Sprintf("file %q carries invalid address %q", name, rec.CID), err)
	}
	return l.bridge.FindProviders(ctx, id, limit)
}

// Info summarizes the loaded library.
func (l *Library) Info() (Info, error) {
	if l.rec == nil {
		return Info{}, fault.New(fault.InvalidArgument, "library.Info", "no library loaded")
	}
	return Info{
		Name:       l.rec.Manifest.Name,
		PublicName: l.rec.Manifest.PublicName,
		SelfCID:    l.rec.SelfCID,
		Owner:      l.rec.Owner,
		FileCount:  len(l.rec.Manifest.Files),
		Path:       l.store.Path(l.rec.Manifest.Name),
	}, nil
}

// storeAndPublish runs the shared mutate-and-publish tail: serialize,
// add, pin, publish when owning, persist last. The persist-last ordering
// means a failure anywhere earlier leaves the previous durable version
// intact; pin-before-publish means an advertised address is always
// retrievable from this node.
func (l *Library) storeAndPublish(ctx context.Context, rec *Record) (selfCID string, publishWarning error, err error) {
	data, err := rec.Manifest.Encode()
	if err != nil {
		return "", nil, err
	}
	id, err := l.bridge.PutJSON(ctx, json.RawMessage(data))
	if err != nil {
		return "", nil, err
	}
	if err := l.bridge.Pin(ctx, id); err != nil {
		return "", nil, err
	}

	if rec.Owner && rec.Manifest.PublishingKey != "" {
		if _, perr := l.bridge.PublishName(ctx, rec.Manifest.PublishingKey, id, l.lifetime); perr != nil {
			// Local state is already pinned and about to be durable;
			// a failed publication is reported, not fatal.
			l.log.Warn("publish of %q failed: %v", rec.Manifest.Name, perr)
			publishWarning = perr
		}
	}

	rec.SelfCID = id.String()
	if err := l.store.Save(rec); err != nil {
		return "", publishWarning, err
	}
	return rec.SelfCID, publishWarning, nil
}

func (l *Library) fetchManifest(ctx context.Context, id cid.Cid) (*manifest.Manifest, error) {
	var raw json.RawMessage
	if err := l.bridge.GetJSON(ctx, id, &raw); err != nil {
		return nil, err
	}
	return manifest.Decode(raw)
}

func checkLibraryName(name string) error {
	const op = "library.Create"
	if name == "" {
		return fault.New(fault.InvalidArgument, op, "library name is required")
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fault.New(fault.InvalidArgument, op, fmt.Sprintf("invalid library name %q", name))
	}
	return nil
}
