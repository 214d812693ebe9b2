package library

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/scipfs/scipfs/cidutil"
	"github.com/scipfs/scipfs/fault"
	"github.com/scipfs/scipfs/manifest"
	"github.com/scipfs/scipfs/storage/storetest"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestLibrary(t *testing.T, bridge *storetest.MemBridge) (*Library, *Store) {
	t.Helper()
	store := testStore(t)
	lib := New(bridge, store, Options{now: func() time.Time { return fixedNow }})
	return lib, store
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCreate(t *testing.T) {
	bridge := storetest.NewMemBridge()
	lib, store := newTestLibrary(t, bridge)

	res, err := lib.Create(context.Background(), "physics")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.PublicName != "/ipns/k51qmempeer0001" {
		t.Fatalf("PublicName = %q", res.PublicName)
	}
	if res.PublishWarning != nil {
		t.Fatalf("unexpected publish warning: %v", res.PublishWarning)
	}

	rec, err := store.Load("physics")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !rec.Owner {
		t.Fatal("created library must be marked owned")
	}
	if rec.Manifest.PublishingKey != "physics" {
		t.Fatalf("PublishingKey = %q", rec.Manifest.PublishingKey)
	}
	if rec.SelfCID != res.SelfCID {
		t.Fatalf("stored SelfCID %q != result %q", rec.SelfCID, res.SelfCID)
	}

	// The published name already resolves to the initial version.
	resolved, err := bridge.ResolveName(context.Background(), res.PublicName)
	if err != nil {
		t.Fatalf("ResolveName: %v", err)
	}
	if resolved.String() != res.SelfCID {
		t.Fatalf("name resolves to %s, want %s", resolved, res.SelfCID)
	}
	if !bridge.Pinned(resolved) {
		t.Fatal("initial manifest version is not pinned")
	}
}

// The stored self address must hold up under a round trip: stripping the
// local-only fields and re-encoding the persisted manifest yields bytes
// whose content address equals the recorded one.
func TestSelfAddressRoundTrip(t *testing.T) {
	bridge := storetest.NewMemBridge()
	lib, store := newTestLibrary(t, bridge)

	if _, err := lib.Create(context.Background(), "physics"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	path := writeTempFile(t, "paper1.pdf", []byte("abstract: ten bytes? no."))
	if _, err := lib.AddFile(context.Background(), path, "alice"); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	rec, err := store.Load("physics")
	if err != nil {
		t.Fatal(err)
	}
	enc, err := rec.Manifest.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if got := cidutil.CIDv1RawSHA256(enc); got != rec.SelfCID {
		t.Fatalf("recomputed address %s != stored %s", got, rec.SelfCID)
	}
}

func TestAddFileAdvancesSelfAddressOnce(t *testing.T) {
	bridge := storetest.NewMemBridge()
	lib, store := newTestLibrary(t, bridge)
	ctx := context.Background()

	created, err := lib.Create(ctx, "lib1")
	if err != nil {
		t.Fatal(err)
	}
	content := []byte("0123456789")
	res, err := lib.AddFile(ctx, writeTempFile(t, "f", content), "alice")
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if res.SelfCID == created.SelfCID {
		t.Fatal("AddFile did not advance the manifest address")
	}
	rec, err := store.Load("lib1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.SelfCID != res.SelfCID {
		t.Fatalf("durable SelfCID %q != result %q", rec.SelfCID, res.SelfCID)
	}
	fr, ok := rec.Manifest.File("f")
	if !ok {
		t.Fatal("files[\"f\"] missing")
	}
	if fr.Size != int64(len(content)) {
		t.Fatalf("Size = %d, want %d", fr.Size, len(content))
	}
	wantCID := cidutil.CIDv1RawSHA256(content)
	if fr.CID != wantCID {
		t.Fatalf("CID = %s, want %s", fr.CID, wantCID)
	}
}

func TestCreateValidation(t *testing.T) {
	bridge := storetest.NewMemBridge()
	lib, _ := newTestLibrary(t, bridge)
	ctx := context.Background()

	for _, name := range []string{"", "a/b", "..", `a\b`} {
		if _, err := lib.Create(ctx, name); !fault.IsKind(err, fault.InvalidArgument) {
			t.Fatalf("Create(%q) = %v, want InvalidArgument", name, err)
		}
	}

	if _, err := lib.Create(ctx, "physics"); err != nil {
		t.Fatal(err)
	}
	lib2 := New(bridge, mustStore(t, lib.store.dir), Options{})
	if _, err := lib2.Create(ctx, "physics"); !fault.IsKind(err, fault.AlreadyExists) {
		t.Fatalf("duplicate Create = %v, want AlreadyExists", err)
	}
}

func mustStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateFailureLeavesNoRecord(t *testing.T) {
	bridge := storetest.NewMemBridge()
	lib, store := newTestLibrary(t, bridge)
	bridge.FailWith("Pin", fault.New(fault.Timeout, "bridge.Pin", "deadline exceeded"))

	_, err := lib.Create(context.Background(), "physics")
	if !fault.IsKind(err, fault.Timeout) {
		t.Fatalf("Create = %v, want Timeout", err)
	}
	if store.Exists("physics") {
		t.Fatal("failed Create left a local record behind")
	}
}

func TestCreateSurvivesPublishFailure(t *testing.T) {
	bridge := storetest.NewMemBridge()
	lib, store := newTestLibrary(t, bridge)
	bridge.FailWith("PublishName", fault.New(fault.DaemonUnreachable, "bridge.PublishName", "failed to connect"))

	res, err := lib.Create(context.Background(), "physics")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.PublishWarning == nil {
		t.Fatal("expected a publish warning")
	}
	if !store.Exists("physics") {
		t.Fatal("library must be durable despite failed publication")
	}
}

func TestJoinAndListMatchOwner(t *testing.T) {
	bridge := storetest.NewMemBridge()
	ctx := context.Background()

	owner, _ := newTestLibrary(t, bridge)
	res, err := owner.Create(ctx, "papers")
	if err != nil {
		t.Fatal(err)
	}
	path := writeTempFile(t, "paper1.pdf", []byte("0123456789"))
	if _, err := owner.AddFile(ctx, path, "alice"); err != nil {
		t.Fatal(err)
	}

	follower, fstore := newTestLibrary(t, bridge)
	if err := follower.Join(ctx, res.PublicName); err != nil {
		t.Fatalf("Join: %v", err)
	}

	rec, err := fstore.Load("papers")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Owner {
		t.Fatal("joined library must not be marked owned")
	}
	if rec.Manifest.PublishingKey != "" {
		t.Fatalf("publish authority leaked to follower: %q", rec.Manifest.PublishingKey)
	}
	if rec.Manifest.PublicName != res.PublicName {
		t.Fatalf("PublicName = %q, want %q", rec.Manifest.PublicName, res.PublicName)
	}

	ownFiles, _ := owner.ListFiles()
	folFiles, _ := follower.ListFiles()
	if !reflect.DeepEqual(ownFiles, folFiles) {
		t.Fatalf("listings diverge:\nowner    %+v\nfollower %+v", ownFiles, folFiles)
	}
	if len(folFiles) != 1 || folFiles[0].Name != "paper1.pdf" || folFiles[0].Record.Size != 10 {
		t.Fatalf("unexpected listing %+v", folFiles)
	}
}

func TestJoinValidation(t *testing.T) {
	bridge := storetest.NewMemBridge()
	lib, _ := newTestLibrary(t, bridge)
	ctx := context.Background()

	if err := lib.Join(ctx, "k51qbarename"); !fault.IsKind(err, fault.InvalidArgument) {
		t.Fatalf("bare name Join = %v, want InvalidArgument", err)
	}
	if got := bridge.Calls("ResolveName"); got != 0 {
		t.Fatalf("invalid name reached the network (%d resolves)", got)
	}
	if err := lib.Join(ctx, "/ipns/k51qunknown"); !fault.IsKind(err, fault.NotFound) {
		t.Fatalf("unresolvable Join = %v, want NotFound", err)
	}
}

func TestJoinThenRefreshUnchanged(t *testing.T) {
	bridge := storetest.NewMemBridge()
	ctx := context.Background()

	owner, _ := newTestLibrary(t, bridge)
	res, err := owner.Create(ctx, "papers")
	if err != nil {
		t.Fatal(err)
	}

	follower, fstore := newTestLibrary(t, bridge)
	if err := follower.Join(ctx, res.PublicName); err != nil {
		t.Fatal(err)
	}

	before, err := os.ReadFile(fstore.Path("papers"))
	if err != nil {
		t.Fatal(err)
	}
	changed, err := follower.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if changed {
		t.Fatal("Refresh reported a change immediately after Join")
	}
	after, err := os.ReadFile(fstore.Path("papers"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatal("no-op Refresh rewrote the local record")
	}
}

func TestRefreshPicksUpNewVersion(t *testing.T) {
	bridge := storetest.NewMemBridge()
	ctx := context.Background()

	owner, _ := newTestLibrary(t, bridge)
	res, err := owner.Create(ctx, "papers")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := owner.AddFile(ctx, writeTempFile(t, "paper1.pdf", []byte("0123456789")), "alice"); err != nil {
		t.Fatal(err)
	}

	follower, _ := newTestLibrary(t, bridge)
	if err := follower.Join(ctx, res.PublicName); err != nil {
		t.Fatal(err)
	}
	publishes := bridge.Calls("PublishName")

	if _, err := owner.AddFile(ctx, writeTempFile(t, "paper2.pdf", []byte("more work")), "alice"); err != nil {
		t.Fatal(err)
	}

	changed, err := follower.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !changed {
		t.Fatal("Refresh missed the new version")
	}
	files, _ := follower.ListFiles()
	if len(files) != 2 || files[0].Name != "paper1.pdf" || files[1].Name != "paper2.pdf" {
		t.Fatalf("listing after refresh: %+v", files)
	}

	// The follower side never publishes; only the owner's AddFile did.
	if got := bridge.Calls("PublishName"); got != publishes+1 {
		t.Fatalf("PublishName called %d times, want %d", got, publishes+1)
	}
}

func TestRefreshWithoutPublicName(t *testing.T) {
	bridge := storetest.NewMemBridge()
	lib, store := newTestLibrary(t, bridge)

	rec := &Record{Manifest: manifest.New("offline")}
	if err := store.Save(rec); err != nil {
		t.Fatal(err)
	}
	if err := lib.Open("offline"); err != nil {
		t.Fatal(err)
	}

	_, err := lib.Refresh(context.Background())
	if !fault.IsKind(err, fault.InvalidArgument) {
		t.Fatalf("Refresh = %v, want InvalidArgument", err)
	}
	if got := bridge.Calls("ResolveName"); got != 0 {
		t.Fatalf("Refresh without a public name hit the network (%d resolves)", got)
	}
}

func TestAddFileOverwritesByBaseName(t *testing.T) {
	bridge := storetest.NewMemBridge()
	lib, _ := newTestLibrary(t, bridge)
	ctx := context.Background()

	if _, err := lib.Create(ctx, "papers"); err != nil {
		t.Fatal(err)
	}
	first, err := lib.AddFile(ctx, writeTempFile(t, "paper.pdf", []byte("draft")), "alice")
	if err != nil {
		t.Fatal(err)
	}
	second, err := lib.AddFile(ctx, writeTempFile(t, "paper.pdf", []byte("final version")), "bob")
	if err != nil {
		t.Fatal(err)
	}
	if first.Record.CID == second.Record.CID {
		t.Fatal("distinct contents produced the same address")
	}

	files, _ := lib.ListFiles()
	if len(files) != 1 {
		t.Fatalf("expected a single entry, got %+v", files)
	}
	if files[0].Record.CID != second.Record.CID || files[0].Record.AddedBy != "bob" {
		t.Fatalf("last write did not win: %+v", files[0].Record)
	}
}

func TestAddFileFailureLeavesRecordUntouched(t *testing.T) {
	bridge := storetest.NewMemBridge()
	lib, store := newTestLibrary(t, bridge)
	ctx := context.Background()

	if _, err := lib.Create(ctx, "papers"); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(store.Path("papers"))
	if err != nil {
		t.Fatal(err)
	}

	bridge.FailWith("PutJSON", fault.New(fault.Timeout, "bridge.PutJSON", "deadline exceeded"))
	_, err = lib.AddFile(ctx, writeTempFile(t, "paper.pdf", []byte("data")), "alice")
	if !fault.IsKind(err, fault.Timeout) {
		t.Fatalf("AddFile = %v, want Timeout", err)
	}

	after, err := os.ReadFile(store.Path("papers"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatal("failed AddFile modified the durable record")
	}
	if files, _ := lib.ListFiles(); len(files) != 0 {
		t.Fatalf("failed AddFile modified in-memory state: %+v", files)
	}
}

func TestAddFileValidation(t *testing.T) {
	bridge := storetest.NewMemBridge()
	lib, _ := newTestLibrary(t, bridge)
	ctx := context.Background()

	if _, err := lib.AddFile(ctx, "x", "alice"); !fault.IsKind(err, fault.InvalidArgument) {
		t.Fatalf("AddFile without a library = %v, want InvalidArgument", err)
	}
	if _, err := lib.Create(ctx, "papers"); err != nil {
		t.Fatal(err)
	}
	if _, err := lib.AddFile(ctx, writeTempFile(t, "paper.pdf", []byte("x")), ""); !fault.IsKind(err, fault.InvalidArgument) {
		t.Fatal("empty attribution accepted")
	}
	if _, err := lib.AddFile(ctx, filepath.Join(t.TempDir(), "missing.pdf"), "alice"); !fault.IsKind(err, fault.InvalidArgument) {
		t.Fatal("missing path accepted")
	}
	if _, err := lib.AddFile(ctx, t.TempDir(), "alice"); !fault.IsKind(err, fault.InvalidArgument) {
		t.Fatal("directory accepted")
	}
}

func TestFetchFile(t *testing.T) {
	bridge := storetest.NewMemBridge()
	lib, _ := newTestLibrary(t, bridge)
	ctx := context.Background()

	if _, err := lib.Create(ctx, "papers"); err != nil {
		t.Fatal(err)
	}
	content := []byte("the retrieved bytes")
	if _, err := lib.AddFile(ctx, writeTempFile(t, "paper.pdf", content), "alice"); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "out.pdf")
	if err := lib.FetchFile(ctx, "paper.pdf", dest); err != nil {
		t.Fatalf("FetchFile: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, content) {
		t.Fatalf("fetched %q, want %q", got, content)
	}

	if err := lib.FetchFile(ctx, "ghost.pdf", dest); !fault.IsKind(err, fault.NotFound) {
		t.Fatalf("FetchFile of unknown name = %v, want NotFound", err)
	}
}

func TestFileProviders(t *testing.T) {
	bridge := storetest.NewMemBridge()
	lib, _ := newTestLibrary(t, bridge)
	ctx := context.Background()

	if _, err := lib.Create(ctx, "papers"); err != nil {
		t.Fatal(err)
	}
	res, err := lib.AddFile(ctx, writeTempFile(t, "paper.pdf", []byte("data")), "alice")
	if err != nil {
		t.Fatal(err)
	}
	id, err := cidutil.Decode(res.Record.CID)
	if err != nil {
		t.Fatal(err)
	}
	bridge.SetProviders(id, []string{"12D3KooWPeerA", "12D3KooWPeerB"})

	peers, err := lib.FileProviders(ctx, "paper.pdf", 10)
	if err != nil {
		t.Fatalf("FileProviders: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("providers = %v", peers)
	}
}

func TestInfo(t *testing.T) {
	bridge := storetest.NewMemBridge()
	lib, store := newTestLibrary(t, bridge)
	ctx := context.Background()

	res, err := lib.Create(ctx, "papers")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lib.AddFile(ctx, writeTempFile(t, "paper.pdf", []byte("data")), "alice"); err != nil {
		t.Fatal(err)
	}

	info, err := lib.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "papers" || !info.Owner || info.FileCount != 1 {
		t.Fatalf("Info = %+v", info)
	}
	if info.PublicName != res.PublicName {
		t.Fatalf("PublicName = %q", info.PublicName)
	}
	if info.Path != store.Path("papers") {
		t.Fatalf("Path = %q", info.Path)
	}
}

func TestOpenReloadsState(t *testing.T) {
	bridge := storetest.NewMemBridge()
	lib, store := newTestLibrary(t, bridge)
	ctx := context.Background()

	if _, err := lib.Create(ctx, "papers"); err != nil {
		t.Fatal(err)
	}
	if _, err := lib.AddFile(ctx, writeTempFile(t, "paper.pdf", []byte("data")), "alice"); err != nil {
		t.Fatal(err)
	}

	reopened := New(bridge, store, Options{})
	if err := reopened.Open("papers"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	files, err := reopened.ListFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Name != "paper.pdf" {
		t.Fatalf("reopened listing: %+v", files)
	}
	if err := reopened.Open("absent"); !fault.IsKind(err, fault.NotFound) {
		t.Fatalf("Open of unknown library = %v, want NotFound", err)
	}
}

func TestFileRecordTimestamps(t *testing.T) {
	bridge := storetest.NewMemBridge()
	lib, _ := newTestLibrary(t, bridge)
	ctx := context.Background()

	if _, err := lib.Create(ctx, "papers"); err != nil {
		t.Fatal(err)
	}
	res, err := lib.AddFile(ctx, writeTempFile(t, "paper.pdf", []byte("data")), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if res.Record.AddedAt != fixedNow.Format(time.RFC3339) {
		t.Fatalf("AddedAt = %q", res.Record.AddedAt)
	}
	if res.Record.AddedBy != "alice" || res.Record.Size != 4 {
		t.Fatalf("record = %+v", res.Record)
	}
}
