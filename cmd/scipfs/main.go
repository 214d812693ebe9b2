// Command scipfs manages shared file libraries on IPFS: one peer creates
// a library and publishes it under an IPNS name, any number of others
// join that name and refresh their local copy as it advances.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mborders/logmatic"
	"github.com/spf13/pflag"

	"github.com/scipfs/scipfs/config"
	"github.com/scipfs/scipfs/fault"
	"github.com/scipfs/scipfs/library"
	"github.com/scipfs/scipfs/logging"
	"github.com/scipfs/scipfs/storage/ipfshelper"
)

const clientVersion = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "init":
		return cmdInit(args[1:], out, errOut)
	case "create":
		return cmdCreate(args[1:], out, errOut)
	case "join":
		return cmdJoin(args[1:], out, errOut)
	case "add":
		return cmdAdd(args[1:], out, errOut)
	case "get":
		return cmdGet(args[1:], out, errOut)
	case "list":
		return cmdList(args[1:], out, errOut)
	case "list-local":
		return cmdListLocal(args[1:], out, errOut)
	case "update":
		return cmdUpdate(args[1:], out, errOut)
	case "info":
		return cmdInfo(args[1:], out, errOut)
	case "providers":
		return cmdProviders(args[1:], out, errOut)
	case "config":
		return cmdConfig(args[1:], out, errOut)
	case "version":
		return cmdVersion(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "scipfs: shared file libraries on IPFS")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  scipfs init")
	fmt.Fprintln(w, "  scipfs create <library> [--lifetime <d>]")
	fmt.Fprintln(w, "  scipfs join </ipns/name>")
	fmt.Fprintln(w, "  scipfs add <library> <file> [--user <name>] [--lifetime <d>]")
	fmt.Fprintln(w, "  scipfs get <library> <file> <output-path>")
	fmt.Fprintln(w, "  scipfs list <library>")
	fmt.Fprintln(w, "  scipfs list-local")
	fmt.Fprintln(w, "  scipfs update <library>")
	fmt.Fprintln(w, "  scipfs info <library>")
	fmt.Fprintln(w, "  scipfs providers <library> <file> [--count <n>]")
	fmt.Fprintln(w, "  scipfs config set username <name>")
	fmt.Fprintln(w, "  scipfs version")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Common flags (every command):")
	fmt.Fprintln(w, "  --dir <path>   configuration directory (default ~/.scipfs)")
	fmt.Fprintln(w, "  --api <addr>   daemon API multiaddress (default /ip4/127.0.0.1/tcp/5001)")
	fmt.Fprintln(w, "  --verbose      informational logging to stderr")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "A running IPFS daemon and the scipfs-helper executable are required")
	fmt.Fprintln(w, "for every command that touches the network.")
}

// commonFlags is the shared tail of every command's flag set.
type commonFlags struct {
	dir     string
	api     string
	verbose bool
	// lifetime overrides the configured record lifetime; registered only
	// by the publishing commands.
	lifetime time.Duration
}

func newFlagSet(name string, errOut io.Writer, common *commonFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&common.dir, "dir", "", "configuration directory")
	fs.StringVar(&common.api, "api", "", "daemon API multiaddress")
	fs.BoolVar(&common.verbose, "verbose", false, "informational logging")
	return fs
}

func (c *commonFlags) logger() *logmatic.Logger {
	if c.verbose {
		return logging.Default()
	}
	return logging.Quiet()
}

// loadConfig resolves the configuration directory and reads config.json,
// applying any command-line overrides.
func (c *commonFlags) loadConfig(errOut io.Writer) (*config.Config, bool) {
	dir := c.dir
	if dir == "" {
		var err error
		dir, err = config.DefaultDir()
		if err != nil {
			fmt.Fprintf(errOut, "cannot determine home directory: %v\n", err)
			return nil, false
		}
	}
	cfg, err := config.Load(dir)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return nil, false
	}
	if c.api != "" {
		cfg.APIAddr = c.api
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(errOut, "%v\n", err)
			return nil, false
		}
	}
	return cfg, true
}

// connect builds the helper-backed bridge and the library manager on top
// of it. The helper handshake runs here, so daemon problems surface
// before any command logic.
func (c *commonFlags) connect(ctx context.Context, errOut io.Writer) (*library.Library, *library.Store, *config.Config, bool) {
	cfg, ok := c.loadConfig(errOut)
	if !ok {
		return nil, nil, nil, false
	}
	if c.lifetime > 0 {
		cfg.RecordLifetime = c.lifetime
	}
	log := c.logger()

	bridge, err := ipfshelper.New(ctx, ipfshelper.Options{
		APIAddr: cfg.APIAddr,
		Bin:     cfg.HelperBin,
		Log:     log,
	})
	if err != nil {
		printFault(errOut, err)
		return nil, nil, nil, false
	}
	store, err := library.NewStore(cfg.Dir)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return nil, nil, nil, false
	}
	lib := library.New(bridge, store, library.Options{
		RecordLifetime: cfg.RecordLifetime,
		Log:            log,
	})
	return lib, store, cfg, true
}

// printFault renders a fault with a hint for the failure classes a user
// can act on.
func printFault(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
	switch fault.KindOf(err) {
	case fault.HelperUnavailable:
		fmt.Fprintln(w, "hint: install scipfs-helper next to scipfs or on PATH")
	case fault.DaemonUnreachable:
		fmt.Fprintln(w, "hint: start the IPFS daemon ('ipfs daemon') and check --api")
	case fault.VersionIncompatible:
		fmt.Fprintf(w, "hint: upgrade the IPFS daemon to %s or newer\n", ipfshelper.MinDaemonVersion)
	}
}

func cmdInit(args []string, out io.Writer, errOut io.Writer) int {
	var common commonFlags
	fs := newFlagSet("init", errOut, &common)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, ok := common.loadConfig(errOut)
	if !ok {
		return 1
	}
	if err := cfg.Save(); err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Initialized scipfs configuration at %s\n", cfg.Dir)
	return 0
}

func cmdCreate(args []string, out io.Writer, errOut io.Writer) int {
	var common commonFlags
	fs := newFlagSet("create", errOut, &common)
	fs.DurationVar(&common.lifetime, "lifetime", 0, "IPNS record lifetime (default from config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: scipfs create <library>")
		return 2
	}
	name := fs.Arg(0)

	ctx := context.Background()
	lib, _, _, ok := common.connect(ctx, errOut)
	if !ok {
		return 1
	}

	res, err := lib.Create(ctx, name)
	if err != nil {
		printFault(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "Created library %q.\n", name)
	fmt.Fprintf(out, "IPNS name (share this with others): %s\n", res.PublicName)
	fmt.Fprintf(out, "Initial manifest CID: %s\n", res.SelfCID)
	if res.PublishWarning != nil {
		fmt.Fprintf(errOut, "warning: initial IPNS publish failed: %v\n", res.PublishWarning)
		fmt.Fprintln(errOut, "the library is saved locally; run 'scipfs add' later to retry publishing")
	} else {
		fmt.Fprintln(out, "Note: IPNS propagation can take some time.")
	}
	return 0
}

func cmdJoin(args []string, out io.Writer, errOut io.Writer) int {
	var common commonFlags
	fs := newFlagSet("join", errOut, &common)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: scipfs join </ipns/name>")
		return 2
	}
	publicName := fs.Arg(0)

	ctx := context.Background()
	lib, _, _, ok := common.connect(ctx, errOut)
	if !ok {
		return 1
	}

	if err := lib.Join(ctx, publicName); err != nil {
		printFault(errOut, err)
		if fault.IsKind(err, fault.NotFound) {
			fmt.Fprintln(errOut, "hint: the name may not have propagated yet; try again shortly")
		}
		return 1
	}
	name := lib.Name()
	fmt.Fprintf(out, "Joined library %q from %s\n", name, publicName)
	fmt.Fprintf(out, "Use 'scipfs list %s' to see files or 'scipfs update %s' to refresh.\n", name, name)
	return 0
}

func cmdAdd(args []string, out io.Writer, errOut io.Writer) int {
	var common commonFlags
	var user string
	fs := newFlagSet("add", errOut, &common)
	fs.StringVar(&user, "user", "", "attribution username (default from config)")
	fs.DurationVar(&common.lifetime, "lifetime", 0, "IPNS record lifetime (default from config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(errOut, "usage: scipfs add <library> <file> [--user <name>]")
		return 2
	}
	name, path := fs.Arg(0), fs.Arg(1)

	ctx := context.Background()
	lib, _, cfg, ok := common.connect(ctx, errOut)
	if !ok {
		return 1
	}
	if user == "" {
		user = cfg.Username
	}
	if user == "" {
		fmt.Fprintln(errOut, "no username configured; run 'scipfs config set username <name>' or pass --user")
		return 1
	}

	if err := lib.Open(name); err != nil {
		printFault(errOut, err)
		return 1
	}
	res, err := lib.AddFile(ctx, path, user)
	if err != nil {
		printFault(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "Added %s (%d bytes, CID %s) to library %q.\n", res.FileName, res.Record.Size, res.Record.CID, name)
	fmt.Fprintf(out, "Manifest CID: %s\n", res.SelfCID)
	if res.PublishWarning != nil {
		fmt.Fprintf(errOut, "warning: IPNS publish failed: %v\n", res.PublishWarning)
		fmt.Fprintln(errOut, "followers will not see this version until a later publish succeeds")
	}
	return 0
}

func cmdGet(args []string, out io.Writer, errOut io.Writer) int {
	var common commonFlags
	fs := newFlagSet("get", errOut, &common)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 3 {
		fmt.Fprintln(errOut, "usage: scipfs get <library> <file> <output-path>")
		return 2
	}
	name, fileName, dest := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	ctx := context.Background()
	lib, _, _, ok := common.connect(ctx, errOut)
	if !ok {
		return 1
	}
	if err := lib.Open(name); err != nil {
		printFault(errOut, err)
		return 1
	}
	if err := lib.FetchFile(ctx, fileName, dest); err != nil {
		printFault(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "Saved %s to %s\n", fileName, dest)
	return 0
}

func cmdList(args []string, out io.Writer, errOut io.Writer) int {
	var common commonFlags
	fs := newFlagSet("list", errOut, &common)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: scipfs list <library>")
		return 2
	}
	name := fs.Arg(0)

	// Listing is local; no bridge handshake needed.
	cfg, ok := common.loadConfig(errOut)
	if !ok {
		return 1
	}
	store, err := library.NewStore(cfg.Dir)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	lib := library.New(nil, store, library.Options{Log: common.logger()})
	if err := lib.Open(name); err != nil {
		printFault(errOut, err)
		return 1
	}
	files, err := lib.ListFiles()
	if err != nil {
		printFault(errOut, err)
		return 1
	}
	if len(files) == 0 {
		fmt.Fprintf(out, "Library %q has no files.\n", name)
		return 0
	}
	tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tADDED BY\tADDED AT\tCID")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", f.Name, f.Record.Size, f.Record.AddedBy, f.Record.AddedAt, f.Record.CID)
	}
	tw.Flush()
	return 0
}

func cmdListLocal(args []string, out io.Writer, errOut io.Writer) int {
	var common commonFlags
	fs := newFlagSet("list-local", errOut, &common)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, ok := common.loadConfig(errOut)
	if !ok {
		return 1
	}
	store, err := library.NewStore(cfg.Dir)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	names, err := store.ListNames()
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	if len(names) == 0 {
		fmt.Fprintln(out, "No local libraries. Use 'scipfs create' or 'scipfs join'.")
		return 0
	}
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
	return 0
}

func cmdUpdate(args []string, out io.Writer, errOut io.Writer) int {
	var common commonFlags
	fs := newFlagSet("update", errOut, &common)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: scipfs update <library>")
		return 2
	}
	name := fs.Arg(0)

	ctx := context.Background()
	lib, _, _, ok := common.connect(ctx, errOut)
	if !ok {
		return 1
	}
	if err := lib.Open(name); err != nil {
		printFault(errOut, err)
		return 1
	}
	changed, err := lib.Refresh(ctx)
	if err != nil {
		printFault(errOut, err)
		return 1
	}
	if !changed {
		fmt.Fprintf(out, "Library %q is already up to date.\n", name)
		return 0
	}
	info, err := lib.Info()
	if err != nil {
		printFault(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "Updated library %q to manifest %s (%d files).\n", name, info.SelfCID, info.FileCount)
	return 0
}

func cmdInfo(args []string, out io.Writer, errOut io.Writer) int {
	var common commonFlags
	fs := newFlagSet("info", errOut, &common)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: scipfs info <library>")
		return 2
	}
	name := fs.Arg(0)

	cfg, ok := common.loadConfig(errOut)
	if !ok {
		return 1
	}
	store, err := library.NewStore(cfg.Dir)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	lib := library.New(nil, store, library.Options{Log: common.logger()})
	if err := lib.Open(name); err != nil {
		printFault(errOut, err)
		return 1
	}
	info, err := lib.Info()
	if err != nil {
		printFault(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "Library:      %s\n", info.Name)
	if info.PublicName != "" {
		fmt.Fprintf(out, "IPNS name:    %s\n", info.PublicName)
	} else {
		fmt.Fprintln(out, "IPNS name:    (not set)")
	}
	fmt.Fprintf(out, "Manifest CID: %s\n", info.SelfCID)
	fmt.Fprintf(out, "Role:         %s\n", roleString(info.Owner))
	fmt.Fprintf(out, "Files:        %d\n", info.FileCount)
	fmt.Fprintf(out, "Local record: %s\n", info.Path)
	return 0
}

func roleString(owner bool) string {
	if owner {
		return "owner (publishes updates)"
	}
	return "follower (read-only)"
}

func cmdProviders(args []string, out io.Writer, errOut io.Writer) int {
	var common commonFlags
	var count int
	fs := newFlagSet("providers", errOut, &common)
	fs.IntVar(&count, "count", 20, "maximum providers to report")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(errOut, "usage: scipfs providers <library> <file> [--count <n>]")
		return 2
	}
	name, fileName := fs.Arg(0), fs.Arg(1)

	ctx := context.Background()
	lib, _, _, ok := common.connect(ctx, errOut)
	if !ok {
		return 1
	}
	if err := lib.Open(name); err != nil {
		printFault(errOut, err)
		return 1
	}
	peers, err := lib.FileProviders(ctx, fileName, count)
	if err != nil {
		printFault(errOut, err)
		return 1
	}
	if len(peers) == 0 {
		fmt.Fprintf(out, "No providers found for %s.\n", fileName)
		return 0
	}
	fmt.Fprintf(out, "Providers for %s (%d):\n", fileName, len(peers))
	for _, p := range peers {
		fmt.Fprintf(out, "  %s\n", p)
	}
	return 0
}

func cmdConfig(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) >= 3 && args[0] == "set" && args[1] == "username" {
		var common commonFlags
		fs := newFlagSet("config set username", errOut, &common)
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		if fs.NArg() != 1 {
			fmt.Fprintln(errOut, "usage: scipfs config set username <name>")
			return 2
		}
		username := fs.Arg(0)
		if len(username) < 3 {
			fmt.Fprintln(errOut, "username must be at least 3 characters long")
			return 1
		}
		cfg, ok := common.loadConfig(errOut)
		if !ok {
			return 1
		}
		if err := cfg.SetUsername(username); err != nil {
			fmt.Fprintf(errOut, "%v\n", err)
			return 1
		}
		fmt.Fprintf(out, "Username set to: %s\n", username)
		return 0
	}
	fmt.Fprintln(errOut, "usage: scipfs config set username <name>")
	return 2
}

func cmdVersion(args []string, out io.Writer, errOut io.Writer) int {
	var common commonFlags
	fs := newFlagSet("version", errOut, &common)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	fmt.Fprintf(out, "scipfs %s\n", clientVersion)

	// Helper and daemon details are best effort; the client version
	// prints even with nothing else running.
	cfg, ok := common.loadConfig(errOut)
	if !ok {
		return 1
	}
	ctx := context.Background()
	bridge, err := ipfshelper.New(ctx, ipfshelper.Options{
		APIAddr: cfg.APIAddr,
		Bin:     cfg.HelperBin,
		Log:     common.logger(),
	})
	if err != nil {
		fmt.Fprintf(errOut, "helper/daemon unavailable: %v\n", err)
		return 0
	}
	daemon := bridge.Daemon()
	fmt.Fprintf(out, "helper %s\n", bridge.HelperVersion())
	fmt.Fprintf(out, "daemon %s (peer %s)\n", daemon.AgentVersion, daemon.PeerID)
	return 0
}
