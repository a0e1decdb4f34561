// vaultctl drives a vault on the in-process devnet.
//
// Sub-commands:
//
//	vaultctl ls [-prefetch] [-owner addr] [path]   List a folder
//	vaultctl put [-dir path] <file>...             Upload local files
//	vaultctl get [-o file] <path>                  Download a file
//	vaultctl rm <path>                             Delete a file or folder
//	vaultctl mv <path> <name-or-path>              Rename or move
//	vaultctl mkdir <path>                          Create a folder
//	vaultctl share <path> <address>                Grant read access
//	vaultctl unshare <path> <address>              Revoke read access
//	vaultctl viewers <path>                        List viewers
//	vaultctl status                                Show plan, providers and cache
//	vaultctl mount -mount <dir>                    Mount the vault with FUSE
//	vaultctl serve-metrics                         Serve Prometheus metrics
//
// Configuration comes from the environment, see internal/config.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/velthium/vestalia-network/internal/config"
	"github.com/velthium/vestalia-network/internal/devnet"
	"github.com/velthium/vestalia-network/internal/devnet/pgindex"
	"github.com/velthium/vestalia-network/internal/logging"
	"github.com/velthium/vestalia-network/internal/metrics"
	"github.com/velthium/vestalia-network/internal/mount"
	"github.com/velthium/vestalia-network/internal/storage"
	"github.com/velthium/vestalia-network/internal/storage/backends"
	"github.com/velthium/vestalia-network/pkg/cache"
	"github.com/velthium/vestalia-network/pkg/models"
	"github.com/velthium/vestalia-network/pkg/vault"
)

var commands = map[string]func(*session, []string) error{
	"ls":      cmdList,
	"put":     cmdPut,
	"get":     cmdGet,
	"rm":      cmdRemove,
	"mv":      cmdMove,
	"mkdir":   cmdMkdir,
	"share":   cmdShare,
	"unshare": cmdUnshare,
	"viewers": cmdViewers,
	"status":  cmdStatus,
	"mount":   cmdMount,
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, OutputPath: "stderr"}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: init logging: %v, using defaults\n", err)
		logging.InitDefault()
	}
	defer logging.Sync()

	name, args := os.Args[1], os.Args[2:]
	if name == "serve-metrics" {
		if err := serveMetrics(cfg); err != nil {
			fail(err)
		}
		return
	}

	cmd, ok := commands[name]
	if !ok {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = logging.WithOperation(ctx, logging.L(), name)

	s, err := openSession(ctx, cfg)
	if err != nil {
		fail(err)
	}
	start := time.Now()
	err = cmd(s, args)
	logging.Debug("command finished", logging.String("command", name), logging.Duration("took", time.Since(start)))
	if cerr := s.close(); cerr != nil {
		logging.Warn("closing session", logging.Err(cerr))
	}
	if err != nil {
		fail(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vaultctl <ls|put|get|rm|mv|mkdir|share|unshare|viewers|status|mount|serve-metrics> [flags] [args]")
}

func fail(err error) {
	switch {
	case errors.Is(err, vault.ErrAccountNotFunded):
		fmt.Fprintf(os.Stderr, "Error: %v\nFund the account with DEVNET_BALANCE before writing.\n", err)
	case errors.Is(err, vault.ErrUserRejected):
		fmt.Fprintln(os.Stderr, "Cancelled: signature declined.")
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

// session is one wired devnet plus the adapter driving it.
type session struct {
	ctx      context.Context
	cfg      *config.Config
	net      *devnet.Network
	handler  *devnet.StorageHandler
	adapter  *vault.Adapter
	prefetch *vault.Prefetcher
	cache    *cache.Cache

	// set when the filetree index lives in memory and is saved on close
	memIndex  *devnet.MemIndex
	statePath string
}

func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	s := &session{ctx: ctx, cfg: cfg}

	idx, err := s.openIndex(ctx)
	if err != nil {
		return nil, err
	}

	stores := make([]storage.Backend, 0, cfg.ProviderCount)
	for i := 1; i <= cfg.ProviderCount; i++ {
		b, err := backends.New(ctx, cfg, fmt.Sprintf("provider-%d", i))
		if err != nil {
			for _, st := range stores {
				st.Close()
			}
			idx.Close()
			return nil, fmt.Errorf("provider %d: %w", i, err)
		}
		stores = append(stores, b)
	}

	s.net, err = devnet.Open([]byte(cfg.DevnetSecret), idx, stores...)
	if err != nil {
		return nil, err
	}
	if cfg.DevnetBalance > 0 {
		if err := s.net.Ledger.Fund(ctx, cfg.VaultAddress, cfg.DevnetBalance); err != nil {
			return nil, fmt.Errorf("fund %s: %w", cfg.VaultAddress, err)
		}
		if err := s.net.Ledger.BuyPlan(cfg.VaultAddress, cfg.PlanBytes); err != nil {
			return nil, fmt.Errorf("buy plan: %w", err)
		}
	}
	if cfg.ConfirmSignatures {
		s.net.SetApprover(promptApprover(os.Stdin))
	}

	s.handler = devnet.NewHandler(s.net, cfg.VaultAddress)
	s.adapter = vault.New(vault.WithLogger(logging.L()))

	if s.cache, err = cache.New(cfg.CacheDir, cfg.MaxCacheSize); err != nil {
		logging.Warn("preview cache disabled", logging.Err(err))
		s.cache = nil
	}
	s.prefetch = vault.NewPrefetcher(s.adapter, s.handler, cfg.PrefetchConcurrency, s.cache)
	return s, nil
}

func (s *session) openIndex(ctx context.Context) (devnet.Index, error) {
	if s.cfg.DatabaseURL != "" {
		store, err := pgindex.New(s.cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}

	s.memIndex = devnet.NewMemIndex()
	s.statePath = filepath.Join(s.cfg.DevnetStateDir, "index.json")
	f, err := os.Open(s.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return s.memIndex, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open devnet state: %w", err)
	}
	defer f.Close()
	if err := s.memIndex.Restore(f); err != nil {
		return nil, fmt.Errorf("restore devnet state: %w", err)
	}
	return s.memIndex, nil
}

func (s *session) close() error {
	var errs []error
	if s.memIndex != nil {
		if err := s.saveIndex(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.net != nil {
		errs = append(errs, s.net.Close())
	}
	return errors.Join(errs...)
}

func (s *session) saveIndex() error {
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.statePath), "index-*.json")
	if err != nil {
		return fmt.Errorf("save devnet state: %w", err)
	}
	if err := s.memIndex.Snapshot(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save devnet state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.statePath)
}

// promptApprover asks on the terminal before each signature.
func promptApprover(in *os.File) devnet.Approver {
	reader := bufio.NewReader(in)
	return func(signer string, msgs []models.Msg) error {
		types := make([]string, len(msgs))
		for i, m := range msgs {
			types[i] = m.Type
		}
		fmt.Fprintf(os.Stderr, "Sign %d message(s) as %s (%s)? [y/N] ", len(msgs), signer, strings.Join(types, ", "))
		line, _ := reader.ReadString('\n')
		if answer := strings.ToLower(strings.TrimSpace(line)); answer == "y" || answer == "yes" {
			return nil
		}
		return errors.New("request rejected by user")
	}
}

// lookup finds the listing entry of path so later calls can use its
// identifiers.
func (s *session) lookup(path string) (models.Entry, error) {
	path = vault.NormalizePath(path)
	parent, name := vault.SplitPath(path)
	if parent == "" {
		parent = vault.HomeFolder
	}
	for _, e := range s.adapter.ListDirectory(s.ctx, s.handler, parent) {
		if e.Name == name {
			return e, nil
		}
	}
	return models.Entry{}, fmt.Errorf("%s: %w", path, vault.ErrNotFound)
}

func cmdList(s *session, args []string) error {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	prefetch := fs.Bool("prefetch", false, "Download previews of every file in the folder")
	owner := fs.String("owner", "", "List another owner's tree")
	fs.Parse(args)

	path := vault.HomeFolder
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	var owners []string
	if *owner != "" {
		owners = []string{*owner}
	}

	entries := s.adapter.ListDirectory(s.ctx, s.handler, path, owners...)
	for _, e := range entries {
		if e.IsDir {
			fmt.Printf("d %10s  %s/\n", "-", e.Name)
		} else {
			fmt.Printf("- %10d  %s\n", e.Size, e.Name)
		}
	}

	if *prefetch {
		for res := range s.prefetch.FetchAll(s.ctx, path, entries) {
			if res.Err != nil {
				fmt.Fprintf(os.Stderr, "prefetch %s: %v\n", res.Path, res.Err)
				continue
			}
			logging.Debug("preview ready", logging.Path(res.Path), logging.Int("bytes", len(res.Data)))
		}
	}
	return nil
}

func cmdPut(s *session, args []string) error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	dir := fs.String("dir", vault.HomeFolder, "Destination folder")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("put: %w: files", vault.ErrMissingArgument)
	}

	files := make([]models.File, 0, fs.NArg())
	for _, p := range fs.Args() {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		files = append(files, models.File{Name: filepath.Base(p), Data: data, ModTime: info.ModTime()})
	}

	return s.adapter.UploadFiles(s.ctx, s.handler, files, *dir, func(ratio float64) {
		fmt.Fprintf(os.Stderr, "\rUploading... %3.0f%%", ratio*100)
		if ratio >= 1 {
			fmt.Fprintln(os.Stderr)
		}
	})
}

func cmdGet(s *session, args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	out := fs.String("o", "", "Output file (default: stdout)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("get: %w: path", vault.ErrMissingArgument)
	}

	path := fs.Arg(0)
	e, err := s.lookup(path)
	if err != nil {
		return err
	}
	data, err := s.prefetch.Fetch(s.ctx, path, e.Raw)
	if err != nil {
		return err
	}
	if *out == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(*out, data, 0644)
}

func cmdRemove(s *session, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("rm: %w: path", vault.ErrMissingArgument)
	}
	e, err := s.lookup(args[0])
	if err != nil {
		return err
	}
	return s.adapter.DeleteItem(s.ctx, s.handler, args[0], e.IsDir, e.Raw)
}

func cmdMove(s *session, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("mv: %w: source and destination", vault.ErrMissingArgument)
	}
	e, err := s.lookup(args[0])
	if err != nil {
		return err
	}
	return s.adapter.RenameItem(s.ctx, s.handler, args[0], args[1], e.IsDir, e.Raw)
}

func cmdMkdir(s *session, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("mkdir: %w: path", vault.ErrMissingArgument)
	}
	parent, name := vault.SplitPath(vault.NormalizePath(args[0]))
	return s.adapter.CreateFolder(s.ctx, s.handler, parent, name)
}

func changeAccess(s *session, args []string, share bool) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: path and address", vault.ErrMissingArgument)
	}
	e, err := s.lookup(args[0])
	if err != nil {
		return err
	}
	var res vault.ShareResult
	if share {
		res, err = s.adapter.ShareFile(s.ctx, s.handler, args[0], args[1], e.Raw)
	} else {
		res, err = s.adapter.UnshareFile(s.ctx, s.handler, args[0], args[1], e.Raw)
	}
	if err != nil {
		return err
	}
	logging.Debug("access changed", logging.Strategy(res.Method))
	return nil
}

func cmdShare(s *session, args []string) error   { return changeAccess(s, args, true) }
func cmdUnshare(s *session, args []string) error { return changeAccess(s, args, false) }

func cmdViewers(s *session, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("viewers: %w: path", vault.ErrMissingArgument)
	}
	e, err := s.lookup(args[0])
	if err != nil {
		return err
	}
	for _, v := range s.adapter.GetFileViewers(s.ctx, s.handler, args[0], e.Raw) {
		fmt.Println(v)
	}
	return nil
}

func cmdStatus(s *session, args []string) error {
	fmt.Printf("Address:   %s\n", s.cfg.VaultAddress)

	if ps := s.adapter.StorageStatus(s.ctx, s.handler); ps != nil {
		state := "inactive"
		if ps.Active {
			state = "active"
		}
		fmt.Printf("Plan:      %s, %d / %d bytes used, expires %s\n",
			state, ps.Used, ps.Allowed, ps.ExpiresAt.Format(time.DateOnly))
	} else {
		fmt.Println("Plan:      unavailable")
	}

	if s.adapter.EnsureProviderPool(s.ctx, s.handler) {
		fmt.Printf("Providers: %s\n", strings.Join(s.handler.Providers(), ", "))
	} else {
		fmt.Println("Providers: unreachable")
	}

	if s.cache != nil {
		used, limit, count := s.cache.Stats()
		fmt.Printf("Cache:     %d files, %d / %d MB\n", count, used/(1<<20), limit/(1<<20))
	}
	return nil
}

func cmdMount(s *session, args []string) error {
	fs := flag.NewFlagSet("mount", flag.ExitOnError)
	mountPoint := fs.String("mount", "", "Mount point (required)")
	allowOther := fs.Bool("allow-other", false, "Allow other users to access the mount")
	debug := fs.Bool("debug", false, "Log FUSE requests")
	fs.Parse(args)
	if *mountPoint == "" {
		return fmt.Errorf("mount: %w: -mount", vault.ErrMissingArgument)
	}

	if *debug {
		logging.SetLevel("debug")
	}
	vfs := mount.New(s.adapter, s.handler, s.prefetch, mount.Config{AllowOther: *allowOther, Debug: *debug})
	vfs.StartInvalidation(s.ctx)

	server, err := vfs.Mount(*mountPoint)
	if err != nil {
		return err
	}
	logging.Info("vault mounted", logging.Path(*mountPoint), logging.String("address", s.cfg.VaultAddress))

	<-s.ctx.Done()
	logging.Info("unmounting")
	if err := server.Unmount(); err != nil {
		return fmt.Errorf("unmount: %w", err)
	}
	stats := vfs.GetStats()
	logging.Info("mount statistics",
		logging.Int64("listings", stats.Listings.Load()),
		logging.Int64("reads", stats.ContentReads.Load()),
		logging.Int64("bytes_uploaded", stats.BytesUploaded.Load()))
	return nil
}

func serveMetrics(cfg *config.Config) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()

	logging.Info("serving metrics", logging.String("addr", cfg.MetricsAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
