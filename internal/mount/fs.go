// Package mount exposes a vault as a FUSE filesystem. Every directory
// operation goes through the vault adapter, so the mount sees the same
// strategy cascades as the command line tools.
package mount

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/internal/logging"
	"github.com/velthium/vestalia-network/pkg/models"
	"github.com/velthium/vestalia-network/pkg/vault"
)

// sharedFolder is the virtual folder listing files other owners shared.
const sharedFolder = "Shared"

// VaultFS is the mounted filesystem.
type VaultFS struct {
	adapter  *vault.Adapter
	handler  vault.Handler
	prefetch *vault.Prefetcher
	cfg      Config
	log      *zap.Logger

	events chan vault.ChangeEvent
	stats  Stats
}

// Stats holds filesystem statistics.
type Stats struct {
	Listings      atomic.Int64
	ContentReads  atomic.Int64
	FailedFetches atomic.Int64
	BytesRead     atomic.Int64
	BytesUploaded atomic.Int64
	FilesCreated  atomic.Int64
	DirsCreated   atomic.Int64
	FilesDeleted  atomic.Int64
	DirsDeleted   atomic.Int64
	Renames       atomic.Int64
}

// Config holds mount options.
type Config struct {
	FsName     string
	AllowOther bool
	Debug      bool
}

// New creates the filesystem. prefetch serves reads, so a cached preview
// is reused when a file is opened.
func New(a *vault.Adapter, h vault.Handler, prefetch *vault.Prefetcher, cfg Config) *VaultFS {
	if cfg.FsName == "" {
		cfg.FsName = "vestalia"
	}
	return &VaultFS{
		adapter:  a,
		handler:  h,
		prefetch: prefetch,
		cfg:      cfg,
		log:      logging.L().With(zap.String("component", "mount")),
	}
}

// StartInvalidation drops cached content whenever the adapter reports a
// change. It stops when ctx is done.
func (f *VaultFS) StartInvalidation(ctx context.Context) {
	if f.events != nil {
		return
	}
	bus := f.adapter.Events()
	f.events = bus.Subscribe()
	go f.prefetch.Invalidate(f.events)
	go func() {
		<-ctx.Done()
		bus.Unsubscribe(f.events)
	}()
	f.log.Info("cache invalidation enabled")
}

// Mount mounts the filesystem at mountPoint.
func (f *VaultFS) Mount(mountPoint string) (*gofuse.Server, error) {
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return nil, fmt.Errorf("create mount point: %w", err)
	}

	opts := &fs.Options{
		MountOptions: gofuse.MountOptions{
			AllowOther: f.cfg.AllowOther,
			Debug:      f.cfg.Debug,
			FsName:     f.cfg.FsName,
			Name:       "vestalia",
		},
		UID: uint32(os.Getuid()),
		GID: uint32(os.Getgid()),
	}

	server, err := fs.Mount(mountPoint, f.Root(), opts)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	return server, nil
}

// Root returns the top node, which holds Home and Shared.
func (f *VaultFS) Root() *Node {
	return &Node{fsys: f, entry: models.Entry{IsDir: true}}
}

// GetStats returns filesystem statistics.
func (f *VaultFS) GetStats() *Stats {
	return &f.stats
}

func (f *VaultFS) list(ctx context.Context, path string) []models.Entry {
	f.stats.Listings.Add(1)
	return f.adapter.ListDirectory(ctx, f.handler, path)
}

// errno maps adapter failures onto file system errors.
func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, vault.ErrAccountNotFunded):
		return syscall.EACCES
	case errors.Is(err, vault.ErrUserRejected):
		return syscall.EPERM
	case errors.Is(err, vault.ErrNoProviders):
		return syscall.ENETUNREACH
	case errors.Is(err, vault.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, vault.ErrRenameUnsupported),
		errors.Is(err, vault.ErrFolderUnsupported),
		errors.Is(err, vault.ErrNoEnqueueStrategy),
		errors.Is(err, vault.ErrNoSubmitStrategy):
		return syscall.ENOTSUP
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return syscall.EINTR
	}
	return syscall.EIO
}

// Node is a file or folder in the mount. The root node has an empty path.
type Node struct {
	fs.Inode

	fsys *VaultFS

	mu    sync.Mutex
	path  string
	entry models.Entry
}

var _ fs.InodeEmbedder = (*Node)(nil)
var _ fs.NodeGetattrer = (*Node)(nil)
var _ fs.NodeLookuper = (*Node)(nil)
var _ fs.NodeReaddirer = (*Node)(nil)
var _ fs.NodeOpener = (*Node)(nil)
var _ fs.NodeReader = (*Node)(nil)
var _ fs.NodeGetxattrer = (*Node)(nil)
var _ fs.NodeListxattrer = (*Node)(nil)
var _ fs.NodeCreater = (*Node)(nil)
var _ fs.NodeMkdirer = (*Node)(nil)
var _ fs.NodeUnlinker = (*Node)(nil)
var _ fs.NodeRmdirer = (*Node)(nil)
var _ fs.NodeSetattrer = (*Node)(nil)
var _ fs.NodeRenamer = (*Node)(nil)

func (n *Node) snapshot() (string, models.Entry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path, n.entry
}

func (n *Node) isRoot() bool {
	p, _ := n.snapshot()
	return p == ""
}

func (n *Node) childPath(name string) string {
	p, _ := n.snapshot()
	if p == "" {
		return name
	}
	return p + "/" + name
}

// readOnly reports whether the node sits in the virtual Shared folder.
func (n *Node) readOnly() bool {
	p, _ := n.snapshot()
	return p == sharedFolder || strings.HasPrefix(p, sharedFolder+"/")
}

func (n *Node) children(ctx context.Context) []models.Entry {
	if n.isRoot() {
		return []models.Entry{
			{Name: vault.HomeFolder, IsDir: true},
			{Name: sharedFolder, IsDir: true},
		}
	}
	p, _ := n.snapshot()
	return n.fsys.list(ctx, p)
}

func (n *Node) find(ctx context.Context, name string) (models.Entry, bool) {
	for _, e := range n.children(ctx) {
		if e.Name == name {
			return e, true
		}
	}
	return models.Entry{}, false
}

func fillAttr(e models.Entry, out *gofuse.Attr) {
	if e.IsDir {
		out.Mode = 0755 | syscall.S_IFDIR
	} else {
		out.Mode = 0644 | syscall.S_IFREG
		out.Size = uint64(e.Size)
	}
	if e.Raw != nil && e.Raw.File != nil && !e.Raw.File.ModTime.IsZero() {
		out.Mtime = uint64(e.Raw.File.ModTime.Unix())
	}
	out.Atime = out.Mtime
	out.Ctime = out.Mtime
	out.Uid = uint32(os.Getuid())
	out.Gid = uint32(os.Getgid())
}

func (n *Node) newChild(ctx context.Context, name string, e models.Entry, out *gofuse.EntryOut) *fs.Inode {
	fillAttr(e, &out.Attr)
	child := &Node{fsys: n.fsys, path: n.childPath(name), entry: e}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: out.Mode & syscall.S_IFMT})
}

// Getattr returns attributes from the last listing. It never downloads
// content.
func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	_, e := n.snapshot()
	fillAttr(e, &out.Attr)
	if h, ok := fh.(*FileHandle); ok && h.writable {
		out.Size = uint64(h.size())
	}
	return 0
}

// Lookup finds a child by name.
func (n *Node) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	_, self := n.snapshot()
	if !self.IsDir {
		return nil, syscall.ENOTDIR
	}
	e, ok := n.find(ctx, name)
	if !ok {
		return nil, syscall.ENOENT
	}
	return n.newChild(ctx, name, e, out), 0
}

// Readdir lists folder contents.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	_, self := n.snapshot()
	if !self.IsDir {
		return nil, syscall.ENOTDIR
	}
	children := n.children(ctx)
	entries := make([]gofuse.DirEntry, 0, len(children))
	for _, c := range children {
		mode := uint32(syscall.S_IFREG)
		if c.IsDir {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, gofuse.DirEntry{Name: c.Name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *Node) fetch(ctx context.Context) ([]byte, syscall.Errno) {
	p, e := n.snapshot()
	data, err := n.fsys.prefetch.Fetch(ctx, p, e.Raw)
	if err != nil {
		n.fsys.stats.FailedFetches.Add(1)
		n.fsys.log.Error("fetch failed", zap.String("path", p), zap.Error(err))
		return nil, errno(err)
	}
	n.fsys.stats.ContentReads.Add(1)
	return data, 0
}

// Open loads a file for reading, or prepares a write buffer.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	_, e := n.snapshot()
	if e.IsDir {
		return nil, 0, syscall.EISDIR
	}

	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		if n.readOnly() {
			return nil, 0, syscall.EROFS
		}
		fh := &FileHandle{node: n, writable: true}
		if flags&syscall.O_TRUNC == 0 && e.Size > 0 {
			data, code := n.fetch(ctx)
			if code != 0 {
				return nil, 0, code
			}
			fh.data = append([]byte(nil), data...)
		} else if flags&syscall.O_TRUNC != 0 {
			fh.dirty = true
		}
		return fh, 0, 0
	}

	data, code := n.fetch(ctx)
	if code != 0 {
		return nil, 0, code
	}
	return &FileHandle{node: n, data: data}, gofuse.FOPEN_KEEP_CACHE, 0
}

// Read reads file content.
func (n *Node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	h, ok := fh.(*FileHandle)
	if !ok {
		return nil, syscall.EIO
	}
	got := h.readAt(dest, off)
	n.fsys.stats.BytesRead.Add(int64(got))
	return gofuse.ReadResultData(dest[:got]), 0
}

// Getxattr exposes ledger identifiers of the entry.
func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	p, e := n.snapshot()
	var value string
	switch attr {
	case "user.vestalia.path":
		value = p
	case "user.vestalia.ulid":
		value, _ = e.Raw.UniqueID()
	case "user.vestalia.merkle":
		addr, _ := e.Raw.ContentAddress()
		value = addr.Merkle
	case "user.vestalia.owner":
		if e.Raw.SharedToMe() {
			value = e.Raw.Share.Owner
		} else if e.Raw != nil && e.Raw.File != nil {
			value = e.Raw.File.Owner
		}
	default:
		return 0, syscall.ENODATA
	}

	if len(dest) == 0 {
		return uint32(len(value)), 0
	}
	if len(dest) < len(value) {
		return 0, syscall.ERANGE
	}
	copy(dest, value)
	return uint32(len(value)), 0
}

var xattrs = []string{
	"user.vestalia.path",
	"user.vestalia.ulid",
	"user.vestalia.merkle",
	"user.vestalia.owner",
}

// Listxattr lists extended attributes.
func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	var total int
	for _, attr := range xattrs {
		total += len(attr) + 1
	}
	if len(dest) == 0 {
		return uint32(total), 0
	}
	if len(dest) < total {
		return 0, syscall.ERANGE
	}
	offset := 0
	for _, attr := range xattrs {
		copy(dest[offset:], attr)
		offset += len(attr)
		dest[offset] = 0
		offset++
	}
	return uint32(total), 0
}

func (n *Node) writableDir() syscall.Errno {
	_, self := n.snapshot()
	switch {
	case !self.IsDir:
		return syscall.ENOTDIR
	case n.isRoot(), n.readOnly():
		return syscall.EROFS
	}
	return 0
}

// Create starts a new file. Nothing reaches the vault until Flush.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *gofuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if code := n.writableDir(); code != 0 {
		return nil, nil, 0, code
	}
	if _, ok := n.find(ctx, name); ok && flags&syscall.O_EXCL != 0 {
		return nil, nil, 0, syscall.EEXIST
	}

	e := models.Entry{Name: name}
	fillAttr(e, &out.Attr)
	out.Mtime = uint64(time.Now().Unix())
	child := &Node{fsys: n.fsys, path: n.childPath(name), entry: e}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFREG})

	n.fsys.stats.FilesCreated.Add(1)
	return inode, &FileHandle{node: child, writable: true, dirty: true}, 0, 0
}

// Mkdir creates a folder.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if code := n.writableDir(); code != 0 {
		return nil, code
	}
	if _, ok := n.find(ctx, name); ok {
		return nil, syscall.EEXIST
	}
	p, _ := n.snapshot()
	if err := n.fsys.adapter.CreateFolder(ctx, n.fsys.handler, p, name); err != nil {
		n.fsys.log.Error("mkdir failed", zap.String("path", n.childPath(name)), zap.Error(err))
		return nil, errno(err)
	}
	n.fsys.stats.DirsCreated.Add(1)

	e, ok := n.find(ctx, name)
	if !ok {
		e = models.Entry{Name: name, IsDir: true}
	}
	return n.newChild(ctx, name, e, out), 0
}

func (n *Node) remove(ctx context.Context, name string, dir bool) syscall.Errno {
	if code := n.writableDir(); code != 0 {
		return code
	}
	e, ok := n.find(ctx, name)
	switch {
	case !ok:
		return syscall.ENOENT
	case dir && !e.IsDir:
		return syscall.ENOTDIR
	case !dir && e.IsDir:
		return syscall.EISDIR
	}

	full := n.childPath(name)
	if dir && len(n.fsys.list(ctx, full)) > 0 {
		return syscall.ENOTEMPTY
	}
	if err := n.fsys.adapter.DeleteItem(ctx, n.fsys.handler, full, dir, e.Raw); err != nil {
		n.fsys.log.Error("delete failed", zap.String("path", full), zap.Error(err))
		return errno(err)
	}
	if dir {
		n.fsys.stats.DirsDeleted.Add(1)
	} else {
		n.fsys.stats.FilesDeleted.Add(1)
	}
	return 0
}

// Unlink removes a file.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.remove(ctx, name, false)
}

// Rmdir removes an empty folder.
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.remove(ctx, name, true)
}

// Setattr handles truncation of an open write buffer.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *gofuse.SetAttrIn, out *gofuse.AttrOut) syscall.Errno {
	if sz, ok := in.GetSize(); ok {
		h, isHandle := f.(*FileHandle)
		if !isHandle || !h.writable {
			return syscall.EROFS
		}
		h.truncate(int64(sz))
	}
	return n.Getattr(ctx, f, out)
}

// Rename moves or renames a child.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if code := n.writableDir(); code != 0 {
		return code
	}
	dst, ok := newParent.(*Node)
	if !ok {
		return syscall.EIO
	}
	if code := dst.writableDir(); code != 0 {
		return code
	}
	e, ok := n.find(ctx, name)
	if !ok {
		return syscall.ENOENT
	}
	// RENAME_NOREPLACE
	if flags&1 != 0 {
		if _, exists := dst.find(ctx, newName); exists {
			return syscall.EEXIST
		}
	}

	from, to := n.childPath(name), dst.childPath(newName)
	if err := n.fsys.adapter.RenameItem(ctx, n.fsys.handler, from, to, e.IsDir, e.Raw); err != nil {
		n.fsys.log.Error("rename failed", zap.String("from", from), zap.String("to", to), zap.Error(err))
		return errno(err)
	}
	n.fsys.stats.Renames.Add(1)
	return 0
}

// FileHandle is an open file. Written data is kept in memory and uploaded
// on Flush.
type FileHandle struct {
	node *Node

	mu       sync.Mutex
	data     []byte
	writable bool
	dirty    bool
}

var _ fs.FileHandle = (*FileHandle)(nil)
var _ fs.FileWriter = (*FileHandle)(nil)
var _ fs.FileFlusher = (*FileHandle)(nil)

func (fh *FileHandle) size() int64 {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	return int64(len(fh.data))
}

func (fh *FileHandle) readAt(dest []byte, off int64) int {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if off >= int64(len(fh.data)) {
		return 0
	}
	return copy(dest, fh.data[off:])
}

func (fh *FileHandle) truncate(size int64) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if size < int64(len(fh.data)) {
		fh.data = fh.data[:size]
	} else {
		fh.data = append(fh.data, make([]byte, size-int64(len(fh.data)))...)
	}
	fh.dirty = true
}

// Write writes data into the buffer.
func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if !fh.writable {
		return 0, syscall.EBADF
	}
	end := off + int64(len(data))
	if end > int64(len(fh.data)) {
		fh.data = append(fh.data, make([]byte, end-int64(len(fh.data)))...)
	}
	copy(fh.data[off:], data)
	fh.dirty = true
	return uint32(len(data)), 0
}

// Flush uploads the buffer when it changed.
func (fh *FileHandle) Flush(ctx context.Context) syscall.Errno {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if !fh.dirty {
		return 0
	}

	n := fh.node
	p, _ := n.snapshot()
	parent, name := vault.SplitPath(p)
	file := models.File{Name: name, Data: append([]byte(nil), fh.data...), ModTime: time.Now()}
	if err := n.fsys.adapter.UploadFile(ctx, n.fsys.handler, file, parent); err != nil {
		n.fsys.log.Error("upload failed", zap.String("path", p), zap.Error(err))
		return errno(err)
	}

	n.mu.Lock()
	n.entry.Size = file.Size()
	n.mu.Unlock()
	fh.dirty = false
	n.fsys.stats.BytesUploaded.Add(file.Size())
	n.fsys.log.Info("uploaded", zap.String("path", p), zap.Int64("bytes", file.Size()))
	return 0
}
