package devnet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/internal/logging"
	"github.com/velthium/vestalia-network/internal/metrics"
	"github.com/velthium/vestalia-network/pkg/models"
)

// SharedFolder is the virtual folder listing files shared with the
// handler's identity.
const SharedFolder = "Shared"

// StorageHandler is a wallet-backed session on a Network. One handler
// signs as one address.
type StorageHandler struct {
	net       *Network
	address   string
	delegated []string
	log       *zap.Logger

	// submit serializes sequence use; mu guards the fields below it.
	submitMu sync.Mutex
	mu       sync.Mutex
	seq      uint64
	seqOK    bool
	cwd      Node
	queue    []pending
	pool     []string
}

// pending is one queued upload or delete.
type pending struct {
	node     Node
	payload  []byte
	delete   bool
	replaces string
}

// HandlerOption configures a StorageHandler.
type HandlerOption func(*StorageHandler)

// WithDelegated adds interchain identities that own vault content on the
// handler's behalf.
func WithDelegated(addresses ...string) HandlerOption {
	return func(h *StorageHandler) { h.delegated = append(h.delegated, addresses...) }
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(l *zap.Logger) HandlerOption {
	return func(h *StorageHandler) { h.log = l }
}

// NewHandler opens a session for address.
func NewHandler(net *Network, address string, opts ...HandlerOption) *StorageHandler {
	h := &StorageHandler{net: net, address: address}
	for _, o := range opts {
		o(h)
	}
	if h.log == nil {
		h.log = logging.L()
	}
	h.log = h.log.With(zap.String("address", address))
	return h
}

func (h *StorageHandler) index() Index { return h.net.Ledger.Index() }

// owns reports whether owner is one of the handler's identities.
func (h *StorageHandler) owns(owner string) bool {
	if owner == h.address {
		return true
	}
	for _, d := range h.delegated {
		if d == owner {
			return true
		}
	}
	return false
}

// Identity

func (h *StorageHandler) Address(ctx context.Context) (string, error) {
	return h.address, nil
}

func (h *StorageHandler) DelegatedAddresses(ctx context.Context) ([]string, error) {
	return append([]string(nil), h.delegated...), nil
}

// Paths

func pathParts(p string) []string {
	p = strings.Trim(p, "/")
	if p == "s" {
		p = ""
	}
	p = strings.TrimPrefix(p, "s/")
	if p == "" {
		return []string{"Home"}
	}
	return strings.Split(p, "/")
}

func (h *StorageHandler) child(ctx context.Context, dir Node, name string) (Node, error) {
	children, err := h.index().Children(ctx, dir.ULID)
	if err != nil {
		return Node{}, err
	}
	for _, c := range children {
		if c.Name == name {
			return c, nil
		}
	}
	return Node{}, fmt.Errorf("%s/%s: %w", dir.Name, name, ErrNodeNotFound)
}

// resolve walks path inside owner's tree.
func (h *StorageHandler) resolve(ctx context.Context, owner, path string) (Node, error) {
	parts := pathParts(path)
	if parts[0] != "Home" {
		return Node{}, fmt.Errorf("%q: %w", path, ErrNodeNotFound)
	}
	n, err := h.index().Root(ctx, owner)
	if errors.Is(err, ErrNodeNotFound) {
		if _, acctErr := h.net.Ledger.Account(owner); acctErr != nil {
			return Node{}, acctErr
		}
	}
	if err != nil {
		return Node{}, err
	}
	for _, name := range parts[1:] {
		if !n.IsDir {
			return Node{}, fmt.Errorf("%q: %s is not a folder", path, n.Name)
		}
		if n, err = h.child(ctx, n, name); err != nil {
			return Node{}, err
		}
	}
	return n, nil
}

func (h *StorageHandler) resolveDir(ctx context.Context, owner, path string) (Node, error) {
	n, err := h.resolve(ctx, owner, path)
	if err != nil {
		return Node{}, err
	}
	if !n.IsDir {
		return Node{}, fmt.Errorf("%q is not a folder", path)
	}
	return n, nil
}

func (h *StorageHandler) resolveFile(ctx context.Context, owner, path string) (Node, error) {
	n, err := h.resolve(ctx, owner, path)
	if err != nil {
		return Node{}, err
	}
	if n.IsDir {
		return Node{}, fmt.Errorf("%q is a folder", path)
	}
	return n, nil
}

// pathOf rebuilds the vault path of a node.
func (h *StorageHandler) pathOf(ctx context.Context, ulid string) (string, error) {
	var names []string
	for ulid != "" {
		n, err := h.index().Get(ctx, ulid)
		if err != nil {
			return "", err
		}
		names = append([]string{n.Name}, names...)
		ulid = n.ParentULID
	}
	return strings.Join(names, "/"), nil
}

func fileMeta(n Node) models.FileMeta {
	return models.FileMeta{
		Name:     n.Name,
		Size:     n.Size,
		ULID:     n.ULID,
		Merkle:   n.Merkle,
		Start:    n.Start,
		Ref:      n.RefIndex,
		Location: n.ParentULID,
		Owner:    n.Owner,
		Viewers:  append([]string(nil), n.Viewers...),
		ModTime:  n.ModTime,
	}
}

func (h *StorageHandler) folderMeta(ctx context.Context, n Node) models.FolderMeta {
	children, _ := h.index().Children(ctx, n.ULID)
	return models.FolderMeta{
		WhoAmI:   n.Name,
		Name:     n.Name,
		ULID:     n.ULID,
		Ref:      n.RefIndex,
		Location: n.ParentULID,
		Count:    len(children),
	}
}

// Listing

// ReadDirectoryContents lists path in opts.Owner's tree, or the handler's
// own tree. Foreign trees only show entries shared with the handler.
func (h *StorageHandler) ReadDirectoryContents(ctx context.Context, path string, opts models.ReadOptions) (any, error) {
	owner := opts.Owner
	if owner == "" {
		owner = h.address
	}
	if parts := pathParts(path); len(parts) == 1 && parts[0] == SharedFolder {
		return h.sharedListing(ctx)
	}

	dir, err := h.resolveDir(ctx, owner, path)
	if err != nil {
		return nil, err
	}
	children, err := h.index().Children(ctx, dir.ULID)
	if err != nil {
		return nil, err
	}

	foreign := !h.owns(owner)
	dm := &models.DirectoryMap{
		Folders: make(map[string]models.FolderMeta),
		Files:   make(map[string]models.FileRecord),
	}
	for _, c := range children {
		if foreign && !c.CanRead(h.address) {
			continue
		}
		if c.IsDir {
			dm.Folders[c.Name] = h.folderMeta(ctx, c)
			continue
		}
		meta := fileMeta(c)
		dm.Files[c.Name] = models.FileRecord{Meta: &meta}
	}
	if foreign && len(dm.Folders)+len(dm.Files) == 0 {
		return nil, fmt.Errorf("nothing in %s/%s is shared with %s", owner, path, h.address)
	}
	return dm, nil
}

func (h *StorageHandler) sharedListing(ctx context.Context) (*models.DirectoryMap, error) {
	nodes, err := h.index().SharedWith(ctx, h.address)
	if err != nil {
		return nil, err
	}
	dm := &models.DirectoryMap{
		Folders: map[string]models.FolderMeta{},
		Files:   make(map[string]models.FileRecord, len(nodes)),
	}
	for _, n := range nodes {
		if h.owns(n.Owner) {
			continue
		}
		root, err := h.pathOf(ctx, n.ParentULID)
		if err != nil {
			h.log.Debug("shared file has no reachable parent", zap.String("ulid", n.ULID), zap.Error(err))
			continue
		}
		meta := fileMeta(n)
		dm.Files[n.Owner+"/"+n.ULID] = models.FileRecord{
			Meta: &meta,
			Share: &models.ShareOrigin{
				Owner:    n.Owner,
				FileULID: n.ULID,
				Root:     root,
				Name:     n.Name,
			},
		}
	}
	return dm, nil
}

// LoadDirectory makes path the current directory for queue and delete
// calls.
func (h *StorageHandler) LoadDirectory(ctx context.Context, path string) error {
	dir, err := h.resolveDir(ctx, h.address, path)
	if err != nil {
		return fmt.Errorf("load directory: %w", err)
	}
	h.mu.Lock()
	h.cwd = dir
	h.mu.Unlock()
	return nil
}

// currentDir returns the loaded directory, loading Home on first use.
func (h *StorageHandler) currentDir(ctx context.Context) (Node, error) {
	h.mu.Lock()
	dir := h.cwd
	h.mu.Unlock()
	if dir.ULID != "" {
		return dir, nil
	}
	if err := h.LoadDirectory(ctx, "Home"); err != nil {
		return Node{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cwd, nil
}

// Children lists the loaded directory.
func (h *StorageHandler) Children() any {
	ctx := context.Background()
	dir, err := h.currentDir(ctx)
	if err != nil {
		return &models.ChildList{}
	}
	children, err := h.index().Children(ctx, dir.ULID)
	if err != nil {
		return &models.ChildList{}
	}
	list := &models.ChildList{Children: make([]models.Entry, 0, len(children))}
	for _, c := range children {
		e := models.Entry{Name: c.Name, IsDir: c.IsDir, Raw: &models.Raw{ULID: c.ULID, Ref: c.RefIndex}}
		if c.IsDir {
			f := h.folderMeta(ctx, c)
			e.Raw.Folder = &f
		} else {
			m := fileMeta(c)
			e.Size = c.Size
			e.Raw.File = &m
		}
		list.Children = append(list.Children, e)
	}
	return list
}

// CurrentLocation returns the identifier of the loaded directory.
func (h *StorageHandler) CurrentLocation() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cwd.ULID
}

func (h *StorageHandler) FileMetaData(ctx context.Context, path string) (*models.FileMeta, error) {
	n, err := h.resolveFile(ctx, h.address, path)
	if err != nil {
		return nil, err
	}
	m := fileMeta(n)
	return &m, nil
}

func (h *StorageHandler) FolderDetailsByULID(ctx context.Context, ulid string) (*models.FolderMeta, error) {
	n, err := h.index().Get(ctx, ulid)
	if err != nil {
		return nil, err
	}
	if !n.IsDir || !h.owns(n.Owner) {
		return nil, fmt.Errorf("folder %s: %w", ulid, ErrNodeNotFound)
	}
	m := h.folderMeta(ctx, n)
	return &m, nil
}

func (h *StorageHandler) ChildFileMetas(ctx context.Context) ([]models.FileMeta, error) {
	dir, err := h.currentDir(ctx)
	if err != nil {
		return nil, err
	}
	children, err := h.index().Children(ctx, dir.ULID)
	if err != nil {
		return nil, err
	}
	var out []models.FileMeta
	for _, c := range children {
		if !c.IsDir {
			out = append(out, fileMeta(c))
		}
	}
	return out, nil
}

func (h *StorageHandler) ChildFolderMetas(ctx context.Context) ([]models.FolderMeta, error) {
	dir, err := h.currentDir(ctx)
	if err != nil {
		return nil, err
	}
	children, err := h.index().Children(ctx, dir.ULID)
	if err != nil {
		return nil, err
	}
	var out []models.FolderMeta
	for _, c := range children {
		if c.IsDir {
			out = append(out, h.folderMeta(ctx, c))
		}
	}
	return out, nil
}

// Providers

func (h *StorageHandler) Providers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.pool...)
}

func (h *StorageHandler) AvailableProviders(ctx context.Context) ([]string, error) {
	providers := h.net.Providers()
	if len(providers) == 0 {
		return nil, errors.New("no providers on the network")
	}
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name
	}
	return names, nil
}

func (h *StorageHandler) FindProviderIPs(ctx context.Context, providers []string) ([]string, error) {
	want := make(map[string]bool, len(providers))
	for _, p := range providers {
		want[p] = true
	}
	var ips []string
	for _, p := range h.net.Providers() {
		if want[p.Name] {
			ips = append(ips, p.IP)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("none of %d providers has a known address", len(providers))
	}
	return ips, nil
}

func (h *StorageHandler) LoadProviderPool(ctx context.Context, ips []string) error {
	var pool []string
	for _, ip := range ips {
		if _, ok := h.net.ProviderByIP(ip); ok {
			pool = append(pool, ip)
		}
	}
	if len(pool) == 0 {
		return errors.New("no reachable providers")
	}
	h.mu.Lock()
	h.pool = pool
	h.mu.Unlock()
	return nil
}

// Download

func (h *StorageHandler) fetch(ctx context.Context, n Node, tracker *models.Tracker) ([]byte, error) {
	pool := h.Providers()
	if len(pool) == 0 {
		return nil, errors.New("no providers loaded")
	}

	var lastErr error
	for _, ip := range pool {
		p, ok := h.net.ProviderByIP(ip)
		if !ok {
			continue
		}
		data, err := p.Get(ctx, n.Merkle)
		if err != nil {
			lastErr = err
			continue
		}
		if n.Key != nil {
			if data, err = open(n.Key, data); err != nil {
				return nil, fmt.Errorf("%s: %w", n.Name, err)
			}
		}
		if tracker != nil {
			tracker.AddChunk(data)
			tracker.Report(int64(len(data)), n.Size)
		}
		metrics.RecordDownload(int64(len(data)))
		return data, nil
	}
	return nil, fmt.Errorf("%s: content unavailable: %w", n.Name, lastErr)
}

// DownloadByULID fetches a file by identifier. UserAddress, when set,
// names the owner whose tree the file must belong to.
func (h *StorageHandler) DownloadByULID(ctx context.Context, req models.ULIDDownload) ([]byte, error) {
	n, err := h.index().Get(ctx, req.ULID)
	if err != nil {
		return nil, err
	}
	if n.IsDir {
		return nil, fmt.Errorf("%s is a folder", req.ULID)
	}
	if req.UserAddress != "" && n.Owner != req.UserAddress {
		return nil, fmt.Errorf("%s in the tree of %s: %w", req.ULID, req.UserAddress, ErrNodeNotFound)
	}
	if !h.owns(n.Owner) && !n.CanRead(h.address) {
		return nil, fmt.Errorf("access denied to %s", n.Name)
	}
	return h.fetch(ctx, n, req.Tracker)
}

func (h *StorageHandler) DownloadFile(ctx context.Context, path string, tracker *models.Tracker) ([]byte, error) {
	n, err := h.resolveFile(ctx, h.address, path)
	if err != nil {
		return nil, err
	}
	return h.fetch(ctx, n, tracker)
}

func (h *StorageHandler) DownloadExternalFile(ctx context.Context, owner, path string, tracker *models.Tracker) ([]byte, error) {
	n, err := h.resolveFile(ctx, owner, path)
	if err != nil {
		return nil, err
	}
	if !h.owns(n.Owner) && !n.CanRead(h.address) {
		return nil, fmt.Errorf("access denied to %s", n.Name)
	}
	return h.fetch(ctx, n, tracker)
}

// PlanStatus reports the storage plan of the handler's address.
func (h *StorageHandler) PlanStatus(ctx context.Context) (*models.PlanStatus, error) {
	return h.net.Ledger.Plan(h.address)
}
