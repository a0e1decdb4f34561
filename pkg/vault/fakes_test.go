package vault

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/pkg/models"
	"github.com/velthium/vestalia-network/pkg/retry"
)

// Capability fakes. Each type implements one capability through a function
// field; tests compose handlers by embedding the ones they need.

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func newTestAdapter(opts ...Option) *Adapter {
	base := []Option{
		WithSigner(NewSignerLock()),
		WithLogger(zap.NewNop()),
		WithResync(retry.Config{MaxAttempts: 2, Multiplier: 1}),
	}
	return New(append(base, opts...)...)
}

type addressFake struct {
	addr      string
	delegated []string
}

func (f addressFake) Address(context.Context) (string, error) { return f.addr, nil }
func (f addressFake) DelegatedAddresses(context.Context) ([]string, error) {
	return f.delegated, nil
}

type readerFake struct {
	fn func(path string, opts models.ReadOptions) (any, error)
}

func (f readerFake) ReadDirectoryContents(_ context.Context, path string, opts models.ReadOptions) (any, error) {
	return f.fn(path, opts)
}

type loaderFake struct {
	fn       func(path string) error
	children any
}

func (f loaderFake) LoadDirectory(_ context.Context, path string) error {
	if f.fn == nil {
		return nil
	}
	return f.fn(path)
}
func (f loaderFake) Children() any { return f.children }

type locationFake struct{ fn func() string }

func (f locationFake) CurrentLocation() string { return f.fn() }

type fileQueuerFake struct {
	fn func(file models.File, parent string) error
}

func (f fileQueuerFake) QueueFile(_ context.Context, file models.File, parent string) error {
	return f.fn(file, parent)
}

type privateQueuerFake struct{ fn func(files []models.File) error }

func (f privateQueuerFake) QueuePrivate(_ context.Context, files []models.File, _ int) error {
	return f.fn(files)
}

type publicQueuerFake struct{ fn func(files []models.File) error }

func (f publicQueuerFake) QueuePublic(_ context.Context, files []models.File, _ int) error {
	return f.fn(files)
}

type enqueuerFake struct {
	fn func(file models.File, parent string) error
}

func (f enqueuerFake) Enqueue(_ context.Context, file models.File, parent string) error {
	return f.fn(file, parent)
}

type queueProcessorFake struct {
	fn func() (*models.TxResult, error)
}

func (f queueProcessorFake) ProcessQueue(context.Context) (*models.TxResult, error) { return f.fn() }

type allQueuesFake struct {
	fn func() (*models.TxResult, error)
}

func (f allQueuesFake) ProcessAllQueues(context.Context) (*models.TxResult, error) { return f.fn() }

type pendingFake struct{ fn func() error }

func (f pendingFake) ProcessPending(context.Context) error { return f.fn() }

type upgraderFake struct{ fn func() error }

func (f upgraderFake) UpgradeSigner(context.Context) error { return f.fn() }

type poolFake struct {
	mu        sync.Mutex
	loaded    []string
	available []string
	ips       []string
	lookups   int
	loadErr   error
}

func (p *poolFake) Providers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

func (p *poolFake) AvailableProviders(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookups++
	return p.available, nil
}

func (p *poolFake) FindProviderIPs(_ context.Context, providers []string) ([]string, error) {
	return p.ips, nil
}

func (p *poolFake) LoadProviderPool(_ context.Context, ips []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return p.loadErr
	}
	p.loaded = append([]string(nil), ips...)
	return nil
}

type ulidDownloaderFake struct {
	fn func(req models.ULIDDownload) ([]byte, error)
}

func (f ulidDownloaderFake) DownloadByULID(_ context.Context, req models.ULIDDownload) ([]byte, error) {
	return f.fn(req)
}

type pathDownloaderFake struct {
	fn func(path string, tr *models.Tracker) ([]byte, error)
}

func (f pathDownloaderFake) DownloadFile(_ context.Context, path string, tr *models.Tracker) ([]byte, error) {
	return f.fn(path, tr)
}

type externalDownloaderFake struct {
	fn func(owner, path string) ([]byte, error)
}

func (f externalDownloaderFake) DownloadExternalFile(_ context.Context, owner, path string, _ *models.Tracker) ([]byte, error) {
	return f.fn(owner, path)
}

type primerFake struct{ fn func(owner, ulid string) error }

func (f primerFake) PrimeSharedMeta(_ context.Context, owner, ulid string) error {
	return f.fn(owner, ulid)
}

type targetDeleterFake struct{ fn func(names []string) error }

func (f targetDeleterFake) DeleteTargets(_ context.Context, names []string) error { return f.fn(names) }

type contentDeleterFake struct {
	fn func(pkg models.FileDeletePackage) error
}

func (f contentDeleterFake) DeleteFile(_ context.Context, pkg models.FileDeletePackage) error {
	return f.fn(pkg)
}

type queuedDeleterFake struct{ fn func(ulid string) error }

func (f queuedDeleterFake) QueueDelete(_ context.Context, ulid string) error { return f.fn(ulid) }

type resolverFake struct {
	fn func(path string) (models.FiletreeLocation, error)
}

func (f resolverFake) ResolveFiletreeLocation(_ context.Context, path string) (models.FiletreeLocation, error) {
	return f.fn(path)
}

type msgBuilderFake struct {
	fn func(pkg models.FiletreeDeletePackage) ([]models.Msg, error)
}

func (f msgBuilderFake) FiletreeDeleteMsgs(_ context.Context, pkg models.FiletreeDeletePackage) ([]models.Msg, error) {
	return f.fn(pkg)
}

type broadcasterFake struct{ fn func(msgs []models.Msg) error }

func (f broadcasterFake) BroadcastAndMonitor(_ context.Context, msgs []models.Msg) error {
	return f.fn(msgs)
}

type moverFake struct{ fn func(from, to string) error }

func (f moverFake) Move(_ context.Context, from, to string) error { return f.fn(from, to) }

type fileMoverFake struct{ fn func(from, to string) error }

func (f fileMoverFake) MoveFile(_ context.Context, from, to string) error { return f.fn(from, to) }

type folderMoverFake struct{ fn func(from, to string) error }

func (f folderMoverFake) MoveFolder(_ context.Context, from, to string) error { return f.fn(from, to) }

type renamerFake struct{ fn func(path, name string) error }

func (f renamerFake) Rename(_ context.Context, path, name string) error { return f.fn(path, name) }

type fileRenamerFake struct{ fn func(path, name string) error }

func (f fileRenamerFake) RenameFile(_ context.Context, path, name string) error {
	return f.fn(path, name)
}

type resourceMoverFake struct {
	fn func(targets []models.MoveTarget) error
}

func (f resourceMoverFake) MoveRenameResource(_ context.Context, targets []models.MoveTarget) error {
	return f.fn(targets)
}

type fileMetaFake struct {
	fn func(path string) (*models.FileMeta, error)
}

func (f fileMetaFake) FileMetaData(_ context.Context, path string) (*models.FileMeta, error) {
	return f.fn(path)
}

type childMetaFake struct {
	files   []models.FileMeta
	folders []models.FolderMeta
}

func (f childMetaFake) ChildFileMetas(context.Context) ([]models.FileMeta, error) {
	return f.files, nil
}
func (f childMetaFake) ChildFolderMetas(context.Context) ([]models.FolderMeta, error) {
	return f.folders, nil
}

type granterFake struct{ fn func(path, addr string) error }

func (f granterFake) GrantViewerAccess(_ context.Context, path, addr string) error {
	return f.fn(path, addr)
}

type sharerFake struct{ fn func(path, viewer string) error }

func (f sharerFake) ShareFile(_ context.Context, path, viewer string) error { return f.fn(path, viewer) }

type adderFake struct{ fn func(ulid string, addrs []string) error }

func (f adderFake) AddViewers(_ context.Context, ulid string, addrs []string) error {
	return f.fn(ulid, addrs)
}

type revokerFake struct{ fn func(path, addr string) error }

func (f revokerFake) RevokeViewerAccess(_ context.Context, path, addr string) error {
	return f.fn(path, addr)
}

type removerFake struct{ fn func(ulid string, addrs []string) error }

func (f removerFake) RemoveViewers(_ context.Context, ulid string, addrs []string) error {
	return f.fn(ulid, addrs)
}

type viewerListerFake struct{ fn func(ulid string) ([]string, error) }

func (f viewerListerFake) ListViewers(_ context.Context, ulid string) ([]string, error) {
	return f.fn(ulid)
}

type pathViewerFake struct{ fn func(path string) ([]string, error) }

func (f pathViewerFake) Viewers(_ context.Context, path string) ([]string, error) { return f.fn(path) }

type folderCreatorFake struct {
	fn func(parent string, names []string) error
}

func (f folderCreatorFake) CreateFolders(_ context.Context, parent string, names []string) error {
	return f.fn(parent, names)
}

type planFake struct {
	status *models.PlanStatus
	err    error
}

func (f planFake) PlanStatus(context.Context) (*models.PlanStatus, error) { return f.status, f.err }

func okTx() (*models.TxResult, error) { return &models.TxResult{Code: 0}, nil }
