package vault

import (
	"context"

	"github.com/velthium/vestalia-network/pkg/models"
)

// Handler is an opaque storage SDK handle. Its capabilities are discovered
// by asserting the interfaces below; handlers of different SDK versions
// implement different subsets.
type Handler = any

// Identity

type AddressProvider interface {
	Address(ctx context.Context) (string, error)
}

// DelegatedAddressProvider exposes interchain identities that may own the
// vault instead of the active address.
type DelegatedAddressProvider interface {
	DelegatedAddresses(ctx context.Context) ([]string, error)
}

// Listing

// DirectoryReader returns one of the listing shapes: *models.DirectoryMap,
// models.DirectoryMap, []models.Entry or *models.ChildList.
type DirectoryReader interface {
	ReadDirectoryContents(ctx context.Context, path string, opts models.ReadOptions) (any, error)
}

type DirectoryLoader interface {
	LoadDirectory(ctx context.Context, path string) error
}

type ChildrenReader interface {
	Children() any
}

type LocationReader interface {
	CurrentLocation() string
}

// Enqueue. An empty parent means the currently loaded directory.

type FileQueuer interface {
	QueueFile(ctx context.Context, file models.File, parent string) error
}

type PrivateQueuer interface {
	QueuePrivate(ctx context.Context, files []models.File, duration int) error
}

type PublicQueuer interface {
	QueuePublic(ctx context.Context, files []models.File, duration int) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, file models.File, parent string) error
}

// Submission

type QueueProcessor interface {
	ProcessQueue(ctx context.Context) (*models.TxResult, error)
}

type AllQueuesProcessor interface {
	ProcessAllQueues(ctx context.Context) (*models.TxResult, error)
}

type PendingProcessor interface {
	ProcessPending(ctx context.Context) error
}

type SignerUpgrader interface {
	UpgradeSigner(ctx context.Context) error
}

// Providers

type ProviderPool interface {
	Providers() []string
	AvailableProviders(ctx context.Context) ([]string, error)
	FindProviderIPs(ctx context.Context, providers []string) ([]string, error)
	LoadProviderPool(ctx context.Context, ips []string) error
}

// Download

type ULIDDownloader interface {
	DownloadByULID(ctx context.Context, req models.ULIDDownload) ([]byte, error)
}

type PathDownloader interface {
	DownloadFile(ctx context.Context, path string, tracker *models.Tracker) ([]byte, error)
}

type ExternalDownloader interface {
	DownloadExternalFile(ctx context.Context, owner, path string, tracker *models.Tracker) ([]byte, error)
}

// SharedMetaPrimer loads another owner's file metadata into the handler so
// that identifier downloads can resolve it.
type SharedMetaPrimer interface {
	PrimeSharedMeta(ctx context.Context, owner, ulid string) error
}

// Delete

type TargetDeleter interface {
	DeleteTargets(ctx context.Context, names []string) error
}

type ContentDeleter interface {
	DeleteFile(ctx context.Context, pkg models.FileDeletePackage) error
}

type QueuedDeleter interface {
	QueueDelete(ctx context.Context, ulid string) error
}

// FiletreeResolver finds where a path lives in the filetree without going
// through the content providers.
type FiletreeResolver interface {
	ResolveFiletreeLocation(ctx context.Context, path string) (models.FiletreeLocation, error)
}

type FiletreeMsgBuilder interface {
	FiletreeDeleteMsgs(ctx context.Context, pkg models.FiletreeDeletePackage) ([]models.Msg, error)
}

type MsgBroadcaster interface {
	BroadcastAndMonitor(ctx context.Context, msgs []models.Msg) error
}

// Move and rename

type Mover interface {
	Move(ctx context.Context, from, to string) error
}

type FileMover interface {
	MoveFile(ctx context.Context, from, to string) error
}

type FolderMover interface {
	MoveFolder(ctx context.Context, from, to string) error
}

type Renamer interface {
	Rename(ctx context.Context, path, newName string) error
}

type FileRenamer interface {
	RenameFile(ctx context.Context, path, newName string) error
}

type FolderRenamer interface {
	RenameFolder(ctx context.Context, path, newName string) error
}

type ResourceMover interface {
	MoveRenameResource(ctx context.Context, targets []models.MoveTarget) error
}

type FileMetaGetter interface {
	FileMetaData(ctx context.Context, path string) (*models.FileMeta, error)
}

type FolderDetailsGetter interface {
	FolderDetailsByULID(ctx context.Context, ulid string) (*models.FolderMeta, error)
}

// ChildMetaLister lists the metadata of the loaded directory's children.
type ChildMetaLister interface {
	ChildFileMetas(ctx context.Context) ([]models.FileMeta, error)
	ChildFolderMetas(ctx context.Context) ([]models.FolderMeta, error)
}

// Sharing

type ViewerGranter interface {
	GrantViewerAccess(ctx context.Context, path, address string) error
}

type FileSharer interface {
	ShareFile(ctx context.Context, path, viewer string) error
}

type ViewerAdder interface {
	AddViewers(ctx context.Context, ulid string, addresses []string) error
}

type ViewerRevoker interface {
	RevokeViewerAccess(ctx context.Context, path, address string) error
}

type ViewerRemover interface {
	RemoveViewers(ctx context.Context, ulid string, addresses []string) error
}

type ViewerLister interface {
	ListViewers(ctx context.Context, ulid string) ([]string, error)
}

type PathViewerLister interface {
	Viewers(ctx context.Context, path string) ([]string, error)
}

// Folders and plan

type FolderCreator interface {
	CreateFolders(ctx context.Context, parent string, names []string) error
}

type PlanStatuser interface {
	PlanStatus(ctx context.Context) (*models.PlanStatus, error)
}

// has reports whether h implements capability C.
func has[C any](h Handler) bool {
	_, ok := h.(C)
	return ok
}
