package models

import "time"

// DirectoryMap is the keyed listing shape: folders and files by name.
type DirectoryMap struct {
	Folders map[string]FolderMeta `json:"folders"`
	Files   map[string]FileRecord `json:"files"`
}

// FileRecord is one file in a DirectoryMap. Legacy handlers fill Name and
// Size directly; current ones attach Meta.
type FileRecord struct {
	Name  string       `json:"name,omitempty"`
	Size  int64        `json:"size,omitempty"`
	Meta  *FileMeta    `json:"meta,omitempty"`
	Share *ShareOrigin `json:"share,omitempty"`
}

// ChildList is the listing shape exposed by handlers that keep the loaded
// directory as a child collection.
type ChildList struct {
	Children []Entry `json:"children"`
}

// ReadOptions are passed to directory reads.
type ReadOptions struct {
	Owner   string
	Refresh bool
}

// File is an upload payload.
type File struct {
	Name    string
	Data    []byte
	ModTime time.Time
}

// Size returns the payload length.
func (f File) Size() int64 { return int64(len(f.Data)) }

// TxResult is the outcome of a submitted transaction.
type TxResult struct {
	Code      uint32 `json:"code"`
	Error     bool   `json:"error"`
	ErrorText string `json:"error_text,omitempty"`
	TxHash    string `json:"tx_hash,omitempty"`
}

// Failed reports whether the ledger rejected the transaction.
func (r *TxResult) Failed() bool {
	return r != nil && (r.Error || r.Code != 0)
}

// ULIDDownload requests a file by identifier inside a specific owner's tree.
type ULIDDownload struct {
	ULID        string
	UserAddress string
	Tracker     *Tracker
}

// FileDeletePackage addresses stored content for removal.
type FileDeletePackage struct {
	Creator string
	Merkle  string
	Start   int64
}

// NullMeta overwrites a filetree slot with an empty record.
type NullMeta struct {
	Location string `json:"location"`
	RefIndex int    `json:"ref_index"`
	ULID     string `json:"ulid"`
}

// AESBundle is the key material attached to a filetree rewrite.
type AESBundle struct {
	Key []byte
	IV  []byte
}

// FiletreeDeletePackage removes a filetree entry whose content is gone.
type FiletreeDeletePackage struct {
	Meta NullMeta
	AES  AESBundle
}

// FiletreeLocation is where an entry sits in the filetree.
type FiletreeLocation struct {
	ULID       string
	ParentULID string
	RefIndex   int
}

// Msg is an opaque ledger message.
type Msg struct {
	Type string `json:"type"`
	Body []byte `json:"body"`
}

// MoveTarget describes one metadata-driven move. Exactly one of File and
// Folder is set.
type MoveTarget struct {
	Name     string
	Ref      int
	Location string
	File     *FileMeta
	Folder   *FolderMeta
}

// Valid reports whether the target carries a file or folder structure.
func (m MoveTarget) Valid() bool {
	return m.File != nil || m.Folder != nil
}

// PlanStatus describes the storage plan of the current identity.
type PlanStatus struct {
	Active    bool      `json:"active"`
	Allowed   int64     `json:"allowed_bytes"`
	Used      int64     `json:"used_bytes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Free returns the unused allowance, never negative.
func (p *PlanStatus) Free() int64 {
	if p == nil || p.Used >= p.Allowed {
		return 0
	}
	return p.Allowed - p.Used
}
