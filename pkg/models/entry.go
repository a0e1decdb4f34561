// Package models contains the data types shared by the vault adapter, the
// devnet storage handler and the command line tools.
package models

import "time"

// Entry is one normalized directory item. Entries are produced fresh on
// every listing and are never cached.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
	Raw   *Raw   `json:"-"`
}

// ContentAddress locates stored bytes by merkle root, start offset and the
// account that paid for them.
type ContentAddress struct {
	Merkle  string `json:"merkle"`
	Start   int64  `json:"start"`
	Creator string `json:"creator,omitempty"`
}

// ShareOrigin describes an item another owner shared with the current
// identity.
type ShareOrigin struct {
	Owner      string `json:"owner"`
	FileULID   string `json:"file_ulid,omitempty"`
	RecordULID string `json:"record_ulid,omitempty"`
	// Root is the shared folder path inside the owner's tree, e.g. "Docs"
	// or "Home/Docs". Empty when the file itself was shared.
	Root string `json:"root,omitempty"`
	Name string `json:"name,omitempty"`
}

// Raw carries the SDK identifiers of an entry. Each facet is optional and
// is read only by the strategies that need it.
type Raw struct {
	ULID    string          `json:"ulid,omitempty"`
	Ref     int             `json:"ref,omitempty"`
	Content *ContentAddress `json:"content,omitempty"`
	File    *FileMeta       `json:"file,omitempty"`
	Folder  *FolderMeta     `json:"folder,omitempty"`
	Share   *ShareOrigin    `json:"share,omitempty"`
}

// ContentAddress returns the merkle address of the entry, falling back to the
// file metadata when no explicit address was recorded.
func (r *Raw) ContentAddress() (ContentAddress, bool) {
	if r == nil {
		return ContentAddress{}, false
	}
	if r.Content != nil && r.Content.Merkle != "" {
		return *r.Content, true
	}
	if r.File != nil && r.File.Merkle != "" {
		return ContentAddress{Merkle: r.File.Merkle, Start: r.File.Start, Creator: r.File.Owner}, true
	}
	return ContentAddress{}, false
}

// UniqueID returns the stable ledger identifier of the entry.
func (r *Raw) UniqueID() (string, bool) {
	if r == nil {
		return "", false
	}
	switch {
	case r.ULID != "":
		return r.ULID, true
	case r.File != nil && r.File.ULID != "":
		return r.File.ULID, true
	case r.Folder != nil && r.Folder.ULID != "":
		return r.Folder.ULID, true
	}
	return "", false
}

// SharedToMe reports whether the entry belongs to another owner.
func (r *Raw) SharedToMe() bool {
	return r != nil && r.Share != nil && r.Share.Owner != ""
}

// RefIndex returns the reference slot hint, preferring the metadata value.
func (r *Raw) RefIndex() int {
	if r == nil {
		return 0
	}
	if r.File != nil && r.File.Ref != 0 {
		return r.File.Ref
	}
	if r.Folder != nil && r.Folder.Ref != 0 {
		return r.Folder.Ref
	}
	return r.Ref
}

// FileMeta is the ledger metadata of a stored file.
type FileMeta struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	ULID     string    `json:"ulid,omitempty"`
	Merkle   string    `json:"merkle,omitempty"`
	Start    int64     `json:"start,omitempty"`
	Ref      int       `json:"ref"`
	Location string    `json:"location,omitempty"`
	Owner    string    `json:"owner,omitempty"`
	Viewers  []string  `json:"viewers,omitempty"`
	ModTime  time.Time `json:"mod_time"`
}

// FolderMeta is the ledger metadata of a folder. Older handlers expose the
// display name as WhoAmI, newer ones as Name; some only fill Description.
type FolderMeta struct {
	WhoAmI      string `json:"whoami,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	ULID        string `json:"ulid,omitempty"`
	Ref         int    `json:"ref"`
	Location    string `json:"location,omitempty"`
	Count       int    `json:"count"`
}

// DisplayName picks the first non-empty naming field.
func (f FolderMeta) DisplayName() string {
	switch {
	case f.WhoAmI != "":
		return f.WhoAmI
	case f.Name != "":
		return f.Name
	}
	return f.Description
}
