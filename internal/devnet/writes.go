package devnet

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/pkg/models"
)

// txError turns a broadcast outcome into an error.
func txError(res *models.TxResult, err error) error {
	if err != nil {
		return err
	}
	if res.Failed() {
		return fmt.Errorf("transaction failed with code %d: %s", res.Code, res.ErrorText)
	}
	return nil
}

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("invalid request (code 18): "+format, args...)
}

// submit asks the approver, signs msgs at the cached sequence and
// broadcasts them.
func (h *StorageHandler) submit(ctx context.Context, msgs []models.Msg) (*models.TxResult, error) {
	if err := h.net.approved(h.address, msgs); err != nil {
		return nil, err
	}

	h.submitMu.Lock()
	defer h.submitMu.Unlock()

	h.mu.Lock()
	seq, ok := h.seq, h.seqOK
	h.mu.Unlock()
	if !ok {
		acct, err := h.net.Ledger.Account(h.address)
		if err != nil {
			return nil, err
		}
		seq = acct.Sequence
	}

	token, err := h.net.Ledger.Sign(h.address, seq, msgs)
	if err != nil {
		return nil, err
	}
	res, err := h.net.Ledger.Broadcast(ctx, token)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	switch {
	case res.Code == CodeSequenceMismatch:
	case !ok || h.seq == seq:
		h.seq, h.seqOK = seq+1, true
	}
	h.mu.Unlock()
	h.log.Debug("transaction broadcast", zap.Int("msgs", len(msgs)), zap.Uint32("code", res.Code), zap.String("tx", res.TxHash))
	return res, nil
}

// UpgradeSigner reloads the account sequence from the ledger.
func (h *StorageHandler) UpgradeSigner(ctx context.Context) error {
	acct, err := h.net.Ledger.Account(h.address)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.seq, h.seqOK = acct.Sequence, true
	h.mu.Unlock()
	return nil
}

// Queue

func (h *StorageHandler) queueFiles(ctx context.Context, files []models.File, private bool) error {
	dir, err := h.currentDir(ctx)
	if err != nil {
		return err
	}

	var batch []pending
	for _, f := range files {
		if f.Name == "" {
			return errors.New("queue: file without a name")
		}
		payload := f.Data
		var key []byte
		if private {
			if key, err = newFileKey(); err != nil {
				return err
			}
			if payload, err = seal(key, f.Data); err != nil {
				return fmt.Errorf("seal %s: %w", f.Name, err)
			}
		}
		merkle, err := ContentID(payload)
		if err != nil {
			return err
		}
		p := pending{
			node: Node{
				ULID:       newULID(),
				ParentULID: dir.ULID,
				Name:       f.Name,
				Size:       f.Size(),
				Merkle:     merkle,
				Key:        key,
				ModTime:    f.ModTime,
			},
			payload: payload,
		}
		if old, err := h.child(ctx, dir, f.Name); err == nil && !old.IsDir {
			p.replaces = old.Merkle
		}
		batch = append(batch, p)
	}

	h.mu.Lock()
	h.queue = append(h.queue, batch...)
	h.mu.Unlock()
	return nil
}

// QueuePrivate queues encrypted uploads into the loaded directory.
func (h *StorageHandler) QueuePrivate(ctx context.Context, files []models.File, duration int) error {
	return h.queueFiles(ctx, files, true)
}

// QueuePublic queues plaintext uploads into the loaded directory.
func (h *StorageHandler) QueuePublic(ctx context.Context, files []models.File, duration int) error {
	return h.queueFiles(ctx, files, false)
}

// QueueDelete queues removal of the entry with the given identifier.
func (h *StorageHandler) QueueDelete(ctx context.Context, ulid string) error {
	n, err := h.index().Get(ctx, ulid)
	if err != nil {
		return invalidRequest("%v", err)
	}
	if !h.owns(n.Owner) {
		return fmt.Errorf("%s is not owned by %s", ulid, h.address)
	}
	if !n.IsDir && !h.net.stored(ctx, n.Merkle) {
		return invalidRequest("content of %s not found at any provider", n.Name)
	}
	h.mu.Lock()
	h.queue = append(h.queue, pending{node: n, delete: true})
	h.mu.Unlock()
	return nil
}

// ProcessQueue signs every queued operation in one transaction. Content
// reaches the providers once the ledger accepted it. A rejected
// transaction leaves the queue intact for a retry.
func (h *StorageHandler) ProcessQueue(ctx context.Context) (*models.TxResult, error) {
	h.mu.Lock()
	batch := append([]pending(nil), h.queue...)
	h.mu.Unlock()
	if len(batch) == 0 {
		return &models.TxResult{Code: CodeOK}, nil
	}

	msgs := make([]models.Msg, 0, len(batch))
	for _, p := range batch {
		var (
			m   models.Msg
			err error
		)
		if p.delete {
			m, err = newMsg(MsgDeleteFile, deleteBody{ULID: p.node.ULID})
		} else {
			m, err = newMsg(MsgPostFile, p.node)
		}
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}

	removed := make(map[int][]string)
	for i, p := range batch {
		if p.delete {
			removed[i] = h.contentOf(ctx, p.node)
		}
	}

	res, err := h.submit(ctx, msgs)
	if err != nil || res.Failed() {
		return res, err
	}

	h.mu.Lock()
	h.queue = h.queue[len(batch):]
	h.mu.Unlock()

	for i, p := range batch {
		switch {
		case p.delete:
			for _, merkle := range removed[i] {
				h.releaseQuietly(ctx, merkle)
			}
		default:
			if err := h.net.store(ctx, p.node.Merkle, p.payload); err != nil {
				return res, fmt.Errorf("upload %s to providers: %w", p.node.Name, err)
			}
			if p.replaces != "" && p.replaces != p.node.Merkle {
				h.releaseQuietly(ctx, p.replaces)
			}
		}
	}
	return res, nil
}

func (h *StorageHandler) releaseQuietly(ctx context.Context, merkle string) {
	if err := h.net.release(ctx, merkle); err != nil {
		h.log.Warn("could not release provider content", zap.String("merkle", merkle), zap.Error(err))
	}
}

// contentOf lists the merkles stored below n.
func (h *StorageHandler) contentOf(ctx context.Context, n Node) []string {
	if !n.IsDir {
		return []string{n.Merkle}
	}
	var out []string
	children, _ := h.index().Children(ctx, n.ULID)
	for _, c := range children {
		out = append(out, h.contentOf(ctx, c)...)
	}
	return out
}

// Delete

// DeleteTargets removes named children of the loaded directory. Files
// whose content no provider keeps are refused as invalid requests.
func (h *StorageHandler) DeleteTargets(ctx context.Context, names []string) error {
	dir, err := h.currentDir(ctx)
	if err != nil {
		return err
	}

	var (
		msgs    []models.Msg
		content []string
	)
	for _, name := range names {
		n, err := h.child(ctx, dir, name)
		if err != nil {
			return invalidRequest("%v", err)
		}
		if !n.IsDir && !h.net.stored(ctx, n.Merkle) {
			return invalidRequest("content of %s not found at any provider", name)
		}
		m, err := newMsg(MsgDeleteFile, deleteBody{ULID: n.ULID})
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
		content = append(content, h.contentOf(ctx, n)...)
	}

	if err := txError(h.submit(ctx, msgs)); err != nil {
		return err
	}
	for _, merkle := range content {
		h.releaseQuietly(ctx, merkle)
	}
	return nil
}

// DeleteFile removes the file holding the addressed content.
func (h *StorageHandler) DeleteFile(ctx context.Context, pkg models.FileDeletePackage) error {
	refs, err := h.index().FindByMerkle(ctx, pkg.Merkle)
	if err != nil {
		return err
	}
	var target *Node
	for i := range refs {
		if refs[i].Owner == pkg.Creator && (pkg.Start == 0 || refs[i].Start == pkg.Start) {
			target = &refs[i]
			break
		}
	}
	if target == nil {
		return invalidRequest("no file of %s holds %s", pkg.Creator, pkg.Merkle)
	}
	if !h.net.stored(ctx, pkg.Merkle) {
		return invalidRequest("content %s not found at any provider", pkg.Merkle)
	}

	m, err := newMsg(MsgDeleteFile, deleteBody{ULID: target.ULID})
	if err != nil {
		return err
	}
	if err := txError(h.submit(ctx, []models.Msg{m})); err != nil {
		return err
	}
	h.releaseQuietly(ctx, pkg.Merkle)
	return nil
}

// ResolveFiletreeLocation finds path in the filetree without asking
// providers.
func (h *StorageHandler) ResolveFiletreeLocation(ctx context.Context, path string) (models.FiletreeLocation, error) {
	n, err := h.resolve(ctx, h.address, path)
	if err != nil {
		return models.FiletreeLocation{}, err
	}
	return models.FiletreeLocation{ULID: n.ULID, ParentULID: n.ParentULID, RefIndex: n.RefIndex}, nil
}

// FiletreeDeleteMsgs builds the messages that blank a filetree slot.
func (h *StorageHandler) FiletreeDeleteMsgs(ctx context.Context, pkg models.FiletreeDeletePackage) ([]models.Msg, error) {
	if len(pkg.AES.Key) != 32 || len(pkg.AES.IV) != 16 {
		return nil, fmt.Errorf("filetree delete needs a 32 byte key and a 16 byte iv")
	}
	m, err := newMsg(MsgFiletreeDelete, filetreeDeleteBody{
		Meta:   pkg.Meta,
		KeyLen: len(pkg.AES.Key),
		IVLen:  len(pkg.AES.IV),
	})
	if err != nil {
		return nil, err
	}
	return []models.Msg{m}, nil
}

// BroadcastAndMonitor submits msgs and waits for the outcome.
func (h *StorageHandler) BroadcastAndMonitor(ctx context.Context, msgs []models.Msg) error {
	return txError(h.submit(ctx, msgs))
}

// Move

// MoveRenameResource re-parents and renames entries by their metadata.
func (h *StorageHandler) MoveRenameResource(ctx context.Context, targets []models.MoveTarget) error {
	msgs := make([]models.Msg, 0, len(targets))
	for _, t := range targets {
		if !t.Valid() {
			return errors.New("move target carries no file or folder")
		}
		var id string
		if t.File != nil {
			id = t.File.ULID
		} else {
			id = t.Folder.ULID
		}
		m, err := newMsg(MsgMove, moveBody{ULID: id, ParentULID: t.Location, Name: t.Name})
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	return txError(h.submit(ctx, msgs))
}

// Folders

// CreateFolders creates names under parent.
func (h *StorageHandler) CreateFolders(ctx context.Context, parent string, names []string) error {
	dir, err := h.resolveDir(ctx, h.address, parent)
	if err != nil {
		return err
	}
	msgs := make([]models.Msg, 0, len(names))
	for _, name := range names {
		if _, err := h.child(ctx, dir, name); err == nil {
			return fmt.Errorf("%q already exists in %s", name, parent)
		}
		m, err := newMsg(MsgPostFolder, Node{ULID: newULID(), ParentULID: dir.ULID, Name: name, IsDir: true})
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	return txError(h.submit(ctx, msgs))
}

// Sharing

func (h *StorageHandler) changeViewers(ctx context.Context, path string, body viewersBody) error {
	n, err := h.resolveFile(ctx, h.address, path)
	if err != nil {
		return err
	}
	body.ULID = n.ULID
	m, err := newMsg(MsgViewers, body)
	if err != nil {
		return err
	}
	return txError(h.submit(ctx, []models.Msg{m}))
}

// GrantViewerAccess lets address read the file at path.
func (h *StorageHandler) GrantViewerAccess(ctx context.Context, path, address string) error {
	return h.changeViewers(ctx, path, viewersBody{Add: []string{address}})
}

// RevokeViewerAccess withdraws a grant.
func (h *StorageHandler) RevokeViewerAccess(ctx context.Context, path, address string) error {
	return h.changeViewers(ctx, path, viewersBody{Remove: []string{address}})
}

// ListViewers returns the viewers of an owned file.
func (h *StorageHandler) ListViewers(ctx context.Context, ulid string) ([]string, error) {
	n, err := h.index().Get(ctx, ulid)
	if err != nil {
		return nil, err
	}
	if !h.owns(n.Owner) {
		return nil, fmt.Errorf("%s is not owned by %s", ulid, h.address)
	}
	return n.Viewers, nil
}
