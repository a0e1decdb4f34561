package vault

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/internal/metrics"
	"github.com/velthium/vestalia-network/pkg/models"
)

func canDownload(h Handler) bool {
	return has[PathDownloader](h) || has[ULIDDownloader](h)
}

func canEnqueue(h Handler) bool {
	return has[FileQueuer](h) || has[PrivateQueuer](h) || has[PublicQueuer](h) || has[Enqueuer](h)
}

func canDelete(h Handler) bool {
	return has[TargetDeleter](h) || has[ContentDeleter](h) || has[QueuedDeleter](h) || hasGhostPath(h)
}

func canCopy(h Handler) bool {
	return canDownload(h) && canEnqueue(h) && canDelete(h)
}

// renameJob carries the state of one RenameItem call across strategies.
type renameJob struct {
	old     string
	target  string
	newName string
	isDir   bool
	sibling bool
	raw     *models.Raw

	// set once the copy reached the destination, so a retry only has to
	// remove the source
	copied bool
}

func (a *Adapter) renameTable(job *renameJob) []strategy[struct{}] {
	inPlace := func(run func(context.Context, Handler) error) func(context.Context, Handler) error {
		return func(ctx context.Context, h Handler) error {
			if !job.sibling {
				return errSkip
			}
			return run(ctx, h)
		}
	}
	fileOnly := func(usable func(Handler) bool) func(Handler) bool {
		return func(h Handler) bool { return !job.isDir && usable(h) }
	}
	folderOnly := func(usable func(Handler) bool) func(Handler) bool {
		return func(h Handler) bool { return job.isDir && usable(h) }
	}

	return []strategy[struct{}]{
		step("move", has[Mover], func(ctx context.Context, h Handler) error {
			return a.signed(ctx, func(ctx context.Context) error {
				return h.(Mover).Move(ctx, job.old, job.target)
			})
		}),
		step("moveFile", fileOnly(has[FileMover]), func(ctx context.Context, h Handler) error {
			return a.signed(ctx, func(ctx context.Context) error {
				return h.(FileMover).MoveFile(ctx, job.old, job.target)
			})
		}),
		step("moveFolder", folderOnly(has[FolderMover]), func(ctx context.Context, h Handler) error {
			return a.signed(ctx, func(ctx context.Context) error {
				return h.(FolderMover).MoveFolder(ctx, job.old, job.target)
			})
		}),
		step("rename", has[Renamer], inPlace(func(ctx context.Context, h Handler) error {
			return a.signed(ctx, func(ctx context.Context) error {
				return h.(Renamer).Rename(ctx, job.old, job.newName)
			})
		})),
		step("renameFile", fileOnly(has[FileRenamer]), inPlace(func(ctx context.Context, h Handler) error {
			return a.signed(ctx, func(ctx context.Context) error {
				return h.(FileRenamer).RenameFile(ctx, job.old, job.newName)
			})
		})),
		step("renameFolder", folderOnly(has[FolderRenamer]), inPlace(func(ctx context.Context, h Handler) error {
			return a.signed(ctx, func(ctx context.Context) error {
				return h.(FolderRenamer).RenameFolder(ctx, job.old, job.newName)
			})
		})),
		step("copyThenDelete", fileOnly(canCopy), func(ctx context.Context, h Handler) error {
			return a.copyFile(ctx, h, job)
		}),
		step("moveRenameResource", has[ResourceMover], func(ctx context.Context, h Handler) error {
			if job.copied {
				return errSkip
			}
			target, err := a.moveTarget(ctx, h, job)
			if err != nil {
				return err
			}
			return a.signed(ctx, func(ctx context.Context) error {
				return h.(ResourceMover).MoveRenameResource(ctx, []models.MoveTarget{target})
			})
		}),
		step("finalCopy", canCopy, func(ctx context.Context, h Handler) error {
			if job.isDir {
				if !has[FolderCreator](h) {
					return errSkip
				}
				return a.copyFolder(ctx, h, job.old, job.target, job.raw)
			}
			return a.copyFile(ctx, h, job)
		}),
	}
}

// RenameItem moves or renames the item at oldPath. replacement is either a
// new name for the item in its current folder or, when it contains a
// separator, the full destination path.
func (a *Adapter) RenameItem(ctx context.Context, h Handler, oldPath, replacement string, isDir bool, raw *models.Raw) error {
	oldPath = strings.TrimSuffix(NormalizePath(oldPath), "/")
	if oldPath == "" || replacement == "" {
		return fmt.Errorf("rename: %w: path and new name", ErrMissingArgument)
	}
	target := TargetPath(oldPath, replacement)
	if target == oldPath {
		return nil
	}
	if isDir && isUnder(target, oldPath) {
		return fmt.Errorf("rename: cannot move %q into itself", oldPath)
	}

	oldParent, _ := SplitPath(oldPath)
	newParent, newName := SplitPath(target)
	job := &renameJob{
		old:     oldPath,
		target:  target,
		newName: newName,
		isDir:   isDir,
		sibling: oldParent == newParent,
		raw:     raw,
	}
	log := a.logger(ctx).With(zap.String("path", oldPath), zap.String("target", target))

	res := runCascade(ctx, a, "rename", h, a.renameTable(job))
	if res.ok() {
		metrics.RecordOperation("rename", true)
		a.publish(ChangeEvent{Type: EventRename, Path: oldPath, Target: target, IsDir: isDir})
		log.Debug("item renamed", zap.String("strategy", res.strategy))
		return nil
	}

	metrics.RecordOperation("rename", false)
	if res.fatal {
		return classify(fmt.Errorf("rename %q: %w", oldPath, res.err))
	}
	log.Warn("every rename strategy failed", zap.Int("tried", res.tried), zap.Error(res.err))
	if res.err != nil {
		return fmt.Errorf("%w: %w", ErrRenameUnsupported, res.err)
	}
	return ErrRenameUnsupported
}

// copyFile downloads the source, uploads it under the target name and
// deletes the source.
func (a *Adapter) copyFile(ctx context.Context, h Handler, job *renameJob) error {
	if !job.copied {
		data, err := a.DownloadFile(ctx, h, job.old, nil, job.raw)
		if err != nil {
			return fmt.Errorf("copy: %w", err)
		}
		parent, name := SplitPath(job.target)
		if err := a.UploadFile(ctx, h, models.File{Name: name, Data: data}, parent); err != nil {
			return stopOnRejection(fmt.Errorf("copy: %w", err))
		}
		job.copied = true
	}
	if err := a.DeleteItem(ctx, h, job.old, false, job.raw); err != nil {
		return stopOnRejection(fmt.Errorf("copy: remove source: %w", err))
	}
	return nil
}

// copyFolder recreates src at dst, moves every child across and removes
// src once it is empty.
func (a *Adapter) copyFolder(ctx context.Context, h Handler, src, dst string, raw *models.Raw) error {
	parent, name := SplitPath(dst)
	if err := a.CreateFolder(ctx, h, parent, name); err != nil && !strings.Contains(err.Error(), "exists") {
		return fmt.Errorf("copy folder: %w", err)
	}

	for _, e := range a.ListDirectory(ctx, h, src) {
		from, to := src+"/"+e.Name, dst+"/"+e.Name
		var err error
		if e.IsDir {
			err = a.copyFolder(ctx, h, from, to, e.Raw)
		} else {
			err = a.copyFile(ctx, h, &renameJob{old: from, target: to, raw: e.Raw})
		}
		if err != nil {
			return err
		}
	}

	if left := a.ListDirectory(ctx, h, src); len(left) > 0 {
		return fmt.Errorf("copy folder: %d items remain in %q", len(left), src)
	}
	return a.DeleteItem(ctx, h, src, true, raw)
}

// moveTarget builds the metadata-driven move for job. The destination
// folder is loaded first so the handler reports its location.
func (a *Adapter) moveTarget(ctx context.Context, h Handler, job *renameJob) (models.MoveTarget, error) {
	oldParent, oldName := SplitPath(job.old)
	newParent, _ := SplitPath(job.target)
	t := models.MoveTarget{Name: job.newName, Ref: job.raw.RefIndex()}

	if l, ok := h.(DirectoryLoader); ok {
		_ = l.LoadDirectory(ctx, parentOrHome(oldParent))
	}

	var metaLocation string
	if job.isDir {
		folder := a.folderMeta(ctx, h, oldName, job.raw)
		if folder == nil {
			return t, errSkip
		}
		t.Folder = folder
		metaLocation = folder.Location
		if t.Ref == 0 {
			t.Ref = folder.Ref
		}
	} else {
		file := a.fileMeta(ctx, h, job.old, oldName, job.raw)
		if file == nil {
			return t, errSkip
		}
		t.File = file
		metaLocation = file.Location
		if t.Ref == 0 {
			t.Ref = file.Ref
		}
	}

	if loc, ok := h.(LocationReader); ok {
		if !job.sibling {
			l, ok := h.(DirectoryLoader)
			if !ok {
				return t, errSkip
			}
			if err := l.LoadDirectory(ctx, parentOrHome(newParent)); err != nil {
				return t, fmt.Errorf("load destination: %w", err)
			}
		}
		t.Location = loc.CurrentLocation()
	} else if job.sibling {
		t.Location = metaLocation
	}
	if t.Location == "" {
		return t, errSkip
	}
	return t, nil
}

func parentOrHome(p string) string {
	if p == "" {
		return HomeFolder
	}
	return p
}

func (a *Adapter) fileMeta(ctx context.Context, h Handler, fullPath, name string, raw *models.Raw) *models.FileMeta {
	if raw != nil && raw.File != nil {
		m := *raw.File
		return &m
	}
	if g, ok := h.(FileMetaGetter); ok {
		if m, err := g.FileMetaData(ctx, fullPath); err == nil && m != nil {
			return m
		}
	}
	if l, ok := h.(ChildMetaLister); ok {
		metas, err := l.ChildFileMetas(ctx)
		if err == nil {
			for i := range metas {
				if metas[i].Name == name {
					return &metas[i]
				}
			}
		}
	}
	return nil
}

func (a *Adapter) folderMeta(ctx context.Context, h Handler, name string, raw *models.Raw) *models.FolderMeta {
	if raw != nil && raw.Folder != nil {
		m := *raw.Folder
		return &m
	}
	if id, ok := raw.UniqueID(); ok {
		if g, ok := h.(FolderDetailsGetter); ok {
			if m, err := g.FolderDetailsByULID(ctx, id); err == nil && m != nil {
				return m
			}
		}
	}
	if l, ok := h.(ChildMetaLister); ok {
		metas, err := l.ChildFolderMetas(ctx)
		if err == nil {
			for i := range metas {
				if metas[i].DisplayName() == name {
					return &metas[i]
				}
			}
		}
	}
	return nil
}
