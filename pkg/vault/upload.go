package vault

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/internal/metrics"
	"github.com/velthium/vestalia-network/pkg/models"
	"github.com/velthium/vestalia-network/pkg/retry"
)

func enqueueTable(file models.File, parent string) []strategy[struct{}] {
	single := []models.File{file}
	return []strategy[struct{}]{
		step("queueFileWithParent", has[FileQueuer], func(ctx context.Context, h Handler) error {
			return h.(FileQueuer).QueueFile(ctx, file, parent)
		}),
		step("queueFile", has[FileQueuer], func(ctx context.Context, h Handler) error {
			return h.(FileQueuer).QueueFile(ctx, file, "")
		}),
		step("queuePrivate", has[PrivateQueuer], func(ctx context.Context, h Handler) error {
			return h.(PrivateQueuer).QueuePrivate(ctx, single, 0)
		}),
		step("queuePublic", has[PublicQueuer], func(ctx context.Context, h Handler) error {
			return h.(PublicQueuer).QueuePublic(ctx, single, 0)
		}),
		step("enqueue", has[Enqueuer], func(ctx context.Context, h Handler) error {
			return h.(Enqueuer).Enqueue(ctx, file, parent)
		}),
	}
}

func (a *Adapter) submitTable() []strategy[struct{}] {
	return []strategy[struct{}]{
		step("processQueue", has[QueueProcessor], func(ctx context.Context, h Handler) error {
			return fatal(a.signer.Do(ctx, func(ctx context.Context) error {
				return a.processWithResync(ctx, h, h.(QueueProcessor).ProcessQueue)
			}))
		}),
		step("processAllQueues", has[AllQueuesProcessor], func(ctx context.Context, h Handler) error {
			a.SafeUpgradeSigner(ctx, h)
			return fatal(a.signer.Do(ctx, func(ctx context.Context) error {
				return a.processWithResync(ctx, h, h.(AllQueuesProcessor).ProcessAllQueues)
			}))
		}),
		step("processPending", has[PendingProcessor], func(ctx context.Context, h Handler) error {
			return fatal(a.signer.Do(ctx, func(ctx context.Context) error {
				return a.processWithResync(ctx, h, func(ctx context.Context) (*models.TxResult, error) {
					return nil, h.(PendingProcessor).ProcessPending(ctx)
				})
			}))
		}),
	}
}

// UploadFile queues file under parent and submits the queue.
func (a *Adapter) UploadFile(ctx context.Context, h Handler, file models.File, parent string) error {
	parent = NormalizePath(parent)
	log := a.logger(ctx).With(zap.String("parent", parent), zap.String("file", file.Name))

	if file.Name == "" {
		return fmt.Errorf("upload: %w: file name", ErrMissingArgument)
	}

	if !has[FileQueuer](h) {
		if l, ok := h.(DirectoryLoader); ok {
			if err := l.LoadDirectory(ctx, parent); err != nil {
				log.Debug("could not switch into parent folder", zap.Error(err))
			}
		}
	}

	queued := runCascade(ctx, a, "enqueue", h, enqueueTable(file, parent))
	if !queued.ok() {
		metrics.RecordOperation("upload", false)
		if queued.tried == 0 {
			return ErrNoEnqueueStrategy
		}
		return classify(fmt.Errorf("enqueue %q: %w", file.Name, queued.err))
	}

	if err := a.submit(ctx, h); err != nil {
		metrics.RecordOperation("upload", false)
		log.Warn("upload submission failed", zap.Error(err))
		return classify(fmt.Errorf("upload %q: %w", file.Name, err))
	}

	metrics.RecordOperation("upload", true)
	metrics.RecordUpload(file.Size())
	target := file.Name
	if parent != "" {
		target = parent + "/" + file.Name
	}
	a.publish(ChangeEvent{Type: EventCreate, Path: target})
	log.Debug("file uploaded", zap.String("strategy", queued.strategy))
	return nil
}

// UploadFiles uploads files one after another, reporting the completed
// fraction after each. It stops at the first failure.
func (a *Adapter) UploadFiles(ctx context.Context, h Handler, files []models.File, parent string, onProgress func(ratio float64)) error {
	for i, f := range files {
		if err := a.UploadFile(ctx, h, f, parent); err != nil {
			return err
		}
		if onProgress != nil {
			onProgress(float64(i+1) / float64(len(files)))
		}
	}
	return nil
}

func (a *Adapter) submit(ctx context.Context, h Handler) error {
	res := runCascade(ctx, a, "submit", h, a.submitTable())
	if res.ok() {
		return nil
	}
	if res.err != nil {
		return res.err
	}
	return ErrNoSubmitStrategy
}

// processWithResync runs process and, on an account sequence mismatch,
// refreshes the signer and tries exactly once more. A failed refresh is
// logged and the retry still runs unless the user declined it. The caller
// holds the signer lock.
func (a *Adapter) processWithResync(ctx context.Context, h Handler, process func(context.Context) (*models.TxResult, error)) error {
	return retry.Do(ctx, a.resync, func(attempt int) error {
		if attempt > 1 {
			a.logger(ctx).Info("account sequence mismatch, refreshing signer")
			if err := a.upgradeSignerLocked(ctx, h); IsUserRejected(err) {
				return fmt.Errorf("refresh signer after sequence mismatch: %w", err)
			}
		}
		return submissionError(process(ctx))
	})
}

// submissionError decides whether a submission outcome is a failure.
// Duplicate broadcasts and accepted transactions whose event stream timed
// out count as success. Sequence mismatches are marked retryable.
func submissionError(res *models.TxResult, err error) error {
	if err == nil && !res.Failed() {
		return nil
	}
	if err == nil {
		if isEventTimeout(res) {
			return nil
		}
		err = fmt.Errorf("transaction failed with code %d: %s", res.Code, res.ErrorText)
	}
	switch {
	case isAlreadyInCache(err):
		return nil
	case isSequenceMismatch(err):
		return retry.Retryable(err)
	}
	return err
}
