package vault

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/velthium/vestalia-network/pkg/models"
)

var (
	// ErrNotFound may be returned by handlers for missing items.
	ErrNotFound = errors.New("vault: not found")

	ErrNoEnqueueStrategy  = errors.New("vault: storage handler cannot enqueue files")
	ErrNoSubmitStrategy   = errors.New("vault: storage handler cannot submit queued files")
	ErrNoProviders        = errors.New("vault: unable to connect to storage providers")
	ErrRenameUnsupported  = errors.New("vault: rename/move not supported by storage handler")
	ErrShareUnsupported   = errors.New("vault: sharing not supported by storage handler")
	ErrUnshareUnsupported = errors.New("vault: unsharing not supported by storage handler")
	ErrFolderUnsupported  = errors.New("vault: folder creation not supported by storage handler")
	ErrMissingArgument    = errors.New("vault: missing argument")

	// ErrUserRejected wraps failures caused by the user declining to sign.
	ErrUserRejected = errors.New("vault: signature request rejected")

	// ErrAccountNotFunded is matched by *AccountError.
	ErrAccountNotFunded = errors.New("vault: account not funded")

	// errSkip marks a strategy whose runtime precondition was not met.
	errSkip = errors.New("strategy precondition not met")
)

// AccountError reports that the signing account does not exist on the
// ledger yet.
type AccountError struct {
	Err error
}

func (e *AccountError) Error() string {
	return "account has no funds: the wallet account does not exist on chain until it receives tokens; " +
		"send some tokens to it and try again: " + e.Err.Error()
}

func (e *AccountError) Unwrap() error { return e.Err }

func (e *AccountError) Is(target error) bool { return target == ErrAccountNotFunded }

// DeleteError reports that no delete strategy could remove an item.
type DeleteError struct {
	Name string
	Err  error
}

func (e *DeleteError) Error() string {
	msg := fmt.Sprintf("failed to delete %q: it may not exist on the ledger or may be corrupted", e.Name)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeleteError) Unwrap() error { return e.Err }

// SharedDownloadError reports that every owner-addressed download of a
// shared item failed.
type SharedDownloadError struct {
	Name  string
	Owner string
	Err   error
}

func (e *SharedDownloadError) Error() string {
	msg := fmt.Sprintf("could not download shared file %q from %s: it may no longer be shared with you", e.Name, e.Owner)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SharedDownloadError) Unwrap() error { return e.Err }

var (
	userRejectedRe     = regexp.MustCompile(`(?i)request rejected|user rejected`)
	sequenceMismatchRe = regexp.MustCompile(`(?i)account sequence mismatch|incorrect account sequence|code 32`)
	notFoundRe         = regexp.MustCompile(`(?i)invalid request|code 18|not found`)
)

// IsUserRejected reports whether err came from the user declining a
// signature request.
func IsUserRejected(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUserRejected) || userRejectedRe.MatchString(err.Error())
}

// IsAccountMissing reports whether err indicates an account that was never
// funded.
func IsAccountMissing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAccountNotFunded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "does not exist on chain") || strings.Contains(msg, "Send some tokens")
}

func isSequenceMismatch(err error) bool {
	return err != nil && sequenceMismatchRe.MatchString(err.Error())
}

func isAlreadyInCache(err error) bool {
	return err != nil && strings.Contains(err.Error(), "tx already exists in cache")
}

// isNotFoundSignal reports failures that mean "nothing to do here" rather
// than a broken request.
func isNotFoundSignal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotFound) || notFoundRe.MatchString(err.Error())
}

// isEventTimeout reports results where the ledger accepted the transaction
// but the event stream timed out.
func isEventTimeout(res *models.TxResult) bool {
	if res == nil || res.Code != 0 {
		return false
	}
	text := strings.ToLower(res.ErrorText)
	return strings.Contains(text, "timed out") || strings.Contains(text, "timeout")
}

// classify maps SDK failures onto the adapter's error taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAccountNotFunded), errors.Is(err, ErrUserRejected):
		return err
	case IsAccountMissing(err):
		return &AccountError{Err: err}
	case IsUserRejected(err):
		return fmt.Errorf("%w: %w", ErrUserRejected, err)
	}
	return err
}
