package vault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/velthium/vestalia-network/pkg/models"
)

func TestErrorHeuristics(t *testing.T) {
	tests := []struct {
		msg          string
		rejected     bool
		missing      bool
		sequence     bool
		notFound     bool
		alreadyCache bool
	}{
		{msg: "Request rejected", rejected: true},
		{msg: "User rejected the transaction", rejected: true},
		{msg: "account jkl1x does not exist on chain", missing: true},
		{msg: "Send some tokens there before trying to query sequence", missing: true},
		{msg: "account sequence mismatch, expected 7, got 6", sequence: true},
		{msg: "incorrect account sequence", sequence: true},
		{msg: "tx failed with code 32", sequence: true},
		{msg: "invalid request", notFound: true},
		{msg: "failed with code 18", notFound: true},
		{msg: "file Not Found", notFound: true},
		{msg: "tx already exists in cache", alreadyCache: true},
		{msg: "connection reset"},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := errors.New(tt.msg)
			if got := IsUserRejected(err); got != tt.rejected {
				t.Errorf("IsUserRejected = %v", got)
			}
			if got := IsAccountMissing(err); got != tt.missing {
				t.Errorf("IsAccountMissing = %v", got)
			}
			if got := isSequenceMismatch(err); got != tt.sequence {
				t.Errorf("isSequenceMismatch = %v", got)
			}
			if got := isNotFoundSignal(err); got != tt.notFound {
				t.Errorf("isNotFoundSignal = %v", got)
			}
			if got := isAlreadyInCache(err); got != tt.alreadyCache {
				t.Errorf("isAlreadyInCache = %v", got)
			}
		})
	}
}

func TestNilErrors(t *testing.T) {
	if IsUserRejected(nil) || IsAccountMissing(nil) || isNotFoundSignal(nil) || classify(nil) != nil {
		t.Fatal("nil error misclassified")
	}
}

func TestClassify(t *testing.T) {
	missing := classify(fmt.Errorf("upload: %w", errors.New("account does not exist on chain")))
	if !errors.Is(missing, ErrAccountNotFunded) {
		t.Errorf("classify(missing) = %v", missing)
	}
	if again := classify(missing); again != missing {
		t.Error("classify should leave classified errors alone")
	}

	rejected := classify(errors.New("request rejected"))
	if !errors.Is(rejected, ErrUserRejected) {
		t.Errorf("classify(rejected) = %v", rejected)
	}

	plain := errors.New("disk full")
	if classify(plain) != plain {
		t.Error("unclassified errors must pass through")
	}
}

func TestIsEventTimeout(t *testing.T) {
	tests := []struct {
		res  *models.TxResult
		want bool
	}{
		{nil, false},
		{&models.TxResult{Error: true, ErrorText: "Timed out waiting for event"}, true},
		{&models.TxResult{Code: 5, Error: true, ErrorText: "timeout"}, false},
		{&models.TxResult{Error: true, ErrorText: "out of gas"}, false},
	}
	for _, tt := range tests {
		if got := isEventTimeout(tt.res); got != tt.want {
			t.Errorf("isEventTimeout(%+v) = %v, want %v", tt.res, got, tt.want)
		}
	}
}

func TestDeleteErrorUnwrap(t *testing.T) {
	cause := errors.New("gone")
	err := &DeleteError{Name: "a.txt", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("DeleteError should unwrap to its cause")
	}
}
