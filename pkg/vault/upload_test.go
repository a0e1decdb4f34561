package vault

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/velthium/vestalia-network/pkg/models"
)

var report = models.File{Name: "report.txt", Data: []byte("quarterly")}

func TestUploadFile_EnqueueOrder(t *testing.T) {
	rec := &recorder{}
	h := struct {
		fileQueuerFake
		privateQueuerFake
		queueProcessorFake
	}{
		fileQueuerFake{fn: func(f models.File, parent string) error {
			rec.add("queueFile(%s,%s)", f.Name, parent)
			return errors.New("unsupported arity")
		}},
		privateQueuerFake{fn: func(files []models.File) error {
			rec.add("queuePrivate(%d)", len(files))
			return nil
		}},
		queueProcessorFake{fn: func() (*models.TxResult, error) {
			rec.add("processQueue")
			return okTx()
		}},
	}

	if err := newTestAdapter().UploadFile(context.Background(), h, report, "s/Home"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	want := []string{"queueFile(report.txt,Home)", "queueFile(report.txt,)", "queuePrivate(1)", "processQueue"}
	if got := rec.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestUploadFile_SwitchesIntoParentWithoutFileQueuer(t *testing.T) {
	var loaded string
	h := struct {
		loaderFake
		publicQueuerFake
		pendingFake
	}{
		loaderFake{fn: func(p string) error { loaded = p; return nil }},
		publicQueuerFake{fn: func([]models.File) error { return nil }},
		pendingFake{fn: func() error { return nil }},
	}
	if err := newTestAdapter().UploadFile(context.Background(), h, report, "s/Home/Docs"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if loaded != "Home/Docs" {
		t.Errorf("loaded %q, want Home/Docs", loaded)
	}
}

func TestUploadFile_NoEnqueueStrategy(t *testing.T) {
	h := queueProcessorFake{fn: okTx}
	err := newTestAdapter().UploadFile(context.Background(), h, report, "Home")
	if !errors.Is(err, ErrNoEnqueueStrategy) {
		t.Fatalf("err = %v, want ErrNoEnqueueStrategy", err)
	}
}

func TestUploadFile_NoSubmitStrategy(t *testing.T) {
	h := enqueuerFake{fn: func(models.File, string) error { return nil }}
	err := newTestAdapter().UploadFile(context.Background(), h, report, "Home")
	if !errors.Is(err, ErrNoSubmitStrategy) {
		t.Fatalf("err = %v, want ErrNoSubmitStrategy", err)
	}
}

func TestUploadFile_SequenceMismatchRetriedOnce(t *testing.T) {
	rec := &recorder{}
	attempts := 0
	h := struct {
		privateQueuerFake
		queueProcessorFake
		upgraderFake
	}{
		privateQueuerFake{fn: func([]models.File) error { return nil }},
		queueProcessorFake{fn: func() (*models.TxResult, error) {
			attempts++
			rec.add("process")
			if attempts == 1 {
				return nil, errors.New("account sequence mismatch, expected 4, got 3: incorrect account sequence")
			}
			return okTx()
		}},
		upgraderFake{fn: func() error { rec.add("upgrade"); return nil }},
	}

	if err := newTestAdapter().UploadFile(context.Background(), h, report, "Home"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if want := []string{"process", "upgrade", "process"}; !reflect.DeepEqual(rec.list(), want) {
		t.Errorf("calls = %v, want %v", rec.list(), want)
	}
}

func TestUploadFile_SequenceMismatchRetriedAfterFailedRefresh(t *testing.T) {
	rec := &recorder{}
	attempts := 0
	h := struct {
		privateQueuerFake
		queueProcessorFake
		upgraderFake
	}{
		privateQueuerFake{fn: func([]models.File) error { return nil }},
		queueProcessorFake{fn: func() (*models.TxResult, error) {
			attempts++
			rec.add("process")
			if attempts == 1 {
				return nil, errors.New("account sequence mismatch")
			}
			return okTx()
		}},
		upgraderFake{fn: func() error {
			rec.add("upgrade")
			return errors.New("upgrade failed: extension busy")
		}},
	}

	if err := newTestAdapter().UploadFile(context.Background(), h, models.File{Name: "r.txt", Data: []byte("r")}, "Home"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if want := []string{"process", "upgrade", "process"}; !reflect.DeepEqual(rec.list(), want) {
		t.Errorf("calls = %v, want %v", rec.list(), want)
	}
}

func TestUploadFile_DeclinedRefreshStopsRetry(t *testing.T) {
	attempts := 0
	h := struct {
		privateQueuerFake
		queueProcessorFake
		upgraderFake
	}{
		privateQueuerFake{fn: func([]models.File) error { return nil }},
		queueProcessorFake{fn: func() (*models.TxResult, error) {
			attempts++
			return nil, errors.New("account sequence mismatch")
		}},
		upgraderFake{fn: func() error { return errors.New("request rejected by user") }},
	}

	err := newTestAdapter().UploadFile(context.Background(), h, report, "Home")
	if !IsUserRejected(err) {
		t.Fatalf("err = %v, want user rejection", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestUploadFile_SequenceMismatchTwiceFails(t *testing.T) {
	attempts := 0
	h := struct {
		privateQueuerFake
		queueProcessorFake
		upgraderFake
	}{
		privateQueuerFake{fn: func([]models.File) error { return nil }},
		queueProcessorFake{fn: func() (*models.TxResult, error) {
			attempts++
			return &models.TxResult{Code: 32, Error: true, ErrorText: "account sequence mismatch"}, nil
		}},
		upgraderFake{fn: func() error { return nil }},
	}

	err := newTestAdapter().UploadFile(context.Background(), h, report, "Home")
	if err == nil || !strings.Contains(err.Error(), "sequence mismatch") {
		t.Fatalf("err = %v, want sequence mismatch", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want exactly 2", attempts)
	}
}

func TestUploadFile_ToleratedOutcomes(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (*models.TxResult, error)
	}{
		{"already in cache", func() (*models.TxResult, error) {
			return nil, errors.New("broadcast: tx already exists in cache")
		}},
		{"event timeout code 0", func() (*models.TxResult, error) {
			return &models.TxResult{Code: 0, Error: true, ErrorText: "event monitor timed out"}, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := struct {
				privateQueuerFake
				queueProcessorFake
			}{
				privateQueuerFake{fn: func([]models.File) error { return nil }},
				queueProcessorFake{fn: tt.fn},
			}
			if err := newTestAdapter().UploadFile(context.Background(), h, report, "Home"); err != nil {
				t.Fatalf("UploadFile: %v", err)
			}
		})
	}
}

func TestUploadFile_FailedTxIsError(t *testing.T) {
	h := struct {
		privateQueuerFake
		queueProcessorFake
	}{
		privateQueuerFake{fn: func([]models.File) error { return nil }},
		queueProcessorFake{fn: func() (*models.TxResult, error) {
			return &models.TxResult{Code: 5, Error: true, ErrorText: "insufficient funds"}, nil
		}},
	}
	err := newTestAdapter().UploadFile(context.Background(), h, report, "Home")
	if err == nil || !strings.Contains(err.Error(), "insufficient funds") {
		t.Fatalf("err = %v", err)
	}
}

func TestUploadFile_AccountMissing(t *testing.T) {
	h := struct {
		privateQueuerFake
		queueProcessorFake
	}{
		privateQueuerFake{fn: func([]models.File) error { return nil }},
		queueProcessorFake{fn: func() (*models.TxResult, error) {
			return nil, errors.New("account jkl1new does not exist on chain. Send some tokens there before trying to query sequence.")
		}},
	}

	err := newTestAdapter().UploadFile(context.Background(), h, report, "Home")
	if !errors.Is(err, ErrAccountNotFunded) {
		t.Fatalf("err = %v, want ErrAccountNotFunded", err)
	}
	var accErr *AccountError
	if !errors.As(err, &accErr) {
		t.Fatalf("err = %T, want *AccountError", err)
	}
	if !strings.Contains(err.Error(), "no funds") {
		t.Errorf("message %q should name the funding condition", err.Error())
	}
	if !IsAccountMissing(err) {
		t.Error("IsAccountMissing = false")
	}
}

func TestUploadFile_AllQueuesRefreshesSignerFirst(t *testing.T) {
	rec := &recorder{}
	h := struct {
		privateQueuerFake
		allQueuesFake
		upgraderFake
	}{
		privateQueuerFake{fn: func([]models.File) error { return nil }},
		allQueuesFake{fn: func() (*models.TxResult, error) { rec.add("processAll"); return okTx() }},
		upgraderFake{fn: func() error { rec.add("upgrade"); return nil }},
	}
	if err := newTestAdapter().UploadFile(context.Background(), h, report, "Home"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if want := []string{"upgrade", "processAll"}; !reflect.DeepEqual(rec.list(), want) {
		t.Errorf("calls = %v, want %v", rec.list(), want)
	}
}

func TestUploadFiles_Progress(t *testing.T) {
	queued := 0
	h := struct {
		privateQueuerFake
		queueProcessorFake
	}{
		privateQueuerFake{fn: func([]models.File) error {
			queued++
			if queued == 3 {
				return errors.New("disk full")
			}
			return nil
		}},
		queueProcessorFake{fn: okTx},
	}

	var progress []float64
	files := []models.File{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}
	err := newTestAdapter().UploadFiles(context.Background(), h, files, "Home", func(r float64) {
		progress = append(progress, r)
	})
	if err == nil {
		t.Fatal("expected failure on third file")
	}
	if want := []float64{0.25, 0.5}; !reflect.DeepEqual(progress, want) {
		t.Errorf("progress = %v, want %v", progress, want)
	}
}

func TestUploadFile_PublishesEvent(t *testing.T) {
	events := NewEvents()
	ch := events.Subscribe()
	defer events.Unsubscribe(ch)

	h := struct {
		privateQueuerFake
		queueProcessorFake
	}{
		privateQueuerFake{fn: func([]models.File) error { return nil }},
		queueProcessorFake{fn: okTx},
	}
	if err := newTestAdapter(WithEvents(events)).UploadFile(context.Background(), h, report, "Home"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	ev := <-ch
	if ev.Type != EventCreate || ev.Path != "Home/report.txt" {
		t.Errorf("event = %+v", ev)
	}
}
