package mount

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/internal/devnet"
	"github.com/velthium/vestalia-network/internal/storage/memory"
	"github.com/velthium/vestalia-network/pkg/models"
	"github.com/velthium/vestalia-network/pkg/vault"
)

const owner = "jkl1mount"

func newTestFS(t *testing.T) *VaultFS {
	t.Helper()
	ctx := context.Background()
	net, err := devnet.Open([]byte("mount-test-secret-0123456789"), devnet.NewMemIndex(), memory.New())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { net.Close() })
	if err := net.Ledger.Fund(ctx, owner, 1000); err != nil {
		t.Fatal(err)
	}
	if err := net.Ledger.BuyPlan(owner, 1<<20); err != nil {
		t.Fatal(err)
	}

	h := devnet.NewHandler(net, owner, devnet.WithHandlerLogger(zap.NewNop()))
	a := vault.New(vault.WithLogger(zap.NewNop()), vault.WithSigner(vault.NewSignerLock()))
	f := New(a, h, vault.NewPrefetcher(a, h, 2, nil), Config{})
	f.log = zap.NewNop()
	return f
}

func home(f *VaultFS) *Node {
	return &Node{fsys: f, path: vault.HomeFolder, entry: models.Entry{Name: vault.HomeFolder, IsDir: true}}
}

func writeFile(t *testing.T, f *VaultFS, name, data string) {
	t.Helper()
	child := &Node{fsys: f, path: vault.HomeFolder + "/" + name, entry: models.Entry{Name: name}}
	fh := &FileHandle{node: child, writable: true, dirty: true}
	if _, code := fh.Write(context.Background(), []byte(data), 0); code != 0 {
		t.Fatalf("Write: %v", code)
	}
	if code := fh.Flush(context.Background()); code != 0 {
		t.Fatalf("Flush: %v", code)
	}
}

func dirNames(t *testing.T, n *Node) []string {
	t.Helper()
	stream, code := n.Readdir(context.Background())
	if code != 0 {
		t.Fatalf("Readdir: %v", code)
	}
	var names []string
	for stream.HasNext() {
		e, code := stream.Next()
		if code != 0 {
			t.Fatalf("Next: %v", code)
		}
		names = append(names, e.Name)
	}
	return names
}

func TestRootListsHomeAndShared(t *testing.T) {
	f := newTestFS(t)
	got := fmt.Sprint(dirNames(t, f.Root()))
	if got != "[Home Shared]" {
		t.Errorf("root = %s", got)
	}
}

func TestWriteFlushRead(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t)
	writeFile(t, f, "notes.txt", "hello mount")

	e, ok := home(f).find(ctx, "notes.txt")
	if !ok || e.Size != int64(len("hello mount")) {
		t.Fatalf("entry = %+v, %v", e, ok)
	}

	node := &Node{fsys: f, path: "Home/notes.txt", entry: e}
	fh, _, code := node.Open(ctx, syscall.O_RDONLY)
	if code != 0 {
		t.Fatalf("Open: %v", code)
	}
	buf := make([]byte, 64)
	res, code := node.Read(ctx, fh, buf, 6)
	if code != 0 {
		t.Fatalf("Read: %v", code)
	}
	data, _ := res.Bytes(buf)
	if string(data) != "mount" {
		t.Errorf("read = %q", data)
	}
	if f.GetStats().BytesUploaded.Load() != int64(len("hello mount")) {
		t.Errorf("uploaded = %d", f.GetStats().BytesUploaded.Load())
	}
}

func TestUnlinkAndRename(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t)
	writeFile(t, f, "a.txt", "a")
	writeFile(t, f, "b.txt", "b")
	dir := home(f)

	if code := dir.Rename(ctx, "a.txt", dir, "c.txt", 0); code != 0 {
		t.Fatalf("Rename: %v", code)
	}
	if code := dir.Unlink(ctx, "b.txt"); code != 0 {
		t.Fatalf("Unlink: %v", code)
	}
	if got := fmt.Sprint(dirNames(t, dir)); got != "[c.txt]" {
		t.Errorf("Home = %s", got)
	}

	if code := dir.Unlink(ctx, "missing.txt"); code != syscall.ENOENT {
		t.Errorf("Unlink missing = %v", code)
	}
	if code := dir.Rmdir(ctx, "c.txt"); code != syscall.ENOTDIR {
		t.Errorf("Rmdir file = %v", code)
	}
}

func TestReadOnlyPlaces(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t)
	shared := &Node{fsys: f, path: sharedFolder, entry: models.Entry{Name: sharedFolder, IsDir: true}}

	if code := f.Root().Unlink(ctx, "Home"); code != syscall.EROFS {
		t.Errorf("root unlink = %v", code)
	}
	if code := shared.Unlink(ctx, "x"); code != syscall.EROFS {
		t.Errorf("shared unlink = %v", code)
	}
	file := &Node{fsys: f, path: "Shared/x", entry: models.Entry{Name: "x"}}
	if _, _, code := file.Open(ctx, syscall.O_WRONLY); code != syscall.EROFS {
		t.Errorf("shared open for write = %v", code)
	}
}

func TestErrno(t *testing.T) {
	tests := []struct {
		err  error
		want syscall.Errno
	}{
		{nil, 0},
		{&vault.AccountError{Err: errors.New("no account")}, syscall.EACCES},
		{fmt.Errorf("x: %w", vault.ErrUserRejected), syscall.EPERM},
		{fmt.Errorf("%w: boom", vault.ErrNoProviders), syscall.ENETUNREACH},
		{vault.ErrRenameUnsupported, syscall.ENOTSUP},
		{context.Canceled, syscall.EINTR},
		{errors.New("other"), syscall.EIO},
	}
	for _, tt := range tests {
		if got := errno(tt.err); got != tt.want {
			t.Errorf("errno(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
