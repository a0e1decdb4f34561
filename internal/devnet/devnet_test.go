package devnet

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/velthium/vestalia-network/internal/storage"
	"github.com/velthium/vestalia-network/internal/storage/memory"
	"github.com/velthium/vestalia-network/pkg/models"
)

const testSecret = "devnet-test-secret-0123456789"

func newTestNetwork(t *testing.T, accounts ...string) *Network {
	t.Helper()
	net, err := Open([]byte(testSecret), NewMemIndex(), memory.New(), memory.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, a := range accounts {
		if err := net.Ledger.Fund(context.Background(), a, 1000); err != nil {
			t.Fatalf("Fund(%s): %v", a, err)
		}
		if err := net.Ledger.BuyPlan(a, 1<<20); err != nil {
			t.Fatalf("BuyPlan(%s): %v", a, err)
		}
	}
	return net
}

func upload(t *testing.T, h *StorageHandler, dir, name, data string) {
	t.Helper()
	ctx := context.Background()
	if err := h.LoadDirectory(ctx, dir); err != nil {
		t.Fatalf("LoadDirectory(%s): %v", dir, err)
	}
	if err := h.QueuePrivate(ctx, []models.File{{Name: name, Data: []byte(data)}}, 0); err != nil {
		t.Fatalf("QueuePrivate: %v", err)
	}
	res, err := h.ProcessQueue(ctx)
	if err != nil || res.Failed() {
		t.Fatalf("ProcessQueue = %+v, %v", res, err)
	}
}

func loadPool(t *testing.T, h *StorageHandler) {
	t.Helper()
	ctx := context.Background()
	names, err := h.AvailableProviders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ips, err := h.FindProviderIPs(ctx, names)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.LoadProviderPool(ctx, ips); err != nil {
		t.Fatal(err)
	}
}

func TestBroadcast_SequenceMismatch(t *testing.T) {
	net := newTestNetwork(t, "jkl1alice")
	token, err := net.Ledger.Sign("jkl1alice", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := net.Ledger.Broadcast(context.Background(), token)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if res.Code != CodeSequenceMismatch || !strings.Contains(res.ErrorText, "account sequence mismatch") {
		t.Errorf("res = %+v", res)
	}
}

func TestBroadcast_Duplicate(t *testing.T) {
	net := newTestNetwork(t, "jkl1alice")
	token, _ := net.Ledger.Sign("jkl1alice", 0, nil)
	if _, err := net.Ledger.Broadcast(context.Background(), token); err != nil {
		t.Fatalf("first broadcast: %v", err)
	}
	if _, err := net.Ledger.Broadcast(context.Background(), token); !errors.Is(err, ErrTxInCache) {
		t.Fatalf("second broadcast err = %v, want ErrTxInCache", err)
	}
}

func TestBroadcast_MissingAccount(t *testing.T) {
	net := newTestNetwork(t)
	token, _ := net.Ledger.Sign("jkl1ghost", 0, nil)
	_, err := net.Ledger.Broadcast(context.Background(), token)
	if err == nil || !strings.Contains(err.Error(), "does not exist on chain") {
		t.Fatalf("err = %v", err)
	}
}

func TestBroadcast_ForeignSignature(t *testing.T) {
	net := newTestNetwork(t, "jkl1alice")
	other, _ := NewLedger([]byte("another-secret-0123456789"), NewMemIndex())
	token, _ := other.Sign("jkl1alice", 0, nil)
	if _, err := net.Ledger.Broadcast(context.Background(), token); err == nil {
		t.Fatal("transaction signed with a foreign key was accepted")
	}
}

func TestQueueProcessDownload(t *testing.T) {
	ctx := context.Background()
	net := newTestNetwork(t, "jkl1alice")
	h := NewHandler(net, "jkl1alice")

	upload(t, h, "Home", "report.txt", "quarterly numbers")

	if _, err := h.DownloadFile(ctx, "Home/report.txt", nil); err == nil {
		t.Error("download without a provider pool should fail")
	}
	loadPool(t, h)

	tr := models.NewTracker()
	data, err := h.DownloadFile(ctx, "s/Home/report.txt", tr)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if string(data) != "quarterly numbers" {
		t.Errorf("data = %q", data)
	}
	if tr.Progress() != 1 {
		t.Errorf("progress = %v", tr.Progress())
	}

	meta, err := h.FileMetaData(ctx, "Home/report.txt")
	if err != nil {
		t.Fatal(err)
	}
	stored, err := storage.ReadAll(ctx, net.Providers()[0].store, meta.Merkle)
	if err != nil {
		t.Fatalf("provider content: %v", err)
	}
	if bytes.Contains(stored, []byte("quarterly")) {
		t.Error("private upload stored in the clear")
	}

	plan, err := h.PlanStatus(ctx)
	if err != nil || plan.Used != int64(len("quarterly numbers")) {
		t.Errorf("plan = %+v, %v", plan, err)
	}
}

func TestQueue_ReplacesSameName(t *testing.T) {
	ctx := context.Background()
	net := newTestNetwork(t, "jkl1alice")
	h := NewHandler(net, "jkl1alice")

	upload(t, h, "Home", "a.txt", "one")
	first, _ := h.FileMetaData(ctx, "Home/a.txt")
	upload(t, h, "Home", "a.txt", "two")

	metas, err := h.ChildFileMetas(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 1 {
		t.Fatalf("files = %+v, want one", metas)
	}
	if net.stored(ctx, first.Merkle) {
		t.Error("replaced content still held by providers")
	}
}

func TestDeleteTargets(t *testing.T) {
	ctx := context.Background()
	net := newTestNetwork(t, "jkl1alice")
	h := NewHandler(net, "jkl1alice")
	upload(t, h, "Home", "a.txt", "data")
	meta, _ := h.FileMetaData(ctx, "Home/a.txt")

	if err := h.DeleteTargets(ctx, []string{"a.txt"}); err != nil {
		t.Fatalf("DeleteTargets: %v", err)
	}
	if _, err := h.FileMetaData(ctx, "Home/a.txt"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("file still listed: %v", err)
	}
	if net.stored(ctx, meta.Merkle) {
		t.Error("content not released")
	}
	if err := h.DeleteTargets(ctx, []string{"a.txt"}); err == nil || !strings.Contains(err.Error(), "code 18") {
		t.Errorf("second delete err = %v", err)
	}
}

func TestDeleteTargets_MissingContent(t *testing.T) {
	ctx := context.Background()
	net := newTestNetwork(t, "jkl1alice")
	h := NewHandler(net, "jkl1alice")
	upload(t, h, "Home", "ghost.txt", "boo")
	meta, _ := h.FileMetaData(ctx, "Home/ghost.txt")
	for _, p := range net.Providers() {
		p.Drop(ctx, meta.Merkle)
	}

	err := h.DeleteTargets(ctx, []string{"ghost.txt"})
	if err == nil || !strings.Contains(err.Error(), "invalid request") {
		t.Fatalf("err = %v, want invalid request", err)
	}

	loc, err := h.ResolveFiletreeLocation(ctx, "Home/ghost.txt")
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := h.FiletreeDeleteMsgs(ctx, models.FiletreeDeletePackage{
		Meta: models.NullMeta{Location: loc.ParentULID, RefIndex: loc.RefIndex, ULID: loc.ULID},
		AES:  models.AESBundle{Key: make([]byte, 32), IV: make([]byte, 16)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.BroadcastAndMonitor(ctx, msgs); err != nil {
		t.Fatalf("BroadcastAndMonitor: %v", err)
	}
	if _, err := h.FileMetaData(ctx, "Home/ghost.txt"); err == nil {
		t.Error("ghost entry survived")
	}
}

func TestSequenceRecovery(t *testing.T) {
	ctx := context.Background()
	net := newTestNetwork(t, "jkl1alice")
	h := NewHandler(net, "jkl1alice")
	upload(t, h, "Home", "a.txt", "1")

	net.Ledger.BumpSequence("jkl1alice")
	h.QueuePublic(ctx, []models.File{{Name: "b.txt", Data: []byte("2")}}, 0)
	res, err := h.ProcessQueue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != CodeSequenceMismatch {
		t.Fatalf("res = %+v, want sequence mismatch", res)
	}

	if err := h.UpgradeSigner(ctx); err != nil {
		t.Fatal(err)
	}
	res, err = h.ProcessQueue(ctx)
	if err != nil || res.Failed() {
		t.Fatalf("retry = %+v, %v", res, err)
	}
	if _, err := h.FileMetaData(ctx, "Home/b.txt"); err != nil {
		t.Errorf("queued file lost across the retry: %v", err)
	}
}

func TestApproverDeclines(t *testing.T) {
	ctx := context.Background()
	net := newTestNetwork(t, "jkl1alice")
	net.SetApprover(func(string, []models.Msg) error { return errors.New("Request rejected") })
	h := NewHandler(net, "jkl1alice")

	if err := h.CreateFolders(ctx, "Home", []string{"Docs"}); err == nil || !strings.Contains(err.Error(), "rejected") {
		t.Fatalf("err = %v", err)
	}
}

func TestSharing(t *testing.T) {
	ctx := context.Background()
	net := newTestNetwork(t, "jkl1alice", "jkl1bob")
	alice := NewHandler(net, "jkl1alice")
	bob := NewHandler(net, "jkl1bob")

	if err := alice.CreateFolders(ctx, "Home", []string{"Docs"}); err != nil {
		t.Fatal(err)
	}
	upload(t, alice, "Home/Docs", "plan.txt", "secret plan")
	if err := alice.GrantViewerAccess(ctx, "Home/Docs/plan.txt", "jkl1bob"); err != nil {
		t.Fatalf("GrantViewerAccess: %v", err)
	}

	listing, err := bob.ReadDirectoryContents(ctx, SharedFolder, models.ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	dm := listing.(*models.DirectoryMap)
	if len(dm.Files) != 1 {
		t.Fatalf("shared files = %+v", dm.Files)
	}
	var rec models.FileRecord
	for _, r := range dm.Files {
		rec = r
	}
	if rec.Share == nil || rec.Share.Owner != "jkl1alice" || rec.Share.Root != "Home/Docs" {
		t.Fatalf("share = %+v", rec.Share)
	}

	loadPool(t, bob)
	data, err := bob.DownloadByULID(ctx, models.ULIDDownload{ULID: rec.Share.FileULID, UserAddress: "jkl1alice"})
	if err != nil || string(data) != "secret plan" {
		t.Fatalf("DownloadByULID = %q, %v", data, err)
	}

	viewers, _ := alice.ListViewers(ctx, rec.Share.FileULID)
	if len(viewers) != 1 || viewers[0] != "jkl1bob" {
		t.Errorf("viewers = %v", viewers)
	}

	if err := alice.RevokeViewerAccess(ctx, "Home/Docs/plan.txt", "jkl1bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.DownloadExternalFile(ctx, "jkl1alice", "Home/Docs/plan.txt", nil); err == nil {
		t.Error("download succeeded after revoke")
	}
}

func TestMoveRenameResource(t *testing.T) {
	ctx := context.Background()
	net := newTestNetwork(t, "jkl1alice")
	h := NewHandler(net, "jkl1alice")
	if err := h.CreateFolders(ctx, "Home", []string{"Docs", "Archive"}); err != nil {
		t.Fatal(err)
	}
	h.LoadDirectory(ctx, "Home")
	folders, _ := h.ChildFolderMetas(ctx)
	var docs, archive models.FolderMeta
	for _, f := range folders {
		switch f.Name {
		case "Docs":
			docs = f
		case "Archive":
			archive = f
		}
	}

	err := h.MoveRenameResource(ctx, []models.MoveTarget{{Name: "Papers", Location: archive.ULID, Folder: &docs}})
	if err != nil {
		t.Fatalf("MoveRenameResource: %v", err)
	}
	if _, err := h.resolveDir(ctx, "jkl1alice", "Home/Archive/Papers"); err != nil {
		t.Errorf("moved folder not found: %v", err)
	}

	err = h.MoveRenameResource(ctx, []models.MoveTarget{{Name: "Loop", Location: docs.ULID, Folder: &archive}})
	if err == nil {
		t.Error("moving a folder below its own child should fail")
	}
}

func TestMemIndexSnapshot(t *testing.T) {
	ctx := context.Background()
	idx := NewMemIndex()
	idx.Put(ctx, Node{ULID: "R", Owner: "jkl1a", Name: "Home", IsDir: true})
	idx.Put(ctx, Node{ULID: "F", ParentULID: "R", Owner: "jkl1a", Name: "a.txt", Merkle: "bafk", Viewers: []string{"jkl1b"}})

	var buf bytes.Buffer
	if err := idx.Snapshot(&buf); err != nil {
		t.Fatal(err)
	}
	restored := NewMemIndex()
	if err := restored.Restore(&buf); err != nil {
		t.Fatal(err)
	}
	root, err := restored.Root(ctx, "jkl1a")
	if err != nil || root.ULID != "R" {
		t.Fatalf("Root = %+v, %v", root, err)
	}
	shared, _ := restored.SharedWith(ctx, "jkl1b")
	if len(shared) != 1 || shared[0].ULID != "F" {
		t.Errorf("SharedWith = %+v", shared)
	}
}

func TestContentID(t *testing.T) {
	a, err := ContentID([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := ContentID([]byte("hello"))
	c, _ := ContentID([]byte("world"))
	if a != b || a == c {
		t.Errorf("ContentID not deterministic or collides: %s %s %s", a, b, c)
	}
	if !strings.HasPrefix(a, "bafk") {
		t.Errorf("expected a CIDv1 raw identifier, got %s", a)
	}
}

func TestSealOpen(t *testing.T) {
	key, _ := newFileKey()
	sealed, err := seal(key, []byte("plain"))
	if err != nil {
		t.Fatal(err)
	}
	plain, err := open(key, sealed)
	if err != nil || string(plain) != "plain" {
		t.Fatalf("open = %q, %v", plain, err)
	}
	other, _ := newFileKey()
	if _, err := open(other, sealed); err == nil {
		t.Error("opened with the wrong key")
	}
}
