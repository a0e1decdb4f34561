package devnet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/internal/logging"
	"github.com/velthium/vestalia-network/internal/metrics"
	"github.com/velthium/vestalia-network/pkg/models"
)

// Result codes reported in models.TxResult.
const (
	CodeOK               uint32 = 0
	CodeInvalidRequest   uint32 = 18
	CodeSequenceMismatch uint32 = 32
)

const planTerm = 30 * 24 * time.Hour

// ErrTxInCache is returned when a signed transaction is broadcast twice.
var ErrTxInCache = errors.New("tx already exists in cache")

// txClaims is the signed body of a transaction.
type txClaims struct {
	Sequence uint64       `json:"seq"`
	Msgs     []models.Msg `json:"msgs"`
	jwt.RegisteredClaims
}

type account struct {
	balance int64
	seq     uint64
	used    int64
	allowed int64
	expires time.Time
}

// Account is a read-only view of a ledger account.
type Account struct {
	Address  string
	Balance  int64
	Sequence uint64
}

// Ledger orders transactions per account and applies their messages to
// the filetree index.
type Ledger struct {
	mu       sync.Mutex
	secret   []byte
	index    Index
	accounts map[string]*account
	cache    map[string]struct{}
	height   int64
	now      func() time.Time
}

// NewLedger creates a ledger signing with secret and writing to idx.
func NewLedger(secret []byte, idx Index) (*Ledger, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("ledger secret must be at least 16 bytes")
	}
	return &Ledger{
		secret:   secret,
		index:    idx,
		accounts: make(map[string]*account),
		cache:    make(map[string]struct{}),
		height:   1,
		now:      time.Now,
	}, nil
}

// Index returns the filetree index.
func (l *Ledger) Index() Index { return l.index }

// Height returns the current block height.
func (l *Ledger) Height() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

// Fund credits amount to address, creating the account and its Home
// folder on first use.
func (l *Ledger) Fund(ctx context.Context, address string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("fund %s: amount must be positive", address)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[address]
	if !ok {
		acct = &account{}
		l.accounts[address] = acct
	}
	acct.balance += amount

	root, err := l.index.Root(ctx, address)
	switch {
	case errors.Is(err, ErrNodeNotFound):
		root = Node{ULID: newULID(), Owner: address, Name: "Home", IsDir: true, ModTime: l.now()}
		if err := l.index.Put(ctx, root); err != nil {
			return fmt.Errorf("create home folder: %w", err)
		}
	case err != nil:
		return err
	case !ok:
		// tree restored from a persistent index
		if acct.used, err = l.usage(ctx, root); err != nil {
			return err
		}
	}
	logging.Debug("account funded", zap.String("address", address), zap.Int64("amount", amount))
	return nil
}

func (l *Ledger) usage(ctx context.Context, dir Node) (int64, error) {
	children, err := l.index.Children(ctx, dir.ULID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, c := range children {
		if !c.IsDir {
			total += c.Size
			continue
		}
		n, err := l.usage(ctx, c)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// BuyPlan grants address a storage allowance for the standard term.
func (l *Ledger) BuyPlan(address string, allowed int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[address]
	if !ok {
		return missingAccount(address)
	}
	acct.allowed = allowed
	acct.expires = l.now().Add(planTerm)
	return nil
}

// Plan returns the storage plan of address.
func (l *Ledger) Plan(address string) (*models.PlanStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[address]
	if !ok {
		return nil, missingAccount(address)
	}
	if acct.allowed == 0 {
		return nil, fmt.Errorf("no storage plan for %s", address)
	}
	return &models.PlanStatus{
		Active:    l.now().Before(acct.expires),
		Allowed:   acct.allowed,
		Used:      acct.used,
		ExpiresAt: acct.expires,
	}, nil
}

// Account returns the account of address.
func (l *Ledger) Account(address string) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[address]
	if !ok {
		return Account{}, missingAccount(address)
	}
	return Account{Address: address, Balance: acct.balance, Sequence: acct.seq}, nil
}

// BumpSequence advances the sequence of address as if another client had
// submitted a transaction.
func (l *Ledger) BumpSequence(address string) {
	l.mu.Lock()
	if acct, ok := l.accounts[address]; ok {
		acct.seq++
	}
	l.mu.Unlock()
}

func missingAccount(address string) error {
	return fmt.Errorf("account %s does not exist on chain. Send some tokens there before trying to query sequence", address)
}

// Sign produces a signed transaction for signer at sequence seq.
func (l *Ledger) Sign(signer string, seq uint64, msgs []models.Msg) (string, error) {
	now := l.now()
	claims := txClaims{
		Sequence: seq,
		Msgs:     msgs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  signer,
			ID:       newULID(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(l.secret)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	return signed, nil
}

func (l *Ledger) verify(tokenStr string) (*txClaims, error) {
	claims := &txClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return l.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid signature")
	}
	return claims, nil
}

func txHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Broadcast verifies and applies a signed transaction. Ledger-level
// rejections come back as a failed TxResult; transport-level problems as
// an error.
func (l *Ledger) Broadcast(ctx context.Context, token string) (*models.TxResult, error) {
	hash := txHash(token)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.cache[hash]; dup {
		metrics.RecordTx("duplicate")
		return nil, ErrTxInCache
	}
	claims, err := l.verify(token)
	if err != nil {
		metrics.RecordTx("invalid")
		return nil, err
	}
	signer := claims.Subject
	acct, ok := l.accounts[signer]
	if !ok {
		metrics.RecordTx("no_account")
		return nil, missingAccount(signer)
	}
	if claims.Sequence != acct.seq {
		metrics.RecordTx("sequence_mismatch")
		return &models.TxResult{
			Code:      CodeSequenceMismatch,
			Error:     true,
			ErrorText: fmt.Sprintf("account sequence mismatch, expected %d, got %d: incorrect account sequence", acct.seq, claims.Sequence),
			TxHash:    hash,
		}, nil
	}

	l.cache[hash] = struct{}{}
	acct.seq++
	l.height++

	for _, m := range claims.Msgs {
		if err := l.apply(ctx, signer, acct, m); err != nil {
			metrics.RecordTx("failed")
			logging.Debug("tx message rejected", zap.String("type", m.Type), zap.Error(err))
			return &models.TxResult{
				Code:      CodeInvalidRequest,
				Error:     true,
				ErrorText: fmt.Sprintf("invalid request: %v", err),
				TxHash:    hash,
			}, nil
		}
	}

	metrics.RecordTx("success")
	return &models.TxResult{Code: CodeOK, TxHash: hash}, nil
}

func (l *Ledger) apply(ctx context.Context, signer string, acct *account, m models.Msg) error {
	switch m.Type {
	case MsgPostFile, MsgPostFolder:
		var n Node
		if err := decodeMsg(m, &n); err != nil {
			return err
		}
		return l.post(ctx, signer, acct, n, m.Type == MsgPostFolder)
	case MsgDeleteFile:
		var b deleteBody
		if err := decodeMsg(m, &b); err != nil {
			return err
		}
		n, err := l.owned(ctx, signer, b.ULID)
		if err != nil {
			return err
		}
		if n.ParentULID == "" {
			return fmt.Errorf("cannot delete the Home folder")
		}
		return l.remove(ctx, acct, n)
	case MsgMove:
		var b moveBody
		if err := decodeMsg(m, &b); err != nil {
			return err
		}
		return l.move(ctx, signer, b)
	case MsgViewers:
		var b viewersBody
		if err := decodeMsg(m, &b); err != nil {
			return err
		}
		return l.viewers(ctx, signer, b)
	case MsgFiletreeDelete:
		var b filetreeDeleteBody
		if err := decodeMsg(m, &b); err != nil {
			return err
		}
		n, err := l.owned(ctx, signer, b.Meta.ULID)
		if err != nil {
			return err
		}
		if n.ParentULID != b.Meta.Location {
			return fmt.Errorf("%s is not in %s", n.ULID, b.Meta.Location)
		}
		return l.remove(ctx, acct, n)
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
}

func (l *Ledger) owned(ctx context.Context, signer, ulid string) (Node, error) {
	n, err := l.index.Get(ctx, ulid)
	if err != nil {
		return Node{}, err
	}
	if n.Owner != signer {
		return Node{}, fmt.Errorf("%s is not owned by %s", ulid, signer)
	}
	return n, nil
}

// freeSlot picks the reference slot for name under parent. With replace
// set, an existing file of that name is returned for overwriting.
func (l *Ledger) freeSlot(ctx context.Context, parent Node, name, self string, replace bool) (int, *Node, error) {
	children, err := l.index.Children(ctx, parent.ULID)
	if err != nil {
		return 0, nil, err
	}
	ref := 0
	for i, c := range children {
		if c.Name == name && c.ULID != self {
			if replace && !c.IsDir {
				return c.RefIndex, &children[i], nil
			}
			return 0, nil, fmt.Errorf("%q already exists in %s", name, parent.Name)
		}
		if c.RefIndex >= ref {
			ref = c.RefIndex + 1
		}
	}
	return ref, nil, nil
}

func (l *Ledger) post(ctx context.Context, signer string, acct *account, n Node, folder bool) error {
	if n.ULID == "" || n.Name == "" {
		return fmt.Errorf("node needs a ulid and a name")
	}
	parent, err := l.owned(ctx, signer, n.ParentULID)
	if err != nil {
		return err
	}
	if !parent.IsDir {
		return fmt.Errorf("%s is not a folder", parent.Name)
	}
	ref, replaced, err := l.freeSlot(ctx, parent, n.Name, n.ULID, !folder)
	if err != nil {
		return err
	}
	if !folder {
		used := acct.used
		if replaced != nil {
			used -= replaced.Size
		}
		if acct.allowed > 0 && used+n.Size > acct.allowed {
			return fmt.Errorf("storage plan exceeded")
		}
		if replaced != nil {
			if err := l.remove(ctx, acct, *replaced); err != nil {
				return err
			}
		}
		acct.used += n.Size
	}

	n.Owner = signer
	n.IsDir = folder
	n.RefIndex = ref
	n.Start = l.height
	if n.ModTime.IsZero() {
		n.ModTime = l.now()
	}
	return l.index.Put(ctx, n)
}

// remove deletes n and everything below it.
func (l *Ledger) remove(ctx context.Context, acct *account, n Node) error {
	if n.IsDir {
		children, err := l.index.Children(ctx, n.ULID)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := l.remove(ctx, acct, c); err != nil {
				return err
			}
		}
	} else {
		acct.used -= n.Size
		if acct.used < 0 {
			acct.used = 0
		}
	}
	return l.index.Delete(ctx, n.ULID)
}

func (l *Ledger) move(ctx context.Context, signer string, b moveBody) error {
	n, err := l.owned(ctx, signer, b.ULID)
	if err != nil {
		return err
	}
	parent, err := l.owned(ctx, signer, b.ParentULID)
	if err != nil {
		return err
	}
	if !parent.IsDir {
		return fmt.Errorf("%s is not a folder", parent.Name)
	}
	for p := parent; ; {
		if p.ULID == n.ULID {
			return fmt.Errorf("cannot move %s into itself", n.Name)
		}
		if p.ParentULID == "" {
			break
		}
		if p, err = l.index.Get(ctx, p.ParentULID); err != nil {
			return err
		}
	}
	name := b.Name
	if name == "" {
		name = n.Name
	}
	ref, _, err := l.freeSlot(ctx, parent, name, n.ULID, false)
	if err != nil {
		return err
	}
	n.ParentULID = parent.ULID
	n.Name = name
	n.RefIndex = ref
	return l.index.Put(ctx, n)
}

func (l *Ledger) viewers(ctx context.Context, signer string, b viewersBody) error {
	n, err := l.owned(ctx, signer, b.ULID)
	if err != nil {
		return err
	}
	set := make(map[string]bool, len(n.Viewers))
	var out []string
	all := append(append([]string{}, n.Viewers...), b.Add...)
	for _, v := range all {
		if v != "" && v != signer && !set[v] {
			set[v] = true
			out = append(out, v)
		}
	}
	drop := make(map[string]bool, len(b.Remove))
	for _, v := range b.Remove {
		drop[v] = true
	}
	kept := out[:0]
	for _, v := range out {
		if !drop[v] {
			kept = append(kept, v)
		}
	}
	n.Viewers = kept
	return l.index.Put(ctx, n)
}
