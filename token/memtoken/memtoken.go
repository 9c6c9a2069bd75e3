// Package memtoken is an in-memory token ledger with allowances and signed
// permits. It backs tests and local deployments.
//
// Permits are signed with ed25519. An account address is the last 20 bytes
// of the Keccak-256 hash of its public key, and a permit signature is the
// 32-byte public key followed by the 64-byte signature over PermitDigest.
package memtoken

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/xraph/recur/token"
	"github.com/xraph/recur/types"
)

const signatureLength = ed25519.PublicKeySize + ed25519.SignatureSize

var (
	permitTypeHash = keccak([]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"))
	maxAllowance   = types.MustParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
)

// Token is an in-memory ledger. It is safe for concurrent use and never
// calls out while holding its lock.
type Token struct {
	address types.Address
	name    string
	clock   func() time.Time

	mu         sync.Mutex
	balances   map[types.Address]types.Amount
	allowances map[types.Address]map[types.Address]types.Amount
	nonces     map[types.Address]uint64
}

// Option configures a Token.
type Option func(*Token)

// WithClock sets the clock used for permit deadlines.
func WithClock(clock func() time.Time) Option {
	return func(t *Token) {
		t.clock = clock
	}
}

// New creates an empty ledger deployed at address.
func New(address types.Address, name string, opts ...Option) *Token {
	t := &Token{
		address:    address,
		name:       name,
		clock:      time.Now,
		balances:   make(map[types.Address]types.Amount),
		allowances: make(map[types.Address]map[types.Address]types.Amount),
		nonces:     make(map[types.Address]uint64),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Address returns the address the ledger is deployed at.
func (t *Token) Address() types.Address { return t.address }

// Mint credits amount to to.
func (t *Token) Mint(to types.Address, amount types.Amount) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, overflow := t.balances[to].Add(amount)
	if overflow {
		return fmt.Errorf("memtoken: mint to %s overflows", to)
	}
	t.balances[to] = next
	return nil
}

// Approve sets spender's allowance on owner.
func (t *Token) Approve(owner, spender types.Address, amount types.Amount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setAllowance(owner, spender, amount)
}

// Allowance returns spender's allowance on owner.
func (t *Token) Allowance(owner, spender types.Address) types.Amount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[owner][spender]
}

// Nonce returns the next permit nonce of owner.
func (t *Token) Nonce(owner types.Address) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nonces[owner]
}

// BalanceOf implements token.Ledger.
func (t *Token) BalanceOf(_ context.Context, account types.Address) (types.Amount, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account], nil
}

// TransferFrom implements token.Ledger. The allowance is checked before the
// balance, and a maximal allowance is never decreased.
func (t *Token) TransferFrom(_ context.Context, spender, from, to types.Address, amount types.Amount) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := t.allowances[from][spender]
	remaining, underflow := allowance.Sub(amount)
	if underflow {
		return token.ErrInsufficientAllowance
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	if allowance.Cmp(maxAllowance) != 0 {
		t.setAllowance(from, spender, remaining)
	}
	return nil
}

// Transfer implements token.Ledger.
func (t *Token) Transfer(_ context.Context, from, to types.Address, amount types.Amount) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

// Permit implements token.Permitter.
func (t *Token) Permit(_ context.Context, p token.Permit) error {
	if t.clock().After(p.Deadline) {
		return token.ErrExpiredPermit
	}
	if len(p.Signature) != signatureLength {
		return token.ErrInvalidPermitSignature
	}
	pub := ed25519.PublicKey(p.Signature[:ed25519.PublicKeySize])
	sig := p.Signature[ed25519.PublicKeySize:]
	if AddressOf(pub) != p.Owner {
		return token.ErrInvalidPermitSignature
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	nonce := t.nonces[p.Owner]
	digest := PermitDigest(t.address, t.name, p, nonce)
	if !ed25519.Verify(pub, digest[:], sig) {
		return token.ErrInvalidPermitSignature
	}
	t.nonces[p.Owner] = nonce + 1
	t.setAllowance(p.Owner, p.Spender, p.Value)
	return nil
}

func (t *Token) move(from, to types.Address, amount types.Amount) error {
	original := t.balances[from]
	fromBal, underflow := original.Sub(amount)
	if underflow {
		return token.ErrInsufficientBalance
	}
	t.balances[from] = fromBal
	toBal, overflow := t.balances[to].Add(amount)
	if overflow {
		t.balances[from] = original
		return fmt.Errorf("memtoken: credit to %s overflows", to)
	}
	t.balances[to] = toBal
	return nil
}

func (t *Token) setAllowance(owner, spender types.Address, amount types.Amount) {
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[types.Address]types.Amount)
		t.allowances[owner] = m
	}
	m[spender] = amount
}

// ──────────────────────────────────────────────────
// Signing
// ──────────────────────────────────────────────────

// AddressOf derives the account address of an ed25519 public key.
func AddressOf(pub ed25519.PublicKey) types.Address {
	h := keccak(pub)
	return types.BytesToAddress(h[12:])
}

// PermitDigest is the message a permit signature covers. It binds the
// ledger's address and name, the permit fields and the owner's nonce.
func PermitDigest(tokenAddr types.Address, name string, p token.Permit, nonce uint64) [32]byte {
	domain := keccak([]byte(name), word(tokenAddr[:]))

	value := p.Value.Int().Bytes32()
	structHash := keccak(
		permitTypeHash[:],
		word(p.Owner[:]),
		word(p.Spender[:]),
		value[:],
		uintWord(nonce),
		uintWord(uint64(p.Deadline.Unix())),
	)

	return keccak([]byte{0x19, 0x01}, domain[:], structHash[:])
}

// SignPermit signs p for the ledger at tokenAddr with the given owner nonce
// and returns the permit signature bytes.
func SignPermit(priv ed25519.PrivateKey, tokenAddr types.Address, name string, p token.Permit, nonce uint64) []byte {
	digest := PermitDigest(tokenAddr, name, p, nonce)
	pub, _ := priv.Public().(ed25519.PublicKey)
	out := make([]byte, 0, signatureLength)
	out = append(out, pub...)
	return append(out, ed25519.Sign(priv, digest[:])...)
}

func keccak(parts ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

func word(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func uintWord(n uint64) []byte {
	out := make([]byte, 32)
	binary.BigEndian.PutUint64(out[24:], n)
	return out
}
