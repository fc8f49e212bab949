package token

import (
	"errors"
	"math/big"
	"sync"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidAmount         = errors.New("token: invalid amount")
)

// Book is an in-memory fungible-token balance book with allowance support.
// Engines pull approved funds via TransferFrom and pay out via the owner
// methods below. All methods are safe for concurrent use.
type Book struct {
	mu         sync.RWMutex
	balances   map[[20]byte]*big.Int
	allowances map[[20]byte]map[[20]byte]*big.Int
}

// NewBook returns an empty balance book.
func NewBook() *Book {
	return &Book{
		balances:   make(map[[20]byte]*big.Int),
		allowances: make(map[[20]byte]map[[20]byte]*big.Int),
	}
}

// Owner returns a view of the book that debits the given address on Transfer.
// The staking and sale engines hold one of these for their custody account.
func (b *Book) Owner(addr [20]byte) *OwnerBook {
	return &OwnerBook{book: b, owner: addr}
}

// Mint credits freshly issued units to an address.
func (b *Book) Mint(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(addr, amount)
	return nil
}

// Approve sets the spender allowance for an owner.
func (b *Book) Approve(owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	granted, ok := b.allowances[owner]
	if !ok {
		granted = make(map[[20]byte]*big.Int)
		b.allowances[owner] = granted
	}
	granted[spender] = new(big.Int).Set(amount)
	return nil
}

// BalanceOf returns the current balance of an address.
func (b *Book) BalanceOf(addr [20]byte) (*big.Int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balanceLocked(addr), nil
}

// Allowance returns the remaining spender allowance for an owner.
func (b *Book) Allowance(owner, spender [20]byte) (*big.Int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if granted, ok := b.allowances[owner]; ok {
		if v, ok := granted[spender]; ok {
			return new(big.Int).Set(v), nil
		}
	}
	return big.NewInt(0), nil
}

// Transfer moves units between two addresses.
func (b *Book) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.moveLocked(from, to, amount)
}

// TransferFrom moves units on behalf of an owner, consuming the spender's
// allowance.
func (b *Book) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	granted, ok := b.allowances[from]
	if !ok {
		return ErrInsufficientAllowance
	}
	remaining, ok := granted[spender]
	if !ok || remaining.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := b.moveLocked(from, to, amount); err != nil {
		return err
	}
	granted[spender] = new(big.Int).Sub(remaining, amount)
	return nil
}

// Balances returns a copy of every non-zero balance.
func (b *Book) Balances() map[[20]byte]*big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[[20]byte]*big.Int, len(b.balances))
	for addr, v := range b.balances {
		if v.Sign() > 0 {
			out[addr] = new(big.Int).Set(v)
		}
	}
	return out
}

// Restore replaces the book's balances. Allowances are not persisted and
// reset to empty.
func (b *Book) Restore(balances map[[20]byte]*big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances = make(map[[20]byte]*big.Int, len(balances))
	for addr, v := range balances {
		if v != nil && v.Sign() > 0 {
			b.balances[addr] = new(big.Int).Set(v)
		}
	}
	b.allowances = make(map[[20]byte]map[[20]byte]*big.Int)
}

func (b *Book) balanceLocked(addr [20]byte) *big.Int {
	if v, ok := b.balances[addr]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (b *Book) credit(addr [20]byte, amount *big.Int) {
	current, ok := b.balances[addr]
	if !ok {
		current = big.NewInt(0)
	}
	b.balances[addr] = new(big.Int).Add(current, amount)
}

func (b *Book) moveLocked(from, to [20]byte, amount *big.Int) error {
	current, ok := b.balances[from]
	if !ok || current.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.balances[from] = new(big.Int).Sub(current, amount)
	b.credit(to, amount)
	return nil
}

// OwnerBook binds a book to a spending address so it satisfies the engine
// token collaborator interfaces.
type OwnerBook struct {
	book  *Book
	owner [20]byte
}

// Transfer debits the bound address.
func (o *OwnerBook) Transfer(to [20]byte, amount *big.Int) error {
	return o.book.Transfer(o.owner, to, amount)
}

// TransferFrom pulls funds the source previously approved for the bound
// address.
func (o *OwnerBook) TransferFrom(from, to [20]byte, amount *big.Int) error {
	return o.book.TransferFrom(o.owner, from, to, amount)
}

// BalanceOf reports any address balance.
func (o *OwnerBook) BalanceOf(addr [20]byte) (*big.Int, error) {
	return o.book.BalanceOf(addr)
}

// Allowance reports the spender allowance for an owner.
func (o *OwnerBook) Allowance(owner, spender [20]byte) (*big.Int, error) {
	return o.book.Allowance(owner, spender)
}
