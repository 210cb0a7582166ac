package token

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"custody/pkg/domain"
)

// Ledger is an in-memory token. All movements are serialized by one mutex and
// validated completely before any balance changes, so a failed call leaves
// the ledger untouched. The hook is invoked with the mutex held and must not
// call back into the ledger.
type Ledger struct {
	mu         sync.Mutex
	address    common.Address
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	supply     *big.Int
	hook       Hook
}

type Option func(*Ledger)

func WithHook(h Hook) Option {
	return func(l *Ledger) {
		l.hook = h
	}
}

// NewLedger creates an empty token identified by address.
func NewLedger(address common.Address, opts ...Option) *Ledger {
	l := &Ledger{
		address:    address,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		supply:     new(big.Int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetHook replaces the pre-transfer hook.
func (l *Ledger) SetHook(h Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = h
}

func (l *Ledger) Address() common.Address { return l.address }

func (l *Ledger) BalanceOf(_ context.Context, account common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(account), nil
}

func (l *Ledger) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowance(owner, spender), nil
}

func (l *Ledger) TotalSupply(context.Context) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.supply)
}

// Approve sets the allowance of spender over owner's tokens.
func (l *Ledger) Approve(_ context.Context, owner, spender common.Address, amount *big.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if !domain.IsUint256(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]*big.Int)
	}
	l.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	return l.TransferBatch(ctx, from, []Payout{{To: to, Amount: amount}})
}

func (l *Ledger) TransferFrom(ctx context.Context, spender, owner, to common.Address, amount *big.Int) error {
	if err := validMove(owner, to, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowance(owner, spender)
	if allowed.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if l.balance(owner).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := l.before(ctx, owner, to, amount); err != nil {
		return err
	}
	l.allowances[owner][spender] = allowed.Sub(allowed, amount)
	l.move(owner, to, amount)
	return nil
}

// TransferBatch moves every payout from one account. The hook and the balance
// check run for all legs before anything moves.
func (l *Ledger) TransferBatch(ctx context.Context, from common.Address, payouts []Payout) error {
	total := new(big.Int)
	for _, p := range payouts {
		if err := validMove(from, p.To, p.Amount); err != nil {
			return err
		}
		total.Add(total, p.Amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balance(from).Cmp(total) < 0 {
		return ErrInsufficientBalance
	}
	for _, p := range payouts {
		if err := l.before(ctx, from, p.To, p.Amount); err != nil {
			return err
		}
	}
	for _, p := range payouts {
		l.move(from, p.To, p.Amount)
	}
	return nil
}

// Mint creates amount tokens for to. The hook sees the zero address as sender.
func (l *Ledger) Mint(ctx context.Context, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if !domain.IsUint256(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	supply := new(big.Int).Add(l.supply, amount)
	if !domain.IsUint256(supply) {
		return ErrSupplyOverflow
	}
	if err := l.before(ctx, common.Address{}, to, amount); err != nil {
		return err
	}
	l.supply = supply
	l.balances[to] = new(big.Int).Add(l.balance(to), amount)
	return nil
}

// Burn destroys amount tokens held by from. The hook sees the zero address as receiver.
func (l *Ledger) Burn(ctx context.Context, from common.Address, amount *big.Int) error {
	if from == (common.Address{}) {
		return ErrZeroAddress
	}
	if !domain.IsUint256(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balance(from).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := l.before(ctx, from, common.Address{}, amount); err != nil {
		return err
	}
	l.supply = new(big.Int).Sub(l.supply, amount)
	l.balances[from] = new(big.Int).Sub(l.balance(from), amount)
	return nil
}

func validMove(from, to common.Address, amount *big.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if !domain.IsUint256(amount) {
		return ErrInvalidAmount
	}
	return nil
}

func (l *Ledger) before(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if l.hook == nil {
		return nil
	}
	return l.hook.BeforeTransfer(ctx, from, to, amount)
}

func (l *Ledger) move(from, to common.Address, amount *big.Int) {
	l.balances[from] = new(big.Int).Sub(l.balance(from), amount)
	l.balances[to] = new(big.Int).Add(l.balance(to), amount)
}

func (l *Ledger) balance(account common.Address) *big.Int {
	if b, ok := l.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *Ledger) allowance(owner, spender common.Address) *big.Int {
	if a, ok := l.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}
