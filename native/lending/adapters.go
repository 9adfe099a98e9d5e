package lending

import "math/big"

// Pool is the underlying pooled lending market the engine routes unmatched
// liquidity to. Indexes are ray scaled and never decrease.
type Pool interface {
	SupplyIndex(market string) (*big.Int, error)
	BorrowIndex(market string) (*big.Int, error)
	Deposit(market string, amount *big.Int) error
	Withdraw(market string, amount *big.Int) error
	Borrow(market string, amount *big.Int) error
	Repay(market string, amount *big.Int) error
}

// Oracle prices one whole unit of an asset. Every asset must be quoted in the
// same reference currency and precision.
type Oracle interface {
	Price(asset string) (*big.Int, error)
}

// Persister receives the records written by a committed operation. Commit is
// expected to be all-or-nothing.
type Persister interface {
	Commit(markets []*Market, positions []PositionRecord) error
}
