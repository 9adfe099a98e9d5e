package lending

import (
	"errors"
	"math/big"
	"testing"
)

// matchedPair sets up one borrower and one supplier matched for 1000 DAI.
func matchedPair(t *testing.T) (*harness, [2]byte) {
	t.Helper()
	h := newHarness(t)
	h.collateralize(t, addr(1), 1)
	h.borrow(t, "DAI", addr(1), units(1000), 10)
	h.supply(t, "DAI", addr(2), units(1000), 10)
	h.pool.reset()
	return h, [2]byte{1, 2}
}

func TestDeltaLedgerIncreaseAndConsume(t *testing.T) {
	deltas := emptyDeltas()
	indexes := freshIndexes()
	indexes.PoolSupply = rayOf(2, 1)
	ledger := deltaLedger{deltas: &deltas, indexes: &indexes}

	added := ledger.increase(SideSupply, units(10))
	requireBig(t, units(5), added)
	requireBig(t, units(10), ledger.outstanding(SideSupply))

	requireBig(t, units(4), ledger.consume(SideSupply, units(4)))
	requireBig(t, units(6), ledger.outstanding(SideSupply))
	requireBig(t, units(6), ledger.consume(SideSupply, units(100)))
	requireBig(t, big.NewInt(0), deltas.SupplyDelta)
	requireBig(t, big.NewInt(0), ledger.consume(SideSupply, units(1)))
}

func TestWithdrawCreatesBorrowDeltaThatSupplyConsumes(t *testing.T) {
	h, _ := matchedPair(t)

	// Without matching budget the borrower cannot be demoted.
	receipt, err := h.engine.Withdraw("DAI", addr(2), units(1000), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireAmount(t, "delta created", units(1000), receipt.DeltaCreated)
	requireAmount(t, "pool borrow", units(1000), h.pool.net("borrow", "DAI"))

	deltas, err := h.engine.Deltas("DAI")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireAmount(t, "borrow delta", units(1000), deltas.BorrowDelta)
	requireAmount(t, "p2p supply", big.NewInt(0), deltas.P2PSupplyAmount)
	requireAmount(t, "p2p borrow", units(1000), deltas.P2PBorrowAmount)
	requireAmount(t, "borrower still in P2P", units(1000), h.balances(t, "DAI", addr(1), SideBorrow).InP2P)
	requireAmount(t, "identity gap", big.NewInt(0), h.identityGap(t, "DAI"))

	h.pool.reset()
	receipt = h.supply(t, "DAI", addr(3), units(1000), 10)
	requireAmount(t, "delta absorbed", units(1000), receipt.DeltaAbsorbed)
	if receipt.Visited != 0 {
		t.Fatalf("expected %v, got %v", 0, receipt.Visited)
	}
	requireAmount(t, "pool repay", units(1000), h.pool.net("repay", "DAI"))

	deltas, err = h.engine.Deltas("DAI")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireAmount(t, "borrow delta", big.NewInt(0), deltas.BorrowDelta)
	requireAmount(t, "p2p supply", units(1000), deltas.P2PSupplyAmount)
	requireAmount(t, "new supplier in P2P", units(1000), h.balances(t, "DAI", addr(3), SideSupply).InP2P)
	requireAmount(t, "identity gap", big.NewInt(0), h.identityGap(t, "DAI"))
}

func TestRepayCreatesSupplyDeltaThatBorrowConsumes(t *testing.T) {
	h, _ := matchedPair(t)

	receipt, err := h.engine.Repay("DAI", addr(1), units(1000), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireAmount(t, "delta created", units(1000), receipt.DeltaCreated)
	requireAmount(t, "pool deposit", units(1000), h.pool.net("deposit", "DAI"))

	deltas, err := h.engine.Deltas("DAI")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireAmount(t, "supply delta", units(1000), deltas.SupplyDelta)
	requireAmount(t, "p2p borrow", big.NewInt(0), deltas.P2PBorrowAmount)
	requireAmount(t, "identity gap", big.NewInt(0), h.identityGap(t, "DAI"))

	h.pool.reset()
	h.collateralize(t, addr(3), 1)
	receipt = h.borrow(t, "DAI", addr(3), units(1000), 10)
	requireAmount(t, "delta absorbed", units(1000), receipt.DeltaAbsorbed)
	requireAmount(t, "pool withdraw", units(1000), h.pool.net("withdraw", "DAI"))

	deltas, err = h.engine.Deltas("DAI")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireAmount(t, "supply delta", big.NewInt(0), deltas.SupplyDelta)
	requireAmount(t, "p2p borrow", units(1000), deltas.P2PBorrowAmount)
	requireAmount(t, "identity gap", big.NewInt(0), h.identityGap(t, "DAI"))
}

func TestSupplyDeltaEarnsPoolRate(t *testing.T) {
	h, _ := matchedPair(t)
	_, err := h.engine.Repay("DAI", addr(1), units(1000), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Every P2P supplier is now backed by the pool and earns its rate.
	h.pool.setIndexes("DAI", rayOf(101, 100), rayOf(103, 100))
	market, err := h.engine.UpdateIndexes("DAI")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireBig(t, rayOf(101, 100), market.P2PSupply)
	requireAmount(t, "supplier", units(1010), h.balances(t, "DAI", addr(2), SideSupply).Total)
}

func TestIncreaseP2PDeltas(t *testing.T) {
	h, _ := matchedPair(t)

	moved, err := h.engine.IncreaseP2PDeltas("DAI", units(5000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireAmount(t, "moved", units(1000), moved)
	requireAmount(t, "pool deposit", units(1000), h.pool.net("deposit", "DAI"))
	requireAmount(t, "pool borrow", units(1000), h.pool.net("borrow", "DAI"))

	deltas, err := h.engine.Deltas("DAI")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireAmount(t, "supply delta", units(1000), deltas.SupplyDelta)
	requireAmount(t, "borrow delta", units(1000), deltas.BorrowDelta)
	requireAmount(t, "identity gap", big.NewInt(0), h.identityGap(t, "DAI"))

	// Nothing left to move.
	moved, err = h.engine.IncreaseP2PDeltas("DAI", units(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireAmount(t, "moved", big.NewInt(0), moved)

	_, err = h.engine.IncreaseP2PDeltas("DAI", big.NewInt(0))
	if !errors.Is(err, ErrAmountZero) {
		t.Fatalf("expected %v, got %v", ErrAmountZero, err)
	}
}

func TestRebalanceMatchesDeltasAgain(t *testing.T) {
	h, _ := matchedPair(t)
	_, err := h.engine.Repay("DAI", addr(1), units(1000), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A new on-pool borrower can take the parked P2P supply.
	h.collateralize(t, addr(3), 1)
	h.borrow(t, "DAI", addr(3), units(600), 0)
	h.pool.reset()

	receipt, err := h.engine.Rebalance("DAI", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireAmount(t, "absorbed", units(600), receipt.DeltaAbsorbed)
	requireAmount(t, "pool withdraw", units(600), h.pool.net("withdraw", "DAI"))
	requireAmount(t, "pool repay", units(600), h.pool.net("repay", "DAI"))
	requireAmount(t, "borrower in P2P", units(600), h.balances(t, "DAI", addr(3), SideBorrow).InP2P)

	deltas, err := h.engine.Deltas("DAI")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireAmount(t, "supply delta", units(400), deltas.SupplyDelta)
	requireAmount(t, "identity gap", big.NewInt(0), h.identityGap(t, "DAI"))
}

func TestMatchingConservesNotional(t *testing.T) {
	h := newHarness(t)
	for i := byte(1); i <= 6; i++ {
		h.collateralize(t, addr(i), 5)
	}
	steps := []struct {
		op      string
		account byte
		amount  int64
		max     int
	}{
		{"borrow", 1, 700, 10},
		{"borrow", 2, 300, 10},
		{"supply", 3, 500, 10},
		{"supply", 4, 900, 1},
		{"borrow", 5, 650, 10},
		{"withdraw", 3, 250, 10},
		{"repay", 1, 400, 3},
		{"withdraw", 4, 900, 0},
		{"supply", 6, 1200, 10},
		{"repay", 2, 300, 0},
		{"borrow", 1, 100, 10},
	}
	for i, step := range steps {
		index := int64(100 + i)
		h.pool.setIndexes("DAI", rayOf(index, 100), rayOf(index+i64(i), 100))

		var err error
		switch step.op {
		case "supply":
			_, err = h.engine.Supply("DAI", addr(step.account), units(step.amount), step.max)
		case "borrow":
			_, err = h.engine.Borrow("DAI", addr(step.account), units(step.amount), step.max)
		case "withdraw":
			_, err = h.engine.Withdraw("DAI", addr(step.account), units(step.amount), step.max)
		case "repay":
			_, err = h.engine.Repay("DAI", addr(step.account), units(step.amount), step.max)
		}
		if err != nil {
			t.Fatalf("step %d %s: %v", i, step.op, err)
		}

		gap := new(big.Int).Abs(h.identityGap(t, "DAI"))
		if gap.Cmp(big.NewInt(1_000_000)) > 0 {
			t.Fatalf("step %d %s: identity gap %s too large", i, step.op, gap)
		}
		m, err := h.engine.MarketSnapshot("DAI")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.Indexes.P2PSupply.Cmp(m.Indexes.P2PBorrow) > 0 {
			t.Fatalf("step %d: supply index above borrow index", i)
		}
	}
}

func i64(i int) int64 { return int64(i) }
