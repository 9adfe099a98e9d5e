package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// closeFactor returns the share of debt repayable in one liquidation.
// Deprecated markets may be closed out entirely.
func closeFactor(m *Market) uint64 {
	if m.Deprecated {
		return 10_000
	}
	return m.Params.CloseFactorBps
}

// computeSeize sizes a liquidation of borrower against the working state of
// both markets. repay is clamped to the close factor; seize is expressed in collateral
// units and capped at the borrower's collateral, in which case repay is
// scaled down proportionally.
func (e *Engine) computeSeize(borrowed, collateral *marketTx, borrower common.Address, amount *big.Int) (*big.Int, *big.Int, error) {
	debt := borrowed.value(borrower, SideBorrow).Total
	if debt.Sign() == 0 {
		return new(big.Int), new(big.Int), nil
	}
	repay := minBig(amount, bpsMul(debt, closeFactor(borrowed.market)))
	if collateral.market.Params.LiquidationThresholdBps == 0 || repay.Sign() == 0 {
		return new(big.Int), new(big.Int), nil
	}

	borrowedPrice, err := e.price(borrowed.id())
	if err != nil {
		return nil, nil, err
	}
	collateralPrice, err := e.price(collateral.id())
	if err != nil {
		return nil, nil, err
	}
	if collateralPrice.Sign() == 0 {
		return nil, nil, fmt.Errorf("%w: %s: zero collateral price", ErrOraclePrice, collateral.id())
	}

	numerator := new(big.Int).Mul(repay, borrowedPrice)
	numerator.Mul(numerator, new(big.Int).SetUint64(collateral.market.Params.bonusBps()))
	numerator.Mul(numerator, pow10(collateral.market.Params.Decimals))
	denominator := new(big.Int).Mul(pow10(borrowed.market.Params.Decimals), basisPoints)
	denominator.Mul(denominator, collateralPrice)
	seize := numerator.Quo(numerator, denominator)

	available := collateral.value(borrower, SideSupply).Total
	if seize.Cmp(available) > 0 {
		if seize.Sign() > 0 {
			repay = mulDiv(repay, available, seize)
		}
		seize = new(big.Int).Set(available)
	}
	return repay, seize, nil
}

// ComputeSeize returns the debt repaid and collateral seized if liquidator
// offered amount of the borrowed asset against borrower.
func (e *Engine) ComputeSeize(borrowedMarket, collateralMarket string, borrower common.Address, amount *big.Int) (*big.Int, *big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrAmountZero
	}
	t := e.begin()
	borrowed, err := t.market(NormalizeMarket(borrowedMarket))
	if err != nil {
		return nil, nil, err
	}
	collateral, err := t.market(NormalizeMarket(collateralMarket))
	if err != nil {
		return nil, nil, err
	}
	return e.computeSeize(borrowed, collateral, borrower, amount)
}

// CheckCloseFactor rejects a repayment that exceeds the close factor of the
// borrower's debt in market.
func (e *Engine) CheckCloseFactor(market string, borrower common.Address, amount *big.Int) error {
	t := e.begin()
	m, err := t.market(NormalizeMarket(market))
	if err != nil {
		return err
	}
	debt := m.value(borrower, SideBorrow).Total
	limit := bpsMul(debt, closeFactor(m.market))
	if amount != nil && amount.Cmp(limit) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrAboveCloseFactor, amount, limit)
	}
	return nil
}

// Liquidate repays part of borrower's debt in borrowedMarket on behalf of
// liquidator and transfers the matching collateral, plus bonus, out of the
// borrower's supply in collateralMarket.
func (e *Engine) Liquidate(borrowedMarket, collateralMarket string, liquidator, borrower common.Address, amount *big.Int, maxMatches int) (*LiquidationReceipt, error) {
	borrowedID, err := e.precheck(borrowedMarket, liquidator, amount, ActionLiquidate)
	if err != nil {
		return nil, err
	}
	collateralID, err := e.precheck(collateralMarket, liquidator, amount, ActionLiquidate)
	if err != nil {
		return nil, err
	}
	if borrower == (common.Address{}) || borrower == liquidator {
		return nil, fmt.Errorf("%w: invalid borrower", ErrUnknownAccount)
	}

	t := e.begin()
	borrowed, err := t.market(borrowedID)
	if err != nil {
		return nil, err
	}
	collateral, err := t.market(collateralID)
	if err != nil {
		return nil, err
	}
	if borrowed.value(borrower, SideBorrow).Total.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDebt, borrowedID)
	}
	if !borrowed.market.Deprecated {
		h, err := e.health(t, borrower, false)
		if err != nil {
			return nil, err
		}
		if !h.Liquidatable() {
			return nil, ErrNotLiquidatable
		}
	}

	repay, seize, err := e.computeSeize(borrowed, collateral, borrower, amount)
	if err != nil {
		return nil, err
	}
	if seize.Sign() == 0 || repay.Sign() == 0 {
		return nil, fmt.Errorf("%w: nothing to seize in %s", ErrInsufficientCollateral, collateralID)
	}

	repayReceipt := newReceipt(string(ActionRepay), borrowedID, borrower)
	if err := e.repayLogic(t, borrowed, borrower, repay, maxMatches, repayReceipt); err != nil {
		return nil, err
	}
	seizeReceipt := newReceipt(string(ActionWithdraw), collateralID, borrower)
	if err := e.withdrawLogic(t, collateral, borrower, seize, maxMatches, seizeReceipt); err != nil {
		return nil, err
	}
	if err := t.commit(); err != nil {
		return nil, err
	}
	e.log().Info("lending liquidation executed",
		"liquidator", liquidator.Hex(),
		"borrower", borrower.Hex(),
		"borrowed", borrowedID,
		"collateral", collateralID,
		"repaid", repayReceipt.Amount.String(),
		"seized", seize.String())
	return &LiquidationReceipt{
		Liquidator:       liquidator,
		Borrower:         borrower,
		BorrowedMarket:   borrowedID,
		CollateralMarket: collateralID,
		Repaid:           new(big.Int).Set(repayReceipt.Amount),
		Seized:           seize,
		Repay:            repayReceipt,
		Seize:            seizeReceipt,
	}, nil
}
