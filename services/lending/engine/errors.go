package engine

import (
	"errors"
	"fmt"

	nativecommon "peerlend/native/common"
	"peerlend/native/lending"
	"peerlend/native/lending/pool"
)

var (
	ErrNotFound               = errors.New("lending: not found")
	ErrConflict               = errors.New("lending: conflict")
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral")
	ErrInsufficientLiquidity  = errors.New("lending: insufficient liquidity")
	ErrNotLiquidatable        = errors.New("lending: borrower not liquidatable")
	ErrPaused                 = errors.New("lending: operation paused")
	ErrInvalidAmount          = errors.New("lending: invalid amount")
	ErrInvalidArgument        = errors.New("lending: invalid argument")
	ErrUnauthorized           = errors.New("lending: unauthorized")
	ErrUnavailable            = errors.New("lending: dependency unavailable")
	ErrInternal               = errors.New("lending: internal error")
)

// translate maps engine and adapter failures onto the service sentinels,
// keeping the original message for callers.
func translate(err error) error {
	if err == nil {
		return nil
	}
	target := classify(err)
	if target == ErrInternal {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return fmt.Errorf("%w: %v", target, err)
}

func classify(err error) error {
	switch {
	case errors.Is(err, lending.ErrMarketNotCreated), errors.Is(err, pool.ErrUnknownMarket):
		return ErrNotFound
	case errors.Is(err, lending.ErrMarketExists):
		return ErrConflict
	case errors.Is(err, lending.ErrMarketPaused), errors.Is(err, lending.ErrMarketDeprecated),
		errors.Is(err, nativecommon.ErrModulePaused):
		return ErrPaused
	case errors.Is(err, lending.ErrAmountZero):
		return ErrInvalidAmount
	case errors.Is(err, lending.ErrUnknownAccount), errors.Is(err, lending.ErrAboveCloseFactor),
		errors.Is(err, lending.ErrInvalidParams), errors.Is(err, lending.ErrDeprecateUnpaused),
		errors.Is(err, lending.ErrNoDebt):
		return ErrInvalidArgument
	case errors.Is(err, lending.ErrInsufficientCollateral):
		return ErrInsufficientCollateral
	case errors.Is(err, lending.ErrNotLiquidatable):
		return ErrNotLiquidatable
	case errors.Is(err, lending.ErrInsufficientLiquidity):
		return ErrInsufficientLiquidity
	case errors.Is(err, lending.ErrOraclePrice), errors.Is(err, lending.ErrPoolNotConfigured):
		return ErrUnavailable
	default:
		return ErrInternal
	}
}
