package lending

import "errors"

var (
	ErrAmountZero             = errors.New("lending engine: amount must be positive")
	ErrMarketNotCreated       = errors.New("lending engine: market not created")
	ErrMarketExists           = errors.New("lending engine: market already created")
	ErrMarketDeprecated       = errors.New("lending engine: market deprecated")
	ErrMarketPaused           = errors.New("lending engine: market action paused")
	ErrUnknownAccount         = errors.New("lending engine: unknown account")
	ErrInsufficientLiquidity  = errors.New("lending engine: insufficient liquidity")
	ErrInsufficientCollateral = errors.New("lending engine: insufficient collateral")
	ErrNotLiquidatable        = errors.New("lending engine: borrower not eligible for liquidation")
	ErrAboveCloseFactor       = errors.New("lending engine: repay above close factor")
	ErrNoDebt                 = errors.New("lending engine: no outstanding debt to repay")
	ErrOraclePrice            = errors.New("lending engine: oracle price unavailable")
	ErrPoolNotConfigured      = errors.New("lending engine: pool adapter not configured")
	ErrInvalidParams          = errors.New("lending engine: invalid market parameters")
	ErrDeprecateUnpaused      = errors.New("lending engine: borrow must be paused before deprecation")
)
