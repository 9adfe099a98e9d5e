package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	marketcfg "peerlend/config"
	"peerlend/core/state"
	nativecommon "peerlend/native/common"
	"peerlend/native/lending"
	"peerlend/native/lending/pool"
	"peerlend/services/lending/engine"
)

// simulation runs the matching engine on top of the in-memory pool and a
// static oracle, advancing the pool clock on every tick.
type simulation struct {
	pool   *pool.Memory
	oracle *pool.StaticOracle
	native *lending.Engine
	blocks uint64
	height uint64
	logger *slog.Logger
}

// newSimulation builds the pool, restores persisted engine state from store
// and creates the configured markets that do not exist yet.
func newSimulation(cfg *marketcfg.Config, store *state.LendingStore, logger *slog.Logger) (*simulation, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sim := &simulation{
		pool:   pool.NewMemory(cfg.Pool.RateModel()),
		oracle: pool.NewStaticOracle(),
		blocks: cfg.BlocksPerAccrual,
		logger: logger,
	}
	for _, market := range cfg.Markets {
		if err := sim.pool.Open(market.Symbol); err != nil {
			return nil, fmt.Errorf("open pool market %s: %w", market.Symbol, err)
		}
		price, err := pool.ParsePrice(cfg.Prices[market.Symbol])
		if err != nil {
			return nil, err
		}
		sim.oracle.Set(market.Symbol, price)
	}
	for symbol, raw := range cfg.Seed {
		amount, err := marketcfg.SeedAmount(raw)
		if err != nil {
			return nil, err
		}
		if amount.Sign() == 0 {
			continue
		}
		if err := sim.pool.Seed(symbol, amount); err != nil {
			return nil, fmt.Errorf("seed pool %s: %w", symbol, err)
		}
	}

	sim.native = lending.NewEngine(sim.pool, sim.oracle)
	sim.native.SetLogger(logger)

	markets, positions, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load lending state: %w", err)
	}
	if len(markets) > 0 {
		if err := sim.restore(markets, positions); err != nil {
			return nil, err
		}
	}
	sim.native.SetBlockHeight(sim.height)
	sim.native.SetPersister(store)
	if err := sim.native.Bootstrap(cfg.Markets); err != nil {
		return nil, fmt.Errorf("bootstrap markets: %w", err)
	}
	return sim, nil
}

// restore loads persisted state and replays the engine's pool exposure into
// the fresh pool so that withdrawals and repayments find their liquidity.
func (s *simulation) restore(markets []*lending.Market, positions []lending.PositionRecord) error {
	for _, market := range markets {
		if _, _, err := s.pool.Totals(market.ID); err != nil {
			if err := s.pool.Open(market.ID); err != nil {
				return fmt.Errorf("open pool market %s: %w", market.ID, err)
			}
			s.logger.Warn("restored market missing from config", "market", market.ID)
		}
		if err := s.pool.SetIndexes(market.ID, market.Indexes.PoolSupply, market.Indexes.PoolBorrow); err != nil {
			return fmt.Errorf("align pool indexes %s: %w", market.ID, err)
		}
		if market.Indexes.LastUpdateBlock > s.height {
			s.height = market.Indexes.LastUpdateBlock
		}
	}
	if err := s.native.Restore(markets, positions); err != nil {
		return fmt.Errorf("restore lending state: %w", err)
	}

	supplied := make(map[string]*big.Int)
	borrowed := make(map[string]*big.Int)
	for _, market := range markets {
		supplied[market.ID] = fromPoolUnits(market.Deltas.SupplyDelta, market.Indexes.PoolSupply)
		borrowed[market.ID] = fromPoolUnits(market.Deltas.BorrowDelta, market.Indexes.PoolBorrow)
	}
	for _, record := range positions {
		balances, err := s.native.PositionBalances(record.Market, record.Account, record.Side)
		if err != nil {
			return err
		}
		target := supplied
		if record.Side == lending.SideBorrow {
			target = borrowed
		}
		target[record.Market].Add(target[record.Market], balances.OnPool)
	}
	for _, market := range markets {
		if amount := supplied[market.ID]; amount.Sign() > 0 {
			if err := s.pool.Deposit(market.ID, amount); err != nil {
				return fmt.Errorf("replay pool supply %s: %w", market.ID, err)
			}
		}
		if amount := borrowed[market.ID]; amount.Sign() > 0 {
			if err := s.pool.Borrow(market.ID, amount); err != nil {
				s.logger.Warn("replay pool debt failed", "market", market.ID, "amount", amount.String(), "error", err)
			}
		}
	}
	s.logger.Info("lending state restored", "markets", len(markets), "positions", len(positions), "height", s.height)
	return nil
}

func fromPoolUnits(units, index *big.Int) *big.Int {
	if units == nil || index == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(units, index)
	return out.Quo(out, lending.Ray())
}

// tick advances the pool clock and refreshes the indexes of every market.
func (s *simulation) tick(ctx context.Context, adapter *engine.NodeAdapter) error {
	var markets []string
	err := adapter.Locked(func(e *lending.Engine) error {
		s.pool.Accrue(s.blocks)
		s.height += s.blocks
		e.SetBlockHeight(s.height)
		markets = e.Markets()
		return nil
	})
	if err != nil {
		return err
	}
	for _, market := range markets {
		if _, err := adapter.UpdateIndexes(ctx, market); err != nil {
			return fmt.Errorf("update indexes %s: %w", market, err)
		}
	}
	return nil
}

// haltSwitchboard pauses the listed markets for every action. "*" pauses the
// whole module.
func haltSwitchboard(halted []string) *nativecommon.Switchboard {
	board := nativecommon.NewSwitchboard()
	for _, market := range halted {
		if market == "*" {
			board.Set(lending.ModuleName, true)
			continue
		}
		board.Set(nativecommon.Scope(lending.ModuleName, market), true)
	}
	return board
}
