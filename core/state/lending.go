package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"peerlend/native/lending"
	"peerlend/storage"
)

var (
	lendingMarketListKeyBytes = []byte("lending/markets")
	lendingMarketPrefix       = []byte("lending/market/")
	lendingAccountsPrefix     = []byte("lending/accounts/")
	lendingPositionPrefix     = []byte("lending/position/")
)

var errNegativeBalance = errors.New("state: negative balance not allowed")

func lendingMarketListKey() []byte {
	return crypto.Keccak256(lendingMarketListKeyBytes)
}

func lendingMarketKey(id string) []byte {
	buf := make([]byte, len(lendingMarketPrefix)+len(id))
	copy(buf, lendingMarketPrefix)
	copy(buf[len(lendingMarketPrefix):], id)
	return crypto.Keccak256(buf)
}

func lendingAccountsKey(id string, side lending.Side) []byte {
	buf := make([]byte, 0, len(lendingAccountsPrefix)+len(id)+2)
	buf = append(buf, lendingAccountsPrefix...)
	buf = append(buf, id...)
	buf = append(buf, '/', byte(side))
	return crypto.Keccak256(buf)
}

func lendingPositionKey(id string, side lending.Side, account common.Address) []byte {
	buf := make([]byte, 0, len(lendingPositionPrefix)+len(id)+2+common.AddressLength)
	buf = append(buf, lendingPositionPrefix...)
	buf = append(buf, id...)
	buf = append(buf, '/', byte(side))
	buf = append(buf, account.Bytes()...)
	return crypto.Keccak256(buf)
}

type storedMarket struct {
	ID                      string
	Decimals                uint8
	LTVBps                  uint64
	LiquidationThresholdBps uint64
	LiquidationBonusBps     uint64
	CloseFactorBps          uint64
	ReserveFactorBps        uint64
	P2PIndexCursorBps       uint64
	MaxRankedSize           uint64
	PoolSupplyIndex         *uint256.Int
	PoolBorrowIndex         *uint256.Int
	P2PSupplyIndex          *uint256.Int
	P2PBorrowIndex          *uint256.Int
	LastUpdateBlock         uint64
	SupplyDelta             *uint256.Int
	BorrowDelta             *uint256.Int
	P2PSupplyAmount         *uint256.Int
	P2PBorrowAmount         *uint256.Int
	PauseSupply             bool
	PauseBorrow             bool
	PauseWithdraw           bool
	PauseRepay              bool
	PauseLiquidate          bool
	Deprecated              bool
	P2PDisabled             bool
}

type storedPosition struct {
	OnPool *uint256.Int
	InP2P  *uint256.Int
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, errNegativeBalance
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("state: value %s overflows 256 bits", v)
	}
	return out, nil
}

func fromUint256(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func encodeMarket(m *lending.Market) ([]byte, error) {
	values := []*big.Int{
		m.Indexes.PoolSupply, m.Indexes.PoolBorrow, m.Indexes.P2PSupply, m.Indexes.P2PBorrow,
		m.Deltas.SupplyDelta, m.Deltas.BorrowDelta, m.Deltas.P2PSupplyAmount, m.Deltas.P2PBorrowAmount,
	}
	converted := make([]*uint256.Int, len(values))
	for i, v := range values {
		out, err := toUint256(v)
		if err != nil {
			return nil, fmt.Errorf("state: market %s: %w", m.ID, err)
		}
		converted[i] = out
	}
	record := storedMarket{
		ID:                      m.ID,
		Decimals:                m.Params.Decimals,
		LTVBps:                  m.Params.LTVBps,
		LiquidationThresholdBps: m.Params.LiquidationThresholdBps,
		LiquidationBonusBps:     m.Params.LiquidationBonusBps,
		CloseFactorBps:          m.Params.CloseFactorBps,
		ReserveFactorBps:        m.Params.ReserveFactorBps,
		P2PIndexCursorBps:       m.Params.P2PIndexCursorBps,
		MaxRankedSize:           m.Params.MaxRankedSize,
		PoolSupplyIndex:         converted[0],
		PoolBorrowIndex:         converted[1],
		P2PSupplyIndex:          converted[2],
		P2PBorrowIndex:          converted[3],
		LastUpdateBlock:         m.Indexes.LastUpdateBlock,
		SupplyDelta:             converted[4],
		BorrowDelta:             converted[5],
		P2PSupplyAmount:         converted[6],
		P2PBorrowAmount:         converted[7],
		PauseSupply:             m.Pauses.Supply,
		PauseBorrow:             m.Pauses.Borrow,
		PauseWithdraw:           m.Pauses.Withdraw,
		PauseRepay:              m.Pauses.Repay,
		PauseLiquidate:          m.Pauses.Liquidate,
		Deprecated:              m.Deprecated,
		P2PDisabled:             m.P2PDisabled,
	}
	return rlp.EncodeToBytes(&record)
}

func decodeMarket(data []byte) (*lending.Market, error) {
	var record storedMarket
	if err := rlp.DecodeBytes(data, &record); err != nil {
		return nil, err
	}
	return &lending.Market{
		ID: record.ID,
		Params: lending.MarketParams{
			Decimals:                record.Decimals,
			LTVBps:                  record.LTVBps,
			LiquidationThresholdBps: record.LiquidationThresholdBps,
			LiquidationBonusBps:     record.LiquidationBonusBps,
			CloseFactorBps:          record.CloseFactorBps,
			ReserveFactorBps:        record.ReserveFactorBps,
			P2PIndexCursorBps:       record.P2PIndexCursorBps,
			MaxRankedSize:           record.MaxRankedSize,
		},
		Indexes: lending.Indexes{
			PoolSupply:      fromUint256(record.PoolSupplyIndex),
			PoolBorrow:      fromUint256(record.PoolBorrowIndex),
			P2PSupply:       fromUint256(record.P2PSupplyIndex),
			P2PBorrow:       fromUint256(record.P2PBorrowIndex),
			LastUpdateBlock: record.LastUpdateBlock,
		},
		Deltas: lending.Deltas{
			SupplyDelta:     fromUint256(record.SupplyDelta),
			BorrowDelta:     fromUint256(record.BorrowDelta),
			P2PSupplyAmount: fromUint256(record.P2PSupplyAmount),
			P2PBorrowAmount: fromUint256(record.P2PBorrowAmount),
		},
		Pauses: lending.ActionPauses{
			Supply:    record.PauseSupply,
			Borrow:    record.PauseBorrow,
			Withdraw:  record.PauseWithdraw,
			Repay:     record.PauseRepay,
			Liquidate: record.PauseLiquidate,
		},
		Deprecated:  record.Deprecated,
		P2PDisabled: record.P2PDisabled,
	}, nil
}

// LendingStore persists the matching engine state in a key-value database.
// Markets and positions are RLP records under keccak hashed keys; every
// market keeps a sorted account index per side so positions can be listed
// on load.
type LendingStore struct {
	mu sync.Mutex
	db storage.Database
}

// NewLendingStore returns a store backed by db.
func NewLendingStore(db storage.Database) *LendingStore {
	return &LendingStore{db: db}
}

func (s *LendingStore) get(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	return true, rlp.DecodeBytes(data, out)
}

func (s *LendingStore) marketIDs() ([]string, error) {
	var ids []string
	if _, err := s.get(lendingMarketListKey(), &ids); err != nil {
		return nil, fmt.Errorf("state: load market list: %w", err)
	}
	return ids, nil
}

func (s *LendingStore) accounts(id string, side lending.Side) ([][]byte, error) {
	var list [][]byte
	if _, err := s.get(lendingAccountsKey(id, side), &list); err != nil {
		return nil, fmt.Errorf("state: load %s %s accounts: %w", id, side, err)
	}
	return list, nil
}

type indexKey struct {
	market string
	side   lending.Side
}

// Commit implements lending.Persister. All records land in one batch.
func (s *LendingStore) Commit(markets []*lending.Market, positions []lending.PositionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := storage.NewBatch()
	ids, err := s.marketIDs()
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	listChanged := false
	for _, market := range markets {
		if market == nil {
			continue
		}
		encoded, err := encodeMarket(market)
		if err != nil {
			return err
		}
		batch.Put(lendingMarketKey(market.ID), encoded)
		if _, ok := known[market.ID]; !ok {
			known[market.ID] = struct{}{}
			ids = append(ids, market.ID)
			listChanged = true
		}
	}
	if listChanged {
		sort.Strings(ids)
		encoded, err := rlp.EncodeToBytes(ids)
		if err != nil {
			return err
		}
		batch.Put(lendingMarketListKey(), encoded)
	}

	indexes := make(map[indexKey]map[common.Address]bool)
	for _, record := range positions {
		key := indexKey{market: record.Market, side: record.Side}
		members, ok := indexes[key]
		if !ok {
			list, err := s.accounts(record.Market, record.Side)
			if err != nil {
				return err
			}
			members = make(map[common.Address]bool, len(list))
			for _, raw := range list {
				members[common.BytesToAddress(raw)] = true
			}
			indexes[key] = members
		}
		posKey := lendingPositionKey(record.Market, record.Side, record.Account)
		if record.Position.IsZero() {
			batch.Delete(posKey)
			delete(members, record.Account)
			continue
		}
		onPool, err := toUint256(record.Position.OnPool)
		if err != nil {
			return fmt.Errorf("state: position %s: %w", record.Account.Hex(), err)
		}
		inP2P, err := toUint256(record.Position.InP2P)
		if err != nil {
			return fmt.Errorf("state: position %s: %w", record.Account.Hex(), err)
		}
		encoded, err := rlp.EncodeToBytes(&storedPosition{OnPool: onPool, InP2P: inP2P})
		if err != nil {
			return err
		}
		batch.Put(posKey, encoded)
		members[record.Account] = true
	}
	for key, members := range indexes {
		list := make([][]byte, 0, len(members))
		for account := range members {
			list = append(list, account.Bytes())
		}
		sort.Slice(list, func(i, j int) bool { return bytes.Compare(list[i], list[j]) < 0 })
		encoded, err := rlp.EncodeToBytes(list)
		if err != nil {
			return err
		}
		batch.Put(lendingAccountsKey(key.market, key.side), encoded)
	}
	return s.db.Write(batch)
}

// Load returns every persisted market and position, markets sorted by id.
func (s *LendingStore) Load() ([]*lending.Market, []lending.PositionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.marketIDs()
	if err != nil {
		return nil, nil, err
	}
	markets := make([]*lending.Market, 0, len(ids))
	var positions []lending.PositionRecord
	for _, id := range ids {
		data, err := s.db.Get(lendingMarketKey(id))
		if err != nil {
			return nil, nil, fmt.Errorf("state: load market %s: %w", id, err)
		}
		market, err := decodeMarket(data)
		if err != nil {
			return nil, nil, fmt.Errorf("state: decode market %s: %w", id, err)
		}
		markets = append(markets, market)
		for _, side := range []lending.Side{lending.SideSupply, lending.SideBorrow} {
			list, err := s.accounts(id, side)
			if err != nil {
				return nil, nil, err
			}
			for _, raw := range list {
				account := common.BytesToAddress(raw)
				var stored storedPosition
				ok, err := s.get(lendingPositionKey(id, side, account), &stored)
				if err != nil {
					return nil, nil, fmt.Errorf("state: decode position %s/%s/%s: %w", id, side, account.Hex(), err)
				}
				if !ok {
					continue
				}
				positions = append(positions, lending.PositionRecord{
					Market:  id,
					Account: account,
					Side:    side,
					Position: &lending.Position{
						OnPool: fromUint256(stored.OnPool),
						InP2P:  fromUint256(stored.InP2P),
					},
				})
			}
		}
	}
	return markets, positions, nil
}

// HasMarket reports whether id was ever committed.
func (s *LendingStore) HasMarket(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.marketIDs()
	if err != nil {
		return false, err
	}
	id = strings.ToUpper(strings.TrimSpace(id))
	for _, known := range ids {
		if known == id {
			return true, nil
		}
	}
	return false, nil
}
