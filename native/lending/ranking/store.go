package ranking

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Kind selects one of the four rankings kept per market.
type Kind uint8

const (
	SupplierInP2P Kind = iota
	SupplierOnPool
	BorrowerInP2P
	BorrowerOnPool
	numKinds
)

// Kinds lists every ranking kind in a stable order.
var Kinds = [...]Kind{SupplierInP2P, SupplierOnPool, BorrowerInP2P, BorrowerOnPool}

func (k Kind) String() string {
	switch k {
	case SupplierInP2P:
		return "supplier-in-p2p"
	case SupplierOnPool:
		return "supplier-on-pool"
	case BorrowerInP2P:
		return "borrower-in-p2p"
	case BorrowerOnPool:
		return "borrower-on-pool"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind resolves the textual form produced by String.
func ParseKind(value string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, kind := range Kinds {
		if kind.String() == normalized {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("ranking: unknown kind %q", value)
}

// Store keeps the rankings of every market. It is not safe for concurrent
// use; callers serialise access.
type Store struct {
	capacity int
	markets  map[string]*[numKinds]*List
}

// NewStore creates a store whose lists default to capacity ranked entries.
func NewStore(capacity int) *Store {
	return &Store{capacity: capacity, markets: make(map[string]*[numKinds]*List)}
}

func (s *Store) lists(market string, create bool) *[numKinds]*List {
	lists, ok := s.markets[market]
	if ok || !create {
		return lists
	}
	lists = new([numKinds]*List)
	for i := range lists {
		lists[i] = NewList(s.capacity)
	}
	s.markets[market] = lists
	return lists
}

// List returns the list backing (market, kind), or nil when the market has
// never been touched.
func (s *Store) List(market string, kind Kind) *List {
	if kind >= numKinds {
		return nil
	}
	lists := s.lists(market, false)
	if lists == nil {
		return nil
	}
	return lists[kind]
}

// Upsert records the balance of account in the given ranking.
func (s *Store) Upsert(market string, kind Kind, account common.Address, balance *big.Int) {
	if kind >= numKinds {
		return
	}
	if balance == nil || balance.Sign() <= 0 {
		s.Remove(market, kind, account)
		return
	}
	s.lists(market, true)[kind].Upsert(account, balance)
}

// Remove drops account from the given ranking.
func (s *Store) Remove(market string, kind Kind, account common.Address) {
	if list := s.List(market, kind); list != nil {
		list.Remove(account)
	}
}

// Head returns the largest ranked account.
func (s *Store) Head(market string, kind Kind) (common.Address, bool) {
	list := s.List(market, kind)
	if list == nil {
		return common.Address{}, false
	}
	return list.Head()
}

// Next returns the ranked account after account.
func (s *Store) Next(market string, kind Kind, account common.Address) (common.Address, bool) {
	list := s.List(market, kind)
	if list == nil {
		return common.Address{}, false
	}
	return list.Next(account)
}

// SetCapacity resizes the four rankings of market.
func (s *Store) SetCapacity(market string, capacity int) {
	for _, list := range s.lists(market, true) {
		list.SetCapacity(capacity)
	}
}

// DropMarket forgets every ranking for market.
func (s *Store) DropMarket(market string) {
	delete(s.markets, market)
}
