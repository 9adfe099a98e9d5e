package ranking

import (
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func walk(l *List) []common.Address {
	var out []common.Address
	cur, ok := l.Head()
	for ok {
		out = append(out, cur)
		cur, ok = l.Next(cur)
	}
	return out
}

func TestListOrdersDescendingWithStableTies(t *testing.T) {
	l := NewList(0)
	l.Upsert(addr(1), big.NewInt(50))
	l.Upsert(addr(2), big.NewInt(100))
	l.Upsert(addr(3), big.NewInt(50))
	l.Upsert(addr(4), big.NewInt(75))

	if !reflect.DeepEqual(walk(l), []common.Address{addr(2), addr(4), addr(1), addr(3)}) {
		t.Fatalf("expected %v, got %v", []common.Address{addr(2), addr(4), addr(1), addr(3)}, walk(l))
	}
	if l.Len() != 4 {
		t.Fatalf("expected %v, got %v", 4, l.Len())
	}
}

func TestListUpdateRepositions(t *testing.T) {
	l := NewList(0)
	l.Upsert(addr(1), big.NewInt(10))
	l.Upsert(addr(2), big.NewInt(20))
	l.Upsert(addr(3), big.NewInt(30))

	l.Upsert(addr(1), big.NewInt(40))
	if !reflect.DeepEqual(walk(l), []common.Address{addr(1), addr(3), addr(2)}) {
		t.Fatalf("expected %v, got %v", []common.Address{addr(1), addr(3), addr(2)}, walk(l))
	}

	l.Upsert(addr(3), big.NewInt(5))
	if !reflect.DeepEqual(walk(l), []common.Address{addr(1), addr(2), addr(3)}) {
		t.Fatalf("expected %v, got %v", []common.Address{addr(1), addr(2), addr(3)}, walk(l))
	}
}

func TestListZeroBalanceRemoves(t *testing.T) {
	l := NewList(0)
	l.Upsert(addr(1), big.NewInt(10))
	l.Upsert(addr(1), big.NewInt(0))
	if l.Contains(addr(1)) {
		t.Fatalf("expected zero balance to remove the entry")
	}
	if _, ok := l.Head(); ok {
		t.Fatalf("expected empty list")
	}

	// removing an unknown account is a no-op
	l.Remove(addr(9))
	if l.Len() != 0 {
		t.Fatalf("expected empty list, got %d entries", l.Len())
	}
}

func TestListCapacityOverflowAndPromotion(t *testing.T) {
	l := NewList(2)
	l.Upsert(addr(1), big.NewInt(40))
	l.Upsert(addr(2), big.NewInt(40))
	l.Upsert(addr(3), big.NewInt(40))
	l.Upsert(addr(4), big.NewInt(10))

	if !reflect.DeepEqual(walk(l), []common.Address{addr(1), addr(2)}) {
		t.Fatalf("expected %v, got %v", []common.Address{addr(1), addr(2)}, walk(l))
	}
	if l.OverflowLen() != 2 {
		t.Fatalf("expected %v, got %v", 2, l.OverflowLen())
	}

	_, ranked, tracked := l.Balance(addr(3))
	if !tracked {
		t.Fatalf("expected account to be tracked")
	}
	if ranked {
		t.Fatalf("expected account in the overflow tail")
	}

	// FIFO promotion when a ranked entry leaves.
	l.Remove(addr(1))
	if !reflect.DeepEqual(walk(l), []common.Address{addr(2), addr(3)}) {
		t.Fatalf("expected %v, got %v", []common.Address{addr(2), addr(3)}, walk(l))
	}
	if l.OverflowLen() != 1 {
		t.Fatalf("expected %v, got %v", 1, l.OverflowLen())
	}
}

func TestListLargerNewcomerDemotesTail(t *testing.T) {
	l := NewList(2)
	l.Upsert(addr(1), big.NewInt(30))
	l.Upsert(addr(2), big.NewInt(20))
	l.Upsert(addr(3), big.NewInt(5))
	l.Upsert(addr(4), big.NewInt(25))

	if !reflect.DeepEqual(walk(l), []common.Address{addr(1), addr(4)}) {
		t.Fatalf("expected %v, got %v", []common.Address{addr(1), addr(4)}, walk(l))
	}

	// The demoted tail sits ahead of older overflow entries.
	l.Remove(addr(1))
	if !reflect.DeepEqual(walk(l), []common.Address{addr(4), addr(2)}) {
		t.Fatalf("expected %v, got %v", []common.Address{addr(4), addr(2)}, walk(l))
	}
}

func TestListOverflowEntryGrowingPastTailIsRanked(t *testing.T) {
	l := NewList(1)
	l.Upsert(addr(1), big.NewInt(30))
	l.Upsert(addr(2), big.NewInt(10))
	if !reflect.DeepEqual(walk(l), []common.Address{addr(1)}) {
		t.Fatalf("expected %v, got %v", []common.Address{addr(1)}, walk(l))
	}

	l.Upsert(addr(2), big.NewInt(31))
	if !reflect.DeepEqual(walk(l), []common.Address{addr(2)}) {
		t.Fatalf("expected %v, got %v", []common.Address{addr(2)}, walk(l))
	}
	_, ranked, tracked := l.Balance(addr(1))
	if !tracked {
		t.Fatalf("expected account to be tracked")
	}
	if ranked {
		t.Fatalf("expected account in the overflow tail")
	}
}

func TestListSetCapacity(t *testing.T) {
	l := NewList(0)
	for i := byte(1); i <= 5; i++ {
		l.Upsert(addr(i), big.NewInt(int64(100-i)))
	}
	l.SetCapacity(3)
	if !reflect.DeepEqual(walk(l), []common.Address{addr(1), addr(2), addr(3)}) {
		t.Fatalf("expected %v, got %v", []common.Address{addr(1), addr(2), addr(3)}, walk(l))
	}
	if l.OverflowLen() != 2 {
		t.Fatalf("expected %v, got %v", 2, l.OverflowLen())
	}

	l.SetCapacity(4)
	if !reflect.DeepEqual(walk(l), []common.Address{addr(1), addr(2), addr(3), addr(4)}) {
		t.Fatalf("expected %v, got %v", []common.Address{addr(1), addr(2), addr(3), addr(4)}, walk(l))
	}
	if l.OverflowLen() != 1 {
		t.Fatalf("expected %v, got %v", 1, l.OverflowLen())
	}
}

func TestListReusesFreedSlots(t *testing.T) {
	l := NewList(0)
	for i := byte(1); i <= 4; i++ {
		l.Upsert(addr(i), big.NewInt(int64(i)))
	}
	l.Remove(addr(2))
	l.Remove(addr(3))
	l.Upsert(addr(5), big.NewInt(3))
	l.Upsert(addr(6), big.NewInt(2))

	if len(l.nodes) != 4 {
		t.Fatalf("expected %d entries, got %d", 4, len(l.nodes))
	}
	if !reflect.DeepEqual(walk(l), []common.Address{addr(4), addr(5), addr(6), addr(1)}) {
		t.Fatalf("expected %v, got %v", []common.Address{addr(4), addr(5), addr(6), addr(1)}, walk(l))
	}
}

func TestListNextOfUnrankedAccount(t *testing.T) {
	l := NewList(1)
	l.Upsert(addr(1), big.NewInt(2))
	l.Upsert(addr(2), big.NewInt(1))

	if _, ok := l.Next(addr(2)); ok {
		t.Fatalf("expected no successor for an unranked account")
	}
	if _, ok := l.Next(addr(1)); ok {
		t.Fatalf("expected no successor for the last ranked account")
	}
}

func TestRankedLimit(t *testing.T) {
	l := NewList(0)
	for i := byte(1); i <= 3; i++ {
		l.Upsert(addr(i), big.NewInt(int64(i)))
	}
	entries := l.Ranked(2)
	if len(entries) != 2 {
		t.Fatalf("expected %d entries, got %d", 2, len(entries))
	}
	if entries[0].Account != addr(3) {
		t.Fatalf("expected %v, got %v", addr(3), entries[0].Account)
	}
	if entries[1].Balance.Int64() != int64(2) {
		t.Fatalf("expected %v, got %v", int64(2), entries[1].Balance.Int64())
	}
}
