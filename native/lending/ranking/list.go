package ranking

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const nilSlot = -1

// node is an arena slot. Ranked slots are chained in descending balance
// order; overflow slots are chained in FIFO order using the same links.
type node struct {
	account common.Address
	balance *big.Int
	ranked  bool
	prev    int
	next    int
}

// List is a bounded, descending ordered list of account balances backed by a
// slice arena. Accounts that do not fit within the capacity are parked in an
// overflow queue and are invisible to Head/Next until promoted.
type List struct {
	capacity int
	nodes    []node
	free     []int
	index    map[common.Address]int

	head, tail int
	size       int

	overflowHead, overflowTail int
	overflowSize               int
}

// NewList returns an empty list holding at most capacity ranked entries. A
// non-positive capacity leaves the list unbounded.
func NewList(capacity int) *List {
	return &List{
		capacity:     capacity,
		index:        make(map[common.Address]int),
		head:         nilSlot,
		tail:         nilSlot,
		overflowHead: nilSlot,
		overflowTail: nilSlot,
	}
}

// Len returns the number of ranked entries.
func (l *List) Len() int { return l.size }

// OverflowLen returns the number of tracked but unranked entries.
func (l *List) OverflowLen() int { return l.overflowSize }

// Capacity reports the configured ranked capacity.
func (l *List) Capacity() int { return l.capacity }

// Head returns the account with the largest ranked balance.
func (l *List) Head() (common.Address, bool) {
	if l.head == nilSlot {
		return common.Address{}, false
	}
	return l.nodes[l.head].account, true
}

// Next returns the ranked account following account. It reports false when
// account is the tail or is not ranked.
func (l *List) Next(account common.Address) (common.Address, bool) {
	slot, ok := l.index[account]
	if !ok || !l.nodes[slot].ranked {
		return common.Address{}, false
	}
	next := l.nodes[slot].next
	if next == nilSlot {
		return common.Address{}, false
	}
	return l.nodes[next].account, true
}

// Balance returns the tracked balance for account and whether it is ranked.
func (l *List) Balance(account common.Address) (*big.Int, bool, bool) {
	slot, ok := l.index[account]
	if !ok {
		return nil, false, false
	}
	n := l.nodes[slot]
	return new(big.Int).Set(n.balance), n.ranked, true
}

// Contains reports whether the account is tracked, ranked or not.
func (l *List) Contains(account common.Address) bool {
	_, ok := l.index[account]
	return ok
}

// Upsert records balance for account. A zero or nil balance removes it.
func (l *List) Upsert(account common.Address, balance *big.Int) {
	if balance == nil || balance.Sign() <= 0 {
		l.Remove(account)
		return
	}
	if slot, ok := l.index[account]; ok {
		n := &l.nodes[slot]
		if n.balance.Cmp(balance) == 0 {
			return
		}
		n.balance = new(big.Int).Set(balance)
		if n.ranked {
			l.unlinkRanked(slot)
			l.insertRanked(slot)
			return
		}
		if l.beatsTail(balance) {
			l.unlinkOverflow(slot)
			l.demoteTail()
			l.insertRanked(slot)
		}
		return
	}

	slot := l.alloc(node{account: account, balance: new(big.Int).Set(balance)})
	l.index[account] = slot
	switch {
	case !l.full():
		l.insertRanked(slot)
	case l.beatsTail(balance):
		l.demoteTail()
		l.insertRanked(slot)
	default:
		l.pushOverflowBack(slot)
	}
}

// Remove drops account from the list. The oldest overflow entry, if any, is
// promoted into the freed ranked position. Removing an unknown account is a
// no-op.
func (l *List) Remove(account common.Address) {
	slot, ok := l.index[account]
	if !ok {
		return
	}
	delete(l.index, account)
	if l.nodes[slot].ranked {
		l.unlinkRanked(slot)
		l.release(slot)
		l.fill()
		return
	}
	l.unlinkOverflow(slot)
	l.release(slot)
}

// SetCapacity changes the ranked capacity, demoting tail entries or promoting
// overflow entries to match.
func (l *List) SetCapacity(capacity int) {
	l.capacity = capacity
	for l.capacity > 0 && l.size > l.capacity {
		l.demoteTail()
	}
	l.fill()
}

// Entry is an (account, balance) pair exposed for diagnostics.
type Entry struct {
	Account common.Address
	Balance *big.Int
}

// Ranked returns at most limit ranked entries in order. A non-positive limit
// returns every ranked entry.
func (l *List) Ranked(limit int) []Entry {
	out := make([]Entry, 0, l.size)
	for slot := l.head; slot != nilSlot; slot = l.nodes[slot].next {
		if limit > 0 && len(out) == limit {
			break
		}
		n := l.nodes[slot]
		out = append(out, Entry{Account: n.account, Balance: new(big.Int).Set(n.balance)})
	}
	return out
}

func (l *List) full() bool {
	return l.capacity > 0 && l.size >= l.capacity
}

func (l *List) beatsTail(balance *big.Int) bool {
	if !l.full() {
		return true
	}
	if l.tail == nilSlot {
		return false
	}
	return balance.Cmp(l.nodes[l.tail].balance) > 0
}

func (l *List) alloc(n node) int {
	n.prev, n.next = nilSlot, nilSlot
	if last := len(l.free) - 1; last >= 0 {
		slot := l.free[last]
		l.free = l.free[:last]
		l.nodes[slot] = n
		return slot
	}
	l.nodes = append(l.nodes, n)
	return len(l.nodes) - 1
}

func (l *List) release(slot int) {
	l.nodes[slot] = node{prev: nilSlot, next: nilSlot}
	l.free = append(l.free, slot)
}

// insertRanked links slot after every entry with a balance greater than or
// equal to its own, so equal balances keep arrival order.
func (l *List) insertRanked(slot int) {
	n := &l.nodes[slot]
	n.ranked = true
	after := nilSlot
	for cur := l.head; cur != nilSlot; cur = l.nodes[cur].next {
		if l.nodes[cur].balance.Cmp(n.balance) < 0 {
			break
		}
		after = cur
	}
	n.prev = after
	if after == nilSlot {
		n.next = l.head
		l.head = slot
	} else {
		n.next = l.nodes[after].next
		l.nodes[after].next = slot
	}
	if n.next == nilSlot {
		l.tail = slot
	} else {
		l.nodes[n.next].prev = slot
	}
	l.size++
}

func (l *List) unlinkRanked(slot int) {
	n := &l.nodes[slot]
	if n.prev == nilSlot {
		l.head = n.next
	} else {
		l.nodes[n.prev].next = n.next
	}
	if n.next == nilSlot {
		l.tail = n.prev
	} else {
		l.nodes[n.next].prev = n.prev
	}
	n.prev, n.next = nilSlot, nilSlot
	n.ranked = false
	l.size--
}

// demoteTail moves the smallest ranked entry to the front of the overflow
// queue so it is the first candidate for promotion.
func (l *List) demoteTail() {
	slot := l.tail
	if slot == nilSlot {
		return
	}
	l.unlinkRanked(slot)
	l.pushOverflowFront(slot)
}

// fill promotes overflow entries while ranked capacity is available.
func (l *List) fill() {
	for l.overflowHead != nilSlot && !l.full() {
		slot := l.overflowHead
		l.unlinkOverflow(slot)
		l.insertRanked(slot)
	}
}

func (l *List) pushOverflowBack(slot int) {
	n := &l.nodes[slot]
	n.ranked = false
	n.next = nilSlot
	n.prev = l.overflowTail
	if l.overflowTail == nilSlot {
		l.overflowHead = slot
	} else {
		l.nodes[l.overflowTail].next = slot
	}
	l.overflowTail = slot
	l.overflowSize++
}

func (l *List) pushOverflowFront(slot int) {
	n := &l.nodes[slot]
	n.ranked = false
	n.prev = nilSlot
	n.next = l.overflowHead
	if l.overflowHead == nilSlot {
		l.overflowTail = slot
	} else {
		l.nodes[l.overflowHead].prev = slot
	}
	l.overflowHead = slot
	l.overflowSize++
}

func (l *List) unlinkOverflow(slot int) {
	n := &l.nodes[slot]
	if n.prev == nilSlot {
		l.overflowHead = n.next
	} else {
		l.nodes[n.prev].next = n.next
	}
	if n.next == nilSlot {
		l.overflowTail = n.prev
	} else {
		l.nodes[n.next].prev = n.prev
	}
	n.prev, n.next = nilSlot, nilSlot
	l.overflowSize--
}
