package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	ray         = mustBigInt("1000000000000000000000000000") // 1e27 precision
	wad         = mustBigInt("1000000000000000000")          // 1e18 precision
)

// Ray returns a fresh copy of the 1e27 fixed-point unit used by every index.
func Ray() *big.Int { return new(big.Int).Set(ray) }

// Wad returns a fresh copy of the 1e18 unit used for health factors.
func Wad() *big.Int { return new(big.Int).Set(wad) }

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// rayMul multiplies two ray values truncating toward zero.
func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, ray)
}

// rayDiv divides a by b in ray precision truncating toward zero. Division by
// zero yields zero.
func rayDiv(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, ray)
	return numerator.Quo(numerator, b)
}

// rayDivUp divides a by b in ray precision rounding away from zero for
// non-negative operands. Division by zero yields zero.
func rayDivUp(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, ray)
	numerator.Add(numerator, b)
	numerator.Sub(numerator, big.NewInt(1))
	return numerator.Quo(numerator, b)
}

// bpsMul scales value by bps/10000 truncating toward zero.
func bpsMul(value *big.Int, bps uint64) *big.Int {
	if value == nil || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(value, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}

// mulDiv returns a*b/c truncating toward zero; c == 0 yields zero.
func mulDiv(a, b, c *big.Int) *big.Int {
	if a == nil || b == nil || c == nil || c.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}

// zeroFloorSub returns max(a-b, 0).
func zeroFloorSub(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(bigOrZero(a), bigOrZero(b))
	if out.Sign() < 0 {
		return out.SetInt64(0)
	}
	return out
}

func minBig(a, b *big.Int) *big.Int {
	if bigOrZero(a).Cmp(bigOrZero(b)) <= 0 {
		return new(big.Int).Set(bigOrZero(a))
	}
	return new(big.Int).Set(bigOrZero(b))
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// pow10 returns 10^n.
func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// toUnits converts an underlying amount to units of index. When amount covers
// the full value of balance the whole balance is returned so truncation never
// strands dust on a fully closed position.
func toUnits(amount, index, balance *big.Int) *big.Int {
	if balance != nil && amount.Cmp(rayMul(balance, index)) >= 0 {
		return cloneBig(balance)
	}
	units := rayDiv(amount, index)
	if balance != nil && units.Cmp(balance) > 0 {
		return cloneBig(balance)
	}
	return units
}

// toUnitsUp is toUnits rounding the burned units up, capped at balance. Used
// where an account takes underlying out of its own balance so that a partial
// exit never costs less than the value it releases.
func toUnitsUp(amount, index, balance *big.Int) *big.Int {
	if balance != nil && amount.Cmp(rayMul(balance, index)) >= 0 {
		return cloneBig(balance)
	}
	units := rayDivUp(amount, index)
	if balance != nil && units.Cmp(balance) > 0 {
		return cloneBig(balance)
	}
	return units
}
