// Package fixedpoint implements the ray-precision (1e27) fixed point
// arithmetic used throughout the market accounting core to convert between
// scaled and normalized units and to derive per-second interest rates from
// annualized basis points.
package fixedpoint

import (
	"errors"
	"math/big"
)

// ErrArithmetic is returned when an operation is given a nil or negative
// operand or a zero divisor. Results are arbitrary-precision big.Ints and no
// upper bound is enforced, so no operation reports overflow.
var ErrArithmetic = errors.New("fixedpoint: arithmetic error")

// Ray is the fixed point base, 10^27.
var Ray = mustBigInt("1000000000000000000000000000")

var halfRay = new(big.Int).Rsh(Ray, 1)

// SecondsPerYear is the divisor used to annualize basis-point rates.
const SecondsPerYear = 365 * 86400

var secondsPerYear = big.NewInt(SecondsPerYear)

// BasisPointsDenominator is the scale for basis-point percentages (1/10000).
var BasisPointsDenominator = big.NewInt(10_000)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("fixedpoint: invalid constant " + value)
	}
	return v
}

// RayMul computes round((a*b)/Ray), the ray-precision multiplication defined
// in spec.md 4.1.
func RayMul(a, b *big.Int) (*big.Int, error) {
	if a == nil || b == nil {
		return nil, ErrArithmetic
	}
	if a.Sign() < 0 || b.Sign() < 0 {
		return nil, ErrArithmetic
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	product.Quo(product, Ray)
	return product, nil
}

// RayDiv computes round((a*Ray)/b), the ray-precision division defined in
// spec.md 4.1.
func RayDiv(a, b *big.Int) (*big.Int, error) {
	if a == nil || b == nil || b.Sign() == 0 {
		return nil, ErrArithmetic
	}
	if a.Sign() < 0 || b.Sign() < 0 {
		return nil, ErrArithmetic
	}
	numerator := new(big.Int).Mul(a, Ray)
	numerator.Add(numerator, halfUp(b))
	result := new(big.Int).Quo(numerator, b)
	return result, nil
}

// AnnualBipsToRayPerSecond converts an annualized basis-point rate into a
// ray-scaled per-second rate: bips * Ray / (10000 * SecondsPerYear).
func AnnualBipsToRayPerSecond(bips uint64) (*big.Int, error) {
	numerator := new(big.Int).Mul(new(big.Int).SetUint64(bips), Ray)
	denominator := new(big.Int).Mul(BasisPointsDenominator, secondsPerYear)
	half := halfUp(denominator)
	numerator.Add(numerator, half)
	return new(big.Int).Quo(numerator, denominator), nil
}

// SatSub computes max(0, a-b), the saturating subtraction defined in
// spec.md 4.1.
func SatSub(a, b *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	if b == nil {
		return new(big.Int).Set(a)
	}
	diff := new(big.Int).Sub(a, b)
	if diff.Sign() < 0 {
		return big.NewInt(0)
	}
	return diff
}

func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	half := new(big.Int).Add(x, big.NewInt(1))
	half.Rsh(half, 1)
	return half
}

// Min returns the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
