package numeric

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// DefaultTolerance is the absolute error accepted by ApproximateFraction when
// callers have no better bound. It is tight enough that common pixel aspect
// ratios (1/1, 4/3, 2/1) come out exactly.
const DefaultTolerance = 1e-6

// maxTerms bounds the continued-fraction expansion. Convergent denominators
// grow at least like the Fibonacci numbers, so 64 terms overflow int64 long
// before the limit is hit for any finite tolerance.
const maxTerms = 64

// ErrNotFinite is returned when a value cannot be approximated.
var ErrNotFinite = errors.New("value is not finite")

// ErrOutOfRange is returned for values too large for an int64 numerator.
var ErrOutOfRange = errors.New("value is out of range")

// Fraction is a rational number Numerator/Denominator with a positive
// denominator.
type Fraction struct {
	Numerator   int64
	Denominator int64
}

// String formats the fraction as "numerator/denominator".
func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Numerator, f.Denominator)
}

// Float returns the value of the fraction.
func (f Fraction) Float() float64 {
	return float64(f.Numerator) / float64(f.Denominator)
}

// ApproximateFraction finds the rational number with the smallest denominator
// that lies within tolerance of x.
//
// The search walks the continued-fraction expansion of x. Once a convergent
// falls within tolerance, the semiconvergents between it and the previous
// convergent are searched as well, since one of them may reach the tolerance
// with a smaller denominator.
//
// Parameters:
//   - x: The value to approximate
//   - tolerance: Maximum absolute error; values <= 0 fall back to DefaultTolerance
//
// Returns:
//   - The approximating fraction
//   - ErrNotFinite if x is NaN or infinite, ErrOutOfRange if |x| exceeds MaxInt64
func ApproximateFraction(x, tolerance float64) (Fraction, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return Fraction{}, ErrNotFinite
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	sign := int64(1)
	if x < 0 {
		sign = -1
		x = -x
	}

	// h/k are the convergent numerators/denominators; index 0 holds n-2 and
	// index 1 holds n-1.
	h := [2]int64{0, 1}
	k := [2]int64{1, 0}
	rem := x

	for i := 0; i < maxTerms; i++ {
		a := math.Floor(rem)
		if a > math.MaxInt32 {
			break
		}
		ai := int64(a)

		hn := ai*h[1] + h[0]
		kn := ai*k[1] + k[0]
		if kn <= 0 || hn < 0 {
			break
		}

		if math.Abs(float64(hn)/float64(kn)-x) <= tolerance {
			f := smallestSemiconvergent(x, tolerance, h, k, ai)
			if f.Denominator == 0 {
				f = Fraction{Numerator: hn, Denominator: kn}
			}
			f.Numerator *= sign
			return f, nil
		}

		h[0], h[1] = h[1], hn
		k[0], k[1] = k[1], kn

		frac := rem - a
		if frac == 0 {
			break
		}
		rem = 1 / frac
	}

	// The expansion terminated without meeting the tolerance (only possible
	// through overflow guards); return the last convergent.
	if k[1] == 0 {
		// The integer part alone was too large for a convergent.
		if x >= math.MaxInt64 {
			return Fraction{}, ErrOutOfRange
		}
		return Fraction{Numerator: sign * int64(math.Round(x)), Denominator: 1}, nil
	}
	return Fraction{Numerator: sign * h[1], Denominator: k[1]}, nil
}

// smallestSemiconvergent searches (h0 + j*h1)/(k0 + j*k1) for 1 <= j < a.
// The distance to x decreases monotonically in j, so the smallest j meeting
// the tolerance is found by binary search. A zero Fraction means none does.
func smallestSemiconvergent(x, tolerance float64, h, k [2]int64, a int64) Fraction {
	if a <= 1 {
		return Fraction{}
	}
	n := int(a - 1)
	j := sort.Search(n, func(i int) bool {
		jj := int64(i + 1)
		num := h[0] + jj*h[1]
		den := k[0] + jj*k[1]
		return math.Abs(float64(num)/float64(den)-x) <= tolerance
	})
	if j == n {
		return Fraction{}
	}
	jj := int64(j + 1)
	return Fraction{Numerator: h[0] + jj*h[1], Denominator: k[0] + jj*k[1]}
}
