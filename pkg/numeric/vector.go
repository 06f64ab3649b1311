// Package numeric provides the small numeric building blocks used by the
// slicing engine and the metadata layer: vector normalization, rational
// approximation, window/level derivation and float-to-integer quantization.
package numeric

import (
	"gonum.org/v1/gonum/floats"
)

// Normalize returns a copy of values scaled to unit Euclidean length.
//
// The vector can have any length. If its norm is exactly zero the norm is
// taken to be 1, so the zero vector comes back unchanged instead of as NaNs.
// The input slice is never modified.
//
// Parameters:
//   - values: The vector to normalize
//
// Returns:
//   - A new slice holding the normalized vector
func Normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	if len(out) == 0 {
		return out
	}

	norm := floats.Norm(out, 2)
	if norm == 0 {
		norm = 1
	}
	floats.Scale(1/norm, out)

	return out
}

// Normalize3 is Normalize for fixed three-component vectors.
func Normalize3(v [3]float64) [3]float64 {
	n := Normalize(v[:])
	return [3]float64{n[0], n[1], n[2]}
}
