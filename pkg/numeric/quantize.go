package numeric

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// MaxDisplayValue is the top of the unsigned 16-bit display domain floating
// point data is quantized into.
const MaxDisplayValue = math.MaxUint16

// Quantization records the linear map from quantized values back to the
// original floating point domain: original ≈ quantized*Slope + Intercept.
type Quantization struct {
	Slope     float64
	Intercept float64
}

// Compose folds an existing rescale (slope, intercept) on top of q, so that
// quantized*slope' + intercept' equals original*slope + intercept.
func (q Quantization) Compose(slope, intercept float64) (float64, float64) {
	return q.Slope * slope, q.Intercept*slope + intercept
}

// QuantizeFloat maps floating point intensities linearly onto the integer
// range [0, targetMax].
//
// The map is monotonic, sends the data minimum to 0 and the maximum to
// targetMax, so windows derived later from the quantized min/max and the
// composed rescale match windows derived from the original data. Constant
// data maps to all zeros with a slope of 1.
//
// Parameters:
//   - data: The floating point buffer; must not contain NaN or infinities
//   - targetMax: The largest integer value to produce (> 0)
//
// Returns:
//   - The quantized buffer
//   - The inverse linear map
//   - An error if the data is not finite or targetMax is not positive
func QuantizeFloat(data []float64, targetMax int32) ([]int32, Quantization, error) {
	if targetMax <= 0 {
		return nil, Quantization{}, errors.New("quantize: target range must be positive")
	}
	out := make([]int32, len(data))
	if len(data) == 0 {
		return out, Quantization{Slope: 1}, nil
	}

	lo, hi := floats.Min(data), floats.Max(data)
	if !isFinite(lo) || !isFinite(hi) {
		return nil, Quantization{}, ErrNonFiniteWindow
	}
	if hi == lo {
		return out, Quantization{Slope: 1, Intercept: lo}, nil
	}

	scale := float64(targetMax) / (hi - lo)
	for i, v := range data {
		q := math.Round((v - lo) * scale)
		if q < 0 {
			q = 0
		} else if q > float64(targetMax) {
			q = float64(targetMax)
		}
		out[i] = int32(q)
	}

	return out, Quantization{Slope: 1 / scale, Intercept: lo}, nil
}
