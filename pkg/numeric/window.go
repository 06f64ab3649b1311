package numeric

import (
	"errors"
	"math"
)

var (
	// ErrDegenerateWindow is returned when the value range has zero width.
	ErrDegenerateWindow = errors.New("degenerate window range")

	// ErrNonFiniteWindow is returned when an input or result is NaN or infinite.
	ErrNonFiniteWindow = errors.New("non-finite window range")
)

// Window is a VOI window expressed as centre and width in display units.
type Window struct {
	Center float64
	Width  float64
}

// Bounds returns the lower and upper display values covered by the window.
func (w Window) Bounds() (lo, hi float64) {
	return w.Center - w.Width/2, w.Center + w.Width/2
}

// WindowFromRange derives a window from a pair of stored values.
//
// Both values are mapped through the linear modality transform
// value*slope + intercept; the window spans the two results. Callers that
// hold explicit window bounds, already in display units, pass slope 1 and
// intercept 0.
//
// Parameters:
//   - slope, intercept: Modality rescale parameters
//   - lo, hi: The stored value range (observed min/max or explicit bounds)
//
// Returns:
//   - The derived window; a negative slope yields a positive width
//   - ErrNonFiniteWindow or ErrDegenerateWindow when no usable window exists
func WindowFromRange(slope, intercept, lo, hi float64) (Window, error) {
	loVoi := lo*slope + intercept
	hiVoi := hi*slope + intercept

	if !isFinite(loVoi) || !isFinite(hiVoi) {
		return Window{}, ErrNonFiniteWindow
	}

	w := Window{
		Center: (hiVoi + loVoi) / 2,
		Width:  hiVoi - loVoi,
	}
	if w.Width < 0 {
		w.Width = -w.Width
	}
	if w.Width == 0 {
		return Window{}, ErrDegenerateWindow
	}
	return w, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
