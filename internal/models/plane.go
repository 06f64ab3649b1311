package models

import "strings"

// Plane names one of the volume-native slicing planes. Oblique planes are
// described by explicit direction cosines instead.
type Plane int

const (
	Oblique Plane = iota
	Axial
	Coronal
	Sagittal
)

// String returns the lower-case plane name used in image addresses.
func (p Plane) String() string {
	switch p {
	case Axial:
		return "axial"
	case Coronal:
		return "coronal"
	case Sagittal:
		return "sagittal"
	default:
		return "oblique"
	}
}

// ParsePlane maps a plane name to a Plane. Matching ignores case.
func ParsePlane(name string) (Plane, bool) {
	switch strings.ToLower(name) {
	case "axial":
		return Axial, true
	case "coronal":
		return Coronal, true
	case "sagittal":
		return Sagittal, true
	}
	return Oblique, false
}

// Cosines returns the row and column cosines of a native plane, expressed in
// the volume's own axes (x = row direction, y = column direction, z = normal).
func (p Plane) Cosines() (row, col [3]float64) {
	switch p {
	case Coronal:
		return [3]float64{1, 0, 0}, [3]float64{0, 0, 1}
	case Sagittal:
		return [3]float64{0, 1, 0}, [3]float64{0, 0, 1}
	default:
		return [3]float64{1, 0, 0}, [3]float64{0, 1, 0}
	}
}
