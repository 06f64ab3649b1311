// Package stack decodes the pieces a volume is built from: the stack
// manifest, compressed constituent images and the 2D frames inside them.
package stack

import (
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestName is the file name of a stack manifest inside a stack location.
const ManifestName = "stack.yaml"

// Manifest describes a stack. Every field is optional for image formats that
// carry their own dimensions; raw stacks need Columns, Rows and DataType.
type Manifest struct {
	// Images lists the constituent images, relative to the stack location,
	// in slice order.
	Images []string `yaml:"images,omitempty"`

	// Format is one of auto, jpeg, png, gif or raw.
	Format    string `yaml:"format,omitempty"`
	DataType  string `yaml:"dataType,omitempty"`
	ByteOrder string `yaml:"byteOrder,omitempty"`
	Columns   int    `yaml:"columns,omitempty"`
	Rows      int    `yaml:"rows,omitempty"`

	// PixelSpacing is [row spacing, column spacing] in mm.
	PixelSpacing []float64 `yaml:"pixelSpacing,omitempty"`
	SliceSpacing float64   `yaml:"sliceSpacing,omitempty"`

	RowCosines    []float64 `yaml:"rowCosines,omitempty"`
	ColumnCosines []float64 `yaml:"columnCosines,omitempty"`
	Position      []float64 `yaml:"position,omitempty"`

	RescaleSlope     *float64 `yaml:"rescaleSlope,omitempty"`
	RescaleIntercept *float64 `yaml:"rescaleIntercept,omitempty"`

	// WindowMin and WindowMax are explicit window bounds in display units.
	WindowMin *float64 `yaml:"windowMin,omitempty"`
	WindowMax *float64 `yaml:"windowMax,omitempty"`

	// MinPixelValue and MaxPixelValue declare the stored value range.
	MinPixelValue *float64 `yaml:"minPixelValue,omitempty"`
	MaxPixelValue *float64 `yaml:"maxPixelValue,omitempty"`

	// Dims lists declared dimensions, Dims[0] being how many follow.
	Dims       []int `yaml:"dims,omitempty"`
	TimeSlices int   `yaml:"timeSlices,omitempty"`
}

// ParseManifest decodes a YAML manifest. Empty input yields the default
// manifest.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Manifest{}, fmt.Errorf("error parsing stack manifest: %w", err)
		}
	}
	if err := m.validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (m Manifest) validate() error {
	checkLen := func(name string, v []float64, n int) error {
		if v != nil && len(v) != n {
			return fmt.Errorf("manifest %s needs %d values, got %d", name, n, len(v))
		}
		for _, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return fmt.Errorf("manifest %s has non-finite value", name)
			}
		}
		return nil
	}
	if err := checkLen("pixelSpacing", m.PixelSpacing, 2); err != nil {
		return err
	}
	if err := checkLen("rowCosines", m.RowCosines, 3); err != nil {
		return err
	}
	if err := checkLen("columnCosines", m.ColumnCosines, 3); err != nil {
		return err
	}
	if err := checkLen("position", m.Position, 3); err != nil {
		return err
	}
	if (m.WindowMin == nil) != (m.WindowMax == nil) {
		return fmt.Errorf("manifest needs both windowMin and windowMax")
	}
	if (m.MinPixelValue == nil) != (m.MaxPixelValue == nil) {
		return fmt.Errorf("manifest needs both minPixelValue and maxPixelValue")
	}
	if m.SliceSpacing < 0 {
		return fmt.Errorf("manifest sliceSpacing must be positive")
	}
	for _, s := range m.PixelSpacing {
		if s <= 0 {
			return fmt.Errorf("manifest pixelSpacing must be positive")
		}
	}
	if len(m.Dims) > 0 && (m.Dims[0] < 0 || m.Dims[0] > 7 || m.Dims[0] >= len(m.Dims)) {
		return fmt.Errorf("manifest dims[0]=%d does not match %d listed dimensions", m.Dims[0], len(m.Dims)-1)
	}

	switch m.format() {
	case FormatAuto, FormatJPEG, FormatPNG, FormatGIF:
	case FormatRaw:
		if m.Columns <= 0 || m.Rows <= 0 {
			return fmt.Errorf("raw stacks need columns and rows")
		}
		if _, ok := sampleSizes[strings.ToLower(m.DataType)]; !ok {
			return fmt.Errorf("unsupported raw dataType %q", m.DataType)
		}
		switch strings.ToLower(m.ByteOrder) {
		case "", "little", "big":
		default:
			return fmt.Errorf("unsupported byteOrder %q", m.ByteOrder)
		}
	default:
		return fmt.Errorf("unsupported format %q", m.Format)
	}
	return nil
}

// Spacing returns the column, row and slice spacing, defaulting to 1 mm.
func (m Manifest) Spacing() (column, row, slice float64) {
	column, row, slice = 1, 1, 1
	if len(m.PixelSpacing) == 2 {
		row, column = m.PixelSpacing[0], m.PixelSpacing[1]
	}
	if m.SliceSpacing > 0 {
		slice = m.SliceSpacing
	}
	return column, row, slice
}

// Cosines returns the row and column direction cosines, defaulting to the
// patient x and y axes.
func (m Manifest) Cosines() (row, col [3]float64) {
	row, col = [3]float64{1, 0, 0}, [3]float64{0, 1, 0}
	if len(m.RowCosines) == 3 {
		copy(row[:], m.RowCosines)
	}
	if len(m.ColumnCosines) == 3 {
		copy(col[:], m.ColumnCosines)
	}
	return row, col
}

// Origin returns the patient position of the first voxel.
func (m Manifest) Origin() [3]float64 {
	var p [3]float64
	if len(m.Position) == 3 {
		copy(p[:], m.Position)
	}
	return p
}

// Rescale returns the modality slope and intercept, defaulting to 1 and 0.
func (m Manifest) Rescale() (slope, intercept float64) {
	slope, intercept = 1, 0
	if m.RescaleSlope != nil && *m.RescaleSlope != 0 {
		slope = *m.RescaleSlope
	}
	if m.RescaleIntercept != nil {
		intercept = *m.RescaleIntercept
	}
	return slope, intercept
}

// Window returns the explicit window bounds, if present.
func (m Manifest) Window() (lo, hi float64, ok bool) {
	if m.WindowMin == nil {
		return 0, 0, false
	}
	return *m.WindowMin, *m.WindowMax, true
}

// DeclaredRange returns the declared stored value range, if present.
func (m Manifest) DeclaredRange() (lo, hi float64, ok bool) {
	if m.MinPixelValue == nil {
		return 0, 0, false
	}
	return *m.MinPixelValue, *m.MaxPixelValue, true
}

// IsRaw reports whether images hold raw samples rather than an image format.
func (m Manifest) IsRaw() bool { return m.format() == FormatRaw }

func (m Manifest) format() Format {
	f := Format(strings.ToLower(m.Format))
	if f == "" {
		if m.DataType != "" {
			return FormatRaw
		}
		return FormatAuto
	}
	return f
}
