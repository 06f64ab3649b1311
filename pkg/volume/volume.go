// Package volume holds reconstructed 3D volumes and the multiplanar
// reformatting engine that cuts 2D slices out of them at any orientation.
package volume

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Header carries the declared dimensions of the source data in the NIfTI
// convention: Dims[0] is the number of dimensions in use, Dims[1..7] their
// sizes; PixDims[1..7] are the matching spacings.
type Header struct {
	Dims         [8]int     `json:"dims"`
	PixDims      [8]float64 `json:"pixDims"`
	BitsPerVoxel int        `json:"bitsPerVoxel"`
	DataType     string     `json:"dataType"`
}

// MetaData describes the geometry and photometry of a volume.
//
// Voxel (x, y, z) is centred at
//
//	Position + x*ColumnSpacing*RowCosines + y*RowSpacing*ColumnCosines + z*SliceSpacing*(RowCosines × ColumnCosines)
//
// in patient space. Stored voxel values map to modality values through
// value*Slope + Intercept.
type MetaData struct {
	// Columns, Rows and Slices are the voxel dimensions (width, height, depth).
	Columns int
	Rows    int
	Slices  int

	RowCosines    r3.Vec
	ColumnCosines r3.Vec
	Position      r3.Vec

	// ColumnSpacing is the distance between adjacent columns, RowSpacing
	// between adjacent rows, SliceSpacing between adjacent slices.
	ColumnSpacing float64
	RowSpacing    float64
	SliceSpacing  float64

	Slope     float64
	Intercept float64

	// MinPixelValue and MaxPixelValue are stored (not rescaled) values.
	MinPixelValue float64
	MaxPixelValue float64

	WindowCenter float64
	WindowWidth  float64
	HasWindow    bool

	TimeSlices int
	Header     Header
}

// Volume is one reconstructed stack. A Volume is immutable once built; a
// volume without image data carries geometry and photometry only.
type Volume struct {
	stackID  string
	filePath string
	meta     MetaData
	data     []int32
	frame    frame
}

// New builds a volume. data must hold Columns*Rows*Slices voxels laid out
// as z*Columns*Rows + y*Columns + x, or be nil for a header-only volume.
// The volume takes ownership of data.
func New(stackID, filePath string, meta MetaData, data []int32) (*Volume, error) {
	if meta.Columns <= 0 || meta.Rows <= 0 || meta.Slices <= 0 {
		return nil, fmt.Errorf("invalid volume dimensions %dx%dx%d", meta.Columns, meta.Rows, meta.Slices)
	}
	if data != nil && len(data) != meta.Columns*meta.Rows*meta.Slices {
		return nil, fmt.Errorf("voxel buffer holds %d values, expected %d",
			len(data), meta.Columns*meta.Rows*meta.Slices)
	}
	for _, s := range []float64{meta.ColumnSpacing, meta.RowSpacing, meta.SliceSpacing} {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("invalid voxel spacing %v", s)
		}
	}

	f, err := newFrame(meta)
	if err != nil {
		return nil, err
	}
	meta.RowCosines = f.axes[0]
	meta.ColumnCosines = f.axes[1]

	return &Volume{
		stackID:  stackID,
		filePath: filePath,
		meta:     meta,
		data:     data,
		frame:    f,
	}, nil
}

// StackID returns the key of the stack this volume was built from.
func (v *Volume) StackID() string { return v.stackID }

// FilePath returns the stack location, used as frame of reference.
func (v *Volume) FilePath() string { return v.filePath }

// HasImageData reports whether voxel data is present.
func (v *Volume) HasImageData() bool { return v.data != nil }

// MetaData returns a copy of the volume metadata.
func (v *Volume) MetaData() MetaData { return v.meta }

// Len returns the number of voxels held, zero for header-only volumes.
func (v *Volume) Len() int { return len(v.data) }

// At returns the stored value of voxel (x, y, z). It panics if the volume
// has no image data or the coordinates are out of range.
func (v *Volume) At(x, y, z int) int32 {
	return v.data[v.index(x, y, z)]
}

func (v *Volume) index(x, y, z int) int {
	return z*v.meta.Columns*v.meta.Rows + y*v.meta.Columns + x
}
