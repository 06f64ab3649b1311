package volume

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"mprslicer/internal/models"
	"mprslicer/pkg/imageid"
)

// integralTolerance decides whether a voxel coordinate sits on the grid.
const integralTolerance = 1e-6

// Interpolation selects how oblique planes are sampled.
type Interpolation int

const (
	// Trilinear blends the eight surrounding voxels. It is continuous across
	// the plane and is the default.
	Trilinear Interpolation = iota

	// Nearest takes the closest voxel. It is faster but blocky on oblique
	// planes and shifts edges by up to half a voxel.
	Nearest
)

func (m Interpolation) String() string {
	if m == Nearest {
		return "nearest"
	}
	return "trilinear"
}

// ParseInterpolation maps a configuration value to an Interpolation. The
// empty string selects Trilinear.
func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(s) {
	case "", "trilinear", "linear":
		return Trilinear, nil
	case "nearest", "nearest-neighbor", "nearest-neighbour":
		return Nearest, nil
	}
	return Trilinear, fmt.Errorf("unknown interpolation %q", s)
}

// Descriptor selects one plane of a volume.
type Descriptor struct {
	// Plane is a volume-native plane, or Oblique to use the cosines below.
	Plane models.Plane

	// RowCosines and ColumnCosines are patient-space directions, used when
	// Plane is Oblique. They need not be unit length.
	RowCosines    [3]float64
	ColumnCosines [3]float64

	// Position is a patient-space point on the plane.
	Position    [3]float64
	HasPosition bool

	// Index counts planes along the plane normal from the volume edge.
	Index    int
	HasIndex bool

	Interpolation Interpolation
}

// DescriptorFor builds the descriptor addressed by id.
func DescriptorFor(id imageid.ImageID, mode Interpolation) Descriptor {
	return Descriptor{
		Plane:         id.Plane,
		RowCosines:    id.RowCosines(),
		ColumnCosines: id.ColumnCosines(),
		Position:      id.Position,
		HasPosition:   id.HasPosition,
		Index:         id.Index,
		HasIndex:      id.HasIndex,
		Interpolation: mode,
	}
}

// SliceMetaData is the compound metadata of one extracted slice: geometry
// of the plane plus photometry inherited from the volume.
type SliceMetaData struct {
	FrameOfReferenceUID string `json:"frameOfReferenceUID"`

	Columns int `json:"columns"`
	Rows    int `json:"rows"`

	ImageOrientationPatient [6]float64 `json:"imageOrientationPatient"`
	RowCosines              [3]float64 `json:"rowCosines"`
	ColumnCosines           [3]float64 `json:"columnCosines"`
	ImagePositionPatient    [3]float64 `json:"imagePositionPatient"`

	ColumnPixelSpacing float64 `json:"columnPixelSpacing"`
	RowPixelSpacing    float64 `json:"rowPixelSpacing"`
	SlicePixelSpacing  float64 `json:"slicePixelSpacing"`

	Slope         float64 `json:"slope"`
	Intercept     float64 `json:"intercept"`
	MinPixelValue float64 `json:"minPixelValue"`
	MaxPixelValue float64 `json:"maxPixelValue"`
	WindowCenter  float64 `json:"windowCenter"`
	WindowWidth   float64 `json:"windowWidth"`

	// NumberOfFrames is the number of planes of this orientation that fit
	// in the volume; SliceIndex is the position of this one among them.
	NumberOfFrames int `json:"numberOfFrames"`
	SliceIndex     int `json:"sliceIndex"`

	TimeSlices int    `json:"timeSlices"`
	Header     Header `json:"header"`
}

// Slice is a 2D cut through a volume. Pixels hold stored values in row-major
// order; they map to modality values through MetaData.Slope/Intercept.
type Slice struct {
	Columns  int
	Rows     int
	Pixels   []int32
	MetaData SliceMetaData
}

// plane is a resolved descriptor: an output pixel grid in patient space and
// its affine map into voxel coordinates.
type plane struct {
	row, col, normal r3.Vec
	su, sv, sn       float64
	columns, rows    int
	frames, index    int
	origin           r3.Vec

	// voxel(i, j) = v0 + i*du + j*dv
	v0, du, dv r3.Vec
}

// SliceMetaData resolves d against the volume geometry and returns the
// compound metadata of the slice without sampling any pixels. It works on
// header-only volumes.
func (v *Volume) SliceMetaData(d Descriptor) (SliceMetaData, error) {
	p, err := v.resolve(d)
	if err != nil {
		return SliceMetaData{}, err
	}
	return v.sliceMetaData(p), nil
}

// Slice extracts the plane selected by d. Axis-aligned planes that fall on
// the voxel grid are copied exactly; any other plane is resampled with
// d.Interpolation. Samples outside the volume take the volume minimum.
func (v *Volume) Slice(d Descriptor) (*Slice, error) {
	if !v.HasImageData() {
		return nil, &models.ResamplingError{StackID: v.stackID, Reason: "volume has no image data"}
	}
	p, err := v.resolve(d)
	if err != nil {
		return nil, err
	}

	pixels := make([]int32, p.columns*p.rows)
	if integral(p.v0) && integral(p.du) && integral(p.dv) {
		v.copyPlane(p, pixels)
	} else {
		v.resamplePlane(p, d.Interpolation, pixels)
	}

	return &Slice{
		Columns:  p.columns,
		Rows:     p.rows,
		Pixels:   pixels,
		MetaData: v.sliceMetaData(p),
	}, nil
}

func (v *Volume) resolve(d Descriptor) (plane, error) {
	f := v.frame
	fail := func(reason string) (plane, error) {
		return plane{}, &models.ResamplingError{StackID: v.stackID, Reason: reason}
	}

	var row, col r3.Vec
	if d.Plane == models.Oblique {
		row = unit(fromArray(d.RowCosines))
		col = unit(fromArray(d.ColumnCosines))
	} else {
		r, c := d.Plane.Cosines()
		row = f.fromVolumeAxes(r)
		col = f.fromVolumeAxes(c)
	}

	// Remove any row component from the column direction so the output
	// grid is orthogonal.
	col = r3.Sub(col, r3.Scale(r3.Dot(col, row), row))
	if r3.Norm(row) < colinearLimit || r3.Norm(col) < colinearLimit {
		return fail("row and column cosines are zero or colinear")
	}
	col = r3.Unit(col)
	normal := r3.Unit(r3.Cross(row, col))

	corners := f.corners()
	uMin, uMax := project(corners, row)
	vMin, vMax := project(corners, col)
	nMin, nMax := project(corners, normal)

	p := plane{
		row:    row,
		col:    col,
		normal: normal,
		su:     f.spacingAlong(row),
		sv:     f.spacingAlong(col),
		sn:     f.spacingAlong(normal),
	}
	p.frames = int(math.Floor((nMax-nMin)/p.sn+integralTolerance)) + 1

	var offset float64
	switch {
	case d.HasPosition:
		offset = r3.Dot(fromArray(d.Position), normal)
	case d.HasIndex:
		offset = nMin + float64(d.Index)*p.sn
	default:
		offset = nMin + float64((p.frames-1)/2)*p.sn
	}

	eps := integralTolerance * p.sn
	if offset < nMin-eps || offset > nMax+eps {
		return fail(fmt.Sprintf("plane at offset %.4g lies outside the volume [%.4g, %.4g]", offset, nMin, nMax))
	}
	p.index = int(math.Round((offset - nMin) / p.sn))

	p.columns = int(math.Floor((uMax-uMin)/p.su+integralTolerance)) + 1
	p.rows = int(math.Floor((vMax-vMin)/p.sv+integralTolerance)) + 1

	p.origin = r3.Add(r3.Add(r3.Scale(uMin, row), r3.Scale(vMin, col)), r3.Scale(offset, normal))
	p.v0 = f.toVoxel(p.origin)
	p.du = f.toVoxelDir(r3.Scale(p.su, row))
	p.dv = f.toVoxelDir(r3.Scale(p.sv, col))

	return p, nil
}

func (v *Volume) sliceMetaData(p plane) SliceMetaData {
	m := v.meta
	row, col := toArray(p.row), toArray(p.col)
	return SliceMetaData{
		FrameOfReferenceUID: v.filePath,
		Columns:             p.columns,
		Rows:                p.rows,
		ImageOrientationPatient: [6]float64{
			row[0], row[1], row[2], col[0], col[1], col[2],
		},
		RowCosines:           row,
		ColumnCosines:        col,
		ImagePositionPatient: toArray(p.origin),
		ColumnPixelSpacing:   p.su,
		RowPixelSpacing:      p.sv,
		SlicePixelSpacing:    p.sn,
		Slope:                m.Slope,
		Intercept:            m.Intercept,
		MinPixelValue:        m.MinPixelValue,
		MaxPixelValue:        m.MaxPixelValue,
		WindowCenter:         m.WindowCenter,
		WindowWidth:          m.WindowWidth,
		NumberOfFrames:       p.frames,
		SliceIndex:           p.index,
		TimeSlices:           m.TimeSlices,
		Header:               m.Header,
	}
}

// copyPlane fills pixels by direct indexing. Valid only when the affine
// voxel map is integral.
func (v *Volume) copyPlane(p plane, pixels []int32) {
	x0, y0, z0 := iround(p.v0.X), iround(p.v0.Y), iround(p.v0.Z)
	dux, duy, duz := iround(p.du.X), iround(p.du.Y), iround(p.du.Z)
	dvx, dvy, dvz := iround(p.dv.X), iround(p.dv.Y), iround(p.dv.Z)
	bg := v.background()

	for j := 0; j < p.rows; j++ {
		x, y, z := x0+j*dvx, y0+j*dvy, z0+j*dvz
		for i := 0; i < p.columns; i++ {
			if v.inside(x, y, z) {
				pixels[j*p.columns+i] = v.data[v.index(x, y, z)]
			} else {
				pixels[j*p.columns+i] = bg
			}
			x += dux
			y += duy
			z += duz
		}
	}
}

func (v *Volume) resamplePlane(p plane, mode Interpolation, pixels []int32) {
	bg := v.background()
	for j := 0; j < p.rows; j++ {
		base := r3.Add(p.v0, r3.Scale(float64(j), p.dv))
		for i := 0; i < p.columns; i++ {
			c := r3.Add(base, r3.Scale(float64(i), p.du))
			var val int32
			var ok bool
			if mode == Nearest {
				val, ok = v.sampleNearest(c)
			} else {
				val, ok = v.sampleTrilinear(c)
			}
			if !ok {
				val = bg
			}
			pixels[j*p.columns+i] = val
		}
	}
}

func (v *Volume) sampleNearest(c r3.Vec) (int32, bool) {
	x, y, z := iround(c.X), iround(c.Y), iround(c.Z)
	if !v.inside(x, y, z) {
		return 0, false
	}
	return v.data[v.index(x, y, z)], true
}

func (v *Volume) sampleTrilinear(c r3.Vec) (int32, bool) {
	x, okx := clampAxis(c.X, v.meta.Columns)
	y, oky := clampAxis(c.Y, v.meta.Rows)
	z, okz := clampAxis(c.Z, v.meta.Slices)
	if !okx || !oky || !okz {
		return 0, false
	}

	x0, y0, z0 := int(x), int(y), int(z)
	x1, y1, z1 := min(x0+1, v.meta.Columns-1), min(y0+1, v.meta.Rows-1), min(z0+1, v.meta.Slices-1)
	fx, fy, fz := x-float64(x0), y-float64(y0), z-float64(z0)

	at := func(x, y, z int) float64 { return float64(v.data[v.index(x, y, z)]) }

	c00 := at(x0, y0, z0)*(1-fx) + at(x1, y0, z0)*fx
	c10 := at(x0, y1, z0)*(1-fx) + at(x1, y1, z0)*fx
	c01 := at(x0, y0, z1)*(1-fx) + at(x1, y0, z1)*fx
	c11 := at(x0, y1, z1)*(1-fx) + at(x1, y1, z1)*fx

	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy

	return int32(math.Round(c0*(1-fz) + c1*fz)), true
}

// clampAxis accepts coordinates within tolerance of [0, n-1] and clamps
// them into range.
func clampAxis(c float64, n int) (float64, bool) {
	hi := float64(n - 1)
	if c < -integralTolerance || c > hi+integralTolerance {
		return 0, false
	}
	return math.Max(0, math.Min(hi, c)), true
}

func (v *Volume) inside(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.meta.Columns && y < v.meta.Rows && z < v.meta.Slices
}

func (v *Volume) background() int32 {
	return int32(math.Round(v.meta.MinPixelValue))
}

func integral(c r3.Vec) bool {
	for _, x := range []float64{c.X, c.Y, c.Z} {
		if math.Abs(x-math.Round(x)) > integralTolerance {
			return false
		}
	}
	return true
}

func iround(x float64) int { return int(math.Round(x)) }
