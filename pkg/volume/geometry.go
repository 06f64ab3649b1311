package volume

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"mprslicer/pkg/numeric"
)

// colinearLimit is the smallest |row × col| accepted for a pair of unit
// direction vectors.
const colinearLimit = 1e-6

// frame maps between patient space and continuous voxel coordinates.
type frame struct {
	origin  r3.Vec
	axes    [3]r3.Vec
	spacing [3]float64
	dims    [3]int

	// dual[i]·(p - origin) is voxel coordinate i of patient point p.
	dual [3]r3.Vec
}

func newFrame(meta MetaData) (frame, error) {
	row := unit(meta.RowCosines)
	col := unit(meta.ColumnCosines)
	normal := r3.Cross(row, col)
	if r3.Norm(normal) < colinearLimit {
		return frame{}, errors.New("row and column cosines are zero or colinear")
	}
	normal = r3.Unit(normal)

	f := frame{
		origin:  meta.Position,
		axes:    [3]r3.Vec{row, col, normal},
		spacing: [3]float64{meta.ColumnSpacing, meta.RowSpacing, meta.SliceSpacing},
		dims:    [3]int{meta.Columns, meta.Rows, meta.Slices},
	}

	// Voxel steps in patient space; their dual basis inverts the mapping
	// even when the acquisition axes are skewed.
	a := r3.Scale(f.spacing[0], row)
	b := r3.Scale(f.spacing[1], col)
	c := r3.Scale(f.spacing[2], normal)
	det := r3.Dot(a, r3.Cross(b, c))
	if math.Abs(det) < colinearLimit*f.spacing[0]*f.spacing[1]*f.spacing[2] {
		return frame{}, errors.New("degenerate voxel basis")
	}
	f.dual[0] = r3.Scale(1/det, r3.Cross(b, c))
	f.dual[1] = r3.Scale(1/det, r3.Cross(c, a))
	f.dual[2] = r3.Scale(1/det, r3.Cross(a, b))

	return f, nil
}

// toVoxel returns the continuous voxel coordinates of patient point p.
func (f frame) toVoxel(p r3.Vec) r3.Vec {
	d := r3.Sub(p, f.origin)
	return r3.Vec{X: r3.Dot(f.dual[0], d), Y: r3.Dot(f.dual[1], d), Z: r3.Dot(f.dual[2], d)}
}

// toVoxelDir maps a patient-space displacement to voxel units.
func (f frame) toVoxelDir(d r3.Vec) r3.Vec {
	return r3.Vec{X: r3.Dot(f.dual[0], d), Y: r3.Dot(f.dual[1], d), Z: r3.Dot(f.dual[2], d)}
}

// toPatient returns the patient position of continuous voxel coordinates v.
func (f frame) toPatient(v r3.Vec) r3.Vec {
	p := f.origin
	p = r3.Add(p, r3.Scale(v.X*f.spacing[0], f.axes[0]))
	p = r3.Add(p, r3.Scale(v.Y*f.spacing[1], f.axes[1]))
	p = r3.Add(p, r3.Scale(v.Z*f.spacing[2], f.axes[2]))
	return p
}

// corners returns the patient positions of the eight corner voxel centres.
func (f frame) corners() [8]r3.Vec {
	var out [8]r3.Vec
	for i := 0; i < 8; i++ {
		v := r3.Vec{}
		if i&1 != 0 {
			v.X = float64(f.dims[0] - 1)
		}
		if i&2 != 0 {
			v.Y = float64(f.dims[1] - 1)
		}
		if i&4 != 0 {
			v.Z = float64(f.dims[2] - 1)
		}
		out[i] = f.toPatient(v)
	}
	return out
}

// spacingAlong returns the sampling distance for unit direction d: the
// native spacing when d is a volume axis, and a blend of the spacings of
// the axes d crosses otherwise.
func (f frame) spacingAlong(d r3.Vec) float64 {
	s := r3.Norm(f.toVoxelDir(d))
	if s == 0 {
		return 1
	}
	return 1 / s
}

// fromVolumeAxes expresses coefficients given in the volume's own axes as a
// patient-space direction.
func (f frame) fromVolumeAxes(c [3]float64) r3.Vec {
	d := r3.Scale(c[0], f.axes[0])
	d = r3.Add(d, r3.Scale(c[1], f.axes[1]))
	return r3.Add(d, r3.Scale(c[2], f.axes[2]))
}

func unit(v r3.Vec) r3.Vec {
	n := numeric.Normalize3([3]float64{v.X, v.Y, v.Z})
	return r3.Vec{X: n[0], Y: n[1], Z: n[2]}
}

func project(corners [8]r3.Vec, d r3.Vec) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, c := range corners {
		p := r3.Dot(c, d)
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	return lo, hi
}

func toArray(v r3.Vec) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func fromArray(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }
