package volume

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"mprslicer/internal/models"
	"mprslicer/pkg/imageid"
)

// rampValue is linear in the voxel coordinates, so trilinear sampling
// reproduces it exactly up to rounding.
func rampValue(x, y, z float64) float64 { return x + 10*y + 100*z }

func newRampVolume(t *testing.T, w, h, d int, spacing [3]float64) *Volume {
	t.Helper()
	data := make([]int32, w*h*d)
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[z*w*h+y*w+x] = int32(rampValue(float64(x), float64(y), float64(z)))
			}
		}
	}
	meta := MetaData{
		Columns:       w,
		Rows:          h,
		Slices:        d,
		RowCosines:    r3.Vec{X: 1},
		ColumnCosines: r3.Vec{Y: 1},
		ColumnSpacing: spacing[0],
		RowSpacing:    spacing[1],
		SliceSpacing:  spacing[2],
		Slope:         1,
		MinPixelValue: 0,
		MaxPixelValue: rampValue(float64(w-1), float64(h-1), float64(d-1)),
		WindowCenter:  100,
		WindowWidth:   200,
		HasWindow:     true,
	}
	vol, err := New("mpr:/stacks/ramp", "/stacks/ramp", meta, data)
	require.NoError(t, err)
	return vol
}

func TestNewValidation(t *testing.T) {
	meta := MetaData{Columns: 2, Rows: 2, Slices: 2, RowCosines: r3.Vec{X: 1}, ColumnCosines: r3.Vec{Y: 1},
		ColumnSpacing: 1, RowSpacing: 1, SliceSpacing: 1}

	_, err := New("s", "p", meta, make([]int32, 7))
	assert.Error(t, err)

	bad := meta
	bad.Slices = 0
	_, err = New("s", "p", bad, nil)
	assert.Error(t, err)

	bad = meta
	bad.RowSpacing = 0
	_, err = New("s", "p", bad, nil)
	assert.Error(t, err)

	bad = meta
	bad.ColumnCosines = r3.Vec{X: 2}
	_, err = New("s", "p", bad, nil)
	assert.Error(t, err)

	vol, err := New("s", "p", meta, nil)
	require.NoError(t, err)
	assert.False(t, vol.HasImageData())
}

func TestAxialSliceIsExact(t *testing.T) {
	vol := newRampVolume(t, 4, 3, 5, [3]float64{1, 1, 1})

	s, err := vol.Slice(Descriptor{Plane: models.Axial, Index: 2, HasIndex: true})
	require.NoError(t, err)
	require.Equal(t, 4, s.Columns)
	require.Equal(t, 3, s.Rows)

	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			assert.Equal(t, vol.At(x, y, 2), s.Pixels[y*4+x], "pixel (%d,%d)", x, y)
		}
	}

	md := s.MetaData
	assert.Equal(t, 5, md.NumberOfFrames)
	assert.Equal(t, 2, md.SliceIndex)
	assert.Equal(t, [3]float64{0, 0, 2}, md.ImagePositionPatient)
	assert.Equal(t, [6]float64{1, 0, 0, 0, 1, 0}, md.ImageOrientationPatient)
}

func TestSagittalAndCoronalSlices(t *testing.T) {
	vol := newRampVolume(t, 4, 3, 5, [3]float64{0.5, 0.75, 2})

	sag, err := vol.Slice(Descriptor{Plane: models.Sagittal, Index: 1, HasIndex: true})
	require.NoError(t, err)
	require.Equal(t, 3, sag.Columns)
	require.Equal(t, 5, sag.Rows)
	for z := 0; z < 5; z++ {
		for y := 0; y < 3; y++ {
			assert.Equal(t, vol.At(1, y, z), sag.Pixels[z*3+y])
		}
	}
	assert.InDelta(t, 0.75, sag.MetaData.ColumnPixelSpacing, 1e-12)
	assert.InDelta(t, 2.0, sag.MetaData.RowPixelSpacing, 1e-12)
	assert.InDelta(t, 0.5, sag.MetaData.SlicePixelSpacing, 1e-12)
	assert.Equal(t, 4, sag.MetaData.NumberOfFrames)

	// The coronal normal is row × column = x × z = -y, so index 0 is the
	// highest row of the volume.
	cor, err := vol.Slice(Descriptor{Plane: models.Coronal, Index: 0, HasIndex: true})
	require.NoError(t, err)
	require.Equal(t, 4, cor.Columns)
	require.Equal(t, 5, cor.Rows)
	for z := 0; z < 5; z++ {
		for x := 0; x < 4; x++ {
			assert.Equal(t, vol.At(x, 2, z), cor.Pixels[z*4+x])
		}
	}
}

func TestSliceAtPosition(t *testing.T) {
	vol := newRampVolume(t, 4, 3, 5, [3]float64{1, 1, 1})

	s, err := vol.Slice(Descriptor{Plane: models.Axial, Position: [3]float64{0, 0, 3}, HasPosition: true})
	require.NoError(t, err)
	assert.Equal(t, vol.At(1, 1, 3), s.Pixels[1*4+1])

	// Between two planes the axial slice is interpolated along z.
	s, err = vol.Slice(Descriptor{Plane: models.Axial, Position: [3]float64{0, 0, 3.5}, HasPosition: true})
	require.NoError(t, err)
	assert.Equal(t, int32(math.Round(rampValue(2, 1, 3.5))), s.Pixels[1*4+2])
}

func TestObliqueSliceTrilinear(t *testing.T) {
	vol := newRampVolume(t, 8, 8, 8, [3]float64{1, 1, 1})

	d := Descriptor{
		Plane:         models.Oblique,
		RowCosines:    [3]float64{1, 1, 0},
		ColumnCosines: [3]float64{0, 0, 1},
		Position:      [3]float64{3.5, 3.5, 3.5},
		HasPosition:   true,
	}
	s, err := vol.Slice(d)
	require.NoError(t, err)

	md := s.MetaData
	row := fromArray(md.RowCosines)
	col := fromArray(md.ColumnCosines)
	assert.InDelta(t, 1.0, r3.Norm(row), 1e-12)
	assert.InDelta(t, 0.0, r3.Dot(row, col), 1e-12)

	insideCount := 0
	for j := 0; j < s.Rows; j++ {
		for i := 0; i < s.Columns; i++ {
			p := fromArray(md.ImagePositionPatient)
			p = r3.Add(p, r3.Scale(float64(i)*md.ColumnPixelSpacing, row))
			p = r3.Add(p, r3.Scale(float64(j)*md.RowPixelSpacing, col))

			got := s.Pixels[j*s.Columns+i]
			if p.X < -1e-9 || p.Y < -1e-9 || p.Z < -1e-9 || p.X > 7+1e-9 || p.Y > 7+1e-9 || p.Z > 7+1e-9 {
				assert.Equal(t, int32(0), got, "outside sample (%d,%d) must take the minimum", i, j)
				continue
			}
			insideCount++
			assert.InDelta(t, rampValue(p.X, p.Y, p.Z), float64(got), 1.0, "pixel (%d,%d)", i, j)
		}
	}
	assert.Positive(t, insideCount)
}

func TestObliqueSliceNearest(t *testing.T) {
	vol := newRampVolume(t, 6, 6, 6, [3]float64{1, 1, 1})

	d := Descriptor{
		Plane:         models.Oblique,
		RowCosines:    [3]float64{1, 0, 0},
		ColumnCosines: [3]float64{0, 1, 1},
		Position:      [3]float64{0, 2.5, 2.5},
		HasPosition:   true,
		Interpolation: Nearest,
	}
	s, err := vol.Slice(d)
	require.NoError(t, err)

	for _, px := range s.Pixels {
		// Every nearest sample is an original voxel value or the background.
		x, rest := int(px)%10, int(px)/10
		y, z := rest%10, rest/10
		assert.True(t, x < 6 && y < 6 && z < 6, "value %d is not a voxel value", px)
	}
}

func TestSliceOutsideVolume(t *testing.T) {
	vol := newRampVolume(t, 4, 3, 5, [3]float64{1, 1, 1})

	_, err := vol.Slice(Descriptor{Plane: models.Axial, Position: [3]float64{0, 0, 50}, HasPosition: true})
	var re *models.ResamplingError
	require.True(t, errors.As(err, &re), "got %v", err)

	_, err = vol.Slice(Descriptor{Plane: models.Axial, Index: 5, HasIndex: true})
	assert.True(t, errors.As(err, &re))

	_, err = vol.Slice(Descriptor{Plane: models.Oblique, RowCosines: [3]float64{1, 0, 0}, ColumnCosines: [3]float64{2, 0, 0}})
	assert.True(t, errors.As(err, &re))

	_, err = vol.Slice(Descriptor{Plane: models.Oblique})
	assert.True(t, errors.As(err, &re))
}

func TestDefaultPlaneIsCentral(t *testing.T) {
	vol := newRampVolume(t, 4, 3, 5, [3]float64{1, 1, 1})
	md, err := vol.SliceMetaData(Descriptor{Plane: models.Axial})
	require.NoError(t, err)
	assert.Equal(t, 2, md.SliceIndex)
}

func TestHeaderOnlyVolume(t *testing.T) {
	meta := MetaData{Columns: 4, Rows: 3, Slices: 5, RowCosines: r3.Vec{X: 1}, ColumnCosines: r3.Vec{Y: 1},
		ColumnSpacing: 1, RowSpacing: 1, SliceSpacing: 1, Slope: 1}
	vol, err := New("mpr:/h", "/h", meta, nil)
	require.NoError(t, err)

	md, err := vol.SliceMetaData(Descriptor{Plane: models.Sagittal, Index: 0, HasIndex: true})
	require.NoError(t, err)
	assert.Equal(t, "/h", md.FrameOfReferenceUID)
	assert.Equal(t, 3, md.Columns)

	_, err = vol.Slice(Descriptor{Plane: models.Axial})
	assert.Error(t, err)
}

func TestFrameOfReferenceSharedAcrossOrientations(t *testing.T) {
	vol := newRampVolume(t, 4, 4, 4, [3]float64{1, 1, 1})

	a, err := imageid.Parse("mpr:/stacks/ramp#orientation=axial&index=1")
	require.NoError(t, err)
	b, err := imageid.Parse("mpr:/stacks/ramp#orientation=0,1,0,0,0,1&position=2,0,0")
	require.NoError(t, err)

	sa, err := vol.Slice(DescriptorFor(a, Trilinear))
	require.NoError(t, err)
	sb, err := vol.Slice(DescriptorFor(b, Trilinear))
	require.NoError(t, err)

	assert.Equal(t, "/stacks/ramp", sa.MetaData.FrameOfReferenceUID)
	assert.Equal(t, sa.MetaData.FrameOfReferenceUID, sb.MetaData.FrameOfReferenceUID)
	assert.Equal(t, 100.0, sb.MetaData.WindowCenter)
	assert.Equal(t, 200.0, sb.MetaData.WindowWidth)

	// The explicit y-z plane through x=2 is the sagittal plane and takes
	// the exact path.
	for z := 0; z < 4; z++ {
		for y := 0; y < 4; y++ {
			assert.Equal(t, vol.At(2, y, z), sb.Pixels[z*4+y])
		}
	}
}

func TestRotatedPatientOrientation(t *testing.T) {
	// The same voxels acquired with rotated axes still slice exactly along
	// their native planes.
	data := make([]int32, 3*3*3)
	for i := range data {
		data[i] = int32(i)
	}
	meta := MetaData{Columns: 3, Rows: 3, Slices: 3,
		RowCosines:    r3.Vec{Y: 1},
		ColumnCosines: r3.Vec{Z: -1},
		Position:      r3.Vec{X: 10, Y: -5, Z: 7},
		ColumnSpacing: 1, RowSpacing: 1, SliceSpacing: 1, Slope: 1, MaxPixelValue: 26}
	vol, err := New("mpr:/rot", "/rot", meta, data)
	require.NoError(t, err)

	s, err := vol.Slice(Descriptor{Plane: models.Axial, Index: 1, HasIndex: true})
	require.NoError(t, err)
	for i := 0; i < 9; i++ {
		assert.Equal(t, data[9+i], s.Pixels[i])
	}
	assert.Equal(t, [6]float64{0, 1, 0, 0, 0, -1}, s.MetaData.ImageOrientationPatient)
}

func TestParseInterpolation(t *testing.T) {
	m, err := ParseInterpolation("")
	require.NoError(t, err)
	assert.Equal(t, Trilinear, m)

	m, err = ParseInterpolation("Nearest")
	require.NoError(t, err)
	assert.Equal(t, Nearest, m)

	_, err = ParseInterpolation("cubic")
	assert.Error(t, err)
}
