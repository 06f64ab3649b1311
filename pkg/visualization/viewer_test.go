package visualization

import (
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mprslicer/pkg/loader"
	"mprslicer/pkg/volume"
)

// fakeSource serves frames 8x4 slices whose pixels all hold the slice index.
type fakeSource struct {
	frames     int
	loaded     []string
	failAt     string
	rangeReads []bool
}

func (s *fakeSource) LoadImage(ctx context.Context, address string) (*loader.Image, error) {
	s.loaded = append(s.loaded, address)
	if address == s.failAt {
		return nil, errors.New("boom")
	}
	img := &loader.Image{
		ImageID:       address,
		Columns:       8,
		Rows:          4,
		Pixels:        make([]int32, 32),
		Slope:         1,
		MaxPixelValue: float64(s.frames),
	}
	for i := range img.Pixels {
		img.Pixels[i] = int32(len(s.loaded))
	}
	return img, nil
}

func (s *fakeSource) LoadHeader(ctx context.Context, address string, useRangeRead bool) (volume.SliceMetaData, error) {
	s.rangeReads = append(s.rangeReads, useRangeRead)
	return volume.SliceMetaData{Columns: 8, Rows: 4, NumberOfFrames: s.frames}, nil
}

// TestRender verifies that stored values pass through the rescale and the
// VOI window
func TestRender(t *testing.T) {
	img := &loader.Image{
		Columns:      4,
		Rows:         1,
		Pixels:       []int32{0, 50, 100, 200},
		Slope:        2,
		Intercept:    10,
		WindowCenter: 110,
		WindowWidth:  200,
	}
	out := Render(img)
	require.Equal(t, 4, out.Bounds().Dx())
	require.Equal(t, 1, out.Bounds().Dy())

	assert.Equal(t, uint16(0), out.Gray16At(0, 0).Y)
	assert.Equal(t, uint16(32768), out.Gray16At(1, 0).Y)
	assert.Equal(t, uint16(65535), out.Gray16At(2, 0).Y)
	assert.Equal(t, uint16(65535), out.Gray16At(3, 0).Y, "clamped above the window")
}

// TestRenderWithoutWindow verifies that the pixel range is used when no
// window is known
func TestRenderWithoutWindow(t *testing.T) {
	img := &loader.Image{
		Columns:       3,
		Rows:          1,
		Pixels:        []int32{0, 50, 100},
		Slope:         1,
		MaxPixelValue: 100,
	}
	out := Render(img)
	assert.Equal(t, uint16(0), out.Gray16At(0, 0).Y)
	assert.Equal(t, uint16(32768), out.Gray16At(1, 0).Y)
	assert.Equal(t, uint16(65535), out.Gray16At(2, 0).Y)

	flat := &loader.Image{Columns: 2, Rows: 1, Pixels: []int32{7, 7}, Slope: 1, MinPixelValue: 7, MaxPixelValue: 7}
	out = Render(flat)
	assert.Equal(t, uint16(0), out.Gray16At(0, 0).Y)
}

// TestSaveSliceSequence verifies that every slice of an orientation is
// written as a JPEG
func TestSaveSliceSequence(t *testing.T) {
	src := &fakeSource{frames: 3}
	outputDir := filepath.Join(t.TempDir(), "out")

	n, err := NewViewer(src, true).SaveSliceSequence(context.Background(), "mpr:/data/s1#orientation=coronal&index=1", outputDir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []bool{true}, src.rangeReads)

	for i := 0; i < 3; i++ {
		assert.Equal(t, fmt.Sprintf("mpr:/data/s1#orientation=coronal&index=%d", i), src.loaded[i])

		f, err := os.Open(filepath.Join(outputDir, fmt.Sprintf("slice_coronal_%03d.jpg", i)))
		require.NoError(t, err)
		cfg, err := jpeg.DecodeConfig(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Width)
		assert.Equal(t, 4, cfg.Height)
	}
}

// TestSaveSliceSequenceErrors verifies that load failures stop the sequence
func TestSaveSliceSequenceErrors(t *testing.T) {
	src := &fakeSource{frames: 3, failAt: "mpr:/data/s1#orientation=axial&index=1"}
	n, err := NewViewer(src, true).SaveSliceSequence(context.Background(), "mpr:/data/s1", t.TempDir())
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	_, err = NewViewer(src, true).SaveSliceSequence(context.Background(), "not an address", t.TempDir())
	assert.Error(t, err)
}

// TestSaveSliceSequenceWithoutRangeRead verifies that the header load
// follows the viewer's range read setting
func TestSaveSliceSequenceWithoutRangeRead(t *testing.T) {
	src := &fakeSource{frames: 2}
	n, err := NewViewer(src, false).SaveSliceSequence(context.Background(), "mpr:/data/s1", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []bool{false}, src.rangeReads)
}
