package visualization

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"mprslicer/pkg/imageid"
	"mprslicer/pkg/loader"
	"mprslicer/pkg/volume"
)

// Source loads slice images and headers by address.
type Source interface {
	LoadImage(ctx context.Context, address string) (*loader.Image, error)
	LoadHeader(ctx context.Context, address string, useRangeRead bool) (volume.SliceMetaData, error)
}

// Viewer renders slices of a stack for display or export.
type Viewer struct {
	source       Source
	useRangeRead bool
}

// NewViewer creates a viewer loading slices from source. With useRangeRead
// set, header loads request only image header prefixes.
func NewViewer(source Source, useRangeRead bool) *Viewer {
	return &Viewer{source: source, useRangeRead: useRangeRead}
}

// Render maps the stored values of img through its rescale and a linear
// VOI window onto 16-bit gray levels. Without a usable window the rescaled
// pixel range is stretched to full contrast.
func Render(img *loader.Image) *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, img.Columns, img.Rows))

	center, width := img.WindowCenter, img.WindowWidth
	if !(width > 0) {
		lo := img.MinPixelValue*img.Slope + img.Intercept
		hi := img.MaxPixelValue*img.Slope + img.Intercept
		center, width = (lo+hi)/2, math.Abs(hi-lo)
	}
	lo := center - width/2

	for y := 0; y < img.Rows; y++ {
		for x := 0; x < img.Columns; x++ {
			mv := float64(img.Pixels[y*img.Columns+x])*img.Slope + img.Intercept

			var level float64
			if width > 0 {
				level = (mv - lo) / width
			} else if mv > lo {
				level = 1
			}
			level = math.Max(0, math.Min(1, level))
			out.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(level * 65535))})
		}
	}
	return out
}

// ExtractSlice loads the slice at address and renders it.
func (v *Viewer) ExtractSlice(ctx context.Context, address string) (*image.Gray16, error) {
	img, err := v.source.LoadImage(ctx, address)
	if err != nil {
		return nil, err
	}
	return Render(img), nil
}

// SaveSlice saves a rendered slice as a JPEG image.
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence renders and saves every slice of address's orientation
// into outputDir, named slice_<orientation>_<index>.jpg.
//
// Parameters:
//   - ctx: Bounds every load
//   - address: Any slice of the wanted orientation; its index or position is ignored
//   - outputDir: Created if missing
//
// Returns:
//   - The number of slices written
//   - An error if a slice cannot be loaded or written
func (v *Viewer) SaveSliceSequence(ctx context.Context, address, outputDir string) (int, error) {
	id, err := imageid.Parse(address)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	md, err := v.source.LoadHeader(ctx, address, v.useRangeRead)
	if err != nil {
		return 0, err
	}

	for i := 0; i < md.NumberOfFrames; i++ {
		img, err := v.ExtractSlice(ctx, id.WithIndex(i).String())
		if err != nil {
			return i, fmt.Errorf("slice %d: %w", i, err)
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", id.Plane, i))
		if err := SaveSlice(img, filename); err != nil {
			return i, err
		}
	}
	return md.NumberOfFrames, nil
}
