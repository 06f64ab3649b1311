package acquisition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"mprslicer/internal/models"
	"mprslicer/pkg/imageid"
	"mprslicer/pkg/numeric"
	"mprslicer/pkg/stack"
	"mprslicer/pkg/volume"
)

func acquisitionError(id imageid.ImageID, op string, err error) error {
	return &models.AcquisitionError{StackID: id.StackID, Op: op, Err: err}
}

// listStack fetches and parses the stack manifest and image list.
func (a *Acquisition) listStack(ctx context.Context, id imageid.ImageID) (stack.Manifest, []string, error) {
	raw, addrs, err := a.fetcher.Stack(ctx, id.FilePath)
	if err != nil {
		return stack.Manifest{}, nil, acquisitionError(id, "list stack", err)
	}
	m, err := stack.ParseManifest(raw)
	if err != nil {
		return stack.Manifest{}, nil, acquisitionError(id, "parse manifest", err)
	}
	if len(addrs) == 0 {
		return stack.Manifest{}, nil, acquisitionError(id, "list stack", errors.New("stack has no images"))
	}
	return m, addrs, nil
}

// buildHeader builds a volume without image data from the manifest and the
// header of the first image. Raw stacks need no image bytes at all.
//
// Returns the volume and the number of bytes fetched.
func (a *Acquisition) buildHeader(ctx context.Context, id imageid.ImageID, useRangeRead bool) (*volume.Volume, int, error) {
	m, addrs, err := a.listStack(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	var (
		h       stack.FrameHeader
		fetched int
	)
	if m.IsRaw() {
		h, err = stack.DecodeFrameHeader(bytes.NewReader(nil), m)
	} else {
		data, ferr := a.fetcher.Fetch(ctx, addrs[0], useRangeRead)
		if ferr != nil {
			return nil, 0, acquisitionError(id, "fetch "+addrs[0], ferr)
		}
		fetched = len(data)
		h, err = decodeHeader(data, m)
	}
	if err != nil {
		return nil, fetched, acquisitionError(id, "decode header", err)
	}

	meta := baseMetaData(m, h, len(addrs))
	lo, hi, declared := m.DeclaredRange()
	if declared {
		meta.MinPixelValue, meta.MaxPixelValue = lo, hi
	}
	if err := applyWindow(id, m, &meta, declared); err != nil {
		return nil, fetched, err
	}

	v, err := volume.New(id.StackID, id.FilePath, meta, nil)
	if err != nil {
		return nil, fetched, acquisitionError(id, "build volume", err)
	}
	return v, fetched, nil
}

func decodeHeader(data []byte, m stack.Manifest) (stack.FrameHeader, error) {
	r, _, err := stack.NewReader(data)
	if err != nil {
		return stack.FrameHeader{}, err
	}
	defer r.Close()
	return stack.DecodeFrameHeader(r, m)
}

// buildFull fetches and decodes every constituent image, at most a.cores
// at a time, and assembles them into one voxel buffer. Any failure fails
// the whole volume.
//
// Returns the volume and the number of bytes fetched.
func (a *Acquisition) buildFull(ctx context.Context, id imageid.ImageID) (*volume.Volume, int, error) {
	m, addrs, err := a.listStack(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	frames := make([]stack.Frame, len(addrs))
	var fetched atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cores)
	for i, addr := range addrs {
		g.Go(func() error {
			data, err := a.fetcher.Fetch(gctx, addr, false)
			if err != nil {
				return acquisitionError(id, "fetch "+addr, err)
			}
			fetched.Add(int64(len(data)))

			raw, err := stack.Decompress(data)
			if err != nil {
				return acquisitionError(id, "decompress "+addr, err)
			}
			f, err := stack.DecodeFrame(bytes.NewReader(raw), m)
			if err != nil {
				return acquisitionError(id, "decode "+addr, err)
			}
			frames[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, int(fetched.Load()), err
	}
	n := int(fetched.Load())

	first := frames[0].FrameHeader
	values := make([]float64, 0, first.Columns*first.Rows*len(frames))
	isFloat := false
	for i, f := range frames {
		if f.Columns != first.Columns || f.Rows != first.Rows {
			return nil, n, acquisitionError(id, "assemble", fmt.Errorf("image %d is %dx%d, expected %dx%d",
				i, f.Columns, f.Rows, first.Columns, first.Rows))
		}
		isFloat = isFloat || f.Float
		values = append(values, f.Values...)
	}

	meta := baseMetaData(m, first, len(frames))
	data, err := toStored(values, isFloat, &meta)
	if err != nil {
		return nil, n, acquisitionError(id, "quantize", err)
	}
	meta.MinPixelValue, meta.MaxPixelValue = minMax(data)

	if err := applyWindow(id, m, &meta, true); err != nil {
		return nil, n, err
	}

	v, err := volume.New(id.StackID, id.FilePath, meta, data)
	if err != nil {
		return nil, n, acquisitionError(id, "build volume", err)
	}
	return v, n, nil
}

// toStored converts decoded samples to stored voxel values. Floating point
// samples are quantized into the display range and the rescale in meta is
// composed so stored*Slope+Intercept still yields the original values.
func toStored(values []float64, isFloat bool, meta *volume.MetaData) ([]int32, error) {
	if !isFloat {
		data := make([]int32, len(values))
		for i, v := range values {
			data[i] = int32(v)
		}
		return data, nil
	}

	data, q, err := numeric.QuantizeFloat(values, numeric.MaxDisplayValue)
	if err != nil {
		return nil, err
	}
	meta.Slope, meta.Intercept = q.Compose(meta.Slope, meta.Intercept)
	meta.Header.BitsPerVoxel = 16
	meta.Header.DataType = "uint16"
	return data, nil
}

func minMax(data []int32) (lo, hi float64) {
	if len(data) == 0 {
		return 0, 0
	}
	mn, mx := data[0], data[0]
	for _, v := range data[1:] {
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
	}
	return float64(mn), float64(mx)
}

// applyWindow sets the VOI window in meta. Explicit manifest bounds win;
// otherwise the window spans the rescaled pixel range when one is known.
func applyWindow(id imageid.ImageID, m stack.Manifest, meta *volume.MetaData, haveRange bool) error {
	var (
		w   numeric.Window
		err error
	)
	if lo, hi, ok := m.Window(); ok {
		w, err = numeric.WindowFromRange(1, 0, lo, hi)
	} else if haveRange {
		w, err = numeric.WindowFromRange(meta.Slope, meta.Intercept, meta.MinPixelValue, meta.MaxPixelValue)
	} else {
		return nil
	}
	if err != nil {
		return &models.MetadataError{StackID: id.StackID, Reason: "cannot derive window", Err: err}
	}
	meta.WindowCenter, meta.WindowWidth, meta.HasWindow = w.Center, w.Width, true
	return nil
}

func baseMetaData(m stack.Manifest, h stack.FrameHeader, slices int) volume.MetaData {
	colSpacing, rowSpacing, sliceSpacing := m.Spacing()
	rc, cc := m.Cosines()
	origin := m.Origin()
	slope, intercept := m.Rescale()

	timeSlices := m.TimeSlices
	if timeSlices < 1 {
		timeSlices = 1
	}

	var hdr volume.Header
	if len(m.Dims) > 0 {
		copy(hdr.Dims[:], m.Dims)
	} else {
		hdr.Dims = [8]int{3, h.Columns, h.Rows, slices, 1, 1, 1, 1}
	}
	hdr.PixDims = [8]float64{1, colSpacing, rowSpacing, sliceSpacing, 1, 1, 1, 1}
	hdr.BitsPerVoxel = h.BitsPerSample
	hdr.DataType = m.DataType
	if hdr.DataType == "" || h.Float {
		hdr.DataType = fmt.Sprintf("uint%d", h.BitsPerSample)
	}

	return volume.MetaData{
		Columns:       h.Columns,
		Rows:          h.Rows,
		Slices:        slices,
		RowCosines:    r3.Vec{X: rc[0], Y: rc[1], Z: rc[2]},
		ColumnCosines: r3.Vec{X: cc[0], Y: cc[1], Z: cc[2]},
		Position:      r3.Vec{X: origin[0], Y: origin[1], Z: origin[2]},
		ColumnSpacing: colSpacing,
		RowSpacing:    rowSpacing,
		SliceSpacing:  sliceSpacing,
		Slope:         slope,
		Intercept:     intercept,
		TimeSlices:    timeSlices,
		Header:        hdr,
	}
}
