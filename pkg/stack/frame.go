package stack

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register GIF decoding
	_ "image/jpeg" // register JPEG decoding
	_ "image/png"  // register PNG decoding
	"io"
	"math"
	"strings"
)

// Format names the encoding of a constituent image.
type Format string

const (
	FormatAuto Format = "auto"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatRaw  Format = "raw"
)

// sampleSizes maps raw data types to their size in bytes.
var sampleSizes = map[string]int{
	"uint8":   1,
	"int8":    1,
	"uint16":  2,
	"int16":   2,
	"int32":   4,
	"float32": 4,
	"float64": 8,
}

// FrameHeader describes a frame without its samples.
type FrameHeader struct {
	Columns       int
	Rows          int
	BitsPerSample int
	Float         bool
	Format        Format
}

// Frame is one decoded 2D image. Values are in row-major order.
type Frame struct {
	FrameHeader
	Values []float64
}

// DecodeFrameHeader reads only as much of r as needed to learn the frame
// dimensions and sample depth.
func DecodeFrameHeader(r io.Reader, m Manifest) (FrameHeader, error) {
	if m.IsRaw() {
		return rawHeader(m), nil
	}

	cfg, name, err := image.DecodeConfig(r)
	if err != nil {
		return FrameHeader{}, fmt.Errorf("decode image header: %w", err)
	}
	if err := checkFormat(m, name); err != nil {
		return FrameHeader{}, err
	}
	return FrameHeader{
		Columns:       cfg.Width,
		Rows:          cfg.Height,
		BitsPerSample: bitsOf(cfg.ColorModel),
		Format:        Format(name),
	}, nil
}

// DecodeFrame decodes a whole frame. Color images are reduced to luma.
func DecodeFrame(r io.Reader, m Manifest) (Frame, error) {
	if m.IsRaw() {
		return decodeRaw(r, m)
	}

	img, name, err := image.Decode(r)
	if err != nil {
		return Frame{}, fmt.Errorf("decode image: %w", err)
	}
	if err := checkFormat(m, name); err != nil {
		return Frame{}, err
	}

	b := img.Bounds()
	f := Frame{
		FrameHeader: FrameHeader{
			Columns:       b.Dx(),
			Rows:          b.Dy(),
			BitsPerSample: bitsOf(img.ColorModel()),
			Format:        Format(name),
		},
		Values: make([]float64, b.Dx()*b.Dy()),
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if f.BitsPerSample == 16 {
				f.Values[i] = float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
			} else {
				f.Values[i] = float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
			}
			i++
		}
	}
	return f, nil
}

func checkFormat(m Manifest, name string) error {
	want := m.format()
	if want == FormatAuto || Format(name) == want {
		return nil
	}
	return fmt.Errorf("image is %s, manifest declares %s", name, want)
}

func bitsOf(model color.Model) int {
	switch model {
	case color.Gray16Model, color.RGBA64Model, color.NRGBA64Model, color.Alpha16Model:
		return 16
	}
	return 8
}

func rawHeader(m Manifest) FrameHeader {
	dt := strings.ToLower(m.DataType)
	h := FrameHeader{
		Columns:       m.Columns,
		Rows:          m.Rows,
		BitsPerSample: sampleSizes[dt] * 8,
		Float:         dt == "float32" || dt == "float64",
		Format:        FormatRaw,
	}
	// Float samples are stored quantized to 16 bits.
	if h.Float {
		h.BitsPerSample = 16
	}
	return h
}

// decodeRaw reads Columns*Rows samples of the manifest's data type.
func decodeRaw(r io.Reader, m Manifest) (Frame, error) {
	h := rawHeader(m)
	dt := strings.ToLower(m.DataType)
	size := sampleSizes[dt]
	n := h.Columns * h.Rows

	buf := make([]byte, n*size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Frame{}, fmt.Errorf("read %d raw %s samples: %w", n, dt, err)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if strings.ToLower(m.ByteOrder) == "big" {
		order = binary.BigEndian
	}

	values := make([]float64, n)
	for i := 0; i < n; i++ {
		b := buf[i*size : (i+1)*size]
		switch dt {
		case "uint8":
			values[i] = float64(b[0])
		case "int8":
			values[i] = float64(int8(b[0]))
		case "uint16":
			values[i] = float64(order.Uint16(b))
		case "int16":
			values[i] = float64(int16(order.Uint16(b)))
		case "int32":
			values[i] = float64(int32(order.Uint32(b)))
		case "float32":
			values[i] = float64(math.Float32frombits(order.Uint32(b)))
		case "float64":
			values[i] = math.Float64frombits(order.Uint64(b))
		}
		if math.IsNaN(values[i]) || math.IsInf(values[i], 0) {
			return Frame{}, fmt.Errorf("raw sample %d is not finite", i)
		}
	}
	return Frame{FrameHeader: h, Values: values}, nil
}
