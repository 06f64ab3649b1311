package metadata

import (
	"strings"

	"mprslicer/pkg/numeric"
	"mprslicer/pkg/volume"
)

// ModuleType is the closed set of metadata modules the provider answers.
type ModuleType int

const (
	Functional ModuleType = iota
	ImagePlane
	ImagePixel
	ModalityLUT
	VOILUT
	MultiFrame
)

var moduleNames = map[ModuleType]string{
	Functional:  "functional",
	ImagePlane:  "imagePlane",
	ImagePixel:  "imagePixel",
	ModalityLUT: "modalityLut",
	VOILUT:      "voiLut",
	MultiFrame:  "multiFrame",
}

func (t ModuleType) String() string {
	if name, ok := moduleNames[t]; ok {
		return name + "Module"
	}
	return "unknownModule"
}

// ParseModuleType maps a lookup tag such as "voiLut" or "voiLutModule" to
// its module type.
func ParseModuleType(tag string) (ModuleType, bool) {
	name := strings.TrimSuffix(tag, "Module")
	if name == "functional" && tag != "functional" {
		return 0, false
	}
	for t, n := range moduleNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// Module is one metadata record answered by the provider.
type Module interface {
	ModuleType() ModuleType
}

// FunctionalModule groups slices sharing a coordinate space.
type FunctionalModule struct {
	FrameOfReferenceUID string `json:"frameOfReferenceUID"`
	TimeSlices          int    `json:"timeSlices"`
}

// ImagePlaneModule is the geometry of a slice in patient space.
type ImagePlaneModule struct {
	FrameOfReferenceUID     string     `json:"frameOfReferenceUID"`
	Columns                 int        `json:"columns"`
	Rows                    int        `json:"rows"`
	ImageOrientationPatient [6]float64 `json:"imageOrientationPatient"`
	RowCosines              [3]float64 `json:"rowCosines"`
	ColumnCosines           [3]float64 `json:"columnCosines"`
	ImagePositionPatient    [3]float64 `json:"imagePositionPatient"`
	// SliceThickness is the plane spacing; slices are assumed contiguous.
	SliceThickness     float64 `json:"sliceThickness"`
	ColumnPixelSpacing float64 `json:"columnPixelSpacing"`
	RowPixelSpacing    float64 `json:"rowPixelSpacing"`
}

// ImagePixelModule describes the stored pixel format.
type ImagePixelModule struct {
	SamplesPerPixel     int     `json:"samplesPerPixel"`
	Rows                int     `json:"rows"`
	Columns             int     `json:"columns"`
	BitsAllocated       int     `json:"bitsAllocated"`
	BitsStored          int     `json:"bitsStored"`
	HighBit             int     `json:"highBit"`
	PlanarConfiguration *int    `json:"planarConfiguration,omitempty"`
	PixelAspectRatio    string  `json:"pixelAspectRatio"`
	SmallestPixelValue  float64 `json:"smallestPixelValue"`
	LargestPixelValue   float64 `json:"largestPixelValue"`
}

// ModalityLUTModule maps stored values to modality units.
type ModalityLUTModule struct {
	RescaleIntercept float64 `json:"rescaleIntercept"`
	RescaleSlope     float64 `json:"rescaleSlope"`
	RescaleType      string  `json:"rescaleType"`
}

// VOILUTModule is the display window.
type VOILUTModule struct {
	WindowCenter float64 `json:"windowCenter"`
	WindowWidth  float64 `json:"windowWidth"`
}

// MultiFrameModule reports how many planes share the slice orientation.
type MultiFrameModule struct {
	NumberOfFrames     int    `json:"numberOfFrames"`
	StereoPairsPresent string `json:"stereoPairsPresent"`
}

func (FunctionalModule) ModuleType() ModuleType  { return Functional }
func (ImagePlaneModule) ModuleType() ModuleType  { return ImagePlane }
func (ImagePixelModule) ModuleType() ModuleType  { return ImagePixel }
func (ModalityLUTModule) ModuleType() ModuleType { return ModalityLUT }
func (VOILUTModule) ModuleType() ModuleType      { return VOILUT }
func (MultiFrameModule) ModuleType() ModuleType  { return MultiFrame }

type builder func(md volume.SliceMetaData) (Module, bool)

var builders = map[ModuleType]builder{
	Functional: func(md volume.SliceMetaData) (Module, bool) {
		return FunctionalModule{FrameOfReferenceUID: md.FrameOfReferenceUID, TimeSlices: md.TimeSlices}, true
	},
	ImagePlane: func(md volume.SliceMetaData) (Module, bool) {
		return ImagePlaneModule{
			FrameOfReferenceUID:     md.FrameOfReferenceUID,
			Columns:                 md.Columns,
			Rows:                    md.Rows,
			ImageOrientationPatient: md.ImageOrientationPatient,
			RowCosines:              md.RowCosines,
			ColumnCosines:           md.ColumnCosines,
			ImagePositionPatient:    md.ImagePositionPatient,
			SliceThickness:          md.SlicePixelSpacing,
			ColumnPixelSpacing:      md.ColumnPixelSpacing,
			RowPixelSpacing:         md.RowPixelSpacing,
		}, true
	},
	ImagePixel: imagePixel,
	ModalityLUT: func(md volume.SliceMetaData) (Module, bool) {
		return ModalityLUTModule{RescaleIntercept: md.Intercept, RescaleSlope: md.Slope, RescaleType: "US"}, true
	},
	VOILUT: func(md volume.SliceMetaData) (Module, bool) {
		// Header-only volumes may not know their window yet.
		if md.WindowWidth == 0 {
			return nil, false
		}
		return VOILUTModule{WindowCenter: md.WindowCenter, WindowWidth: md.WindowWidth}, true
	},
	MultiFrame: func(md volume.SliceMetaData) (Module, bool) {
		return MultiFrameModule{NumberOfFrames: md.NumberOfFrames, StereoPairsPresent: "NO"}, true
	},
}

func imagePixel(md volume.SliceMetaData) (Module, bool) {
	spp := SamplesPerPixel(md.Header)
	bits := md.Header.BitsPerVoxel

	m := ImagePixelModule{
		SamplesPerPixel:    spp,
		Rows:               md.Rows,
		Columns:            md.Columns,
		BitsAllocated:      bits,
		BitsStored:         bits,
		HighBit:            bits - 1,
		PixelAspectRatio:   PixelAspectRatio(md),
		SmallestPixelValue: md.MinPixelValue,
		LargestPixelValue:  md.MaxPixelValue,
	}
	// Interleaved samples are the only layout produced.
	if spp > 1 {
		interleaved := 0
		m.PlanarConfiguration = &interleaved
	}
	return m, true
}

// SamplesPerPixel returns the size of the fifth declared dimension when it
// is declared and greater than one, and 1 otherwise.
func SamplesPerPixel(h volume.Header) int {
	if h.Dims[0] >= 5 && h.Dims[5] > 1 {
		return h.Dims[5]
	}
	return 1
}

// PixelAspectRatio returns the ratio of the vertical to the horizontal
// pixel spacing as "numerator/denominator".
func PixelAspectRatio(md volume.SliceMetaData) string {
	if md.ColumnPixelSpacing <= 0 {
		return "1/1"
	}
	f, err := numeric.ApproximateFraction(md.RowPixelSpacing/md.ColumnPixelSpacing, numeric.DefaultTolerance)
	if err != nil {
		return "1/1"
	}
	return f.String()
}

// Provider answers module lookups for image URLs from a Manager.
type Provider struct {
	manager *Manager
}

// NewProvider creates a provider reading from manager.
func NewProvider(manager *Manager) *Provider {
	return &Provider{manager: manager}
}

// Provide returns the module named by tag for imageID. An unknown tag or
// an image without stored metadata yields false.
func (p *Provider) Provide(tag, imageID string) (Module, bool) {
	t, ok := ParseModuleType(tag)
	if !ok {
		return nil, false
	}
	md, ok := p.manager.Get(imageID)
	if !ok {
		return nil, false
	}
	return builders[t](md)
}
