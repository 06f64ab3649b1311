// Package loader exposes volume acquisition and slice extraction to a host
// viewer: images and headers are loaded by address and the metadata of every
// loaded slice is served back through a module provider.
package loader

import (
	"context"

	"mprslicer/internal/models"
	"mprslicer/pkg/acquisition"
	"mprslicer/pkg/imageid"
	"mprslicer/pkg/logging"
	"mprslicer/pkg/metadata"
	"mprslicer/pkg/volume"
)

// DefaultScheme is the address scheme served when none is configured.
const DefaultScheme = "mpr"

// EventType names a loader event.
type EventType string

const (
	ImageLoadStart EventType = "imageLoadStart"
	ImageLoadEnd   EventType = "imageLoadEnd"
)

// Event reports the start or end of an image load. Err is set on failed
// loads.
type Event struct {
	Type    EventType
	ImageID string
	Err     error
}

// EventSink receives loader events. It must not block.
type EventSink func(Event)

// ImageLoadFunc loads the image at an address.
type ImageLoadFunc func(ctx context.Context, address string) (*Image, error)

// ProviderFunc answers a metadata module lookup.
type ProviderFunc func(tag, imageID string) (metadata.Module, bool)

// Host is a viewer the loader registers itself with.
type Host interface {
	RegisterImageLoader(scheme string, load ImageLoadFunc)
	AddProvider(provide ProviderFunc)
}

// Configurer accepts request headers, typically an HTTP fetcher.
type Configurer interface {
	Configure(headers map[string]string)
}

// Options is the set of recognized configuration options.
type Options struct {
	Headers map[string]string `yaml:"headers" toml:"headers"`
}

// Image is the pixel payload of one slice.
type Image struct {
	ImageID            string  `json:"imageId"`
	Rows               int     `json:"rows"`
	Columns            int     `json:"columns"`
	Pixels             []int32 `json:"pixelData"`
	MinPixelValue      float64 `json:"minPixelValue"`
	MaxPixelValue      float64 `json:"maxPixelValue"`
	Slope              float64 `json:"slope"`
	Intercept          float64 `json:"intercept"`
	WindowCenter       float64 `json:"windowCenter"`
	WindowWidth        float64 `json:"windowWidth"`
	RowPixelSpacing    float64 `json:"rowPixelSpacing"`
	ColumnPixelSpacing float64 `json:"columnPixelSpacing"`
	SizeInBytes        int     `json:"sizeInBytes"`
	Color              bool    `json:"color"`

	MetaData volume.SliceMetaData `json:"-"`
}

// Option configures a Loader.
type Option func(*Loader)

// WithScheme sets the address scheme the loader registers for.
func WithScheme(scheme string) Option {
	return func(l *Loader) {
		if scheme != "" {
			l.scheme = scheme
		}
	}
}

// WithInterpolation sets how oblique planes are sampled.
func WithInterpolation(mode volume.Interpolation) Option {
	return func(l *Loader) { l.interpolation = mode }
}

// WithEvents sends load events to sink.
func WithEvents(sink EventSink) Option {
	return func(l *Loader) { l.events = sink }
}

// WithConfigurer routes configured request headers to c.
func WithConfigurer(c Configurer) Option {
	return func(l *Loader) { l.configurer = c }
}

// Loader serves slice images and headers of acquired volumes.
type Loader struct {
	acq      *acquisition.Acquisition
	manager  *metadata.Manager
	provider *metadata.Provider

	scheme        string
	interpolation volume.Interpolation
	events        EventSink
	configurer    Configurer
}

// New creates a Loader on top of acq, recording slice metadata in manager.
func New(acq *acquisition.Acquisition, manager *metadata.Manager, opts ...Option) *Loader {
	l := &Loader{
		acq:      acq,
		manager:  manager,
		provider: metadata.NewProvider(manager),
		scheme:   DefaultScheme,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Scheme returns the address scheme the loader serves.
func (l *Loader) Scheme() string { return l.scheme }

func (l *Loader) parse(address string) (imageid.ImageID, error) {
	id, err := imageid.Parse(address)
	if err != nil {
		return imageid.ImageID{}, err
	}
	if id.Scheme != l.scheme {
		return imageid.ImageID{}, &models.ParseError{Address: address, Reason: "scheme " + id.Scheme + " is not served, expected " + l.scheme}
	}
	return id, nil
}

func (l *Loader) emit(t EventType, imageID string, err error) {
	if l.events != nil {
		l.events(Event{Type: t, ImageID: imageID, Err: err})
	}
}

// LoadImage acquires the volume of address's stack, extracts the addressed
// slice and records its metadata for the provider.
//
// Parameters:
//   - ctx: Bounds the wait; the acquisition itself continues if ctx ends
//   - address: The image address
//
// Returns:
//   - The slice pixel payload
//   - A ParseError, AcquisitionError, MetadataError or ResamplingError
func (l *Loader) LoadImage(ctx context.Context, address string) (*Image, error) {
	id, err := l.parse(address)
	if err != nil {
		return nil, err
	}

	l.emit(ImageLoadStart, address, nil)
	img, err := l.loadImage(ctx, id)
	l.emit(ImageLoadEnd, address, err)
	if err != nil {
		logging.Warningf("unable to load image %s: %v", address, err)
	}
	return img, err
}

func (l *Loader) loadImage(ctx context.Context, id imageid.ImageID) (*Image, error) {
	v, err := l.acq.Acquire(id).Wait(ctx)
	if err != nil {
		return nil, err
	}

	s, err := v.Slice(volume.DescriptorFor(id, l.interpolation))
	if err != nil {
		return nil, err
	}
	if err := l.manager.Add(id.URL, s.MetaData); err != nil {
		logging.Errorf("unable to store metadata for %s: %v", id.URL, err)
	}

	md := s.MetaData
	return &Image{
		ImageID:            id.URL,
		Rows:               s.Rows,
		Columns:            s.Columns,
		Pixels:             s.Pixels,
		MinPixelValue:      md.MinPixelValue,
		MaxPixelValue:      md.MaxPixelValue,
		Slope:              md.Slope,
		Intercept:          md.Intercept,
		WindowCenter:       md.WindowCenter,
		WindowWidth:        md.WindowWidth,
		RowPixelSpacing:    md.RowPixelSpacing,
		ColumnPixelSpacing: md.ColumnPixelSpacing,
		SizeInBytes:        len(s.Pixels) * 4,
		MetaData:           md,
	}, nil
}

// LoadHeader acquires the metadata of address's stack without image data,
// unless a full volume is already available, and returns the compound
// metadata of the addressed slice.
func (l *Loader) LoadHeader(ctx context.Context, address string, useRangeRead bool) (volume.SliceMetaData, error) {
	id, err := l.parse(address)
	if err != nil {
		return volume.SliceMetaData{}, err
	}

	v, err := l.acq.AcquireHeaderOnly(id, useRangeRead).Wait(ctx)
	if err != nil {
		return volume.SliceMetaData{}, err
	}
	md, err := v.SliceMetaData(volume.DescriptorFor(id, l.interpolation))
	if err != nil {
		return volume.SliceMetaData{}, err
	}
	if err := l.manager.Add(id.URL, md); err != nil {
		logging.Errorf("unable to store metadata for %s: %v", id.URL, err)
	}
	return md, nil
}

// Provider returns the metadata lookup for loaded slices.
func (l *Loader) Provider() ProviderFunc {
	return l.provider.Provide
}

// Register installs the image loader and metadata provider with host.
func (l *Loader) Register(host Host) {
	host.RegisterImageLoader(l.scheme, l.LoadImage)
	host.AddProvider(l.Provider())
}

// Configure applies options. Headers are merged into those already sent
// by the configured fetcher.
func (l *Loader) Configure(o Options) {
	if len(o.Headers) > 0 && l.configurer != nil {
		l.configurer.Configure(o.Headers)
	}
}
