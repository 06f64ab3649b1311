package loader

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mprslicer/internal/models"
	"mprslicer/pkg/acquisition"
	"mprslicer/pkg/fetch"
	"mprslicer/pkg/metadata"
)

// writeStack writes slices 6x5 images holding x + 6y + 30z.
func writeStack(t *testing.T, slices int) string {
	t.Helper()
	dir := t.TempDir()
	for z := 0; z < slices; z++ {
		img := image.NewGray(image.Rect(0, 0, 6, 5))
		for y := 0; y < 5; y++ {
			for x := 0; x < 6; x++ {
				img.SetGray(x, y, color.Gray{Y: uint8(x + 6*y + 30*z)})
			}
		}
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("IM_%03d.png", z+1)), buf.Bytes(), 0644))
	}
	return dir
}

func newLoader(t *testing.T, opts ...Option) (*Loader, *acquisition.Acquisition) {
	t.Helper()
	acq := acquisition.New(fetch.NewFileFetcher(0), acquisition.WithCores(2))
	t.Cleanup(func() { acq.Close() })
	return New(acq, metadata.NewManager(0), opts...), acq
}

func TestTwoOrientationsShareOneAcquisition(t *testing.T) {
	dir := writeStack(t, 4)
	l, acq := newLoader(t)

	addresses := []string{
		"mpr:" + dir + "#orientation=axial&index=2",
		"mpr:" + dir + "#orientation=sagittal",
	}
	images := make([]*Image, len(addresses))
	errs := make([]error, len(addresses))

	var wg sync.WaitGroup
	for i, addr := range addresses {
		wg.Add(1)
		go func() {
			defer wg.Done()
			images[i], errs[i] = l.LoadImage(context.Background(), addr)
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	assert.Equal(t, int64(1), acq.Stats().Started)
	assert.Equal(t, dir, images[0].MetaData.FrameOfReferenceUID)
	assert.Equal(t, images[0].MetaData.FrameOfReferenceUID, images[1].MetaData.FrameOfReferenceUID)

	axial := images[0]
	assert.Equal(t, 6, axial.Columns)
	assert.Equal(t, 5, axial.Rows)
	assert.Equal(t, int32(3+6*4+30*2), axial.Pixels[4*6+3])
	assert.Equal(t, len(axial.Pixels)*4, axial.SizeInBytes)
	assert.False(t, axial.Color)

	sagittal := images[1]
	assert.Equal(t, 5, sagittal.Columns)
	assert.Equal(t, 4, sagittal.Rows)
}

func TestProviderServesLoadedSlices(t *testing.T) {
	dir := writeStack(t, 3)
	l, _ := newLoader(t)
	address := "mpr:" + dir + "#orientation=coronal&index=0"

	_, ok := l.Provider()("voiLutModule", address)
	assert.False(t, ok)

	img, err := l.LoadImage(context.Background(), address)
	require.NoError(t, err)

	mod, ok := l.Provider()("voiLutModule", address)
	require.True(t, ok)
	assert.Equal(t, metadata.VOILUTModule{WindowCenter: img.WindowCenter, WindowWidth: img.WindowWidth}, mod)

	mod, ok = l.Provider()("imagePlane", address)
	require.True(t, ok)
	assert.Equal(t, dir, mod.(metadata.ImagePlaneModule).FrameOfReferenceUID)

	_, ok = l.Provider()("overlayPlaneModule", address)
	assert.False(t, ok)
}

func TestLoadHeaderThenImage(t *testing.T) {
	dir := writeStack(t, 3)
	l, acq := newLoader(t)
	address := "mpr:" + dir

	md, err := l.LoadHeader(context.Background(), address, true)
	require.NoError(t, err)
	assert.Equal(t, 6, md.Columns)
	assert.Equal(t, 3, md.NumberOfFrames)
	assert.Equal(t, 1, md.SliceIndex, "central plane by default")
	assert.Equal(t, 1, acq.Stats().Cache.HeaderOnly)

	_, ok := l.Provider()("multiFrameModule", address)
	assert.True(t, ok)

	img, err := l.LoadImage(context.Background(), address)
	require.NoError(t, err)
	assert.Equal(t, md.ImagePositionPatient, img.MetaData.ImagePositionPatient)

	st := acq.Stats().Cache
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, 1, st.Full)
}

func TestLoadErrors(t *testing.T) {
	l, _ := newLoader(t)

	var parseErr *models.ParseError
	_, err := l.LoadImage(context.Background(), "no scheme here")
	assert.ErrorAs(t, err, &parseErr)

	_, err = l.LoadImage(context.Background(), "dicom:/data/s1")
	assert.ErrorAs(t, err, &parseErr)

	_, err = l.LoadHeader(context.Background(), "mpr:/data/s1#index=x", false)
	assert.ErrorAs(t, err, &parseErr)

	var acqErr *models.AcquisitionError
	_, err = l.LoadImage(context.Background(), "mpr:"+filepath.Join(t.TempDir(), "missing"))
	assert.ErrorAs(t, err, &acqErr)
}

func TestResamplingError(t *testing.T) {
	dir := writeStack(t, 2)
	l, _ := newLoader(t)

	_, err := l.LoadImage(context.Background(), "mpr:"+dir+"#orientation=axial&position=0,0,500")
	var rsErr *models.ResamplingError
	assert.ErrorAs(t, err, &rsErr)
}

func TestEvents(t *testing.T) {
	dir := writeStack(t, 2)
	var mu sync.Mutex
	var events []Event
	l, _ := newLoader(t, WithEvents(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))

	address := "mpr:" + dir
	_, err := l.LoadImage(context.Background(), address)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, Event{Type: ImageLoadStart, ImageID: address}, events[0])
	assert.Equal(t, Event{Type: ImageLoadEnd, ImageID: address}, events[1])
}

type fakeHost struct {
	loaders   map[string]ImageLoadFunc
	providers []ProviderFunc
}

func (h *fakeHost) RegisterImageLoader(scheme string, load ImageLoadFunc) {
	h.loaders[scheme] = load
}

func (h *fakeHost) AddProvider(provide ProviderFunc) {
	h.providers = append(h.providers, provide)
}

func TestRegister(t *testing.T) {
	dir := writeStack(t, 2)
	l, _ := newLoader(t, WithScheme("vol"))
	host := &fakeHost{loaders: map[string]ImageLoadFunc{}}
	l.Register(host)

	require.Contains(t, host.loaders, "vol")
	require.Len(t, host.providers, 1)

	address := "vol:" + dir
	_, err := host.loaders["vol"](context.Background(), address)
	require.NoError(t, err)
	_, ok := host.providers[0]("functional", address)
	assert.True(t, ok)
}

type recordingConfigurer struct {
	headers map[string]string
}

func (c *recordingConfigurer) Configure(headers map[string]string) {
	for k, v := range headers {
		c.headers[k] = v
	}
}

func TestConfigureMergesHeaders(t *testing.T) {
	c := &recordingConfigurer{headers: map[string]string{"X-Existing": "1"}}
	l, _ := newLoader(t, WithConfigurer(c))

	l.Configure(Options{Headers: map[string]string{"Authorization": "Bearer t"}})
	l.Configure(Options{})
	assert.Equal(t, map[string]string{"X-Existing": "1", "Authorization": "Bearer t"}, c.headers)
}
