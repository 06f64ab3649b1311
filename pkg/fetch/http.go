package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"mprslicer/pkg/stack"
)

// HTTPFetcher retrieves stacks from a web server. A stack location is a
// base URL holding stack.yaml; the manifest must list the images.
type HTTPFetcher struct {
	client      *http.Client
	headerBytes int

	mu      sync.RWMutex
	headers http.Header
}

// NewHTTPFetcher creates an HTTPFetcher. A nil client uses
// http.DefaultClient.
func NewHTTPFetcher(client *http.Client, headerBytes int) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if headerBytes <= 0 {
		headerBytes = DefaultHeaderBytes
	}
	return &HTTPFetcher{client: client, headerBytes: headerBytes, headers: make(http.Header)}
}

// Configure merges headers into the set sent with every request. Later
// values replace earlier ones with the same name.
func (f *HTTPFetcher) Configure(headers map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range headers {
		f.headers.Set(k, v)
	}
}

// Stack downloads the manifest at <filePath>/stack.yaml.
func (f *HTTPFetcher) Stack(ctx context.Context, filePath string) ([]byte, []string, error) {
	base := strings.TrimSuffix(filePath, "/")
	raw, err := f.get(ctx, base+"/"+stack.ManifestName, false)
	if err != nil {
		return nil, nil, err
	}

	m, err := stack.ParseManifest(raw)
	if err != nil {
		return nil, nil, err
	}
	if len(m.Images) == 0 {
		return nil, nil, fmt.Errorf("manifest at %s lists no images", base)
	}

	addrs := make([]string, len(m.Images))
	for i, name := range m.Images {
		if u, err := url.Parse(name); err == nil && u.IsAbs() {
			addrs[i] = name
		} else {
			addrs[i] = base + "/" + strings.TrimPrefix(name, "/")
		}
	}
	return raw, addrs, nil
}

// Fetch downloads address. Header-only requests ask for a byte range; a
// server that ignores it and sends the whole body is accepted too.
func (f *HTTPFetcher) Fetch(ctx context.Context, address string, headerOnly bool) ([]byte, error) {
	return f.get(ctx, address, headerOnly)
}

func (f *HTTPFetcher) get(ctx context.Context, address string, headerOnly bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	for k, vs := range f.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	f.mu.RUnlock()

	if headerOnly {
		req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", f.headerBytes-1))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("GET %s: %s", address, resp.Status)
	}

	body := io.Reader(resp.Body)
	if headerOnly {
		body = io.LimitReader(body, int64(f.headerBytes))
	}
	return io.ReadAll(body)
}
