// Package fetch provides byte-fetch collaborators that retrieve stack
// manifests and constituent images from the local file system or over HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"mprslicer/pkg/stack"
)

// DefaultHeaderBytes is the range read size used when none is configured.
// It covers the headers of common image formats with room to spare.
const DefaultHeaderBytes = 64 * 1024

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".raw": true, ".bin": true,
}

var compressionExtensions = map[string]bool{
	".gz": true, ".zst": true, ".lz4": true, ".sz": true,
}

// FileFetcher reads stacks from directories on the local file system.
type FileFetcher struct {
	// HeaderBytes is the number of leading bytes read for header-only
	// requests. Zero means DefaultHeaderBytes.
	HeaderBytes int
}

// NewFileFetcher creates a FileFetcher reading headerBytes for header-only
// requests.
func NewFileFetcher(headerBytes int) *FileFetcher {
	return &FileFetcher{HeaderBytes: headerBytes}
}

// Stack returns the manifest of the stack directory (nil if it has none)
// and the paths of its images in slice order. Without a manifest image
// list, the directory is listed and sorted by the number in each file name.
func (f *FileFetcher) Stack(ctx context.Context, filePath string) ([]byte, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	raw, err := os.ReadFile(filepath.Join(filePath, stack.ManifestName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("error reading stack manifest: %w", err)
	}

	m, err := stack.ParseManifest(raw)
	if err != nil {
		return nil, nil, err
	}
	if len(m.Images) > 0 {
		paths := make([]string, len(m.Images))
		for i, name := range m.Images {
			paths[i] = filepath.Join(filePath, name)
		}
		return raw, paths, nil
	}

	entries, err := os.ReadDir(filePath)
	if err != nil {
		return nil, nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !isImageFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, nil, fmt.Errorf("no slice images found in %s", filePath)
	}

	// Slices must stay in acquisition order, which file names usually
	// encode as a number.
	sort.SliceStable(names, func(i, j int) bool {
		ni, nj := extractNumber(names[i]), extractNumber(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(filePath, name)
	}
	return raw, paths, nil
}

// Fetch reads the file at address, or only its first HeaderBytes bytes
// when headerOnly is set.
func (f *FileFetcher) Fetch(ctx context.Context, address string, headerOnly bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !headerOnly {
		return os.ReadFile(address)
	}

	file, err := os.Open(address)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	n := f.HeaderBytes
	if n <= 0 {
		n = DefaultHeaderBytes
	}
	return io.ReadAll(io.LimitReader(file, int64(n)))
}

func isImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if compressionExtensions[ext] {
		ext = strings.ToLower(filepath.Ext(strings.TrimSuffix(name, filepath.Ext(name))))
	}
	return imageExtensions[ext]
}

// extractNumber returns the digits of a file name read as one number, or
// -1 when it has none.
func extractNumber(filename string) int {
	var digits strings.Builder
	for _, c := range filepath.Base(filename) {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return -1
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return -1
	}
	return n
}
