package fetch

import (
	"context"
	"strings"
)

// Router sends stack locations that are http(s) URLs to an HTTPFetcher and
// everything else to a FileFetcher.
type Router struct {
	File *FileFetcher
	HTTP *HTTPFetcher
}

// NewRouter creates a Router whose fetchers read headerBytes for header-only
// requests.
func NewRouter(headerBytes int) *Router {
	return &Router{
		File: NewFileFetcher(headerBytes),
		HTTP: NewHTTPFetcher(nil, headerBytes),
	}
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Stack lists the stack at filePath with the matching fetcher.
func (r *Router) Stack(ctx context.Context, filePath string) ([]byte, []string, error) {
	if isRemote(filePath) {
		return r.HTTP.Stack(ctx, filePath)
	}
	return r.File.Stack(ctx, filePath)
}

// Fetch reads address with the matching fetcher.
func (r *Router) Fetch(ctx context.Context, address string, headerOnly bool) ([]byte, error) {
	if isRemote(address) {
		return r.HTTP.Fetch(ctx, address, headerOnly)
	}
	return r.File.Fetch(ctx, address, headerOnly)
}

// Configure merges request headers into the HTTP fetcher.
func (r *Router) Configure(headers map[string]string) {
	r.HTTP.Configure(headers)
}
