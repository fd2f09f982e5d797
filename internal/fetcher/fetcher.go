// Package fetcher downloads documents that are submitted by URL instead of
// by content.
package fetcher

import (
	"context"
	"net/url"
	"strings"
)

// Fetcher retrieves a remote document.
type Fetcher interface {
	// Fetch downloads rawURL completely. The body is bounded by the
	// fetcher's size limit.
	Fetch(ctx context.Context, rawURL string) (*Download, error)
}

// Download is a fetched document body with the metadata the server sent.
type Download struct {
	URL      string
	FileName string
	MimeType string
	ETag     string
	Content  []byte
}

// IsRemote reports whether s is an http or https URL.
func IsRemote(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	}
	return false
}
